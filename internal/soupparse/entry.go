package soupparse

// Entry is one extracted record: field name to value.
type Entry map[string]string

// Valid reports whether the entry carries every field in required. The
// mandatory title and url must also be non-empty; other required fields
// only need to be present, so an empty regex match still counts.
func (e Entry) Valid(required []string) bool {
	for _, name := range required {
		if _, ok := e[name]; !ok {
			return false
		}
	}
	return e[FieldTitle] != "" && e[FieldURL] != ""
}

// Clone returns an independent copy.
func (e Entry) Clone() Entry {
	out := make(Entry, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}
