package soupparse

import (
	"errors"
	"fmt"
	"net/url"
)

// FetchError means the source could not be read or parsed. No entries are
// returned with it.
type FetchError struct {
	Source string
	Err    error
}

// NewFetchError wraps err for source, hiding URL credentials.
func NewFetchError(source string, err error) *FetchError {
	return &FetchError{Source: RedactSource(source), Err: err}
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsFetchError reports whether err carries a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// RedactSource hides URL credentials in s.
func RedactSource(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	return u.Redacted()
}
