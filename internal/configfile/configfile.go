// Package configfile reads layered config files: <name>.<ext> with an
// optional <name>.local.<ext> merged over it, plus .env files.
package configfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"feedinput/internal/logger"
)

// ErrUnsupportedFormat is returned for extensions other than yaml, yml,
// json and json5.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// LocalPath returns the override path for name: a.yaml -> a.local.yaml.
func LocalPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// Load decodes name into T and merges <name>.local.<ext> over it when
// present. Unknown keys are rejected in both files. At least one of the two
// must exist, otherwise the error wraps os.ErrNotExist.
func Load[T any](name string, log logger.Logger) (T, error) {
	var out T
	if log == nil {
		log = logger.NewNop()
	}

	found := false
	base, err := readOptional(name)
	if err != nil {
		return out, err
	}
	if base != nil {
		if err := Decode(name, base, &out); err != nil {
			return out, err
		}
		found = true
	}

	local := LocalPath(name)
	over, err := readOptional(local)
	if err != nil {
		return out, err
	}
	if over != nil {
		var override T
		if err := Decode(local, over, &override); err != nil {
			return out, err
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("merge %s: %w", local, err)
		}
		log.Info("merged local config overrides", logger.String("local", local))
		found = true
	}

	if !found {
		return out, fmt.Errorf("config %s: %w", name, os.ErrNotExist)
	}
	return out, nil
}

func readOptional(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Decode strictly decodes data into out, picking the format from the
// extension of name. JSON5 documents are normalized to plain JSON first so
// types with custom JSON unmarshalers decode the same way from both.
func Decode(name string, data []byte, out any) error {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil

	case ".json", ".json5":
		var generic any
		if err := json5.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		plain, err := json.Marshal(generic)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		dec := json.NewDecoder(bytes.NewReader(plain))
		dec.DisallowUnknownFields()
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil

	default:
		return fmt.Errorf("%w %q", ErrUnsupportedFormat, ext)
	}
}

// LoadEnv loads .env.local and .env from dir into the process environment.
// Variables already set win, so .env.local overrides .env. Missing files
// are skipped.
func LoadEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}
