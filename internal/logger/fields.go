package logger

import (
	"time"

	"go.uber.org/zap"
)

func String(key, val string) Field { return zap.String(key, val) }

func Strings(key string, val []string) Field { return zap.Strings(key, val) }

func Int(key string, val int) Field { return zap.Int(key, val) }

func Int64(key string, val int64) Field { return zap.Int64(key, val) }

func Bool(key string, val bool) Field { return zap.Bool(key, val) }

func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }

// Error logs err under the "error" key.
func Error(err error) Field { return zap.Error(err) }

// Any falls back to reflection; prefer the typed constructors.
func Any(key string, val any) Field { return zap.Any(key, val) }

// Common keys.
const (
	KeySource  = "source"
	KeyField   = "field"
	KeySection = "section"
	KeyReason  = "reason"
	KeyURL     = "url"
	KeyStatus  = "status"
)
