package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrTargetExists means the target path holds something other than an
	// identical copy of the source. Stash never overwrites it.
	ErrTargetExists = errors.New("target exists")
	// ErrUnreadable means the source file cannot be opened for reading.
	ErrUnreadable = errors.New("source not readable")
	// ErrSizeMismatch means the written file does not have the size the
	// walker observed.
	ErrSizeMismatch = errors.New("size mismatch after copy")
	// ErrVerifyMismatch means the written file's BLAKE3 digest differs
	// from the source's.
	ErrVerifyMismatch = errors.New("checksum mismatch after copy")
	// ErrSourceChanged means the source's size or mtime moved on after
	// the walk, so a copy of it is not a copy of what was planned.
	ErrSourceChanged = errors.New("source changed since scan")
)

// ConfigError is a setup failure detected before any traversal begins.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
