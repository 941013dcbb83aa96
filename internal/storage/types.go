package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStorageFailure classifies every error returned by a Store: the medium
	// could not be read or written.
	ErrStorageFailure = errors.New("storage failure")

	// ErrCorrupt marks stored data that exists but cannot be decoded. It is
	// never replaced by an empty result.
	ErrCorrupt = errors.New("snapshot corrupt")

	ErrClosed = errors.New("store closed")
)

// Error is the concrete error returned by Store methods. It matches
// ErrStorageFailure with errors.Is and unwraps to the driver error.
type Error struct {
	Op     string
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Source, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrStorageFailure }

func fail(op, source string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Source: source, Err: err}
}

func corrupt(op, source string, err error) error {
	return &Error{Op: op, Source: source, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
}

// Config configures storage.
//
// Driver values:
//   - "file": one indented JSON document (default)
//   - "sqlite": SQLite database file (pure Go driver)
//   - "postgres": PostgreSQL via a pgx pool
//   - "redis": one key per source
type Config struct {
	Driver string
	Path   string // file, sqlite

	BusyTimeout time.Duration // sqlite only; 0 means default

	DSN            string // postgres
	MaxConns       int32
	ConnectTimeout time.Duration

	Addr      string // redis
	Password  string
	DB        int
	KeyPrefix string
}
