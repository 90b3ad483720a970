package db

import (
	"context"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrUnknownFeed = errors.New("unknown feed")
	ErrUnknownItem = errors.New("unknown item")
)

type ErrorKind int

const (
	// KindIO covers every storage failure that is not a lock conflict
	KindIO ErrorKind = iota
	// KindWriteConflict means the database stayed locked past the busy timeout
	KindWriteConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindWriteConflict:
		return "write-conflict"
	default:
		return "io"
	}
}

// StoreError is returned for failed database operations. The transaction
// of the failed operation has been rolled back when it is returned.
type StoreError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// storeErr classifies err. Sentinel errors and context errors pass through unchanged.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownFeed) || errors.Is(err, ErrUnknownItem) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var existing *StoreError
	if errors.As(err, &existing) {
		return err
	}

	kind := KindIO
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			kind = KindWriteConflict
		}
	}

	return &StoreError{Kind: kind, Op: op, Err: err}
}
