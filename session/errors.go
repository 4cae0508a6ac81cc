package session

import (
	"errors"
	"fmt"

	"github.com/beyondbrewing/brewery-kmc/db"
)

// Sentinel errors for the session package.
var (
	ErrInvalidState    = errors.New("session: invalid state")
	ErrInvalidArgument = errors.New("session: invalid argument")
	ErrNotOpened       = errors.New("session: not opened")
)

// Store errors surfaced through sessions, re-exported so callers need not
// import db.
var (
	ErrFileNotFound    = db.ErrFileNotFound
	ErrDatabaseCorrupt = db.ErrDatabaseCorrupt
	ErrWrongMode       = db.ErrWrongMode
	ErrClosed          = db.ErrClosed
)

// OpenError reports a failed Open with the database path.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("session: open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}
