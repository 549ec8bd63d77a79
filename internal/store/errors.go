package store

import "errors"

// ErrNotFound indicates a missing or unreadable resource lookup.
var ErrNotFound = errors.New("record not found")

// ErrNotFoundOrForbidden is returned when a write or delete matches no rows.
// Missing objects and objects in containers the caller cannot write are
// reported identically.
var ErrNotFoundOrForbidden = errors.New("record not found or not writable")
