// Package mapping turns parsed iCalendar and vCard trees into relational
// rows and rebuilds the trees from rows.
package mapping

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrValidation reports content that is structurally wrong or holds an
	// unparseable value.
	ErrValidation = errors.New("validation failed")
	// ErrUnsupportedInput reports content with nothing this store can hold.
	ErrUnsupportedInput = errors.New("unsupported input")
)

// MaxUIDLength bounds UIDs in bytes. UIDs are compared case-sensitively.
const MaxUIDLength = 1024

// ValidationError names the property that failed.
type ValidationError struct {
	Property string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Property, e.Err)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validation(property string, err error) error {
	return &ValidationError{Property: property, Err: err}
}

// WriteContext carries the values an assembled object needs besides its
// content.
type WriteContext struct {
	ContainerID int64
	FileName    string
	ETag        string
	// ClientApp identifies the writing application for contact extensions.
	ClientApp *string
	// FallbackUID is used for cards that carry no UID.
	FallbackUID string
	Now         time.Time
	NewID       func() uuid.UUID
}

func (wc WriteContext) newID() uuid.UUID {
	if wc.NewID != nil {
		return wc.NewID()
	}
	return uuid.New()
}

func checkUID(uid string) error {
	switch {
	case uid == "":
		return validation("UID", errors.New("missing UID"))
	case len(uid) > MaxUIDLength:
		return validation("UID", fmt.Errorf("UID longer than %d bytes", MaxUIDLength))
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
