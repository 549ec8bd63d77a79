// Package scalar converts single iCalendar and vCard values to and from
// their column representation.
package scalar

import (
	"errors"
	"fmt"
)

// ErrInvalidValue is wrapped by every parse failure in this package.
var ErrInvalidValue = errors.New("invalid value")

// ValueError describes a value that could not be parsed.
type ValueError struct {
	Value  string
	Reason string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("invalid value %q: %s", e.Value, e.Reason)
}

func (e *ValueError) Unwrap() error {
	return ErrInvalidValue
}

func invalid(value, reason string) error {
	return &ValueError{Value: value, Reason: reason}
}
