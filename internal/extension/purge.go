package extension

import (
	"slices"

	"github.com/google/uuid"
)

// PurgeScope selects the contact extension rows a card write replaces. Rows
// written by other client applications for the card itself survive unless
// the writer resent the same property name.
type PurgeScope struct {
	CardID           uuid.UUID
	ClientApp        *string
	ResentProperties []string
}

// Matches reports whether a stored row falls inside the scope. It mirrors
// the predicate of the card save statement.
func (s PurgeScope) Matches(parentID uuid.UUID, clientApp *string, propertyName string) bool {
	switch {
	case parentID != s.CardID:
		// child rows are recreated on every write
		return true
	case clientApp == nil:
		return true
	case s.ClientApp != nil && *clientApp == *s.ClientApp:
		return true
	default:
		return slices.Contains(s.ResentProperties, propertyName)
	}
}
