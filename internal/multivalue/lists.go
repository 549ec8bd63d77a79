// Package multivalue maps repeatable properties to child rows and
// delimited columns, and back.
package multivalue

import (
	"cmp"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/scalar"
)

// Owner identifies the calendar component that child rows belong to.
type Owner struct {
	ObjectID    uuid.UUID
	ComponentID uuid.UUID
	UID         string
	NewID       func() uuid.UUID
}

// CardOwner identifies the card that child rows belong to.
type CardOwner struct {
	CardID  uuid.UUID
	UID     string
	Version string
	NewID   func() uuid.UUID
}

// SplitUnescaped splits s on sep, ignoring separators preceded by a backslash.
// Escapes are kept in the returned parts.
func SplitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == sep:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

// JoinGroups stores repeated list properties in one column: each group is a
// raw comma separated value and groups are separated by semicolons.
func JoinGroups(groups []string) *string {
	if len(groups) == 0 {
		return nil
	}
	escaped := make([]string, len(groups))
	for i, g := range groups {
		escaped[i] = escapeBare(g, ';')
	}
	joined := strings.Join(escaped, ";")
	return &joined
}

// SplitGroups reverses JoinGroups.
func SplitGroups(col *string) []string {
	if col == nil {
		return nil
	}
	return SplitUnescaped(*col, ';')
}

// JoinList stores a TYPE style list in one comma separated column.
func JoinList(values []string) *string {
	var kept []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	joined := strings.Join(kept, ",")
	return &joined
}

// SplitList reverses JoinList.
func SplitList(col *string) []string {
	if col == nil || *col == "" {
		return nil
	}
	return strings.Split(*col, ",")
}

// SplitStructured splits a structured TEXT value such as N or ADR into its
// unescaped components.
func SplitStructured(value string) []string {
	parts := SplitUnescaped(value, ';')
	for i, p := range parts {
		parts[i] = scalar.UnescapeText(p)
	}
	return parts
}

// JoinStructured escapes and joins structured TEXT components.
func JoinStructured(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = scalar.EscapeText(p)
	}
	return strings.Join(escaped, ";")
}

// SortBy orders rows by their SortIndex, keeping ties stable.
func SortBy[T any](rows []T, index func(T) int) {
	slices.SortStableFunc(rows, func(a, b T) int {
		return cmp.Compare(index(a), index(b))
	})
}

func escapeBare(s string, sep byte) string {
	if !strings.ContainsRune(s, rune(sep)) {
		return s
	}
	var b strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func firstParam(values []string) *string {
	for _, v := range values {
		if p := nonEmpty(v); p != nil {
			return p
		}
	}
	return nil
}
