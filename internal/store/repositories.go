package store

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/extension"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, username string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// AppPasswordRepository handles Basic Auth token storage.
type AppPasswordRepository interface {
	Create(ctx context.Context, token AppPassword) (*AppPassword, error)
	FindValidByUser(ctx context.Context, userID int64) ([]AppPassword, error)
	Revoke(ctx context.Context, id int64) error
	TouchLastUsed(ctx context.Context, id int64) error
}

// ContainerRepository manages calendars, address books and their shares.
type ContainerRepository interface {
	CreateCalendar(ctx context.Context, userID int64, name string) (*Calendar, error)
	CreateAddressBook(ctx context.Context, userID int64, name string) (*AddressBook, error)
	ShareCalendar(ctx context.Context, calendarID, userID int64, editor bool) error
	ShareAddressBook(ctx context.Context, addressBookID, userID int64, editor bool) error
}

// CalendarObjectRepository persists calendar objects as relational rows.
type CalendarObjectRepository interface {
	// Save replaces the object in rows and all of its children in one
	// transaction. It reports whether the object was created.
	Save(ctx context.Context, userID int64, rows *CalendarRows) (bool, error)
	DeleteByUID(ctx context.Context, userID, calendarID int64, uid string) error
	Load(ctx context.Context, userID int64, filter Filter) (*CalendarRows, error)
	// StreamAttachment copies stored attachment content to the writer
	// returned by open, which receives the attachment metadata first.
	StreamAttachment(ctx context.Context, userID int64, id uuid.UUID, open func(Attachment) (io.Writer, error)) error
}

// CardRepository persists cards as relational rows.
type CardRepository interface {
	// Save replaces the card in rows and its children. Extension rows are
	// purged only within scope; scope.CardID is filled in by Save.
	Save(ctx context.Context, userID int64, rows *CardRows, scope extension.PurgeScope) (bool, error)
	DeleteByUID(ctx context.Context, userID, addressBookID int64, uid string) error
	Load(ctx context.Context, userID int64, filter Filter) (*CardRows, error)
}

// Projection selects how much of an object a load returns.
type Projection int

const (
	// ProjectionFull loads parents and every child table.
	ProjectionFull Projection = iota
	// ProjectionMinimal loads parent rows only.
	ProjectionMinimal
)

// Filter selects objects of one container. Empty UIDs and FileNames select
// every object the caller can read.
type Filter struct {
	ContainerID int64
	UIDs        []string
	FileNames   []string
	Projection  Projection
	// WithContent loads attachment bytes instead of presence flags.
	WithContent bool
}
