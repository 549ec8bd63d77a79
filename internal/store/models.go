package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// User is a principal that authenticates with app passwords.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// AppPassword is a per-client credential for DAV access.
type AppPassword struct {
	ID         int64
	UserID     int64
	Label      string
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// Calendar is a collection of calendar objects owned by one user.
type Calendar struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
}

// AddressBook is a collection of cards owned by one user.
type AddressBook struct {
	ID        int64
	UserID    int64
	Name      string
	CreatedAt time.Time
}

// Component kinds stored in calendar_components.kind.
const (
	KindEvent = "VEVENT"
	KindToDo  = "VTODO"
)

// CalendarObject is one calendar resource: every component sharing a UID.
type CalendarObject struct {
	ID           uuid.UUID
	CalendarID   int64
	UID          string
	FileName     string
	ETag         string
	Timezones    *string
	CreatedAt    time.Time
	LastModified time.Time
}

// Component is a VEVENT or VTODO row. Start and end values hold the wall
// clock in the UTC location; the matching TZID column carries the kind.
type Component struct {
	ID        uuid.UUID
	ObjectID  uuid.UUID
	UID       string
	Kind      string
	SortIndex int

	RecurrenceID       *time.Time
	RecurrenceIDTZID   *string
	RecurrenceIDAllDay bool
	ThisAndFuture      bool

	DTStamp      *time.Time
	Created      *time.Time
	LastModified *time.Time

	Summary     *string
	Description *string
	Organizer   *string
	OrganizerCN *string
	Location    *string

	Start     *time.Time
	StartTZID *string
	AllDay    bool
	Duration  *string

	Class      *string
	Priority   *int
	Sequence   *int
	Status     *string
	Categories *string

	Rule  *RecurrenceRule
	Event *EventDetails
	ToDo  *ToDoDetails
}

// EventDetails holds the VEVENT-only columns.
type EventDetails struct {
	End          *time.Time
	EndTZID      *string
	EndAllDay    bool
	Transparency *string
}

// ToDoDetails holds the VTODO-only columns.
type ToDoDetails struct {
	Due             *time.Time
	DueTZID         *string
	DueAllDay       bool
	Completed       *time.Time
	PercentComplete *int
}

// RecurrenceRule is the decomposed RRULE of a component. The By* fields
// keep their comma separated column form.
type RecurrenceRule struct {
	Frequency  string
	Interval   *int
	Until      *time.Time
	Count      *int
	WeekStart  *string
	ByDay      *string
	ByMonthDay *string
	ByMonth    *string
	BySetPos   *string
}

// Exception is one EXDATE instance of a component.
type Exception struct {
	ID          uuid.UUID
	ObjectID    uuid.UUID
	ComponentID uuid.UUID
	UID         string
	Date        time.Time
	TZID        *string
	AllDay      bool
	SortIndex   int
}

// Alarm is one VALARM of a component.
type Alarm struct {
	ID                uuid.UUID
	ObjectID          uuid.UUID
	ComponentID       uuid.UUID
	UID               string
	Action            string
	TriggerRelative   *string
	TriggerRelatedEnd bool
	TriggerAbsolute   *time.Time
	Summary           *string
	Description       *string
	Duration          *string
	Repeat            *int
	SortIndex         int
}

// Attendee is one ATTENDEE of a component.
type Attendee struct {
	ID            uuid.UUID
	ObjectID      uuid.UUID
	ComponentID   uuid.UUID
	UID           string
	Address       string
	CommonName    *string
	Directory     *string
	Language      *string
	UserType      *string
	SentBy        *string
	DelegatedFrom *string
	DelegatedTo   *string
	RSVP          *bool
	Role          *string
	Status        *string
	SortIndex     int
}

// Attachment is one ATTACH of a component. Content is only populated when
// requested; HasContent reports whether the column holds bytes.
type Attachment struct {
	ID          uuid.UUID
	ObjectID    uuid.UUID
	ComponentID uuid.UUID
	UID         string
	MediaType   *string
	ExternalURL *string
	Content     []byte
	HasContent  bool
	SortIndex   int

	// CarryFrom names a stored attachment of the same object whose content
	// is copied into this row on save.
	CarryFrom *uuid.UUID
}

// CalendarExtension is one value or parameter row of the extension store.
// ParameterName is nil for value rows.
type CalendarExtension struct {
	ID            int64
	ObjectID      uuid.UUID
	ParentID      uuid.UUID
	UID           string
	PropertyName  string
	ParameterName *string
	Value         string
	SortIndex     int
}

// CalendarRows bundles calendar objects with every child row. The assembler
// produces one object; reads may return many.
type CalendarRows struct {
	Objects     []CalendarObject
	Components  []Component
	Exceptions  []Exception
	Alarms      []Alarm
	Attendees   []Attendee
	Attachments []Attachment
	Extensions  []CalendarExtension
}

// Card is one vCard resource.
type Card struct {
	ID            uuid.UUID
	AddressBookID int64
	UID           string
	FileName      string
	Version       string
	ETag          string
	LastModified  time.Time

	FormattedName   *string
	FamilyName      *string
	GivenName       *string
	AdditionalNames *string
	HonorificPrefix *string
	HonorificSuffix *string
	Nickname        *string

	Photo     *string
	PhotoType *string
	Logo      *string
	LogoType  *string
	Sound     *string
	SoundType *string

	Birthday         *time.Time
	BirthdayOmitYear bool
	Revision         *time.Time
	TimeZone         *string

	Title      *string
	Role       *string
	OrgName    *string
	OrgUnits   *string
	Categories *string
	Note       *string

	V3 mo.Option[Version3Features]
	V4 mo.Option[Version4Features]
}

// Version3Features holds columns only meaningful for vCard 2.1 and 3.0.
type Version3Features struct {
	SortString *string
	Class      *string
}

// Version4Features holds columns only meaningful for vCard 4.0.
type Version4Features struct {
	Kind           *string
	GenderSex      *string
	GenderIdentity *string
	Anniversary    *time.Time
}

// Email is one EMAIL of a card.
type Email struct {
	ID        uuid.UUID
	CardID    uuid.UUID
	UID       string
	Address   string
	Types     *string
	PrefLevel *int
	SortIndex int
}

// Address is one ADR of a card.
type Address struct {
	ID         uuid.UUID
	CardID     uuid.UUID
	UID        string
	POBox      *string
	Extended   *string
	Street     *string
	Locality   *string
	Region     *string
	PostalCode *string
	Country    *string
	Label      *string
	Types      *string
	PrefLevel  *int
	SortIndex  int
}

// InstantMessenger is one IMPP of a card.
type InstantMessenger struct {
	ID        uuid.UUID
	CardID    uuid.UUID
	UID       string
	URI       string
	Types     *string
	PrefLevel *int
	SortIndex int
}

// Telephone is one TEL of a card.
type Telephone struct {
	ID        uuid.UUID
	CardID    uuid.UUID
	UID       string
	Number    string
	Types     *string
	PrefLevel *int
	SortIndex int
}

// URL is one URL of a card.
type URL struct {
	ID        uuid.UUID
	CardID    uuid.UUID
	UID       string
	Address   string
	Types     *string
	PrefLevel *int
	SortIndex int
}

// CardExtension is one value or parameter row of the contact extension store.
type CardExtension struct {
	ID            int64
	CardID        uuid.UUID
	ParentID      uuid.UUID
	UID           string
	ClientAppName *string
	PropertyName  string
	ParameterName *string
	Value         string
	SortIndex     int
}

// CardRows bundles cards with every child row. ClientApp and
// ResentProperties describe the writer and only matter on save.
type CardRows struct {
	Cards      []Card
	Emails     []Email
	Addresses  []Address
	Messengers []InstantMessenger
	Telephones []Telephone
	URLs       []URL
	Extensions []CardExtension

	ClientApp        *string
	ResentProperties []string
}
