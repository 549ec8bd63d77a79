package objects

import (
	"cmp"
	"context"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/extension"
	"github.com/jw6ventures/calstore/internal/store"
)

type objectKey struct {
	container int64
	uid       string
}

// memoryStore keeps whole row sets per object and enforces write access
// the way the database predicates do.
type memoryStore struct {
	mu        sync.Mutex
	writable  map[int64]bool
	calendars map[objectKey]*store.CalendarRows
	cards     map[objectKey]*store.CardRows
}

func newMemoryStore(writable ...int64) *memoryStore {
	m := &memoryStore{
		writable:  make(map[int64]bool),
		calendars: make(map[objectKey]*store.CalendarRows),
		cards:     make(map[objectKey]*store.CardRows),
	}
	for _, id := range writable {
		m.writable[id] = true
	}
	return m
}

type memoryCalendars struct{ *memoryStore }

type memoryCards struct{ *memoryStore }

func (m memoryCalendars) Save(_ context.Context, _ int64, rows *store.CalendarRows) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj := rows.Objects[0]
	if !m.writable[obj.CalendarID] {
		return false, store.ErrNotFoundOrForbidden
	}
	key := objectKey{obj.CalendarID, obj.UID}
	_, exists := m.calendars[key]
	m.calendars[key] = rows
	return !exists, nil
}

func (m memoryCalendars) DeleteByUID(_ context.Context, _ int64, calendarID int64, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := objectKey{calendarID, uid}
	if _, ok := m.calendars[key]; !ok || !m.writable[calendarID] {
		return store.ErrNotFoundOrForbidden
	}
	delete(m.calendars, key)
	return nil
}

func matchesFilter(f store.Filter, container int64, uid, fileName string) bool {
	if container != f.ContainerID {
		return false
	}
	if len(f.UIDs) > 0 && !slices.Contains(f.UIDs, uid) {
		return false
	}
	return len(f.FileNames) == 0 || slices.Contains(f.FileNames, fileName)
}

func (m memoryCalendars) Load(_ context.Context, _ int64, f store.Filter) (*store.CalendarRows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &store.CalendarRows{}
	for _, rows := range m.calendars {
		obj := rows.Objects[0]
		if !matchesFilter(f, obj.CalendarID, obj.UID, obj.FileName) {
			continue
		}
		out.Objects = append(out.Objects, obj)
		if f.Projection == store.ProjectionMinimal {
			continue
		}
		out.Components = append(out.Components, rows.Components...)
		out.Exceptions = append(out.Exceptions, rows.Exceptions...)
		out.Alarms = append(out.Alarms, rows.Alarms...)
		out.Attendees = append(out.Attendees, rows.Attendees...)
		for _, a := range rows.Attachments {
			if !f.WithContent {
				a.Content = nil
			}
			out.Attachments = append(out.Attachments, a)
		}
		out.Extensions = append(out.Extensions, rows.Extensions...)
	}
	slices.SortFunc(out.Objects, func(a, b store.CalendarObject) int {
		return cmp.Compare(a.FileName, b.FileName)
	})
	return out, nil
}

func (m memoryCalendars) StreamAttachment(_ context.Context, _ int64, id uuid.UUID, open func(store.Attachment) (io.Writer, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rows := range m.calendars {
		for _, a := range rows.Attachments {
			if a.ID != id || !a.HasContent {
				continue
			}
			w, err := open(a)
			if err != nil {
				return err
			}
			_, err = w.Write(a.Content)
			return err
		}
	}
	return store.ErrNotFound
}

func (m memoryCards) Save(_ context.Context, _ int64, rows *store.CardRows, scope extension.PurgeScope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	card := rows.Cards[0]
	if !m.writable[card.AddressBookID] {
		return false, store.ErrNotFoundOrForbidden
	}
	key := objectKey{card.AddressBookID, card.UID}
	existing, exists := m.cards[key]
	if !exists {
		m.cards[key] = rows
		return true, nil
	}

	stored := existing.Cards[0].ID
	rebindCard(rows, card.ID, stored)
	scope.CardID = stored
	for _, e := range existing.Extensions {
		if !scope.Matches(e.ParentID, e.ClientAppName, e.PropertyName) {
			rows.Extensions = append(rows.Extensions, e)
		}
	}
	m.cards[key] = rows
	return false, nil
}

func rebindCard(rows *store.CardRows, from, to uuid.UUID) {
	rows.Cards[0].ID = to
	for i := range rows.Emails {
		rows.Emails[i].CardID = to
	}
	for i := range rows.Addresses {
		rows.Addresses[i].CardID = to
	}
	for i := range rows.Messengers {
		rows.Messengers[i].CardID = to
	}
	for i := range rows.Telephones {
		rows.Telephones[i].CardID = to
	}
	for i := range rows.URLs {
		rows.URLs[i].CardID = to
	}
	for i := range rows.Extensions {
		rows.Extensions[i].CardID = to
		if rows.Extensions[i].ParentID == from {
			rows.Extensions[i].ParentID = to
		}
	}
}

func (m memoryCards) DeleteByUID(_ context.Context, _ int64, addressBookID int64, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := objectKey{addressBookID, uid}
	if _, ok := m.cards[key]; !ok || !m.writable[addressBookID] {
		return store.ErrNotFoundOrForbidden
	}
	delete(m.cards, key)
	return nil
}

func (m memoryCards) Load(_ context.Context, _ int64, f store.Filter) (*store.CardRows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &store.CardRows{}
	for _, rows := range m.cards {
		card := rows.Cards[0]
		if !matchesFilter(f, card.AddressBookID, card.UID, card.FileName) {
			continue
		}
		out.Cards = append(out.Cards, card)
		if f.Projection == store.ProjectionMinimal {
			continue
		}
		out.Emails = append(out.Emails, rows.Emails...)
		out.Addresses = append(out.Addresses, rows.Addresses...)
		out.Messengers = append(out.Messengers, rows.Messengers...)
		out.Telephones = append(out.Telephones, rows.Telephones...)
		out.URLs = append(out.URLs, rows.URLs...)
		out.Extensions = append(out.Extensions, rows.Extensions...)
	}
	slices.SortFunc(out.Cards, func(a, b store.Card) int {
		return cmp.Compare(a.FileName, b.FileName)
	})
	return out, nil
}
