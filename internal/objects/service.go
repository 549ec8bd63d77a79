// Package objects implements resource level operations on calendar objects
// and cards: decode, decompose, persist and rebuild.
package objects

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/extension"
	"github.com/jw6ventures/calstore/internal/mapping"
	"github.com/jw6ventures/calstore/internal/metrics"
	"github.com/jw6ventures/calstore/internal/schedule"
	"github.com/jw6ventures/calstore/internal/store"
)

var (
	// ErrPreconditionFailed reports an If-Match or If-None-Match mismatch.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrUIDConflict reports a write whose resource name is already taken by
	// an object with another UID, or whose UID is stored under another
	// resource name.
	ErrUIDConflict = errors.New("UID conflicts with another resource")
)

// Service reads and writes calendar objects and cards for a principal.
type Service struct {
	calendars store.CalendarObjectRepository
	cards     store.CardRepository
	notifier  schedule.Notifier
	productID string
	logger    *slog.Logger

	// AttachmentHref renders the download URL of stored attachment content.
	AttachmentHref func(calendarID int64, id uuid.UUID) string

	now   func() time.Time
	newID func() uuid.UUID
}

// NewService wires a service. A nil notifier disables scheduling messages
// and a nil logger uses the default one.
func NewService(calendars store.CalendarObjectRepository, cards store.CardRepository, notifier schedule.Notifier, productID string, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = schedule.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		calendars: calendars,
		cards:     cards,
		notifier:  notifier,
		productID: productID,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.New,
	}
}

// Conditions carries the conditional request headers of a write.
type Conditions struct {
	IfMatch     string
	IfNoneMatch string
}

// check applies the conditions to the stored ETag, empty when the resource
// does not exist.
func (c Conditions) check(current string) error {
	if c.IfNoneMatch == "*" {
		if current != "" {
			return ErrPreconditionFailed
		}
		return nil
	}
	if c.IfMatch != "" {
		if current == "" || (c.IfMatch != "*" && !etagListContains(c.IfMatch, current)) {
			return ErrPreconditionFailed
		}
		return nil
	}
	if c.IfNoneMatch != "" && current != "" && etagListContains(c.IfNoneMatch, current) {
		return ErrPreconditionFailed
	}
	return nil
}

func etagListContains(header, etag string) bool {
	want := strings.Trim(etag, `"`)
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "W/")
		if strings.Trim(tag, `"`) == want {
			return true
		}
	}
	return false
}

// Write is one resource write.
type Write struct {
	UserID      int64
	ContainerID int64
	FileName    string
	Body        []byte
	UserAgent   string
	Conditions  Conditions
}

// Result describes a stored resource.
type Result struct {
	ETag    string
	Created bool
}

// Resource is a rendered resource.
type Resource struct {
	Body         []byte
	ETag         string
	LastModified time.Time
}

// ETag returns the strong entity tag of a request body.
func ETag(body []byte) string {
	return fmt.Sprintf(`"%x"`, sha256.Sum256(body))
}

func (s *Service) writeContext(w Write) mapping.WriteContext {
	return mapping.WriteContext{
		ContainerID: w.ContainerID,
		FileName:    w.FileName,
		ETag:        ETag(w.Body),
		ClientApp:   extension.ClientAppFromUserAgent(w.UserAgent),
		FallbackUID: strings.TrimSuffix(w.FileName, path.Ext(w.FileName)),
		Now:         s.now().UTC(),
		NewID:       s.newID,
	}
}

// PutCalendar stores one calendar object. Objects with attendees are
// announced to the notifier after the commit; a failed notification does
// not fail the write.
func (s *Service) PutCalendar(ctx context.Context, w Write) (Result, error) {
	cal, err := mapping.DecodeCalendar(w.Body)
	if err != nil {
		return Result{}, err
	}
	wc := s.writeContext(w)
	rows, err := mapping.AssembleCalendar(cal, wc)
	if err != nil {
		return Result{}, err
	}
	metrics.ObserveAssembled("calendar")

	etag, err := s.currentCalendarETag(ctx, w, rows.Objects[0].UID)
	if err != nil {
		return Result{}, err
	}
	if err := w.Conditions.check(etag); err != nil {
		return Result{}, err
	}

	created, err := s.calendars.Save(ctx, w.UserID, rows)
	if err != nil {
		return Result{}, err
	}
	s.announce(ctx, schedule.MethodRequest, rows)
	return Result{ETag: wc.ETag, Created: created}, nil
}

// currentCalendarETag returns the stored ETag of the written resource, empty
// when it does not exist yet.
func (s *Service) currentCalendarETag(ctx context.Context, w Write, uid string) (string, error) {
	byName, err := s.calendars.Load(ctx, w.UserID, store.Filter{
		ContainerID: w.ContainerID,
		FileNames:   []string{w.FileName},
		Projection:  store.ProjectionMinimal,
	})
	if err != nil {
		return "", err
	}
	if len(byName.Objects) > 0 {
		if byName.Objects[0].UID != uid {
			return "", ErrUIDConflict
		}
		return byName.Objects[0].ETag, nil
	}
	byUID, err := s.calendars.Load(ctx, w.UserID, store.Filter{
		ContainerID: w.ContainerID,
		UIDs:        []string{uid},
		Projection:  store.ProjectionMinimal,
	})
	if err != nil {
		return "", err
	}
	if len(byUID.Objects) > 0 {
		return "", ErrUIDConflict
	}
	return "", nil
}

func (s *Service) announce(ctx context.Context, method string, rows *store.CalendarRows) {
	msg, ok := schedule.MessageFromRows(method, rows)
	if !ok {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		metrics.ObserveNotification("failed")
		s.logger.WarnContext(ctx, "scheduling notification failed", "calendar_id", msg.CalendarID, "uid", msg.UID, "method", method, "error", err)
	}
}

func (s *Service) readOptions(calendarID int64) mapping.ReadOptions {
	opts := mapping.ReadOptions{ProductID: s.productID}
	if s.AttachmentHref != nil {
		opts.AttachmentHref = func(a store.Attachment) string {
			return s.AttachmentHref(calendarID, a.ID)
		}
	}
	return opts
}

// GetCalendar renders one calendar object.
func (s *Service) GetCalendar(ctx context.Context, userID, calendarID int64, fileName string) (*Resource, error) {
	rows, err := s.calendars.Load(ctx, userID, store.Filter{ContainerID: calendarID, FileNames: []string{fileName}})
	if err != nil {
		return nil, err
	}
	if len(rows.Objects) == 0 {
		return nil, store.ErrNotFound
	}
	cals, err := mapping.MaterializeCalendars(rows, s.readOptions(calendarID))
	if err != nil {
		return nil, err
	}
	body, err := mapping.EncodeCalendar(cals[0].Calendar)
	if err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	obj := cals[0].Object
	return &Resource{Body: body, ETag: obj.ETag, LastModified: obj.LastModified}, nil
}

// ExportCalendar renders every readable object of a calendar as one
// VCALENDAR. Attachment content is referenced, never inlined.
func (s *Service) ExportCalendar(ctx context.Context, userID, calendarID int64) ([]byte, error) {
	rows, err := s.calendars.Load(ctx, userID, store.Filter{ContainerID: calendarID})
	if err != nil {
		return nil, err
	}
	cals, err := mapping.MaterializeCalendars(rows, s.readOptions(calendarID))
	if err != nil {
		return nil, err
	}
	body, err := mapping.EncodeCalendar(mapping.MergeCalendars(cals, s.productID))
	if err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return body, nil
}

// DeleteCalendar removes one calendar object and announces the
// cancellation to its attendees.
func (s *Service) DeleteCalendar(ctx context.Context, userID, calendarID int64, fileName string, cond Conditions) error {
	rows, err := s.calendars.Load(ctx, userID, store.Filter{ContainerID: calendarID, FileNames: []string{fileName}})
	if err != nil {
		return err
	}
	if len(rows.Objects) == 0 {
		return store.ErrNotFoundOrForbidden
	}
	obj := rows.Objects[0]
	if err := cond.check(obj.ETag); err != nil {
		return err
	}
	if err := s.calendars.DeleteByUID(ctx, userID, calendarID, obj.UID); err != nil {
		return err
	}
	s.announce(ctx, schedule.MethodCancel, rows)
	return nil
}

// StreamAttachment copies stored attachment content to the writer open
// returns.
func (s *Service) StreamAttachment(ctx context.Context, userID int64, id uuid.UUID, open func(store.Attachment) (io.Writer, error)) error {
	return s.calendars.StreamAttachment(ctx, userID, id, open)
}

// PutCard stores one card. Contact extensions written by other client
// applications survive unless this write resends the same property.
func (s *Service) PutCard(ctx context.Context, w Write) (Result, error) {
	card, err := mapping.DecodeCard(w.Body)
	if err != nil {
		return Result{}, err
	}
	wc := s.writeContext(w)
	rows, err := mapping.AssembleCard(card, wc)
	if err != nil {
		return Result{}, err
	}
	metrics.ObserveAssembled("card")

	etag, err := s.currentCardETag(ctx, w, rows.Cards[0].UID)
	if err != nil {
		return Result{}, err
	}
	if err := w.Conditions.check(etag); err != nil {
		return Result{}, err
	}

	scope := extension.PurgeScope{ClientApp: rows.ClientApp, ResentProperties: rows.ResentProperties}
	created, err := s.cards.Save(ctx, w.UserID, rows, scope)
	if err != nil {
		return Result{}, err
	}
	return Result{ETag: wc.ETag, Created: created}, nil
}

func (s *Service) currentCardETag(ctx context.Context, w Write, uid string) (string, error) {
	byName, err := s.cards.Load(ctx, w.UserID, store.Filter{
		ContainerID: w.ContainerID,
		FileNames:   []string{w.FileName},
		Projection:  store.ProjectionMinimal,
	})
	if err != nil {
		return "", err
	}
	if len(byName.Cards) > 0 {
		if byName.Cards[0].UID != uid {
			return "", ErrUIDConflict
		}
		return byName.Cards[0].ETag, nil
	}
	byUID, err := s.cards.Load(ctx, w.UserID, store.Filter{
		ContainerID: w.ContainerID,
		UIDs:        []string{uid},
		Projection:  store.ProjectionMinimal,
	})
	if err != nil {
		return "", err
	}
	if len(byUID.Cards) > 0 {
		return "", ErrUIDConflict
	}
	return "", nil
}

// GetCard renders one card in the version it was written with.
func (s *Service) GetCard(ctx context.Context, userID, addressBookID int64, fileName string) (*Resource, error) {
	rows, err := s.cards.Load(ctx, userID, store.Filter{ContainerID: addressBookID, FileNames: []string{fileName}})
	if err != nil {
		return nil, err
	}
	cards := mapping.MaterializeCards(rows)
	if len(cards) == 0 {
		return nil, store.ErrNotFound
	}
	body, err := mapping.EncodeCards(cards[0].VCard)
	if err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	c := cards[0].Card
	return &Resource{Body: body, ETag: c.ETag, LastModified: c.LastModified}, nil
}

// ExportCards renders every readable card of an address book.
func (s *Service) ExportCards(ctx context.Context, userID, addressBookID int64) ([]byte, error) {
	rows, err := s.cards.Load(ctx, userID, store.Filter{ContainerID: addressBookID})
	if err != nil {
		return nil, err
	}
	materialized := mapping.MaterializeCards(rows)
	cards := make([]vcard.Card, 0, len(materialized))
	for _, m := range materialized {
		cards = append(cards, m.VCard)
	}
	body, err := mapping.EncodeCards(cards...)
	if err != nil {
		return nil, fmt.Errorf("encode cards: %w", err)
	}
	return body, nil
}

// DeleteCard removes one card.
func (s *Service) DeleteCard(ctx context.Context, userID, addressBookID int64, fileName string, cond Conditions) error {
	rows, err := s.cards.Load(ctx, userID, store.Filter{
		ContainerID: addressBookID,
		FileNames:   []string{fileName},
		Projection:  store.ProjectionMinimal,
	})
	if err != nil {
		return err
	}
	if len(rows.Cards) == 0 {
		return store.ErrNotFoundOrForbidden
	}
	if err := cond.check(rows.Cards[0].ETag); err != nil {
		return err
	}
	return s.cards.DeleteByUID(ctx, userID, addressBookID, rows.Cards[0].UID)
}
