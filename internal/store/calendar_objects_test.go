package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func sampleCalendarRows() *CalendarRows {
	objID := uuid.New()
	compID := uuid.New()
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	tz := "Europe/Berlin"
	summary := "Standup"
	return &CalendarRows{
		Objects: []CalendarObject{{ID: objID, CalendarID: 5, UID: "standup", FileName: "standup.ics", ETag: `"e1"`}},
		Components: []Component{{
			ID: compID, ObjectID: objID, UID: "standup", Kind: KindEvent,
			Start: &start, StartTZID: &tz, Summary: &summary,
			Rule:  &RecurrenceRule{Frequency: "DAILY"},
			Event: &EventDetails{},
		}},
		Attendees: []Attendee{{ID: uuid.New(), ObjectID: objID, ComponentID: compID, UID: "standup", Address: "mailto:bob@example.com"}},
		Extensions: []CalendarExtension{
			{ObjectID: objID, ParentID: objID, UID: "standup", PropertyName: "X-WR-CALNAME", Value: "Team"},
		},
	}
}

func writableQuery(ok bool) queryExpectation {
	return queryExpectation{expect: regexp.MustCompile(`SELECT EXISTS \(SELECT 1 FROM calendars w`), value: ok}
}

func queuedSQL(tx *mockTx) []string {
	var out []string
	for _, q := range tx.queued() {
		out = append(out, q.SQL)
	}
	return out
}

func TestSaveCalendarObjectCreates(t *testing.T) {
	rows := sampleCalendarRows()
	obj := rows.Objects[0]
	tx := &mockTx{
		queries: []queryExpectation{
			writableQuery(true),
			{expect: regexp.MustCompile("SELECT id FROM calendar_objects WHERE calendar_id=\\$1 AND uid=\\$2"), args: []any{int64(5), "standup"}, err: pgx.ErrNoRows},
		},
		execs: []execExpectation{
			{expect: regexp.MustCompile("INSERT INTO calendar_objects"), args: []any{obj.ID, int64(5), "standup", "standup.ics", `"e1"`, nil, nil, nil}},
		},
	}
	pool := &mockPool{t: t, txs: []*mockTx{tx}}
	s := newStore(pool)

	created, err := s.CalendarObjects.Save(context.Background(), 1, rows)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if !created {
		t.Fatalf("expected object to be reported as created")
	}
	tx.assertDone()
	if !tx.committed {
		t.Fatalf("expected commit")
	}

	sql := queuedSQL(tx)
	if len(sql) != 3 {
		t.Fatalf("expected 3 queued statements, got %d: %v", len(sql), sql)
	}
	for _, q := range sql {
		if strings.HasPrefix(q, "DELETE") {
			t.Fatalf("new object must not purge rows: %s", q)
		}
	}
	if !strings.Contains(sql[0], "INSERT INTO calendar_components") {
		t.Fatalf("components must be written first, got %s", sql[0])
	}
	args := tx.queued()[0].Arguments
	if freq, ok := args[26].(*string); !ok || freq == nil || *freq != "DAILY" {
		t.Fatalf("rrule frequency not bound, got %v", args[26])
	}
}

func TestSaveCalendarObjectForbidden(t *testing.T) {
	tx := &mockTx{queries: []queryExpectation{writableQuery(false)}}
	pool := &mockPool{t: t, txs: []*mockTx{tx}}
	s := newStore(pool)

	_, err := s.CalendarObjects.Save(context.Background(), 2, sampleCalendarRows())
	if !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Fatalf("expected ErrNotFoundOrForbidden, got %v", err)
	}
	tx.assertDone()
	if tx.committed || !tx.rolled {
		t.Fatalf("expected rollback without commit")
	}
	if len(tx.batches) != 0 {
		t.Fatalf("no rows may be written on a forbidden save")
	}
}

func TestSaveCalendarObjectReplacesExisting(t *testing.T) {
	rows := sampleCalendarRows()
	existing := uuid.New()
	tx := &mockTx{
		queries: []queryExpectation{
			writableQuery(true),
			{expect: regexp.MustCompile("SELECT id FROM calendar_objects"), value: existing},
		},
		execs: []execExpectation{
			{expect: regexp.MustCompile("UPDATE calendar_objects SET"), args: []any{existing, "standup.ics", `"e1"`, nil, nil}},
		},
	}
	pool := &mockPool{t: t, txs: []*mockTx{tx}}
	s := newStore(pool)

	created, err := s.CalendarObjects.Save(context.Background(), 1, rows)
	if err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if created {
		t.Fatalf("expected replacement, not creation")
	}
	tx.assertDone()

	queued := tx.queued()
	if len(queued) != 5 {
		t.Fatalf("expected 2 deletes and 3 inserts, got %d", len(queued))
	}
	if !strings.HasPrefix(queued[0].SQL, "DELETE FROM calendar_extensions") || queued[0].Arguments[0] != existing {
		t.Fatalf("unexpected first statement %s %v", queued[0].SQL, queued[0].Arguments)
	}
	if !strings.HasPrefix(queued[1].SQL, "DELETE FROM calendar_components") {
		t.Fatalf("unexpected second statement %s", queued[1].SQL)
	}
	if rows.Objects[0].ID != existing || rows.Components[0].ObjectID != existing || rows.Attendees[0].ObjectID != existing {
		t.Fatalf("rows not rebound to the stored object id")
	}
	if rows.Extensions[0].ParentID != existing {
		t.Fatalf("calendar level extension not rebound")
	}
}

func TestCarryAttachmentsKeepsManagedContent(t *testing.T) {
	objID := uuid.New()
	compID := uuid.New()
	managed := uuid.New()
	unknown := uuid.New()
	href := "https://dav.example.com/attachments/" + managed.String()
	other := "https://example.com/file.pdf"
	pdf := "application/pdf"
	first := uuid.New()
	rows := &CalendarRows{
		Attachments: []Attachment{
			{ID: first, ObjectID: objID, ComponentID: compID, ExternalURL: &href, CarryFrom: &managed},
			{ID: uuid.New(), ObjectID: objID, ComponentID: compID, ExternalURL: &other, CarryFrom: &unknown},
		},
		Extensions: []CalendarExtension{
			{ObjectID: objID, ParentID: first, PropertyName: "ATTACH", Value: "x"},
		},
	}
	tx := &mockTx{rows: []rowsExpectation{{
		expect: regexp.MustCompile("SELECT id, media_type, content FROM calendar_attachments"),
		rows:   [][]any{{managed, &pdf, []byte("%PDF")}},
	}}}

	if err := carryAttachments(context.Background(), tx, rows, objID); err != nil {
		t.Fatalf("carryAttachments returned error: %v", err)
	}
	got := rows.Attachments[0]
	if got.ID != managed || !bytes.Equal(got.Content, []byte("%PDF")) || got.ExternalURL != nil {
		t.Fatalf("managed attachment not carried: %+v", got)
	}
	if got.MediaType == nil || *got.MediaType != pdf {
		t.Fatalf("media type not carried: %v", got.MediaType)
	}
	if rows.Extensions[0].ParentID != managed {
		t.Fatalf("attachment extension not rebound")
	}
	plain := rows.Attachments[1]
	if plain.ExternalURL == nil || *plain.ExternalURL != other || plain.CarryFrom != nil || plain.HasContent {
		t.Fatalf("unknown managed id must stay a plain url: %+v", plain)
	}
}

func TestDeleteCalendarObjectNotWritable(t *testing.T) {
	pool := &mockPool{t: t, execs: []execExpectation{
		{expect: regexp.MustCompile("DELETE FROM calendar_objects WHERE calendar_id=\\$1 AND uid=\\$2"), args: []any{int64(5), "gone", int64(3)}, tag: "DELETE 0"},
	}}
	s := newStore(pool)

	err := s.CalendarObjects.DeleteByUID(context.Background(), 3, 5, "gone")
	if !errors.Is(err, ErrNotFoundOrForbidden) {
		t.Fatalf("expected ErrNotFoundOrForbidden, got %v", err)
	}
	pool.assertDone()
}

func TestLoadCalendarObjectsMinimal(t *testing.T) {
	objID := uuid.New()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	pool := &mockPool{t: t, batch: [][][]any{
		{{objID, int64(5), "standup", "standup.ics", `"e1"`, nil, now, now}},
	}}
	s := newStore(pool)

	out, err := s.CalendarObjects.Load(context.Background(), 1, Filter{ContainerID: 5, UIDs: []string{"standup"}, Projection: ProjectionMinimal})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(out.Objects) != 1 || out.Objects[0].ID != objID || out.Objects[0].Timezones != nil {
		t.Fatalf("unexpected objects %+v", out.Objects)
	}
	if len(out.Components) != 0 {
		t.Fatalf("minimal projection must not load children")
	}
	if len(pool.batches) != 1 || pool.batches[0].Len() != 1 {
		t.Fatalf("expected a single parent query")
	}
	q := pool.batches[0].QueuedQueries[0]
	if !strings.Contains(q.SQL, "o.uid = ANY($3)") || !strings.Contains(q.SQL, "calendar_shares") {
		t.Fatalf("filter not applied: %s", q.SQL)
	}
	if len(q.Arguments) != 3 || q.Arguments[0] != int64(5) || q.Arguments[1] != int64(1) {
		t.Fatalf("unexpected arguments %v", q.Arguments)
	}
}

func TestLoadCalendarObjectsFull(t *testing.T) {
	objID := uuid.New()
	compID := uuid.New()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	freq := "WEEKLY"
	component := make([]any, 44)
	copy(component, []any{compID, objID, "standup", KindToDo, 0})
	component[26] = &freq
	component[41] = true

	pool := &mockPool{t: t, batch: [][][]any{
		{{objID, int64(5), "standup", "standup.ics", `"e1"`, nil, now, now}},
		{component},
		nil, nil, nil, nil, nil,
	}}
	s := newStore(pool)

	out, err := s.CalendarObjects.Load(context.Background(), 1, Filter{ContainerID: 5})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if pool.batches[0].Len() != 7 {
		t.Fatalf("expected parent and six child queries, got %d", pool.batches[0].Len())
	}
	if len(out.Components) != 1 {
		t.Fatalf("expected one component, got %d", len(out.Components))
	}
	c := out.Components[0]
	if c.ToDo == nil || c.Event != nil {
		t.Fatalf("todo details not attached: %+v", c)
	}
	if c.Rule == nil || c.Rule.Frequency != "WEEKLY" {
		t.Fatalf("rule not rebuilt: %+v", c.Rule)
	}
	if !c.ToDo.DueAllDay || c.AllDay {
		t.Fatalf("due all-day flag not scanned independently: %+v", c.ToDo)
	}
}

func TestStreamAttachment(t *testing.T) {
	id := uuid.New()
	objID := uuid.New()
	compID := uuid.New()
	png := "image/png"
	pool := &mockPool{t: t, rows: []rowsExpectation{{
		expect: regexp.MustCompile("FROM calendar_attachments t JOIN calendar_objects o"),
		rows:   [][]any{{objID, compID, "standup", &png, []byte{0x89, 'P', 'N', 'G'}}},
	}}}
	s := newStore(pool)

	var buf bytes.Buffer
	var meta Attachment
	err := s.CalendarObjects.StreamAttachment(context.Background(), 1, id, func(a Attachment) (io.Writer, error) {
		meta = a
		return &buf, nil
	})
	if err != nil {
		t.Fatalf("StreamAttachment returned error: %v", err)
	}
	if meta.MediaType == nil || *meta.MediaType != png || meta.ObjectID != objID {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	if buf.String() != "\x89PNG" {
		t.Fatalf("unexpected content %q", buf.String())
	}
	pool.assertDone()
}

func TestStreamAttachmentMissing(t *testing.T) {
	pool := &mockPool{t: t, rows: []rowsExpectation{{expect: regexp.MustCompile("calendar_attachments")}}}
	s := newStore(pool)

	err := s.CalendarObjects.StreamAttachment(context.Background(), 1, uuid.New(), func(Attachment) (io.Writer, error) {
		t.Fatalf("open must not be called")
		return nil, nil
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
