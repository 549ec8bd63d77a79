package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jw6ventures/calstore/internal/metrics"
)

// calendarObjectRepo implements CalendarObjectRepository.
type calendarObjectRepo struct {
	pool pgxPool
}

const (
	objectColumns = `o.id, o.calendar_id, o.uid, o.file_name, o.etag, o.timezones, o.created_at, o.last_modified`

	componentColumns = `t.id, t.object_id, t.uid, t.kind, t.sort_index,
t.recurrence_id, t.recurrence_id_tzid, t.recurrence_id_all_day, t.this_and_future,
t.dtstamp, t.created, t.last_modified,
t.summary, t.description, t.organizer, t.organizer_cn, t.location,
t.dtstart, t.dtstart_tzid, t.all_day, t.duration,
t.class, t.priority, t.sequence, t.status, t.categories,
t.rrule_freq, t.rrule_interval, t.rrule_until, t.rrule_count, t.rrule_wkst,
t.rrule_byday, t.rrule_bymonthday, t.rrule_bymonth, t.rrule_bysetpos,
t.dtend, t.dtend_tzid, t.dtend_all_day, t.transp,
t.due, t.due_tzid, t.due_all_day, t.completed, t.percent_complete`

	exceptionColumns  = `t.id, t.object_id, t.component_id, t.uid, t.exdate, t.tzid, t.all_day, t.sort_index`
	alarmColumns      = `t.id, t.object_id, t.component_id, t.uid, t.action, t.trigger_relative, t.trigger_related_end, t.trigger_absolute, t.summary, t.description, t.duration, t.repeat_count, t.sort_index`
	attendeeColumns   = `t.id, t.object_id, t.component_id, t.uid, t.address, t.cn, t.dir, t.language, t.cutype, t.sent_by, t.delegated_from, t.delegated_to, t.rsvp, t.role, t.partstat, t.sort_index`
	attachmentColumns = `t.id, t.object_id, t.component_id, t.uid, t.media_type, t.external_url, t.content IS NOT NULL, %s, t.sort_index`
	calExtColumns     = `t.id, t.object_id, t.parent_id, t.uid, t.property_name, t.parameter_name, t.value, t.sort_index`
)

func (r *calendarObjectRepo) Save(ctx context.Context, userID int64, rows *CalendarRows) (bool, error) {
	defer observeDB(ctx, "calendar_objects.save")()
	if len(rows.Objects) != 1 {
		return false, fmt.Errorf("save expects one calendar object, got %d", len(rows.Objects))
	}
	obj := rows.Objects[0]

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin calendar object save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := checkWritable(ctx, tx, calendarAccess, obj.CalendarID, userID); err != nil {
		return false, err
	}
	var existing uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM calendar_objects WHERE calendar_id=$1 AND uid=$2 FOR UPDATE`,
		obj.CalendarID, obj.UID).Scan(&existing)
	created := errors.Is(err, pgx.ErrNoRows)
	if err != nil && !created {
		return false, fmt.Errorf("lookup calendar object %s: %w", obj.UID, err)
	}

	if created {
		_, err = tx.Exec(ctx, `INSERT INTO calendar_objects (id, calendar_id, uid, file_name, etag, timezones, created_at, last_modified)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			obj.ID, obj.CalendarID, obj.UID, obj.FileName, obj.ETag, obj.Timezones, obj.CreatedAt, obj.LastModified)
		if err != nil {
			return false, fmt.Errorf("insert calendar object %s: %w", obj.UID, err)
		}
	} else {
		rebindCalendarObject(rows, obj.ID, existing)
		obj = rows.Objects[0]
		_, err = tx.Exec(ctx, `UPDATE calendar_objects SET file_name=$2, etag=$3, timezones=$4, last_modified=$5 WHERE id=$1`,
			obj.ID, obj.FileName, obj.ETag, obj.Timezones, obj.LastModified)
		if err != nil {
			return false, fmt.Errorf("update calendar object %s: %w", obj.UID, err)
		}
		if err := carryAttachments(ctx, tx, rows, obj.ID); err != nil {
			return false, err
		}
	}

	batch := &pgx.Batch{}
	if !created {
		batch.Queue(`DELETE FROM calendar_extensions WHERE object_id=$1`, obj.ID)
		// exceptions, alarms, attendees and attachments cascade
		batch.Queue(`DELETE FROM calendar_components WHERE object_id=$1`, obj.ID)
	}
	queueCalendarInserts(batch, rows)
	if err := execBatch(ctx, tx, batch); err != nil {
		return false, fmt.Errorf("write calendar object %s: %w", obj.UID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit calendar object %s: %w", obj.UID, err)
	}

	metrics.ObserveRowsWritten("calendar_components", len(rows.Components))
	metrics.ObserveRowsWritten("calendar_exceptions", len(rows.Exceptions))
	metrics.ObserveRowsWritten("calendar_alarms", len(rows.Alarms))
	metrics.ObserveRowsWritten("calendar_attendees", len(rows.Attendees))
	metrics.ObserveRowsWritten("calendar_attachments", len(rows.Attachments))
	metrics.ObserveExtensionsWritten("calendar", len(rows.Extensions))
	return created, nil
}

// rebindCalendarObject moves every row of an assembled object onto the id
// of the stored object it replaces.
func rebindCalendarObject(rows *CalendarRows, from, to uuid.UUID) {
	for i := range rows.Objects {
		if rows.Objects[i].ID == from {
			rows.Objects[i].ID = to
		}
	}
	for i := range rows.Components {
		if rows.Components[i].ObjectID == from {
			rows.Components[i].ObjectID = to
		}
	}
	for i := range rows.Exceptions {
		if rows.Exceptions[i].ObjectID == from {
			rows.Exceptions[i].ObjectID = to
		}
	}
	for i := range rows.Alarms {
		if rows.Alarms[i].ObjectID == from {
			rows.Alarms[i].ObjectID = to
		}
	}
	for i := range rows.Attendees {
		if rows.Attendees[i].ObjectID == from {
			rows.Attendees[i].ObjectID = to
		}
	}
	for i := range rows.Attachments {
		if rows.Attachments[i].ObjectID == from {
			rows.Attachments[i].ObjectID = to
		}
	}
	for i := range rows.Extensions {
		if rows.Extensions[i].ObjectID == from {
			rows.Extensions[i].ObjectID = to
		}
		if rows.Extensions[i].ParentID == from {
			rows.Extensions[i].ParentID = to
		}
	}
}

// carryAttachments copies stored content into attachments that reference
// it by managed id. The first reference keeps the stored id so clients see
// a stable MANAGED-ID. References to unknown ids stay plain URLs.
func carryAttachments(ctx context.Context, tx pgx.Tx, rows *CalendarRows, objectID uuid.UUID) error {
	var ids []string
	for _, a := range rows.Attachments {
		if a.CarryFrom != nil {
			ids = append(ids, a.CarryFrom.String())
		}
	}
	if len(ids) == 0 {
		return nil
	}

	type stored struct {
		mediaType *string
		content   []byte
	}
	found := make(map[uuid.UUID]stored, len(ids))
	q, err := tx.Query(ctx, `SELECT id, media_type, content FROM calendar_attachments
WHERE object_id=$1 AND id = ANY($2::uuid[]) AND content IS NOT NULL`, objectID, ids)
	if err != nil {
		return fmt.Errorf("load managed attachments: %w", err)
	}
	for q.Next() {
		var (
			id uuid.UUID
			s  stored
		)
		if err := q.Scan(&id, &s.mediaType, &s.content); err != nil {
			q.Close()
			return fmt.Errorf("scan managed attachment: %w", err)
		}
		found[id] = s
	}
	q.Close()
	if err := q.Err(); err != nil {
		return fmt.Errorf("load managed attachments: %w", err)
	}

	claimed := make(map[uuid.UUID]bool, len(found))
	for i := range rows.Attachments {
		a := &rows.Attachments[i]
		if a.CarryFrom == nil {
			continue
		}
		from := *a.CarryFrom
		a.CarryFrom = nil
		s, ok := found[from]
		if !ok {
			continue
		}
		a.Content = s.content
		a.HasContent = true
		a.ExternalURL = nil
		if a.MediaType == nil {
			a.MediaType = s.mediaType
		}
		if !claimed[from] {
			claimed[from] = true
			for j := range rows.Extensions {
				if rows.Extensions[j].ParentID == a.ID {
					rows.Extensions[j].ParentID = from
				}
			}
			a.ID = from
		}
	}
	return nil
}

func queueCalendarInserts(b *pgx.Batch, rows *CalendarRows) {
	for _, c := range rows.Components {
		var rule RecurrenceRule
		var freq *string
		if c.Rule != nil {
			rule = *c.Rule
			freq = &rule.Frequency
		}
		var ev EventDetails
		if c.Event != nil {
			ev = *c.Event
		}
		var td ToDoDetails
		if c.ToDo != nil {
			td = *c.ToDo
		}
		b.Queue(`INSERT INTO calendar_components (id, object_id, uid, kind, sort_index,
recurrence_id, recurrence_id_tzid, recurrence_id_all_day, this_and_future,
dtstamp, created, last_modified,
summary, description, organizer, organizer_cn, location,
dtstart, dtstart_tzid, all_day, duration,
class, priority, sequence, status, categories,
rrule_freq, rrule_interval, rrule_until, rrule_count, rrule_wkst,
rrule_byday, rrule_bymonthday, rrule_bymonth, rrule_bysetpos,
dtend, dtend_tzid, dtend_all_day, transp,
due, due_tzid, due_all_day, completed, percent_complete)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
$22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39, $40, $41, $42, $43, $44)`,
			c.ID, c.ObjectID, c.UID, c.Kind, c.SortIndex,
			c.RecurrenceID, c.RecurrenceIDTZID, c.RecurrenceIDAllDay, c.ThisAndFuture,
			c.DTStamp, c.Created, c.LastModified,
			c.Summary, c.Description, c.Organizer, c.OrganizerCN, c.Location,
			c.Start, c.StartTZID, c.AllDay, c.Duration,
			c.Class, c.Priority, c.Sequence, c.Status, c.Categories,
			freq, rule.Interval, rule.Until, rule.Count, rule.WeekStart,
			rule.ByDay, rule.ByMonthDay, rule.ByMonth, rule.BySetPos,
			ev.End, ev.EndTZID, ev.EndAllDay, ev.Transparency,
			td.Due, td.DueTZID, td.DueAllDay, td.Completed, td.PercentComplete)
	}
	for _, e := range rows.Exceptions {
		b.Queue(`INSERT INTO calendar_exceptions (id, object_id, component_id, uid, exdate, tzid, all_day, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.ObjectID, e.ComponentID, e.UID, e.Date, e.TZID, e.AllDay, e.SortIndex)
	}
	for _, a := range rows.Alarms {
		b.Queue(`INSERT INTO calendar_alarms (id, object_id, component_id, uid, action, trigger_relative, trigger_related_end,
trigger_absolute, summary, description, duration, repeat_count, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			a.ID, a.ObjectID, a.ComponentID, a.UID, a.Action, a.TriggerRelative, a.TriggerRelatedEnd,
			a.TriggerAbsolute, a.Summary, a.Description, a.Duration, a.Repeat, a.SortIndex)
	}
	for _, a := range rows.Attendees {
		b.Queue(`INSERT INTO calendar_attendees (id, object_id, component_id, uid, address, cn, dir, language, cutype,
sent_by, delegated_from, delegated_to, rsvp, role, partstat, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
			a.ID, a.ObjectID, a.ComponentID, a.UID, a.Address, a.CommonName, a.Directory, a.Language, a.UserType,
			a.SentBy, a.DelegatedFrom, a.DelegatedTo, a.RSVP, a.Role, a.Status, a.SortIndex)
	}
	for _, a := range rows.Attachments {
		b.Queue(`INSERT INTO calendar_attachments (id, object_id, component_id, uid, media_type, external_url, content, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			a.ID, a.ObjectID, a.ComponentID, a.UID, a.MediaType, a.ExternalURL, a.Content, a.SortIndex)
	}
	for _, e := range rows.Extensions {
		b.Queue(`INSERT INTO calendar_extensions (object_id, parent_id, uid, property_name, parameter_name, value, sort_index)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ObjectID, e.ParentID, e.UID, e.PropertyName, e.ParameterName, e.Value, e.SortIndex)
	}
}

// execBatch sends a batch of statements and drains every result.
func execBatch(ctx context.Context, tx pgx.Tx, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return br.Close()
}

func (r *calendarObjectRepo) DeleteByUID(ctx context.Context, userID, calendarID int64, uid string) error {
	defer observeDB(ctx, "calendar_objects.delete")()
	tag, err := r.pool.Exec(ctx, `DELETE FROM calendar_objects WHERE calendar_id=$1 AND uid=$2 AND calendar_id IN `+
		calendarAccess.writable("$3"), calendarID, uid, userID)
	if err != nil {
		return fmt.Errorf("delete calendar object %s: %w", uid, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFoundOrForbidden
	}
	return nil
}

func (r *calendarObjectRepo) Load(ctx context.Context, userID int64, f Filter) (*CalendarRows, error) {
	defer observeDB(ctx, "calendar_objects.load")()
	where, args := objectFilter(f, userID, calendarAccess, "o", "calendar_id")
	owned := `t.object_id IN (SELECT o.id FROM calendar_objects o WHERE ` + where + `)`
	content := "NULL::bytea"
	if f.WithContent {
		content = "t.content"
	}

	b := &pgx.Batch{}
	b.Queue(`SELECT `+objectColumns+` FROM calendar_objects o WHERE `+where+` ORDER BY o.file_name`, args...)
	full := f.Projection == ProjectionFull
	if full {
		b.Queue(`SELECT `+componentColumns+` FROM calendar_components t WHERE `+owned+` ORDER BY t.object_id, t.sort_index`, args...)
		b.Queue(`SELECT `+exceptionColumns+` FROM calendar_exceptions t WHERE `+owned+` ORDER BY t.object_id, t.sort_index`, args...)
		b.Queue(`SELECT `+alarmColumns+` FROM calendar_alarms t WHERE `+owned+` ORDER BY t.object_id, t.sort_index`, args...)
		b.Queue(`SELECT `+attendeeColumns+` FROM calendar_attendees t WHERE `+owned+` ORDER BY t.object_id, t.sort_index`, args...)
		b.Queue(`SELECT `+fmt.Sprintf(attachmentColumns, content)+` FROM calendar_attachments t WHERE `+owned+` ORDER BY t.object_id, t.sort_index`, args...)
		b.Queue(`SELECT `+calExtColumns+` FROM calendar_extensions t WHERE `+owned+` ORDER BY t.object_id, t.sort_index, t.id`, args...)
	}

	br := r.pool.SendBatch(ctx, b)
	defer br.Close()

	out := &CalendarRows{}
	var err error
	if out.Objects, err = collect(br, scanCalendarObject); err != nil {
		return nil, fmt.Errorf("load calendar objects: %w", err)
	}
	if !full {
		return out, nil
	}
	if out.Components, err = collect(br, scanComponent); err != nil {
		return nil, fmt.Errorf("load calendar components: %w", err)
	}
	if out.Exceptions, err = collect(br, scanException); err != nil {
		return nil, fmt.Errorf("load calendar exceptions: %w", err)
	}
	if out.Alarms, err = collect(br, scanAlarm); err != nil {
		return nil, fmt.Errorf("load calendar alarms: %w", err)
	}
	if out.Attendees, err = collect(br, scanAttendee); err != nil {
		return nil, fmt.Errorf("load calendar attendees: %w", err)
	}
	if out.Attachments, err = collect(br, scanAttachment); err != nil {
		return nil, fmt.Errorf("load calendar attachments: %w", err)
	}
	if out.Extensions, err = collect(br, scanCalendarExtension); err != nil {
		return nil, fmt.Errorf("load calendar extensions: %w", err)
	}
	return out, nil
}

// collect reads the next result of a batch.
func collect[T any](br pgx.BatchResults, scan func(pgx.Row) (T, error)) ([]T, error) {
	rows, err := br.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanCalendarObject(row pgx.Row) (CalendarObject, error) {
	var o CalendarObject
	err := row.Scan(&o.ID, &o.CalendarID, &o.UID, &o.FileName, &o.ETag, &o.Timezones, &o.CreatedAt, &o.LastModified)
	return o, err
}

func scanComponent(row pgx.Row) (Component, error) {
	var (
		c    Component
		rule RecurrenceRule
		freq *string
		ev   EventDetails
		td   ToDoDetails
	)
	err := row.Scan(&c.ID, &c.ObjectID, &c.UID, &c.Kind, &c.SortIndex,
		&c.RecurrenceID, &c.RecurrenceIDTZID, &c.RecurrenceIDAllDay, &c.ThisAndFuture,
		&c.DTStamp, &c.Created, &c.LastModified,
		&c.Summary, &c.Description, &c.Organizer, &c.OrganizerCN, &c.Location,
		&c.Start, &c.StartTZID, &c.AllDay, &c.Duration,
		&c.Class, &c.Priority, &c.Sequence, &c.Status, &c.Categories,
		&freq, &rule.Interval, &rule.Until, &rule.Count, &rule.WeekStart,
		&rule.ByDay, &rule.ByMonthDay, &rule.ByMonth, &rule.BySetPos,
		&ev.End, &ev.EndTZID, &ev.EndAllDay, &ev.Transparency,
		&td.Due, &td.DueTZID, &td.DueAllDay, &td.Completed, &td.PercentComplete)
	if err != nil {
		return Component{}, err
	}
	if freq != nil {
		rule.Frequency = *freq
		c.Rule = &rule
	}
	switch c.Kind {
	case KindEvent:
		c.Event = &ev
	case KindToDo:
		c.ToDo = &td
	}
	return c, nil
}

func scanException(row pgx.Row) (Exception, error) {
	var e Exception
	err := row.Scan(&e.ID, &e.ObjectID, &e.ComponentID, &e.UID, &e.Date, &e.TZID, &e.AllDay, &e.SortIndex)
	return e, err
}

func scanAlarm(row pgx.Row) (Alarm, error) {
	var a Alarm
	err := row.Scan(&a.ID, &a.ObjectID, &a.ComponentID, &a.UID, &a.Action, &a.TriggerRelative, &a.TriggerRelatedEnd,
		&a.TriggerAbsolute, &a.Summary, &a.Description, &a.Duration, &a.Repeat, &a.SortIndex)
	return a, err
}

func scanAttendee(row pgx.Row) (Attendee, error) {
	var a Attendee
	err := row.Scan(&a.ID, &a.ObjectID, &a.ComponentID, &a.UID, &a.Address, &a.CommonName, &a.Directory, &a.Language,
		&a.UserType, &a.SentBy, &a.DelegatedFrom, &a.DelegatedTo, &a.RSVP, &a.Role, &a.Status, &a.SortIndex)
	return a, err
}

func scanAttachment(row pgx.Row) (Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.ObjectID, &a.ComponentID, &a.UID, &a.MediaType, &a.ExternalURL, &a.HasContent, &a.Content, &a.SortIndex)
	return a, err
}

func scanCalendarExtension(row pgx.Row) (CalendarExtension, error) {
	var e CalendarExtension
	err := row.Scan(&e.ID, &e.ObjectID, &e.ParentID, &e.UID, &e.PropertyName, &e.ParameterName, &e.Value, &e.SortIndex)
	return e, err
}

func (r *calendarObjectRepo) StreamAttachment(ctx context.Context, userID int64, id uuid.UUID, open func(Attachment) (io.Writer, error)) error {
	defer observeDB(ctx, "calendar_attachments.stream")()
	rows, err := r.pool.Query(ctx, `SELECT t.object_id, t.component_id, t.uid, t.media_type, t.content
FROM calendar_attachments t JOIN calendar_objects o ON o.id = t.object_id
WHERE t.id=$1 AND t.content IS NOT NULL AND o.calendar_id IN `+calendarAccess.readable("$2"), id, userID)
	if err != nil {
		return fmt.Errorf("query attachment %s: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("query attachment %s: %w", id, err)
		}
		return ErrNotFound
	}

	meta := Attachment{ID: id, HasContent: true}
	// driver bytes stay valid until the next call on rows
	var content pgtype.DriverBytes
	if err := rows.Scan(&meta.ObjectID, &meta.ComponentID, &meta.UID, &meta.MediaType, &content); err != nil {
		return fmt.Errorf("scan attachment %s: %w", id, err)
	}
	w, err := open(meta)
	if err != nil {
		return err
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("write attachment %s: %w", id, err)
	}
	return nil
}
