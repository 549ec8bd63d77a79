package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/extension"
	"github.com/jw6ventures/calstore/internal/multivalue"
	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

// Calendar property and parameter names with dedicated columns.
const (
	propUID             = "UID"
	propDTStamp         = "DTSTAMP"
	propCreated         = "CREATED"
	propLastModified    = "LAST-MODIFIED"
	propSummary         = "SUMMARY"
	propDescription     = "DESCRIPTION"
	propLocation        = "LOCATION"
	propOrganizer       = "ORGANIZER"
	propDTStart         = "DTSTART"
	propDTEnd           = "DTEND"
	propDue             = "DUE"
	propCompleted       = "COMPLETED"
	propPercentComplete = "PERCENT-COMPLETE"
	propDuration        = "DURATION"
	propClass           = "CLASS"
	propPriority        = "PRIORITY"
	propSequence        = "SEQUENCE"
	propStatus          = "STATUS"
	propTransp          = "TRANSP"
	propCategories      = "CATEGORIES"
	propRecurrenceID    = "RECURRENCE-ID"

	paramRange         = "RANGE"
	rangeThisAndFuture = "THISANDFUTURE"
)

var dateParams = []string{scalar.ParamTZID, ical.ParamValue}

// properties with a column on both component kinds; multi-valued ones may
// repeat, the rest map their first occurrence only
var (
	commonProps = []string{
		propUID, propDTStamp, propCreated, propLastModified, propSummary, propDescription, propLocation,
		propOrganizer, propDTStart, propDuration, propClass, propPriority, propSequence, propStatus,
		propCategories, multivalue.PropRecurrenceRule, propRecurrenceID,
		multivalue.PropExceptionDate, multivalue.PropAttendee, multivalue.PropAttach,
	}
	eventProps = append(slices.Clone(commonProps), propDTEnd, propTransp)
	todoProps  = append(slices.Clone(commonProps), propDue, propCompleted, propPercentComplete)

	repeatable = []string{propCategories, multivalue.PropExceptionDate, multivalue.PropAttendee, multivalue.PropAttach}
)

// DecodeCalendar parses iCalendar text.
func DecodeCalendar(body []byte) (*ical.Calendar, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(body)).Decode()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no VCALENDAR object", ErrUnsupportedInput)
	}
	if err != nil {
		return nil, validation("VCALENDAR", err)
	}
	return cal, nil
}

// AssembleCalendar turns a parsed calendar into the rows of one calendar
// object. Every VEVENT and VTODO must share one UID and at most one of them
// may lack a RECURRENCE-ID.
func AssembleCalendar(cal *ical.Calendar, wc WriteContext) (*store.CalendarRows, error) {
	if cal == nil || cal.Component == nil {
		return nil, fmt.Errorf("%w: empty calendar", ErrUnsupportedInput)
	}

	var comps, zones []*ical.Component
	for _, child := range cal.Children {
		switch child.Name {
		case ical.CompEvent, ical.CompToDo:
			comps = append(comps, child)
		case ical.CompTimezone:
			zones = append(zones, child)
		}
	}
	if len(comps) == 0 {
		return nil, fmt.Errorf("%w: no VEVENT or VTODO component", ErrUnsupportedInput)
	}

	uid := componentUID(comps[0])
	for _, c := range comps {
		u := componentUID(c)
		if err := checkUID(u); err != nil {
			return nil, err
		}
		if u != uid {
			return nil, validation(propUID, errors.New("components carry different UIDs"))
		}
	}

	obj := store.CalendarObject{
		ID:           wc.newID(),
		CalendarID:   wc.ContainerID,
		UID:          uid,
		FileName:     wc.FileName,
		ETag:         wc.ETag,
		CreatedAt:    wc.Now,
		LastModified: wc.Now,
	}
	if len(zones) > 0 {
		text, err := encodeTimezones(zones)
		if err != nil {
			return nil, validation(ical.CompTimezone, err)
		}
		obj.Timezones = &text
	}
	rows := &store.CalendarRows{Objects: []store.CalendarObject{obj}}

	x := extension.NewExtractor(obj.ID)
	for _, name := range sortedKeys(cal.Props) {
		if name == ical.PropVersion {
			continue
		}
		for _, p := range cal.Props[name] {
			x.Custom(name, p.Value, p.Params)
		}
	}
	rows.Extensions = append(rows.Extensions, calendarExtensions(obj, x.Rows())...)

	masters := 0
	for i, comp := range comps {
		w := &componentWriter{rows: rows, object: obj, wc: wc}
		if err := w.assemble(comp, i); err != nil {
			return nil, err
		}
		if w.comp.RecurrenceID == nil {
			masters++
		}
	}
	if masters > 1 {
		return nil, validation(propRecurrenceID, errors.New("more than one master component"))
	}
	return rows, nil
}

func componentUID(c *ical.Component) string {
	if p := c.Props.Get(propUID); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

type componentWriter struct {
	rows   *store.CalendarRows
	object store.CalendarObject
	wc     WriteContext

	comp       store.Component
	start      scalar.DateTime
	owner      multivalue.Owner
	ext        *extension.Extractor
	mapped     []string
	seen       map[string]bool
	categories []string

	exceptions  int
	attendees   int
	attachments int
}

func (w *componentWriter) assemble(src *ical.Component, index int) error {
	w.comp = store.Component{
		ID:        w.wc.newID(),
		ObjectID:  w.object.ID,
		UID:       w.object.UID,
		Kind:      src.Name,
		SortIndex: index,
	}
	if src.Name == ical.CompEvent {
		w.comp.Event = &store.EventDetails{}
		w.mapped = eventProps
	} else {
		w.comp.ToDo = &store.ToDoDetails{}
		w.mapped = todoProps
	}
	w.owner = multivalue.Owner{ObjectID: w.object.ID, ComponentID: w.comp.ID, UID: w.object.UID, NewID: w.wc.newID}
	w.ext = extension.NewExtractor(w.comp.ID)
	w.seen = make(map[string]bool)

	for _, name := range propertyOrder(src.Props) {
		for i := range src.Props[name] {
			if err := w.property(&src.Props[name][i]); err != nil {
				return validation(name, err)
			}
		}
	}
	w.comp.Categories = multivalue.JoinGroups(w.categories)

	alarms := 0
	for _, child := range src.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		if err := w.alarm(child, alarms); err != nil {
			return validation(ical.CompAlarm, err)
		}
		alarms++
	}

	w.rows.Components = append(w.rows.Components, w.comp)
	w.rows.Extensions = append(w.rows.Extensions, calendarExtensions(w.object, w.ext.Rows())...)
	return nil
}

// propertyOrder puts DTSTART first so rules can derive their UNTIL kind.
func propertyOrder(props ical.Props) []string {
	names := sortedKeys(props)
	if i := slices.Index(names, propDTStart); i > 0 {
		names = append([]string{propDTStart}, slices.Delete(names, i, i+1)...)
	}
	return names
}

func (w *componentWriter) takes(name string) bool {
	if extension.IsCustom(name, false) || !slices.Contains(w.mapped, name) {
		return false
	}
	if slices.Contains(repeatable, name) {
		return true
	}
	if w.seen[name] {
		return false
	}
	w.seen[name] = true
	return true
}

func (w *componentWriter) property(p *ical.Prop) error {
	if !w.takes(p.Name) {
		w.ext.Custom(p.Name, p.Value, p.Params)
		return nil
	}

	var consumed []string
	var err error
	c := &w.comp
	switch p.Name {
	case propUID:
	case propDTStamp:
		c.DTStamp, err = instant(p)
		consumed = dateParams
	case propCreated:
		c.Created, err = instant(p)
		consumed = dateParams
	case propLastModified:
		c.LastModified, err = instant(p)
		consumed = dateParams
	case propSummary:
		c.Summary = text(p)
	case propDescription:
		c.Description = text(p)
	case propLocation:
		c.Location = text(p)
	case propOrganizer:
		c.Organizer = nonEmpty(p.Value)
		c.OrganizerCN = nonEmpty(p.Params.Get(multivalue.ParamCommonName))
		consumed = []string{multivalue.ParamCommonName}
	case propDTStart:
		var d scalar.DateTime
		if d, err = scalar.DecodeProp(p); err == nil {
			col, zone := scalar.ToRelational(d)
			c.Start, c.StartTZID, c.AllDay = &col, zone, d.AllDay
			w.start = d
		}
		consumed = dateParams
	case propDuration:
		c.Duration, err = duration(p.Value)
	case propClass:
		c.Class, err = enum(scalar.Class, p.Value)
	case propPriority:
		c.Priority, err = integer(p.Value, 0, 9)
	case propSequence:
		c.Sequence, err = integer(p.Value, 0, math.MaxInt32)
	case propStatus:
		c.Status, err = enum(scalar.Status, p.Value)
	case propCategories:
		w.categories = append(w.categories, p.Value)
	case multivalue.PropRecurrenceRule:
		rule, ok, rerr := multivalue.DecodeRule(p.Value, w.start)
		if rerr != nil {
			return rerr
		}
		if !ok {
			w.ext.Custom(p.Name, p.Value, p.Params)
			return nil
		}
		c.Rule = rule
	case propRecurrenceID:
		var d scalar.DateTime
		if d, err = scalar.DecodeProp(p); err == nil {
			col, zone := scalar.ToRelational(d)
			c.RecurrenceID, c.RecurrenceIDTZID, c.RecurrenceIDAllDay = &col, zone, d.AllDay
			c.ThisAndFuture = strings.EqualFold(p.Params.Get(paramRange), rangeThisAndFuture)
		}
		consumed = append(slices.Clone(dateParams), paramRange)
	case multivalue.PropExceptionDate:
		return w.exception(p)
	case multivalue.PropAttendee:
		return w.attendee(p)
	case multivalue.PropAttach:
		return w.attachment(p)
	case propDTEnd:
		var d scalar.DateTime
		if d, err = scalar.DecodeProp(p); err == nil {
			col, zone := scalar.ToRelational(d)
			c.Event.End, c.Event.EndTZID, c.Event.EndAllDay = &col, zone, d.AllDay
		}
		consumed = dateParams
	case propTransp:
		c.Event.Transparency, err = enum(scalar.Transparency, p.Value)
	case propDue:
		var d scalar.DateTime
		if d, err = scalar.DecodeProp(p); err == nil {
			col, zone := scalar.ToRelational(d)
			c.ToDo.Due, c.ToDo.DueTZID, c.ToDo.DueAllDay = &col, zone, d.AllDay
		}
		consumed = dateParams
	case propCompleted:
		c.ToDo.Completed, err = instant(p)
		consumed = dateParams
	case propPercentComplete:
		c.ToDo.PercentComplete, err = integer(p.Value, 0, 100)
	}
	if err != nil {
		return err
	}
	w.ext.Mapped(p.Name, p.Params, consumed...)
	return nil
}

func (w *componentWriter) exception(p *ical.Prop) error {
	rows, err := multivalue.Exceptions(p, w.owner, w.exceptions)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	w.exceptions += len(rows)
	w.rows.Exceptions = append(w.rows.Exceptions, rows...)
	// each row renders as its own EXDATE line
	for _, row := range rows {
		w.child(row.ID, p, multivalue.ExceptionParams)
	}
	return nil
}

func (w *componentWriter) attendee(p *ical.Prop) error {
	row, err := multivalue.Attendee(p, w.owner, w.attendees)
	if err != nil {
		return err
	}
	w.attendees++
	w.rows.Attendees = append(w.rows.Attendees, row)
	w.child(row.ID, p, multivalue.AttendeeParams)
	return nil
}

func (w *componentWriter) attachment(p *ical.Prop) error {
	row, err := multivalue.Attachment(p, w.owner, w.attachments)
	if err != nil {
		return err
	}
	w.attachments++
	w.rows.Attachments = append(w.rows.Attachments, row)
	w.child(row.ID, p, multivalue.AttachmentConsumed(row))
	return nil
}

func (w *componentWriter) alarm(src *ical.Component, index int) error {
	row, err := multivalue.Alarm(src, w.owner, index)
	if err != nil {
		return err
	}
	w.rows.Alarms = append(w.rows.Alarms, row)

	x := extension.NewExtractor(row.ID)
	seen := make(map[string]bool)
	for _, name := range sortedKeys(src.Props) {
		for _, p := range src.Props[name] {
			if slices.Contains(multivalue.AlarmProps, name) && !seen[name] {
				seen[name] = true
				x.Mapped(name, p.Params, multivalue.AlarmConsumed(name)...)
				continue
			}
			x.Custom(name, p.Value, p.Params)
		}
	}
	w.rows.Extensions = append(w.rows.Extensions, calendarExtensions(w.object, x.Rows())...)
	return nil
}

// child records the unconsumed parameters of a property that became a child
// row, owned by that row.
func (w *componentWriter) child(parent uuid.UUID, p *ical.Prop, consumed []string) {
	x := extension.NewExtractor(parent)
	x.Mapped(p.Name, p.Params, consumed...)
	w.rows.Extensions = append(w.rows.Extensions, calendarExtensions(w.object, x.Rows())...)
}

func calendarExtensions(obj store.CalendarObject, rows []extension.Row) []store.CalendarExtension {
	out := make([]store.CalendarExtension, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.CalendarExtension{
			ObjectID:      obj.ID,
			ParentID:      r.ParentID,
			UID:           obj.UID,
			PropertyName:  r.PropertyName,
			ParameterName: r.ParameterName,
			Value:         r.Value,
			SortIndex:     r.SortIndex,
		})
	}
	return out
}

func encodeTimezones(zones []*ical.Component) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, timezoneProductID)
	cal.Children = zones
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const timezoneProductID = "-//calstore//timezones//EN"

func instant(p *ical.Prop) (*time.Time, error) {
	t, err := scalar.DecodeInstant(p)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func text(p *ical.Prop) *string {
	v := scalar.UnescapeText(p.Value)
	return &v
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func duration(value string) (*string, error) {
	d, err := scalar.NormalizeDuration(value)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func enum(e scalar.Enum, value string) (*string, error) {
	v, err := e.Normalize(value)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func integer(value string, min, max int) (*int, error) {
	n, err := scalar.ParseInt(value, min, max)
	if err != nil {
		return nil, err
	}
	return &n, nil
}
