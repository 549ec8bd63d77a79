package mapping

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/extension"
	"github.com/jw6ventures/calstore/internal/multivalue"
	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

// ReadOptions controls how stored objects are rendered.
type ReadOptions struct {
	// ProductID is emitted as PRODID when the object did not keep its own.
	ProductID string
	// AttachmentHref returns the download URL for stored attachment
	// content. When nil, attachments without loaded content are omitted.
	AttachmentHref func(store.Attachment) string
}

// MaterializedCalendar pairs a stored object with its rebuilt calendar.
type MaterializedCalendar struct {
	Object   store.CalendarObject
	Calendar *ical.Calendar
}

type calendarIndex struct {
	components  map[uuid.UUID][]store.Component
	exceptions  map[uuid.UUID][]store.Exception
	alarms      map[uuid.UUID][]store.Alarm
	attendees   map[uuid.UUID][]store.Attendee
	attachments map[uuid.UUID][]store.Attachment
	extensions  map[uuid.UUID][]extension.Row
}

func indexCalendarRows(rows *store.CalendarRows) *calendarIndex {
	idx := &calendarIndex{
		components:  groupBy(rows.Components, func(c store.Component) uuid.UUID { return c.ObjectID }),
		exceptions:  groupBy(rows.Exceptions, func(e store.Exception) uuid.UUID { return e.ComponentID }),
		alarms:      groupBy(rows.Alarms, func(a store.Alarm) uuid.UUID { return a.ComponentID }),
		attendees:   groupBy(rows.Attendees, func(a store.Attendee) uuid.UUID { return a.ComponentID }),
		attachments: groupBy(rows.Attachments, func(a store.Attachment) uuid.UUID { return a.ComponentID }),
		extensions:  make(map[uuid.UUID][]extension.Row),
	}
	for _, e := range rows.Extensions {
		idx.extensions[e.ParentID] = append(idx.extensions[e.ParentID], extension.Row{
			ParentID:      e.ParentID,
			PropertyName:  e.PropertyName,
			ParameterName: e.ParameterName,
			Value:         e.Value,
			SortIndex:     e.SortIndex,
		})
	}
	return idx
}

func groupBy[T any](items []T, key func(T) uuid.UUID) map[uuid.UUID][]T {
	out := make(map[uuid.UUID][]T)
	for _, item := range items {
		k := key(item)
		out[k] = append(out[k], item)
	}
	return out
}

// MaterializeCalendars rebuilds one calendar per stored object. Children are
// grouped once and re-sorted by their SortIndex.
func MaterializeCalendars(rows *store.CalendarRows, opts ReadOptions) ([]MaterializedCalendar, error) {
	if rows == nil {
		return nil, nil
	}
	idx := indexCalendarRows(rows)
	out := make([]MaterializedCalendar, 0, len(rows.Objects))
	for _, obj := range rows.Objects {
		cal := ical.NewCalendar()
		cal.Props.SetText(ical.PropVersion, "2.0")
		applyICal(cal.Props, idx.extensions[obj.ID])
		if cal.Props.Get(ical.PropProductID) == nil {
			cal.Props.SetText(ical.PropProductID, opts.ProductID)
		}

		if obj.Timezones != nil {
			zones, err := decodeTimezones(*obj.Timezones)
			if err != nil {
				return nil, fmt.Errorf("decode timezones of %s: %w", obj.UID, err)
			}
			cal.Children = append(cal.Children, zones...)
		}

		comps := idx.components[obj.ID]
		multivalue.SortBy(comps, func(c store.Component) int { return c.SortIndex })
		for _, c := range comps {
			cal.Children = append(cal.Children, materializeComponent(obj, c, idx, opts))
		}
		out = append(out, MaterializedCalendar{Object: obj, Calendar: cal})
	}
	return out, nil
}

func materializeComponent(obj store.CalendarObject, c store.Component, idx *calendarIndex, opts ReadOptions) *ical.Component {
	comp := &ical.Component{Name: c.Kind, Props: make(ical.Props)}
	props := comp.Props

	addProp(props, rawProp(propUID, c.UID))
	if c.DTStamp != nil {
		addProp(props, scalar.EncodeInstant(propDTStamp, *c.DTStamp))
	} else {
		addProp(props, scalar.EncodeInstant(propDTStamp, obj.LastModified))
	}
	if c.Created != nil {
		addProp(props, scalar.EncodeInstant(propCreated, *c.Created))
	}
	if c.LastModified != nil {
		addProp(props, scalar.EncodeInstant(propLastModified, *c.LastModified))
	}

	var start scalar.DateTime
	if c.Start != nil {
		start = scalar.FromRelational(*c.Start, c.StartTZID, c.AllDay)
		addProp(props, scalar.EncodeProp(propDTStart, start))
	}
	if c.RecurrenceID != nil {
		rid := scalar.EncodeProp(propRecurrenceID, scalar.FromRelational(*c.RecurrenceID, c.RecurrenceIDTZID, c.RecurrenceIDAllDay))
		if c.ThisAndFuture {
			rid.Params[paramRange] = []string{rangeThisAndFuture}
		}
		addProp(props, rid)
	}

	addText(props, propSummary, c.Summary)
	addText(props, propDescription, c.Description)
	addText(props, propLocation, c.Location)
	if c.Organizer != nil {
		org := rawProp(propOrganizer, *c.Organizer)
		if c.OrganizerCN != nil {
			org.Params[multivalue.ParamCommonName] = []string{*c.OrganizerCN}
		}
		addProp(props, org)
	}
	addRaw(props, propDuration, c.Duration)
	addRaw(props, propClass, c.Class)
	addRaw(props, propStatus, c.Status)
	addInt(props, propPriority, c.Priority)
	addInt(props, propSequence, c.Sequence)
	for _, group := range multivalue.SplitGroups(c.Categories) {
		addProp(props, rawProp(propCategories, group))
	}
	if rule := multivalue.EncodeRule(c.Rule, start); rule != "" {
		addProp(props, rawProp(multivalue.PropRecurrenceRule, rule))
	}

	switch {
	case c.Event != nil:
		if c.Event.End != nil {
			addProp(props, scalar.EncodeProp(propDTEnd, scalar.FromRelational(*c.Event.End, c.Event.EndTZID, c.Event.EndAllDay)))
		}
		addRaw(props, propTransp, c.Event.Transparency)
	case c.ToDo != nil:
		if c.ToDo.Due != nil {
			addProp(props, scalar.EncodeProp(propDue, scalar.FromRelational(*c.ToDo.Due, c.ToDo.DueTZID, c.ToDo.DueAllDay)))
		}
		if c.ToDo.Completed != nil {
			addProp(props, scalar.EncodeInstant(propCompleted, *c.ToDo.Completed))
		}
		addInt(props, propPercentComplete, c.ToDo.PercentComplete)
	}

	applyICal(props, idx.extensions[c.ID])

	exceptions := idx.exceptions[c.ID]
	multivalue.SortBy(exceptions, func(e store.Exception) int { return e.SortIndex })
	for _, e := range exceptions {
		addChildProp(props, multivalue.ExceptionProp(e), idx.extensions[e.ID])
	}

	attendees := idx.attendees[c.ID]
	multivalue.SortBy(attendees, func(a store.Attendee) int { return a.SortIndex })
	for _, a := range attendees {
		addChildProp(props, multivalue.AttendeeProp(a), idx.extensions[a.ID])
	}

	attachments := idx.attachments[c.ID]
	multivalue.SortBy(attachments, func(a store.Attachment) int { return a.SortIndex })
	for _, a := range attachments {
		href := ""
		if opts.AttachmentHref != nil {
			href = opts.AttachmentHref(a)
		}
		if p := multivalue.AttachmentProp(a, href); p != nil {
			addChildProp(props, p, idx.extensions[a.ID])
		}
	}

	alarms := idx.alarms[c.ID]
	multivalue.SortBy(alarms, func(a store.Alarm) int { return a.SortIndex })
	for _, a := range alarms {
		alarm := multivalue.AlarmComponent(a)
		applyICal(alarm.Props, idx.extensions[a.ID])
		comp.Children = append(comp.Children, alarm)
	}
	return comp
}

// applyICal adds custom properties and merges stored parameters into the
// properties rebuilt from columns.
func applyICal(props ical.Props, rows []extension.Row) {
	for _, p := range extension.Collect(rows) {
		if p.Value != nil {
			props[p.Name] = append(props[p.Name], ical.Prop{Name: p.Name, Params: ical.Params(p.Params), Value: *p.Value})
			continue
		}
		generated := props[p.Name]
		if len(generated) == 0 {
			continue
		}
		target := min(p.SortIndex, len(generated)-1)
		if generated[target].Params == nil {
			generated[target].Params = make(ical.Params)
		}
		extension.MergeParams(generated[target].Params, p.Params)
	}
}

func addChildProp(props ical.Props, p *ical.Prop, rows []extension.Row) {
	one := make(ical.Props)
	addProp(one, p)
	applyICal(one, rows)
	for name, list := range one {
		props[name] = append(props[name], list...)
	}
}

func addProp(props ical.Props, p *ical.Prop) {
	props[p.Name] = append(props[p.Name], *p)
}

func rawProp(name, value string) *ical.Prop {
	p := scalar.NewProp(name)
	p.Value = value
	return p
}

func addText(props ical.Props, name string, value *string) {
	if value != nil {
		addProp(props, rawProp(name, scalar.EscapeText(*value)))
	}
}

func addRaw(props ical.Props, name string, value *string) {
	if value != nil {
		addProp(props, rawProp(name, *value))
	}
}

func addInt(props ical.Props, name string, value *int) {
	if value != nil {
		addProp(props, rawProp(name, strconv.Itoa(*value)))
	}
}

func decodeTimezones(text string) ([]*ical.Component, error) {
	cal, err := ical.NewDecoder(bytes.NewReader([]byte(text))).Decode()
	if err != nil {
		return nil, err
	}
	var zones []*ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompTimezone {
			zones = append(zones, child)
		}
	}
	return zones, nil
}

// EncodeCalendar renders a calendar as iCalendar text.
func EncodeCalendar(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MergeCalendars folds several objects into one calendar for collection
// export. Time zones are emitted once per TZID.
func MergeCalendars(objects []MaterializedCalendar, productID string) *ical.Calendar {
	merged := ical.NewCalendar()
	merged.Props.SetText(ical.PropVersion, "2.0")
	merged.Props.SetText(ical.PropProductID, productID)
	zones := make(map[string]bool)
	for _, m := range objects {
		for _, child := range m.Calendar.Children {
			if child.Name == ical.CompTimezone {
				tzid := ""
				if p := child.Props.Get(ical.PropTimezoneID); p != nil {
					tzid = p.Value
				}
				if zones[tzid] {
					continue
				}
				zones[tzid] = true
			}
			merged.Children = append(merged.Children, child)
		}
	}
	return merged
}
