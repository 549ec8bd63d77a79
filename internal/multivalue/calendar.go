package multivalue

import (
	"encoding/base64"
	"strings"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

// Property and parameter names handled by the calendar child codecs.
const (
	PropExceptionDate = "EXDATE"
	PropAttendee      = "ATTENDEE"
	PropAttach        = "ATTACH"
	PropAction        = "ACTION"
	PropTrigger       = "TRIGGER"
	PropSummary       = "SUMMARY"
	PropDescription   = "DESCRIPTION"
	PropDuration      = "DURATION"
	PropRepeat        = "REPEAT"

	ParamCommonName    = "CN"
	ParamDir           = "DIR"
	ParamLanguage      = "LANGUAGE"
	ParamCUType        = "CUTYPE"
	ParamSentBy        = "SENT-BY"
	ParamDelegatedFrom = "DELEGATED-FROM"
	ParamDelegatedTo   = "DELEGATED-TO"
	ParamRSVP          = "RSVP"
	ParamRole          = "ROLE"
	ParamPartStat      = "PARTSTAT"
	ParamFormatType    = "FMTTYPE"
	ParamEncoding      = "ENCODING"
	ParamManagedID     = "MANAGED-ID"
	ParamRelated       = "RELATED"
)

// Parameters consumed by child columns. Anything else on the property goes
// to the extension store.
var (
	ExceptionParams  = []string{scalar.ParamTZID, ical.ParamValue}
	AttendeeParams   = []string{ParamCommonName, ParamDir, ParamLanguage, ParamCUType, ParamSentBy, ParamDelegatedFrom, ParamDelegatedTo, ParamRSVP, ParamRole, ParamPartStat}
	AttachmentParams = []string{ParamFormatType, ical.ParamValue, ParamEncoding}
)

// Exceptions turns one EXDATE property, which may list several dates, into
// exception rows numbered from next.
func Exceptions(prop *ical.Prop, owner Owner, next int) ([]store.Exception, error) {
	tzid := prop.Params.Get(scalar.ParamTZID)
	isDate := strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE")

	var rows []store.Exception
	for _, value := range strings.Split(prop.Value, ",") {
		if strings.TrimSpace(value) == "" {
			continue
		}
		d, err := scalar.Parse(value, tzid, isDate)
		if err != nil {
			return nil, err
		}
		col, zone := scalar.ToRelational(d)
		rows = append(rows, store.Exception{
			ID:          owner.NewID(),
			ObjectID:    owner.ObjectID,
			ComponentID: owner.ComponentID,
			UID:         owner.UID,
			Date:        col,
			TZID:        zone,
			AllDay:      d.AllDay,
			SortIndex:   next,
		})
		next++
	}
	return rows, nil
}

// ExceptionProp renders one exception row as its own EXDATE property.
func ExceptionProp(row store.Exception) *ical.Prop {
	return scalar.EncodeProp(PropExceptionDate, scalar.FromRelational(row.Date, row.TZID, row.AllDay))
}

// Attendee decodes an ATTENDEE property. Only the first value of the
// delegation parameters is kept.
func Attendee(prop *ical.Prop, owner Owner, sortIndex int) (store.Attendee, error) {
	address := strings.TrimSpace(prop.Value)
	if address == "" {
		return store.Attendee{}, &scalar.ValueError{Value: prop.Value, Reason: "empty attendee address"}
	}
	row := store.Attendee{
		ID:            owner.NewID(),
		ObjectID:      owner.ObjectID,
		ComponentID:   owner.ComponentID,
		UID:           owner.UID,
		Address:       address,
		CommonName:    firstParam(prop.Params[ParamCommonName]),
		Directory:     firstParam(prop.Params[ParamDir]),
		Language:      firstParam(prop.Params[ParamLanguage]),
		SentBy:        firstParam(prop.Params[ParamSentBy]),
		DelegatedFrom: firstParam(prop.Params[ParamDelegatedFrom]),
		DelegatedTo:   firstParam(prop.Params[ParamDelegatedTo]),
		SortIndex:     sortIndex,
	}
	if v := firstParam(prop.Params[ParamRSVP]); v != nil {
		rsvp, err := scalar.ParseBool(*v)
		if err != nil {
			return store.Attendee{}, err
		}
		row.RSVP = &rsvp
	}
	var err error
	if row.UserType, err = normalizeParam(prop.Params[ParamCUType], scalar.CUType); err != nil {
		return store.Attendee{}, err
	}
	if row.Role, err = normalizeParam(prop.Params[ParamRole], scalar.Role); err != nil {
		return store.Attendee{}, err
	}
	if row.Status, err = normalizeParam(prop.Params[ParamPartStat], scalar.PartStat); err != nil {
		return store.Attendee{}, err
	}
	return row, nil
}

// AttendeeProp renders an attendee row. Delegation parameters always carry
// a single value.
func AttendeeProp(row store.Attendee) *ical.Prop {
	prop := scalar.NewProp(PropAttendee)
	prop.Value = row.Address
	setParam(prop.Params, ParamCommonName, row.CommonName)
	setParam(prop.Params, ParamDir, row.Directory)
	setParam(prop.Params, ParamLanguage, row.Language)
	setParam(prop.Params, ParamCUType, row.UserType)
	setParam(prop.Params, ParamSentBy, row.SentBy)
	setParam(prop.Params, ParamDelegatedFrom, row.DelegatedFrom)
	setParam(prop.Params, ParamDelegatedTo, row.DelegatedTo)
	setParam(prop.Params, ParamRole, row.Role)
	setParam(prop.Params, ParamPartStat, row.Status)
	if row.RSVP != nil {
		prop.Params[ParamRSVP] = []string{scalar.FormatBool(*row.RSVP)}
	}
	return prop
}

// Attachment decodes an ATTACH property holding either a URI or inline
// base64 content. A MANAGED-ID naming a stored attachment marks the row for
// content carry-over.
func Attachment(prop *ical.Prop, owner Owner, sortIndex int) (store.Attachment, error) {
	row := store.Attachment{
		ID:          owner.NewID(),
		ObjectID:    owner.ObjectID,
		ComponentID: owner.ComponentID,
		UID:         owner.UID,
		MediaType:   firstParam(prop.Params[ParamFormatType]),
		SortIndex:   sortIndex,
	}
	inline := strings.EqualFold(prop.Params.Get(ical.ParamValue), "BINARY") ||
		strings.EqualFold(prop.Params.Get(ParamEncoding), "BASE64")
	if inline {
		content, err := base64.StdEncoding.DecodeString(strings.TrimSpace(prop.Value))
		if err != nil {
			return store.Attachment{}, &scalar.ValueError{Value: "ATTACH", Reason: "invalid base64 content"}
		}
		row.Content = content
		row.HasContent = true
		return row, nil
	}

	row.ExternalURL = nonEmpty(prop.Value)
	if row.ExternalURL == nil {
		return store.Attachment{}, &scalar.ValueError{Value: prop.Value, Reason: "empty attachment"}
	}
	if managed := prop.Params.Get(ParamManagedID); managed != "" {
		if id, err := uuid.Parse(managed); err == nil {
			row.CarryFrom = &id
		}
	}
	return row, nil
}

// AttachmentConsumed lists the parameters a decoded attachment absorbed.
func AttachmentConsumed(row store.Attachment) []string {
	if row.CarryFrom != nil {
		return append([]string{ParamManagedID}, AttachmentParams...)
	}
	return AttachmentParams
}

// AttachmentProp renders an attachment row. Loaded content is emitted
// inline; stored content without loaded bytes is referenced through href.
// It returns nil when neither is available.
func AttachmentProp(row store.Attachment, href string) *ical.Prop {
	prop := scalar.NewProp(PropAttach)
	setParam(prop.Params, ParamFormatType, row.MediaType)
	switch {
	case row.Content != nil:
		prop.Params[ical.ParamValue] = []string{"BINARY"}
		prop.Params[ParamEncoding] = []string{"BASE64"}
		prop.Value = base64.StdEncoding.EncodeToString(row.Content)
	case row.HasContent && href != "":
		prop.Params[ParamManagedID] = []string{row.ID.String()}
		prop.Value = href
	case row.ExternalURL != nil:
		prop.Value = *row.ExternalURL
	default:
		return nil
	}
	return prop
}

// AlarmProps are the VALARM properties with dedicated columns.
var AlarmProps = []string{PropAction, PropTrigger, PropSummary, PropDescription, PropDuration, PropRepeat}

// AlarmConsumed lists the parameters absorbed by an alarm column.
func AlarmConsumed(name string) []string {
	if name == PropTrigger {
		return []string{ical.ParamValue, ParamRelated}
	}
	return nil
}

// Alarm decodes the first occurrence of each mapped VALARM property.
func Alarm(comp *ical.Component, owner Owner, sortIndex int) (store.Alarm, error) {
	row := store.Alarm{
		ID:          owner.NewID(),
		ObjectID:    owner.ObjectID,
		ComponentID: owner.ComponentID,
		UID:         owner.UID,
		SortIndex:   sortIndex,
	}

	action := comp.Props.Get(PropAction)
	if action == nil {
		return store.Alarm{}, &scalar.ValueError{Value: "VALARM", Reason: "missing ACTION"}
	}
	var err error
	if row.Action, err = scalar.Action.Normalize(action.Value); err != nil {
		return store.Alarm{}, err
	}

	trigger := comp.Props.Get(PropTrigger)
	if trigger == nil {
		return store.Alarm{}, &scalar.ValueError{Value: "VALARM", Reason: "missing TRIGGER"}
	}
	if strings.EqualFold(trigger.Params.Get(ical.ParamValue), "DATE-TIME") {
		at, err := scalar.DecodeInstant(trigger)
		if err != nil {
			return store.Alarm{}, err
		}
		row.TriggerAbsolute = &at
	} else {
		rel, err := scalar.NormalizeDuration(trigger.Value)
		if err != nil {
			return store.Alarm{}, err
		}
		row.TriggerRelative = &rel
		row.TriggerRelatedEnd = strings.EqualFold(trigger.Params.Get(ParamRelated), "END")
	}

	if p := comp.Props.Get(PropSummary); p != nil {
		row.Summary = text(p.Value)
	}
	if p := comp.Props.Get(PropDescription); p != nil {
		row.Description = text(p.Value)
	}
	if p := comp.Props.Get(PropDuration); p != nil {
		d, err := scalar.NormalizeDuration(p.Value)
		if err != nil {
			return store.Alarm{}, err
		}
		row.Duration = &d
	}
	if p := comp.Props.Get(PropRepeat); p != nil {
		n, err := scalar.ParseInt(p.Value, 0, 1<<20)
		if err != nil {
			return store.Alarm{}, err
		}
		row.Repeat = &n
	}
	return row, nil
}

// AlarmComponent renders an alarm row as a VALARM component.
func AlarmComponent(row store.Alarm) *ical.Component {
	comp := &ical.Component{Name: ical.CompAlarm, Props: make(ical.Props)}
	add(comp.Props, textProp(PropAction, row.Action, false))

	var trigger *ical.Prop
	switch {
	case row.TriggerAbsolute != nil:
		trigger = scalar.EncodeInstant(PropTrigger, *row.TriggerAbsolute)
		trigger.Params[ical.ParamValue] = []string{"DATE-TIME"}
	case row.TriggerRelative != nil:
		trigger = textProp(PropTrigger, *row.TriggerRelative, false)
		if row.TriggerRelatedEnd {
			trigger.Params[ParamRelated] = []string{"END"}
		}
	}
	if trigger != nil {
		add(comp.Props, trigger)
	}
	if row.Summary != nil {
		add(comp.Props, textProp(PropSummary, *row.Summary, true))
	}
	if row.Description != nil {
		add(comp.Props, textProp(PropDescription, *row.Description, true))
	}
	if row.Duration != nil {
		add(comp.Props, textProp(PropDuration, *row.Duration, false))
	}
	if row.Repeat != nil {
		add(comp.Props, textProp(PropRepeat, itoa(*row.Repeat), false))
	}
	return comp
}

func normalizeParam(values []string, enum scalar.Enum) (*string, error) {
	v := firstParam(values)
	if v == nil {
		return nil, nil
	}
	n, err := enum.Normalize(*v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func setParam(params ical.Params, name string, value *string) {
	if value != nil && *value != "" {
		params[name] = []string{*value}
	}
}

func text(raw string) *string {
	v := scalar.UnescapeText(raw)
	return &v
}

func textProp(name, value string, escape bool) *ical.Prop {
	prop := scalar.NewProp(name)
	if escape {
		value = scalar.EscapeText(value)
	}
	prop.Value = value
	return prop
}

func add(props ical.Props, prop *ical.Prop) {
	props[prop.Name] = append(props[prop.Name], *prop)
}
