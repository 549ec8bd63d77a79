package scalar

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Kind is the timezone kind of a date-time value.
type Kind int

const (
	Floating Kind = iota
	UTC
	Zoned
)

func (k Kind) String() string {
	switch k {
	case UTC:
		return "utc"
	case Zoned:
		return "zoned"
	default:
		return "floating"
	}
}

// ParamTZID names the time zone parameter of date-time properties.
const ParamTZID = "TZID"

// UTCZoneID is the TZID column value marking a UTC date-time.
const UTCZoneID = "UTC"

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
)

var localLayouts = []string{
	dateTimeLayout,
	"2006-01-02T15:04:05",
}

var absoluteLayouts = []string{
	"20060102T150405Z",
	"2006-01-02T15:04:05Z",
	"20060102T150405-0700",
	"20060102T150405-07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05-07:00",
}

// DateTime is a decoded DATE or DATE-TIME value. Time always carries the wall
// clock in the UTC location; Kind and TZID say how to read it.
type DateTime struct {
	Time   time.Time
	Kind   Kind
	TZID   string
	AllDay bool
}

// Parse decodes a DATE or DATE-TIME value. isDate reports a VALUE=DATE
// parameter; an eight digit value is treated as a date either way.
func Parse(value, tzid string, isDate bool) (DateTime, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return DateTime{}, invalid(value, "empty date-time")
	}

	if isDate || len(value) == len(dateLayout) {
		t, err := time.Parse(dateLayout, value)
		if err != nil {
			return DateTime{}, invalid(value, "expected a YYYYMMDD date")
		}
		return DateTime{Time: t, Kind: Floating, AllDay: true}, nil
	}

	if hasZoneSuffix(value) {
		for _, layout := range absoluteLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return DateTime{Time: t.UTC(), Kind: UTC}, nil
			}
		}
		return DateTime{}, invalid(value, "unrecognized date-time")
	}

	for _, layout := range localLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		tzid = strings.TrimSpace(tzid)
		if tzid == "" {
			return DateTime{Time: t, Kind: Floating}, nil
		}
		return DateTime{Time: t, Kind: Zoned, TZID: tzid}, nil
	}
	return DateTime{}, invalid(value, "unrecognized date-time")
}

// DecodeProp reads a DATE or DATE-TIME property honouring VALUE and TZID.
func DecodeProp(prop *ical.Prop) (DateTime, error) {
	return Parse(prop.Value, prop.Params.Get(ParamTZID), isDateParam(prop.Params))
}

// EncodeProp builds a property for a date-time value.
func EncodeProp(name string, d DateTime) *ical.Prop {
	prop := NewProp(name)
	value, tzid, isDate := d.Format()
	prop.Value = value
	if isDate {
		prop.Params[ical.ParamValue] = []string{"DATE"}
	}
	if tzid != "" {
		prop.Params[ParamTZID] = []string{tzid}
	}
	return prop
}

// NewProp returns an empty property with an initialized parameter map.
func NewProp(name string) *ical.Prop {
	return &ical.Prop{Name: name, Params: make(ical.Params)}
}

// Format renders the value text together with the TZID parameter it needs
// and whether VALUE=DATE applies.
func (d DateTime) Format() (value, tzid string, isDate bool) {
	if d.AllDay {
		return d.Time.Format(dateLayout), "", true
	}
	switch d.Kind {
	case UTC:
		return d.Time.Format(dateTimeLayout) + "Z", "", false
	case Zoned:
		return d.Time.Format(dateTimeLayout), d.TZID, false
	default:
		return d.Time.Format(dateTimeLayout), "", false
	}
}

// ToRelational splits a value into its timestamp column and TZID column.
func ToRelational(d DateTime) (time.Time, *string) {
	if d.AllDay {
		return dateOnly(d.Time), nil
	}
	switch d.Kind {
	case UTC:
		zone := UTCZoneID
		return d.Time, &zone
	case Zoned:
		zone := d.TZID
		return d.Time, &zone
	default:
		return d.Time, nil
	}
}

// FromRelational rebuilds a value from its columns. A NULL TZID means a
// floating time and the literal UTC means a UTC time.
func FromRelational(col time.Time, tzid *string, allDay bool) DateTime {
	wall := wallClock(col)
	if allDay {
		return DateTime{Time: dateOnly(wall), Kind: Floating, AllDay: true}
	}
	if tzid == nil || *tzid == "" {
		return DateTime{Time: wall, Kind: Floating}
	}
	if *tzid == UTCZoneID {
		return DateTime{Time: wall, Kind: UTC}
	}
	return DateTime{Time: wall, Kind: Zoned, TZID: *tzid}
}

// UTCInstant resolves the value to an absolute time. Zoned values are
// converted when the zone is known to the runtime; floating values and
// unknown zones are taken as UTC.
func UTCInstant(d DateTime) time.Time {
	if d.Kind == Zoned {
		if loc, err := time.LoadLocation(d.TZID); err == nil {
			return inLocation(d.Time, loc).UTC()
		}
	}
	return d.Time
}

// DecodeInstant parses a property that must hold an absolute time such as
// DTSTAMP or COMPLETED.
func DecodeInstant(prop *ical.Prop) (time.Time, error) {
	d, err := DecodeProp(prop)
	if err != nil {
		return time.Time{}, err
	}
	return UTCInstant(d), nil
}

// EncodeInstant builds a UTC date-time property.
func EncodeInstant(name string, t time.Time) *ical.Prop {
	return EncodeProp(name, DateTime{Time: t.UTC(), Kind: UTC})
}

// DeriveUntil coerces an RRULE UNTIL into the kind dictated by the
// component start: a date for all-day starts, a floating time for floating
// starts and UTC otherwise.
func DeriveUntil(until, start DateTime) DateTime {
	switch {
	case start.AllDay:
		instant := until.Time
		if until.Kind == Zoned {
			instant = UTCInstant(until)
		}
		return DateTime{Time: dateOnly(instant), Kind: Floating, AllDay: true}
	case start.Kind == Floating:
		if until.AllDay {
			return DateTime{Time: endOfDay(until.Time), Kind: Floating}
		}
		return DateTime{Time: until.Time, Kind: Floating}
	default:
		if until.Kind == UTC && !until.AllDay {
			return until
		}
		wall := until.Time
		if until.AllDay {
			wall = endOfDay(until.Time)
		}
		if start.Kind == Zoned {
			if loc, err := time.LoadLocation(start.TZID); err == nil {
				return DateTime{Time: inLocation(wall, loc).UTC(), Kind: UTC}
			}
		}
		return DateTime{Time: wall, Kind: UTC}
	}
}

// UntilFromRelational rebuilds an UNTIL column in the kind its start implies.
func UntilFromRelational(col time.Time, start DateTime) DateTime {
	wall := wallClock(col)
	switch {
	case start.AllDay:
		return DateTime{Time: dateOnly(wall), Kind: Floating, AllDay: true}
	case start.Kind == Floating:
		return DateTime{Time: wall, Kind: Floating}
	default:
		return DateTime{Time: wall, Kind: UTC}
	}
}

func isDateParam(params ical.Params) bool {
	return strings.EqualFold(params.Get(ical.ParamValue), "DATE")
}

func hasZoneSuffix(s string) bool {
	if strings.HasSuffix(s, "Z") {
		return true
	}
	if len(s) >= 5 {
		tail := s[len(s)-5:]
		if (tail[0] == '+' || tail[0] == '-') && isDigits(tail[1:]) {
			return true
		}
	}
	if len(s) >= 6 {
		tail := s[len(s)-6:]
		if (tail[0] == '+' || tail[0] == '-') && tail[3] == ':' && isDigits(tail[1:3]) && isDigits(tail[4:]) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func inLocation(wall time.Time, loc *time.Location) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(), wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), loc)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, time.UTC)
}
