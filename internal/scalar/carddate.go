package scalar

import (
	"strings"
	"time"
)

// omittedYear is the placeholder year stored for dates without a year. It is
// a leap year so that --0229 survives.
const omittedYear = 1604

// CardDate is a vCard BDAY or ANNIVERSARY reduced to a calendar date.
type CardDate struct {
	Date     time.Time
	OmitYear bool
}

var cardDateLayouts = []string{
	"20060102",
	"2006-01-02",
}

var cardDateTimeLayouts = []string{
	"20060102T150405Z",
	"20060102T150405",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"20060102T150405-0700",
	"2006-01-02T15:04:05-07:00",
}

// ParseCardDate decodes the date forms used by vCard 2.1, 3.0 and 4.0.
func ParseCardDate(value string) (CardDate, error) {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(v, "--") {
		md := strings.ReplaceAll(strings.TrimPrefix(v, "--"), "-", "")
		if len(md) != 4 {
			return CardDate{}, invalid(value, "expected --MMDD")
		}
		t, err := time.Parse("20060102", "1604"+md)
		if err != nil {
			return CardDate{}, invalid(value, "expected --MMDD")
		}
		return CardDate{Date: t, OmitYear: true}, nil
	}
	for _, layout := range cardDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return CardDate{Date: t}, nil
		}
	}
	for _, layout := range cardDateTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return CardDate{Date: dateOnly(t)}, nil
		}
	}
	return CardDate{}, invalid(value, "unrecognized date")
}

// CardDateFromRelational rebuilds a date from its DATE column.
func CardDateFromRelational(col time.Time, omitYear bool) CardDate {
	return CardDate{Date: dateOnly(col), OmitYear: omitYear}
}

// ToRelational returns the DATE column value, using a placeholder year when
// the year is omitted.
func (d CardDate) ToRelational() time.Time {
	if d.OmitYear {
		return time.Date(omittedYear, d.Date.Month(), d.Date.Day(), 0, 0, 0, 0, time.UTC)
	}
	return dateOnly(d.Date)
}

// Format renders the date for the given vCard version: basic format for
// 4.0, extended format for older versions.
func (d CardDate) Format(version string) string {
	if version == "4.0" {
		if d.OmitYear {
			return d.Date.Format("--0102")
		}
		return d.Date.Format("20060102")
	}
	if d.OmitYear {
		return d.Date.Format("--01-02")
	}
	return d.Date.Format("2006-01-02")
}

// ParseTimestamp decodes a vCard REV value into UTC.
func ParseTimestamp(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	for _, layout := range cardDateTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range cardDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalid(value, "unrecognized timestamp")
}

// FormatTimestamp renders a REV value.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}
