package scalar

import (
	"strconv"
	"strings"
	"time"
)

// Duration is an RFC 5545 dur-value. Week durations cannot be mixed with
// other units.
type Duration struct {
	Negative bool
	Weeks    int
	Days     int
	Hours    int
	Minutes  int
	Seconds  int
}

// ParseDuration decodes values such as P1W, -PT15M or P1DT2H.
func ParseDuration(value string) (Duration, error) {
	raw := value
	value = strings.ToUpper(strings.TrimSpace(value))
	var d Duration
	switch {
	case strings.HasPrefix(value, "-"):
		d.Negative = true
		value = value[1:]
	case strings.HasPrefix(value, "+"):
		value = value[1:]
	}
	if !strings.HasPrefix(value, "P") || len(value) < 3 {
		return Duration{}, invalid(raw, "duration must start with P")
	}
	value = value[1:]

	inTime := false
	seen := false
	timeUnits := 0
	num := ""
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return Duration{}, invalid(raw, "misplaced T")
			}
			inTime = true
			continue
		}
		if num == "" {
			return Duration{}, invalid(raw, "missing number before unit")
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return Duration{}, invalid(raw, "number out of range")
		}
		num = ""
		seen = true
		if inTime {
			timeUnits++
		}
		switch {
		case r == 'W' && !inTime:
			d.Weeks = n
		case r == 'D' && !inTime:
			d.Days = n
		case r == 'H' && inTime:
			d.Hours = n
		case r == 'M' && inTime:
			d.Minutes = n
		case r == 'S' && inTime:
			d.Seconds = n
		default:
			return Duration{}, invalid(raw, "unexpected unit "+string(r))
		}
	}
	if num != "" || !seen || (inTime && timeUnits == 0) {
		return Duration{}, invalid(raw, "incomplete duration")
	}
	if d.Weeks > 0 && (d.Days > 0 || d.Hours > 0 || d.Minutes > 0 || d.Seconds > 0) {
		return Duration{}, invalid(raw, "weeks cannot be combined with other units")
	}
	return d, nil
}

// String renders the normalized form stored in duration columns.
func (d Duration) String() string {
	var b strings.Builder
	if d.Negative {
		b.WriteByte('-')
	}
	b.WriteByte('P')
	if d.Weeks > 0 {
		b.WriteString(strconv.Itoa(d.Weeks))
		b.WriteByte('W')
		return b.String()
	}
	if d.Days > 0 {
		b.WriteString(strconv.Itoa(d.Days))
		b.WriteByte('D')
	}
	if d.Hours > 0 || d.Minutes > 0 || d.Seconds > 0 {
		b.WriteByte('T')
		if d.Hours > 0 {
			b.WriteString(strconv.Itoa(d.Hours))
			b.WriteByte('H')
		}
		if d.Minutes > 0 {
			b.WriteString(strconv.Itoa(d.Minutes))
			b.WriteByte('M')
		}
		if d.Seconds > 0 {
			b.WriteString(strconv.Itoa(d.Seconds))
			b.WriteByte('S')
		}
	}
	if d.Days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0 {
		b.WriteString("T0S")
	}
	return b.String()
}

// Value returns the duration as a time.Duration, counting a day as 24 hours.
func (d Duration) Value() time.Duration {
	total := time.Duration(d.Weeks)*7*24*time.Hour +
		time.Duration(d.Days)*24*time.Hour +
		time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second
	if d.Negative {
		return -total
	}
	return total
}

// NormalizeDuration parses and re-renders a duration for its column.
func NormalizeDuration(value string) (string, error) {
	d, err := ParseDuration(value)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}
