package scalar

import (
	"strconv"
	"strings"
)

// Enum is a closed set of known values. Unless strict, iana and x-name
// tokens outside the set are kept verbatim.
type Enum struct {
	name   string
	known  map[string]struct{}
	strict bool
}

func newEnum(name string, strict bool, values ...string) Enum {
	known := make(map[string]struct{}, len(values))
	for _, v := range values {
		known[v] = struct{}{}
	}
	return Enum{name: name, known: known, strict: strict}
}

var (
	Status       = newEnum("STATUS", false, "TENTATIVE", "CONFIRMED", "CANCELLED", "NEEDS-ACTION", "COMPLETED", "IN-PROCESS", "DRAFT", "FINAL")
	Class        = newEnum("CLASS", false, "PUBLIC", "PRIVATE", "CONFIDENTIAL")
	Transparency = newEnum("TRANSP", true, "OPAQUE", "TRANSPARENT")
	Action       = newEnum("ACTION", false, "AUDIO", "DISPLAY", "EMAIL", "PROCEDURE")
	Role         = newEnum("ROLE", false, "CHAIR", "REQ-PARTICIPANT", "OPT-PARTICIPANT", "NON-PARTICIPANT")
	PartStat     = newEnum("PARTSTAT", false, "NEEDS-ACTION", "ACCEPTED", "DECLINED", "TENTATIVE", "DELEGATED", "COMPLETED", "IN-PROCESS")
	CUType       = newEnum("CUTYPE", false, "INDIVIDUAL", "GROUP", "RESOURCE", "ROOM", "UNKNOWN")
	Frequency    = newEnum("FREQ", true, "SECONDLY", "MINUTELY", "HOURLY", "DAILY", "WEEKLY", "MONTHLY", "YEARLY")
	Weekday      = newEnum("WKST", true, "MO", "TU", "WE", "TH", "FR", "SA", "SU")
	CardKind     = newEnum("KIND", false, "INDIVIDUAL", "GROUP", "ORG", "LOCATION")
)

// Normalize returns the stored form of raw: upper case for known values,
// verbatim for other valid tokens.
func (e Enum) Normalize(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", invalid(raw, "empty "+e.name)
	}
	upper := strings.ToUpper(value)
	if _, ok := e.known[upper]; ok {
		return upper, nil
	}
	if e.strict || !isToken(value) {
		return "", invalid(raw, "unknown "+e.name)
	}
	return value, nil
}

// Known reports whether value is one of the enumerated values.
func (e Enum) Known(value string) bool {
	_, ok := e.known[strings.ToUpper(value)]
	return ok
}

func isToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

// ParseBool decodes an RFC 5545 BOOLEAN.
func ParseBool(value string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "TRUE":
		return true, nil
	case "FALSE":
		return false, nil
	}
	return false, invalid(value, "expected TRUE or FALSE")
}

// FormatBool renders an RFC 5545 BOOLEAN.
func FormatBool(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// ParseInt decodes an integer and checks it lies within [min, max].
func ParseInt(value string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, invalid(value, "expected an integer")
	}
	if n < min || n > max {
		return 0, invalid(value, "integer out of range "+strconv.Itoa(min)+".."+strconv.Itoa(max))
	}
	return n, nil
}
