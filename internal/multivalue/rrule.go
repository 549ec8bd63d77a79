package multivalue

import (
	"strconv"
	"strings"

	"github.com/teambition/rrule-go"

	"github.com/jw6ventures/calstore/internal/scalar"
	"github.com/jw6ventures/calstore/internal/store"
)

// PropRecurrenceRule names the RRULE property.
const PropRecurrenceRule = "RRULE"

// rule parts with a dedicated column
var ruleColumns = map[string]bool{
	"FREQ":       true,
	"INTERVAL":   true,
	"UNTIL":      true,
	"COUNT":      true,
	"WKST":       true,
	"BYDAY":      true,
	"BYMONTHDAY": true,
	"BYMONTH":    true,
	"BYSETPOS":   true,
}

// DecodeRule validates an RRULE value and splits it into rule columns. UNTIL
// is coerced into the kind dictated by start. When both COUNT and UNTIL are
// present COUNT wins.
//
// ok is false when the rule uses parts without a column (BYHOUR, BYWEEKNO,
// ...); such rules are kept verbatim by the caller.
func DecodeRule(value string, start scalar.DateTime) (rule *store.RecurrenceRule, ok bool, err error) {
	value = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "RRULE:"))
	if _, err := rrule.StrToRRule(strings.ToUpper(value)); err != nil {
		return nil, false, &scalar.ValueError{Value: value, Reason: err.Error()}
	}

	parts := make(map[string]string)
	for _, part := range strings.Split(value, ";") {
		if part == "" {
			continue
		}
		key, val, found := strings.Cut(part, "=")
		if !found {
			return nil, false, &scalar.ValueError{Value: value, Reason: "malformed rule part " + part}
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if !ruleColumns[key] {
			return nil, false, nil
		}
		parts[key] = strings.TrimSpace(val)
	}

	freq, err := scalar.Frequency.Normalize(parts["FREQ"])
	if err != nil {
		return nil, false, err
	}
	rule = &store.RecurrenceRule{Frequency: freq}

	if v, has := parts["INTERVAL"]; has {
		n, err := scalar.ParseInt(v, 1, 1<<20)
		if err != nil {
			return nil, false, err
		}
		rule.Interval = &n
	}
	if v, has := parts["COUNT"]; has {
		n, err := scalar.ParseInt(v, 1, 1<<30)
		if err != nil {
			return nil, false, err
		}
		rule.Count = &n
	}
	if v, has := parts["UNTIL"]; has && rule.Count == nil {
		until, err := scalar.Parse(v, "", false)
		if err != nil {
			return nil, false, err
		}
		col, _ := scalar.ToRelational(scalar.DeriveUntil(until, start))
		rule.Until = &col
	}
	if v, has := parts["WKST"]; has {
		wkst, err := scalar.Weekday.Normalize(v)
		if err != nil {
			return nil, false, err
		}
		rule.WeekStart = &wkst
	}
	rule.ByDay = upperList(parts["BYDAY"])
	rule.ByMonthDay = upperList(parts["BYMONTHDAY"])
	rule.ByMonth = upperList(parts["BYMONTH"])
	rule.BySetPos = upperList(parts["BYSETPOS"])
	return rule, true, nil
}

// EncodeRule rebuilds RRULE text from the rule columns. It returns "" when
// the rule has no frequency.
func EncodeRule(rule *store.RecurrenceRule, start scalar.DateTime) string {
	if rule == nil || rule.Frequency == "" {
		return ""
	}
	parts := []string{"FREQ=" + rule.Frequency}
	if rule.Interval != nil {
		parts = append(parts, "INTERVAL="+itoa(*rule.Interval))
	}
	switch {
	case rule.Count != nil:
		parts = append(parts, "COUNT="+itoa(*rule.Count))
	case rule.Until != nil:
		value, _, _ := scalar.UntilFromRelational(*rule.Until, start).Format()
		parts = append(parts, "UNTIL="+value)
	}
	if rule.ByDay != nil {
		parts = append(parts, "BYDAY="+*rule.ByDay)
	}
	if rule.ByMonthDay != nil {
		parts = append(parts, "BYMONTHDAY="+*rule.ByMonthDay)
	}
	if rule.ByMonth != nil {
		parts = append(parts, "BYMONTH="+*rule.ByMonth)
	}
	if rule.BySetPos != nil {
		parts = append(parts, "BYSETPOS="+*rule.BySetPos)
	}
	if rule.WeekStart != nil {
		parts = append(parts, "WKST="+*rule.WeekStart)
	}
	return strings.Join(parts, ";")
}

func upperList(v string) *string {
	if v == "" {
		return nil
	}
	v = strings.ToUpper(strings.ReplaceAll(v, " ", ""))
	return &v
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
