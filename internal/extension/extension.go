// Package extension stores properties and parameters that have no
// dedicated column as name/value rows, and rebuilds them on read.
package extension

import (
	"cmp"
	"slices"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Row is one value row (ParameterName nil) or parameter row of a property
// owned by ParentID. SortIndex is the occurrence index of the property name
// on that parent.
type Row struct {
	ParentID      uuid.UUID
	PropertyName  string
	ParameterName *string
	Value         string
	SortIndex     int
}

// IsCustom reports whether a property is stored entirely in the extension
// store: x-names, and for contacts any grouped composite name such as
// item1.EMAIL.
func IsCustom(name string, contacts bool) bool {
	group, base := SplitComposite(name)
	if contacts && group != "" {
		return true
	}
	return strings.HasPrefix(strings.ToUpper(base), "X-")
}

// CompositeName joins a vCard group and property name.
func CompositeName(group, name string) string {
	if group == "" {
		return name
	}
	return group + "." + name
}

// SplitComposite reverses CompositeName.
func SplitComposite(name string) (group, base string) {
	if i := strings.IndexByte(name, '.'); i > 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// Extractor collects rows for one parent. Every property offered to it,
// mapped or not, advances the occurrence counter of its name.
type Extractor struct {
	parent uuid.UUID
	counts map[string]int
	rows   []Row
}

// NewExtractor returns an extractor for rows owned by parent.
func NewExtractor(parent uuid.UUID) *Extractor {
	return &Extractor{parent: parent, counts: make(map[string]int)}
}

// Custom records a property without a dedicated column: its value and all
// of its parameters.
func (x *Extractor) Custom(name, value string, params map[string][]string) {
	idx := x.next(name)
	x.rows = append(x.rows, Row{ParentID: x.parent, PropertyName: name, Value: value, SortIndex: idx})
	x.params(name, idx, params, nil)
}

// Mapped records the parameters of a column-backed property that no column
// consumed. X- parameters are never consumed.
func (x *Extractor) Mapped(name string, params map[string][]string, consumed ...string) {
	idx := x.next(name)
	x.params(name, idx, params, consumed)
}

// Rows returns the collected rows.
func (x *Extractor) Rows() []Row {
	return x.rows
}

func (x *Extractor) next(name string) int {
	idx := x.counts[name]
	x.counts[name] = idx + 1
	return idx
}

func (x *Extractor) params(name string, idx int, params map[string][]string, consumed []string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if isConsumed(k, consumed) {
			continue
		}
		for _, v := range params[k] {
			param := k
			x.rows = append(x.rows, Row{ParentID: x.parent, PropertyName: name, ParameterName: &param, Value: v, SortIndex: idx})
		}
	}
}

func isConsumed(param string, consumed []string) bool {
	if strings.HasPrefix(strings.ToUpper(param), "X-") {
		return false
	}
	for _, c := range consumed {
		if strings.EqualFold(c, param) {
			return true
		}
	}
	return false
}

// Property is one reconstructed occurrence. Value is nil when the rows only
// carry parameters for a property rebuilt from columns.
type Property struct {
	Name      string
	SortIndex int
	Value     *string
	Params    map[string][]string
}

// Collect groups rows by property name and occurrence, ordered by name and
// then SortIndex.
func Collect(rows []Row) []Property {
	type key struct {
		name string
		idx  int
	}
	byKey := make(map[key]*Property)
	var order []key
	for _, r := range rows {
		k := key{name: r.PropertyName, idx: r.SortIndex}
		p, ok := byKey[k]
		if !ok {
			p = &Property{Name: r.PropertyName, SortIndex: r.SortIndex, Params: make(map[string][]string)}
			byKey[k] = p
			order = append(order, k)
		}
		if r.ParameterName == nil {
			v := r.Value
			p.Value = &v
			continue
		}
		p.Params[*r.ParameterName] = appendUnique(p.Params[*r.ParameterName], r.Value)
	}

	slices.SortFunc(order, func(a, b key) int {
		if c := cmp.Compare(a.name, b.name); c != 0 {
			return c
		}
		return cmp.Compare(a.idx, b.idx)
	})
	out := make([]Property, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	return out
}

// MergeParams unions src into dst, keeping existing values first.
func MergeParams(dst, src map[string][]string) {
	for name, values := range src {
		for _, v := range values {
			dst[name] = appendUnique(dst[name], v)
		}
	}
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}
