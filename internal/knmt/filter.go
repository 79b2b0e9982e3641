package knmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Op is a predicate operator.
type Op string

const (
	OpContains Op = "contains"
	OpEquals   Op = "eq"
)

// Predicate tests one field.
type Predicate struct {
	Field string
	Op    Op
	Value string
}

// DateRange is inclusive on both ends; zero bounds are open.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (d DateRange) empty() bool { return d.From.IsZero() && d.To.IsZero() }

func (d DateRange) contains(t time.Time) bool {
	day := truncateDay(t)
	if !d.From.IsZero() && day.Before(truncateDay(d.From)) {
		return false
	}
	if !d.To.IsZero() && day.After(truncateDay(d.To)) {
		return false
	}
	return true
}

// Filter combines predicates. Any switches from AND to OR across all
// predicates and date ranges.
type Filter struct {
	Predicates []Predicate
	Created    DateRange
	Changed    DateRange
	Any        bool
}

// DefaultFilter mirrors the list screen: kunnr, vkorg and kdmat are
// substring matches, status is exact.
func DefaultFilter(kunnr, vkorg, kdmat, status string) Filter {
	var f Filter
	add := func(name string, op Op, v string) {
		if v = strings.TrimSpace(v); v != "" {
			f.Predicates = append(f.Predicates, Predicate{Field: name, Op: op, Value: v})
		}
	}
	add("kunnr", OpContains, kunnr)
	add("vkorg", OpContains, vkorg)
	add("kdmat", OpContains, kdmat)
	add("status", OpEquals, status)
	return f
}

// Empty reports whether the filter accepts everything.
func (f Filter) Empty() bool {
	return len(f.Predicates) == 0 && f.Created.empty() && f.Changed.empty()
}

// Validate rejects unknown fields and operators.
func (f Filter) Validate() error {
	for _, p := range f.Predicates {
		if _, ok := lookupField(p.Field); !ok {
			return fmt.Errorf("unknown filter field %q", p.Field)
		}
		if p.Op != OpContains && p.Op != OpEquals {
			return fmt.Errorf("unknown filter operator %q", p.Op)
		}
	}
	return nil
}

// Match evaluates the filter. Text comparisons ignore case. A record whose
// date cannot be parsed never satisfies a date range.
func (f Filter) Match(r Record) bool {
	if f.Empty() {
		return true
	}
	var results []bool
	for _, p := range f.Predicates {
		v, _ := r.Value(p.Field)
		results = append(results, p.match(v))
	}
	if !f.Created.empty() {
		t, ok := ParseDate(r.Erdat)
		results = append(results, ok && f.Created.contains(t))
	}
	if !f.Changed.empty() {
		t, ok := ParseDate(r.Aedat)
		results = append(results, ok && f.Changed.contains(t))
	}
	for _, ok := range results {
		if f.Any && ok {
			return true
		}
		if !f.Any && !ok {
			return false
		}
	}
	return !f.Any
}

func (p Predicate) match(v string) bool {
	switch p.Op {
	case OpEquals:
		return strings.EqualFold(strings.TrimSpace(v), p.Value)
	default:
		return strings.Contains(strings.ToLower(v), strings.ToLower(p.Value))
	}
}

// Apply returns the records matching f, preserving order.
func (f Filter) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

var odataDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// ParseDate understands the date encodings the backend has been seen to
// use: OData v2 /Date(ms)/, SAP YYYYMMDD, ISO dates and RFC 3339.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "00000000" {
		return time.Time{}, false
	}
	if m := odataDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		return time.UnixMilli(ms).UTC(), true
	}
	for _, layout := range []string{"20060102", "2006-01-02", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
