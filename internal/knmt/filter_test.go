package knmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleRecords() []Record {
	return []Record{
		{Kunnr: "0000001234", Vkorg: "1000", Kdmat: "ABC-1", Status: StatusPending, Erdat: "20250110", Aedat: "/Date(1736899200000)/"},
		{Kunnr: "0000005678", Vkorg: "2000", Kdmat: "xyz-2", Status: StatusAccepted, Erdat: "2025-02-01", Aedat: ""},
		{Kunnr: "0000001299", Vkorg: "1000", Kdmat: "ABC-3", Status: StatusRejected, Erdat: "garbage"},
	}
}

func kdmats(rs []Record) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Kdmat)
	}
	return out
}

func TestDefaultFilterContainsAndEquals(t *testing.T) {
	recs := sampleRecords()
	assert.Equal(t, []string{"ABC-1", "ABC-3"}, kdmats(DefaultFilter("12", "", "abc", "").Apply(recs)))
	assert.Equal(t, []string{"ABC-1"}, kdmats(DefaultFilter("", "1000", "", "p").Apply(recs)))
	assert.Len(t, DefaultFilter("", "", "", "").Apply(recs), 3)
	// Status is an exact match; "A" must not match "P" via contains.
	assert.Equal(t, []string{"xyz-2"}, kdmats(DefaultFilter("", "", "", "A").Apply(recs)))
}

func TestFilterAny(t *testing.T) {
	f := DefaultFilter("5678", "", "abc-3", "")
	f.Any = true
	assert.Equal(t, []string{"xyz-2", "ABC-3"}, kdmats(f.Apply(sampleRecords())))
}

func TestFilterDateRanges(t *testing.T) {
	f := Filter{Created: DateRange{From: time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC), To: time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)}}
	assert.Equal(t, []string{"ABC-1"}, kdmats(f.Apply(sampleRecords())), "range is day-inclusive; unparseable dates never match")

	f = Filter{Changed: DateRange{From: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)}}
	assert.Equal(t, []string{"ABC-1"}, kdmats(f.Apply(sampleRecords())))
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, DefaultFilter("1", "2", "3", "P").Validate())
	assert.Error(t, Filter{Predicates: []Predicate{{Field: "nope", Op: OpEquals}}}.Validate())
	assert.Error(t, Filter{Predicates: []Predicate{{Field: "kunnr", Op: "gt"}}}.Validate())
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"/Date(1736899200000)/":      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		"/Date(1736899200000+0000)/": time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		"20250115":                   time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		"2025-01-15":                 time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		"2025-01-15T10:00:00Z":       time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := ParseDate(in)
		assert.True(t, ok, in)
		assert.True(t, want.Equal(got), in)
	}
	for _, bad := range []string{"", "00000000", "15.01.2025"} {
		_, ok := ParseDate(bad)
		assert.False(t, ok, bad)
	}
}
