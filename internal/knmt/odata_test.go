package knmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitKunnrs(t *testing.T) {
	assert.Equal(t,
		[]string{"0000001234", "0000005678", "CUST-9"},
		SplitKunnrs(" 1234, 5678 ,,0000001234, CUST-9 "))
	assert.Empty(t, SplitKunnrs(""))
	assert.Equal(t, "12345678901", PadKunnr("12345678901"))
}

func TestScopeODataFilter(t *testing.T) {
	s := Scope{Kunnrs: SplitKunnrs("1234,5678"), Vkorg: "1000"}
	assert.Equal(t, "(kunnr eq '0000001234' or kunnr eq '0000005678') and vkorg eq '1000'", s.ODataFilter())

	s = Scope{Kunnrs: []string{"0000001234"}}
	assert.Equal(t, "kunnr eq '0000001234'", s.ODataFilter())

	assert.Equal(t, "", Scope{}.ODataFilter())
}

func TestScopesFilter(t *testing.T) {
	got := ScopesFilter([]Scope{
		{Kunnrs: []string{"1"}, Vkorg: "1000"},
		{Vkorg: "2000"},
	})
	assert.Equal(t, "(kunnr eq '1' and vkorg eq '1000') or vkorg eq '2000'", got)
	assert.Equal(t, "", ScopesFilter(nil))

	// An unrestricted grant widens the whole set.
	assert.Equal(t, "", ScopesFilter([]Scope{
		{Kunnrs: []string{"1"}, Vkorg: "1000"},
		{},
		{Vkorg: "2000"},
	}))
}

func TestKeyFilter(t *testing.T) {
	assert.Equal(t,
		"kunnr eq '1' and vkorg eq '1000' and vtweg eq '01' and kdmat eq 'A''B'",
		KeyFilter(Key{Kunnr: "1", Vkorg: "1000", Kdmat: "A'B"}))
}
