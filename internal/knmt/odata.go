package knmt

import (
	"strings"
)

// SplitKunnrs splits a comma-separated customer list. Entries are trimmed,
// numeric entries are zero-padded to SAP's ten digits, blanks and
// duplicates are dropped; order is preserved.
func SplitKunnrs(list string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(list, ",") {
		k := PadKunnr(part)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// PadKunnr trims k and left-pads purely numeric values to ten digits.
func PadKunnr(k string) string {
	k = strings.TrimSpace(k)
	if k == "" || len(k) >= 10 || !isDigits(k) {
		return k
	}
	return strings.Repeat("0", 10-len(k)) + k
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// Scope restricts a query to the customers and sales org a user may see.
type Scope struct {
	Kunnrs []string
	Vkorg  string
}

// ODataFilter renders one scope, e.g.
// (kunnr eq '0000001234' or kunnr eq '0000005678') and vkorg eq '1000'.
func (s Scope) ODataFilter() string {
	var parts []string
	if len(s.Kunnrs) > 0 {
		terms := make([]string, 0, len(s.Kunnrs))
		for _, k := range s.Kunnrs {
			terms = append(terms, "kunnr eq "+quote(k))
		}
		clause := strings.Join(terms, " or ")
		if len(terms) > 1 {
			clause = "(" + clause + ")"
		}
		parts = append(parts, clause)
	}
	if v := strings.TrimSpace(s.Vkorg); v != "" {
		parts = append(parts, "vkorg eq "+quote(v))
	}
	return strings.Join(parts, " and ")
}

// ScopesFilter ORs several scopes together. An empty scope grants
// everything, so any empty scope (or none at all) yields "".
func ScopesFilter(scopes []Scope) string {
	var clauses []string
	for _, s := range scopes {
		c := s.ODataFilter()
		if c == "" {
			return ""
		}
		clauses = append(clauses, c)
	}
	switch len(clauses) {
	case 0:
		return ""
	case 1:
		return clauses[0]
	}
	for i, c := range clauses {
		if strings.Contains(c, " and ") {
			clauses[i] = "(" + c + ")"
		}
	}
	return strings.Join(clauses, " or ")
}

// KeyFilter selects exactly one record.
func KeyFilter(k Key) string {
	k = k.Normalize()
	return strings.Join([]string{
		"kunnr eq " + quote(k.Kunnr),
		"vkorg eq " + quote(k.Vkorg),
		"vtweg eq " + quote(k.Vtweg),
		"kdmat eq " + quote(k.Kdmat),
	}, " and ")
}
