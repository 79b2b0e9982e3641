package sysenv

import "testing"

func TestResolve(t *testing.T) {
	cases := []struct {
		name    string
		session string
		href    string
		want    System
	}{
		{"session wins over url", "QA2", "https://knmt-de2.porky.com/", QA2},
		{"session lower case", "de2", "https://knmt.porky.com/", DE2},
		{"explicit PRD beats url", "PRD", "https://knmt-qa2.porky.com/", PRD},
		{"blank falls back to de2 url", "", "https://knmt-de2.porky.com/index.html", DE2},
		{"blank falls back to qa2 url", "  ", "https://KNMT-QA2.porky.com/", QA2},
		{"unknown session value ignored", "XYZ", "https://knmt-qa2.porky.com/", QA2},
		{"nothing set", "", "https://knmt.porky.com/", PRD},
		{"empty href", "", "", PRD},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.session, tc.href); got != tc.want {
				t.Fatalf("Resolve(%q, %q) = %q, want %q", tc.session, tc.href, got, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	if s, err := Parse(" qa2 "); err != nil || s != QA2 {
		t.Fatalf("Parse(qa2) = %q, %v", s, err)
	}
	if s, err := Parse(""); err != nil || s != "" {
		t.Fatalf("Parse(blank) = %q, %v", s, err)
	}
	if _, err := Parse("DEV"); err == nil {
		t.Fatal("expected error for unknown system")
	}
}
