package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndTimed(t *testing.T) {
	before := time.Now().Add(-time.Second)
	a, b := New(), New()
	if a >= b {
		t.Fatalf("expected %s < %s", a, b)
	}
	ts, err := Time(a)
	if err != nil {
		t.Fatalf("Time: %v", err)
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Fatalf("unexpected timestamp %v", ts)
	}
	if _, err := Time("not-a-ulid"); err == nil {
		t.Fatal("expected parse error")
	}
}
