package clock

import (
	"testing"
	"time"
)

// TestSystemNowUTC ensures the clock returns UTC timestamps.
func TestSystemNowUTC(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-time.Second)
	got := System{}.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

func TestFuncClock(t *testing.T) {
	t.Parallel()

	fixed := time.Unix(1700000000, 0).UTC()
	var c Clock = Func(func() time.Time { return fixed })
	if !c.Now().Equal(fixed) {
		t.Fatalf("expected %v, got %v", fixed, c.Now())
	}
}
