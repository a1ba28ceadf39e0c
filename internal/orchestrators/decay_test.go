package orchestrators

import (
	"testing"
	"time"
)

func TestDecayMonotonicity(t *testing.T) {
	cases := []float64{0, 0.1, 0.5, 0.9, 1}
	for _, current := range cases {
		got := Decay(current, DefaultDecayK, 2)
		if got > current {
			t.Fatalf("Decay(%v) = %v, want <= %v", current, got, current)
		}
	}
}

func TestDecayZeroHoursIsNoOp(t *testing.T) {
	if got := Decay(0.5, DefaultDecayK, 0); got != 0.5 {
		t.Fatalf("Decay with 0 hours elapsed changed value: got %v", got)
	}
}

func TestDecayClampsToZeroOne(t *testing.T) {
	if got := Decay(0, DefaultDecayK, 100); got != 0 {
		t.Fatalf("Decay(0) should stay 0, got %v", got)
	}
	if got := Decay(1, DefaultDecayK, 100); got > 1 || got < 0 {
		t.Fatalf("Decay(1) out of range: %v", got)
	}
}

func TestExposureFromLabel(t *testing.T) {
	cases := map[string]float64{"high": 0.8, "medium": 0.5, "low": 0.2, "none": 0.0}
	for label, want := range cases {
		got, ok := ExposureFromLabel(label)
		if !ok || got != want {
			t.Fatalf("ExposureFromLabel(%q) = (%v,%v), want (%v,true)", label, got, ok, want)
		}
	}
	if _, ok := ExposureFromLabel("unknown"); ok {
		t.Fatal("want ok=false for unrecognized label")
	}
}

func TestHoursSince(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := HoursSince(now, now); got != 0 {
		t.Fatalf("HoursSince(now, now) = %v, want 0", got)
	}
	later := now.Add(3 * time.Hour)
	if got := HoursSince(now, later); got != 3 {
		t.Fatalf("HoursSince = %v, want 3", got)
	}
	// now-is-before-last must floor to 0, not go negative.
	if got := HoursSince(later, now); got != 0 {
		t.Fatalf("HoursSince with now before last = %v, want 0", got)
	}
}
