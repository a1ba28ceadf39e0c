package scheduler

import (
	"testing"
	"time"
)

func TestParseDurationMs(t *testing.T) {
	cases := []struct {
		raw        string
		defaultU   string
		wantMs     int64
		expectFail bool
	}{
		{"30m", "ms", 30 * 60_000, false},
		{"1h", "ms", 3_600_000, false},
		{"500", "ms", 500, false},
		{"2d", "ms", 2 * 86_400_000, false},
		{"2.5s", "ms", 2500, false},
		{"", "ms", 0, true},
		{"nonsense", "ms", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDurationMs(c.raw, c.defaultU)
		if c.expectFail {
			if err == nil {
				t.Errorf("ParseDurationMs(%q) = %d, want error", c.raw, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDurationMs(%q) unexpected error: %v", c.raw, err)
			continue
		}
		if got != c.wantMs {
			t.Errorf("ParseDurationMs(%q) = %d, want %d", c.raw, got, c.wantMs)
		}
	}
}

func TestCeremonyDueAfterScheduledTimeAndNotYetRunToday(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 5, 0, 0, time.UTC)
	due, err := CeremonyDue("09:00", "UTC", "", now)
	if err != nil {
		t.Fatalf("CeremonyDue: %v", err)
	}
	if !due {
		t.Fatalf("expected ceremony due at 09:05 with 09:00 schedule")
	}
}

func TestCeremonyNotDueBeforeScheduledTime(t *testing.T) {
	now := time.Date(2026, 7, 31, 8, 55, 0, 0, time.UTC)
	due, err := CeremonyDue("09:00", "UTC", "", now)
	if err != nil {
		t.Fatalf("CeremonyDue: %v", err)
	}
	if due {
		t.Fatalf("expected ceremony not due before 09:00")
	}
}

func TestCeremonyNotDueIfAlreadyRanToday(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 5, 0, 0, time.UTC)
	due, err := CeremonyDue("09:00", "UTC", "2026-07-31", now)
	if err != nil {
		t.Fatalf("CeremonyDue: %v", err)
	}
	if due {
		t.Fatalf("expected ceremony not due, already ran today")
	}
}

func TestSchedulerDueTracksFixedJobs(t *testing.T) {
	cfg := Config{
		AutosaveInterval: time.Minute,
		DecayInterval:    time.Hour,
		CeremonyCheck:    5 * time.Minute,
		CeremonyLocal:    "09:00",
		CeremonyTZ:       "UTC",
	}
	s := New(cfg)
	now := time.Date(2026, 7, 31, 9, 5, 0, 0, time.UTC)

	due := s.Due(now)
	if !due.Autosave || !due.Decay || !due.Ceremony {
		t.Fatalf("expected all three jobs due on first tick, got %+v", due)
	}

	s.MarkAutosaveRan(now)
	s.MarkDecayRan(now)
	s.MarkCeremonyRan(now, "UTC")

	due = s.Due(now.Add(10 * time.Second))
	if due.Autosave || due.Decay || due.Ceremony {
		t.Fatalf("expected nothing due immediately after marking ran, got %+v", due)
	}

	due = s.Due(now.Add(2 * time.Minute))
	if !due.Autosave {
		t.Fatalf("expected autosave due again after interval elapsed")
	}
}

func TestHeartbeatEligiblePreservesProgressAcrossDelayChange(t *testing.T) {
	s := New(DefaultConfig())
	start := time.Date(2026, 7, 31, 9, 0, 0, 0, time.UTC)
	s.UpdateHeartbeat("ei", start, 30*time.Minute)

	eligible := s.HeartbeatEligible(start.Add(10 * time.Minute))
	if len(eligible) != 0 {
		t.Fatalf("expected no eligible personas after only 10m of 30m delay")
	}

	// Config change shortens the delay; lastActivity must carry over
	// unchanged rather than resetting to now.
	s.UpdateHeartbeat("ei", start, 5*time.Minute)
	eligible = s.HeartbeatEligible(start.Add(10 * time.Minute))
	if len(eligible) != 1 || eligible[0] != "ei" {
		t.Fatalf("got %v, want [ei] eligible after delay shortened below elapsed idle time", eligible)
	}
}
