package analysis_test

import (
	"testing"

	"jobmate/analysis-service/internal/analysis"
)

// ── ParseState ─────────────────────────────────────────────────────────────

func TestParseState_ValidValues(t *testing.T) {
	for _, s := range []string{"QUEUED", "RUNNING", "COMPLETED", "FAILED"} {
		got, err := analysis.ParseState(s)
		if err != nil {
			t.Errorf("ParseState(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseState(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseState_InvalidValues(t *testing.T) {
	for _, s := range []string{"", "queued", "CANCELLED", "UNKNOWN"} {
		if _, err := analysis.ParseState(s); err == nil {
			t.Errorf("ParseState(%q) expected error, got nil", s)
		}
	}
}

// ── IsTransitionAllowed ────────────────────────────────────────────────────

func TestIsTransitionAllowed(t *testing.T) {
	cases := []struct {
		from, to analysis.State
		want     bool
	}{
		{analysis.StateQueued, analysis.StateRunning, true},
		{analysis.StateQueued, analysis.StateFailed, true},
		{analysis.StateRunning, analysis.StateCompleted, true},
		{analysis.StateRunning, analysis.StateFailed, true},
		{analysis.StateRunning, analysis.StateQueued, true},

		{analysis.StateQueued, analysis.StateCompleted, false},
		{analysis.StateQueued, analysis.StateQueued, false},
		{analysis.StateRunning, analysis.StateRunning, false},
		{analysis.StateCompleted, analysis.StateQueued, false},
		{analysis.StateCompleted, analysis.StateFailed, false},
		{analysis.StateFailed, analysis.StateQueued, false},
		{analysis.StateFailed, analysis.StateRunning, false},
	}
	for _, c := range cases {
		if got := analysis.IsTransitionAllowed(c.from, c.to); got != c.want {
			t.Errorf("IsTransitionAllowed(%s → %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestIsTransitionAllowed_UnknownState(t *testing.T) {
	if analysis.IsTransitionAllowed("BOGUS", analysis.StateRunning) {
		t.Error("transition from an unknown state should be rejected")
	}
}

// ── IsTerminal ─────────────────────────────────────────────────────────────

func TestIsTerminal(t *testing.T) {
	want := map[analysis.State]bool{
		analysis.StateQueued:    false,
		analysis.StateRunning:   false,
		analysis.StateCompleted: true,
		analysis.StateFailed:    true,
	}
	for s, terminal := range want {
		if s.IsTerminal() != terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", s, !terminal, terminal)
		}
	}
}
