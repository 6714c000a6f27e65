package calls

import "testing"

func TestStatusForwardOnly(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusCalling, true},
		{StatusQueued, StatusInProgress, true},
		{StatusCalling, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusQueued, StatusCancelled, true},

		// No regression.
		{StatusInProgress, StatusCalling, false},
		{StatusCalling, StatusQueued, false},

		// Terminal states never move.
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInProgress, false},
		{StatusCancelled, StatusCompleted, false},

		// Same state is a no-op, not a transition.
		{StatusInProgress, StatusInProgress, false},

		// Unknown states never transition.
		{Status("bogus"), StatusCompleted, false},
		{StatusQueued, Status("bogus"), false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusCalling, StatusInProgress} {
		if s.Terminal() {
			t.Errorf("expected %s not terminal", s)
		}
	}
}

func TestMapProviderStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
	}{
		{"queued", StatusCalling},
		{"initiated", StatusCalling},
		{"ringing", StatusCalling},
		{"in-progress", StatusInProgress},
		{"completed", StatusCompleted},
		{"busy", StatusFailed},
		{"no-answer", StatusFailed},
		{"failed", StatusFailed},
		{"canceled", StatusCancelled},
		{"something-new", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := MapProviderStatus(tc.in); got != tc.want {
			t.Errorf("MapProviderStatus(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
