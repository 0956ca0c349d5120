package model

import "testing"

func TestStatusCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusActive, StatusActive, true},
		{StatusActive, StatusPendingObservation, true},
		{StatusActive, StatusInactive, true},
		{StatusPendingObservation, StatusActive, true},
		{StatusPendingObservation, StatusInactive, true},
		{StatusPendingObservation, StatusPendingObservation, true},
		{StatusInactive, StatusActive, false},
		{StatusInactive, StatusPendingObservation, false},
		{StatusInactive, StatusInactive, true},
		{Status(""), StatusActive, false},
		{Status(""), StatusInactive, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%q -> %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
