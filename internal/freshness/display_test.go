package freshness

import (
	"strings"
	"testing"
)

func TestStateFor(t *testing.T) {
	tests := []struct {
		score float64
		want  State
	}{
		{1.0, StateFresh},
		{0.71, StateFresh},
		{0.7, StateFading},
		{0.5, StateFading},
		{0.31, StateFading},
		{0.3, StateDecayed},
		{0, StateDecayed},
	}
	for _, tc := range tests {
		if got := StateFor(tc.score); got != tc.want {
			t.Errorf("StateFor(%v) = %s, want %s", tc.score, got, tc.want)
		}
	}
}

func TestBar(t *testing.T) {
	if got, want := Bar(0.5, 4, false), "[██░░] 50% Fading"; got != want {
		t.Errorf("Bar = %q, want %q", got, want)
	}
	if got, want := Bar(1, 4, false), "[████] 100% Fresh"; got != want {
		t.Errorf("Bar = %q, want %q", got, want)
	}
	if got, want := Bar(-1, 4, false), "[░░░░] 0% Decayed"; got != want {
		t.Errorf("Bar = %q, want %q", got, want)
	}

	colored := Bar(0.9, 4, true)
	if !strings.HasPrefix(colored, colorFresh) || !strings.Contains(colored, colorReset) {
		t.Errorf("colored bar missing escapes: %q", colored)
	}
	if n := strings.Count(Bar(0.5, 0, false), "█"); n != DefaultBarWidth/2 {
		t.Errorf("default width bar has %d filled cells, want %d", n, DefaultBarWidth/2)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		score, rate float64
		suffix      string
	}{
		{0.5, 0.05, "(10.0h until decayed)"},
		{0.5, 0, "(does not decay)"},
		{0, 0.05, "(fully decayed)"},
	}
	for _, tc := range tests {
		got := Describe(tc.score, tc.rate)
		if !strings.HasSuffix(got, tc.suffix) {
			t.Errorf("Describe(%v, %v) = %q, want suffix %q", tc.score, tc.rate, got, tc.suffix)
		}
	}
}
