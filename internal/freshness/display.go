package freshness

import (
	"fmt"
	"math"
	"strings"
)

// State is the display band a score falls in.
type State string

const (
	StateFresh   State = "Fresh"
	StateFading  State = "Fading"
	StateDecayed State = "Decayed"
)

const (
	// FreshThreshold is the lower bound (exclusive) of the Fresh band.
	FreshThreshold = 0.7
	// DecayedThreshold is the upper bound (inclusive) of the Decayed band.
	DecayedThreshold = 0.3

	// DefaultBarWidth is the number of cells Bar renders.
	DefaultBarWidth = 20
)

const (
	colorFresh   = "\033[92m"
	colorFading  = "\033[93m"
	colorDecayed = "\033[91m"
	colorReset   = "\033[0m"
)

// StateFor maps a score to its band.
func StateFor(score float64) State {
	switch {
	case score > FreshThreshold:
		return StateFresh
	case score > DecayedThreshold:
		return StateFading
	default:
		return StateDecayed
	}
}

func colorFor(s State) string {
	switch s {
	case StateFresh:
		return colorFresh
	case StateFading:
		return colorFading
	default:
		return colorDecayed
	}
}

// Percent is the whole-number percentage shown next to the bar.
func Percent(score float64) int {
	return int(clamp(score) * 100)
}

// Bar renders score as "[████░░░░] 50% Fading". With colors the bracketed
// part is wrapped in the band's ANSI color.
func Bar(score float64, width int, colors bool) string {
	if width <= 0 {
		width = DefaultBarWidth
	}
	score = clamp(score)
	filled := int(float64(width) * score)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	state := StateFor(score)
	if colors {
		return fmt.Sprintf("%s[%s]%s %d%% %s", colorFor(state), bar, colorReset, Percent(score), state)
	}
	return fmt.Sprintf("[%s] %d%% %s", bar, Percent(score), state)
}

// Describe renders the plain bar followed by the time left until the
// fragment is fully decayed.
func Describe(score, ratePerHour float64) string {
	bar := Bar(score, DefaultBarWidth, false)
	hours := HoursUntil(score, ratePerHour, 0)
	switch {
	case math.IsInf(hours, 1):
		return bar + " (does not decay)"
	case hours <= 0:
		return bar + " (fully decayed)"
	default:
		return fmt.Sprintf("%s (%.1fh until decayed)", bar, hours)
	}
}
