// Package catalog holds the fixed fragment taxonomy: subject categories and
// rarity tiers with their drop rates and value multipliers.
package catalog

import (
	"fmt"
	"math"
	"strings"
)

// Rarity is one of the five fixed tiers drawn when a fragment is created.
type Rarity string

const (
	Common    Rarity = "COMMON"
	Uncommon  Rarity = "UNCOMMON"
	Rare      Rarity = "RARE"
	Epic      Rarity = "EPIC"
	Legendary Rarity = "LEGENDARY"
)

// DefaultRarity is used for rows written before rarity existed.
const DefaultRarity = Common

// RaritySpec bundles a tier's weight, multiplier and display treatment.
type RaritySpec struct {
	Key             Rarity  `json:"key"`
	Name            string  `json:"name"`
	DropRatePercent float64 `json:"drop_rate_percent"`
	ValueMultiplier float64 `json:"value_multiplier"`
	BorderColor     string  `json:"border_color"`
	Glow            string  `json:"glow_effect"`
	Badge           string  `json:"badge_icon"`
}

// rarities is walked in this order when sampling.
var rarities = []RaritySpec{
	{Common, "Common", 50, 1.0, "#CCCCCC", "none", "●"},
	{Uncommon, "Uncommon", 30, 1.5, "#00FF00", "subtle", "◆"},
	{Rare, "Rare", 15, 2.5, "#0088FF", "soft", "★"},
	{Epic, "Epic", 4, 5.0, "#AA00FF", "strong", "✦"},
	{Legendary, "Legendary", 1, 10.0, "#FFD700", "intense", "👑"},
}

func init() {
	var total float64
	for _, r := range rarities {
		total += r.DropRatePercent
	}
	if math.Abs(total-100) > 1e-9 {
		panic(fmt.Sprintf("catalog: rarity drop rates sum to %v, want 100", total))
	}
}

// Rarities returns every tier in sampling order.
func Rarities() []RaritySpec {
	out := make([]RaritySpec, len(rarities))
	copy(out, rarities)
	return out
}

// ParseRarity resolves a tier name case-insensitively.
// The second return value is false when nothing matches.
func ParseRarity(s string) (Rarity, bool) {
	key := Rarity(strings.ToUpper(strings.TrimSpace(s)))
	for _, r := range rarities {
		if r.Key == key {
			return r.Key, true
		}
	}
	return "", false
}

// Spec returns the bundle for r. Unknown values fall back to Common.
func (r Rarity) Spec() RaritySpec {
	for _, spec := range rarities {
		if spec.Key == r {
			return spec
		}
	}
	return rarities[0]
}

// Source yields uniform values in [0,1). *rand.Rand from math/rand/v2
// satisfies it.
type Source interface {
	Float64() float64
}

// SampleRarity draws a tier weighted by drop rate.
func SampleRarity(src Source) Rarity {
	roll := src.Float64() * 100
	var cumulative float64
	for _, r := range rarities {
		cumulative += r.DropRatePercent
		if roll <= cumulative {
			return r.Key
		}
	}
	return DefaultRarity
}

// ValueFor scales a base value by the tier multiplier, rounding down.
func ValueFor(base int, r Rarity) int {
	return int(math.Floor(float64(base) * r.Spec().ValueMultiplier))
}

// Label renders a one-line display of a fragment with its badges, e.g.
// "★ [🔬 Scientific] <Rare> Water boils at 100C".
func Label(content string, c Category, r Rarity) string {
	cat, rar := c.Spec(), r.Spec()
	return fmt.Sprintf("%s [%s %s] <%s> %s", rar.Badge, cat.Icon, cat.Name, rar.Name, content)
}
