package catalog

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func TestDropRatesSumToHundred(t *testing.T) {
	var total float64
	for _, r := range Rarities() {
		total += r.DropRatePercent
	}
	if total != 100 {
		t.Fatalf("drop rates sum to %v", total)
	}
}

func TestSampleRarityBoundaries(t *testing.T) {
	cases := []struct {
		roll float64
		want Rarity
	}{
		{0, Common},
		{0.25, Common},
		{0.5, Common},
		{0.51, Uncommon},
		{0.75, Uncommon},
		{0.9, Rare},
		{0.985, Epic},
		{0.995, Legendary},
		{0.999999, Legendary},
	}
	for _, tc := range cases {
		if got := SampleRarity(fixedSource(tc.roll)); got != tc.want {
			t.Errorf("roll %v: got %s, want %s", tc.roll, got, tc.want)
		}
	}
}

func TestSampleRarityDistribution(t *testing.T) {
	src := rand.New(rand.NewPCG(42, 1024))
	const n = 200_000
	counts := make(map[Rarity]int)
	for i := 0; i < n; i++ {
		counts[SampleRarity(src)]++
	}
	for _, spec := range Rarities() {
		got := float64(counts[spec.Key]) / n * 100
		if math.Abs(got-spec.DropRatePercent) > 0.5 {
			t.Errorf("%s: got %.2f%%, want %.0f%%", spec.Name, got, spec.DropRatePercent)
		}
	}
}

func TestSampleRarityReproducible(t *testing.T) {
	a := rand.New(rand.NewPCG(7, 7))
	b := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 1000; i++ {
		if x, y := SampleRarity(a), SampleRarity(b); x != y {
			t.Fatalf("draw %d diverged: %s vs %s", i, x, y)
		}
	}
}

func TestParseCategory(t *testing.T) {
	cases := []struct {
		in   string
		want Category
		ok   bool
	}{
		{"scientific", Scientific, true},
		{"Historical", Historical, true},
		{"  TECHNICAL ", Technical, true},
		{"biographical", Biographical, true},
		{"nope", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseCategory(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseCategory(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseRarity(t *testing.T) {
	if r, ok := ParseRarity("legendary"); !ok || r != Legendary {
		t.Errorf("legendary: got %q, %v", r, ok)
	}
	if r, ok := ParseRarity("mythic"); ok || r != "" {
		t.Errorf("mythic: got %q, %v", r, ok)
	}
}

func TestValueFor(t *testing.T) {
	cases := []struct {
		base int
		r    Rarity
		want int
	}{
		{1, Common, 1},
		{1, Uncommon, 1},
		{3, Uncommon, 4},
		{1, Rare, 2},
		{2, Epic, 10},
		{1, Legendary, 10},
	}
	for _, tc := range cases {
		if got := ValueFor(tc.base, tc.r); got != tc.want {
			t.Errorf("ValueFor(%d, %s) = %d, want %d", tc.base, tc.r, got, tc.want)
		}
	}
}

func TestSpecFallback(t *testing.T) {
	if Rarity("bogus").Spec().Key != Common {
		t.Error("unknown rarity should fall back to Common")
	}
	if Category("bogus").Spec().Key != Historical {
		t.Error("unknown category should fall back to Historical")
	}
}

func TestLabel(t *testing.T) {
	got := Label("Water boils at 100C", Scientific, Rare)
	if !strings.HasPrefix(got, "★ [🔬 Scientific] <Rare> ") {
		t.Errorf("unexpected label %q", got)
	}
}
