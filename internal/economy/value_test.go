package economy

import (
	"testing"

	"github.com/nidhogg/moltmud/internal/catalog"
)

func TestNextValue(t *testing.T) {
	tests := []struct {
		base, purchases int
		rarity          catalog.Rarity
		want            int
	}{
		{1, 0, catalog.Common, 1},
		{1, 1, catalog.Common, 1},
		{1, 2, catalog.Common, 2},
		{1, 1, catalog.Uncommon, 2},
		{1, 4, catalog.Rare, 7},
		{1, 1, catalog.Epic, 7},
		{1, 1, catalog.Legendary, 15},
		{10, 0, catalog.Common, 10},
		{3, 0, catalog.Rarity("MYTHIC"), 3},
	}
	for _, tc := range tests {
		if got := NextValue(tc.base, tc.purchases, tc.rarity); got != tc.want {
			t.Errorf("NextValue(%d, %d, %s) = %d, want %d", tc.base, tc.purchases, tc.rarity, got, tc.want)
		}
	}
}

func TestNextValueNeverBelowBase(t *testing.T) {
	for _, spec := range catalog.Rarities() {
		for n := 0; n < 50; n++ {
			if got := NextValue(4, n, spec.Key); got < 4 {
				t.Fatalf("NextValue(4, %d, %s) = %d, below base", n, spec.Key, got)
			}
		}
	}
}
