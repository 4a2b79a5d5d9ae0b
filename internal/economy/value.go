package economy

import (
	"math"

	"github.com/nidhogg/moltmud/internal/catalog"
)

// popularityStep is how much each sale adds to the pre-rarity price.
const popularityStep = 0.5

// NextValue prices a fragment after its purchases-th sale: the base grows
// by half an influence per sale, then the rarity multiplier applies. The
// result never drops below base.
func NextValue(base, purchases int, r catalog.Rarity) int {
	grown := float64(base) + float64(purchases)*popularityStep
	v := int(math.Floor(grown * r.Spec().ValueMultiplier))
	if v < base {
		return base
	}
	return v
}
