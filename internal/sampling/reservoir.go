package sampling

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/tradeloop/tradeloop/pkg/trade"
)

// reservoirSample selects up to k ids with equal probability using
// algorithm R: the first k items fill the reservoir, every later item i
// replaces a random slot with probability k/(i+1). Single streaming pass,
// no bias toward low-index members.
func reservoirSample(rng *rand.Rand, ids []string, k int) []string {
	if k <= 0 {
		return nil
	}
	if len(ids) <= k {
		out := make([]string, len(ids))
		copy(out, ids)
		return out
	}

	reservoir := make([]string, k)
	copy(reservoir, ids[:k])

	for i := k; i < len(ids); i++ {
		j := rng.Intn(i + 1)
		if j < k {
			reservoir[j] = ids[i]
		}
	}
	return reservoir
}

// stratifiedSample partitions priced assets into four value tiers (floor,
// mid, rare, grail) by empirical quantile and draws a roughly equal-sized
// uniform sample from each tier, so that a collection want is represented
// across the whole value spectrum rather than only its cheapest items.
func (e *Expander) stratifiedSample(priced []trade.Asset, k int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	values := make([]float64, 0, len(priced))
	for _, a := range priced {
		values = append(values, a.Value)
	}
	sort.Float64s(values)

	cutoffs := make([]float64, valueTiers-1)
	for i := 1; i < valueTiers; i++ {
		cutoffs[i-1] = stat.Quantile(float64(i)/valueTiers, stat.Empirical, values, nil)
	}

	tiers := make([][]string, valueTiers)
	for _, a := range priced {
		tiers[tierIndex(a.Value, cutoffs)] = append(tiers[tierIndex(a.Value, cutoffs)], a.ID)
	}

	perTier := k / valueTiers
	var out []string
	for _, tier := range tiers {
		out = append(out, reservoirSample(e.rng, tier, perTier)...)
	}

	// Quantile ties can leave tiers short; top the sample up from the
	// whole priced set without duplicating already chosen ids.
	if len(out) < k {
		chosen := make(map[string]struct{}, len(out))
		for _, id := range out {
			chosen[id] = struct{}{}
		}
		var remaining []string
		for _, a := range priced {
			if _, ok := chosen[a.ID]; !ok {
				remaining = append(remaining, a.ID)
			}
		}
		out = append(out, reservoirSample(e.rng, remaining, k-len(out))...)
	}
	return out
}

func tierIndex(value float64, cutoffs []float64) int {
	for i, c := range cutoffs {
		if value <= c {
			return i
		}
	}
	return len(cutoffs)
}
