package sampling

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservoirSample(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	ids := make([]string, 1_000)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%04d", i)
	}

	t.Run("bounds", func(t *testing.T) {
		require.Nil(t, reservoirSample(rng, ids, 0))
		require.Nil(t, reservoirSample(rng, ids, -3))
		require.Equal(t, ids[:5], reservoirSample(rng, ids[:5], 10))
		require.Len(t, reservoirSample(rng, ids, 100), 100)
	})

	t.Run("no_duplicates", func(t *testing.T) {
		sample := reservoirSample(rng, ids, 200)
		seen := make(map[string]struct{}, len(sample))
		for _, id := range sample {
			_, dup := seen[id]
			require.False(t, dup)
			seen[id] = struct{}{}
		}
	})

	t.Run("roughly_uniform", func(t *testing.T) {
		// The tail of the input must be sampled about as often as the
		// head; a naive prefix take would fail this immediately.
		tail := 0
		const rounds = 200
		for r := 0; r < rounds; r++ {
			for _, id := range reservoirSample(rng, ids, 50) {
				if id >= "id-0500" {
					tail++
				}
			}
		}
		total := rounds * 50
		share := float64(tail) / float64(total)
		require.InDelta(t, 0.5, share, 0.1)
	})
}

func TestTierIndex(t *testing.T) {
	cutoffs := []float64{1, 5, 20}
	require.Equal(t, 0, tierIndex(0.5, cutoffs))
	require.Equal(t, 0, tierIndex(1, cutoffs))
	require.Equal(t, 1, tierIndex(3, cutoffs))
	require.Equal(t, 2, tierIndex(20, cutoffs))
	require.Equal(t, 3, tierIndex(100, cutoffs))
}
