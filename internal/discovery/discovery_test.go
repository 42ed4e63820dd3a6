package discovery_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tradeloop/tradeloop/internal/discovery"
	"github.com/tradeloop/tradeloop/internal/facts"
	"github.com/tradeloop/tradeloop/internal/scoring"
	"github.com/tradeloop/tradeloop/pkg/trade"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type staticValues map[string]float64

func (v staticValues) AssetValue(assetID string) float64 { return v[assetID] }

func newScorer(t *testing.T, s *facts.Store) *scoring.Scorer {
	t.Helper()
	scorer, err := scoring.NewScorer(scoring.DefaultWeights(), staticValues{}, s)
	require.NoError(t, err)
	return scorer
}

func ringStore(t *testing.T, parties ...string) *facts.Store {
	t.Helper()
	s := facts.NewStore()
	for i, p := range parties {
		_, err := s.AddAsset(trade.Asset{ID: "asset-" + p, OwnerID: p})
		require.NoError(t, err)
		next := parties[(i+1)%len(parties)]
		_, err = s.AddWant(p, "asset-"+next)
		require.NoError(t, err)
	}
	return s
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("three_party_ring", func(t *testing.T) {
		s := ringStore(t, "alice", "bob", "carol")
		engine := discovery.NewEngine()

		res, err := engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)
		require.False(t, res.Incomplete)
		require.Len(t, res.Loops, 1)

		loop := res.Loops[0]
		require.NoError(t, loop.Validate())
		require.Equal(t, 3, loop.TotalParticipants)
		require.Equal(t, trade.StatusPending, loop.Status)
		require.NotEmpty(t, loop.ID)
		require.Equal(t, "alice|carol|bob", loop.CanonicalID)

		// Every step moves the asset its receiver wanted.
		for _, step := range loop.Steps {
			require.Equal(t, []string{"asset-" + step.From}, step.AssetIDs)
		}
	})

	t.Run("no_loops_in_acyclic_facts", func(t *testing.T) {
		s := facts.NewStore()
		_, err := s.AddAsset(trade.Asset{ID: "a1", OwnerID: "alice"})
		require.NoError(t, err)
		_, err = s.AddWant("bob", "a1")
		require.NoError(t, err)

		engine := discovery.NewEngine()
		res, err := engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)
		require.Empty(t, res.Loops)
	})

	t.Run("loops_are_ranked", func(t *testing.T) {
		s := ringStore(t, "alice", "bob")
		// second, longer ring in the same store
		for i, p := range []string{"w", "x", "y", "z"} {
			_, err := s.AddAsset(trade.Asset{ID: "asset-" + p, OwnerID: p})
			require.NoError(t, err)
			next := []string{"w", "x", "y", "z"}[(i+1)%4]
			_, err = s.AddWant(p, "asset-"+next)
			require.NoError(t, err)
		}

		engine := discovery.NewEngine()
		res, err := engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)
		require.Len(t, res.Loops, 2)
		require.Equal(t, 2, res.Loops[0].TotalParticipants)
		require.Equal(t, 4, res.Loops[1].TotalParticipants)
		require.Greater(t, res.Loops[0].Score, res.Loops[1].Score)
	})

	t.Run("restriction_skips_untouched_components", func(t *testing.T) {
		s := ringStore(t, "alice", "bob")
		for _, p := range []string{"xena", "yuri"} {
			_, err := s.AddAsset(trade.Asset{ID: "asset-" + p, OwnerID: p})
			require.NoError(t, err)
		}
		_, err := s.AddWant("xena", "asset-yuri")
		require.NoError(t, err)
		_, err = s.AddWant("yuri", "asset-xena")
		require.NoError(t, err)

		engine := discovery.NewEngine()

		res, err := engine.Discover(ctx, s, newScorer(t, s), map[string]struct{}{"xena": {}})
		require.NoError(t, err)
		require.Len(t, res.Loops, 1)
		require.Equal(t, []string{"xena", "yuri"}, res.Loops[0].Participants())

		res, err = engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)
		require.Len(t, res.Loops, 2)
	})

	t.Run("max_cycle_length_is_enforced", func(t *testing.T) {
		s := ringStore(t, "a", "b", "c", "d", "e")
		engine := discovery.NewEngine(discovery.WithMaxCycleLength(4))

		res, err := engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)
		require.Empty(t, res.Loops)
	})

	t.Run("visit_budget_flags_incomplete", func(t *testing.T) {
		s := ringStore(t, "a", "b", "c", "d", "e")
		engine := discovery.NewEngine(discovery.WithVisitBudget(2))

		res, err := engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)
		require.True(t, res.Incomplete)
	})

	t.Run("deterministic_across_runs", func(t *testing.T) {
		s := ringStore(t, "p", "q", "r")
		engine := discovery.NewEngine()

		first, err := engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)
		second, err := engine.Discover(ctx, s, newScorer(t, s), nil)
		require.NoError(t, err)

		require.Len(t, second.Loops, len(first.Loops))
		for i := range first.Loops {
			require.Equal(t, first.Loops[i].CanonicalID, second.Loops[i].CanonicalID)
			require.Equal(t, first.Loops[i].Score, second.Loops[i].Score)
		}
	})
}
