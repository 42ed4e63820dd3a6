package trade_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/tradeloop/pkg/trade"
)

func validLoop() *trade.Loop {
	return &trade.Loop{
		ID:          "loop1",
		CanonicalID: "alice|bob|carol",
		Steps: []trade.Step{
			{From: "alice", To: "bob", AssetIDs: []string{"a1"}},
			{From: "bob", To: "carol", AssetIDs: []string{"b1"}},
			{From: "carol", To: "alice", AssetIDs: []string{"c1"}},
		},
		TotalParticipants: 3,
		Status:            trade.StatusPending,
		CreatedAt:         time.Now().UTC(),
	}
}

func TestLoopValidate(t *testing.T) {
	t.Run("valid_three_party_loop", func(t *testing.T) {
		require.NoError(t, validLoop().Validate())
	})

	t.Run("requires_two_steps", func(t *testing.T) {
		loop := validLoop()
		loop.Steps = loop.Steps[:1]
		require.Error(t, loop.Validate())
	})

	t.Run("requires_assets_per_step", func(t *testing.T) {
		loop := validLoop()
		loop.Steps[1].AssetIDs = nil
		require.Error(t, loop.Validate())
	})

	t.Run("requires_linked_steps", func(t *testing.T) {
		loop := validLoop()
		loop.Steps[0].To = "carol"
		require.Error(t, loop.Validate())
	})

	t.Run("rejects_duplicate_party", func(t *testing.T) {
		loop := validLoop()
		loop.Steps[2].From = "alice"
		loop.Steps[1].To = "alice"
		require.Error(t, loop.Validate())
	})

	t.Run("requires_closure", func(t *testing.T) {
		loop := validLoop()
		loop.Steps[2].To = "bob"
		require.Error(t, loop.Validate())
	})
}

func TestCanonicalForm(t *testing.T) {
	// All rotations of the same cycle share one canonical form.
	require.Equal(t, "a|c|b", trade.CanonicalForm([]string{"a", "c", "b"}))
	require.Equal(t, "a|c|b", trade.CanonicalForm([]string{"c", "b", "a"}))
	require.Equal(t, "a|c|b", trade.CanonicalForm([]string{"b", "a", "c"}))

	require.Equal(t, "", trade.CanonicalForm(nil))
	require.Equal(t, "solo", trade.CanonicalForm([]string{"solo"}))

	require.Equal(t,
		trade.CanonicalHash("a|c|b"),
		trade.CanonicalHash(trade.CanonicalForm([]string{"c", "b", "a"})),
	)
}

func TestCanTransition(t *testing.T) {
	require.True(t, trade.CanTransition(trade.StatusPending, trade.StatusApproving))
	require.True(t, trade.CanTransition(trade.StatusPending, trade.StatusExecuting))
	require.True(t, trade.CanTransition(trade.StatusApproving, trade.StatusExecuting))
	require.True(t, trade.CanTransition(trade.StatusExecuting, trade.StatusCompleted))
	require.True(t, trade.CanTransition(trade.StatusPending, trade.StatusCancelled))
	require.True(t, trade.CanTransition(trade.StatusExecuting, trade.StatusExpired))

	require.False(t, trade.CanTransition(trade.StatusPending, trade.StatusCompleted))
	require.False(t, trade.CanTransition(trade.StatusExecuting, trade.StatusApproving))
	require.False(t, trade.CanTransition(trade.StatusCompleted, trade.StatusExecuting))
	require.False(t, trade.CanTransition(trade.StatusCancelled, trade.StatusPending))
	require.False(t, trade.CanTransition(trade.StatusExpired, trade.StatusCancelled))
}

func TestLoopAccessors(t *testing.T) {
	loop := validLoop()
	require.Equal(t, []string{"alice", "bob", "carol"}, loop.Participants())
	require.Equal(t, []string{"a1", "b1", "c1"}, loop.AssetIDs())
}
