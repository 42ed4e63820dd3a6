package server_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tradeloop/tradeloop/internal/tenant"
	"github.com/tradeloop/tradeloop/pkg/server"
	serverErrors "github.com/tradeloop/tradeloop/pkg/server/errors"
	"github.com/tradeloop/tradeloop/pkg/storage/memory"
	"github.com/tradeloop/tradeloop/pkg/trade"
)

type capturingExecutor struct {
	mu        sync.Mutex
	submitted []string
}

func (e *capturingExecutor) Submit(_ context.Context, _ string, loop *trade.Loop) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, loop.ID)
	return nil
}

type staticProvider struct {
	meta   *trade.CollectionMetadata
	assets []trade.Asset
}

func (p *staticProvider) CollectionMetadata(_ context.Context, id string) (*trade.CollectionMetadata, error) {
	if p.meta != nil && p.meta.ID == id {
		return p.meta, nil
	}
	return nil, nil
}

func (p *staticProvider) CollectionAssets(_ context.Context, id string) ([]trade.Asset, error) {
	if p.meta != nil && p.meta.ID == id {
		return p.assets, nil
	}
	return nil, nil
}

func newServer(t *testing.T, opts ...server.ServerOption) *server.Server {
	t.Helper()
	s, err := server.NewServer(opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// swap drives the minimal two-party event sequence and returns the loop the
// final want completes.
func swap(t *testing.T, ctx context.Context, s *server.Server, tenantID string) *trade.Loop {
	t.Helper()

	_, err := s.OnAssetAdded(ctx, tenantID, trade.Asset{ID: "a1", OwnerID: "alice"})
	require.NoError(t, err)
	_, err = s.OnAssetAdded(ctx, tenantID, trade.Asset{ID: "a2", OwnerID: "bob"})
	require.NoError(t, err)
	_, err = s.OnWantAdded(ctx, tenantID, "alice", "a2")
	require.NoError(t, err)

	loops, err := s.OnWantAdded(ctx, tenantID, "bob", "a1")
	require.NoError(t, err)
	require.Len(t, loops, 1)
	return loops[0]
}

func TestServerLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("event_sequence_discovers_and_submits", func(t *testing.T) {
		executor := &capturingExecutor{}
		s := newServer(t, server.WithSettlementExecutor(executor))

		id, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
		require.NoError(t, err)
		require.Equal(t, "acme", id)

		loop := swap(t, ctx, s, "acme")
		require.Equal(t, []string{loop.ID}, executor.submitted)

		active, err := s.GetActiveLoops(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, active, 1)

		got, err := s.GetLoop(ctx, "acme", loop.ID)
		require.NoError(t, err)
		require.Equal(t, loop.CanonicalID, got.CanonicalID)

		status, err := s.GetTenantStatus(ctx, "acme")
		require.NoError(t, err)
		require.Equal(t, 2, status.AssetCount)
		require.Equal(t, 2, status.PartyCount)
		require.Equal(t, 1, status.ActiveLoopCount)
	})

	t.Run("step_completion_settles", func(t *testing.T) {
		s := newServer(t)
		_, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
		require.NoError(t, err)
		loop := swap(t, ctx, s, "acme")

		got, err := s.RecordTradeStepCompletion(ctx, "acme", loop.ID, 0)
		require.NoError(t, err)
		require.Equal(t, trade.StatusApproving, got.Status)

		got, err = s.RecordTradeStepCompletion(ctx, "acme", loop.ID, 1)
		require.NoError(t, err)
		require.Equal(t, trade.StatusCompleted, got.Status)

		active, err := s.GetActiveLoops(ctx, "acme")
		require.NoError(t, err)
		require.Empty(t, active)
	})

	t.Run("reject_trade_removes_the_loop", func(t *testing.T) {
		s := newServer(t)
		_, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
		require.NoError(t, err)
		swap(t, ctx, s, "acme")

		require.NoError(t, s.RejectTrade(ctx, "acme", "bob", "alice", false))

		active, err := s.GetActiveLoops(ctx, "acme")
		require.NoError(t, err)
		require.Empty(t, active)
	})

	t.Run("collection_want_through_the_facade", func(t *testing.T) {
		s := newServer(t)
		_, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
		require.NoError(t, err)

		_, err = s.OnAssetAdded(ctx, "acme", trade.Asset{ID: "cool-1", OwnerID: "bob", CollectionID: "cool"})
		require.NoError(t, err)
		_, err = s.OnAssetAdded(ctx, "acme", trade.Asset{ID: "a1", OwnerID: "alice"})
		require.NoError(t, err)
		_, err = s.OnWantAdded(ctx, "acme", "bob", "a1")
		require.NoError(t, err)

		err = s.RegisterCollection(ctx, "acme", trade.CollectionMetadata{ID: "cool", Size: 1, Verified: true})
		require.NoError(t, err)

		exp, err := s.ExpandCollection(ctx, "acme", "cool", tenant.ExpandOptions{})
		require.NoError(t, err)
		require.Equal(t, []string{"cool-1"}, exp.SampledAssetIDs)

		loops, err := s.OnCollectionWantAdded(ctx, "acme", "alice", "cool")
		require.NoError(t, err)
		require.Len(t, loops, 1)
	})

	t.Run("external_provider_covers_unobserved_collections", func(t *testing.T) {
		external := &staticProvider{
			meta: &trade.CollectionMetadata{ID: "remote", Size: 2, Verified: true},
			assets: []trade.Asset{
				{ID: "remote-1", OwnerID: "dora", CollectionID: "remote"},
				{ID: "remote-2", OwnerID: "elias", CollectionID: "remote"},
			},
		}
		s := newServer(t, server.WithCollectionProvider(external))
		_, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
		require.NoError(t, err)

		exp, err := s.ExpandCollection(ctx, "acme", "remote", tenant.ExpandOptions{})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"remote-1", "remote-2"}, exp.SampledAssetIDs)
	})

	t.Run("snapshot_expansion_bypasses_observed_facts", func(t *testing.T) {
		s := newServer(t)
		_, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
		require.NoError(t, err)

		_, err = s.OnAssetAdded(ctx, "acme", trade.Asset{ID: "cool-1", OwnerID: "bob", CollectionID: "cool"})
		require.NoError(t, err)

		exp, err := s.ExpandCollection(ctx, "acme", "cool", tenant.ExpandOptions{
			Snapshot: []trade.Asset{{ID: "cool-9", OwnerID: "zed", CollectionID: "cool"}},
		})
		require.NoError(t, err)
		require.Equal(t, []string{"cool-9"}, exp.SampledAssetIDs)

		exp, err = s.ExpandCollection(ctx, "acme", "cool", tenant.ExpandOptions{})
		require.NoError(t, err)
		require.Equal(t, []string{"cool-1"}, exp.SampledAssetIDs)
	})

	t.Run("clear_state", func(t *testing.T) {
		s := newServer(t)
		_, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
		require.NoError(t, err)
		swap(t, ctx, s, "acme")

		require.NoError(t, s.ClearTenantState(ctx, "acme"))

		status, err := s.GetTenantStatus(ctx, "acme")
		require.NoError(t, err)
		require.Zero(t, status.AssetCount)
		require.Zero(t, status.ActiveLoopCount)
	})
}

func TestServerErrorClassification(t *testing.T) {
	ctx := context.Background()
	s := newServer(t)

	_, err := s.GetActiveLoops(ctx, "ghost")
	require.ErrorIs(t, err, serverErrors.ErrTenantNotFound)

	_, err = s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
	require.NoError(t, err)

	_, err = s.GetLoop(ctx, "acme", "no-such-loop")
	require.ErrorIs(t, err, serverErrors.ErrLoopNotFound)

	_, err = s.ExpandCollection(ctx, "acme", "ghost", tenant.ExpandOptions{})
	require.ErrorIs(t, err, serverErrors.ErrCollectionNotFound)

	_, err = s.OnAssetAdded(ctx, "acme", trade.Asset{ID: "", OwnerID: "alice"})
	require.ErrorIs(t, err, serverErrors.ErrInvalidFact)
}

func TestServerCapacity(t *testing.T) {
	ctx := context.Background()
	s := newServer(t, server.WithMaxAssetsPerTenant(1))

	_, err := s.InitializeTenant(ctx, tenant.Config{ID: "acme"})
	require.NoError(t, err)

	_, err = s.OnAssetAdded(ctx, "acme", trade.Asset{ID: "a1", OwnerID: "alice"})
	require.NoError(t, err)
	_, err = s.OnAssetAdded(ctx, "acme", trade.Asset{ID: "a2", OwnerID: "bob"})
	require.ErrorIs(t, err, serverErrors.ErrCapacityExceeded)
}

func TestServerRestore(t *testing.T) {
	ctx := context.Background()
	ds := memory.New()

	first := newServer(t, server.WithDatastore(ds))
	_, err := first.InitializeTenant(ctx, tenant.Config{ID: "acme", Name: "Acme"})
	require.NoError(t, err)
	loop := swap(t, ctx, first, "acme")

	// a second server over the same datastore picks the tenant up on boot
	second := newServer(t, server.WithDatastore(ds))

	status, err := second.GetTenantStatus(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, "Acme", status.Name)
	require.Equal(t, 2, status.AssetCount)
	require.Equal(t, 1, status.ActiveLoopCount)

	active, err := second.GetActiveLoops(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, loop.CanonicalID, active[0].CanonicalID)

	require.NoError(t, second.DeleteTenant(ctx, "acme"))
	_, err = second.GetTenantStatus(ctx, "acme")
	require.ErrorIs(t, err, serverErrors.ErrTenantNotFound)
}

func TestIsReady(t *testing.T) {
	ctx := context.Background()

	s := newServer(t)
	ready, err := s.IsReady(ctx)
	require.NoError(t, err)
	require.True(t, ready)

	s = newServer(t, server.WithDatastore(memory.New()))
	ready, err = s.IsReady(ctx)
	require.NoError(t, err)
	require.True(t, ready)
}
