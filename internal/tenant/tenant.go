// Package tenant manages the isolated per-tenant trade graphs and the
// manager that routes events to them. Each tenant owns its own fact store
// and active loop set; the only cross-tenant state lives in the manager's
// shared caches.
package tenant

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/tradeloop/tradeloop/internal/facts"
	"github.com/tradeloop/tradeloop/internal/sampling"
	"github.com/tradeloop/tradeloop/internal/scoring"
	"github.com/tradeloop/tradeloop/pkg/trade"
)

var (
	// ErrNotFound is returned when an operation names an unknown tenant.
	ErrNotFound = errors.New("tenant not found")

	// ErrLoopNotFound is returned when an operation names an unknown loop.
	ErrLoopNotFound = errors.New("trade loop not found")

	// ErrCapacityExceeded is returned when an asset fact would push a
	// tenant past its configured asset capacity.
	ErrCapacityExceeded = errors.New("tenant capacity exceeded")
)

// Config describes a tenant to initialize. An empty ID is assigned one.
type Config struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ExpandOptions tunes one collection expansion.
type ExpandOptions struct {
	// Snapshot supplies an explicit membership snapshot to expand against
	// instead of the tenant's observed facts. Snapshot expansions always
	// bypass the shared cache, so a snapshot-specific sample never
	// displaces the cached one.
	Snapshot []trade.Asset

	// BypassCache recomputes the sample even when a cached one exists.
	BypassCache bool
}

// Status is the summary returned for a tenant.
type Status struct {
	TenantID        string `json:"tenant_id"`
	Name            string `json:"name"`
	AssetCount      int    `json:"asset_count"`
	PartyCount      int    `json:"party_count"`
	ActiveLoopCount int    `json:"active_loop_count"`
}

// Graph is the isolated state of one tenant. All access goes through mu;
// a single writer at a time keeps the fact store and the loop indexes
// consistent without finer locking.
type Graph struct {
	id   string
	name string

	mu sync.Mutex

	// GUARDED_BY(mu)
	store *facts.Store

	// version counts fact mutations and keys the derived-graph cache.
	// GUARDED_BY(mu)
	version uint64

	// active indexes open loops by canonical id, kept sorted so listing
	// and deduplication are both cheap.
	// GUARDED_BY(mu)
	active *redblacktree.Tree

	// loops indexes every known loop by its ULID, including settled ones.
	// GUARDED_BY(mu)
	loops map[string]*trade.Loop

	// completedSteps tracks settlement progress per loop.
	// GUARDED_BY(mu)
	completedSteps map[string]map[int]struct{}

	// participated holds parties that completed a trade, feeding the
	// adaptive sampling strategy.
	// GUARDED_BY(mu)
	participated map[string]struct{}
}

func newGraph(id, name string, store *facts.Store) *Graph {
	return &Graph{
		id:             id,
		name:           name,
		store:          store,
		active:         redblacktree.NewWithStringComparator(),
		loops:          make(map[string]*trade.Loop),
		completedSteps: make(map[string]map[int]struct{}),
		participated:   make(map[string]struct{}),
	}
}

// activeLoops returns the open loops in ranked order. Caller holds mu.
func (t *Graph) activeLoops() []*trade.Loop {
	loops := make([]*trade.Loop, 0, t.active.Size())
	for _, v := range t.active.Values() {
		loops = append(loops, v.(*trade.Loop))
	}
	scoring.Rank(loops)
	return loops
}

// admitLoops merges freshly discovered loops into the active set and returns
// the ones not seen before, ranked. Caller holds mu.
func (t *Graph) admitLoops(found []*trade.Loop) []*trade.Loop {
	var fresh []*trade.Loop
	for _, loop := range found {
		if _, ok := t.active.Get(loop.CanonicalID); ok {
			continue
		}
		if err := loop.Validate(); err != nil {
			// A cycle that assembles into an invalid loop indicates a bug
			// upstream; dropping it is safer than surfacing it.
			continue
		}
		t.active.Put(loop.CanonicalID, loop)
		t.loops[loop.ID] = loop
		fresh = append(fresh, loop)
	}
	scoring.Rank(fresh)
	return fresh
}

// dropLoop removes a loop from the active index, transitioning it to the
// given terminal status when the transition is legal. Caller holds mu.
func (t *Graph) dropLoop(loop *trade.Loop, to trade.Status) {
	if trade.CanTransition(loop.Status, to) {
		loop.Status = to
	}
	t.active.Remove(loop.CanonicalID)
}

// pruneInvalid removes active loops whose steps no longer hold: an asset
// moved, a want was displaced from a collection sample, or a rejection now
// blocks a hop. Runs on the loop index only; no cycle search is involved.
// Caller holds mu.
func (t *Graph) pruneInvalid() int {
	var stale []*trade.Loop
	for _, v := range t.active.Values() {
		loop := v.(*trade.Loop)
		if !t.loopValid(loop) {
			stale = append(stale, loop)
		}
	}
	for _, loop := range stale {
		t.dropLoop(loop, trade.StatusCancelled)
	}
	return len(stale)
}

// loopValid reports whether every hop of the loop is still backed by the
// facts: the giver owns the assets, the receiver still wants them, and no
// rejection blocks the hop. Caller holds mu.
func (t *Graph) loopValid(loop *trade.Loop) bool {
	for _, step := range loop.Steps {
		for _, assetID := range step.AssetIDs {
			owner, ok := t.store.Owner(assetID)
			if !ok || owner != step.From {
				return false
			}
			if t.store.Rejected(step.To, assetID, step.From) {
				return false
			}
			if !wants(t.store.Wanters(assetID), step.To) {
				return false
			}
		}
	}
	return true
}

// expireStale moves pending loops older than ttl out of the active set.
// Caller holds mu.
func (t *Graph) expireStale(now time.Time, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-ttl)

	var stale []*trade.Loop
	for _, v := range t.active.Values() {
		loop := v.(*trade.Loop)
		if loop.Status == trade.StatusPending && loop.CreatedAt.Before(cutoff) {
			stale = append(stale, loop)
		}
	}
	for _, loop := range stale {
		t.dropLoop(loop, trade.StatusExpired)
	}
	return len(stale)
}

func wants(wanters []string, party string) bool {
	for _, w := range wanters {
		if w == party {
			return true
		}
	}
	return false
}

// snapshotProvider serves one expansion from an explicit membership
// snapshot, ignoring the tenant's observed facts entirely.
type snapshotProvider struct {
	collectionID string
	assets       []trade.Asset
}

var _ sampling.Provider = snapshotProvider{}

func (p snapshotProvider) CollectionMetadata(_ context.Context, collectionID string) (*trade.CollectionMetadata, error) {
	if collectionID != p.collectionID || len(p.assets) == 0 {
		return nil, nil
	}
	return &trade.CollectionMetadata{ID: collectionID, Size: len(p.assets)}, nil
}

func (p snapshotProvider) CollectionAssets(_ context.Context, collectionID string) ([]trade.Asset, error) {
	if collectionID != p.collectionID {
		return nil, nil
	}
	return p.assets, nil
}

// storeProvider exposes a tenant's observed collection facts as a sampling
// membership source. When no metadata was registered for a collection but
// members have been observed, a minimal unverified record is synthesized so
// the want can still be expanded. Collections the tenant has never observed
// are delegated to the fallback provider, if any.
type storeProvider struct {
	store    *facts.Store
	fallback sampling.Provider
}

var _ sampling.Provider = (*storeProvider)(nil)

func (p *storeProvider) CollectionMetadata(ctx context.Context, collectionID string) (*trade.CollectionMetadata, error) {
	if meta, ok := p.store.CollectionMetadata(collectionID); ok {
		return &meta, nil
	}

	if members := p.store.CollectionAssets(collectionID); len(members) > 0 {
		return &trade.CollectionMetadata{ID: collectionID, Size: len(members)}, nil
	}
	if p.fallback != nil {
		return p.fallback.CollectionMetadata(ctx, collectionID)
	}
	return nil, nil
}

func (p *storeProvider) CollectionAssets(ctx context.Context, collectionID string) ([]trade.Asset, error) {
	if members := p.store.CollectionAssets(collectionID); len(members) > 0 {
		return members, nil
	}
	if p.fallback != nil {
		return p.fallback.CollectionAssets(ctx, collectionID)
	}
	return nil, nil
}
