package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/karlseguin/ccache/v3"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/tradeloop/tradeloop/internal/discovery"
	"github.com/tradeloop/tradeloop/internal/facts"
	"github.com/tradeloop/tradeloop/internal/graph"
	"github.com/tradeloop/tradeloop/internal/sampling"
	"github.com/tradeloop/tradeloop/internal/scoring"
	"github.com/tradeloop/tradeloop/pkg/logger"
	"github.com/tradeloop/tradeloop/pkg/storage"
	"github.com/tradeloop/tradeloop/pkg/telemetry"
	"github.com/tradeloop/tradeloop/pkg/trade"
	"github.com/tradeloop/tradeloop/pkg/valuation"
)

var tracer = otel.Tracer("tradeloop/internal/tenant")

const (
	// DefaultMaxAssets bounds the assets one tenant may track.
	DefaultMaxAssets = 250_000

	// DefaultLoopTTL is how long a pending loop stays active before the
	// consistency sweep expires it.
	DefaultLoopTTL = 24 * time.Hour

	checkpointPrefix = "tenant/"
	checkpointSuffix = "/state"

	graphCacheSize = 64
	graphCacheTTL  = time.Minute
)

// Manager owns the tenant registry and routes every event to the affected
// tenant's graph. The registry map takes a read lock per operation; the
// per-tenant mutex then serializes work within a tenant so events touching
// different tenants never contend.
type Manager struct {
	mu      sync.RWMutex
	tenants map[string]*Graph

	logger    logger.Logger
	datastore storage.Datastore
	engine    *discovery.Engine
	expander  *sampling.Expander
	provider  sampling.Provider
	valuator  valuation.Valuator
	weights   scoring.Weights

	// graphs caches derived graphs keyed by tenant id and fact version,
	// so bursts of reads between mutations skip the rebuild.
	graphs *ccache.Cache[*graph.Graph]

	maxAssets int
	loopTTL   time.Duration
}

type ManagerOpt func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(l logger.Logger) ManagerOpt {
	return func(m *Manager) { m.logger = l }
}

// WithDatastore sets the checkpoint store. Without one, tenant state lives
// only in memory.
func WithDatastore(ds storage.Datastore) ManagerOpt {
	return func(m *Manager) { m.datastore = ds }
}

// WithValuator sets the pricing collaborator used during scoring.
func WithValuator(v valuation.Valuator) ManagerOpt {
	return func(m *Manager) { m.valuator = v }
}

// WithCollectionProvider sets an external collection source consulted when a
// tenant's own facts don't cover a collection.
func WithCollectionProvider(p sampling.Provider) ManagerOpt {
	return func(m *Manager) { m.provider = p }
}

// WithScoringWeights sets the composite score weighting.
func WithScoringWeights(w scoring.Weights) ManagerOpt {
	return func(m *Manager) { m.weights = w }
}

// WithMaxAssets bounds the assets one tenant may track.
func WithMaxAssets(n int) ManagerOpt {
	return func(m *Manager) { m.maxAssets = n }
}

// WithLoopTTL sets how long pending loops stay active before expiry.
func WithLoopTTL(ttl time.Duration) ManagerOpt {
	return func(m *Manager) { m.loopTTL = ttl }
}

func NewManager(engine *discovery.Engine, expander *sampling.Expander, opts ...ManagerOpt) (*Manager, error) {
	m := &Manager{
		tenants:   make(map[string]*Graph),
		logger:    logger.NewNoopLogger(),
		engine:    engine,
		expander:  expander,
		valuator:  valuation.NewStaticValuator(nil),
		weights:   scoring.DefaultWeights(),
		maxAssets: DefaultMaxAssets,
		loopTTL:   DefaultLoopTTL,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.weights.Verify(); err != nil {
		return nil, err
	}

	m.graphs = ccache.New(ccache.Configure[*graph.Graph]().MaxSize(graphCacheSize))
	return m, nil
}

// Close stops the shared caches. Tenant state is checkpointed on every
// mutation, so there is nothing further to flush.
func (m *Manager) Close() {
	m.graphs.Stop()
}

// Initialize registers a tenant. Initializing an already known tenant is a
// no-op returning its id. When a checkpoint exists for the id, state is
// restored from it. An empty id is assigned a generated one.
func (m *Manager) Initialize(ctx context.Context, cfg Config) (string, error) {
	ctx, span := tracer.Start(ctx, "tenant.Initialize")
	defer span.End()

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[cfg.ID]; ok {
		return cfg.ID, nil
	}

	t, err := m.restore(ctx, cfg)
	if err != nil {
		telemetry.TraceError(span, err)
		return "", err
	}
	m.tenants[cfg.ID] = t

	m.logger.Info("tenant initialized",
		zap.String("tenant_id", cfg.ID),
		zap.Int("assets", t.store.AssetCount()),
		zap.Int("active_loops", t.active.Size()),
	)
	return cfg.ID, nil
}

// Delete removes a tenant and its checkpoint.
func (m *Manager) Delete(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[tenantID]; !ok {
		return fmt.Errorf("%s: %w", tenantID, ErrNotFound)
	}
	delete(m.tenants, tenantID)

	if m.datastore != nil {
		if err := m.datastore.DeleteData(ctx, checkpointKey(tenantID)); err != nil {
			return fmt.Errorf("delete checkpoint for tenant %s: %w", tenantID, err)
		}
	}
	return nil
}

// ClearState resets a tenant to an empty graph, discarding facts and loops.
func (m *Manager) ClearState(ctx context.Context, tenantID string) error {
	t, err := m.get(tenantID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.store = facts.NewStore()
	t.active.Clear()
	t.loops = make(map[string]*trade.Loop)
	t.completedSteps = make(map[string]map[int]struct{})
	t.participated = make(map[string]struct{})
	t.version++

	m.persist(ctx, t)
	return nil
}

// OnAssetAdded records an ownership fact and returns newly discovered loops.
// A fact that changes nothing triggers no search. An ownership move prunes
// loops built on the previous owner before searching around the new edges.
func (m *Manager) OnAssetAdded(ctx context.Context, tenantID string, asset trade.Asset) ([]*trade.Loop, error) {
	ctx, span := tracer.Start(ctx, "tenant.OnAssetAdded")
	defer span.End()

	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, tracked := t.store.Asset(asset.ID); !tracked && t.store.AssetCount() >= m.maxAssets {
		err := fmt.Errorf("tenant %s at %d assets: %w", tenantID, m.maxAssets, ErrCapacityExceeded)
		telemetry.TraceError(span, err)
		return nil, err
	}

	changed, err := t.store.AddAsset(asset)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	t.version++
	t.pruneInvalid()

	restrict := map[string]struct{}{asset.OwnerID: {}}
	for _, wanter := range t.store.Wanters(asset.ID) {
		restrict[wanter] = struct{}{}
	}

	fresh, err := m.search(ctx, t, restrict)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	m.persist(ctx, t)
	return fresh, nil
}

// OnWantAdded records a direct want and returns newly discovered loops.
func (m *Manager) OnWantAdded(ctx context.Context, tenantID, partyID, assetID string) ([]*trade.Loop, error) {
	ctx, span := tracer.Start(ctx, "tenant.OnWantAdded")
	defer span.End()

	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	changed, err := t.store.AddWant(partyID, assetID)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	t.version++

	restrict := map[string]struct{}{partyID: {}}
	if owner, ok := t.store.Owner(assetID); ok {
		restrict[owner] = struct{}{}
	}

	fresh, err := m.search(ctx, t, restrict)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	m.persist(ctx, t)
	return fresh, nil
}

// OnCollectionWantAdded expands a collection-level want into a bounded
// sample of concrete assets, installs it, and returns newly discovered
// loops. The expansion is cached per tenant and collection.
func (m *Manager) OnCollectionWantAdded(ctx context.Context, tenantID, partyID, collectionID string) ([]*trade.Loop, error) {
	ctx, span := tracer.Start(ctx, "tenant.OnCollectionWantAdded")
	defer span.End()

	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	expansion, err := m.expand(ctx, t, collectionID)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}

	if _, err := t.store.AddCollectionWant(partyID, collectionID); err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	t.store.SetCollectionSample(collectionID, expansion.SampledAssetIDs)
	t.version++

	// Installing a new sample can displace assets from the previous one,
	// silently invalidating loops that rode on them.
	t.pruneInvalid()

	restrict := map[string]struct{}{partyID: {}}
	for _, assetID := range expansion.SampledAssetIDs {
		if owner, ok := t.store.Owner(assetID); ok {
			restrict[owner] = struct{}{}
		}
	}

	fresh, err := m.search(ctx, t, restrict)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	m.persist(ctx, t)
	return fresh, nil
}

// RegisterCollection records collection metadata for a tenant, steering the
// sampling strategy of later collection wants. Changed metadata drops the
// cached expansion.
func (m *Manager) RegisterCollection(ctx context.Context, tenantID string, meta trade.CollectionMetadata) error {
	t, err := m.get(tenantID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.store.SetCollectionMetadata(meta); err != nil {
		return err
	}
	m.expander.Invalidate(expansionKey(tenantID, meta.ID))
	m.persist(ctx, t)
	return nil
}

// ExpandCollection computes (or serves from cache) the bounded sample for a
// collection without recording a want. When opts carries a membership
// snapshot the sample is drawn from it instead of the tenant's observed
// facts, and the shared cache is neither read nor written.
func (m *Manager) ExpandCollection(ctx context.Context, tenantID, collectionID string, opts ExpandOptions) (*sampling.Expansion, error) {
	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(opts.Snapshot) > 0 {
		return m.expander.Expand(ctx, collectionID, sampling.Options{
			ActiveOwners: t.participated,
			Provider:     snapshotProvider{collectionID: collectionID, assets: opts.Snapshot},
			BypassCache:  true,
		})
	}
	return m.expander.Expand(ctx, collectionID, sampling.Options{
		ActiveOwners: t.participated,
		Provider:     &storeProvider{store: t.store, fallback: m.provider},
		CacheKey:     expansionKey(t.id, collectionID),
		BypassCache:  opts.BypassCache,
	})
}

// expand runs the sampler against the tenant's observed collection facts.
// Caller holds t.mu.
func (m *Manager) expand(ctx context.Context, t *Graph, collectionID string) (*sampling.Expansion, error) {
	return m.expander.Expand(ctx, collectionID, sampling.Options{
		ActiveOwners: t.participated,
		Provider:     &storeProvider{store: t.store, fallback: m.provider},
		CacheKey:     expansionKey(t.id, collectionID),
	})
}

// RejectTrade records that a party refuses an asset (isAsset) or another
// party. Matching active loops are removed from the loop index directly; a
// rejection only ever shrinks the graph, so no search runs.
func (m *Manager) RejectTrade(ctx context.Context, tenantID, partyID, targetID string, isAsset bool) error {
	ctx, span := tracer.Start(ctx, "tenant.RejectTrade")
	defer span.End()

	t, err := m.get(tenantID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	changed, err := t.store.AddRejection(partyID, targetID, isAsset)
	if err != nil {
		telemetry.TraceError(span, err)
		return err
	}
	if !changed {
		return nil
	}
	t.version++

	if n := t.pruneInvalid(); n > 0 {
		m.logger.Debug("rejection invalidated active loops",
			zap.String("tenant_id", tenantID),
			zap.Int("loops_removed", n),
		)
	}
	m.persist(ctx, t)
	return nil
}

// ActiveLoops returns the tenant's open loops in ranked order.
func (m *Manager) ActiveLoops(_ context.Context, tenantID string) ([]*trade.Loop, error) {
	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeLoops(), nil
}

// Loop returns one loop by its ULID, active or settled.
func (m *Manager) Loop(_ context.Context, tenantID, loopID string) (*trade.Loop, error) {
	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	loop, ok := t.loops[loopID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", loopID, ErrLoopNotFound)
	}
	return loop, nil
}

// Status returns the tenant's summary counters.
func (m *Manager) Status(_ context.Context, tenantID string) (*Status, error) {
	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return &Status{
		TenantID:        t.id,
		Name:            t.name,
		AssetCount:      t.store.AssetCount(),
		PartyCount:      t.store.PartyCount(),
		ActiveLoopCount: t.active.Size(),
	}, nil
}

// RecordStepCompletion marks one hop of a loop as confirmed. The first
// confirmation moves the loop from pending to approving; once every hop is
// confirmed the loop moves to executing, the ownership transfers are
// applied atomically, and the loop retires from the active set as
// completed.
func (m *Manager) RecordStepCompletion(ctx context.Context, tenantID, loopID string, stepIndex int) (*trade.Loop, error) {
	ctx, span := tracer.Start(ctx, "tenant.RecordStepCompletion")
	defer span.End()

	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	loop, ok := t.loops[loopID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", loopID, ErrLoopNotFound)
	}
	if stepIndex < 0 || stepIndex >= len(loop.Steps) {
		return nil, fmt.Errorf("loop %s has no step %d", loopID, stepIndex)
	}
	if loop.Status.Terminal() {
		return nil, fmt.Errorf("loop %s is already %s", loopID, loop.Status)
	}

	if loop.Status == trade.StatusPending {
		loop.Status = trade.StatusApproving
	}

	done := t.completedSteps[loopID]
	if done == nil {
		done = make(map[int]struct{})
		t.completedSteps[loopID] = done
	}
	done[stepIndex] = struct{}{}

	if len(done) == len(loop.Steps) {
		loop.Status = trade.StatusExecuting
		if err := m.settleLoop(t, loop); err != nil {
			telemetry.TraceError(span, err)
			return nil, err
		}
		delete(t.completedSteps, loopID)
	}

	m.persist(ctx, t)
	return loop, nil
}

// settleLoop applies a fully executed loop: every moved asset changes owner,
// the participants are marked active, and the loop leaves the active set.
// Other loops sharing an asset with the settled one are now invalid and get
// pruned. Caller holds t.mu.
func (m *Manager) settleLoop(t *Graph, loop *trade.Loop) error {
	for _, step := range loop.Steps {
		for _, assetID := range step.AssetIDs {
			asset, ok := t.store.Asset(assetID)
			if !ok {
				return fmt.Errorf("settling loop %s: asset %s untracked: %w", loop.ID, assetID, facts.ErrCorrupted)
			}
			asset.OwnerID = step.To
			if _, err := t.store.AddAsset(asset); err != nil {
				return err
			}
		}
		t.participated[step.From] = struct{}{}
	}
	t.version++

	loop.Status = trade.StatusCompleted
	t.active.Remove(loop.CanonicalID)
	t.pruneInvalid()

	m.logger.Info("trade loop completed",
		zap.String("tenant_id", t.id),
		zap.String("loop_id", loop.ID),
		zap.Int("participants", loop.TotalParticipants),
	)
	return nil
}

// FullRescan rebuilds the tenant's loop set from scratch: every component is
// searched, stale loops are pruned, and loops not previously known are
// returned. The explicit fallback for when incremental coordination is in
// doubt.
func (m *Manager) FullRescan(ctx context.Context, tenantID string) ([]*trade.Loop, error) {
	ctx, span := tracer.Start(ctx, "tenant.FullRescan")
	defer span.End()

	t, err := m.get(tenantID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneInvalid()
	fresh, err := m.search(ctx, t, nil)
	if err != nil {
		telemetry.TraceError(span, err)
		return nil, err
	}
	m.persist(ctx, t)
	return fresh, nil
}

// Sweep runs the periodic consistency pass over every tenant: integrity
// check of the fact store, expiry of stale pending loops, and pruning of
// loops invalidated by drift. A corrupted store is restored from its
// checkpoint.
func (m *Manager) Sweep(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "tenant.Sweep")
	defer span.End()

	m.mu.RLock()
	tenants := make([]*Graph, 0, len(m.tenants))
	for _, t := range m.tenants {
		tenants = append(tenants, t)
	}
	m.mu.RUnlock()

	now := time.Now().UTC()
	for _, t := range tenants {
		t.mu.Lock()

		if err := t.store.CheckIntegrity(); err != nil {
			m.logger.Error("fact store corrupted, restoring from checkpoint",
				zap.String("tenant_id", t.id),
				zap.Error(err),
			)
			if restoreErr := m.restoreInPlace(ctx, t); restoreErr != nil {
				m.logger.Error("checkpoint restore failed",
					zap.String("tenant_id", t.id),
					zap.Error(restoreErr),
				)
			}
			t.mu.Unlock()
			continue
		}

		expired := t.expireStale(now, m.loopTTL)
		pruned := t.pruneInvalid()
		if expired > 0 || pruned > 0 {
			m.logger.Info("consistency sweep removed loops",
				zap.String("tenant_id", t.id),
				zap.Int("expired", expired),
				zap.Int("pruned", pruned),
			)
			m.persist(ctx, t)
		}
		t.mu.Unlock()
	}
}

// TenantIDs returns the registered tenant ids, sorted.
func (m *Manager) TenantIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RestoreAll loads every checkpointed tenant from the datastore. Called once
// on startup.
func (m *Manager) RestoreAll(ctx context.Context) error {
	if m.datastore == nil {
		return nil
	}

	keys, err := m.datastore.ListKeys(ctx, checkpointPrefix)
	if err != nil {
		return fmt.Errorf("list tenant checkpoints: %w", err)
	}

	for _, key := range keys {
		id, ok := tenantIDFromKey(key)
		if !ok {
			continue
		}
		if _, err := m.Initialize(ctx, Config{ID: id}); err != nil {
			return fmt.Errorf("restore tenant %s: %w", id, err)
		}
	}
	return nil
}

func (m *Manager) get(tenantID string) (*Graph, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tenantID, ErrNotFound)
	}
	return t, nil
}

// search runs discovery over the tenant's graph, optionally restricted to
// the components containing the given parties, and admits loops not already
// active. Caller holds t.mu.
func (m *Manager) search(ctx context.Context, t *Graph, restrict map[string]struct{}) ([]*trade.Loop, error) {
	scorer, err := scoring.NewScorer(m.weights, &valueSource{ctx: ctx, store: t.store, valuator: m.valuator, logger: m.logger}, t.store)
	if err != nil {
		return nil, err
	}

	res, err := m.engine.DiscoverGraph(ctx, m.builtGraph(t), scorer, restrict)
	if err != nil {
		return nil, err
	}
	return t.admitLoops(res.Loops), nil
}

// builtGraph returns the derived graph for the tenant's current fact
// version, rebuilding on a miss. Caller holds t.mu.
func (m *Manager) builtGraph(t *Graph) *graph.Graph {
	key := fmt.Sprintf("%s@%d", t.id, t.version)
	if item := m.graphs.Get(key); item != nil && !item.Expired() {
		return item.Value()
	}

	g := graph.Build(t.store)
	m.graphs.Set(key, g, graphCacheTTL)
	return g
}

// checkpoint is the serialized form of one tenant.
type checkpoint struct {
	Name           string           `json:"name,omitempty"`
	Facts          *facts.Snapshot  `json:"facts"`
	Loops          []*trade.Loop    `json:"loops,omitempty"`
	CompletedSteps map[string][]int `json:"completed_steps,omitempty"`
	Participated   []string         `json:"participated,omitempty"`
}

// persist checkpoints the tenant. Failures are logged and do not fail the
// triggering operation; the next mutation retries.
func (m *Manager) persist(ctx context.Context, t *Graph) {
	if m.datastore == nil {
		return
	}

	cp := checkpoint{
		Name:           t.name,
		Facts:          t.store.Snapshot(),
		CompletedSteps: make(map[string][]int, len(t.completedSteps)),
	}
	for _, v := range t.active.Values() {
		cp.Loops = append(cp.Loops, v.(*trade.Loop))
	}
	for loopID, done := range t.completedSteps {
		steps := make([]int, 0, len(done))
		for i := range done {
			steps = append(steps, i)
		}
		sort.Ints(steps)
		cp.CompletedSteps[loopID] = steps
	}
	for party := range t.participated {
		cp.Participated = append(cp.Participated, party)
	}
	sort.Strings(cp.Participated)

	data, err := json.Marshal(cp)
	if err != nil {
		m.logger.Error("marshal tenant checkpoint", zap.String("tenant_id", t.id), zap.Error(err))
		return
	}
	if err := m.datastore.SaveData(ctx, checkpointKey(t.id), data); err != nil {
		m.logger.Warn("save tenant checkpoint", zap.String("tenant_id", t.id), zap.Error(err))
	}
}

// restore builds a tenant graph from its checkpoint, or a fresh one when no
// checkpoint exists. Caller holds m.mu.
func (m *Manager) restore(ctx context.Context, cfg Config) (*Graph, error) {
	if m.datastore == nil {
		return newGraph(cfg.ID, cfg.Name, facts.NewStore()), nil
	}

	data, err := m.datastore.LoadData(ctx, checkpointKey(cfg.ID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return newGraph(cfg.ID, cfg.Name, facts.NewStore()), nil
		}
		return nil, fmt.Errorf("load checkpoint for tenant %s: %w", cfg.ID, err)
	}

	t, err := graphFromCheckpoint(cfg, data)
	if err != nil {
		return nil, fmt.Errorf("restore tenant %s: %w", cfg.ID, err)
	}
	return t, nil
}

// restoreInPlace replaces a corrupted tenant's state with its checkpoint.
// Caller holds t.mu.
func (m *Manager) restoreInPlace(ctx context.Context, t *Graph) error {
	if m.datastore == nil {
		return fmt.Errorf("no checkpoint store configured for tenant %s", t.id)
	}

	data, err := m.datastore.LoadData(ctx, checkpointKey(t.id))
	if err != nil {
		return err
	}

	restored, err := graphFromCheckpoint(Config{ID: t.id, Name: t.name}, data)
	if err != nil {
		return err
	}

	t.store = restored.store
	t.active = restored.active
	t.loops = restored.loops
	t.completedSteps = restored.completedSteps
	t.participated = restored.participated
	t.version++
	return nil
}

func graphFromCheckpoint(cfg Config, data []byte) (*Graph, error) {
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	if cp.Facts == nil {
		return nil, fmt.Errorf("checkpoint has no facts section")
	}

	store, err := facts.Restore(cp.Facts)
	if err != nil {
		return nil, err
	}

	name := cfg.Name
	if name == "" {
		name = cp.Name
	}
	t := newGraph(cfg.ID, name, store)

	for _, loop := range cp.Loops {
		if err := loop.Validate(); err != nil {
			return nil, err
		}
		t.active.Put(loop.CanonicalID, loop)
		t.loops[loop.ID] = loop
	}
	for loopID, steps := range cp.CompletedSteps {
		done := make(map[int]struct{}, len(steps))
		for _, i := range steps {
			done[i] = struct{}{}
		}
		t.completedSteps[loopID] = done
	}
	for _, party := range cp.Participated {
		t.participated[party] = struct{}{}
	}
	return t, nil
}

func checkpointKey(tenantID string) string {
	return checkpointPrefix + tenantID + checkpointSuffix
}

func tenantIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, checkpointPrefix) || !strings.HasSuffix(key, checkpointSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, checkpointPrefix), checkpointSuffix)
	return id, id != ""
}

func expansionKey(tenantID, collectionID string) string {
	return tenantID + "/" + collectionID
}

// valueSource adapts the pricing collaborator to the scorer: stored values
// win, the valuator fills gaps, and lookup failures degrade to unpriced
// rather than failing the search.
type valueSource struct {
	ctx      context.Context
	store    *facts.Store
	valuator valuation.Valuator
	logger   logger.Logger
}

var _ scoring.ValueSource = (*valueSource)(nil)

func (v *valueSource) AssetValue(assetID string) float64 {
	if asset, ok := v.store.Asset(assetID); ok && asset.Value > 0 {
		return asset.Value
	}
	if v.valuator == nil {
		return 0
	}

	value, err := v.valuator.AssetValue(v.ctx, assetID)
	if err != nil {
		v.logger.Debug("valuation lookup failed, treating asset as unpriced",
			zap.String("asset_id", assetID),
			zap.Error(err),
		)
		return 0
	}
	return value
}
