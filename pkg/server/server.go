// Package server is the public surface of the trade loop engine. It wires
// the discovery pipeline, the sampler, the tenant manager, and the outward
// collaborators together behind one facade whose methods are the operations
// callers integrate against.
package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tradeloop/tradeloop/internal/discovery"
	"github.com/tradeloop/tradeloop/internal/sampling"
	"github.com/tradeloop/tradeloop/internal/scoring"
	"github.com/tradeloop/tradeloop/internal/tenant"
	"github.com/tradeloop/tradeloop/pkg/logger"
	serverErrors "github.com/tradeloop/tradeloop/pkg/server/errors"
	"github.com/tradeloop/tradeloop/pkg/settlement"
	"github.com/tradeloop/tradeloop/pkg/storage"
	"github.com/tradeloop/tradeloop/pkg/trade"
	"github.com/tradeloop/tradeloop/pkg/valuation"
)

// Server exposes the engine's operations. All methods are safe for
// concurrent use; events for the same tenant are serialized internally.
type Server struct {
	logger    logger.Logger
	datastore storage.Datastore
	executor  settlement.Executor
	valuator  valuation.Valuator
	provider  sampling.Provider
	weights   scoring.Weights

	maxCycleLength          int
	searchTimeout           time.Duration
	visitBudget             int
	maxConcurrentComponents int

	maxSampleSize          int
	minPricedForStratified int
	maxCollectionSize      int
	expansionCacheTTL      time.Duration

	maxAssetsPerTenant int
	loopTTL            time.Duration

	engine   *discovery.Engine
	expander *sampling.Expander
	manager  *tenant.Manager
}

// ServerOption configures the server at construction time.
type ServerOption func(s *Server)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithDatastore sets the checkpoint store. Tenant state is persisted to it
// after every mutation and restored from it on startup.
func WithDatastore(ds storage.Datastore) ServerOption {
	return func(s *Server) { s.datastore = ds }
}

// WithSettlementExecutor sets where newly discovered loops are submitted.
func WithSettlementExecutor(e settlement.Executor) ServerOption {
	return func(s *Server) { s.executor = e }
}

// WithValuator sets the pricing collaborator consulted during scoring.
func WithValuator(v valuation.Valuator) ServerOption {
	return func(s *Server) { s.valuator = v }
}

// WithCollectionProvider sets an external source of collection metadata and
// membership, consulted when a tenant's own facts don't cover a collection.
func WithCollectionProvider(p sampling.Provider) ServerOption {
	return func(s *Server) { s.provider = p }
}

// WithScoringWeights sets the composite score weighting.
func WithScoringWeights(w scoring.Weights) ServerOption {
	return func(s *Server) { s.weights = w }
}

// WithMaxCycleLength bounds participants per loop.
func WithMaxCycleLength(n int) ServerOption {
	return func(s *Server) { s.maxCycleLength = n }
}

// WithSearchTimeout bounds one discovery run; on expiry partial results are
// returned.
func WithSearchTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.searchTimeout = d }
}

// WithVisitBudget caps DFS expansions per component search.
func WithVisitBudget(n int) ServerOption {
	return func(s *Server) { s.visitBudget = n }
}

// WithMaxConcurrentComponents bounds discovery's component fan-out.
func WithMaxConcurrentComponents(n int) ServerOption {
	return func(s *Server) { s.maxConcurrentComponents = n }
}

// WithMaxSampleSize bounds the assets one collection want expands to.
func WithMaxSampleSize(n int) ServerOption {
	return func(s *Server) { s.maxSampleSize = n }
}

// WithMinPricedForStratified sets the valuation coverage required for
// stratified sampling.
func WithMinPricedForStratified(n int) ServerOption {
	return func(s *Server) { s.minPricedForStratified = n }
}

// WithMaxCollectionSize sets the membership size past which expansion
// degrades to random sampling.
func WithMaxCollectionSize(n int) ServerOption {
	return func(s *Server) { s.maxCollectionSize = n }
}

// WithExpansionCacheTTL sets the TTL of cached collection expansions.
func WithExpansionCacheTTL(d time.Duration) ServerOption {
	return func(s *Server) { s.expansionCacheTTL = d }
}

// WithMaxAssetsPerTenant bounds the assets one tenant may track.
func WithMaxAssetsPerTenant(n int) ServerOption {
	return func(s *Server) { s.maxAssetsPerTenant = n }
}

// WithLoopTTL sets how long pending loops stay active before the
// consistency sweep expires them.
func WithLoopTTL(d time.Duration) ServerOption {
	return func(s *Server) { s.loopTTL = d }
}

// NewServer builds a server and restores every checkpointed tenant from the
// datastore, if one is configured.
func NewServer(opts ...ServerOption) (*Server, error) {
	s := &Server{
		logger:                  logger.NewNoopLogger(),
		weights:                 scoring.DefaultWeights(),
		maxCycleLength:          0,
		searchTimeout:           discovery.DefaultSearchTimeout,
		maxSampleSize:           sampling.DefaultMaxSampleSize,
		minPricedForStratified:  sampling.DefaultMinPricedForStratified,
		maxCollectionSize:       sampling.DefaultMaxCollectionSize,
		maxAssetsPerTenant:      tenant.DefaultMaxAssets,
		loopTTL:                 tenant.DefaultLoopTTL,
		maxConcurrentComponents: discovery.DefaultMaxConcurrentComponents,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.executor == nil {
		s.executor = settlement.NewLoggingExecutor(s.logger)
	}
	if s.provider == nil {
		s.provider = noopProvider{}
	}

	engineOpts := []discovery.EngineOpt{
		discovery.WithLogger(s.logger),
		discovery.WithSearchTimeout(s.searchTimeout),
		discovery.WithMaxConcurrentComponents(s.maxConcurrentComponents),
	}
	if s.maxCycleLength > 0 {
		engineOpts = append(engineOpts, discovery.WithMaxCycleLength(s.maxCycleLength))
	}
	if s.visitBudget > 0 {
		engineOpts = append(engineOpts, discovery.WithVisitBudget(s.visitBudget))
	}
	s.engine = discovery.NewEngine(engineOpts...)

	expanderOpts := []sampling.ExpanderOpt{
		sampling.WithExpanderLogger(s.logger),
		sampling.WithMaxSampleSize(s.maxSampleSize),
		sampling.WithMinPricedForStratified(s.minPricedForStratified),
		sampling.WithMaxCollectionSize(s.maxCollectionSize),
	}
	if s.expansionCacheTTL > 0 {
		expanderOpts = append(expanderOpts, sampling.WithCacheTTL(s.expansionCacheTTL))
	}
	expander, err := sampling.NewExpander(s.provider, expanderOpts...)
	if err != nil {
		return nil, err
	}
	s.expander = expander

	managerOpts := []tenant.ManagerOpt{
		tenant.WithManagerLogger(s.logger),
		tenant.WithScoringWeights(s.weights),
		tenant.WithMaxAssets(s.maxAssetsPerTenant),
		tenant.WithLoopTTL(s.loopTTL),
		tenant.WithCollectionProvider(s.provider),
	}
	if s.datastore != nil {
		managerOpts = append(managerOpts, tenant.WithDatastore(s.datastore))
	}
	if s.valuator != nil {
		managerOpts = append(managerOpts, tenant.WithValuator(s.valuator))
	}
	manager, err := tenant.NewManager(s.engine, s.expander, managerOpts...)
	if err != nil {
		expander.Close()
		return nil, err
	}
	s.manager = manager

	if err := s.manager.RestoreAll(context.Background()); err != nil {
		s.Close()
		return nil, serverErrors.Classify(err)
	}
	return s, nil
}

// MustNewServer is NewServer for wiring paths where construction failure is
// a programming error.
func MustNewServer(opts ...ServerOption) *Server {
	s, err := NewServer(opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// Close releases the server's caches. The datastore is owned by the caller
// and stays open.
func (s *Server) Close() {
	s.expander.Close()
	s.manager.Close()
}

// InitializeTenant registers a tenant and returns its id. Re-initializing a
// known tenant is a no-op. An empty id is assigned a generated one; when a
// checkpoint exists for the id, state is restored from it.
func (s *Server) InitializeTenant(ctx context.Context, cfg tenant.Config) (string, error) {
	id, err := s.manager.Initialize(ctx, cfg)
	return id, serverErrors.Classify(err)
}

// DeleteTenant removes a tenant and its checkpoint.
func (s *Server) DeleteTenant(ctx context.Context, tenantID string) error {
	return serverErrors.Classify(s.manager.Delete(ctx, tenantID))
}

// ClearTenantState resets a tenant to an empty graph.
func (s *Server) ClearTenantState(ctx context.Context, tenantID string) error {
	return serverErrors.Classify(s.manager.ClearState(ctx, tenantID))
}

// OnAssetAdded records an ownership fact and returns loops the fact
// completed, already submitted for settlement.
func (s *Server) OnAssetAdded(ctx context.Context, tenantID string, asset trade.Asset) ([]*trade.Loop, error) {
	loops, err := s.manager.OnAssetAdded(ctx, tenantID, asset)
	if err != nil {
		return nil, serverErrors.Classify(err)
	}
	s.submit(ctx, tenantID, loops)
	return loops, nil
}

// OnWantAdded records that a party wants a specific asset and returns loops
// the want completed.
func (s *Server) OnWantAdded(ctx context.Context, tenantID, partyID, assetID string) ([]*trade.Loop, error) {
	loops, err := s.manager.OnWantAdded(ctx, tenantID, partyID, assetID)
	if err != nil {
		return nil, serverErrors.Classify(err)
	}
	s.submit(ctx, tenantID, loops)
	return loops, nil
}

// OnCollectionWantAdded records that a party wants any asset of a
// collection. The want is expanded into a bounded sample before edges are
// derived from it.
func (s *Server) OnCollectionWantAdded(ctx context.Context, tenantID, partyID, collectionID string) ([]*trade.Loop, error) {
	loops, err := s.manager.OnCollectionWantAdded(ctx, tenantID, partyID, collectionID)
	if err != nil {
		return nil, serverErrors.Classify(err)
	}
	s.submit(ctx, tenantID, loops)
	return loops, nil
}

// RegisterCollection records collection metadata for a tenant.
func (s *Server) RegisterCollection(ctx context.Context, tenantID string, meta trade.CollectionMetadata) error {
	return serverErrors.Classify(s.manager.RegisterCollection(ctx, tenantID, meta))
}

// RejectTrade records that a party refuses an asset (isAsset) or refuses to
// trade with another party, and removes active loops the rejection breaks.
// No search runs; rejections only shrink the graph.
func (s *Server) RejectTrade(ctx context.Context, tenantID, partyID, targetID string, isAsset bool) error {
	return serverErrors.Classify(s.manager.RejectTrade(ctx, tenantID, partyID, targetID, isAsset))
}

// GetActiveLoops returns the tenant's open loops, best score first.
func (s *Server) GetActiveLoops(ctx context.Context, tenantID string) ([]*trade.Loop, error) {
	loops, err := s.manager.ActiveLoops(ctx, tenantID)
	return loops, serverErrors.Classify(err)
}

// GetLoop returns one loop by id, active or settled.
func (s *Server) GetLoop(ctx context.Context, tenantID, loopID string) (*trade.Loop, error) {
	loop, err := s.manager.Loop(ctx, tenantID, loopID)
	return loop, serverErrors.Classify(err)
}

// GetTenantStatus returns the tenant's summary counters.
func (s *Server) GetTenantStatus(ctx context.Context, tenantID string) (*tenant.Status, error) {
	status, err := s.manager.Status(ctx, tenantID)
	return status, serverErrors.Classify(err)
}

// ExpandCollection returns the bounded sample a collection want would
// expand to, without recording a want. Callers holding a fresher membership
// snapshot than the tenant's observed facts can pass it through opts; a
// snapshot expansion never touches the shared cache.
func (s *Server) ExpandCollection(ctx context.Context, tenantID, collectionID string, opts tenant.ExpandOptions) (*sampling.Expansion, error) {
	expansion, err := s.manager.ExpandCollection(ctx, tenantID, collectionID, opts)
	return expansion, serverErrors.Classify(err)
}

// RecordTradeStepCompletion marks one hop of a loop as confirmed. The loop
// holds in approving until every hop has confirmed; the final confirmation
// applies the ownership transfers and retires the loop as completed.
func (s *Server) RecordTradeStepCompletion(ctx context.Context, tenantID, loopID string, stepIndex int) (*trade.Loop, error) {
	loop, err := s.manager.RecordStepCompletion(ctx, tenantID, loopID, stepIndex)
	return loop, serverErrors.Classify(err)
}

// FullRescan rebuilds a tenant's loop set from scratch and returns loops
// not previously known. The fallback when incremental state is in doubt.
func (s *Server) FullRescan(ctx context.Context, tenantID string) ([]*trade.Loop, error) {
	loops, err := s.manager.FullRescan(ctx, tenantID)
	if err != nil {
		return nil, serverErrors.Classify(err)
	}
	s.submit(ctx, tenantID, loops)
	return loops, nil
}

// Sweep runs one consistency pass over every tenant: fact store integrity,
// loop expiry, and pruning of loops invalidated by drift.
func (s *Server) Sweep(ctx context.Context) {
	s.manager.Sweep(ctx)
}

// IsReady reports whether the server can serve traffic, which reduces to
// the datastore being reachable.
func (s *Server) IsReady(ctx context.Context) (bool, error) {
	if s.datastore == nil {
		return true, nil
	}
	status, err := s.datastore.IsReady(ctx)
	if err != nil {
		return false, err
	}
	return status.IsReady, nil
}

// submit hands newly discovered loops to the settlement executor. Failures
// are logged, not returned; the loops stay active and a later sweep or
// rescan resurfaces them.
func (s *Server) submit(ctx context.Context, tenantID string, loops []*trade.Loop) {
	for _, loop := range loops {
		if err := s.executor.Submit(ctx, tenantID, loop); err != nil {
			s.logger.Warn("settlement submission failed",
				zap.String("tenant_id", tenantID),
				zap.String("loop_id", loop.ID),
				zap.Error(err),
			)
		}
	}
}

// noopProvider is the default external collection source: it knows nothing,
// so expansion falls back to each tenant's own observed facts.
type noopProvider struct{}

var _ sampling.Provider = noopProvider{}

func (noopProvider) CollectionMetadata(context.Context, string) (*trade.CollectionMetadata, error) {
	return nil, nil
}

func (noopProvider) CollectionAssets(context.Context, string) ([]trade.Asset, error) {
	return nil, nil
}
