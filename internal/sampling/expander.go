// Package sampling bounds collection-level wants. Expanding a want that
// targets a multi-thousand-item collection into one edge per member would
// blow up the graph, so a collection want is converted into a bounded sample
// of concrete assets chosen by the strategy that best fits the collection's
// metadata.
package sampling

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tradeloop/tradeloop/pkg/logger"
	"github.com/tradeloop/tradeloop/pkg/trade"
)

var tracer = otel.Tracer("tradeloop/internal/sampling")

var (
	expansionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_expansions_total",
		Help: "The total number of collection expansions computed, by strategy.",
	}, []string{"strategy"})

	expansionCacheHitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collection_expansion_cache_hits_total",
		Help: "The total number of expansions served from the strategy cache.",
	})
)

// ErrCollectionNotFound is returned when no metadata exists for the
// requested collection. This is terminal: there is nothing to sample.
var ErrCollectionNotFound = errors.New("collection not found")

// Strategy names the sampling method used for one expansion.
type Strategy string

const (
	StrategyFull       Strategy = "full"
	StrategyStratified Strategy = "stratified"
	StrategyAdaptive   Strategy = "adaptive"
	StrategyRandom     Strategy = "random"
)

const (
	// DefaultMaxSampleSize bounds the concrete wants one collection want
	// can generate.
	DefaultMaxSampleSize = 100

	// DefaultMinPricedForStratified is the valuation coverage required
	// before value-tier stratification is trusted.
	DefaultMinPricedForStratified = 500

	// DefaultMaxCollectionSize is the point past which the expander stops
	// honoring the requested strategy and degrades to plain random
	// sampling instead of failing.
	DefaultMaxCollectionSize = 100_000

	defaultCacheEntries = 10_000
	defaultCacheTTL     = 10 * time.Minute

	// Share of an adaptive sample drawn from assets held by active owners.
	adaptiveActiveShare = 0.7

	valueTiers = 4
)

// Expansion is the cached result of expanding one collection.
type Expansion struct {
	CollectionID    string    `json:"collection_id"`
	SampledAssetIDs []string  `json:"sampled_asset_ids"`
	Strategy        Strategy  `json:"strategy"`
	Confidence      float64   `json:"confidence"`
	SampledAt       time.Time `json:"sampled_at"`
}

// Provider supplies collection metadata and membership. Implementations
// must return an error on lookup failure, never a silent empty member list.
type Provider interface {
	CollectionMetadata(ctx context.Context, collectionID string) (*trade.CollectionMetadata, error)
	CollectionAssets(ctx context.Context, collectionID string) ([]trade.Asset, error)
}

// Options adjust a single Expand call.
type Options struct {
	// MaxSampleSize overrides the expander default when positive.
	MaxSampleSize int

	// ActiveOwners are parties known to have participated in trades; when
	// present and the collection is unverified, sampling is biased toward
	// assets they hold.
	ActiveOwners map[string]struct{}

	// BypassCache skips the shared strategy cache in both directions, for
	// expansions computed against a caller-supplied ownership snapshot.
	BypassCache bool

	// Provider overrides the expander's default membership source, e.g.
	// with a tenant-scoped view of collection membership.
	Provider Provider

	// CacheKey overrides the cache key. Callers using a scoped Provider
	// must scope the key the same way so results are never shared across
	// membership views. Defaults to the collection id.
	CacheKey string
}

// Expander converts collection wants into bounded asset samples. The
// strategy cache is shared across tenants and safe for concurrent use;
// concurrent expansions of the same collection are collapsed into one
// computation.
type Expander struct {
	provider Provider
	cache    *theine.Cache[string, *Expansion]
	group    singleflight.Group
	logger   logger.Logger

	maxSampleSize          int
	minPricedForStratified int
	maxCollectionSize      int
	cacheTTL               time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

type ExpanderOpt func(*Expander)

// WithMaxSampleSize sets the default bound on sampled assets per collection.
func WithMaxSampleSize(n int) ExpanderOpt {
	return func(e *Expander) { e.maxSampleSize = n }
}

// WithMinPricedForStratified sets the valuation coverage required for
// stratified sampling.
func WithMinPricedForStratified(n int) ExpanderOpt {
	return func(e *Expander) { e.minPricedForStratified = n }
}

// WithMaxCollectionSize sets the size past which expansion degrades to
// random sampling.
func WithMaxCollectionSize(n int) ExpanderOpt {
	return func(e *Expander) { e.maxCollectionSize = n }
}

// WithCacheTTL sets the TTL for cached expansions.
func WithCacheTTL(ttl time.Duration) ExpanderOpt {
	return func(e *Expander) { e.cacheTTL = ttl }
}

// WithExpanderLogger sets the logger.
func WithExpanderLogger(l logger.Logger) ExpanderOpt {
	return func(e *Expander) { e.logger = l }
}

// WithRand sets the random source, for reproducible tests.
func WithRand(r *rand.Rand) ExpanderOpt {
	return func(e *Expander) { e.rng = r }
}

func NewExpander(provider Provider, opts ...ExpanderOpt) (*Expander, error) {
	e := &Expander{
		provider:               provider,
		logger:                 logger.NewNoopLogger(),
		maxSampleSize:          DefaultMaxSampleSize,
		minPricedForStratified: DefaultMinPricedForStratified,
		maxCollectionSize:      DefaultMaxCollectionSize,
		cacheTTL:               defaultCacheTTL,
		rng:                    rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for _, opt := range opts {
		opt(e)
	}

	cache, err := theine.NewBuilder[string, *Expansion](defaultCacheEntries).Build()
	if err != nil {
		return nil, fmt.Errorf("build expansion cache: %w", err)
	}
	e.cache = cache

	return e, nil
}

// Close releases the strategy cache.
func (e *Expander) Close() {
	e.cache.Close()
}

// Invalidate drops the cached expansion for a collection, e.g. after its
// metadata changed materially.
func (e *Expander) Invalidate(collectionID string) {
	e.cache.Delete(collectionID)
}

// Expand returns a bounded sample of the collection's assets.
func (e *Expander) Expand(ctx context.Context, collectionID string, opts Options) (*Expansion, error) {
	ctx, span := tracer.Start(ctx, "sampling.Expand")
	defer span.End()

	if collectionID == "" {
		return nil, ErrCollectionNotFound
	}

	cacheKey := opts.CacheKey
	if cacheKey == "" {
		cacheKey = collectionID
	}

	if !opts.BypassCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			expansionCacheHitCounter.Inc()
			return cached, nil
		}
	}

	if opts.BypassCache {
		// Snapshot-specific results must not collapse into (or poison)
		// the collection-keyed flight group.
		return e.expand(ctx, collectionID, opts)
	}

	v, err, _ := e.group.Do(cacheKey, func() (interface{}, error) {
		expansion, err := e.expand(ctx, collectionID, opts)
		if err != nil {
			return nil, err
		}
		e.cache.SetWithTTL(cacheKey, expansion, 1, e.cacheTTL)
		return expansion, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Expansion), nil
}

func (e *Expander) expand(ctx context.Context, collectionID string, opts Options) (*Expansion, error) {
	provider := e.provider
	if opts.Provider != nil {
		provider = opts.Provider
	}

	meta, err := provider.CollectionMetadata(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%s: %w", collectionID, ErrCollectionNotFound)
	}

	assets, err := provider.CollectionAssets(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("fetch members of collection %s: %w", collectionID, err)
	}

	size := e.maxSampleSize
	if opts.MaxSampleSize > 0 {
		size = opts.MaxSampleSize
	}

	expansion := &Expansion{
		CollectionID: collectionID,
		SampledAt:    time.Now().UTC(),
	}

	switch {
	case len(assets) <= size:
		expansion.Strategy = StrategyFull
		expansion.Confidence = 1.0
		expansion.SampledAssetIDs = assetIDs(assets)
		sort.Strings(expansion.SampledAssetIDs)

	case len(assets) > e.maxCollectionSize:
		// Too large for the configured bounds: degrade to uniform random
		// sampling rather than failing the want.
		e.logger.Warn("collection exceeds capacity, degrading to random sampling",
			zap.String("collection_id", collectionID),
			zap.Int("size", len(assets)),
		)
		expansion.Strategy = StrategyRandom
		expansion.Confidence = 0.6
		expansion.SampledAssetIDs = e.sample(assets, size)

	case meta.Verified:
		priced := pricedAssets(assets)
		if len(priced) >= e.minPricedForStratified {
			expansion.Strategy = StrategyStratified
			expansion.Confidence = 0.85
			expansion.SampledAssetIDs = e.stratifiedSample(priced, size)
		} else {
			expansion.Strategy = StrategyRandom
			expansion.Confidence = 0.7
			expansion.SampledAssetIDs = e.sample(assets, size)
		}

	case len(opts.ActiveOwners) > 0:
		active, rest := splitByOwner(assets, opts.ActiveOwners)
		if len(active) == 0 {
			expansion.Strategy = StrategyRandom
			expansion.Confidence = 0.7
			expansion.SampledAssetIDs = e.sample(assets, size)
			break
		}
		expansion.Strategy = StrategyAdaptive
		expansion.Confidence = 0.75
		expansion.SampledAssetIDs = e.adaptiveSample(active, rest, size)

	default:
		expansion.Strategy = StrategyRandom
		expansion.Confidence = 0.7
		expansion.SampledAssetIDs = e.sample(assets, size)
	}

	expansionsCounter.WithLabelValues(string(expansion.Strategy)).Inc()
	return expansion, nil
}

func assetIDs(assets []trade.Asset) []string {
	ids := make([]string, 0, len(assets))
	for _, a := range assets {
		ids = append(ids, a.ID)
	}
	return ids
}

func pricedAssets(assets []trade.Asset) []trade.Asset {
	priced := make([]trade.Asset, 0, len(assets))
	for _, a := range assets {
		if a.Value > 0 {
			priced = append(priced, a)
		}
	}
	return priced
}

func splitByOwner(assets []trade.Asset, owners map[string]struct{}) (active, rest []trade.Asset) {
	for _, a := range assets {
		if _, ok := owners[a.OwnerID]; ok {
			active = append(active, a)
		} else {
			rest = append(rest, a)
		}
	}
	return active, rest
}

// sample draws a uniform random sample of up to k asset ids.
func (e *Expander) sample(assets []trade.Asset, k int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return reservoirSample(e.rng, assetIDs(assets), k)
}

// adaptiveSample biases toward assets held by active owners: roughly 70%
// of the sample comes from active-owned assets, the remainder from the rest
// of the collection.
func (e *Expander) adaptiveSample(active, rest []trade.Asset, k int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	fromActive := int(float64(k) * adaptiveActiveShare)
	if fromActive > len(active) {
		fromActive = len(active)
	}

	ids := reservoirSample(e.rng, assetIDs(active), fromActive)
	ids = append(ids, reservoirSample(e.rng, assetIDs(rest), k-len(ids))...)
	return ids
}
