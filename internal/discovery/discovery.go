// Package discovery orchestrates the search pipeline: build the want-graph,
// prune it into strongly connected components, enumerate elementary cycles
// per component in parallel, assemble trade loops, and rank them.
package discovery

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tradeloop/tradeloop/internal/concurrency"
	"github.com/tradeloop/tradeloop/internal/graph"
	"github.com/tradeloop/tradeloop/internal/scoring"
	"github.com/tradeloop/tradeloop/pkg/id"
	"github.com/tradeloop/tradeloop/pkg/logger"
	"github.com/tradeloop/tradeloop/pkg/trade"
)

var tracer = otel.Tracer("tradeloop/internal/discovery")

var discoveryDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "discovery_duration_seconds",
	Help:    "Wall-clock time of one discovery pipeline run.",
	Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 30},
})

const (
	// DefaultSearchTimeout bounds the cycle enumeration of one discovery
	// run. On expiry the partial result is returned and flagged.
	DefaultSearchTimeout = 5 * time.Second

	// DefaultMaxConcurrentComponents bounds the fan-out across strongly
	// connected components.
	DefaultMaxConcurrentComponents = 4
)

// Result carries the ranked loops of one discovery run. Incomplete is set
// when any component search hit its deadline or visit budget, meaning more
// loops may exist than were found.
type Result struct {
	Loops      []*trade.Loop
	Incomplete bool
}

// Engine runs the discovery pipeline. It holds no per-tenant state; the
// caller supplies the fact source and scorer of the tenant being searched.
type Engine struct {
	logger logger.Logger

	maxCycleLength          int
	searchTimeout           time.Duration
	visitBudget             int
	maxConcurrentComponents int
}

type EngineOpt func(*Engine)

// WithMaxCycleLength sets the maximum number of participants per loop.
func WithMaxCycleLength(n int) EngineOpt {
	return func(e *Engine) { e.maxCycleLength = n }
}

// WithSearchTimeout sets the wall-clock bound on cycle enumeration.
func WithSearchTimeout(d time.Duration) EngineOpt {
	return func(e *Engine) { e.searchTimeout = d }
}

// WithVisitBudget caps DFS expansions per component search.
func WithVisitBudget(n int) EngineOpt {
	return func(e *Engine) { e.visitBudget = n }
}

// WithMaxConcurrentComponents bounds the component fan-out.
func WithMaxConcurrentComponents(n int) EngineOpt {
	return func(e *Engine) { e.maxConcurrentComponents = n }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) EngineOpt {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(opts ...EngineOpt) *Engine {
	e := &Engine{
		logger:                  logger.NewNoopLogger(),
		maxCycleLength:          graph.DefaultMaxCycleLength,
		searchTimeout:           DefaultSearchTimeout,
		visitBudget:             graph.DefaultVisitBudget,
		maxConcurrentComponents: DefaultMaxConcurrentComponents,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Discover runs the full pipeline over src. When restrictTo is non-empty,
// enumeration is confined to the strongly connected components containing
// at least one of the given parties; components untouched by a mutation
// cannot have gained a new cycle. A nil restrictTo searches everything.
func (e *Engine) Discover(ctx context.Context, src graph.FactSource, scorer *scoring.Scorer, restrictTo map[string]struct{}) (*Result, error) {
	return e.DiscoverGraph(ctx, graph.Build(src), scorer, restrictTo)
}

// DiscoverGraph runs the pipeline over an already built graph. Callers that
// cache the derived graph between events use this to skip the rebuild.
func (e *Engine) DiscoverGraph(ctx context.Context, g *graph.Graph, scorer *scoring.Scorer, restrictTo map[string]struct{}) (*Result, error) {
	ctx, span := tracer.Start(ctx, "discovery.Discover")
	defer span.End()

	start := time.Now()
	defer func() {
		discoveryDurationHistogram.Observe(time.Since(start).Seconds())
	}()

	components := g.Components()

	if len(restrictTo) > 0 {
		components = filterComponents(components, restrictTo)
	}

	span.SetAttributes(
		attribute.Int("graph_nodes", g.NodeCount()),
		attribute.Int("graph_edges", g.EdgeCount()),
		attribute.Int("components", len(components)),
	)

	searchOpts := graph.SearchOptions{
		MaxLength:   e.maxCycleLength,
		VisitBudget: e.visitBudget,
	}
	if e.searchTimeout > 0 {
		searchOpts.Deadline = time.Now().Add(e.searchTimeout)
	}

	// Components never share nodes, so enumeration fans out with no shared
	// mutable state and results merge by concatenation.
	results := make(chan *graph.SearchResult, len(components))
	pool := concurrency.NewPool(ctx, e.maxConcurrentComponents)
	for _, component := range components {
		pool.Go(func(ctx context.Context) error {
			res := graph.FindElementaryCycles(ctx, g, component, searchOpts)
			concurrency.TrySendThroughChannel(ctx, res, results)
			return nil
		})
	}

	result := &Result{}
	discoveredAt := time.Now().UTC()

	var assembleErr error
	drained := concurrency.Drain(results, func(res *graph.SearchResult) {
		if res.Incomplete {
			result.Incomplete = true
		}
		for _, cycle := range res.Cycles {
			loop, err := e.assembleLoop(g, cycle, discoveredAt)
			if err != nil {
				if assembleErr == nil {
					assembleErr = err
				}
				return
			}
			scorer.Score(loop)
			result.Loops = append(result.Loops, loop)
		}
	})

	poolErr := pool.Wait()
	close(results)
	drained.Wait()

	if poolErr != nil {
		return nil, poolErr
	}
	if assembleErr != nil {
		return nil, assembleErr
	}

	scoring.Rank(result.Loops)

	if result.Incomplete {
		e.logger.Warn("cycle search truncated, returning partial results",
			zap.Int("loops_found", len(result.Loops)),
		)
	}
	return result, nil
}

func (e *Engine) assembleLoop(g *graph.Graph, cycle graph.Cycle, discoveredAt time.Time) (*trade.Loop, error) {
	loopID, err := id.NewStringFromTime(discoveredAt)
	if err != nil {
		return nil, err
	}

	n := len(cycle.Nodes)
	steps := make([]trade.Step, 0, n)
	for i, node := range cycle.Nodes {
		next := cycle.Nodes[(i+1)%n]
		steps = append(steps, trade.Step{
			From:     node,
			To:       next,
			AssetIDs: g.Assets(node, next),
		})
	}

	return &trade.Loop{
		ID:                loopID,
		CanonicalID:       cycle.Canonical,
		Steps:             steps,
		TotalParticipants: n,
		Status:            trade.StatusPending,
		CreatedAt:         discoveredAt,
	}, nil
}

func filterComponents(components [][]string, restrictTo map[string]struct{}) [][]string {
	var kept [][]string
	for _, component := range components {
		for _, node := range component {
			if _, ok := restrictTo[node]; ok {
				kept = append(kept, component)
				break
			}
		}
	}
	return kept
}
