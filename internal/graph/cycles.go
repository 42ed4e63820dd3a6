package graph

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tradeloop/tradeloop/pkg/trade"
)

var tracer = otel.Tracer("tradeloop/internal/graph")

var (
	cyclesFoundCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cycle_search_cycles_found_total",
		Help: "The total number of elementary cycles found across all searches.",
	})

	searchTruncatedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cycle_search_truncated_total",
		Help: "The total number of cycle searches that hit their deadline or visit budget.",
	})
)

const (
	// DefaultMaxCycleLength bounds the number of participants in a loop.
	// The on-chain settlement program caps participants, so longer loops
	// could never execute anyway.
	DefaultMaxCycleLength = 11

	// DefaultVisitBudget bounds the number of DFS expansions per search.
	DefaultVisitBudget = 1_000_000
)

// SearchOptions bound one cycle enumeration.
type SearchOptions struct {
	// MaxLength is the maximum number of distinct participants per cycle.
	MaxLength int

	// Deadline is the wall-clock bound for the search. Zero means none.
	Deadline time.Time

	// VisitBudget caps the number of DFS node expansions.
	VisitBudget int
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.MaxLength <= 0 {
		o.MaxLength = DefaultMaxCycleLength
	}
	if o.VisitBudget <= 0 {
		o.VisitBudget = DefaultVisitBudget
	}
	return o
}

// Cycle is one elementary cycle. Nodes is the participant sequence starting
// at the lexicographically smallest member, which makes Canonical a pure
// join of Nodes.
type Cycle struct {
	Nodes     []string
	Canonical string
}

// SearchResult carries whatever cycles were found before the search
// completed or ran out of budget. A truncated search is not an error:
// partial results are returned and flagged.
type SearchResult struct {
	Cycles     []Cycle
	Incomplete bool
	Visited    int
}

// searchFrame is one entry of the explicit DFS stack. Keeping frames in a
// slice arena bounds stack growth on depth-11 searches over dense
// components and makes the deadline check a plain loop condition.
type searchFrame struct {
	node string
	succ []string
	next int
}

// FindElementaryCycles enumerates every elementary cycle of the component
// (each node visited at most once per cycle) up to opts.MaxLength, using
// depth-first backtracking with visited-set rollback.
//
// Each DFS rooted at a start node only descends into nodes ordered after
// the start, so every cycle is discovered exactly once, already rotated to
// its smallest member. Cycles are nevertheless deduplicated by a digest of
// the canonical form, which keeps the result set correct regardless of
// enumeration order.
func FindElementaryCycles(ctx context.Context, g *Graph, component []string, opts SearchOptions) *SearchResult {
	ctx, span := tracer.Start(ctx, "graph.FindElementaryCycles")
	defer span.End()

	opts = opts.withDefaults()

	inComponent := make(map[string]struct{}, len(component))
	for _, n := range component {
		inComponent[n] = struct{}{}
	}

	result := &SearchResult{}
	seen := make(map[uint64]struct{})

	frames := make([]searchFrame, 0, opts.MaxLength)
	path := make([]string, 0, opts.MaxLength)
	onPath := make(map[string]struct{}, opts.MaxLength)

	push := func(node string) {
		frames = append(frames, searchFrame{node: node, succ: g.Successors(node)})
		path = append(path, node)
		onPath[node] = struct{}{}
		result.Visited++
	}

	expired := func() bool {
		if ctx.Err() != nil {
			return true
		}
		if result.Visited > opts.VisitBudget {
			return true
		}
		return !opts.Deadline.IsZero() && time.Now().After(opts.Deadline)
	}

search:
	for _, start := range component {
		frames = frames[:0]
		path = path[:0]
		clear(onPath)
		push(start)

		for len(frames) > 0 {
			if expired() {
				result.Incomplete = true
				searchTruncatedCounter.Inc()
				break search
			}

			f := &frames[len(frames)-1]
			if f.next >= len(f.succ) {
				frames = frames[:len(frames)-1]
				delete(onPath, path[len(path)-1])
				path = path[:len(path)-1]
				continue
			}

			w := f.succ[f.next]
			f.next++

			if w == start && len(path) >= 2 {
				nodes := make([]string, len(path))
				copy(nodes, path)
				canonical := trade.CanonicalForm(nodes)
				key := trade.CanonicalHash(canonical)
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					result.Cycles = append(result.Cycles, Cycle{Nodes: nodes, Canonical: canonical})
				}
				continue
			}

			if w <= start {
				// Cycles through smaller nodes were already found when
				// those nodes were the start.
				continue
			}
			if _, ok := inComponent[w]; !ok {
				continue
			}
			if _, ok := onPath[w]; ok {
				continue
			}
			if len(path) >= opts.MaxLength {
				continue
			}
			push(w)
		}
	}

	cyclesFoundCounter.Add(float64(len(result.Cycles)))
	span.SetAttributes(
		attribute.Int("cycles_found", len(result.Cycles)),
		attribute.Bool("incomplete", result.Incomplete),
	)
	return result
}
