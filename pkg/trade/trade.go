// Package trade defines the domain vocabulary of the engine: assets, the
// parties that own and want them, and the multi-party trade loops discovered
// over them.
package trade

import (
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Asset is a single indivisible item. Ownership is a function: at any point
// in time an asset has at most one owner.
type Asset struct {
	// ID uniquely identifies the asset within a tenant.
	ID string

	// OwnerID is the party currently holding the asset.
	OwnerID string

	// CollectionID optionally groups the asset into a collection.
	CollectionID string

	// Value is an externally supplied estimate. Zero means unpriced; the
	// engine never computes valuations itself.
	Value float64
}

// CollectionMetadata describes a collection for the purpose of bounding
// collection-level wants.
type CollectionMetadata struct {
	ID         string
	Name       string
	Size       int
	Verified   bool
	FloorPrice float64
}

// Step is one hop of a loop: From hands every asset in AssetIDs to To.
type Step struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	AssetIDs []string `json:"asset_ids"`
}

// Status is the lifecycle state of a discovered loop.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproving Status = "approving"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// CanTransition reports whether a loop may move from one status to another.
// The forward path is pending -> approving -> executing -> completed; any
// non-terminal state may be cancelled or expired.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusCancelled, StatusExpired:
		return true
	case StatusApproving:
		return from == StatusPending
	case StatusExecuting:
		return from == StatusPending || from == StatusApproving
	case StatusCompleted:
		return from == StatusExecuting
	}
	return false
}

// Loop is a closed chain of steps in which every participant gives assets to
// the next participant and receives from the previous one.
type Loop struct {
	// ID is the ULID assigned at discovery time.
	ID string `json:"id"`

	// CanonicalID is the rotation-invariant form of the participant cycle,
	// used to deduplicate the same physical loop discovered from different
	// starting points.
	CanonicalID string `json:"canonical_id"`

	Steps             []Step    `json:"steps"`
	TotalParticipants int       `json:"total_participants"`
	Efficiency        float64   `json:"efficiency"`
	Score             float64   `json:"score"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// Participants returns the distinct party identifiers in step order.
func (l *Loop) Participants() []string {
	parties := make([]string, 0, len(l.Steps))
	for _, step := range l.Steps {
		parties = append(parties, step.From)
	}
	return parties
}

// AssetIDs returns every asset moved by the loop.
func (l *Loop) AssetIDs() []string {
	var ids []string
	for _, step := range l.Steps {
		ids = append(ids, step.AssetIDs...)
	}
	return ids
}

// Validate checks the structural loop invariants: at least two steps, each
// step carries at least one asset, consecutive steps link up, the loop
// closes, and no party appears twice.
func (l *Loop) Validate() error {
	if len(l.Steps) < 2 {
		return fmt.Errorf("loop %s has %d steps, need at least 2", l.ID, len(l.Steps))
	}

	seen := make(map[string]struct{}, len(l.Steps))
	for i, step := range l.Steps {
		if len(step.AssetIDs) == 0 {
			return fmt.Errorf("loop %s step %d moves no assets", l.ID, i)
		}
		if _, ok := seen[step.From]; ok {
			return fmt.Errorf("loop %s visits party %s twice", l.ID, step.From)
		}
		seen[step.From] = struct{}{}

		next := l.Steps[(i+1)%len(l.Steps)]
		if step.To != next.From {
			return fmt.Errorf("loop %s step %d does not link: %s -> %s", l.ID, i, step.To, next.From)
		}
	}

	if l.Steps[len(l.Steps)-1].To != l.Steps[0].From {
		return fmt.Errorf("loop %s does not close", l.ID)
	}
	return nil
}

// CanonicalForm rotates a cycle's node sequence so that it begins at its
// lexicographically smallest identifier and joins it with "|". Two
// discoveries of the same physical cycle always share a canonical form.
func CanonicalForm(nodes []string) string {
	if len(nodes) == 0 {
		return ""
	}

	smallest := 0
	for i, n := range nodes {
		if n < nodes[smallest] {
			smallest = i
		}
	}

	rotated := make([]string, 0, len(nodes))
	rotated = append(rotated, nodes[smallest:]...)
	rotated = append(rotated, nodes[:smallest]...)
	return strings.Join(rotated, "|")
}

// CanonicalHash returns a stable 64-bit digest of a canonical form, suitable
// for cache keys.
func CanonicalHash(canonical string) uint64 {
	return xxhash.Sum64String(canonical)
}
