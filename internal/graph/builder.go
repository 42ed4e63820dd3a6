package graph

import (
	"sort"
)

// FactSource is the read-only view of a tenant's facts the builder needs.
// *facts.Store satisfies it.
type FactSource interface {
	// AssetIDs returns every tracked asset id in a deterministic order.
	AssetIDs() []string

	// Owner returns the current owner of an asset.
	Owner(assetID string) (string, bool)

	// Wanters returns the parties that effectively want the asset,
	// including collection wanters whose sample covers it.
	Wanters(assetID string) []string

	// Rejected reports whether the party refuses the asset or its owner.
	Rejected(partyID, assetID, ownerID string) bool
}

// Build derives the want-graph from the given facts: an edge owner->wanter
// labeled with an asset exists iff the owner holds the asset, the wanter
// wants it, and the wanter rejected neither the asset nor the owner.
// Build is a pure derivation and produces identical graphs for identical
// fact states.
func Build(src FactSource) *Graph {
	g := &Graph{
		adj:    make(map[string][]Edge),
		assets: make(map[string]map[string][]string),
	}

	nodeSet := make(map[string]struct{})

	for _, assetID := range src.AssetIDs() {
		owner, ok := src.Owner(assetID)
		if !ok {
			continue
		}

		for _, wanter := range src.Wanters(assetID) {
			if wanter == owner {
				// A party already holding the asset contributes no edge.
				continue
			}
			if src.Rejected(wanter, assetID, owner) {
				continue
			}

			g.adj[owner] = append(g.adj[owner], Edge{To: wanter, AssetID: assetID})

			targets, ok := g.assets[owner]
			if !ok {
				targets = make(map[string][]string)
				g.assets[owner] = targets
			}
			targets[wanter] = append(targets[wanter], assetID)

			nodeSet[owner] = struct{}{}
			nodeSet[wanter] = struct{}{}
		}
	}

	for node := range nodeSet {
		g.nodes = append(g.nodes, node)
	}
	sort.Strings(g.nodes)

	for _, edges := range g.adj {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			return edges[i].AssetID < edges[j].AssetID
		})
	}
	for _, targets := range g.assets {
		for _, ids := range targets {
			sort.Strings(ids)
		}
	}

	return g
}
