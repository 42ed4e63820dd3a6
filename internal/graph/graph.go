// Package graph derives the directed want-graph from ownership facts and
// finds the elementary cycles that correspond to executable trade loops.
package graph

import (
	"sort"
)

// Edge is one directed want relation: the owning node would hand AssetID to
// the node identified by To.
type Edge struct {
	To      string
	AssetID string
}

// Graph is the adjacency structure over parties. It is immutable once built;
// mutations to the underlying facts produce a new Graph.
type Graph struct {
	nodes []string

	// from => outgoing edges, sorted by (To, AssetID).
	adj map[string][]Edge

	// from => to => asset ids moving on that hop, for step assembly.
	assets map[string]map[string][]string
}

// Nodes returns every party with at least one incident edge, sorted.
func (g *Graph) Nodes() []string {
	return g.nodes
}

// Edges returns the outgoing edges of a node.
func (g *Graph) Edges(node string) []Edge {
	return g.adj[node]
}

// Successors returns the distinct successor nodes of a node, sorted.
func (g *Graph) Successors(node string) []string {
	targets := g.assets[node]
	out := make([]string, 0, len(targets))
	for to := range targets {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// Assets returns every asset that moves on the from->to hop.
func (g *Graph) Assets(from, to string) []string {
	return g.assets[from][to]
}

// HasEdge reports whether from would give asset to to.
func (g *Graph) HasEdge(from, to, assetID string) bool {
	for _, id := range g.assets[from][to] {
		if id == assetID {
			return true
		}
	}
	return false
}

// NodeCount returns the number of nodes with incident edges.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the total number of asset-labeled edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, edges := range g.adj {
		n += len(edges)
	}
	return n
}
