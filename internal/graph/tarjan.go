package graph

import (
	"sort"
)

// tarjanFrame replaces the recursion of Tarjan's algorithm with an explicit
// stack so that component decomposition of very large tenant graphs cannot
// exhaust the goroutine stack.
type tarjanFrame struct {
	node string
	succ []string
	next int
}

// Components runs Tarjan's strongly-connected-component decomposition and
// returns only components with two or more nodes. Singleton components are
// discarded: a single party cannot form a loop with itself, so they can
// never contain an elementary cycle. Components and their nodes are sorted
// for deterministic downstream enumeration.
func (g *Graph) Components() [][]string {
	index := 0
	indices := make(map[string]int, len(g.nodes))
	lowlink := make(map[string]int, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	stack := make([]string, 0, len(g.nodes))

	var sccs [][]string

	var frames []tarjanFrame

	visit := func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true
		frames = append(frames, tarjanFrame{node: v, succ: g.Successors(v)})
	}

	for _, root := range g.nodes {
		if _, seen := indices[root]; seen {
			continue
		}
		visit(root)

		for len(frames) > 0 {
			f := &frames[len(frames)-1]

			if f.next < len(f.succ) {
				w := f.succ[f.next]
				f.next++

				if _, seen := indices[w]; !seen {
					visit(w)
				} else if onStack[w] {
					if indices[w] < lowlink[f.node] {
						lowlink[f.node] = indices[w]
					}
				}
				continue
			}

			v := f.node
			frames = frames[:len(frames)-1]

			if lowlink[v] == indices[v] {
				var scc []string
				for {
					w := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[w] = false
					scc = append(scc, w)
					if w == v {
						break
					}
				}
				if len(scc) > 1 {
					sort.Strings(scc)
					sccs = append(sccs, scc)
				}
			}

			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[v] < lowlink[parent.node] {
					lowlink[parent.node] = lowlink[v]
				}
			}
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}
