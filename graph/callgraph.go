/*
 * dexkit - Android APK static/dynamic analysis toolkit
 * Licensed under Mozilla Public License 2.0 (MPL 2.0)
 */

package graph

// Subgraph is the result of a call-graph extraction: a standalone
// Graph plus a mapping from the source graph's NodeIndex to the
// subgraph's own index for every node it carried over.
type Subgraph struct {
	Graph      *Graph
	SuperToSub map[NodeIndex]NodeIndex
}

// includedInCallgraph restricts call-graph BFS traversal to
// method/class/dynamic-argument/dynamic-return nodes, per the spec's
// "node-filtered view restricted to method/class/dyn-arg/dyn-return
// nodes" rule -- string/field/array nodes are leaves of interest to the
// information graph but not to a call graph's control-flow shape.
func includedInCallgraph(n Node) bool {
	switch n.(type) {
	case MethodNode, ClassNode, DynamicArgumentNode, DynamicReturnNode:
		return true
	default:
		return false
	}
}

// Callgraph extracts the call graph reachable from a ClassNode: every
// method/class/dyn-arg/dyn-return node reachable downward (callees),
// plus everything that reaches the class upward (callers), both
// restricted to the same node-kind filter.
func Callgraph(g *Graph, classKey string) *Subgraph {
	start, ok := g.Lookup(ClassNode{ClassKey: classKey})
	if !ok {
		return &Subgraph{Graph: New(), SuperToSub: map[NodeIndex]NodeIndex{}}
	}
	return extractSubgraph(g, start, nil)
}

// CallgraphForMethod extracts the call graph around one method,
// additionally pulling in incoming DynamicReturnNode nodes that sit one
// hop away from any method the subgraph already includes -- a return
// value observed flowing into this method's neighborhood even though it
// isn't itself reachable by the forward/backward walk.
func CallgraphForMethod(g *Graph, methodKey string) *Subgraph {
	start, ok := g.Lookup(MethodNode{MethodKey: methodKey})
	if !ok {
		return &Subgraph{Graph: New(), SuperToSub: map[NodeIndex]NodeIndex{}}
	}
	extra := func(sub *Subgraph) {
		superIdxs := make([]NodeIndex, 0, len(sub.SuperToSub))
		for superIdx := range sub.SuperToSub {
			superIdxs = append(superIdxs, superIdx)
		}
		for _, superIdx := range superIdxs {
			n := g.Node(superIdx)
			if _, isMethod := n.(MethodNode); !isMethod {
				continue
			}
			for in := range reverseNeighbors(g, superIdx) {
				retNode, isRet := g.Node(in).(DynamicReturnNode)
				if !isRet {
					continue
				}
				subIdx, ok := sub.SuperToSub[in]
				if !ok {
					subIdx = sub.Graph.getOrAddNodeLocked(retNode)
					sub.SuperToSub[in] = subIdx
				}
				sub.Graph.addEdgeLocked(subIdx, sub.SuperToSub[superIdx])
			}
		}
	}
	return extractSubgraph(g, start, extra)
}

func extractSubgraph(g *Graph, start NodeIndex, postProcess func(*Subgraph)) *Subgraph {
	sub := &Subgraph{Graph: New(), SuperToSub: map[NodeIndex]NodeIndex{}}

	// Downward BFS: copy nodes and outgoing edges as encountered.
	visitedDown := map[NodeIndex]bool{start: true}
	queue := []NodeIndex{start}
	ensure := func(idx NodeIndex) NodeIndex {
		if subIdx, ok := sub.SuperToSub[idx]; ok {
			return subIdx
		}
		subIdx := sub.Graph.getOrAddNodeLocked(g.Node(idx))
		sub.SuperToSub[idx] = subIdx
		return subIdx
	}
	ensure(start)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curSub := ensure(cur)
		for _, next := range g.Edges(cur) {
			n := g.Node(next)
			if n == nil || !includedInCallgraph(n) {
				continue
			}
			nextSub := ensure(next)
			sub.Graph.addEdgeLocked(curSub, nextSub)
			if !visitedDown[next] {
				visitedDown[next] = true
				queue = append(queue, next)
			}
		}
	}

	// Upward BFS over the reversed view: insert nodes not already
	// present, reversing edges to preserve the original direction.
	visitedUp := map[NodeIndex]bool{start: true}
	queue = []NodeIndex{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		curSub := ensure(cur)
		for prev := range reverseNeighbors(g, cur) {
			n := g.Node(prev)
			if n == nil || !includedInCallgraph(n) {
				continue
			}
			prevSub := ensure(prev)
			sub.Graph.addEdgeLocked(prevSub, curSub)
			if !visitedUp[prev] {
				visitedUp[prev] = true
				queue = append(queue, prev)
			}
		}
	}

	if postProcess != nil {
		postProcess(sub)
	}
	return sub
}

// reverseNeighbors returns every node with an outgoing edge to idx.
// Computed on demand rather than maintained incrementally, since
// call-graph extraction is an analysis-time operation, not a hot path.
func reverseNeighbors(g *Graph, idx NodeIndex) map[NodeIndex]bool {
	out := map[NodeIndex]bool{}
	g.mu.Lock()
	for from, edges := range g.out {
		for _, to := range edges {
			if to == idx {
				out[from] = true
			}
		}
	}
	g.mu.Unlock()
	return out
}

// getOrAddNodeLocked and addEdgeLocked let this file build a second
// Graph (the subgraph) without re-deriving the locking dance Apply
// already does, since a freshly constructed Subgraph is never shared
// across goroutines during extraction.
func (g *Graph) getOrAddNodeLocked(n Node) NodeIndex {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrAddNode(n)
}

func (g *Graph) addEdgeLocked(from, to NodeIndex) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdge(from, to)
}
