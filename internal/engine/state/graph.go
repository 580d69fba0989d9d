package state

import "sort"

// Graph is an undirected order relationship graph. Entries are mutual:
// Link(a, b) records b under a and a under b. Not safe for concurrent use;
// Store guards it.
type Graph struct {
	links map[int64]map[int64]struct{}
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{links: make(map[int64]map[int64]struct{})}
}

// Link adds a mutual edge between a and b
func (g *Graph) Link(a, b int64) {
	if a == b || a == 0 || b == 0 {
		return
	}
	g.add(a, b)
	g.add(b, a)
}

func (g *Graph) add(from, to int64) {
	set, ok := g.links[from]
	if !ok {
		set = make(map[int64]struct{})
		g.links[from] = set
	}
	set[to] = struct{}{}
}

// Has reports whether id has an entry
func (g *Graph) Has(id int64) bool {
	_, ok := g.links[id]
	return ok
}

// Linked returns the direct neighbours of id in ascending order
func (g *Graph) Linked(id int64) []int64 {
	return sortedKeys(g.links[id])
}

// Group returns id and every order reachable from it, ascending
func (g *Graph) Group(id int64) []int64 {
	if !g.Has(id) {
		return nil
	}
	seen := map[int64]struct{}{id: {}}
	queue := []int64{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for n := range g.links[cur] {
			if _, ok := seen[n]; !ok {
				seen[n] = struct{}{}
				queue = append(queue, n)
			}
		}
	}
	return sortedKeys(seen)
}

// Remove deletes id's entry and every reference to it
func (g *Graph) Remove(id int64) {
	for n := range g.links[id] {
		if set, ok := g.links[n]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(g.links, n)
			}
		}
	}
	delete(g.links, id)
}

// Len is the number of orders with an entry
func (g *Graph) Len() int {
	return len(g.links)
}

func sortedKeys(set map[int64]struct{}) []int64 {
	if len(set) == 0 {
		return nil
	}
	out := make([]int64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
