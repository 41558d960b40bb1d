package lockmgr

import "github.com/google/btree"

// txnSet is an ordered set of transaction ids, backed by google/btree so
// cycle detection visits edges in a deterministic order — required so
// repeated runs of the same wait pattern (spec.md §8 scenario 6) pick the
// same victim, which a Go map's randomized iteration order cannot promise.
type txnID uint64

func (a txnID) Less(b btree.Item) bool { return a < b.(txnID) }

type txnSet struct{ t *btree.BTree }

func newTxnSet() *txnSet { return &txnSet{t: btree.New(4)} }

func (s *txnSet) add(id uint64)      { s.t.ReplaceOrInsert(txnID(id)) }
func (s *txnSet) remove(id uint64)   { s.t.Delete(txnID(id)) }
func (s *txnSet) has(id uint64) bool { return s.t.Has(txnID(id)) }
func (s *txnSet) empty() bool        { return s.t.Len() == 0 }
func (s *txnSet) each(fn func(uint64) bool) {
	s.t.Ascend(func(it btree.Item) bool { return fn(uint64(it.(txnID))) })
}

// waitForGraph keys edges by "waiter -> set of blockers". Detection is a
// DFS from the newly-added waiter looking for a path back to itself.
type waitForGraph struct {
	edges map[uint64]*txnSet
}

func newWaitForGraph() *waitForGraph { return &waitForGraph{edges: make(map[uint64]*txnSet)} }

func (g *waitForGraph) addEdge(waiter, blocker uint64) {
	if waiter == blocker {
		return
	}
	s, ok := g.edges[waiter]
	if !ok {
		s = newTxnSet()
		g.edges[waiter] = s
	}
	s.add(blocker)
}

func (g *waitForGraph) removeWaiter(waiter uint64) {
	delete(g.edges, waiter)
}

// removeAsBlocker removes txn from every other waiter's blocker set —
// called when txn releases its locks (commit/abort) or is chosen as a
// deadlock victim.
func (g *waitForGraph) removeAsBlocker(txn uint64) {
	for _, s := range g.edges {
		s.remove(txn)
	}
}

// findCycleThrough runs DFS starting at start, returning every node on a
// cycle that passes through start, or nil if none exists.
func (g *waitForGraph) findCycleThrough(start uint64) []uint64 {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uint64]int)
	var path []uint64
	var cycle []uint64

	var dfs func(u uint64) bool
	dfs = func(u uint64) bool {
		color[u] = gray
		path = append(path, u)
		if blockers, ok := g.edges[u]; ok {
			var found bool
			blockers.each(func(v uint64) bool {
				if color[v] == gray {
					// Found the cycle: path from v's position to end.
					for i, n := range path {
						if n == v {
							cycle = append([]uint64(nil), path[i:]...)
							break
						}
					}
					found = true
					return false
				}
				if color[v] == white {
					if dfs(v) {
						found = true
						return false
					}
				}
				return true
			})
			if found {
				return true
			}
		}
		color[u] = black
		path = path[:len(path)-1]
		return false
	}

	dfs(start)
	return cycle
}

// youngest returns the highest transaction id in the cycle — spec.md
// §4.4: "the victim is the youngest transaction in the cycle."
func youngest(cycle []uint64) uint64 {
	max := cycle[0]
	for _, id := range cycle[1:] {
		if id > max {
			max = id
		}
	}
	return max
}
