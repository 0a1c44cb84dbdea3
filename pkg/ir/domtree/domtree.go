// Package domtree computes the dominator tree by the iterative
// Cooper-Harvey-Kennedy algorithm over reverse post-order.
package domtree

import "github.com/vellumlang/vellum/pkg/ir"

// Tree is the dominator tree of one function.
type Tree struct {
	fn    *ir.Function
	rpo   []ir.BlockId
	index map[ir.BlockId]int // position within rpo; unreachable blocks are absent
	idom  []int              // idom[i] is the rpo-index of i's immediate dominator; the entry's is 0 (itself)
}

// Build computes the dominator tree of fn.
func Build(fn *ir.Function) *Tree {
	t := &Tree{fn: fn, index: make(map[ir.BlockId]int)}
	t.rpo = reversePostOrder(fn)
	for i, b := range t.rpo {
		t.index[b] = i
	}
	t.idom = make([]int, len(t.rpo))
	for i := range t.idom {
		t.idom[i] = -1
	}
	if len(t.rpo) == 0 {
		return t
	}
	t.idom[0] = 0 // entry dominates itself

	changed := true
	for changed {
		changed = false
		for i := 1; i < len(t.rpo); i++ {
			b := t.rpo[i]
			blk := fn.Block(b)
			newIdom := -1
			for _, p := range blk.Preds {
				pi, ok := t.index[p]
				if !ok || t.idom[pi] == -1 {
					continue // unreachable, or not yet processed this round
				}
				if newIdom == -1 {
					newIdom = pi
					continue
				}
				newIdom = t.intersect(newIdom, pi)
			}
			if newIdom != -1 && t.idom[i] != newIdom {
				t.idom[i] = newIdom
				changed = true
			}
		}
	}
	return t
}

func (t *Tree) intersect(a, b int) int {
	for a != b {
		for a > b {
			a = t.idom[a]
		}
		for b > a {
			b = t.idom[b]
		}
	}
	return a
}

func reversePostOrder(fn *ir.Function) []ir.BlockId {
	entry := fn.EntryBlock()
	if entry == nil {
		return nil
	}
	visited := make(map[ir.BlockId]bool)
	var post []ir.BlockId
	var visit func(ir.BlockId)
	visit = func(b ir.BlockId) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range fn.Block(b).Succs {
			visit(s)
		}
		post = append(post, b)
	}
	visit(entry.Id)
	rpo := make([]ir.BlockId, len(post))
	for i, b := range post {
		rpo[len(post)-1-i] = b
	}
	return rpo
}

// Idom returns bb's immediate dominator, or bb itself if bb is the entry.
func (t *Tree) Idom(bb ir.BlockId) ir.BlockId {
	i, ok := t.index[bb]
	if !ok {
		return bb
	}
	return t.rpo[t.idom[i]]
}

// Dominates reports whether a dominates b (reflexively: a dominates a).
func (t *Tree) Dominates(a, b ir.BlockId) bool {
	ai, aok := t.index[a]
	bi, bok := t.index[b]
	if !aok || !bok {
		return false
	}
	for bi != ai {
		if bi == 0 {
			return false
		}
		bi = t.idom[bi]
	}
	return true
}

// DominanceFrontier returns bb's dominance frontier: blocks where bb's
// dominance stops, i.e. b is in DF(bb) if bb dominates a predecessor of
// b but does not strictly dominate b itself.
func (t *Tree) DominanceFrontier(bb ir.BlockId) []ir.BlockId {
	var out []ir.BlockId
	for _, other := range t.rpo {
		blk := t.fn.Block(other)
		for _, p := range blk.Preds {
			if t.Dominates(bb, p) && !t.strictlyDominates(bb, other) {
				out = append(out, other)
				break
			}
		}
	}
	return out
}

func (t *Tree) strictlyDominates(a, b ir.BlockId) bool {
	return a != b && t.Dominates(a, b)
}

// Reachable reports whether bb was reached from the entry block.
func (t *Tree) Reachable(bb ir.BlockId) bool {
	_, ok := t.index[bb]
	return ok
}
