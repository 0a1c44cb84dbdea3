// Package looptree computes natural loops from the dominator tree:
// for each back-edge b->h with h dominating b, the loop is h plus
// every block that reaches b without crossing h.
package looptree

import (
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
)

// Loop is one natural loop.
type Loop struct {
	Header ir.BlockId
	Blocks map[ir.BlockId]bool
	Latch  ir.BlockId // the block at the back-edge's tail
}

// Find returns every natural loop in fn, one per back-edge.
func Find(fn *ir.Function, dom *domtree.Tree) []*Loop {
	var loops []*Loop
	for _, bid := range fn.Order() {
		if !dom.Reachable(bid) {
			continue
		}
		b := fn.Block(bid)
		for _, s := range b.Succs {
			if dom.Dominates(s, bid) {
				loops = append(loops, buildLoop(fn, s, bid))
			}
		}
	}
	return loops
}

func buildLoop(fn *ir.Function, header, latch ir.BlockId) *Loop {
	blocks := map[ir.BlockId]bool{header: true}
	var stack []ir.BlockId
	if latch != header {
		blocks[latch] = true
		stack = append(stack, latch)
	}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, p := range fn.Block(b).Preds {
			if !blocks[p] {
				blocks[p] = true
				stack = append(stack, p)
			}
		}
	}
	return &Loop{Header: header, Blocks: blocks, Latch: latch}
}

// Contains reports whether bb is part of the loop.
func (l *Loop) Contains(bb ir.BlockId) bool { return l.Blocks[bb] }
