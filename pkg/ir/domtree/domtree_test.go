package domtree

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/types"
)

// buildDiamond returns entry -> (left, right) -> merge, plus one
// unreachable block.
func buildDiamond(t *testing.T) (*ir.Function, [5]ir.BlockId) {
	t.Helper()
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	left := fn.NewBlock()
	right := fn.NewBlock()
	merge := fn.NewBlock()
	orphan := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	cond := b.Icmp(ir.ICmpEq, ir.ImmInt32(1), ir.ImmInt32(1))
	b.CondBr(cond, left, right)
	b.SetInsertPoint(fn, left)
	b.Br(merge)
	b.SetInsertPoint(fn, right)
	b.Br(merge)
	b.SetInsertPoint(fn, merge)
	b.Ret(ir.ImmInt32(0))
	b.SetInsertPoint(fn, orphan)
	b.Ret(ir.ImmInt32(1))

	return fn, [5]ir.BlockId{entry.Id, left.Id, right.Id, merge.Id, orphan.Id}
}

func TestDiamondIdoms(t *testing.T) {
	fn, ids := buildDiamond(t)
	entry, left, right, merge := ids[0], ids[1], ids[2], ids[3]
	tree := Build(fn)

	tests := []struct {
		name string
		bb   ir.BlockId
		want ir.BlockId
	}{
		{"left", left, entry},
		{"right", right, entry},
		{"merge joins at entry", merge, entry},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tree.Idom(tc.bb); got != tc.want {
				t.Errorf("Idom(bb%d) = bb%d, want bb%d", tc.bb, got, tc.want)
			}
		})
	}
}

func TestDiamondDominates(t *testing.T) {
	fn, ids := buildDiamond(t)
	entry, left, right, merge := ids[0], ids[1], ids[2], ids[3]
	tree := Build(fn)

	tests := []struct {
		name string
		a, b ir.BlockId
		want bool
	}{
		{"entry dominates everything", entry, merge, true},
		{"reflexive", left, left, true},
		{"branch arm does not dominate the join", left, merge, false},
		{"siblings do not dominate each other", left, right, false},
		{"join does not dominate its inputs", merge, left, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tree.Dominates(tc.a, tc.b); got != tc.want {
				t.Errorf("Dominates(bb%d, bb%d) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestDiamondDominanceFrontier(t *testing.T) {
	fn, ids := buildDiamond(t)
	entry, left, merge := ids[0], ids[1], ids[3]
	tree := Build(fn)

	df := tree.DominanceFrontier(left)
	if len(df) != 1 || df[0] != merge {
		t.Errorf("DF(left) = %v, want [bb%d]", df, merge)
	}
	if df := tree.DominanceFrontier(entry); len(df) != 0 {
		t.Errorf("DF(entry) = %v, want empty (entry dominates everything)", df)
	}
}

func TestUnreachableBlock(t *testing.T) {
	fn, ids := buildDiamond(t)
	orphan := ids[4]
	tree := Build(fn)
	if tree.Reachable(orphan) {
		t.Error("orphan block reported reachable")
	}
	if tree.Dominates(ids[0], orphan) {
		t.Error("entry should not dominate an unreachable block")
	}
}

// TestLoopIdoms checks a while-loop shape: the header dominates both
// the body and the exit, and the body's frontier is the header itself
// (where the back-edge joins).
func TestLoopIdoms(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	header := fn.NewBlock()
	body := fn.NewBlock()
	exit := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	b.Br(header)
	b.SetInsertPoint(fn, header)
	cond := b.Icmp(ir.ICmpSlt, ir.ImmInt32(0), ir.ImmInt32(1))
	b.CondBr(cond, body, exit)
	b.SetInsertPoint(fn, body)
	b.Br(header)
	b.SetInsertPoint(fn, exit)
	b.Ret(ir.ImmInt32(0))

	tree := Build(fn)
	if got := tree.Idom(body.Id); got != header.Id {
		t.Errorf("Idom(body) = bb%d, want header bb%d", got, header.Id)
	}
	if got := tree.Idom(exit.Id); got != header.Id {
		t.Errorf("Idom(exit) = bb%d, want header bb%d", got, header.Id)
	}
	if !tree.Dominates(header.Id, body.Id) {
		t.Error("header should dominate the loop body")
	}
	df := tree.DominanceFrontier(body.Id)
	if len(df) != 1 || df[0] != header.Id {
		t.Errorf("DF(body) = %v, want [header]", df)
	}
}
