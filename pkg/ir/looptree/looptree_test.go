package looptree

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
	"github.com/vellumlang/vellum/pkg/types"
)

func TestWhileLoop(t *testing.T) {
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

	loops := Find(fn, domtree.Build(fn))
	if len(loops) != 1 {
		t.Fatalf("found %d loops, want 1", len(loops))
	}
	lp := loops[0]
	if lp.Header != header.Id {
		t.Errorf("loop header = bb%d, want bb%d", lp.Header, header.Id)
	}
	if lp.Latch != body.Id {
		t.Errorf("loop latch = bb%d, want bb%d", lp.Latch, body.Id)
	}
	for _, tc := range []struct {
		name string
		bb   ir.BlockId
		want bool
	}{
		{"header", header.Id, true},
		{"body", body.Id, true},
		{"entry", entry.Id, false},
		{"exit", exit.Id, false},
	} {
		if got := lp.Contains(tc.bb); got != tc.want {
			t.Errorf("Contains(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNoLoopsInDiamond(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	left := fn.NewBlock()
	right := fn.NewBlock()
	merge := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	cond := b.Icmp(ir.ICmpEq, ir.ImmInt32(1), ir.ImmInt32(1))
	b.CondBr(cond, left, right)
	b.SetInsertPoint(fn, left)
	b.Br(merge)
	b.SetInsertPoint(fn, right)
	b.Br(merge)
	b.SetInsertPoint(fn, merge)
	b.Ret(ir.ImmInt32(0))

	if loops := Find(fn, domtree.Build(fn)); len(loops) != 0 {
		t.Errorf("diamond CFG reported %d loops, want 0", len(loops))
	}
}

// TestNestedLoops checks that one loop is found per back-edge and that
// the outer loop's block set subsumes the inner one's.
func TestNestedLoops(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	outerHead := fn.NewBlock()
	innerHead := fn.NewBlock()
	innerBody := fn.NewBlock()
	outerLatch := fn.NewBlock()
	exit := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	b.Br(outerHead)
	b.SetInsertPoint(fn, outerHead)
	c1 := b.Icmp(ir.ICmpSlt, ir.ImmInt32(0), ir.ImmInt32(1))
	b.CondBr(c1, innerHead, exit)
	b.SetInsertPoint(fn, innerHead)
	c2 := b.Icmp(ir.ICmpSlt, ir.ImmInt32(0), ir.ImmInt32(2))
	b.CondBr(c2, innerBody, outerLatch)
	b.SetInsertPoint(fn, innerBody)
	b.Br(innerHead)
	b.SetInsertPoint(fn, outerLatch)
	b.Br(outerHead)
	b.SetInsertPoint(fn, exit)
	b.Ret(ir.ImmInt32(0))

	loops := Find(fn, domtree.Build(fn))
	if len(loops) != 2 {
		t.Fatalf("found %d loops, want 2", len(loops))
	}
	var inner, outer *Loop
	for _, lp := range loops {
		switch lp.Header {
		case innerHead.Id:
			inner = lp
		case outerHead.Id:
			outer = lp
		}
	}
	if inner == nil || outer == nil {
		t.Fatalf("missing a loop: %+v", loops)
	}
	if !inner.Contains(innerBody.Id) || inner.Contains(outerLatch.Id) {
		t.Errorf("inner loop blocks = %v, want {innerHead, innerBody}", inner.Blocks)
	}
	for _, bb := range []ir.BlockId{outerHead.Id, innerHead.Id, innerBody.Id, outerLatch.Id} {
		if !outer.Contains(bb) {
			t.Errorf("outer loop missing bb%d", bb)
		}
	}
	if outer.Contains(exit.Id) || outer.Contains(entry.Id) {
		t.Error("outer loop should not contain entry or exit")
	}
}
