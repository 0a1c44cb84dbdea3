package cse

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
	"github.com/vellumlang/vellum/pkg/types"
)

func twoArgFn(m *ir.Module) (*ir.Function, ir.Value, ir.Value) {
	fn := m.NewFunction("f", m.Types.Function(types.Int32, []types.Id{types.Int32, types.Int32}), 2)
	a := ir.Value{Kind: ir.VArgument, Arg: 0, Ty: types.Int32}
	b := ir.Value{Kind: ir.VArgument, Arg: 1, Ty: types.Int32}
	return fn, a, b
}

func liveCount(fn *ir.Function, op ir.Opcode) int {
	n := 0
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			if !inst.Dead && inst.Opcode == op {
				n++
			}
		}
	}
	return n
}

func TestEliminatesDuplicateInSameBlock(t *testing.T) {
	m := ir.NewModule()
	fn, a, bv := twoArgFn(m)
	entry := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	x := b.Add(a, bv)
	y := b.Add(a, bv)
	z := b.Add(x, y)
	b.Ret(z)

	Run(fn, domtree.Build(fn))

	if n := liveCount(fn, ir.OpAdd); n != 2 {
		t.Fatalf("live add count = %d, want 2 (duplicate removed, combiner kept)", n)
	}
	if !fn.Instr(y.Inst).Dead {
		t.Error("second identical add should be dead")
	}
	zi := fn.Instr(z.Inst)
	for _, o := range zi.ValueOperands() {
		if o.Kind != ir.VInstruction || o.Inst != x.Inst {
			t.Errorf("combiner operand = %+v, want both repointed at the first add", o)
		}
	}
}

func TestEliminatesAcrossDominatingBlocks(t *testing.T) {
	m := ir.NewModule()
	fn, a, bv := twoArgFn(m)
	entry := fn.NewBlock()
	next := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	x := b.Add(a, bv)
	b.Br(next)
	b.SetInsertPoint(fn, next)
	y := b.Add(a, bv)
	b.Ret(y)

	Run(fn, domtree.Build(fn))

	if !fn.Instr(y.Inst).Dead {
		t.Fatal("duplicate in a dominated block should be removed")
	}
	ret := fn.Block(next.Id).Terminator(fn)
	if ret.Operands[0].Value.Inst != x.Inst {
		t.Errorf("ret operand = %+v, want the dominating add", ret.Operands[0].Value)
	}
}

// TestKeepsSiblingDuplicates: neither branch arm dominates the other,
// so the identical computation must stay in both.
func TestKeepsSiblingDuplicates(t *testing.T) {
	m := ir.NewModule()
	fn, a, bv := twoArgFn(m)
	entry := fn.NewBlock()
	left := fn.NewBlock()
	right := fn.NewBlock()
	merge := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	cond := b.Icmp(ir.ICmpEq, a, bv)
	b.CondBr(cond, left, right)
	b.SetInsertPoint(fn, left)
	x := b.Add(a, bv)
	b.Br(merge)
	b.SetInsertPoint(fn, right)
	y := b.Add(a, bv)
	b.Br(merge)
	b.SetInsertPoint(fn, merge)
	b.Ret(ir.ImmInt32(0))

	Run(fn, domtree.Build(fn))

	if fn.Instr(x.Inst).Dead || fn.Instr(y.Inst).Dead {
		t.Error("sibling duplicates removed despite neither dominating the other")
	}
	if n := liveCount(fn, ir.OpAdd); n != 2 {
		t.Errorf("live add count = %d, want 2", n)
	}
}

// TestDistinctArgumentsNotMerged: add(a, a) and add(b, b) share a
// shape but not operands; the fingerprint must tell the two parameters
// apart.
func TestDistinctArgumentsNotMerged(t *testing.T) {
	m := ir.NewModule()
	fn, a, bv := twoArgFn(m)
	entry := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	x := b.Add(a, a)
	y := b.Add(bv, bv)
	z := b.Add(x, y)
	b.Ret(z)

	Run(fn, domtree.Build(fn))

	if fn.Instr(x.Inst).Dead || fn.Instr(y.Inst).Dead {
		t.Error("adds over different parameters were merged")
	}
	if n := liveCount(fn, ir.OpAdd); n != 3 {
		t.Errorf("live add count = %d, want 3", n)
	}
}

// TestMemoryAndAllocaUntouched: loads observe memory and allocas name
// distinct slots; two textually identical ones are not the same value.
func TestMemoryAndAllocaUntouched(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	p := b.Alloca(types.Int32)
	q := b.Alloca(types.Int32)
	b.Store(ir.ImmInt32(1), p)
	l1, err := b.Load(p)
	if err != nil {
		t.Fatal(err)
	}
	b.Store(ir.ImmInt32(2), p)
	l2, err := b.Load(p)
	if err != nil {
		t.Fatal(err)
	}
	sum := b.Add(l1, l2)
	b.Ret(sum)
	_ = q

	Run(fn, domtree.Build(fn))

	if n := liveCount(fn, ir.OpAlloca); n != 2 {
		t.Errorf("alloca count = %d, want 2 (never hash-consed)", n)
	}
	if n := liveCount(fn, ir.OpLoad); n != 2 {
		t.Errorf("load count = %d, want 2 (side-effecting, never merged)", n)
	}
}
