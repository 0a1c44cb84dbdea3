package ir

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/types"
)

func TestConstantFoldingLaw(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 0)
	blk := fn.NewBlock()
	b := NewBuilder(m, fn, blk)

	sum := b.Add(ImmInt32(2), ImmInt32(3))
	if sum.Kind != VImmInt32 || sum.ImmI != 5 {
		t.Fatalf("build_add(2,3) = %+v, want immediate 5", sum)
	}
	if len(blk.Instrs) != 0 {
		t.Fatalf("constant-folded add should not emit an instruction, got %d", len(blk.Instrs))
	}

	prod := b.Mul(ImmInt64(6), ImmInt64(7))
	if prod.Kind != VImmInt64 || prod.ImmI != 42 {
		t.Fatalf("build_mul(6,7) = %+v, want immediate 42", prod)
	}
}

func TestTerminatorUniqueness(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 0)
	blk := fn.NewBlock()
	b := NewBuilder(m, fn, blk)
	b.Ret(ImmInt32(42))

	term := blk.Terminator(fn)
	if term == nil || term.Opcode != OpRet {
		t.Fatalf("expected ret terminator, got %+v", term)
	}
	if blk.Instrs[len(blk.Instrs)-1] != term.Id {
		t.Fatalf("terminator is not last instruction")
	}
}

func TestCFGSymmetry(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 0)
	b1 := fn.NewBlock()
	b2 := fn.NewBlock()
	bld := NewBuilder(m, fn, b1)
	bld.Br(b2)

	found := false
	for _, s := range b1.Succs {
		if s == b2.Id {
			found = true
		}
	}
	if !found {
		t.Fatal("b1 does not list b2 as successor")
	}
	foundPred := false
	for _, p := range b2.Preds {
		if p == b1.Id {
			foundPred = true
		}
	}
	if !foundPred {
		t.Fatal("b2 does not list b1 as predecessor")
	}
}

func TestUserSetConsistency(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 1)
	blk := fn.NewBlock()
	b := NewBuilder(m, fn, blk)

	alloca := b.Alloca(types.Int32)
	b.Store(ImmInt32(1), alloca)
	loaded, err := b.Load(alloca)
	if err != nil {
		t.Fatal(err)
	}
	b.Ret(loaded)

	allocaInst := fn.Instr(alloca.Inst)
	if len(allocaInst.Users) != 2 { // store + load
		t.Fatalf("alloca user count = %d, want 2", len(allocaInst.Users))
	}

	loadInst := fn.Instr(loaded.Inst)
	fn.RemoveInstr(loadInst.Id)
	if len(allocaInst.Users) != 1 {
		t.Fatalf("after removing load, alloca user count = %d, want 1", len(allocaInst.Users))
	}
}

func TestGepThroughStruct(t *testing.T) {
	m := NewModule()
	inner := m.Types.Array(types.Int32, 8)
	outer := m.Types.Array(inner, 8)
	structTy := m.Types.Struct([]types.Id{types.Int32, outer})
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 0)
	blk := fn.NewBlock()
	b := NewBuilder(m, fn, blk)

	base := b.Alloca(structTy)
	v, err := b.Gep(base, []Value{ImmInt32(0), ImmInt32(1), ImmInt32(3), ImmInt32(5)})
	if err != nil {
		t.Fatal(err)
	}
	elemTy, err := m.Types.ElementTy(v.Ty)
	if err != nil {
		t.Fatal(err)
	}
	if elemTy != types.Int32 {
		t.Fatalf("gep result element type = %s, want i32", m.Types.String(elemTy))
	}
}

// TestFoldBranchesRemovesDeadBlocks pins that branch folding actually
// excises blocks from the function order: a straight-line jump chain
// collapses into the entry block and an unreachable block disappears,
// so DAG construction and MIR lowering never see either.
func TestFoldBranchesRemovesDeadBlocks(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 0)
	entry := fn.NewBlock()
	mid := fn.NewBlock()
	last := fn.NewBlock()
	dead := fn.NewBlock()

	b := NewBuilder(m, fn, entry)
	b.Br(mid)
	b.SetInsertPoint(fn, mid)
	b.Br(last)
	b.SetInsertPoint(fn, last)
	b.Ret(ImmInt32(42))
	b.SetInsertPoint(fn, dead)
	b.Ret(ImmInt32(0))

	FoldBranches(fn)

	if len(fn.Order()) != 1 {
		t.Fatalf("after FoldBranches, %d blocks remain, want 1: %v", len(fn.Order()), fn.Order())
	}
	if fn.Block(dead.Id) != nil || fn.Block(mid.Id) != nil {
		t.Error("folded-away block still resolvable by id")
	}
	term := fn.Block(fn.Order()[0]).Terminator(fn)
	if term == nil || term.Opcode != OpRet {
		t.Fatalf("surviving block's terminator = %+v, want ret", term)
	}
}

// TestFoldBranchesCollapsesDeadArmPhi: deleting an unreachable
// predecessor drops its phi pair, and the phi left with one incoming
// edge collapses into that value before block merging runs.
func TestFoldBranchesCollapsesDeadArmPhi(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 0)
	entry := fn.NewBlock()
	dead := fn.NewBlock()
	merge := fn.NewBlock()

	b := NewBuilder(m, fn, entry)
	b.Br(merge)
	b.SetInsertPoint(fn, dead)
	b.Br(merge)
	b.SetInsertPoint(fn, merge)
	phi := b.Phi(types.Int32, []PhiEdge{
		{Value: ImmInt32(1), Block: entry.Id},
		{Value: ImmInt32(2), Block: dead.Id},
	})
	b.Ret(phi)

	FoldBranches(fn)

	if len(fn.Order()) != 1 {
		t.Fatalf("%d blocks remain, want 1", len(fn.Order()))
	}
	blk := fn.Block(fn.Order()[0])
	for _, iid := range blk.Instrs {
		if fn.Instr(iid).Opcode == OpPhi {
			t.Error("degenerate phi survived folding")
		}
	}
	ret := blk.Terminator(fn)
	if ret.Operands[0].Value.Kind != VImmInt32 || ret.Operands[0].Value.ImmI != 1 {
		t.Errorf("ret operand = %+v, want the live arm's value 1", ret.Operands[0].Value)
	}
}

// TestRemoveEmptyJumpBlockRedirectsPhis checks that dropping a block
// holding only a jump rewrites both the predecessors' branch operands
// and the target's phi incoming pairs, and that a block whose removal
// would give the target two edges from the same predecessor is left
// alone.
func TestRemoveEmptyJumpBlockRedirectsPhis(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 0)
	entry := fn.NewBlock()
	j := fn.NewBlock()
	k := fn.NewBlock()
	merge := fn.NewBlock()

	b := NewBuilder(m, fn, entry)
	cond := b.Icmp(ICmpEq, ImmInt32(1), ImmInt32(1))
	b.CondBr(cond, j, k)
	b.SetInsertPoint(fn, j)
	b.Br(merge)
	b.SetInsertPoint(fn, k)
	b.Br(merge)
	b.SetInsertPoint(fn, merge)
	phi := b.Phi(types.Int32, []PhiEdge{
		{Value: ImmInt32(7), Block: j.Id},
		{Value: ImmInt32(9), Block: k.Id},
	})
	b.Ret(phi)

	removeEmptyJumpBlocks(fn)

	if fn.Block(j.Id) != nil {
		t.Error("empty jump block j should be removed")
	}
	if fn.Block(k.Id) == nil {
		t.Error("k should survive: removing it would duplicate entry as a merge predecessor")
	}
	phiInst := fn.Instr(phi.Inst)
	var fromEntry, fromK int
	for _, e := range phiInst.PhiIncoming {
		switch e.Block {
		case entry.Id:
			fromEntry++
			if e.Value.ImmI != 7 {
				t.Errorf("redirected pair carries %d, want 7", e.Value.ImmI)
			}
		case k.Id:
			fromK++
		}
	}
	if fromEntry != 1 || fromK != 1 {
		t.Errorf("phi incoming = %+v, want one pair from entry and one from k", phiInst.PhiIncoming)
	}
}

func TestGatherReturnsMergesToSingleExit(t *testing.T) {
	m := NewModule()
	ty := m.Types.Function(types.Int32, nil)
	fn := m.NewFunction("f", ty, 1)
	entry := fn.NewBlock()
	thenB := fn.NewBlock()
	elseB := fn.NewBlock()

	b := NewBuilder(m, fn, entry)
	cond := b.Icmp(ICmpEq, ImmInt32(1), ImmInt32(1))
	b.CondBr(cond, thenB, elseB)

	b.SetInsertPoint(fn, thenB)
	b.Ret(ImmInt32(1))

	b.SetInsertPoint(fn, elseB)
	b.Ret(ImmInt32(2))

	GatherReturns(fn)

	var retCount int
	for _, bid := range fn.Order() {
		term := fn.Block(bid).Terminator(fn)
		if term != nil && term.Opcode == OpRet {
			retCount++
		}
	}
	if retCount != 1 {
		t.Fatalf("after GatherReturns, ret count = %d, want 1", retCount)
	}
}
