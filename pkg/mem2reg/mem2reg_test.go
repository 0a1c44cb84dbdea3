package mem2reg

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/types"
)

func countOpcode(fn *ir.Function, op ir.Opcode) int {
	n := 0
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			if fn.Instr(iid).Opcode == op {
				n++
			}
		}
	}
	return n
}

// TestSingleDominatingStore covers the first promotion case: one store
// in the entry block dominates a load in a later block, so the load
// collapses to the stored value and the alloca disappears.
func TestSingleDominatingStore(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	next := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	a := b.Alloca(types.Int32)
	b.Store(ir.ImmInt32(42), a)
	b.Br(next)
	b.SetInsertPoint(fn, next)
	x, err := b.Load(a)
	if err != nil {
		t.Fatal(err)
	}
	b.Ret(x)

	Run(fn, m.Types)

	for _, op := range []ir.Opcode{ir.OpAlloca, ir.OpStore, ir.OpLoad} {
		if n := countOpcode(fn, op); n != 0 {
			t.Errorf("%s count = %d after promotion, want 0", op, n)
		}
	}
	ret := fn.Block(next.Id).Terminator(fn)
	if ret.Operands[0].Value.Kind != ir.VImmInt32 || ret.Operands[0].Value.ImmI != 42 {
		t.Errorf("ret operand = %+v, want immediate 42", ret.Operands[0].Value)
	}
}

// TestSingleBlockStores covers the second case: every use in one
// block, each load resolving to the nearest preceding store.
func TestSingleBlockStores(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	a := b.Alloca(types.Int32)
	b.Store(ir.ImmInt32(1), a)
	if _, err := b.Load(a); err != nil {
		t.Fatal(err)
	}
	b.Store(ir.ImmInt32(2), a)
	y, err := b.Load(a)
	if err != nil {
		t.Fatal(err)
	}
	b.Ret(y)

	Run(fn, m.Types)

	if n := countOpcode(fn, ir.OpAlloca); n != 0 {
		t.Fatalf("alloca survived single-block promotion")
	}
	ret := fn.Block(entry.Id).Terminator(fn)
	if ret.Operands[0].Value.ImmI != 2 {
		t.Errorf("ret sees %d, want the second store's value 2", ret.Operands[0].Value.ImmI)
	}
}

// TestPhiInsertionAtJoin covers the general case: stores on both arms
// of a diamond force a phi at the join, and the load resolves to it.
func TestPhiInsertionAtJoin(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	left := fn.NewBlock()
	right := fn.NewBlock()
	merge := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	a := b.Alloca(types.Int32)
	cond := b.Icmp(ir.ICmpEq, ir.ImmInt32(1), ir.ImmInt32(1))
	b.CondBr(cond, left, right)
	b.SetInsertPoint(fn, left)
	b.Store(ir.ImmInt32(1), a)
	b.Br(merge)
	b.SetInsertPoint(fn, right)
	b.Store(ir.ImmInt32(2), a)
	b.Br(merge)
	b.SetInsertPoint(fn, merge)
	x, err := b.Load(a)
	if err != nil {
		t.Fatal(err)
	}
	b.Ret(x)

	Run(fn, m.Types)

	if n := countOpcode(fn, ir.OpAlloca); n != 0 {
		t.Fatal("alloca survived general-case promotion")
	}
	if n := countOpcode(fn, ir.OpPhi); n != 1 {
		t.Fatalf("phi count = %d, want exactly 1 at the join", n)
	}
	var phi *ir.Instruction
	for _, iid := range fn.Block(merge.Id).Instrs {
		if fn.Instr(iid).Opcode == ir.OpPhi {
			phi = fn.Instr(iid)
		}
	}
	if phi == nil {
		t.Fatal("phi not placed in the join block")
	}
	if len(phi.PhiIncoming) != 2 {
		t.Fatalf("phi has %d incoming pairs, want 2", len(phi.PhiIncoming))
	}
	got := map[ir.BlockId]int64{}
	for _, e := range phi.PhiIncoming {
		got[e.Block] = e.Value.ImmI
	}
	if got[left.Id] != 1 || got[right.Id] != 2 {
		t.Errorf("phi incoming = %v, want 1 from left and 2 from right", got)
	}
	ret := fn.Block(merge.Id).Terminator(fn)
	if ret.Operands[0].Value.Kind != ir.VInstruction || ret.Operands[0].Value.Inst != phi.Id {
		t.Errorf("ret operand = %+v, want the inserted phi", ret.Operands[0].Value)
	}
}

// TestAggregateAllocaStays: a struct-typed local is not an atomic
// value and must survive promotion untouched.
func TestAggregateAllocaStays(t *testing.T) {
	m := ir.NewModule()
	st := m.Types.Struct([]types.Id{types.Int32, types.Int32})
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	s := b.Alloca(st)
	g, err := b.Gep(s, []ir.Value{ir.ImmInt32(0), ir.ImmInt32(1)})
	if err != nil {
		t.Fatal(err)
	}
	b.Store(ir.ImmInt32(5), g)
	b.Ret(ir.ImmInt32(0))

	Run(fn, m.Types)

	if n := countOpcode(fn, ir.OpAlloca); n != 1 {
		t.Errorf("struct alloca count = %d, want 1 (not promotable)", n)
	}
	if n := countOpcode(fn, ir.OpGep); n != 1 {
		t.Errorf("gep count = %d, want 1", n)
	}
}

// TestGepUserBlocksPromotion: even a scalar alloca stays put when
// something other than a plain load/store addresses it.
func TestGepUserBlocksPromotion(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	a := b.Alloca(types.Int32)
	if _, err := b.Gep(a, []ir.Value{ir.ImmInt32(0)}); err != nil {
		t.Fatal(err)
	}
	b.Store(ir.ImmInt32(3), a)
	b.Ret(ir.ImmInt32(0))

	Run(fn, m.Types)

	if n := countOpcode(fn, ir.OpAlloca); n != 1 {
		t.Errorf("gep-addressed alloca count = %d, want 1", n)
	}
}

// TestIdempotent: a second run over an already-promoted function
// changes nothing.
func TestIdempotent(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	left := fn.NewBlock()
	right := fn.NewBlock()
	merge := fn.NewBlock()

	b := ir.NewBuilder(m, fn, entry)
	a := b.Alloca(types.Int32)
	cond := b.Icmp(ir.ICmpEq, ir.ImmInt32(1), ir.ImmInt32(1))
	b.CondBr(cond, left, right)
	b.SetInsertPoint(fn, left)
	b.Store(ir.ImmInt32(1), a)
	b.Br(merge)
	b.SetInsertPoint(fn, right)
	b.Store(ir.ImmInt32(2), a)
	b.Br(merge)
	b.SetInsertPoint(fn, merge)
	x, err := b.Load(a)
	if err != nil {
		t.Fatal(err)
	}
	b.Ret(x)

	Run(fn, m.Types)
	snapshot := func() map[ir.Opcode]int {
		counts := map[ir.Opcode]int{}
		for _, bid := range fn.Order() {
			for _, iid := range fn.Block(bid).Instrs {
				counts[fn.Instr(iid).Opcode]++
			}
		}
		return counts
	}
	first := snapshot()
	Run(fn, m.Types)
	second := snapshot()
	for op, n := range first {
		if second[op] != n {
			t.Errorf("%s count changed on second run: %d -> %d", op, n, second[op])
		}
	}
}
