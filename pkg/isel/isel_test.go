package isel

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/dag"
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/target/riscv64"
	"github.com/vellumlang/vellum/pkg/target/x86_64"
	"github.com/vellumlang/vellum/pkg/types"
	"github.com/vellumlang/vellum/pkg/vellumerr"
)

// selectFn builds one function's DAG, combines it, and runs selection
// for tgt, returning the entry block's graph.
func selectFn(t *testing.T, m *ir.Module, fn *ir.Function, tgt target.Target, patterns Table, frameOf map[ir.InstId]int) *dag.Graph {
	t.Helper()
	fd := dag.Build(fn, m.Types)
	dag.Combine(fd)
	ctx := &Context{Target: tgt, Types: m.Types, FrameOf: frameOf, Patterns: patterns}
	if err := Select(fd, ctx); err != nil {
		t.Fatalf("Select: %v", err)
	}
	return fd.Graphs[fn.Order()[0]]
}

func nodeFor(g *dag.Graph, inst ir.InstId) *dag.Node {
	for _, n := range g.Nodes {
		if n.HasSrc && n.SrcInst == inst {
			return n
		}
	}
	return nil
}

func TestSelectArithmetic(t *testing.T) {
	tests := []struct {
		name string
		ty   types.Id
		op   func(b *ir.Builder, lhs, rhs ir.Value) ir.Value
		rhs  func() ir.Value
		want string
	}{
		{"i32 add reg+imm", types.Int32, (*ir.Builder).Add, func() ir.Value { return ir.ImmInt32(1) }, "ADDri32"},
		{"i32 sub reg+imm", types.Int32, (*ir.Builder).Sub, func() ir.Value { return ir.ImmInt32(1) }, "SUBri32"},
		{"i32 mul reg+imm", types.Int32, (*ir.Builder).Mul, func() ir.Value { return ir.ImmInt32(3) }, "IMULri32"},
		{"i64 add reg+imm", types.Int64, (*ir.Builder).Add, func() ir.Value { return ir.ImmInt64(1) }, "ADDri64"},
		{"f64 add reg+reg", types.F64, (*ir.Builder).Add, func() ir.Value { return ir.Value{Kind: ir.VArgument, Arg: 1, Ty: types.F64} }, "ADDSDrr"},
		{"f64 mul reg+reg", types.F64, (*ir.Builder).Mul, func() ir.Value { return ir.Value{Kind: ir.VArgument, Arg: 1, Ty: types.F64} }, "MULSDrr"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := ir.NewModule()
			fn := m.NewFunction("f", m.Types.Function(tc.ty, []types.Id{tc.ty, tc.ty}), 2)
			arg := ir.Value{Kind: ir.VArgument, Arg: 0, Ty: tc.ty}
			entry := fn.NewBlock()
			b := ir.NewBuilder(m, fn, entry)
			v := tc.op(b, arg, tc.rhs())
			b.Ret(v)

			g := selectFn(t, m, fn, x86_64.New(), X86_64Patterns(), nil)
			n := nodeFor(g, v.Inst)
			if n.Kind != dag.KindTarget || n.TargetOp != tc.want {
				t.Errorf("selected %q, want %q", n.TargetOp, tc.want)
			}
		})
	}
}

// TestCommutativeRetry: with the constant on the left and no combine
// canonicalisation in between, the reg+imm arm only matches through
// the reversed attempt, which must also swap the node's operands.
func TestCommutativeRetry(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, []types.Id{types.Int32}), 1)
	arg := ir.Value{Kind: ir.VArgument, Arg: 0, Ty: types.Int32}
	entry := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	sum := b.Add(ir.ImmInt32(5), arg)
	b.Ret(sum)

	fd := dag.Build(fn, m.Types) // deliberately no Combine
	ctx := &Context{Target: x86_64.New(), Types: m.Types, Patterns: X86_64Patterns()}
	if err := Select(fd, ctx); err != nil {
		t.Fatalf("Select: %v", err)
	}
	g := fd.Graphs[entry.Id]
	n := nodeFor(g, sum.Inst)
	if n.TargetOp != "ADDri32" {
		t.Fatalf("selected %q, want ADDri32 via the commutative retry", n.TargetOp)
	}
	if lhs := g.Nodes[n.Operands[0]]; lhs.Leaf != dag.LeafRegister {
		t.Errorf("operands not swapped on reversed match: lhs = %+v", lhs)
	}
	if rhs := g.Nodes[n.Operands[1]]; rhs.Leaf != dag.LeafConstant || rhs.ImmI != 5 {
		t.Errorf("operands not swapped on reversed match: rhs = %+v", rhs)
	}
}

// TestResultClassPredicate: loads have one arm per result class; the
// same IR opcode selects differently by produced type.
func TestResultClassPredicate(t *testing.T) {
	tests := []struct {
		name string
		ty   types.Id
		want string
	}{
		{"i32 load", types.Int32, "MOVrm32"},
		{"i64 load", types.Int64, "MOVrm64"},
		{"f64 load", types.F64, "MOVSDrm"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := ir.NewModule()
			fn := m.NewFunction("f", m.Types.Function(tc.ty, nil), 0)
			entry := fn.NewBlock()
			b := ir.NewBuilder(m, fn, entry)
			p := b.Alloca(tc.ty)
			l, err := b.Load(p)
			if err != nil {
				t.Fatal(err)
			}
			b.Ret(l)

			frameOf := map[ir.InstId]int{p.Inst: 0}
			g := selectFn(t, m, fn, x86_64.New(), X86_64Patterns(), frameOf)
			n := nodeFor(g, l.Inst)
			if n.TargetOp != tc.want {
				t.Errorf("selected %q, want %q", n.TargetOp, tc.want)
			}
		})
	}
}

func TestAllocaBecomesFrameAddr(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	p := b.Alloca(types.Int32)
	b.Store(ir.ImmInt32(1), p)
	b.Ret(ir.ImmInt32(0))

	frameOf := map[ir.InstId]int{p.Inst: 7}
	g := selectFn(t, m, fn, x86_64.New(), X86_64Patterns(), frameOf)

	n := nodeFor(g, p.Inst)
	if n.Kind != dag.KindTarget || n.TargetOp != "FRAMEADDR" {
		t.Fatalf("alloca selected to %+v, want FRAMEADDR", n)
	}
	if n.Frame != 7 {
		t.Errorf("frame index = %d, want 7 from the frame plan", n.Frame)
	}
	store := nodeFor(g, findStore(fn, entry.Id))
	if store.TargetOp != "MOVmr32" {
		t.Errorf("store selected to %q, want MOVmr32", store.TargetOp)
	}
}

func findStore(fn *ir.Function, bb ir.BlockId) ir.InstId {
	for _, iid := range fn.Block(bb).Instrs {
		if fn.Instr(iid).Opcode == ir.OpStore {
			return iid
		}
	}
	return -1
}

// TestControlFlowLeftForLowering: branches, calls, rets and phis stay
// IR-kind; their shapes are ABI-specific and pkg/mirgen owns them.
func TestControlFlowLeftForLowering(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, nil), 0)
	entry := fn.NewBlock()
	exit := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	b.Br(exit)
	b.SetInsertPoint(fn, exit)
	b.Ret(ir.ImmInt32(0))

	fd := dag.Build(fn, m.Types)
	ctx := &Context{Target: x86_64.New(), Types: m.Types, Patterns: X86_64Patterns()}
	if err := Select(fd, ctx); err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, g := range fd.Graphs {
		for _, n := range g.Nodes {
			if n.Kind == dag.KindIR && n.IROp != ir.OpBr && n.IROp != ir.OpRet {
				t.Errorf("unexpected unselected node %s", n.IROp)
			}
		}
	}
}

func TestUnmatchedPatternIsFatal(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, []types.Id{types.Int32}), 1)
	arg := ir.Value{Kind: ir.VArgument, Arg: 0, Ty: types.Int32}
	entry := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	b.Ret(b.Add(arg, ir.ImmInt32(1)))

	fd := dag.Build(fn, m.Types)
	ctx := &Context{Target: x86_64.New(), Types: m.Types, Patterns: Table{}}
	err := Select(fd, ctx)
	if err == nil || !vellumerr.Is(err, vellumerr.ErrUnmatchedPattern) {
		t.Fatalf("Select with an empty table = %v, want ErrUnmatchedPattern", err)
	}
}

// TestStoreImmediateValue: a stored literal has no register of its
// own yet; the store arm must still match so lowering can materialise
// the constant in front of it.
func TestStoreImmediateValue(t *testing.T) {
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
	b.Store(ir.ImmInt32(99), g)
	b.Ret(ir.ImmInt32(0))

	frameOf := map[ir.InstId]int{s.Inst: 0}
	graph := selectFn(t, m, fn, x86_64.New(), X86_64Patterns(), frameOf)
	store := nodeFor(graph, findStore(fn, entry.Id))
	if store == nil || store.TargetOp != "MOVmr32" {
		t.Fatalf("store of an immediate selected to %+v, want MOVmr32", store)
	}
}

// TestNegationSelectsSub: unary minus lowers as 0 - x, so the sub arm
// must accept a constant left-hand side.
func TestNegationSelectsSub(t *testing.T) {
	m := ir.NewModule()
	fn := m.NewFunction("f", m.Types.Function(types.Int32, []types.Id{types.Int32}), 1)
	arg := ir.Value{Kind: ir.VArgument, Arg: 0, Ty: types.Int32}
	entry := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	neg := b.Sub(ir.ImmInt32(0), arg)
	b.Ret(neg)

	g := selectFn(t, m, fn, x86_64.New(), X86_64Patterns(), nil)
	n := nodeFor(g, neg.Inst)
	if n.Kind != dag.KindTarget || n.TargetOp != "SUBrr32" {
		t.Fatalf("0 - x selected to %+v, want SUBrr32 with a materialised zero", n)
	}
}

// TestRiscVSelection: the same IR selects to RISC-V's three-address
// opcodes, with compares producing a 0/1 register result.
func TestRiscVSelection(t *testing.T) {
	m := ir.NewModule()
	i32 := types.Int32
	fn := m.NewFunction("f", m.Types.Function(i32, []types.Id{i32, i32}), 2)
	a := ir.Value{Kind: ir.VArgument, Arg: 0, Ty: i32}
	c := ir.Value{Kind: ir.VArgument, Arg: 1, Ty: i32}
	entry := fn.NewBlock()
	exit := fn.NewBlock()
	other := fn.NewBlock()
	b := ir.NewBuilder(m, fn, entry)
	sum := b.Add(a, ir.ImmInt32(1))
	cmp := b.Icmp(ir.ICmpSlt, sum, c)
	b.CondBr(cmp, exit, other)
	b.SetInsertPoint(fn, exit)
	b.Ret(sum)
	b.SetInsertPoint(fn, other)
	b.Ret(ir.ImmInt32(0))

	g := selectFn(t, m, fn, riscv64.New(), RiscV64Patterns(), nil)
	if n := nodeFor(g, sum.Inst); n.TargetOp != "ADDI" {
		t.Errorf("add selected to %q, want ADDI", n.TargetOp)
	}
	if n := nodeFor(g, cmp.Inst); n.TargetOp != "SLT" {
		t.Errorf("icmp selected to %q, want SLT", n.TargetOp)
	}
}
