package regalloc

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/target/x86_64"
	"github.com/vellumlang/vellum/pkg/types"
)

func assertAllPhysical(t *testing.T, fn *mir.Function) {
	t.Helper()
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			for _, r := range inst.UsedRegs() {
				if r.Virtual {
					t.Errorf("%s: virtual register %s%d survived allocation", inst.Opcode, r.Class, r.VirtualId)
				}
			}
			for _, r := range inst.DefinedRegs() {
				if r.Virtual {
					t.Errorf("%s: virtual def %s%d survived allocation", inst.Opcode, r.Class, r.VirtualId)
				}
			}
		}
	}
}

func TestTwoAddressRoundTrip(t *testing.T) {
	tgt := x86_64.New()
	fn := mir.NewFunction("f", types.Void)
	b := fn.NewBlock()

	v0 := fn.NewVirtualReg("GR32")
	v1 := fn.NewVirtualReg("GR32")
	v2 := fn.NewVirtualReg("GR32")
	fn.Emit(b, "MOVri32", []mir.Operand{mir.ImmOperand(1)}, []mir.Operand{mir.RegOperand(v0)}, nil, nil, nil)
	fn.Emit(b, "MOVri32", []mir.Operand{mir.ImmOperand(2)}, []mir.Operand{mir.RegOperand(v1)}, nil, nil, nil)
	fn.Emit(b, "ADDrr32", []mir.Operand{mir.RegOperand(v0), mir.RegOperand(v1)}, []mir.Operand{mir.RegOperand(v2)}, nil, nil, map[int]int{0: 0})
	eax := mir.RegId{Class: "GR32", Index: 0}
	fn.Emit(b, "Copy", []mir.Operand{mir.RegOperand(v2)}, []mir.Operand{mir.RegOperand(eax)}, nil, nil, nil)
	fn.Emit(b, "RET", nil, nil, []mir.RegId{eax}, nil, nil)

	if err := Run(fn, tgt); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertAllPhysical(t, fn)

	// After two-address conversion every instruction with a tied pair
	// reads the same register it writes.
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			for defIdx, opIdx := range inst.Tied {
				def := inst.Defs[defIdx].Reg
				use := inst.Operands[opIdx]
				if use.Kind == mir.OperReg && !use.Reg.Equal(def) {
					t.Errorf("%s: tied def %v != use %v after conversion", inst.Opcode, def, use.Reg)
				}
			}
		}
	}
}

// TestSpillPressureRewritesEveryVirtual defines more simultaneously
// live values than GR32 has allocatable registers, so at least one
// interval must spill; afterwards no virtual register may remain and
// every spill access must address a frame slot.
func TestSpillPressureRewritesEveryVirtual(t *testing.T) {
	tgt := x86_64.New()
	rc := tgt.RegClasses()["GR32"]
	n := len(rc.AllocOrder) + 4

	fn := mir.NewFunction("f", types.Void)
	b := fn.NewBlock()
	vs := make([]mir.RegId, n)
	for i := range vs {
		vs[i] = fn.NewVirtualReg("GR32")
		fn.Emit(b, "MOVri32", []mir.Operand{mir.ImmOperand(int64(i))}, []mir.Operand{mir.RegOperand(vs[i])}, nil, nil, nil)
	}
	// One summation chain keeps every value live until its use.
	acc := vs[0]
	for i := 1; i < n; i++ {
		sum := fn.NewVirtualReg("GR32")
		fn.Emit(b, "ADDrr32", []mir.Operand{mir.RegOperand(acc), mir.RegOperand(vs[i])}, []mir.Operand{mir.RegOperand(sum)}, nil, nil, map[int]int{0: 0})
		acc = sum
	}
	eax := mir.RegId{Class: "GR32", Index: 0}
	fn.Emit(b, "Copy", []mir.Operand{mir.RegOperand(acc)}, []mir.Operand{mir.RegOperand(eax)}, nil, nil, nil)
	fn.Emit(b, "RET", nil, nil, []mir.RegId{eax}, nil, nil)

	if err := Run(fn, tgt); err != nil {
		t.Fatalf("Run: %v", err)
	}
	assertAllPhysical(t, fn)

	spills := 0
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			op := fn.Instr(iid).Opcode
			if op == "SPILL_GR32" || op == "RELOAD_GR32" {
				spills++
			}
		}
	}
	if spills == 0 {
		t.Errorf("expected spill traffic with %d simultaneously live values and %d registers", n, len(rc.AllocOrder))
	}
	if len(fn.FrameObjects) == 0 {
		t.Error("expected at least one spill frame slot")
	}
}

// TestScratchNeverAllocated pins the invariant the spiller depends on:
// no interval is ever assigned one of the class's scratch registers.
func TestScratchNeverAllocated(t *testing.T) {
	tgt := x86_64.New()
	fn := mir.NewFunction("f", types.Void)
	b := fn.NewBlock()
	for i := 0; i < 20; i++ {
		v := fn.NewVirtualReg("GR32")
		fn.Emit(b, "MOVri32", []mir.Operand{mir.ImmOperand(int64(i))}, []mir.Operand{mir.RegOperand(v)}, nil, nil, nil)
	}
	fn.Emit(b, "RET", nil, nil, nil, nil, nil)
	if err := Run(fn, tgt); err != nil {
		t.Fatalf("Run: %v", err)
	}

	scratch := map[target.PhysReg]bool{}
	for name, rc := range tgt.RegClasses() {
		for _, s := range rc.Scratch {
			scratch[target.PhysReg{Class: name, Index: s}] = true
		}
	}
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			if inst.Opcode == "SPILL_GR32" || inst.Opcode == "RELOAD_GR32" {
				continue
			}
			for _, d := range inst.DefinedRegs() {
				if !d.Virtual && scratch[target.PhysReg{Class: d.Class, Index: d.Index}] {
					t.Errorf("%s: interval assigned scratch register %s#%d", inst.Opcode, d.Class, d.Index)
				}
			}
		}
	}
}
