package x86_64

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/types"
)

func TestClassOf(t *testing.T) {
	tbl := types.NewTable()
	tgt := New()
	tests := []struct {
		name string
		ty   types.Id
		want string
	}{
		{"i1", types.Int1, "GR32"},
		{"i8", types.Int8, "GR32"},
		{"i32", types.Int32, "GR32"},
		{"i64", types.Int64, "GR64"},
		{"f64", types.F64, "XMM"},
		{"pointer", tbl.Pointer(types.Int32), "GR64"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tgt.ClassOf(tc.ty, tbl); got != tc.want {
				t.Errorf("ClassOf(%s) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestABILoadedFromYAML(t *testing.T) {
	tgt := New()
	if got := tgt.ABI().StackAlign; got != 16 {
		t.Errorf("StackAlign = %d, want 16", got)
	}
	gr32 := tgt.RegClasses()["GR32"]
	if len(gr32.ArgOrder) != 6 || gr32.Physical[gr32.ArgOrder[0]] != "EDI" {
		t.Errorf("first GR32 argument register = %v, want EDI", gr32.ArgOrder)
	}
	if gr32.Physical[gr32.ReturnReg] != "EAX" {
		t.Errorf("GR32 return register = %s, want EAX", gr32.Physical[gr32.ReturnReg])
	}
	xmm := tgt.RegClasses()["XMM"]
	if len(xmm.ArgOrder) != 8 || xmm.ArgOrder[0] != 0 {
		t.Errorf("XMM arg order = %v, want XMM0 first", xmm.ArgOrder)
	}
}

// TestScratchDisjointFromAllocOrder pins the invariant the spiller
// relies on: a reload into a scratch register can never clobber an
// interval, because the allocator is never offered a scratch register.
func TestScratchDisjointFromAllocOrder(t *testing.T) {
	for name, rc := range New().RegClasses() {
		if len(rc.Scratch) < 2 {
			t.Errorf("class %s: want at least 2 scratch registers, got %v", name, rc.Scratch)
		}
		inAlloc := map[int]bool{}
		for _, idx := range rc.AllocOrder {
			inAlloc[idx] = true
		}
		for _, s := range rc.Scratch {
			if inAlloc[s] {
				t.Errorf("class %s: scratch register %d also in alloc_order", name, s)
			}
		}
	}
}

func TestFramePointerNotAllocatable(t *testing.T) {
	tgt := New()
	fp, sp := tgt.FramePointerReg(), tgt.StackPointerReg()
	for _, r := range []int{fp.Index, sp.Index} {
		for _, idx := range tgt.RegClasses()["GR64"].AllocOrder {
			if idx == r {
				t.Errorf("register index %d (frame/stack pointer) is allocatable", r)
			}
		}
	}
	if !tgt.RegClasses()["GR64"].IsCalleeSaved(fp.Index) {
		t.Error("frame pointer should be callee-saved")
	}
}

// TestOpcodeDefsWellFormed checks every definition record against the
// register-class table: def classes exist, tied pairs point at real
// slots, and compares define nothing (the flags-based shape
// lowerCondBr keys on).
func TestOpcodeDefsWellFormed(t *testing.T) {
	tgt := New()
	classes := tgt.RegClasses()
	for name, def := range tgt.Opcodes() {
		for _, d := range def.Defs {
			if _, ok := classes[d.Class]; !ok {
				t.Errorf("opcode %s: def class %q not a register class", name, d.Class)
			}
		}
		for di, oi := range def.Tied {
			if di >= len(def.Defs) || oi >= len(def.Operands) {
				t.Errorf("opcode %s: tied pair %d->%d out of range", name, di, oi)
			}
		}
	}
	for _, cmp := range []string{"CMP32ri", "CMP32rr", "CMP64rr", "UCOMISD"} {
		if def := tgt.Opcodes()[cmp]; len(def.Defs) != 0 {
			t.Errorf("compare %s should define no register, got %d defs", cmp, len(def.Defs))
		}
	}
}

func TestDivRemProtocol(t *testing.T) {
	tgt := New()
	def, ok := tgt.DivRemOpcode("IDIV32")
	if !ok {
		t.Fatal("IDIV32 should have a fixed-register protocol")
	}
	rc := tgt.RegClasses()[def.Class]
	if rc.Physical[def.Dividend] != "EAX" || rc.Physical[def.Remainder] != "EDX" {
		t.Errorf("IDIV32 protocol = %s/%s, want EAX/EDX",
			rc.Physical[def.Dividend], rc.Physical[def.Remainder])
	}
	if def.ExtendOpcode != "CDQ" {
		t.Errorf("IDIV32 extend = %q, want CDQ", def.ExtendOpcode)
	}
	if _, ok := tgt.DivRemOpcode("ADDrr32"); ok {
		t.Error("ADDrr32 should not report a division protocol")
	}
}
