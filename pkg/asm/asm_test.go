package asm

import (
	"strings"
	"testing"

	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target/riscv64"
	"github.com/vellumlang/vellum/pkg/target/x86_64"
	"github.com/vellumlang/vellum/pkg/types"
)

func buildAddFunction(retClass string) *mir.Function {
	fn := mir.NewFunction("add_one", types.Void)
	b := fn.NewBlock()
	arg := mir.RegId{Class: retClass, Index: 0}
	one := fn.NewVirtualReg(retClass)
	fn.Emit(b, "MOVri32", []mir.Operand{mir.ImmOperand(1)}, []mir.Operand{mir.RegOperand(one)}, nil, nil, nil)
	// Post-two-address shape: the def and its tied use share a register.
	fn.Emit(b, "ADDrr32", []mir.Operand{mir.RegOperand(arg), mir.RegOperand(one)}, []mir.Operand{mir.RegOperand(arg)}, nil, nil, map[int]int{0: 0})
	fn.Emit(b, "RET", nil, nil, nil, nil, nil)
	return fn
}

func TestPrintModuleX86(t *testing.T) {
	tgt := x86_64.New()
	fn := buildAddFunction("GR32")
	mod := &mir.Module{Functions: []*mir.Function{fn}, Types: types.NewTable()}

	var sb strings.Builder
	NewPrinter(&sb, tgt).PrintModule(mod)
	out := sb.String()

	if !strings.Contains(out, "add_one:") {
		t.Errorf("missing function label:\n%s", out)
	}
	if !strings.Contains(out, "ret") {
		t.Errorf("missing ret instruction:\n%s", out)
	}
	if !strings.Contains(out, "%eax") {
		t.Errorf("expected lower-cased physical register name:\n%s", out)
	}
}

func TestMemOperandSyntaxDiffersByTarget(t *testing.T) {
	mem := mir.MemOperand{Base: mir.RegId{Class: "GR64", Index: 0}, HasBase: true, Offset: -16}

	x86p := &Printer{tgt: x86_64.New()}
	if got := x86p.memOperand(mem); got != "[%rax - 16]" {
		t.Errorf("x86-64 mem operand = %q, want [%%rax - 16]", got)
	}

	riscMem := mir.MemOperand{Base: mir.RegId{Class: "GPR", Index: 8}, HasBase: true, Offset: -16}
	riscp := &Printer{tgt: riscv64.New()}
	if got := riscp.memOperand(riscMem); got != "-16(s0)" {
		t.Errorf("riscv64 mem operand = %q, want -16(s0)", got)
	}
}
