// Package asm prints a finalised machine module as textual assembly:
// Intel syntax ([base + index*scale - offset]) for x86-64, GNU-as
// off(base) syntax for RISC-V, selected by the target's Name().
//
// The printer renders pkg/mir's generic Instruction{Opcode string,
// Operands []Operand} against the owning target's register names,
// since this codebase has one Instruction type for every backend
// rather than a typed AST per architecture.
package asm

import (
	"fmt"
	"io"
	"strings"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
)

// Printer renders one mir.Module's functions as assembly text for tgt.
type Printer struct {
	w   io.Writer
	tgt target.Target
}

// NewPrinter creates a Printer writing to w for tgt.
func NewPrinter(w io.Writer, tgt target.Target) *Printer {
	return &Printer{w: w, tgt: tgt}
}

// PrintModule outputs every non-external function of mod in turn,
// preceded by a rodata section holding each function's float
// constant pool (the materializeConst literals pkg/mirgen could not
// move directly into an FP register).
func (p *Printer) PrintModule(mod *mir.Module) {
	any := false
	for _, fn := range mod.Functions {
		if !fn.External && len(fn.ConstPool) > 0 {
			any = true
			break
		}
	}
	if any {
		fmt.Fprintf(p.w, "\t.section\t.rodata\n")
		for _, fn := range mod.Functions {
			if fn.External {
				continue
			}
			for i, v := range fn.ConstPool {
				fmt.Fprintf(p.w, "\t.p2align\t3\n.LCPI_%s_%d:\n\t.double\t%g\n", fn.Name, i, v)
			}
		}
	}

	fmt.Fprintf(p.w, "\t.text\n")
	for _, fn := range mod.Functions {
		if fn.External {
			continue
		}
		p.printFunction(fn)
	}
}

func (p *Printer) printFunction(fn *mir.Function) {
	fmt.Fprintf(p.w, "\t.globl\t%s\n", fn.Name)
	fmt.Fprintf(p.w, "%s:\n", fn.Name)

	labels := make(map[mir.BlockId]string, len(fn.Order()))
	for i, bid := range fn.Order() {
		labels[bid] = fmt.Sprintf(".L%s%d", fn.Name, i)
	}
	for i, bid := range fn.Order() {
		if i > 0 {
			fmt.Fprintf(p.w, "%s:\n", labels[bid])
		}
		b := fn.Block(bid)
		for _, iid := range b.Instrs {
			p.printInstr(fn, fn.Instr(iid), labels)
		}
	}
}

func (p *Printer) printInstr(fn *mir.Function, inst *mir.Instruction, labels map[mir.BlockId]string) {
	mnemonic := p.mnemonic(inst)
	var operands []string
	for _, d := range inst.Defs {
		operands = append(operands, p.operand(fn, d, labels))
	}
	for i, o := range inst.Operands {
		if isTiedUse(inst, i) {
			continue
		}
		operands = append(operands, p.operand(fn, o, labels))
	}
	if len(operands) == 0 {
		fmt.Fprintf(p.w, "\t%s\n", mnemonic)
		return
	}
	fmt.Fprintf(p.w, "\t%s\t%s\n", mnemonic, strings.Join(operands, ", "))
}

// isTiedUse reports whether operand index i is the use half of a
// two-address tied def, already printed as the def itself and so
// skipped here (two-address conversion collapses def and tied-use
// into the same physical register by this point).
func isTiedUse(inst *mir.Instruction, operandIdx int) bool {
	for _, useIdx := range inst.Tied {
		if useIdx == operandIdx {
			return true
		}
	}
	return false
}

// mnemonic lower-cases a target opcode name for display. Copy renders
// as the target's real move instruction for its register class;
// pseudo-ops left over from an unfinalised dump (FRAMEADDR, RELOAD_*,
// SPILL_*, PHI) print as-is so --dmir/--dasm output stays legible even
// before pkg/finalize has run.
func (p *Printer) mnemonic(inst *mir.Instruction) string {
	opcode := inst.Opcode
	if opcode == "Copy" {
		class := ""
		if len(inst.Defs) > 0 {
			class = inst.Defs[0].Reg.Class
		}
		return p.tgt.MoveMnemonic(class)
	}
	switch opcode {
	case "FRAMEADDR", "PHI":
		return opcode
	}
	if strings.HasPrefix(opcode, "RELOAD_") || strings.HasPrefix(opcode, "SPILL_") {
		return opcode
	}
	return strings.ToLower(opcode)
}

func (p *Printer) operand(fn *mir.Function, o mir.Operand, labels map[mir.BlockId]string) string {
	switch o.Kind {
	case mir.OperReg:
		return p.regName(o.Reg)
	case mir.OperImm:
		return fmt.Sprintf("%d", o.ImmI)
	case mir.OperImmF:
		return fmt.Sprintf("%g", o.ImmF)
	case mir.OperFrameIndex:
		return fmt.Sprintf("fi#%d", o.Frame)
	case mir.OperBlock:
		return labels[o.Block]
	case mir.OperAddress:
		return o.Addr
	case mir.OperCondI:
		return ir.ICmpKind(o.CondI).String()
	case mir.OperCondF:
		return ir.FCmpKind(o.CondF).String()
	case mir.OperMem:
		return p.memOperand(o.Mem)
	case mir.OperConstPool:
		return fmt.Sprintf(".LCPI_%s_%d", fn.Name, o.Pool)
	}
	return "?"
}

func (p *Printer) regName(r mir.RegId) string {
	if r.Virtual {
		return fmt.Sprintf("%%v%s%d", r.Class, r.VirtualId)
	}
	rc, ok := p.tgt.RegClasses()[r.Class]
	if !ok || r.Index >= len(rc.Physical) {
		return fmt.Sprintf("%%%s%d", r.Class, r.Index)
	}
	name := rc.Physical[r.Index]
	if p.tgt.Name() == "x86_64" {
		return "%" + strings.ToLower(name)
	}
	return name
}

// memOperand renders m in the target's addressing syntax: Intel
// [base + index*scale - offset] for x86-64, off(base)
// everywhere else (RISC-V's single base+offset mode).
func (p *Printer) memOperand(m mir.MemOperand) string {
	if p.tgt.Name() != "x86_64" {
		base := ""
		if m.HasBase {
			base = p.regName(m.Base)
		}
		return fmt.Sprintf("%d(%s)", m.Offset, base)
	}

	var sb strings.Builder
	sb.WriteByte('[')
	wrote := false
	if m.HasBase {
		sb.WriteString(p.regName(m.Base))
		wrote = true
	}
	if m.HasIndex {
		if wrote {
			sb.WriteString(" + ")
		}
		sb.WriteString(p.regName(m.Index))
		sb.WriteString("*")
		fmt.Fprintf(&sb, "%d", m.Scale)
		wrote = true
	}
	if m.Offset != 0 {
		if m.Offset < 0 {
			if wrote {
				sb.WriteString(" - ")
			} else {
				sb.WriteString("-")
			}
			fmt.Fprintf(&sb, "%d", -m.Offset)
		} else {
			if wrote {
				sb.WriteString(" + ")
			}
			fmt.Fprintf(&sb, "%d", m.Offset)
		}
		wrote = true
	}
	if !wrote {
		sb.WriteString("0")
	}
	sb.WriteByte(']')
	return sb.String()
}
