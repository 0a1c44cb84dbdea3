package ir

import (
	"fmt"
	"io"
)

// Printer renders a Module as readable text.
type Printer struct {
	w io.Writer
	m *Module
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, m *Module) *Printer { return &Printer{w: w, m: m} }

// PrintModule writes every function in declaration order.
func (p *Printer) PrintModule() {
	for _, fn := range p.m.Functions() {
		p.PrintFunction(fn)
		fmt.Fprintln(p.w)
	}
}

// PrintFunction writes one function's blocks in textual order.
func (p *Printer) PrintFunction(fn *Function) {
	if fn.External() {
		fmt.Fprintf(p.w, "declare %s @%s\n", p.m.Types.String(fn.Ty), fn.Name)
		return
	}
	fmt.Fprintf(p.w, "define %s @%s {\n", p.m.Types.String(fn.Ty), fn.Name)
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		fmt.Fprintf(p.w, "bb%d:\n", b.Id)
		for _, iid := range b.Instrs {
			p.printInst(fn, fn.Instr(iid))
		}
	}
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) printInst(fn *Function, inst *Instruction) {
	lhs := ""
	if inst.Opcode != OpStore && inst.Opcode != OpBr && inst.Opcode != OpCondBr && inst.Opcode != OpRet {
		lhs = fmt.Sprintf("  %%%d = ", inst.Id)
	} else {
		lhs = "  "
	}
	fmt.Fprintf(p.w, "%s%s", lhs, inst.Opcode)
	if inst.Opcode == OpPhi {
		fmt.Fprint(p.w, " [")
		for i, e := range inst.PhiIncoming {
			if i > 0 {
				fmt.Fprint(p.w, ", ")
			}
			fmt.Fprintf(p.w, "(%s, bb%d)", p.valStr(e.Value), e.Block)
		}
		fmt.Fprintln(p.w, "]")
		return
	}
	for _, o := range inst.Operands {
		switch o.Kind {
		case OperValue:
			fmt.Fprintf(p.w, " %s", p.valStr(o.Value))
		case OperType:
			fmt.Fprintf(p.w, " %s", p.m.Types.String(o.Type))
		case OperBlock:
			fmt.Fprintf(p.w, " bb%d", o.Block)
		case OperICmp:
			fmt.Fprintf(p.w, " %s", o.ICmp)
		case OperFCmp:
			fmt.Fprintf(p.w, " %s", o.FCmp)
		}
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) valStr(v Value) string {
	switch v.Kind {
	case VNone:
		return "none"
	case VImmInt32:
		return fmt.Sprintf("%d", int32(v.ImmI))
	case VImmInt64:
		return fmt.Sprintf("%d", v.ImmI)
	case VImmF64:
		return fmt.Sprintf("%g", v.ImmF)
	case VArgument:
		return fmt.Sprintf("arg%d", v.Arg)
	case VFunction:
		return fmt.Sprintf("@fn%d", v.Func)
	case VGlobal:
		return fmt.Sprintf("@glob%d", v.Glob)
	case VInstruction:
		return fmt.Sprintf("%%%d", v.Inst)
	}
	return "?"
}
