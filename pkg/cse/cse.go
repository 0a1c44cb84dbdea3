// Package cse implements common subexpression elimination: it
// hash-conses pure instructions (no side effects, identical
// opcode+operands+type) within a dominator subtree, replacing later
// duplicates with the earlier value.
package cse

import (
	"fmt"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
)

// Run eliminates redundant pure instructions in fn, using dom to decide
// whether an earlier candidate's definition is visible at a later use
// site (its block dominates the use's block).
func Run(fn *ir.Function, dom *domtree.Tree) {
	seen := make(map[string]ir.Value)
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		for _, iid := range append([]ir.InstId(nil), b.Instrs...) {
			inst := fn.Instr(iid)
			if inst.Dead || !isPure(inst) {
				continue
			}
			key := fingerprint(inst)
			if existing, ok := seen[key]; ok {
				if existing.Kind == ir.VInstruction && dom.Dominates(fn.Instr(existing.Inst).Block, bid) {
					fn.ReplaceAllUses(inst.AsValue(), existing)
					fn.RemoveInstr(iid)
					continue
				}
			}
			seen[key] = inst.AsValue()
		}
	}
}

func isPure(inst *ir.Instruction) bool {
	return !inst.Opcode.HasSideEffects() && inst.Opcode != ir.OpAlloca
}

func fingerprint(inst *ir.Instruction) string {
	s := fmt.Sprintf("%d:%d", inst.Opcode, inst.Result)
	for _, o := range inst.Operands {
		switch o.Kind {
		case ir.OperValue:
			v := o.Value
			s += fmt.Sprintf(";v%d:%d:%d:%d:%d:%d:%g", v.Kind, v.Inst, v.Arg, v.Func, v.Glob, v.ImmI, v.ImmF)
		case ir.OperType:
			s += fmt.Sprintf(";t%d", o.Type)
		case ir.OperICmp:
			s += fmt.Sprintf(";c%d", o.ICmp)
		case ir.OperFCmp:
			s += fmt.Sprintf(";f%d", o.FCmp)
		}
	}
	return s
}
