package regalloc

import (
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
)

// convertTwoAddress inserts the copy x86-64's destructive two-operand
// encoding needs: for every Tied def/operand pair whose assigned
// physical registers differ after allocation, emit `Copy srcReg,
// defReg` immediately before the instruction and repoint the tied
// operand at defReg, so the instruction itself can compute in place.
// RISC-V's three-address opcodes carry no Tied pairs and are untouched.
func convertTwoAddress(fn *mir.Function, tgt target.Target) {
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		for _, iid := range append([]mir.InstId(nil), b.Instrs...) {
			inst := fn.Instr(iid)
			if len(inst.Tied) == 0 {
				continue
			}
			idx := instrIndex(b, iid)
			for defIdx, opIdx := range inst.Tied {
				if defIdx >= len(inst.Defs) || opIdx >= len(inst.Operands) {
					continue
				}
				defReg := inst.Defs[defIdx].Reg
				op := inst.Operands[opIdx]
				if op.Kind != mir.OperReg || op.Reg.Equal(defReg) {
					continue
				}
				fn.InsertBefore(b, idx, "Copy", []mir.Operand{op}, []mir.Operand{mir.RegOperand(defReg)}, nil, nil, nil)
				idx++
				inst.Operands[opIdx] = mir.RegOperand(defReg)
			}
		}
	}
}
