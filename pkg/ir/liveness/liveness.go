// Package liveness computes per-block def/live_in/live_out sets over
// instruction ids by iterative backward data-flow over the CFG.
package liveness

import "github.com/vellumlang/vellum/pkg/ir"

// Compute runs the standard iterative backward data-flow pass over fn's
// CFG and stores the result directly in each BasicBlock's Live field.
// A definition is any value-producing instruction whose result type is
// non-void; phis define in the block they appear in; a call defines
// only when its return type is non-void. Phi incoming values propagate
// to the specified predecessor only.
func Compute(fn *ir.Function) {
	blocks := fn.Order()
	def := make(map[ir.BlockId]map[ir.InstId]bool, len(blocks))
	use := make(map[ir.BlockId]map[ir.InstId]bool, len(blocks))

	for _, bid := range blocks {
		b := fn.Block(bid)
		d := make(map[ir.InstId]bool)
		u := make(map[ir.InstId]bool)
		for _, iid := range b.Instrs {
			inst := fn.Instr(iid)
			if inst.Opcode == ir.OpPhi {
				// phi uses are attributed to the predecessor blocks below,
				// not to this block's own use set.
				d[iid] = true
				continue
			}
			for _, v := range nonPhiOperands(inst) {
				if v.Kind == ir.VInstruction && !d[v.Inst] {
					u[v.Inst] = true
				}
			}
			if definesValue(inst) {
				d[iid] = true
			}
		}
		def[bid] = d
		use[bid] = u
		b.Live = ir.LivenessRecord{Def: d, LiveIn: make(map[ir.InstId]bool), LiveOut: make(map[ir.InstId]bool)}
	}

	// phi-incoming-to-predecessor contribution: for each phi, the value
	// supplied along edge (pred -> block) is used at the end of pred.
	predUse := make(map[ir.BlockId]map[ir.InstId]bool)
	for _, bid := range blocks {
		b := fn.Block(bid)
		for _, iid := range b.Instrs {
			inst := fn.Instr(iid)
			if inst.Opcode != ir.OpPhi {
				continue
			}
			for _, e := range inst.PhiIncoming {
				if e.Value.Kind != ir.VInstruction {
					continue
				}
				if predUse[e.Block] == nil {
					predUse[e.Block] = make(map[ir.InstId]bool)
				}
				predUse[e.Block][e.Value.Inst] = true
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for i := len(blocks) - 1; i >= 0; i-- {
			bid := blocks[i]
			b := fn.Block(bid)
			liveOut := make(map[ir.InstId]bool)
			for _, s := range b.Succs {
				sb := fn.Block(s)
				for v := range sb.Live.LiveIn {
					liveOut[v] = true
				}
			}
			for v := range predUse[bid] {
				liveOut[v] = true
			}
			liveIn := make(map[ir.InstId]bool)
			for v := range use[bid] {
				liveIn[v] = true
			}
			for v := range liveOut {
				if !def[bid][v] {
					liveIn[v] = true
				}
			}
			if !mapsEqual(liveIn, b.Live.LiveIn) || !mapsEqual(liveOut, b.Live.LiveOut) {
				changed = true
			}
			b.Live.LiveIn = liveIn
			b.Live.LiveOut = liveOut
		}
	}
}

func nonPhiOperands(inst *ir.Instruction) []ir.Value {
	var vs []ir.Value
	for _, o := range inst.Operands {
		if o.Kind == ir.OperValue {
			vs = append(vs, o.Value)
		}
	}
	return vs
}

func definesValue(inst *ir.Instruction) bool {
	v := inst.AsValue()
	return v.Kind != ir.VNone
}

func mapsEqual(a, b map[ir.InstId]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
