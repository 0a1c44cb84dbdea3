package regalloc

import (
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
)

// spillEverywhere rewrites every mention of a spilled virtual register
// into one of the class's reserved scratch registers, plus an explicit
// load before a use or store after a def addressing the interval's
// frame slot; every non-spilled virtual register mention is rewritten
// directly into its assigned physical register. A spill slot is an
// ordinary FrameObject, laid out by pkg/finalize with the rest of the
// frame.
//
// Scratch registers come from rc.Scratch, which the scan never hands
// out, so a reload cannot clobber a live interval. Reloads within one
// instruction take scratch registers in order, the def always the last
// one; three suffice because an instruction has at most two register
// operands of the same class plus one def (memory bases belong to the
// pointer class and are rewritten during that class's own pass, with
// its own scratch set).
func spillEverywhere(fn *mir.Function, ivs []*interval, rc target.RegClass) {
	class := rc.Name
	bySlot := map[mir.RegId]int{}
	for _, iv := range ivs {
		if iv.spill {
			bySlot[iv.reg] = iv.spillSlot
		}
	}
	if len(bySlot) == 0 {
		materializePhysical(fn, ivs, class)
		return
	}

	scratch := func(i int) mir.RegId {
		if i >= len(rc.Scratch) {
			i = len(rc.Scratch) - 1
		}
		return mir.RegId{Class: class, Index: rc.Scratch[i]}
	}

	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		for _, iid := range append([]mir.InstId(nil), b.Instrs...) {
			inst := fn.Instr(iid)
			idx := instrIndex(b, iid)
			next := 0

			reload := func(r mir.RegId) (mir.RegId, bool) {
				slot, ok := bySlot[r]
				if !ok {
					return r, false
				}
				s := scratch(next)
				next++
				fn.InsertBefore(b, idx, loadOpcodeFor(class),
					[]mir.Operand{mir.FrameIndexOperand(slot)}, []mir.Operand{mir.RegOperand(s)}, nil, nil, nil)
				idx++
				return s, true
			}

			for i, o := range inst.Operands {
				switch o.Kind {
				case mir.OperReg:
					if !o.Reg.Virtual {
						continue
					}
					if s, ok := reload(o.Reg); ok {
						inst.Operands[i] = mir.RegOperand(s)
					}
				case mir.OperMem:
					if o.Mem.HasBase && o.Mem.Base.Virtual {
						if s, ok := reload(o.Mem.Base); ok {
							inst.Operands[i].Mem.Base = s
						}
					}
					if o.Mem.HasIndex && o.Mem.Index.Virtual {
						if s, ok := reload(o.Mem.Index); ok {
							inst.Operands[i].Mem.Index = s
						}
					}
				}
			}
			// The def always takes the last scratch, never one an operand
			// reload occupies: the copy two-address conversion inserts
			// (Copy def, tiedUse) would otherwise overwrite a freshly
			// reloaded operand.
			for i, d := range inst.Defs {
				if !d.Reg.Virtual {
					continue
				}
				slot, ok := bySlot[d.Reg]
				if !ok {
					continue
				}
				s := scratch(len(rc.Scratch) - 1)
				inst.Defs[i] = mir.RegOperand(s)
				fn.InsertBefore(b, idx+1, storeOpcodeFor(class),
					[]mir.Operand{mir.FrameIndexOperand(slot), mir.RegOperand(s)}, nil, nil, nil, nil)
			}
		}
	}
	materializePhysical(fn, ivs, class)
}

func instrIndex(b *mir.BasicBlock, id mir.InstId) int {
	for i, iid := range b.Instrs {
		if iid == id {
			return i
		}
	}
	return len(b.Instrs)
}

// loadOpcodeFor/storeOpcodeFor name the pseudo-opcode pkg/finalize (and
// pkg/asm after it) recognise as a frame-slot access; they are
// resolved to the target's real load/store opcode once the frame
// layout is known, the same way FRAMEADDR is.
func loadOpcodeFor(class string) string  { return "RELOAD_" + class }
func storeOpcodeFor(class string) string { return "SPILL_" + class }

// materializePhysical rewrites every remaining (non-spilled) virtual
// register mention directly into its assigned physical register,
// using the RegId comparisons ReplaceReg already performs.
func materializePhysical(fn *mir.Function, ivs []*interval, class string) {
	for _, iv := range ivs {
		if iv.spill {
			continue
		}
		phys := mir.RegId{Class: class, Index: iv.physIndex}
		for _, bid := range fn.Order() {
			b := fn.Block(bid)
			for _, iid := range b.Instrs {
				inst := fn.Instr(iid)
				fn.ReplaceReg(inst, iv.reg, phys)
			}
		}
	}
}
