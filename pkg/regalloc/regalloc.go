// Package regalloc implements linear-scan register allocation over
// pkg/mir: a live-interval scan per register class (Poletto & Sarkar),
// precolouring for fixed-register ABI/division sequences,
// spill-everywhere rewriting via frame slots, and a two-address
// conversion pass that inserts the copy x86-64's destructive encoding
// needs. Spill slots are ordinary FrameObjects, laid out with the rest
// of the frame by pkg/finalize.
package regalloc

import (
	"sort"

	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/types"
)

// point is a monotonically increasing program point, one per
// instruction in function-wide block order.
type point int

type interval struct {
	reg        mir.RegId
	start, end point
	spill      bool
	spillSlot  int
	physIndex  int
	precolored bool
}

// Run allocates physical registers for every virtual register of fn,
// mutating it in place: PHI instructions are eliminated first, then
// each class's virtuals are scanned independently, spilled intervals
// are rewritten to frame loads/stores, and two-address instructions
// get their tying copy inserted last. Phi elimination runs before the
// scan rather than after: coalescing the phi's shared destination
// register into the scan's ordinary interval-construction is simpler
// and exactly as correct.
func Run(fn *mir.Function, tgt target.Target) error {
	if fn.External {
		return nil
	}
	eliminatePhis(fn, tgt)

	points, defAt, useAt := numberAndLiveness(fn)
	callPoints := findCallPoints(fn, points, tgt)

	for class, rc := range tgt.RegClasses() {
		ivs := buildIntervals(fn, class, points, defAt, useAt)
		reserved := precolorReserved(fn, class, points)
		scan(ivs, rc, reserved)
		forceCallerSavedSpills(ivs, rc, callPoints)
		assign(fn, ivs)
		spillEverywhere(fn, ivs, rc)
	}

	convertTwoAddress(fn, tgt)
	return nil
}

// findCallPoints locates every CALL instruction's program point, for
// the preserve-across-call scan below.
func findCallPoints(fn *mir.Function, points map[mir.InstId]point, tgt target.Target) []point {
	call := tgt.CallOpcode()
	var out []point
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			if fn.Instr(iid).Opcode == call {
				out = append(out, points[iid])
			}
		}
	}
	return out
}

// forceCallerSavedSpills is the preserve-across-call
// scan: any interval assigned a caller-saved physical register that
// spans a CALL instruction's point is forced to spill instead, so
// spillEverywhere's load-before-use/store-after-def rewrite round-trips
// it through its frame slot on every access and survives whatever the
// callee clobbers, without a dedicated save/restore mechanism.
func forceCallerSavedSpills(ivs []*interval, rc target.RegClass, callPoints []point) {
	for _, iv := range ivs {
		if iv.spill || rc.IsCalleeSaved(iv.physIndex) {
			continue
		}
		for _, cp := range callPoints {
			if iv.start <= cp && cp <= iv.end {
				iv.spill = true
				break
			}
		}
	}
}

// eliminatePhis replaces every PHI instruction with a copy appended to
// the end of each predecessor block (before its branch tail), exactly
// the standard out-of-SSA lowering; the phi's own destination register
// is left untouched so the rest of allocation treats it like any other
// virtual register. Immediate incoming values can't ride a plain Copy
// (which moves registers) and materialise through the target's
// move-immediate or constant-pool load instead.
func eliminatePhis(fn *mir.Function, tgt target.Target) {
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		for _, iid := range append([]mir.InstId(nil), b.Instrs...) {
			inst := fn.Instr(iid)
			if inst.Opcode != "PHI" {
				continue
			}
			dest := inst.Defs[0].Reg
			for i := 0; i+1 < len(inst.Operands); i += 2 {
				val, blockOperand := inst.Operands[i], inst.Operands[i+1]
				pred := fn.Block(blockOperand.Block)
				destOp := []mir.Operand{mir.RegOperand(dest)}
				switch val.Kind {
				case mir.OperImm:
					insertBeforeBranchTail(fn, pred, tgt.IntImmOpcode(dest.Class), []mir.Operand{val}, destOp)
				case mir.OperImmF:
					pool := fn.NewConstant(val.ImmF)
					insertBeforeBranchTail(fn, pred, tgt.FloatLoadOpcode(), []mir.Operand{mir.ConstPoolOperand(pool)}, destOp)
				default:
					insertBeforeBranchTail(fn, pred, "Copy", []mir.Operand{val}, destOp)
				}
			}
			fn.RemoveInstr(iid)
		}
	}
}

// insertBeforeBranchTail places an instruction ahead of the block's
// whole branch tail: a conditional jump followed by its fall-through
// jump is two instructions, and a phi copy must execute on both edges.
func insertBeforeBranchTail(fn *mir.Function, b *mir.BasicBlock, opcode string, operands, defs []mir.Operand) {
	idx := len(b.Instrs)
	for idx > 0 {
		inst := fn.Instr(b.Instrs[idx-1])
		if inst.Opcode == "PHI" || !isBranch(inst) {
			break
		}
		idx--
	}
	fn.InsertBefore(b, idx, opcode, operands, defs, nil, nil, nil)
}

func isBranch(inst *mir.Instruction) bool {
	for _, o := range inst.Operands {
		if o.Kind == mir.OperBlock {
			return true
		}
	}
	return false
}

// numberAndLiveness assigns each instruction a program point in
// function-wide block order and runs the standard backward live-set
// dataflow over register-info-tracked virtuals to find, for every
// virtual register, its first def point and last use point (including
// uses implied by being live-out of a block it is merely passed
// through, e.g. a loop-carried value).
func numberAndLiveness(fn *mir.Function) (map[mir.InstId]point, map[mir.RegId]point, map[mir.RegId]point) {
	points := map[mir.InstId]point{}
	var all []mir.InstId
	p := point(0)
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			points[iid] = p
			all = append(all, iid)
			p++
		}
	}

	liveIn := map[mir.BlockId]map[mir.RegId]bool{}
	liveOut := map[mir.BlockId]map[mir.RegId]bool{}
	for _, bid := range fn.Order() {
		liveIn[bid] = map[mir.RegId]bool{}
		liveOut[bid] = map[mir.RegId]bool{}
	}
	changed := true
	for changed {
		changed = false
		for i := len(fn.Order()) - 1; i >= 0; i-- {
			bid := fn.Order()[i]
			b := fn.Block(bid)
			out := map[mir.RegId]bool{}
			for _, s := range b.Succs {
				for r := range liveIn[s] {
					out[r] = true
				}
			}
			in := map[mir.RegId]bool{}
			for r := range out {
				in[r] = true
			}
			for j := len(b.Instrs) - 1; j >= 0; j-- {
				inst := fn.Instr(b.Instrs[j])
				for _, r := range inst.DefinedRegs() {
					if r.Virtual {
						delete(in, r)
					}
				}
				for _, r := range inst.UsedRegs() {
					if r.Virtual {
						in[r] = true
					}
				}
			}
			if !sameSet(in, liveIn[bid]) || !sameSet(out, liveOut[bid]) {
				liveIn[bid] = in
				liveOut[bid] = out
				changed = true
			}
		}
	}

	defAt := map[mir.RegId]point{}
	useAt := map[mir.RegId]point{}
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		for r := range liveOut[bid] {
			if len(b.Instrs) == 0 {
				continue
			}
			last := points[b.Instrs[len(b.Instrs)-1]]
			if cur, ok := useAt[r]; !ok || last > cur {
				useAt[r] = last
			}
		}
	}
	for _, iid := range all {
		inst := fn.Instr(iid)
		pt := points[iid]
		for _, r := range inst.DefinedRegs() {
			if !r.Virtual {
				continue
			}
			if cur, ok := defAt[r]; !ok || pt < cur {
				defAt[r] = pt
			}
		}
		for _, r := range inst.UsedRegs() {
			if !r.Virtual {
				continue
			}
			if cur, ok := useAt[r]; !ok || pt > cur {
				useAt[r] = pt
			}
		}
	}
	return points, defAt, useAt
}

func sameSet(a, b map[mir.RegId]bool) bool {
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

func buildIntervals(fn *mir.Function, class string, points map[mir.InstId]point, defAt, useAt map[mir.RegId]point) []*interval {
	var ivs []*interval
	infos := fn.RegInfos[class]
	for vid := range infos {
		r := mir.RegId{Class: class, Virtual: true, VirtualId: vid}
		start, hasStart := defAt[r]
		end, hasEnd := useAt[r]
		if !hasStart {
			start = 0
		}
		if !hasEnd || end < start {
			end = start
		}
		ivs = append(ivs, &interval{reg: r, start: start, end: end})
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].start < ivs[j].start })
	return ivs
}

// reservedRange marks one physical register index busy across
// [start,end], from an ABI/division fixed-register use (e.g. IDIV's
// RAX/RDX, or a call's argument registers).
type reservedRange struct {
	index      int
	start, end point
}

func precolorReserved(fn *mir.Function, class string, points map[mir.InstId]point) []reservedRange {
	// Gather every physical-register mention of this class in program
	// order, then turn each def into a range reaching its next read:
	// the Copy into EDI before a CALL, or into EAX before an IDIV,
	// occupies the register over every instruction in between, not
	// just at the copy's own point.
	type event struct {
		pt    point
		isDef bool
	}
	events := map[int][]event{}
	add := func(idx int, pt point, isDef bool) {
		events[idx] = append(events[idx], event{pt: pt, isDef: isDef})
	}
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			pt := points[iid]
			for _, r := range inst.UsedRegs() {
				if !r.Virtual && r.Class == class {
					add(r.Index, pt, false)
				}
			}
			for _, r := range inst.DefinedRegs() {
				if !r.Virtual && r.Class == class {
					add(r.Index, pt, true)
				}
			}
		}
	}

	var out []reservedRange
	for idx, evs := range events {
		sort.Slice(evs, func(i, j int) bool { return evs[i].pt < evs[j].pt })
		for i, ev := range evs {
			end := ev.pt
			if ev.isDef && i+1 < len(evs) && !evs[i+1].isDef {
				end = evs[i+1].pt
			}
			out = append(out, reservedRange{index: idx, start: ev.pt, end: end})
		}
	}
	return out
}

func overlapsReserved(index int, start, end point, reserved []reservedRange) bool {
	for _, r := range reserved {
		if r.index == index && start <= r.end && r.start <= end {
			return true
		}
	}
	return false
}

// scan runs Poletto & Sarkar's linear-scan allocation: a sorted active
// list, expiring intervals whose end has passed, assigning the first
// free physical register (preferring rc.AllocOrder), and spilling the
// active interval with the furthest end point when none is free.
func scan(ivs []*interval, rc target.RegClass, reserved []reservedRange) {
	var active []*interval
	freeAt := map[int]point{}

	expire := func(cur *interval) {
		kept := active[:0]
		for _, a := range active {
			if a.end < cur.start {
				freeAt[a.physIndex] = a.end
				continue
			}
			kept = append(kept, a)
		}
		active = kept
	}

	for _, cur := range ivs {
		expire(cur)
		assigned := false
		for _, idx := range rc.AllocOrder {
			busy := false
			for _, a := range active {
				if a.physIndex == idx {
					busy = true
					break
				}
			}
			if busy || overlapsReserved(idx, cur.start, cur.end, reserved) {
				continue
			}
			cur.physIndex = idx
			assigned = true
			active = append(active, cur)
			sort.Slice(active, func(i, j int) bool { return active[i].end < active[j].end })
			break
		}
		if assigned {
			continue
		}
		// Spill: evict the active interval with the furthest end if it
		// outlives cur and its register isn't pinned by a fixed-register
		// sequence somewhere inside cur's span; else spill cur itself.
		if len(active) > 0 {
			furthest := active[len(active)-1]
			if furthest.end > cur.end && !overlapsReserved(furthest.physIndex, cur.start, cur.end, reserved) {
				cur.physIndex = furthest.physIndex
				furthest.spill = true
				active = active[:len(active)-1]
				active = append(active, cur)
				sort.Slice(active, func(i, j int) bool { return active[i].end < active[j].end })
				continue
			}
		}
		cur.spill = true
	}
}

func assign(fn *mir.Function, ivs []*interval) {
	for _, iv := range ivs {
		if iv.spill {
			// types.Int64: every spill slot is one 64-bit word regardless
			// of class (an XMM spill only ever holds an F64 in this
			// allocator, same width).
			obj := fn.NewFrameObject(mir.LocalSlot, types.Int64)
			iv.spillSlot = obj.Index
			continue
		}
		info := fn.Info(iv.reg)
		if info != nil {
			info.Assigned = true
			info.AssignedIndex = iv.physIndex
		}
	}
}
