package ir

import "github.com/vellumlang/vellum/pkg/types"

// GatherReturns rewrites a function with multiple ret instructions into
// a single exit block that all returns branch to, merging values with a
// phi. A no-op on functions that already have exactly one ret.
func GatherReturns(fn *Function) {
	var rets []InstId
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		term := b.Terminator(fn)
		if term != nil && term.Opcode == OpRet {
			rets = append(rets, term.Id)
		}
	}
	if len(rets) <= 1 {
		return
	}

	retTy := types.Void
	if len(fn.Instr(rets[0]).Operands) > 0 {
		retTy = fn.Instr(rets[0]).Operands[0].Value.Ty
	}

	exit := fn.NewBlock()
	b := NewBuilder(nil, fn, exit) // Module not needed: Phi/Ret don't touch Types
	var pairs []PhiEdge
	for _, rid := range rets {
		ret := fn.Instr(rid)
		pred := ret.Block
		if retTy != types.Void {
			pairs = append(pairs, PhiEdge{Value: ret.Operands[0].Value, Block: pred})
		}
		// redirect: replace the ret with a br to exit
		ret.Opcode = OpBr
		ret.Operands = []Operand{BlockOperand(exit.Id)}
		fn.AddEdge(pred, exit.Id)
	}
	if retTy != types.Void {
		merged := b.Phi(retTy, pairs)
		b.Ret(merged)
	} else {
		b.Ret(NoValue)
	}
}

// FoldBranches cleans up the IR CFG before instruction selection
// (unreachable blocks, single-predecessor merges, empty jump blocks)
// so DAG construction never has to build nodes for dead blocks.
func FoldBranches(fn *Function) {
	removeUnreachable(fn)
	simplifySingleIncomingPhis(fn)
	mergeSingletonSuccessors(fn)
	removeEmptyJumpBlocks(fn)
}

// simplifySingleIncomingPhis collapses a phi whose predecessor set has
// shrunk to one edge (an unreachable arm was just deleted) into its
// sole incoming value; left in place, a later block merge would carry
// the degenerate phi into its own predecessor.
func simplifySingleIncomingPhis(fn *Function) {
	for _, bid := range fn.Order() {
		for _, iid := range append([]InstId(nil), fn.Block(bid).Instrs...) {
			inst := fn.Instr(iid)
			if inst.Opcode != OpPhi || len(inst.PhiIncoming) != 1 {
				continue
			}
			fn.ReplaceAllUses(inst.AsValue(), inst.PhiIncoming[0].Value)
			fn.RemoveInstr(iid)
		}
	}
}

func removeUnreachable(fn *Function) {
	entry := fn.EntryBlock()
	if entry == nil {
		return
	}
	reachable := map[BlockId]bool{entry.Id: true}
	stack := []BlockId{entry.Id}
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range fn.Block(b).Succs {
			if !reachable[s] {
				reachable[s] = true
				stack = append(stack, s)
			}
		}
	}
	for _, bid := range append([]BlockId(nil), fn.Order()...) {
		if reachable[bid] {
			continue
		}
		fn.RemoveBlock(bid)
	}
}

func mergeSingletonSuccessors(fn *Function) {
	for {
		merged := false
		for _, bid := range append([]BlockId(nil), fn.Order()...) {
			blk := fn.Block(bid)
			if blk == nil || len(blk.Succs) != 1 {
				continue
			}
			succ := blk.Succs[0]
			if succ == bid || succ == fn.Order()[0] {
				continue
			}
			sb := fn.Block(succ)
			if len(sb.Preds) != 1 || sb.Preds[0] != bid {
				continue
			}
			term := blk.Terminator(fn)
			if term == nil || term.Opcode != OpBr {
				continue
			}
			fn.RemoveInstr(term.Id)
			fn.RemoveEdge(bid, succ)
			blk.Instrs = append(blk.Instrs, sb.Instrs...)
			for _, iid := range sb.Instrs {
				fn.Instr(iid).Block = bid
			}
			for _, s := range append([]BlockId(nil), sb.Succs...) {
				fn.RemoveEdge(succ, s)
				fn.AddEdge(bid, s)
				retargetPhiBlocks(fn, s, succ, bid)
			}
			sb.Instrs = nil
			fn.RemoveBlock(succ)
			merged = true
		}
		if !merged {
			break
		}
	}
}

// retargetPhiBlocks rewrites the incoming-block tag of every phi in
// block in from from to to, after the corresponding CFG edge moved.
func retargetPhiBlocks(fn *Function, in, from, to BlockId) {
	b := fn.Block(in)
	for _, iid := range b.Instrs {
		phi := fn.Instr(iid)
		if phi.Opcode != OpPhi {
			continue
		}
		for i, e := range phi.PhiIncoming {
			if e.Block == from {
				phi.PhiIncoming[i].Block = to
			}
		}
	}
}

func removeEmptyJumpBlocks(fn *Function) {
	for _, bid := range append([]BlockId(nil), fn.Order()...) {
		blk := fn.Block(bid)
		if blk == nil || bid == fn.Order()[0] {
			continue
		}
		if len(blk.Instrs) != 1 {
			continue
		}
		term := fn.Instr(blk.Instrs[0])
		if term.Opcode != OpBr {
			continue
		}
		target := term.Operands[0].Block
		if target == bid {
			continue
		}
		preds := append([]BlockId(nil), blk.Preds...)
		// A predecessor that already reaches target directly would end
		// up twice in target's predecessor list, and target's phis
		// could not tell the two edges apart; leave such blocks alone.
		tb := fn.Block(target)
		conflict := false
		for _, p := range preds {
			for _, tp := range tb.Preds {
				if tp == p {
					conflict = true
				}
			}
		}
		if conflict {
			continue
		}
		retargeted := true
		for _, p := range preds {
			pterm := fn.Block(p).Terminator(fn)
			if pterm == nil {
				retargeted = false
				continue
			}
			changed := false
			for i, o := range pterm.Operands {
				if o.Kind == OperBlock && o.Block == bid {
					pterm.Operands[i].Block = target
					changed = true
				}
			}
			if !changed {
				retargeted = false
				continue
			}
			fn.RemoveEdge(p, bid)
			fn.AddEdge(p, target)
		}
		if !retargeted || len(blk.Preds) > 0 {
			continue
		}
		redirectPhiIncoming(fn, target, bid, preds)
		fn.RemoveBlock(bid)
	}
}

// redirectPhiIncoming replaces each (value, from) pair of target's
// phis with one (value, p) pair per redirected predecessor p, so the
// phi keeps one entry per incoming edge after the jump block is gone.
func redirectPhiIncoming(fn *Function, target, from BlockId, preds []BlockId) {
	tb := fn.Block(target)
	for _, iid := range tb.Instrs {
		phi := fn.Instr(iid)
		if phi.Opcode != OpPhi {
			continue
		}
		var kept []PhiEdge
		for _, e := range phi.PhiIncoming {
			if e.Block != from {
				kept = append(kept, e)
				continue
			}
			for _, p := range preds {
				kept = append(kept, PhiEdge{Value: e.Value, Block: p})
			}
		}
		phi.PhiIncoming = kept
	}
}
