// Package licm hoists loop-invariant pure computations out of natural
// loops into a freshly inserted pre-header block, one instruction at
// a time until a full scan over the loop body finds nothing left to
// move.
package licm

import (
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
	"github.com/vellumlang/vellum/pkg/ir/looptree"
)

// Run hoists invariant instructions out of every natural loop in fn.
// Loops are processed once each, in the order looptree.Find returns
// them; a pre-header inserted here is not part of any loop's block
// set, so code hoisted into it is not moved again by a later loop.
func Run(fn *ir.Function, dom *domtree.Tree) {
	loops := looptree.Find(fn, dom)
	for _, lp := range loops {
		preheader := ensurePreheader(fn, dom, lp)
		hoistInvariants(fn, lp, preheader)
	}
}

// ensurePreheader inserts a block immediately before the loop header
// and redirects every predecessor of the header that is not itself
// part of the loop (i.e. every entry edge, not the back-edge) to target
// it instead.
func ensurePreheader(fn *ir.Function, dom *domtree.Tree, lp *looptree.Loop) *ir.BasicBlock {
	header := fn.Block(lp.Header)
	pre := fn.InsertBlockBefore(lp.Header)

	for _, p := range append([]ir.BlockId(nil), header.Preds...) {
		if lp.Contains(p) {
			continue // back-edge: leave pointing at the header
		}
		pb := fn.Block(p)
		term := pb.Terminator(fn)
		if term == nil {
			continue
		}
		for i, o := range term.Operands {
			if o.Kind == ir.OperBlock && o.Block == lp.Header {
				term.Operands[i].Block = pre.Id
			}
		}
		fn.RemoveEdge(p, lp.Header)
		fn.AddEdge(p, pre.Id)
	}
	b := ir.NewBuilder(nil, fn, pre)
	b.Br(header)
	return pre
}

// hoistInvariants repeatedly scans the loop body for pure instructions
// whose operands are all either constants or defined outside the loop
// (including, transitively, instructions already hoisted this pass),
// moving each one found to the end of the preheader (before its
// terminator) until a full scan finds nothing left to move.
func hoistInvariants(fn *ir.Function, lp *looptree.Loop, preheader *ir.BasicBlock) {
	hoisted := map[ir.InstId]bool{}
	for {
		moved := false
		for bb := range lp.Blocks {
			if bb == preheader.Id {
				continue
			}
			blk := fn.Block(bb)
			for _, iid := range append([]ir.InstId(nil), blk.Instrs...) {
				inst := fn.Instr(iid)
				if inst.Dead || hoisted[iid] || inst.Opcode.HasSideEffects() || inst.Opcode.IsTerminator() || inst.Opcode == ir.OpPhi || inst.Opcode == ir.OpAlloca {
					continue
				}
				if !invariantOperands(fn, lp, inst, hoisted) {
					continue
				}
				moveToPreheader(fn, preheader, blk, inst)
				hoisted[iid] = true
				moved = true
			}
		}
		if !moved {
			break
		}
	}
}

func invariantOperands(fn *ir.Function, lp *looptree.Loop, inst *ir.Instruction, hoisted map[ir.InstId]bool) bool {
	for _, v := range inst.ValueOperands() {
		if v.Kind != ir.VInstruction {
			continue // immediates are always invariant
		}
		def := fn.Instr(v.Inst)
		if def == nil {
			continue
		}
		if lp.Contains(def.Block) && !hoisted[def.Id] {
			return false
		}
	}
	return true
}

func moveToPreheader(fn *ir.Function, preheader, from *ir.BasicBlock, inst *ir.Instruction) {
	from.Instrs = removeInst(from.Instrs, inst.Id)
	term := preheader.Terminator(fn)
	if term == nil {
		preheader.Instrs = append(preheader.Instrs, inst.Id)
	} else {
		idx := len(preheader.Instrs) - 1
		preheader.Instrs = append(preheader.Instrs, 0)
		copy(preheader.Instrs[idx+1:], preheader.Instrs[idx:])
		preheader.Instrs[idx] = inst.Id
	}
	inst.Block = preheader.Id
}

func removeInst(xs []ir.InstId, x ir.InstId) []ir.InstId {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
