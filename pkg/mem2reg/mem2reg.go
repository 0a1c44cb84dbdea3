// Package mem2reg promotes alloca of atomic types to SSA values:
// two direct cases tried in order per alloca, falling back to the
// general dominance-frontier phi-insertion construction. An alloca is
// left in place when its element type is not scalar or when anything
// other than a plain load or store uses it. The general case always
// promotes: a load that no store reaches reads the zero value of the
// element type, and the alloca is removed.
package mem2reg

import (
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
	"github.com/vellumlang/vellum/pkg/types"
)

// Run promotes every eligible alloca in fn. Idempotent: running it
// twice is a no-op the second time, since no promotable allocas
// remain.
func Run(fn *ir.Function, tbl *types.Table) {
	dom := domtree.Build(fn)
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		for _, iid := range append([]ir.InstId(nil), b.Instrs...) {
			inst := fn.Instr(iid)
			if inst.Dead || inst.Opcode != ir.OpAlloca {
				continue
			}
			promoteAlloca(fn, tbl, dom, inst)
		}
	}
}

type use struct {
	inst ir.InstId
	kind uint8 // 0 = load, 1 = store
	val  ir.Value
	blk  ir.BlockId
	pos  int
}

func promoteAlloca(fn *ir.Function, tbl *types.Table, dom *domtree.Tree, alloca *ir.Instruction) {
	elemTy := alloca.Operands[0].Type
	if !tbl.IsScalar(elemTy) {
		return
	}
	allocaVal := alloca.AsValue()

	var uses []use
	ok := true
	for uid := range alloca.Users {
		inst := fn.Instr(uid)
		pos := positionInBlock(fn, inst)
		switch inst.Opcode {
		case ir.OpLoad:
			if len(inst.Operands) != 1 || inst.Operands[0].Value != allocaVal {
				ok = false
				continue
			}
			uses = append(uses, use{inst: uid, kind: 0, blk: inst.Block, pos: pos})
		case ir.OpStore:
			if len(inst.Operands) != 2 || inst.Operands[1].Value != allocaVal {
				ok = false
				continue
			}
			uses = append(uses, use{inst: uid, kind: 1, val: inst.Operands[0].Value, blk: inst.Block, pos: pos})
		default:
			ok = false // e.g. used by a gep: not a simple scalar local, leave in place
		}
	}
	if !ok {
		return
	}

	if tryCase1(fn, dom, alloca, uses) {
		removePromoted(fn, alloca, uses)
		return
	}
	if tryCase2(fn, alloca, uses) {
		removePromoted(fn, alloca, uses)
		return
	}
	if tryGeneralCase(fn, tbl, dom, alloca, uses) {
		removePromoted(fn, alloca, uses)
	}
}

func positionInBlock(fn *ir.Function, inst *ir.Instruction) int {
	b := fn.Block(inst.Block)
	for i, iid := range b.Instrs {
		if iid == inst.Id {
			return i
		}
	}
	return -1
}

// tryCase1: exactly one store, and it dominates every load.
func tryCase1(fn *ir.Function, dom *domtree.Tree, alloca *ir.Instruction, uses []use) bool {
	var store *use
	for i := range uses {
		if uses[i].kind == 1 {
			if store != nil {
				return false
			}
			store = &uses[i]
		}
	}
	if store == nil {
		return false
	}
	for _, u := range uses {
		if u.kind != 0 {
			continue
		}
		if !storeDominatesLoad(dom, *store, u) {
			return false
		}
	}
	for _, u := range uses {
		if u.kind == 0 {
			fn.ReplaceAllUses(fn.Instr(u.inst).AsValue(), store.val)
		}
	}
	return true
}

func storeDominatesLoad(dom *domtree.Tree, store, load use) bool {
	if store.blk == load.blk {
		return store.pos < load.pos
	}
	return dom.Dominates(store.blk, load.blk)
}

// tryCase2: all uses in one block; each load resolves to the nearest
// preceding store.
func tryCase2(fn *ir.Function, alloca *ir.Instruction, uses []use) bool {
	if len(uses) == 0 {
		return false
	}
	blk := uses[0].blk
	for _, u := range uses {
		if u.blk != blk {
			return false
		}
	}
	sorted := append([]use(nil), uses...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].pos < sorted[j-1].pos; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	for _, u := range sorted {
		if u.kind != 0 {
			continue
		}
		var cur *use
		for i := range sorted {
			if sorted[i].kind == 1 && sorted[i].pos < u.pos {
				cur = &sorted[i]
			}
		}
		if cur == nil {
			return false // load not dominated by a store: silent failure
		}
		fn.ReplaceAllUses(fn.Instr(u.inst).AsValue(), cur.val)
	}
	return true
}

// tryGeneralCase implements the full dominance-frontier SSA
// construction: insert phis at the iterated dominance frontier of the
// store blocks, then rename in dominator-tree preorder, threading the
// current value down the tree and filling in phi incoming operands
// from each predecessor's end-of-block value.
func tryGeneralCase(fn *ir.Function, tbl *types.Table, dom *domtree.Tree, alloca *ir.Instruction, uses []use) bool {
	elemTy := alloca.Operands[0].Type

	defBlocks := map[ir.BlockId]bool{}
	for _, u := range uses {
		if u.kind == 1 {
			defBlocks[u.blk] = true
		}
	}

	phiAt := map[ir.BlockId]ir.Value{}
	worklist := make([]ir.BlockId, 0, len(defBlocks))
	for b := range defBlocks {
		worklist = append(worklist, b)
	}
	hasPhi := map[ir.BlockId]bool{}
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, d := range dom.DominanceFrontier(b) {
			if hasPhi[d] {
				continue
			}
			hasPhi[d] = true
			dest := fn.Block(d)
			phiInst := fn.AllocInst(ir.OpPhi, nil, elemTy)
			phiInst.Block = d
			dest.Instrs = append([]ir.InstId{phiInst.Id}, dest.Instrs...)
			phiAt[d] = phiInst.AsValue()
			if !defBlocks[d] {
				defBlocks[d] = true
				worklist = append(worklist, d)
			}
		}
	}

	// Rename in dominator-tree preorder: a load with no reaching store
	// anywhere (not even a phi) resolves to a zero value, matching a
	// read of an uninitialized local.
	curDef := map[ir.BlockId]ir.Value{}
	zero := zeroValue(tbl, elemTy)
	order := fn.Order()
	preorder := domPreorder(fn, dom, order)

	for _, b := range preorder {
		blk := fn.Block(b)
		var cur ir.Value
		if pv, has := phiAt[b]; has {
			cur = pv
		} else if b == order[0] {
			cur = zero
		} else {
			idom := dom.Idom(b)
			if v, has := curDef[idom]; has {
				cur = v
			} else {
				cur = zero
			}
		}
		for _, iid := range blk.Instrs {
			inst := fn.Instr(iid)
			if inst.Opcode == ir.OpLoad && instUsesAlloca(inst, alloca) {
				fn.ReplaceAllUses(inst.AsValue(), cur)
			} else if inst.Opcode == ir.OpStore && len(inst.Operands) == 2 && inst.Operands[1].Value == alloca.AsValue() {
				cur = inst.Operands[0].Value
			}
		}
		curDef[b] = cur
	}

	for b, pv := range phiAt {
		dest := fn.Block(b)
		for _, p := range dest.Preds {
			if v, has := curDef[p]; has {
				fn.Instr(pv.Inst).PhiIncoming = append(fn.Instr(pv.Inst).PhiIncoming, ir.PhiEdge{Value: v, Block: p})
				if v.Kind == ir.VInstruction {
					if def := fn.Instr(v.Inst); def != nil {
						def.Users[pv.Inst] = true
					}
				}
			}
		}
	}
	return true
}

func instUsesAlloca(inst *ir.Instruction, alloca *ir.Instruction) bool {
	return len(inst.Operands) == 1 && inst.Operands[0].Value == alloca.AsValue()
}

func domPreorder(fn *ir.Function, dom *domtree.Tree, order []ir.BlockId) []ir.BlockId {
	children := map[ir.BlockId][]ir.BlockId{}
	var roots []ir.BlockId
	for i, b := range order {
		if i == 0 {
			roots = append(roots, b)
			continue
		}
		idom := dom.Idom(b)
		children[idom] = append(children[idom], b)
	}
	var out []ir.BlockId
	var visit func(ir.BlockId)
	visit = func(b ir.BlockId) {
		out = append(out, b)
		for _, c := range children[b] {
			if c != b {
				visit(c)
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return out
}

func zeroValue(tbl *types.Table, ty types.Id) ir.Value {
	if tbl.IsFloat(ty) {
		return ir.ImmF64(0)
	}
	if ty == types.Int64 {
		return ir.ImmInt64(0)
	}
	return ir.ImmInt32(0)
}

func removePromoted(fn *ir.Function, alloca *ir.Instruction, uses []use) {
	for _, u := range uses {
		fn.RemoveInstr(u.inst)
	}
	fn.RemoveInstr(alloca.Id)
}
