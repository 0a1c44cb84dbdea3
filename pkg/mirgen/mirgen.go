// Package mirgen lowers a selected DAG (pkg/dag after pkg/isel has
// rewritten every IR-kind node into a target-kind node) into pkg/mir:
// a frame-planning prepass assigns every surviving alloca a frame
// object before DAG construction, then each block's chain is walked
// and every target node becomes one machine instruction, recursively
// materialising its not-yet-emitted operands first so pure
// subexpressions are emitted in a valid topological order while
// chain-order still governs every side-effecting op.
package mirgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vellumlang/vellum/pkg/dag"
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/isel"
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/types"
	"github.com/vellumlang/vellum/pkg/vellumerr"
)

// PlanFrame allocates one frame object per surviving alloca (most are
// promoted away by pkg/mem2reg before this pass ever runs), returning
// the instruction-id -> frame-index map pkg/isel needs to rewrite
// OpAlloca into FRAMEADDR.
func PlanFrame(mfn *mir.Function, fn *ir.Function, tbl *types.Table) map[ir.InstId]int {
	frameOf := map[ir.InstId]int{}
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			if inst.Dead || inst.Opcode != ir.OpAlloca {
				continue
			}
			elemTy := inst.Operands[0].Type
			obj := mfn.NewFrameObject(mir.LocalSlot, elemTy)
			frameOf[iid] = obj.Index
		}
	}
	return frameOf
}

// Lower runs DAG construction, instruction selection, and MIR emission
// for one function.
func Lower(fn *ir.Function, mod *ir.Module, tgt target.Target, patterns isel.Table) (*mir.Function, error) {
	mfn := mir.NewFunction(fn.Name, fn.Ty)
	if fn.External() {
		mfn.External = true
		return mfn, nil
	}

	frameOf := PlanFrame(mfn, fn, mod.Types)
	fd := dag.Build(fn, mod.Types)
	dag.Combine(fd)

	ctx := &isel.Context{Target: tgt, Types: mod.Types, FrameOf: frameOf, Patterns: patterns}
	if err := isel.Select(fd, ctx); err != nil {
		return nil, err
	}

	l := &lowering{fn: fn, mod: mod, mfn: mfn, fd: fd, tgt: tgt, tbl: mod.Types,
		vrMap: map[ir.InstId]mir.RegId{}, argMap: map[int]mir.RegId{},
		blockMap: map[ir.BlockId]mir.BlockId{}}

	for _, bid := range fn.Order() {
		l.blockMap[bid] = mfn.NewBlock().Id
	}
	for _, bid := range fn.Order() {
		for _, s := range fn.Block(bid).Succs {
			mfn.AddEdge(l.blockMap[bid], l.blockMap[s])
		}
	}

	if err := l.lowerEntryParams(); err != nil {
		return nil, err
	}

	for _, bid := range fn.Order() {
		l.block = mfn.Block(l.blockMap[bid])
		l.g = fd.Graphs[bid]
		l.emitted = map[dag.NodeId]mir.RegId{}
		for _, nid := range l.g.Chain {
			if err := l.emitChain(nid); err != nil {
				return nil, err
			}
		}
	}
	if err := l.resolvePhis(); err != nil {
		return nil, err
	}
	return mfn, nil
}

// pendingPhi is a PHI machine instruction emitted with its operand
// list still empty: a loop-carried incoming value lives in a block
// lowered after the phi's own, so incoming operands can only be
// resolved once every block has been walked.
type pendingPhi struct {
	inst  *mir.Instruction
	pairs []pendingPhiPair
}

type pendingPhiPair struct {
	val  *dag.Node
	pred ir.BlockId
}

type lowering struct {
	fn  *ir.Function
	mod *ir.Module
	mfn *mir.Function
	fd  *dag.FunctionDAG
	tgt target.Target
	tbl *types.Table

	blockMap map[ir.BlockId]mir.BlockId
	vrMap    map[ir.InstId]mir.RegId // cross-block "vrN" values already defined
	argMap   map[int]mir.RegId

	block   *mir.BasicBlock
	g       *dag.Graph
	emitted map[dag.NodeId]mir.RegId

	pending []pendingPhi
}

// lowerEntryParams copies each incoming argument out of its ABI
// register into a fresh virtual register at function entry.
func (l *lowering) lowerEntryParams() error {
	params, err := l.tbl.Params(l.fn.Ty)
	if err != nil {
		return err
	}
	entry := l.mfn.Block(l.blockMap[l.fn.Order()[0]])
	classes := l.tgt.RegClasses()
	counters := map[string]int{}
	for i, pty := range params {
		class := l.tgt.ClassOf(pty, l.tbl)
		idx := counters[class]
		counters[class]++
		order := classes[class].ArgOrder
		if idx >= len(order) {
			return fmt.Errorf("argument %d of %s: more than %d %s arguments not supported: %w",
				i, l.fn.Name, len(order), class, vellumerr.ErrInvariantViolation)
		}
		phys := mir.RegId{Class: class, Index: order[idx]}
		v := l.mfn.NewVirtualReg(class)
		l.mfn.Emit(entry, "Copy", []mir.Operand{mir.RegOperand(phys)}, []mir.Operand{mir.RegOperand(v)}, nil, nil, nil)
		l.argMap[i] = v
	}
	return nil
}

// emitChain lowers one chain node: control-flow, phi, and call nodes
// get dedicated handling; everything else is a value forced through
// emitValue for its side effect.
func (l *lowering) emitChain(nid dag.NodeId) error {
	n := l.g.Nodes[nid]
	if n.Kind == dag.KindEntry {
		return nil
	}
	if n.Kind == dag.KindIR {
		switch n.IROp {
		case ir.OpBr:
			return l.lowerBr(n)
		case ir.OpCondBr:
			return l.lowerCondBr(n)
		case ir.OpRet:
			return l.lowerRet(n)
		case ir.OpCall:
			_, err := l.lowerCall(n)
			return err
		case ir.OpPhi:
			return l.lowerPhi(n)
		}
	}
	_, err := l.emitValue(nid)
	return err
}

// emitValue lowers nid into a register holding its value, memoising
// within the current block and recursing into not-yet-emitted
// operands first (post-order).
func (l *lowering) emitValue(nid dag.NodeId) (mir.RegId, error) {
	if r, ok := l.emitted[nid]; ok {
		return r, nil
	}
	n := l.g.Nodes[nid]
	switch n.Kind {
	case dag.KindLeaf:
		return l.emitLeaf(nid, n)
	case dag.KindTarget:
		return l.emitTarget(nid, n)
	}
	return mir.RegId{}, fmt.Errorf("node %d not selected before MIR lowering: %w", nid, vellumerr.ErrInvariantViolation)
}

func (l *lowering) emitLeaf(nid dag.NodeId, n *dag.Node) (mir.RegId, error) {
	switch n.Leaf {
	case dag.LeafConstant:
		r, err := l.materializeConst(n)
		if err == nil {
			l.emitted[nid] = r
		}
		return r, err
	case dag.LeafRegister:
		if strings.HasPrefix(n.Reg, "arg") {
			idx, _ := strconv.Atoi(strings.TrimPrefix(n.Reg, "arg"))
			r, ok := l.argMap[idx]
			if !ok {
				return mir.RegId{}, fmt.Errorf("argument %d used before entry lowering: %w", idx, vellumerr.ErrInvariantViolation)
			}
			l.emitted[nid] = r
			return r, nil
		}
		if strings.HasPrefix(n.Reg, "vr") {
			idNum, _ := strconv.Atoi(strings.TrimPrefix(n.Reg, "vr"))
			r, ok := l.vrMap[ir.InstId(idNum)]
			if !ok {
				return mir.RegId{}, fmt.Errorf("use of vr%d before its definition: %w", idNum, vellumerr.ErrInvariantViolation)
			}
			l.emitted[nid] = r
			return r, nil
		}
		return mir.RegId{}, fmt.Errorf("unrecognised register leaf %q: %w", n.Reg, vellumerr.ErrInvariantViolation)
	}
	return mir.RegId{}, fmt.Errorf("leaf kind %d is not a value-producing operand: %w", n.Leaf, vellumerr.ErrInvariantViolation)
}

// materializeConst loads an immediate into a fresh register: integers
// via the target's immediate-move opcode, floats via the function's
// constant pool (neither x86-64 nor RISC-V can move a float immediate
// directly into an FP register).
func (l *lowering) materializeConst(n *dag.Node) (mir.RegId, error) {
	class := l.tgt.ClassOf(n.Ty, l.tbl)
	if l.tbl.IsFloat(n.Ty) {
		idx := l.mfn.NewConstant(n.ImmF)
		v := l.mfn.NewVirtualReg(class)
		l.mfn.Emit(l.block, l.tgt.FloatLoadOpcode(), []mir.Operand{mir.ConstPoolOperand(idx)}, []mir.Operand{mir.RegOperand(v)}, nil, nil, nil)
		return v, nil
	}
	v := l.mfn.NewVirtualReg(class)
	l.mfn.Emit(l.block, l.tgt.IntImmOpcode(class), []mir.Operand{mir.ImmOperand(n.ImmI)}, []mir.Operand{mir.RegOperand(v)}, nil, nil, nil)
	return v, nil
}

// emitTarget lowers one already-selected node into its machine
// instruction, recursing into operand subnodes first.
func (l *lowering) emitTarget(nid dag.NodeId, n *dag.Node) (mir.RegId, error) {
	if n.TargetOp == "FRAMEADDR" {
		class := l.tgt.ABI().IntArgClass
		v := l.mfn.NewVirtualReg(class)
		l.mfn.Emit(l.block, "FRAMEADDR", []mir.Operand{mir.FrameIndexOperand(n.Frame)}, []mir.Operand{mir.RegOperand(v)}, nil, nil, nil)
		l.emitted[nid] = v
		l.recordCrossBlock(n, v)
		return v, nil
	}
	if def, ok := l.tgt.DivRemOpcode(n.TargetOp); ok {
		return l.emitDivRem(nid, n, def)
	}

	opdef, ok := l.tgt.Opcodes()[n.TargetOp]
	if !ok {
		return mir.RegId{}, fmt.Errorf("unknown target opcode %q: %w", n.TargetOp, vellumerr.ErrInvariantViolation)
	}

	// Condition-kind leaves (icmp/fcmp's first DAG operand) are not
	// real machine operands: they are consumed only by the Jcc that
	// lowerCondBr emits after this compare, so skip them when zipping
	// n.Operands against opdef.Operands.
	operandIds := make([]dag.NodeId, 0, len(n.Operands))
	for _, oid := range n.Operands {
		on := l.g.Nodes[oid]
		if on.Kind == dag.KindLeaf && (on.Leaf == dag.LeafCondI || on.Leaf == dag.LeafCondF) {
			continue
		}
		operandIds = append(operandIds, oid)
	}

	memIdx := -1
	for i, slot := range opdef.Operands {
		if slot.Kind == target.SlotMem {
			memIdx = i
		}
	}

	var operands []mir.Operand
	for i, slot := range opdef.Operands {
		if i >= len(operandIds) {
			return mir.RegId{}, fmt.Errorf("opcode %s expects %d operands, node has %d: %w",
				n.TargetOp, len(opdef.Operands), len(operandIds), vellumerr.ErrInvariantViolation)
		}
		if i == memIdx {
			mem, err := l.buildAddress(operandIds[i])
			if err != nil {
				return mir.RegId{}, err
			}
			operands = append(operands, mir.MemOperandOf(mem))
			continue
		}
		switch slot.Kind {
		case target.SlotReg:
			r, err := l.emitValue(operandIds[i])
			if err != nil {
				return mir.RegId{}, err
			}
			operands = append(operands, mir.RegOperand(r))
		case target.SlotImm:
			leaf := l.g.Nodes[operandIds[i]]
			operands = append(operands, mir.ImmOperand(leaf.ImmI))
		default:
			return mir.RegId{}, fmt.Errorf("opcode %s: unsupported operand slot kind: %w", n.TargetOp, vellumerr.ErrInvariantViolation)
		}
	}

	var defs []mir.Operand
	var firstDef mir.RegId
	for i, dslot := range opdef.Defs {
		d := l.mfn.NewVirtualReg(dslot.Class)
		if i == 0 {
			firstDef = d
		}
		defs = append(defs, mir.RegOperand(d))
	}

	l.mfn.Emit(l.block, n.TargetOp, operands, defs, opdef.ImplicitUse, opdef.ImplicitDef, opdef.Tied)
	if len(defs) > 0 {
		l.emitted[nid] = firstDef
		l.recordCrossBlock(n, firstDef)
	}
	return firstDef, nil
}

func (l *lowering) recordCrossBlock(n *dag.Node, r mir.RegId) {
	if n.HasSrc {
		l.vrMap[n.SrcInst] = r
	}
}

// buildAddress resolves a Load/Store address operand into a
// MemOperand. Because pkg/dag's buildGep already lowers struct/array
// indexing into explicit Add nodes, the only addressing-mode fusion
// performed here is folding a register-plus-constant Add directly into
// the memory operand's offset, rather than materialising a separate
// address-compute instruction before every load and store.
func (l *lowering) buildAddress(nid dag.NodeId) (mir.MemOperand, error) {
	n := l.g.Nodes[nid]
	if n.Kind == dag.KindTarget && l.tgt.IsAddImmOpcode(n.TargetOp) {
		base, err := l.emitValue(n.Operands[0])
		if err != nil {
			return mir.MemOperand{}, err
		}
		off := l.g.Nodes[n.Operands[1]]
		return mir.MemOperand{Base: base, HasBase: true, Offset: off.ImmI}, nil
	}
	r, err := l.emitValue(nid)
	if err != nil {
		return mir.MemOperand{}, err
	}
	return mir.MemOperand{Base: r, HasBase: true}, nil
}

// emitDivRem implements x86-64's rdx:rax division protocol: dividend
// copied to the fixed RAX-class register, sign-extended into RDX by
// the target's extend opcode, then IDIV, then the quotient or
// remainder copied out of its fixed register into a fresh virtual
// register. RISC-V's DIV/REM never reach here (they are ordinary
// three-address opcodes with no DivRemOpcode entry).
func (l *lowering) emitDivRem(nid dag.NodeId, n *dag.Node, def target.DivRemDef) (mir.RegId, error) {
	lhs, err := l.emitValue(n.Operands[0])
	if err != nil {
		return mir.RegId{}, err
	}
	rhs, err := l.emitValue(n.Operands[1])
	if err != nil {
		return mir.RegId{}, err
	}
	class := def.Class
	dividendReg := mir.RegId{Class: class, Index: def.Dividend}
	l.mfn.Emit(l.block, "Copy", []mir.Operand{mir.RegOperand(lhs)}, []mir.Operand{mir.RegOperand(dividendReg)}, nil, nil, nil)
	l.mfn.Emit(l.block, def.ExtendOpcode, nil, nil,
		[]mir.RegId{dividendReg}, []mir.RegId{{Class: class, Index: def.Remainder}}, nil)
	l.mfn.Emit(l.block, n.TargetOp, []mir.Operand{mir.RegOperand(rhs)}, nil,
		[]mir.RegId{dividendReg, {Class: class, Index: def.Remainder}},
		[]mir.RegId{dividendReg, {Class: class, Index: def.Remainder}}, nil)
	resultIdx := def.Dividend
	if n.IROp == ir.OpRem {
		resultIdx = def.Remainder
	}
	out := l.mfn.NewVirtualReg(class)
	l.mfn.Emit(l.block, "Copy", []mir.Operand{mir.RegOperand(mir.RegId{Class: class, Index: resultIdx})}, []mir.Operand{mir.RegOperand(out)}, nil, nil, nil)
	l.emitted[nid] = out
	l.recordCrossBlock(n, out)
	return out, nil
}

func (l *lowering) lowerBr(n *dag.Node) error {
	target := l.g.Nodes[n.Operands[0]]
	l.mfn.Emit(l.block, l.tgt.JumpOpcode(), []mir.Operand{mir.BlockOperand(l.blockMap[target.Block])}, nil, nil, nil, nil)
	return nil
}

// lowerCondBr recognises the compare feeding this branch (the DAG
// node of n.Operands[0], already selected to a CMP/UCOMISD/SLT-family
// target opcode) and emits it followed by the target's conditional
// jump; the compare and branch stay fused without needing a
// dedicated DAG node kind for the pair. Two shapes exist: a
// flags-based compare (x86-64's CMP/UCOMISD define no register; the
// following Jcc carries the condition code) and a register-based
// compare (RISC-V's SLT/FLT.D define a 0/1 result; the following
// branch just tests that register), distinguished here purely by
// whether the compare opcode's definition has a Defs slot.
func (l *lowering) lowerCondBr(n *dag.Node) error {
	condNode := l.g.Nodes[n.Operands[0]]
	trueBlock := l.blockMap[l.g.Nodes[n.Operands[1]].Block]
	falseBlock := l.blockMap[l.g.Nodes[n.Operands[2]].Block]

	if condNode.Kind != dag.KindTarget {
		return fmt.Errorf("condition operand of CondBr was not selected: %w", vellumerr.ErrInvariantViolation)
	}
	opdef, ok := l.tgt.Opcodes()[condNode.TargetOp]
	if !ok {
		return fmt.Errorf("unknown compare opcode %q: %w", condNode.TargetOp, vellumerr.ErrInvariantViolation)
	}

	if len(opdef.Defs) > 0 {
		result, err := l.emitTarget(condNode.Id, condNode)
		if err != nil {
			return err
		}
		l.mfn.Emit(l.block, l.tgt.CondJumpOpcode(),
			[]mir.Operand{mir.RegOperand(result), mir.BlockOperand(trueBlock), mir.BlockOperand(falseBlock)},
			nil, nil, nil, nil)
		l.mfn.Emit(l.block, l.tgt.JumpOpcode(), []mir.Operand{mir.BlockOperand(falseBlock)}, nil, nil, nil, nil)
		return nil
	}

	if _, err := l.emitTarget(condNode.Id, condNode); err != nil {
		return err
	}
	condLeaf := l.g.Nodes[condNode.Operands[0]]
	condKind, condCode := mir.OperCondI, int(condLeaf.CondI)
	if condLeaf.Leaf == dag.LeafCondF {
		condKind, condCode = mir.OperCondF, int(condLeaf.CondF)
	}
	cond := mir.Operand{Kind: condKind}
	if condKind == mir.OperCondF {
		cond.CondF = condCode
	} else {
		cond.CondI = condCode
	}
	l.mfn.Emit(l.block, l.tgt.CondJumpOpcode(),
		[]mir.Operand{cond, mir.BlockOperand(trueBlock), mir.BlockOperand(falseBlock)},
		nil, nil, nil, nil)
	// Only the taken edge is encoded in the conditional jump; the fall
	// through to the false block must be an explicit jump until branch
	// folding proves the false block physically follows.
	l.mfn.Emit(l.block, l.tgt.JumpOpcode(), []mir.Operand{mir.BlockOperand(falseBlock)}, nil, nil, nil, nil)
	return nil
}

func (l *lowering) lowerRet(n *dag.Node) error {
	if len(n.Operands) == 0 {
		l.mfn.Emit(l.block, l.tgt.RetOpcode(), nil, nil, nil, nil, nil)
		return nil
	}
	v, err := l.emitValue(n.Operands[0])
	if err != nil {
		return err
	}
	class := l.tgt.ClassOf(l.retTy(), l.tbl)
	returnReg := mir.RegId{Class: class, Index: l.tgt.RegClasses()[class].ReturnReg}
	l.mfn.Emit(l.block, "Copy", []mir.Operand{mir.RegOperand(v)}, []mir.Operand{mir.RegOperand(returnReg)}, nil, nil, nil)
	l.mfn.Emit(l.block, l.tgt.RetOpcode(), nil, nil, []mir.RegId{returnReg}, nil, nil)
	return nil
}

func (l *lowering) retTy() types.Id {
	retTy, _ := l.tbl.Return(l.fn.Ty)
	return retTy
}

// lowerCall materialises the ABI call sequence: classify each
// argument into the next free register of its class (arguments beyond
// the register file are rejected with an error; both ABIs pass 6-8
// per class in registers and the front end never produces more),
// emit a CALL that names the callee and takes every argument register
// as an implicit use, and copy the result out of the return register.
// The allocator's
// preserve-across-call scan, not implicit defs, is what protects
// values live across the call; see pkg/regalloc.
func (l *lowering) lowerCall(n *dag.Node) (mir.RegId, error) {
	calleeLeaf := l.g.Nodes[n.Operands[0]]
	calleeName := "?"
	if calleeLeaf.HasFuncRef {
		if fn := l.mod.Function(calleeLeaf.FuncRef); fn != nil {
			calleeName = fn.Name
		}
	}

	classes := l.tgt.RegClasses()
	counters := map[string]int{}
	var implicitUse []mir.RegId
	for _, argId := range n.Operands[1:] {
		argNode := l.g.Nodes[argId]
		class := l.tgt.ClassOf(argNode.Ty, l.tbl)
		idx := counters[class]
		counters[class]++
		order := classes[class].ArgOrder
		if idx >= len(order) {
			return mir.RegId{}, fmt.Errorf("call to %s: more than %d %s arguments not supported: %w",
				calleeName, len(order), class, vellumerr.ErrInvariantViolation)
		}
		v, err := l.emitValue(argId)
		if err != nil {
			return mir.RegId{}, err
		}
		phys := mir.RegId{Class: class, Index: order[idx]}
		l.mfn.Emit(l.block, "Copy", []mir.Operand{mir.RegOperand(v)}, []mir.Operand{mir.RegOperand(phys)}, nil, nil, nil)
		implicitUse = append(implicitUse, phys)
	}

	l.mfn.Emit(l.block, l.tgt.CallOpcode(), []mir.Operand{mir.AddressOperand(calleeName)}, nil, implicitUse, nil, nil)

	if n.Ty == types.Void {
		return mir.RegId{}, nil
	}
	class := l.tgt.ClassOf(n.Ty, l.tbl)
	retPhys := mir.RegId{Class: class, Index: classes[class].ReturnReg}
	out := l.mfn.NewVirtualReg(class)
	l.mfn.Emit(l.block, "Copy", []mir.Operand{mir.RegOperand(retPhys)}, []mir.Operand{mir.RegOperand(out)}, nil, nil, nil)
	l.emitted[n.Id] = out
	l.recordCrossBlock(n, out)
	return out, nil
}

// lowerPhi emits a PHI pseudo-instruction in its block with an empty
// operand list: regalloc's phi-elimination pass, not this one, turns
// it into copies at the end of each predecessor. Incoming operands
// are filled in by resolvePhis
// once every block has been lowered, since a loop-carried value is
// defined in a block that comes after this one.
func (l *lowering) lowerPhi(n *dag.Node) error {
	class := l.tgt.ClassOf(n.Ty, l.tbl)
	dest := l.mfn.NewVirtualReg(class)
	inst := l.mfn.Emit(l.block, "PHI", nil, []mir.Operand{mir.RegOperand(dest)}, nil, nil, nil)

	rec := pendingPhi{inst: inst}
	for i := 0; i+1 < len(n.PhiPairs); i += 2 {
		valId, blockId := n.PhiPairs[i], n.PhiPairs[i+1]
		rec.pairs = append(rec.pairs, pendingPhiPair{val: l.g.Nodes[valId], pred: l.g.Nodes[blockId].Block})
	}
	l.pending = append(l.pending, rec)
	l.emitted[n.Id] = dest
	l.recordCrossBlock(n, dest)
	return nil
}

// resolvePhis fills in every pending PHI's operand list now that the
// whole function's cross-block registers are known.
func (l *lowering) resolvePhis() error {
	for _, rec := range l.pending {
		var operands []mir.Operand
		for _, p := range rec.pairs {
			v, err := l.phiIncomingOperand(p.val)
			if err != nil {
				return err
			}
			operands = append(operands, v, mir.BlockOperand(l.blockMap[p.pred]))
		}
		l.mfn.PatchOperands(rec.inst, operands)
	}
	return nil
}

// phiIncomingOperand resolves a phi incoming value built against its
// predecessor's DAG: a constant stays an immediate (materialised by
// phi elimination), everything else must by now name a known argument
// or cross-block register.
func (l *lowering) phiIncomingOperand(n *dag.Node) (mir.Operand, error) {
	switch n.Leaf {
	case dag.LeafConstant:
		if l.tbl.IsFloat(n.Ty) {
			return mir.ImmFOperand(n.ImmF), nil
		}
		return mir.ImmOperand(n.ImmI), nil
	case dag.LeafRegister:
		if strings.HasPrefix(n.Reg, "arg") {
			idx, _ := strconv.Atoi(strings.TrimPrefix(n.Reg, "arg"))
			return mir.RegOperand(l.argMap[idx]), nil
		}
		idNum, _ := strconv.Atoi(strings.TrimPrefix(n.Reg, "vr"))
		r, ok := l.vrMap[ir.InstId(idNum)]
		if !ok {
			return mir.Operand{}, fmt.Errorf("phi incoming value vr%d never defined: %w", idNum, vellumerr.ErrInvariantViolation)
		}
		return mir.RegOperand(r), nil
	}
	return mir.Operand{}, fmt.Errorf("unsupported phi incoming leaf kind %d: %w", n.Leaf, vellumerr.ErrInvariantViolation)
}
