// Package dag builds, per function, a linked DAG of nodes carrying
// either IR opcodes or (after instruction selection) target opcodes.
// Nodes across a basic block are threaded by a "chain" (the Next
// field) preserving the program order of side-effecting operations;
// everything else is free to schedule among its operand dependencies.
package dag

import (
	"fmt"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/types"
)

// NodeKind tags the variant of a Node.
type NodeKind int

const (
	KindEntry NodeKind = iota
	KindIR             // carries an ir.Opcode, pre-isel
	KindTarget         // carries a target opcode name, post-isel
	KindLeaf
)

// LeafKind tags the operand-leaf variants of a Node.
type LeafKind int

const (
	LeafNone LeafKind = iota
	LeafConstant
	LeafFrameIndex
	LeafRegister // CopyFromReg of a cross-block virtual register
	LeafBlock
	LeafAddress
	LeafCondI
	LeafCondF
	LeafMem
)

// MemDesc encodes one addressing-mode shape: base, base+offset,
// base+frame-index(+offset), base+align*index.
type MemDesc struct {
	Base         NodeId
	HasBase      bool
	FrameIndex   int
	HasFrameIdx  bool
	Offset       int64
	Index        NodeId
	HasIndex     bool
	Scale        int64
}

// NodeId indexes into a Graph's node arena.
type NodeId int

// Node is one DAG node.
type Node struct {
	Id   NodeId
	Kind NodeKind

	IROp     ir.Opcode
	TargetOp string

	Leaf  LeafKind
	ImmI  int64
	ImmF  float64
	Frame int
	Reg   string
	Block ir.BlockId
	Addr  string
	CondI ir.ICmpKind
	CondF ir.FCmpKind
	Mem   *MemDesc

	// FuncRef/GlobRef identify the callee of a VFunction leaf or the
	// target of a VGlobal leaf; pkg/mirgen resolves these to link-time
	// symbol names (it, not this package, owns the Module).
	FuncRef    ir.FuncId
	HasFuncRef bool
	GlobRef    ir.GlobalId
	HasGlobRef bool

	Operands []NodeId
	PhiPairs []NodeId // alternating (value, block-leaf) pairs, for KindIR OpPhi

	Ty types.Id

	// SrcInst is the IR instruction this node was built from, if any;
	// used by MIR lowering to find the virtual-register name to define.
	SrcInst ir.InstId
	HasSrc  bool

	Next     NodeId // chain successor, 0 (Entry) if none
	HasNext  bool
	LiveOut  bool // true if this node's value crosses a block boundary
}

// Graph is the DAG for one basic block.
type Graph struct {
	Block ir.BlockId
	Entry NodeId
	Nodes map[NodeId]*Node
	Chain []NodeId // chain order, Entry first

	nextId NodeId
}

func newGraph(b ir.BlockId) *Graph {
	g := &Graph{Block: b, Nodes: map[NodeId]*Node{}}
	entry := g.alloc(KindEntry)
	g.Entry = entry.Id
	g.Chain = append(g.Chain, entry.Id)
	return g
}

func (g *Graph) alloc(k NodeKind) *Node {
	id := g.nextId
	g.nextId++
	n := &Node{Id: id, Kind: k}
	g.Nodes[id] = n
	return n
}

func (g *Graph) chainAppend(n *Node) {
	last := g.Chain[len(g.Chain)-1]
	g.Nodes[last].Next = n.Id
	g.Nodes[last].HasNext = true
	g.Chain = append(g.Chain, n.Id)
}

// FunctionDAG holds one Graph per block of a function. Cross-block
// values are named by convention ("vrN" for instruction N) rather
// than through a table kept here.
type FunctionDAG struct {
	Fn     *ir.Function
	Graphs map[ir.BlockId]*Graph
}

// Build converts fn's IR into a per-block DAG.
func Build(fn *ir.Function, tbl *types.Table) *FunctionDAG {
	fd := &FunctionDAG{Fn: fn, Graphs: map[ir.BlockId]*Graph{}}
	valNode := map[ir.Value]NodeId{} // values defined within the same block currently being built
	valBlock := map[ir.Value]ir.BlockId{}

	for _, bid := range fn.Order() {
		g := newGraph(bid)
		fd.Graphs[bid] = g
		blk := fn.Block(bid)

		for _, iid := range blk.Instrs {
			inst := fn.Instr(iid)
			n := buildInst(fd, g, tbl, fn, inst, valNode, valBlock)
			if n == nil {
				continue
			}
			if v := inst.AsValue(); v.Kind != ir.VNone {
				valNode[v] = n.Id
				valBlock[v] = bid
			}
			// Side-effecting nodes keep program order; live-out pure
			// nodes must also be chained or MIR lowering would never
			// visit them in their defining block.
			if inst.Opcode.HasSideEffects() || inst.Opcode == ir.OpPhi || n.LiveOut {
				g.chainAppend(n)
			}
		}
	}
	return fd
}

func operandNode(fd *FunctionDAG, g *Graph, v ir.Value, valNode map[ir.Value]NodeId, valBlock map[ir.Value]ir.BlockId) NodeId {
	switch v.Kind {
	case ir.VImmInt32, ir.VImmInt64:
		n := g.alloc(KindLeaf)
		n.Leaf = LeafConstant
		n.ImmI = v.ImmI
		n.Ty = v.Ty
		return n.Id
	case ir.VImmF64:
		n := g.alloc(KindLeaf)
		n.Leaf = LeafConstant
		n.ImmF = v.ImmF
		n.Ty = v.Ty
		return n.Id
	case ir.VArgument:
		n := g.alloc(KindLeaf)
		n.Leaf = LeafRegister
		n.Reg = fmt.Sprintf("arg%d", v.Arg)
		n.Ty = v.Ty
		return n.Id
	case ir.VFunction:
		n := g.alloc(KindLeaf)
		n.Leaf = LeafAddress
		n.Ty = v.Ty
		n.FuncRef, n.HasFuncRef = v.Func, true
		return n.Id
	case ir.VGlobal:
		n := g.alloc(KindLeaf)
		n.Leaf = LeafAddress
		n.Ty = v.Ty
		n.GlobRef, n.HasGlobRef = v.Glob, true
		return n.Id
	case ir.VInstruction:
		if defBlock, ok := valBlock[v]; ok && defBlock == g.Block {
			return valNode[v]
		}
		// Cross-block: CopyFromReg of a virtual register named after the
		// defining instruction id; no CopyToReg node is built, the def
		// site is only marked live-out (markLiveOutCopyToReg below).
		n := g.alloc(KindLeaf)
		n.Leaf = LeafRegister
		n.Reg = fmt.Sprintf("vr%d", v.Inst)
		n.Ty = v.Ty
		return n.Id
	}
	n := g.alloc(KindLeaf)
	return n.Id
}

func markLiveOutCopyToReg(fd *FunctionDAG, defBlock ir.BlockId, inst *ir.Instruction, n *Node) {
	// If any user of this instruction lives in a different block, its
	// DAG graph is still being or will be built; the CopyFromReg side
	// above independently materialises the register name "vrN", so we
	// only need to mark this node live-out for scheduling purposes.
	for uid := range inst.Users {
		user := fd.Fn.Instr(uid)
		if user != nil && user.Block != defBlock {
			n.LiveOut = true
			return
		}
	}
}

func buildInst(fd *FunctionDAG, g *Graph, tbl *types.Table, fn *ir.Function, inst *ir.Instruction, valNode map[ir.Value]NodeId, valBlock map[ir.Value]ir.BlockId) *Node {
	switch inst.Opcode {
	case ir.OpGep:
		return buildGep(fd, g, tbl, fn, inst, valNode, valBlock)
	case ir.OpPhi:
		n := g.alloc(KindIR)
		n.IROp = ir.OpPhi
		n.Ty = inst.Result
		n.SrcInst, n.HasSrc = inst.Id, true
		for _, e := range inst.PhiIncoming {
			vn := operandNode(fd, g, e.Value, valNode, valBlock)
			bn := g.alloc(KindLeaf)
			bn.Leaf = LeafBlock
			bn.Block = e.Block
			n.PhiPairs = append(n.PhiPairs, vn, bn.Id)
		}
		markLiveOutCopyToReg(fd, inst.Block, inst, n)
		return n
	default:
		n := g.alloc(KindIR)
		n.IROp = inst.Opcode
		n.Ty = inst.Result
		n.SrcInst, n.HasSrc = inst.Id, true
		for _, o := range inst.Operands {
			switch o.Kind {
			case ir.OperValue:
				n.Operands = append(n.Operands, operandNode(fd, g, o.Value, valNode, valBlock))
			case ir.OperType:
				leaf := g.alloc(KindLeaf)
				leaf.Ty = o.Type
				n.Operands = append(n.Operands, leaf.Id)
			case ir.OperBlock:
				leaf := g.alloc(KindLeaf)
				leaf.Leaf = LeafBlock
				leaf.Block = o.Block
				n.Operands = append(n.Operands, leaf.Id)
			case ir.OperICmp:
				leaf := g.alloc(KindLeaf)
				leaf.Leaf = LeafCondI
				leaf.CondI = o.ICmp
				n.Operands = append(n.Operands, leaf.Id)
			case ir.OperFCmp:
				leaf := g.alloc(KindLeaf)
				leaf.Leaf = LeafCondF
				leaf.CondF = o.FCmp
				n.Operands = append(n.Operands, leaf.Id)
			}
		}
		markLiveOutCopyToReg(fd, inst.Block, inst, n)
		return n
	}
}

// buildGep expands GetElementPtr into an Add of the pointer and a
// scaled/constant byte offset: struct indices become constant offsets
// from the field table, non-struct indices multiply by element size.
func buildGep(fd *FunctionDAG, g *Graph, tbl *types.Table, fn *ir.Function, inst *ir.Instruction, valNode map[ir.Value]NodeId, valBlock map[ir.Value]ir.BlockId) *Node {
	base := inst.Operands[0].Value
	baseNode := operandNode(fd, g, base, valNode, valBlock)

	cur := base.Ty
	var constOffset int64
	var dynamic []NodeId // node ids of non-constant scaled offsets still to add

	for i := 1; i < len(inst.Operands); i++ {
		idxVal := inst.Operands[i].Value
		switch tbl.Kind(cur) {
		case types.KindStruct:
			idx := idxVal.ImmI
			off, err := tbl.FieldOffset(cur, int(idx))
			if err == nil {
				constOffset += off
			}
			ft, _ := tbl.FieldType(cur, int(idx))
			cur = ft
		default:
			elem, err := tbl.ElementTy(cur)
			if err != nil {
				break
			}
			elemSize := tbl.SizeOf(elem)
			if idxVal.IsImmediate() {
				constOffset += idxVal.ImmI * elemSize
			} else {
				idxNode := operandNode(fd, g, idxVal, valNode, valBlock)
				if tbl.Kind(idxVal.Ty) == types.KindInt32 {
					sext := g.alloc(KindIR)
					sext.IROp = ir.OpSext
					sext.Ty = types.Int64
					sext.Operands = []NodeId{idxNode}
					idxNode = sext.Id
				}
				mul := g.alloc(KindIR)
				mul.IROp = ir.OpMul
				mul.Ty = types.Int64
				cNode := g.alloc(KindLeaf)
				cNode.Leaf = LeafConstant
				cNode.ImmI = elemSize
				cNode.Ty = types.Int64
				mul.Operands = []NodeId{idxNode, cNode.Id}
				dynamic = append(dynamic, mul.Id)
			}
			cur = elem
		}
	}

	add := g.alloc(KindIR)
	add.IROp = ir.OpAdd
	add.Ty = inst.Result
	add.SrcInst, add.HasSrc = inst.Id, true

	cNode := g.alloc(KindLeaf)
	cNode.Leaf = LeafConstant
	cNode.ImmI = constOffset
	cNode.Ty = types.Int64

	offsetNode := cNode.Id
	for _, d := range dynamic {
		sum := g.alloc(KindIR)
		sum.IROp = ir.OpAdd
		sum.Ty = types.Int64
		sum.Operands = []NodeId{offsetNode, d}
		offsetNode = sum.Id
	}
	add.Operands = []NodeId{baseNode, offsetNode}
	markLiveOutCopyToReg(fd, inst.Block, inst, add)
	return add
}
