// Package isel implements instruction selection: a declarative pattern
// rewriter that consumes the combined DAG and rewrites
// IR-kind nodes into target-kind nodes. A
// pattern has the shape "(ir.Op a, b) { <reg-class-of-a> a {
// <reg-class-or-imm-form-of-b> b => (mi.TargetOp a, b) ... } ... }":
// here, one Arm per IR opcode names, per operand slot, a predicate
// (register-class membership or immediate-width match) and the
// target opcode to build when every slot's predicate holds. Arms are
// tried in declaration order; the first whole match wins. Operands are
// selected recursively (post-order) before the node itself is matched,
// and already-selected nodes are memoised by NodeId so shared operands
// are rewritten once. The explicit ordered arm list lets the same node
// kind match several target opcodes depending on operand shape
// (immediate vs register) or on the class of the node's result.
package isel

import (
	"fmt"

	"github.com/vellumlang/vellum/pkg/dag"
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/types"
	"github.com/vellumlang/vellum/pkg/vellumerr"
)

// OperandPred tests whether a (already-selected) operand node is
// eligible to fill one slot of an Arm.
type OperandPred func(g *dag.Graph, n *dag.Node, tgt target.Target, tbl *types.Table) bool

// AnyReg matches any selected target node or any leaf, regardless of
// class; the tables use it for load and store address operands and for
// the integer source of an int-to-float conversion, slots whose class
// the arm does not constrain.
func AnyReg(g *dag.Graph, n *dag.Node, tgt target.Target, tbl *types.Table) bool {
	return n.Kind == dag.KindTarget || n.Kind == dag.KindLeaf
}

// Imm matches an immediate-constant leaf of the expected scalar kind.
func Imm(kind types.Kind) OperandPred {
	return func(g *dag.Graph, n *dag.Node, tgt target.Target, tbl *types.Table) bool {
		return n.Kind == dag.KindLeaf && n.Leaf == dag.LeafConstant && tbl.Kind(n.Ty) == kind
	}
}

// ImmAny matches any immediate-constant leaf.
func ImmAny(g *dag.Graph, n *dag.Node, tgt target.Target, tbl *types.Table) bool {
	return n.Kind == dag.KindLeaf && n.Leaf == dag.LeafConstant
}

// AnyCond matches the condition-kind leaf icmp/fcmp instructions carry
// as their first operand.
func AnyCond(g *dag.Graph, n *dag.Node, tgt target.Target, tbl *types.Table) bool {
	return n.Kind == dag.KindLeaf && (n.Leaf == dag.LeafCondI || n.Leaf == dag.LeafCondF)
}

// RegClass matches a node that already produces a register value
// (either a selected target instruction or a CopyFromReg leaf) whose
// type classifies into the named register class.
func RegClass(class string) OperandPred {
	return func(g *dag.Graph, n *dag.Node, tgt target.Target, tbl *types.Table) bool {
		if n.Kind == dag.KindLeaf && n.Leaf != dag.LeafRegister {
			return false
		}
		return tgt.ClassOf(n.Ty, tbl) == class
	}
}

// RegOrImm matches like RegClass but also accepts a constant leaf
// whose type classifies into the class: MIR lowering materialises such
// constants into a fresh register before the instruction, so a stored
// literal or a negation's zero never needs its own arm.
func RegOrImm(class string) OperandPred {
	return func(g *dag.Graph, n *dag.Node, tgt target.Target, tbl *types.Table) bool {
		if n.Kind == dag.KindLeaf && n.Leaf == dag.LeafConstant {
			return tgt.ClassOf(n.Ty, tbl) == class
		}
		return RegClass(class)(g, n, tgt, tbl)
	}
}

// Arm is one rewrite alternative for an IR opcode: one predicate per
// operand slot (tried positionally against the node's already-selected
// operands) and the target opcode to build on a full match.
type Arm struct {
	Opcode   string
	Operands []OperandPred
	// Result, if non-empty, additionally requires the node's own
	// result type to classify into this register class, needed for
	// opcodes like Load/Sitofp whose float-vs-integer form is
	// determined by what they produce, not by their operands.
	Result string
	// Commutative, if set, also tries Operands reversed against the
	// node's two operands before giving up, so commutative
	// canonicalisation is folded directly into matching rather than
	// needing a separate rewrite pass.
	Commutative bool
}

// Table is one target's ordered arm list per IR opcode.
type Table map[ir.Opcode][]Arm

// Context carries the state threaded through one function's selection:
// the frame-index each surviving (non-promoted) alloca maps to, built
// by pkg/mirgen's frame-planning prepass before DAG construction.
type Context struct {
	Target   target.Target
	Types    *types.Table
	FrameOf  map[ir.InstId]int
	Patterns Table
}

// Select rewrites every IR-kind node of fd into a target-kind node:
// it matches the IR opcode, checks each operand
// slot's reg-class/immediate-width predicate, builds the first
// matching target node, recursing into operands first. Returns
// ErrUnmatchedPattern (fatal) if no arm matches.
func Select(fd *dag.FunctionDAG, ctx *Context) error {
	for _, bid := range fd.Fn.Order() {
		g := fd.Graphs[bid]
		visited := map[dag.NodeId]bool{}
		for id := range g.Nodes {
			if err := selectNode(g, id, ctx, visited); err != nil {
				return err
			}
		}
	}
	return nil
}

func selectNode(g *dag.Graph, id dag.NodeId, ctx *Context, visited map[dag.NodeId]bool) error {
	if visited[id] {
		return nil
	}
	visited[id] = true
	n := g.Nodes[id]

	for _, op := range n.Operands {
		if err := selectNode(g, op, ctx, visited); err != nil {
			return err
		}
	}
	for _, op := range n.PhiPairs {
		if err := selectNode(g, op, ctx, visited); err != nil {
			return err
		}
	}

	if n.Kind != dag.KindIR {
		return nil
	}

	if n.IROp == ir.OpAlloca {
		n.Kind = dag.KindTarget
		n.TargetOp = "FRAMEADDR"
		if n.HasSrc {
			n.Frame = ctx.FrameOf[n.SrcInst]
		}
		return nil
	}
	if n.IROp == ir.OpPhi || n.IROp == ir.OpBr || n.IROp == ir.OpCondBr || n.IROp == ir.OpRet || n.IROp == ir.OpCall {
		// Control-flow and phi nodes are rewritten directly by
		// pkg/mirgen (their shape is ABI/branch-specific, not a
		// register-class/immediate pattern match); leave as KindIR so
		// mirgen recognises them.
		return nil
	}

	arms := ctx.Patterns[n.IROp]
	for _, arm := range arms {
		if matchArm(g, n, arm, ctx, false) {
			applyArm(n, arm, false)
			return nil
		}
		if arm.Commutative && matchArm(g, n, arm, ctx, true) {
			applyArm(n, arm, true)
			return nil
		}
	}
	return fmt.Errorf("no isel pattern for %s on %s: %w", n.IROp, ctx.Target.Name(), vellumerr.ErrUnmatchedPattern)
}

func matchArm(g *dag.Graph, n *dag.Node, arm Arm, ctx *Context, reversed bool) bool {
	if len(arm.Operands) != len(n.Operands) {
		return false
	}
	if arm.Result != "" && ctx.Target.ClassOf(n.Ty, ctx.Types) != arm.Result {
		return false
	}
	ops := n.Operands
	if reversed {
		ops = []dag.NodeId{n.Operands[1], n.Operands[0]}
	}
	for i, pred := range arm.Operands {
		if !pred(g, g.Nodes[ops[i]], ctx.Target, ctx.Types) {
			return false
		}
	}
	return true
}

func applyArm(n *dag.Node, arm Arm, reversed bool) {
	if reversed {
		n.Operands = []dag.NodeId{n.Operands[1], n.Operands[0]}
	}
	n.Kind = dag.KindTarget
	n.TargetOp = arm.Opcode
}
