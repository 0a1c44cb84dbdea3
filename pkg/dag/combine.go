package dag

import "github.com/vellumlang/vellum/pkg/ir"

// Combine runs the target-independent canonicalisation pass over every
// block of fd: canonicalise commutative operand order (constant
// operand last), fold additive/multiplicative identities, associate a
// chain of constant additions into one, collapsing the nested Adds
// buildGep emits for a multi-level struct index before selection ever
// sees them, and rewrite multiplies by a power of two into shifts.
func Combine(fd *FunctionDAG) {
	for _, g := range fd.Graphs {
		for _, n := range g.Nodes {
			canonicalizeCommutative(g, n)
		}
		for _, n := range g.Nodes {
			associateConstants(g, n)
		}
		for _, n := range g.Nodes {
			foldIdentity(g, n)
		}
		for _, n := range g.Nodes {
			strengthReduce(g, n)
		}
	}
}

// strengthReduce rewrites mul(x, 2^k) into shl(x, k); buildGep's
// element-size scaling makes power-of-two multiplies the common case
// for every array index.
func strengthReduce(g *Graph, n *Node) {
	if n.Kind != KindIR || n.IROp.String() != "mul" || len(n.Operands) != 2 {
		return
	}
	rhs := g.Nodes[n.Operands[1]]
	if !isConst(rhs) || rhs.ImmF != 0 {
		return
	}
	c := rhs.ImmI
	if c <= 1 || c&(c-1) != 0 {
		return
	}
	var k int64
	for v := c; v > 1; v >>= 1 {
		k++
	}
	shift := g.alloc(KindLeaf)
	shift.Leaf = LeafConstant
	shift.ImmI = k
	shift.Ty = rhs.Ty
	n.IROp = ir.OpShl
	n.Operands[1] = shift.Id
}

func isCommutative(n *Node) bool {
	return n.Kind == KindIR && (n.IROp.String() == "add" || n.IROp.String() == "mul")
}

// canonicalizeCommutative moves a constant-leaf operand to the second
// position, so isel's Imm-last arms (and foldIdentity/associateConstants
// below) never need to probe both operand orders.
func canonicalizeCommutative(g *Graph, n *Node) {
	if !isCommutative(n) || len(n.Operands) != 2 {
		return
	}
	lhs, rhs := g.Nodes[n.Operands[0]], g.Nodes[n.Operands[1]]
	if isConst(lhs) && !isConst(rhs) {
		n.Operands[0], n.Operands[1] = n.Operands[1], n.Operands[0]
	}
}

func isConst(n *Node) bool { return n.Kind == KindLeaf && n.Leaf == LeafConstant }

// associateConstants folds add(add(x, c1), c2) into add(x, c1+c2),
// since buildGep chains an Add per dynamic array index on top of the
// struct-field constant offset.
func associateConstants(g *Graph, n *Node) {
	if n.Kind != KindIR || n.IROp.String() != "add" || len(n.Operands) != 2 {
		return
	}
	outer := g.Nodes[n.Operands[1]]
	if !isConst(outer) {
		return
	}
	inner := g.Nodes[n.Operands[0]]
	if inner.Kind != KindIR || inner.IROp.String() != "add" || len(inner.Operands) != 2 {
		return
	}
	innerConst := g.Nodes[inner.Operands[1]]
	if !isConst(innerConst) {
		return
	}
	sum := g.alloc(KindLeaf)
	sum.Leaf = LeafConstant
	sum.Ty = outer.Ty
	if outer.ImmF != 0 || innerConst.ImmF != 0 {
		sum.ImmF = innerConst.ImmF + outer.ImmF
	} else {
		sum.ImmI = innerConst.ImmI + outer.ImmI
	}
	n.Operands[0] = inner.Operands[0]
	n.Operands[1] = sum.Id
}

// foldIdentity rewrites add(x,0), sub(x,0) and mul(x,1) into a direct
// alias of x: since every other node reaches n only by NodeId (never a
// Go pointer), aliasing n in place, overwriting it with x's fields
// while keeping n's own Id/SrcInst/Next/LiveOut, is a correct
// elimination without needing parent back-links.
func foldIdentity(g *Graph, n *Node) {
	if n.Kind != KindIR || len(n.Operands) != 2 {
		return
	}
	rhs := g.Nodes[n.Operands[1]]
	if !isConst(rhs) {
		return
	}
	op := n.IROp.String()
	isZero := rhs.ImmI == 0 && rhs.ImmF == 0
	isOne := rhs.ImmI == 1
	if !((op == "add" || op == "sub") && isZero) && !(op == "mul" && isOne) {
		return
	}
	x := g.Nodes[n.Operands[0]]
	id, srcInst, hasSrc, next, hasNext, liveOut := n.Id, n.SrcInst, n.HasSrc, n.Next, n.HasNext, n.LiveOut
	*n = *x
	n.Operands = append([]NodeId(nil), x.Operands...)
	n.PhiPairs = append([]NodeId(nil), x.PhiPairs...)
	n.Id, n.SrcInst, n.HasSrc, n.Next, n.HasNext, n.LiveOut = id, srcInst, hasSrc, next, hasNext, liveOut
}
