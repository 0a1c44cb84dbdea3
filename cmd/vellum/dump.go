package main

import (
	"fmt"
	"io"

	"github.com/vellumlang/vellum/pkg/dag"
	"github.com/vellumlang/vellum/pkg/mir"
)

// dumpDAG renders one function's per-block DAGs as a flat node listing,
// chain order within each block, since pkg/dag carries no printer of
// its own (unlike pkg/ir and pkg/asm, nothing downstream of the DAG
// needs one outside this debug dump).
func dumpDAG(w io.Writer, fd *dag.FunctionDAG) {
	fmt.Fprintf(w, "dag %s:\n", fd.Fn.Name)
	for _, bid := range fd.Fn.Order() {
		g := fd.Graphs[bid]
		fmt.Fprintf(w, "  block%d:\n", bid)
		for _, nid := range g.Chain {
			n := g.Nodes[nid]
			switch n.Kind {
			case dag.KindEntry:
				fmt.Fprintf(w, "    %%%d = entry\n", nid)
			case dag.KindIR:
				fmt.Fprintf(w, "    %%%d = %s %v\n", nid, n.IROp, n.Operands)
			case dag.KindTarget:
				fmt.Fprintf(w, "    %%%d = %s %v\n", nid, n.TargetOp, n.Operands)
			case dag.KindLeaf:
				fmt.Fprintf(w, "    %%%d = leaf(kind=%d imm=%d)\n", nid, n.Leaf, n.ImmI)
			}
		}
	}
}

// dumpMIR renders one machine function's instructions in textual form,
// pre-regalloc: each instruction's opcode followed by its operands and
// defs in Go's default %v formatting of the mir.Operand values.
func dumpMIR(w io.Writer, mfn *mir.Function) {
	fmt.Fprintf(w, "mir %s:\n", mfn.Name)
	if mfn.External {
		fmt.Fprintf(w, "  (external)\n")
		return
	}
	for _, bid := range mfn.Order() {
		b := mfn.Block(bid)
		fmt.Fprintf(w, "  block%d:\n", bid)
		for _, iid := range b.Instrs {
			inst := mfn.Instr(iid)
			fmt.Fprintf(w, "    %s %v -> %v\n", inst.Opcode, inst.Operands, inst.Defs)
		}
	}
}
