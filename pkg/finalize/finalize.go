// Package finalize implements post-allocation finalisation:
// stack-frame layout, resolution of the FRAMEADDR and
// RELOAD_<class>/SPILL_<class> pseudo-opcodes pkg/mirgen and
// pkg/regalloc leave behind (neither knows the final frame size when
// it runs), callee-saved prologue/epilogue insertion, and a branch-
// folding pass over conditional and fall-through jumps.
//
// The prologue/epilogue sequence is push-free: neither opcode table
// defines a native PUSH/POP, so the same reg+imm StackAdjustOpcode and
// Load/Store sequence realises it on x86-64 and RISC-V alike.
package finalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/types"
	"github.com/vellumlang/vellum/pkg/vellumerr"
)

// Run finalises every non-external function of mod.
func Run(mod *mir.Module, tgt target.Target) error {
	for _, fn := range mod.Functions {
		if fn.External {
			continue
		}
		if err := Function(fn, tgt, mod.Types); err != nil {
			return fmt.Errorf("finalizing %s: %w", fn.Name, err)
		}
	}
	return nil
}

// Function runs the four finalisation passes over one machine
// function, in the order their inputs become available: frame layout
// first (so pseudo-op resolution has offsets to resolve against), then
// pseudo-op resolution, then prologue/epilogue insertion (which needs
// the final frame size and the set of callee-saved registers actually
// used), then branch folding last since it only looks at jump shapes.
func Function(fn *mir.Function, tgt target.Target, tbl *types.Table) error {
	used := layoutFrame(fn, tgt, tbl)
	if err := resolvePseudoOps(fn, tgt); err != nil {
		return err
	}
	insertPrologueEpilogue(fn, tgt, used)
	foldBranches(fn)
	return nil
}

// layoutFrame assigns every FrameObject a byte offset below the frame
// pointer (stack grows down on both targets), sets fn.StackSize to the
// ABI-aligned total, and reports which callee-saved physical registers
// the function's instructions actually mention; only those need
// saving in the prologue.
func layoutFrame(fn *mir.Function, tgt target.Target, tbl *types.Table) map[target.PhysReg]bool {
	var offset int64
	for _, obj := range fn.FrameObjects {
		size := tbl.SizeOf(obj.Ty)
		if size <= 0 {
			size = 8
		}
		align := tbl.AlignOf(obj.Ty)
		if align <= 0 {
			align = 8
		}
		offset += size
		offset = alignUp(offset, align)
		obj.Offset = -offset
		obj.Set = true
	}
	fn.StackSize = alignUp(offset, tgt.ABI().StackAlign)

	classes := tgt.RegClasses()
	fp, sp := tgt.FramePointerReg(), tgt.StackPointerReg()
	used := map[target.PhysReg]bool{}
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			all := append(append([]mir.RegId(nil), inst.UsedRegs()...), inst.DefinedRegs()...)
			for _, r := range all {
				if r.Virtual {
					continue
				}
				p := target.PhysReg{Class: r.Class, Index: r.Index}
				if p == fp || p == sp {
					// saved by the frame-pointer sequence itself
					continue
				}
				if rc, ok := classes[r.Class]; ok && rc.IsCalleeSaved(r.Index) {
					used[p] = true
				}
			}
		}
	}
	return used
}

func alignUp(off, align int64) int64 {
	if align <= 1 {
		return off
	}
	if rem := off % align; rem != 0 {
		return off + (align - rem)
	}
	return off
}

// resolvePseudoOps rewrites FRAMEADDR and RELOAD_<class>/SPILL_<class>
// in place into the target's real address-compute/load/store opcodes,
// now that layoutFrame has given every frame index a concrete offset
// from the frame pointer.
func resolvePseudoOps(fn *mir.Function, tgt target.Target) error {
	fp := mir.RegId{Class: tgt.FramePointerReg().Class, Index: tgt.FramePointerReg().Index}
	for _, bid := range fn.Order() {
		for _, iid := range fn.Block(bid).Instrs {
			inst := fn.Instr(iid)
			switch {
			case inst.Opcode == "FRAMEADDR":
				obj, err := frameObjectOf(fn, inst.Operands[0])
				if err != nil {
					return err
				}
				if tgt.FrameAddrUsesMem() {
					inst.Operands = []mir.Operand{mir.MemOperandOf(mir.MemOperand{Base: fp, HasBase: true, Offset: obj.Offset})}
				} else {
					inst.Operands = []mir.Operand{mir.RegOperand(fp), mir.ImmOperand(obj.Offset)}
				}
				inst.Opcode = tgt.FrameAddrOpcode()

			case strings.HasPrefix(inst.Opcode, "RELOAD_"):
				class := strings.TrimPrefix(inst.Opcode, "RELOAD_")
				obj, err := frameObjectOf(fn, inst.Operands[0])
				if err != nil {
					return err
				}
				inst.Opcode = tgt.LoadOpcode(class)
				inst.Operands = []mir.Operand{mir.MemOperandOf(mir.MemOperand{Base: fp, HasBase: true, Offset: obj.Offset})}

			case strings.HasPrefix(inst.Opcode, "SPILL_"):
				class := strings.TrimPrefix(inst.Opcode, "SPILL_")
				obj, err := frameObjectOf(fn, inst.Operands[0])
				if err != nil {
					return err
				}
				reg := inst.Operands[1]
				inst.Opcode = tgt.StoreOpcode(class)
				inst.Operands = []mir.Operand{reg, mir.MemOperandOf(mir.MemOperand{Base: fp, HasBase: true, Offset: obj.Offset})}
			}
		}
	}
	return nil
}

func frameObjectOf(fn *mir.Function, op mir.Operand) (*mir.FrameObject, error) {
	if op.Kind != mir.OperFrameIndex {
		return nil, fmt.Errorf("expected a frame-index operand, got kind %d: %w", op.Kind, vellumerr.ErrInvariantViolation)
	}
	if op.Frame < 0 || op.Frame >= len(fn.FrameObjects) {
		return nil, fmt.Errorf("frame index %d out of range: %w", op.Frame, vellumerr.ErrInvariantViolation)
	}
	return fn.FrameObjects[op.Frame], nil
}

// insertPrologueEpilogue builds the push-free frame-pointer sequence
// both targets share: sp -= 8; [sp] = fp; fp = sp; sp -= the
// ABI-aligned size of the locals plus the callee-saved area; save each
// used callee-saved register below the locals. Every RET
// gets the mirror-image epilogue immediately before it.
func insertPrologueEpilogue(fn *mir.Function, tgt target.Target, used map[target.PhysReg]bool) {
	fp := mir.RegId{Class: tgt.FramePointerReg().Class, Index: tgt.FramePointerReg().Index}
	sp := mir.RegId{Class: tgt.StackPointerReg().Class, Index: tgt.StackPointerReg().Index}
	intClass := tgt.ABI().IntArgClass
	localSize := fn.StackSize

	var saved []target.PhysReg
	for r := range used {
		saved = append(saved, r)
	}
	sort.Slice(saved, func(i, j int) bool {
		if saved[i].Class != saved[j].Class {
			return saved[i].Class < saved[j].Class
		}
		return saved[i].Index < saved[j].Index
	})
	calleeOffset := func(i int) int64 { return -(localSize + int64(i+1)*8) }
	// One adjustment covers locals and the callee-saved area, so the
	// saves never land below the stack pointer where a call could
	// clobber them; keep the call-site alignment the ABI demands.
	adjust := alignUp(localSize+int64(len(saved))*8, tgt.ABI().StackAlign)

	entry := fn.Block(fn.Order()[0])
	idx := 0
	prologue := func(opcode string, operands, defs []mir.Operand) {
		fn.InsertBefore(entry, idx, opcode, operands, defs, nil, nil, nil)
		idx++
	}

	prologue(tgt.StackAdjustOpcode(), []mir.Operand{mir.RegOperand(sp), mir.ImmOperand(-8)}, []mir.Operand{mir.RegOperand(sp)})
	prologue(tgt.StoreOpcode(intClass), []mir.Operand{mir.RegOperand(fp), mir.MemOperandOf(mir.MemOperand{Base: sp, HasBase: true})}, nil)
	prologue("Copy", []mir.Operand{mir.RegOperand(sp)}, []mir.Operand{mir.RegOperand(fp)})
	if adjust > 0 {
		prologue(tgt.StackAdjustOpcode(), []mir.Operand{mir.RegOperand(sp), mir.ImmOperand(-adjust)}, []mir.Operand{mir.RegOperand(sp)})
	}
	for i, preg := range saved {
		r := mir.RegId{Class: preg.Class, Index: preg.Index}
		prologue(tgt.StoreOpcode(preg.Class),
			[]mir.Operand{mir.RegOperand(r), mir.MemOperandOf(mir.MemOperand{Base: fp, HasBase: true, Offset: calleeOffset(i)})}, nil)
	}

	ret := tgt.RetOpcode()
	for _, bid := range fn.Order() {
		b := fn.Block(bid)
		for _, iid := range append([]mir.InstId(nil), b.Instrs...) {
			if fn.Instr(iid).Opcode != ret {
				continue
			}
			ridx := instrIndex(b, iid)
			epilogue := func(opcode string, operands, defs []mir.Operand) {
				fn.InsertBefore(b, ridx, opcode, operands, defs, nil, nil, nil)
				ridx++
			}
			for i := len(saved) - 1; i >= 0; i-- {
				preg := saved[i]
				r := mir.RegId{Class: preg.Class, Index: preg.Index}
				epilogue(tgt.LoadOpcode(preg.Class),
					[]mir.Operand{mir.MemOperandOf(mir.MemOperand{Base: fp, HasBase: true, Offset: calleeOffset(i)})}, []mir.Operand{mir.RegOperand(r)})
			}
			epilogue("Copy", []mir.Operand{mir.RegOperand(fp)}, []mir.Operand{mir.RegOperand(sp)})
			epilogue(tgt.LoadOpcode(intClass), []mir.Operand{mir.MemOperandOf(mir.MemOperand{Base: sp, HasBase: true})}, []mir.Operand{mir.RegOperand(fp)})
			epilogue(tgt.StackAdjustOpcode(), []mir.Operand{mir.RegOperand(sp), mir.ImmOperand(8)}, []mir.Operand{mir.RegOperand(sp)})
		}
	}
}

func instrIndex(b *mir.BasicBlock, id mir.InstId) int {
	for i, iid := range b.Instrs {
		if iid == id {
			return i
		}
	}
	return len(b.Instrs)
}

// foldBranches flips a conditional jump whose taken target is the
// physical fall-through (so the jump aims at the other edge instead),
// then drops every unconditional jump whose sole target is the block
// immediately following it in function order. Both shapes need no
// knowledge of the target's encoding: any single-block-operand jump
// (x86-64's JMP, RISC-V's J) and any condition-code jump fit them.
// Register-tested branches (RISC-V's BNEZ) carry no invertible
// condition operand and are left alone.
func foldBranches(fn *mir.Function) {
	order := fn.Order()
	nextOf := map[mir.BlockId]mir.BlockId{}
	for i := 0; i+1 < len(order); i++ {
		nextOf[order[i]] = order[i+1]
	}

	for _, bid := range order {
		b := fn.Block(bid)
		if len(b.Instrs) < 2 {
			continue
		}
		jcc := fn.Instr(b.Instrs[len(b.Instrs)-2])
		jmp := fn.Instr(b.Instrs[len(b.Instrs)-1])
		if len(jmp.Operands) != 1 || jmp.Operands[0].Kind != mir.OperBlock {
			continue
		}
		if len(jcc.Operands) != 3 || jcc.Operands[1].Kind != mir.OperBlock || jcc.Operands[2].Kind != mir.OperBlock {
			continue
		}
		cond := jcc.Operands[0]
		if cond.Kind != mir.OperCondI && cond.Kind != mir.OperCondF {
			continue
		}
		if nextBlock, ok := nextOf[bid]; !ok || jcc.Operands[1].Block != nextBlock {
			continue
		}
		if cond.Kind == mir.OperCondI {
			jcc.Operands[0].CondI = int(ir.ICmpKind(cond.CondI).Inverse())
		} else {
			jcc.Operands[0].CondF = int(ir.FCmpKind(cond.CondF).Inverse())
		}
		jcc.Operands[1], jcc.Operands[2] = jcc.Operands[2], jcc.Operands[1]
		jmp.Operands[0] = mir.BlockOperand(jcc.Operands[2].Block)
	}

	for _, bid := range order {
		b := fn.Block(bid)
		if len(b.Instrs) == 0 {
			continue
		}
		last := fn.Instr(b.Instrs[len(b.Instrs)-1])
		if len(last.Operands) != 1 || last.Operands[0].Kind != mir.OperBlock {
			continue
		}
		if nextBlock, ok := nextOf[bid]; ok && last.Operands[0].Block == nextBlock {
			fn.RemoveInstr(last.Id)
		}
	}
}
