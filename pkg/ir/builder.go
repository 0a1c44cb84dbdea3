package ir

import (
	"fmt"

	"github.com/vellumlang/vellum/pkg/types"
	"github.com/vellumlang/vellum/pkg/vellumerr"
)

// Builder creates instructions in a target block at a moving insertion
// point; it is the sole supported way to construct instructions. Every
// operation returns a Value handle usable as an operand to later
// operations.
type Builder struct {
	Module *Module
	fn     *Function
	block  *BasicBlock
}

// NewBuilder creates a Builder positioned at the end of block within fn.
func NewBuilder(m *Module, fn *Function, block *BasicBlock) *Builder {
	return &Builder{Module: m, fn: fn, block: block}
}

// SetInsertPoint moves the builder's insertion point to the end of b.
func (b *Builder) SetInsertPoint(fn *Function, block *BasicBlock) {
	b.fn = fn
	b.block = block
}

func (b *Builder) emit(op Opcode, operands []Operand, result types.Id) Value {
	inst := b.fn.AllocInst(op, operands, result)
	inst.Block = b.block.Id
	b.block.Instrs = append(b.block.Instrs, inst.Id)
	return inst.AsValue()
}

// Alloca emits alloca(T): a stack slot holding a value of type t.
// Its result type is ptr(t).
func (b *Builder) Alloca(t types.Id) Value {
	ptrTy := b.Module.Types.Pointer(t)
	return b.emit(OpAlloca, []Operand{TypeOperand(t)}, ptrTy)
}

// Gep emits gep(base, idxs): an address computation across nested
// aggregate types. idxs are i32/i64 values; a struct-typed step
// requires its index to be an immediate, checked here so the caller
// sees BadIndex immediately rather than at DAG-construction time.
func (b *Builder) Gep(base Value, idxs []Value) (Value, error) {
	// The leading index addresses base itself as if it were an array of
	// one element of its pointee type (LLVM/CompCert convention); every
	// subsequent index descends one level into the current aggregate.
	// types.ElementTyWithIndices implements exactly that one-level-per-index
	// peel, so base.Ty (still a pointer) is the correct starting point.
	cur := base.Ty
	for _, idx := range idxs {
		if b.Module.Types.Kind(cur) == types.KindStruct && !idx.IsImmediate() {
			return NoValue, fmt.Errorf("struct field index must be an immediate: %w", vellumerr.ErrBadIndex)
		}
		next, err := b.Module.Types.ElementTyWithIndices(cur, []int64{idx.ImmI})
		if err != nil {
			return NoValue, err
		}
		cur = next
	}
	resTy := b.Module.Types.Pointer(cur)
	operands := []Operand{ValOperand(base)}
	for _, idx := range idxs {
		operands = append(operands, ValOperand(idx))
	}
	return b.emit(OpGep, operands, resTy), nil
}

// Load emits load(v): loads the value pointed to by v.
func (b *Builder) Load(v Value) (Value, error) {
	elemTy, err := b.Module.Types.ElementTy(v.Ty)
	if err != nil {
		return NoValue, err
	}
	return b.emit(OpLoad, []Operand{ValOperand(v)}, elemTy), nil
}

// Store emits store(src, dst): stores src to the address dst.
// Produces no result.
func (b *Builder) Store(src, dst Value) {
	b.emit(OpStore, []Operand{ValOperand(src), ValOperand(dst)}, types.Void)
}

// arithFold implements the builder's constant-folding law: if both
// operands are immediates of the same scalar type, compute the result
// immediately instead of emitting an instruction.
func arithFold(op Opcode, lhs, rhs Value) (Value, bool) {
	if !lhs.IsImmediate() || !rhs.IsImmediate() || lhs.Kind != rhs.Kind {
		return NoValue, false
	}
	switch lhs.Kind {
	case VImmInt32:
		a, c := int32(lhs.ImmI), int32(rhs.ImmI)
		var r int32
		switch op {
		case OpAdd:
			r = a + c
		case OpSub:
			r = a - c
		case OpMul:
			r = a * c
		case OpDiv:
			if c == 0 {
				return NoValue, false
			}
			r = a / c
		case OpRem:
			if c == 0 {
				return NoValue, false
			}
			r = a % c
		case OpShl:
			r = a << uint32(c)
		default:
			return NoValue, false
		}
		return ImmInt32(r), true
	case VImmInt64:
		a, c := lhs.ImmI, rhs.ImmI
		var r int64
		switch op {
		case OpAdd:
			r = a + c
		case OpSub:
			r = a - c
		case OpMul:
			r = a * c
		case OpDiv:
			if c == 0 {
				return NoValue, false
			}
			r = a / c
		case OpRem:
			if c == 0 {
				return NoValue, false
			}
			r = a % c
		case OpShl:
			r = a << uint64(c)
		default:
			return NoValue, false
		}
		return ImmInt64(r), true
	case VImmF64:
		a, c := lhs.ImmF, rhs.ImmF
		var r float64
		switch op {
		case OpAdd:
			r = a + c
		case OpSub:
			r = a - c
		case OpMul:
			r = a * c
		case OpDiv:
			if c == 0 {
				return NoValue, false
			}
			r = a / c
		default:
			return NoValue, false
		}
		return ImmF64(r), true
	}
	return NoValue, false
}

func (b *Builder) arith(op Opcode, lhs, rhs Value) Value {
	if folded, ok := arithFold(op, lhs, rhs); ok {
		return folded
	}
	return b.emit(op, []Operand{ValOperand(lhs), ValOperand(rhs)}, lhs.Ty)
}

func (b *Builder) Add(lhs, rhs Value) Value { return b.arith(OpAdd, lhs, rhs) }
func (b *Builder) Sub(lhs, rhs Value) Value { return b.arith(OpSub, lhs, rhs) }
func (b *Builder) Mul(lhs, rhs Value) Value { return b.arith(OpMul, lhs, rhs) }
func (b *Builder) Div(lhs, rhs Value) Value { return b.arith(OpDiv, lhs, rhs) }
func (b *Builder) Rem(lhs, rhs Value) Value { return b.arith(OpRem, lhs, rhs) }
func (b *Builder) Shl(lhs, rhs Value) Value { return b.arith(OpShl, lhs, rhs) }

// Sitofp emits sitofp(v): signed-int-to-float conversion.
func (b *Builder) Sitofp(v Value) Value {
	if v.Kind == VImmInt32 {
		return ImmF64(float64(int32(v.ImmI)))
	}
	if v.Kind == VImmInt64 {
		return ImmF64(float64(v.ImmI))
	}
	return b.emit(OpSitofp, []Operand{ValOperand(v)}, types.F64)
}

// Fptosi emits fptosi(v): float-to-signed-int conversion.
func (b *Builder) Fptosi(v Value, to types.Id) Value {
	if v.Kind == VImmF64 {
		if to == types.Int64 {
			return ImmInt64(int64(v.ImmF))
		}
		return ImmInt32(int32(v.ImmF))
	}
	return b.emit(OpFptosi, []Operand{ValOperand(v)}, to)
}

// Sext emits sext(v): sign-extends v to i64.
func (b *Builder) Sext(v Value) Value {
	if v.Kind == VImmInt32 {
		return ImmInt64(int64(int32(v.ImmI)))
	}
	return b.emit(OpSext, []Operand{ValOperand(v)}, types.Int64)
}

// Icmp emits icmp(kind, lhs, rhs): result type is i1.
func (b *Builder) Icmp(kind ICmpKind, lhs, rhs Value) Value {
	return b.emit(OpIcmp, []Operand{ICmpOperand(kind), ValOperand(lhs), ValOperand(rhs)}, types.Int1)
}

// Fcmp emits fcmp(kind, lhs, rhs): result type is i1.
func (b *Builder) Fcmp(kind FCmpKind, lhs, rhs Value) Value {
	return b.emit(OpFcmp, []Operand{FCmpOperand(kind), ValOperand(lhs), ValOperand(rhs)}, types.Int1)
}

// Br emits br(bb): an unconditional branch, maintaining both blocks'
// successor/predecessor sets atomically.
func (b *Builder) Br(target *BasicBlock) {
	b.emit(OpBr, []Operand{BlockOperand(target.Id)}, types.Void)
	b.fn.AddEdge(b.block.Id, target.Id)
}

// CondBr emits cond_br(v, bb1, bb2).
func (b *Builder) CondBr(cond Value, ifTrue, ifFalse *BasicBlock) {
	b.emit(OpCondBr, []Operand{ValOperand(cond), BlockOperand(ifTrue.Id), BlockOperand(ifFalse.Id)}, types.Void)
	b.fn.AddEdge(b.block.Id, ifTrue.Id)
	b.fn.AddEdge(b.block.Id, ifFalse.Id)
}

// Phi emits phi(pairs): pairs is (value, incoming-block), preserving
// insertion order. resultTy is the phi's result type.
func (b *Builder) Phi(resultTy types.Id, pairs []PhiEdge) Value {
	inst := b.fn.AllocInst(OpPhi, nil, resultTy)
	inst.PhiIncoming = append([]PhiEdge(nil), pairs...)
	inst.Block = b.block.Id
	b.fn.linkOperands(inst)
	b.block.Instrs = append(b.block.Instrs, inst.Id)
	return inst.AsValue()
}

// AddPhiIncoming appends one more (value, block) pair to an existing
// phi instruction, used while Mem2Reg threads fresh operands across
// successors during renaming.
func (b *Builder) AddPhiIncoming(phi Value, val Value, pred BlockId) {
	inst := b.fn.Instr(phi.Inst)
	inst.PhiIncoming = append(inst.PhiIncoming, PhiEdge{Value: val, Block: pred})
	if val.Kind == VInstruction {
		if def := b.fn.Instr(val.Inst); def != nil {
			def.Users[inst.Id] = true
		}
	}
}

// Call emits call(callee, args). calleeTy is the callee's function
// type id, used to determine the result type (Void if the callee
// returns void).
func (b *Builder) Call(callee Value, calleeTy types.Id, args []Value) (Value, error) {
	retTy, err := b.Module.Types.Return(calleeTy)
	if err != nil {
		return NoValue, err
	}
	operands := []Operand{ValOperand(callee)}
	for _, a := range args {
		operands = append(operands, ValOperand(a))
	}
	return b.emit(OpCall, operands, retTy), nil
}

// Ret emits ret(v). v may be NoValue for a void return.
func (b *Builder) Ret(v Value) {
	if v.Kind == VNone {
		b.emit(OpRet, nil, types.Void)
		return
	}
	b.emit(OpRet, []Operand{ValOperand(v)}, types.Void)
}
