// Package ir implements the strongly-typed SSA intermediate
// representation: module → functions → basic blocks → instructions,
// arena-allocated with stable ids, plus the transforms that operate
// directly on it (constant folding is inline in Builder;
// gather-returns and IR-level branch folding live in sibling files of
// this package; Mem2Reg, LICM and CSE live in pkg/mem2reg, pkg/licm
// and pkg/cse).
package ir

import "github.com/vellumlang/vellum/pkg/types"

// InstId, BlockId, FuncId and GlobalId are stable arena handles. They
// remain valid for the lifetime of the owning Module; removing an
// instruction invalidates only that instruction's own id, not others'.
type (
	InstId   int
	BlockId  int
	FuncId   int
	GlobalId int
)

// Opcode tags an Instruction's operation.
type Opcode int

const (
	OpAlloca Opcode = iota
	OpGep
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpShl
	OpSitofp
	OpFptosi
	OpSext
	OpIcmp
	OpFcmp
	OpBr
	OpCondBr
	OpPhi
	OpCall
	OpRet
)

func (op Opcode) String() string {
	names := [...]string{
		"alloca", "gep", "load", "store", "add", "sub", "mul", "div", "rem",
		"shl", "sitofp", "fptosi", "sext", "icmp", "fcmp", "br", "cond_br",
		"phi", "call", "ret",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// IsArithmetic reports whether op is one of the scalar arithmetic
// opcodes eligible for the constant-folding law.
func (op Opcode) IsArithmetic() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpRem, OpShl:
		return true
	}
	return false
}

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	return op == OpBr || op == OpCondBr || op == OpRet
}

// HasSideEffects reports whether op must be scheduled in program order
// relative to other side-effecting operations.
func (op Opcode) HasSideEffects() bool {
	switch op {
	case OpLoad, OpStore, OpCall, OpBr, OpCondBr, OpRet:
		return true
	}
	return false
}

// ICmpKind is the integer-comparison predicate operand kind.
type ICmpKind int

const (
	ICmpEq ICmpKind = iota
	ICmpNe
	ICmpSlt
	ICmpSle
	ICmpSgt
	ICmpSge
)

func (k ICmpKind) String() string {
	names := [...]string{"eq", "ne", "slt", "sle", "sgt", "sge"}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// Inverse returns the negated predicate (eq<->ne, slt<->sge, sle<->sgt).
func (k ICmpKind) Inverse() ICmpKind {
	switch k {
	case ICmpEq:
		return ICmpNe
	case ICmpNe:
		return ICmpEq
	case ICmpSlt:
		return ICmpSge
	case ICmpSle:
		return ICmpSgt
	case ICmpSgt:
		return ICmpSle
	default:
		return ICmpSlt
	}
}

// FCmpKind is the floating-point comparison predicate operand kind.
type FCmpKind int

const (
	FCmpOeq FCmpKind = iota
	FCmpOne
	FCmpOlt
	FCmpOle
	FCmpOgt
	FCmpOge
)

func (k FCmpKind) String() string {
	names := [...]string{"oeq", "one", "olt", "ole", "ogt", "oge"}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// Inverse returns the negated predicate, treating the ordered forms as
// complements (NaN operands never reach these comparisons in the
// mini-language).
func (k FCmpKind) Inverse() FCmpKind {
	switch k {
	case FCmpOeq:
		return FCmpOne
	case FCmpOne:
		return FCmpOeq
	case FCmpOlt:
		return FCmpOge
	case FCmpOle:
		return FCmpOgt
	case FCmpOgt:
		return FCmpOle
	default:
		return FCmpOlt
	}
}

// ValueKind tags the Value tagged-variant.
type ValueKind int

const (
	VNone ValueKind = iota
	VImmInt32
	VImmInt64
	VImmF64
	VArgument
	VFunction
	VGlobal
	VInstruction
)

// Value is the non-owning handle used as an instruction operand. It
// may outlive the instruction it refers to only until that
// instruction's arena slot is reused by a compaction this
// implementation never performs.
type Value struct {
	Kind ValueKind

	ImmI  int64   // VImmInt32 / VImmInt64
	ImmF  float64 // VImmF64
	Ty    types.Id

	Func FuncId   // VArgument, VFunction, VInstruction
	Arg  int      // VArgument: parameter index
	Glob GlobalId // VGlobal
	Inst InstId   // VInstruction
}

// NoValue is the None variant.
var NoValue = Value{Kind: VNone}

// ImmInt32 constructs an Int32 immediate value.
func ImmInt32(v int32) Value { return Value{Kind: VImmInt32, ImmI: int64(v), Ty: types.Int32} }

// ImmInt64 constructs an Int64 immediate value.
func ImmInt64(v int64) Value { return Value{Kind: VImmInt64, ImmI: v, Ty: types.Int64} }

// ImmF64 constructs an F64 immediate value.
func ImmF64(v float64) Value { return Value{Kind: VImmF64, ImmF: v, Ty: types.F64} }

// IsImmediate reports whether v is one of the three Immediate variants.
func (v Value) IsImmediate() bool {
	return v.Kind == VImmInt32 || v.Kind == VImmInt64 || v.Kind == VImmF64
}

// OperandKind tags one slot of an Instruction's operand list.
type OperandKind int

const (
	OperValue OperandKind = iota
	OperType
	OperBlock
	OperICmp
	OperFCmp
)

// Operand is one instruction operand: a value-handle, type-handle,
// basic-block id, icmp-kind, or fcmp-kind.
type Operand struct {
	Kind  OperandKind
	Value Value
	Type  types.Id
	Block BlockId
	ICmp  ICmpKind
	FCmp  FCmpKind
}

func ValOperand(v Value) Operand   { return Operand{Kind: OperValue, Value: v} }
func TypeOperand(t types.Id) Operand { return Operand{Kind: OperType, Type: t} }
func BlockOperand(b BlockId) Operand { return Operand{Kind: OperBlock, Block: b} }
func ICmpOperand(k ICmpKind) Operand { return Operand{Kind: OperICmp, ICmp: k} }
func FCmpOperand(k FCmpKind) Operand { return Operand{Kind: OperFCmp, FCmp: k} }

// Instruction is one arena-allocated instruction.
type Instruction struct {
	Id       InstId
	Opcode   Opcode
	Operands []Operand
	Result   types.Id
	Block    BlockId
	Users    map[InstId]bool
	Dead     bool

	// PhiIncoming holds (value, predecessor-block) pairs for OpPhi,
	// kept separate from Operands for direct indexing by predecessor.
	PhiIncoming []PhiEdge
}

// PhiEdge is one (value, incoming-block) pair of a phi instruction.
type PhiEdge struct {
	Value Value
	Block BlockId
}

// ValueOperands returns the operands of kind OperValue, in order:
// the instruction's data-flow uses.
func (i *Instruction) ValueOperands() []Value {
	var vs []Value
	for _, o := range i.Operands {
		if o.Kind == OperValue {
			vs = append(vs, o.Value)
		}
	}
	for _, e := range i.PhiIncoming {
		vs = append(vs, e.Value)
	}
	return vs
}

// AsValue returns the Value handle referring to this instruction's
// result (VNone if the instruction produces no result).
func (i *Instruction) AsValue() Value {
	if i.Result == types.Void && i.Opcode != OpAlloca {
		return NoValue
	}
	return Value{Kind: VInstruction, Inst: i.Id, Ty: i.Result}
}

// BasicBlock is one arena-allocated block.
type BasicBlock struct {
	Id    BlockId
	Instrs []InstId // ordered sequence of instruction handles
	Preds []BlockId
	Succs []BlockId

	Live LivenessRecord
}

// LivenessRecord holds the per-block def/live_in/live_out
// sets of instruction ids, populated by pkg/ir/liveness.
type LivenessRecord struct {
	Def     map[InstId]bool
	LiveIn  map[InstId]bool
	LiveOut map[InstId]bool
}

// Terminator returns the block's terminator instruction (always last),
// or nil if the block is (transiently) malformed.
func (b *BasicBlock) Terminator(fn *Function) *Instruction {
	if len(b.Instrs) == 0 {
		return nil
	}
	return fn.Instr(b.Instrs[len(b.Instrs)-1])
}

// Function holds a function's blocks and instructions. A
// function with zero blocks is external: it signals a link-time symbol
// rather than defining a body.
type Function struct {
	Id         FuncId
	Name       string
	Ty         types.Id // function type id
	ParamCount int

	blocks     map[BlockId]*BasicBlock
	order      []BlockId // textual order
	instrs     map[InstId]*Instruction
	nextBlock  int
	nextInst   int
}

// External reports whether the function has no blocks.
func (f *Function) External() bool { return len(f.order) == 0 }

// Order returns the function's blocks in textual order.
func (f *Function) Order() []BlockId { return f.order }

// Block looks up a block by id.
func (f *Function) Block(id BlockId) *BasicBlock { return f.blocks[id] }

// Instr looks up an instruction by id.
func (f *Function) Instr(id InstId) *Instruction { return f.instrs[id] }

// EntryBlock returns the function's first block in textual order.
func (f *Function) EntryBlock() *BasicBlock {
	if len(f.order) == 0 {
		return nil
	}
	return f.blocks[f.order[0]]
}

// NewBlock allocates a fresh, empty block and appends it to the
// textual order.
func (f *Function) NewBlock() *BasicBlock {
	id := BlockId(f.nextBlock)
	f.nextBlock++
	b := &BasicBlock{Id: id}
	f.blocks[id] = b
	f.order = append(f.order, id)
	return b
}

// InsertBlockBefore inserts a fresh block immediately before existing
// in textual order; used by LICM's pre-header insertion.
func (f *Function) InsertBlockBefore(existing BlockId) *BasicBlock {
	id := BlockId(f.nextBlock)
	f.nextBlock++
	b := &BasicBlock{Id: id}
	f.blocks[id] = b
	idx := f.blockIndex(existing)
	f.order = append(f.order, 0)
	copy(f.order[idx+1:], f.order[idx:])
	f.order[idx] = id
	return b
}

func (f *Function) blockIndex(id BlockId) int {
	for i, b := range f.order {
		if b == id {
			return i
		}
	}
	return len(f.order)
}

// AddEdge makes from a predecessor of to and to a successor of from,
// maintaining both sides atomically so the CFG stays symmetric.
func (f *Function) AddEdge(from, to BlockId) {
	fb, tb := f.blocks[from], f.blocks[to]
	fb.Succs = append(fb.Succs, to)
	tb.Preds = append(tb.Preds, from)
}

// RemoveEdge is AddEdge's inverse.
func (f *Function) RemoveEdge(from, to BlockId) {
	fb, tb := f.blocks[from], f.blocks[to]
	fb.Succs = removeBlock(fb.Succs, to)
	tb.Preds = removeBlock(tb.Preds, from)
}

func removeBlock(xs []BlockId, x BlockId) []BlockId {
	out := xs[:0]
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}

// AllocInst allocates a fresh instruction id and record, registers it
// in the arena, but does not insert it into any block; callers use
// Builder or append to BasicBlock.Instrs themselves.
func (f *Function) AllocInst(op Opcode, operands []Operand, result types.Id) *Instruction {
	id := InstId(f.nextInst)
	f.nextInst++
	inst := &Instruction{Id: id, Opcode: op, Operands: operands, Result: result, Users: make(map[InstId]bool)}
	f.instrs[id] = inst
	f.linkOperands(inst)
	return inst
}

// linkOperands adds inst to the user set of every instruction it
// references, maintaining the back-link invariant.
func (f *Function) linkOperands(inst *Instruction) {
	for _, v := range inst.ValueOperands() {
		if v.Kind == VInstruction {
			if def := f.instrs[v.Inst]; def != nil {
				def.Users[inst.Id] = true
			}
		}
	}
}

// unlinkOperands is linkOperands' inverse, called before an
// instruction is removed.
func (f *Function) unlinkOperands(inst *Instruction) {
	for _, v := range inst.ValueOperands() {
		if v.Kind == VInstruction {
			if def := f.instrs[v.Inst]; def != nil {
				delete(def.Users, inst.Id)
			}
		}
	}
}

// RemoveInstr drains inst's back-links and marks it dead. It does not
// compact the arena or renumber other instructions' ids.
func (f *Function) RemoveInstr(id InstId) {
	inst := f.instrs[id]
	if inst == nil || inst.Dead {
		return
	}
	f.unlinkOperands(inst)
	inst.Dead = true
	inst.Operands = nil
	inst.PhiIncoming = nil
	if b := f.blocks[inst.Block]; b != nil {
		out := b.Instrs[:0]
		for _, iid := range b.Instrs {
			if iid != id {
				out = append(out, iid)
			}
		}
		b.Instrs = out
	}
}

// RemoveBlock deletes a block outright: successor phis drop their
// incoming pairs from it, its instructions are removed (draining
// operand back-links), its edges are severed on both sides, and the
// id disappears from the textual order.
func (f *Function) RemoveBlock(id BlockId) {
	b := f.blocks[id]
	if b == nil {
		return
	}
	for _, s := range append([]BlockId(nil), b.Succs...) {
		sb := f.blocks[s]
		if sb == nil {
			continue
		}
		for _, iid := range sb.Instrs {
			if inst := f.instrs[iid]; inst != nil && inst.Opcode == OpPhi {
				f.RemovePhiIncoming(inst, id)
			}
		}
	}
	for _, iid := range append([]InstId(nil), b.Instrs...) {
		f.RemoveInstr(iid)
	}
	for _, s := range append([]BlockId(nil), b.Succs...) {
		f.RemoveEdge(id, s)
	}
	for _, p := range append([]BlockId(nil), b.Preds...) {
		f.RemoveEdge(p, id)
	}
	delete(f.blocks, id)
	f.order = removeBlock(f.order, id)
}

// RemovePhiIncoming drops every incoming pair of phi arriving from
// pred, clearing the dropped value's user back-link when phi no longer
// uses it through any remaining operand.
func (f *Function) RemovePhiIncoming(phi *Instruction, pred BlockId) {
	kept := phi.PhiIncoming[:0]
	var dropped []Value
	for _, e := range phi.PhiIncoming {
		if e.Block == pred {
			dropped = append(dropped, e.Value)
			continue
		}
		kept = append(kept, e)
	}
	phi.PhiIncoming = kept
	for _, v := range dropped {
		if v.Kind != VInstruction {
			continue
		}
		stillUsed := false
		for _, u := range phi.ValueOperands() {
			if u == v {
				stillUsed = true
				break
			}
		}
		if stillUsed {
			continue
		}
		if def := f.instrs[v.Inst]; def != nil {
			delete(def.Users, phi.Id)
		}
	}
}

// ReplaceOperand atomically swaps inst's use of old for nw, updating
// both sides of the back-link.
func (f *Function) ReplaceOperand(inst *Instruction, old, nw Value) {
	changed := false
	for i, o := range inst.Operands {
		if o.Kind == OperValue && o.Value == old {
			inst.Operands[i].Value = nw
			changed = true
		}
	}
	for i, e := range inst.PhiIncoming {
		if e.Value == old {
			inst.PhiIncoming[i].Value = nw
			changed = true
		}
	}
	if !changed {
		return
	}
	if old.Kind == VInstruction {
		if def := f.instrs[old.Inst]; def != nil {
			stillUsed := false
			for _, v := range inst.ValueOperands() {
				if v == old {
					stillUsed = true
					break
				}
			}
			if !stillUsed {
				delete(def.Users, inst.Id)
			}
		}
	}
	if nw.Kind == VInstruction {
		if def := f.instrs[nw.Inst]; def != nil {
			def.Users[inst.Id] = true
		}
	}
}

// ReplaceAllUses rewrites every user of old to use nw instead, then
// clears old's user set. Used by Mem2Reg and CSE.
func (f *Function) ReplaceAllUses(old, nw Value) {
	if old.Kind != VInstruction {
		return
	}
	def := f.instrs[old.Inst]
	if def == nil {
		return
	}
	users := make([]InstId, 0, len(def.Users))
	for u := range def.Users {
		users = append(users, u)
	}
	for _, u := range users {
		f.ReplaceOperand(f.instrs[u], old, nw)
	}
}

// Module owns the type table, global-variables table, and the
// function arena.
type Module struct {
	Types   *types.Table
	Globals []Global
	funcs   map[FuncId]*Function
	order   []FuncId
	nextFn  int
}

// Global describes one module-level variable.
type Global struct {
	Id   GlobalId
	Name string
	Ty   types.Id
}

// NewModule creates an empty module with a fresh type table.
func NewModule() *Module {
	return &Module{Types: types.NewTable(), funcs: make(map[FuncId]*Function)}
}

// NewFunction allocates a function in the module's arena. Its id is
// stable for the module's lifetime.
func (m *Module) NewFunction(name string, ty types.Id, paramCount int) *Function {
	id := FuncId(m.nextFn)
	m.nextFn++
	fn := &Function{
		Id: id, Name: name, Ty: ty, ParamCount: paramCount,
		blocks: make(map[BlockId]*BasicBlock),
		instrs: make(map[InstId]*Instruction),
	}
	m.funcs[id] = fn
	m.order = append(m.order, id)
	return fn
}

// NewGlobal adds a global variable to the module.
func (m *Module) NewGlobal(name string, ty types.Id) GlobalId {
	id := GlobalId(len(m.Globals))
	m.Globals = append(m.Globals, Global{Id: id, Name: name, Ty: ty})
	return id
}

// Function looks up a function by id.
func (m *Module) Function(id FuncId) *Function { return m.funcs[id] }

// Functions returns the module's functions in declaration order.
func (m *Module) Functions() []*Function {
	fns := make([]*Function, len(m.order))
	for i, id := range m.order {
		fns[i] = m.funcs[id]
	}
	return fns
}

// FunctionByName finds the first function with the given name.
func (m *Module) FunctionByName(name string) *Function {
	for _, id := range m.order {
		if m.funcs[id].Name == name {
			return m.funcs[id]
		}
	}
	return nil
}
