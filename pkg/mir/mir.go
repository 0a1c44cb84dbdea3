// Package mir implements the machine-IR layer: machine
// function/instruction/register/frame-object, with explicit register
// use/def back-links maintained as an invariant of every mutation, the
// way pkg/ir maintains its instruction user sets. One Instruction type
// carrying a target-opcode name plus an Operand list serves every
// pkg/target implementation.
package mir

import "github.com/vellumlang/vellum/pkg/types"

type (
	InstId  int
	BlockId int
)

// RegId names a register: either physical (reg-class +
// index within class) or virtual (reg-class + fresh id).
type RegId struct {
	Class     string
	Index     int // physical-register index within the class, if Virtual is false
	Virtual   bool
	VirtualId int // fresh id within the class, if Virtual is true
}

func (r RegId) Equal(o RegId) bool {
	return r.Class == o.Class && r.Virtual == o.Virtual &&
		((r.Virtual && r.VirtualId == o.VirtualId) || (!r.Virtual && r.Index == o.Index))
}

// OperandKind tags one slot of an Instruction's operand list, exactly
// mirroring the DAG operand-leaf variants carried forward into MIR.
type OperandKind int

const (
	OperReg OperandKind = iota
	OperImm
	OperImmF
	OperFrameIndex
	OperBlock
	OperAddress
	OperCondI
	OperCondF
	OperMem
	OperConstPool // index into the owning function's float constant pool
)

// MemOperand encodes one addressing mode: base,
// base+offset, base+frame-index(+offset), base+align×index.
type MemOperand struct {
	Base        RegId
	HasBase     bool
	FrameIndex  int
	HasFrameIdx bool
	Offset      int64
	Index       RegId
	HasIndex    bool
	Scale       int64
}

// Operand is one machine-instruction operand.
type Operand struct {
	Kind  OperandKind
	Reg   RegId
	ImmI  int64
	ImmF  float64
	Frame int
	Block BlockId
	Addr  string
	CondI int // target-defined condition-code tag (e.g. ir.ICmpKind)
	CondF int
	Mem   MemOperand
	Pool  int
}

func RegOperand(r RegId) Operand        { return Operand{Kind: OperReg, Reg: r} }
func ImmOperand(v int64) Operand        { return Operand{Kind: OperImm, ImmI: v} }
func ImmFOperand(v float64) Operand     { return Operand{Kind: OperImmF, ImmF: v} }
func FrameIndexOperand(i int) Operand   { return Operand{Kind: OperFrameIndex, Frame: i} }
func BlockOperand(b BlockId) Operand    { return Operand{Kind: OperBlock, Block: b} }
func AddressOperand(s string) Operand   { return Operand{Kind: OperAddress, Addr: s} }
func MemOperandOf(m MemOperand) Operand { return Operand{Kind: OperMem, Mem: m} }
func ConstPoolOperand(i int) Operand    { return Operand{Kind: OperConstPool, Pool: i} }

// Instruction is one machine instruction: a target
// opcode, an operand list, an explicit def list, implicit-def/use
// lists, a parent block, and a tied-def→tied-use index map.
type Instruction struct {
	Id          InstId
	Opcode      string
	Operands    []Operand
	Defs        []Operand // always OperReg
	ImplicitUse []RegId
	ImplicitDef []RegId
	Tied        map[int]int // def-index -> use-index (operand index) within Operands
	Block       BlockId
}

// UsedRegs returns every register this instruction reads, including
// implicit uses.
func (i *Instruction) UsedRegs() []RegId {
	var rs []RegId
	for _, o := range i.Operands {
		if o.Kind == OperReg {
			rs = append(rs, o.Reg)
		}
		if o.Kind == OperMem {
			if o.Mem.HasBase {
				rs = append(rs, o.Mem.Base)
			}
			if o.Mem.HasIndex {
				rs = append(rs, o.Mem.Index)
			}
		}
	}
	rs = append(rs, i.ImplicitUse...)
	return rs
}

// DefinedRegs returns every register this instruction writes, including
// implicit defs.
func (i *Instruction) DefinedRegs() []RegId {
	var rs []RegId
	for _, d := range i.Defs {
		rs = append(rs, d.Reg)
	}
	rs = append(rs, i.ImplicitDef...)
	return rs
}

// BasicBlock is one machine basic block.
type BasicBlock struct {
	Id     BlockId
	Instrs []InstId
	Preds  []BlockId
	Succs  []BlockId
}

// FrameObjectKind tags a frame object's role.
type FrameObjectKind int

const (
	LocalSlot FrameObjectKind = iota
	ArgumentSlot
)

// FrameObject is one stack-frame slot: a kind, a type, and an index;
// its byte Offset is assigned during prologue/epilogue insertion
// (pkg/finalize), not here.
type FrameObject struct {
	Kind   FrameObjectKind
	Ty     types.Id
	Index  int
	Offset int64
	Set    bool // whether Offset has been assigned yet
}

// RegInfo is one virtual register's register-info record: reg-class,
// defs/uses sets, optional physical assignment.
type RegInfo struct {
	Class    string
	Defs     map[InstId]bool
	Uses     map[InstId]bool
	AssignedIndex int
	Assigned bool
}

// Function is one machine function: blocks + instructions in arenas,
// a frame-object manager, a float constant pool, register-info table
// for every virtual register, and an "is external" flag.
type Function struct {
	Name       string
	External   bool
	Ty         types.Id

	blocks    map[BlockId]*BasicBlock
	order     []BlockId
	instrs    map[InstId]*Instruction
	nextBlock int
	nextInst  int

	FrameObjects []*FrameObject

	ConstPool []float64 // float literals referenced by label at emission

	virtCounters map[string]int // next virtual id per class
	RegInfos     map[string]map[int]*RegInfo // class -> virtual id -> info

	StackSize int64 // assigned by pkg/finalize
}

// NewFunction creates an empty machine function.
func NewFunction(name string, ty types.Id) *Function {
	return &Function{
		Name: name, Ty: ty,
		blocks:       make(map[BlockId]*BasicBlock),
		instrs:       make(map[InstId]*Instruction),
		virtCounters: make(map[string]int),
		RegInfos:     make(map[string]map[int]*RegInfo),
	}
}

func (f *Function) Order() []BlockId        { return f.order }
func (f *Function) Block(id BlockId) *BasicBlock { return f.blocks[id] }
func (f *Function) Instr(id InstId) *Instruction { return f.instrs[id] }

func (f *Function) NewBlock() *BasicBlock {
	id := BlockId(f.nextBlock)
	f.nextBlock++
	b := &BasicBlock{Id: id}
	f.blocks[id] = b
	f.order = append(f.order, id)
	return b
}

// AddEdge maintains both sides of a CFG edge atomically.
func (f *Function) AddEdge(from, to BlockId) {
	fb, tb := f.blocks[from], f.blocks[to]
	fb.Succs = append(fb.Succs, to)
	tb.Preds = append(tb.Preds, from)
}

// NewVirtualReg allocates a fresh virtual register in class and
// registers its RegInfo.
func (f *Function) NewVirtualReg(class string) RegId {
	id := f.virtCounters[class]
	f.virtCounters[class]++
	if f.RegInfos[class] == nil {
		f.RegInfos[class] = make(map[int]*RegInfo)
	}
	f.RegInfos[class][id] = &RegInfo{Class: class, Defs: map[InstId]bool{}, Uses: map[InstId]bool{}}
	return RegId{Class: class, Virtual: true, VirtualId: id}
}

// Info looks up the RegInfo of a virtual register.
func (f *Function) Info(r RegId) *RegInfo {
	if !r.Virtual {
		return nil
	}
	m := f.RegInfos[r.Class]
	if m == nil {
		return nil
	}
	return m[r.VirtualId]
}

// NewFrameObject allocates a frame slot.
func (f *Function) NewFrameObject(kind FrameObjectKind, ty types.Id) *FrameObject {
	obj := &FrameObject{Kind: kind, Ty: ty, Index: len(f.FrameObjects)}
	f.FrameObjects = append(f.FrameObjects, obj)
	return obj
}

// NewConstant interns a float64 literal in the constant pool, returning
// its index (used to build a label such as ".LCPI<fn><idx>" at
// emission time).
func (f *Function) NewConstant(v float64) int {
	for i, c := range f.ConstPool {
		if c == v {
			return i
		}
	}
	f.ConstPool = append(f.ConstPool, v)
	return len(f.ConstPool) - 1
}

// Emit appends a fully-formed instruction to the end of block b,
// registering def/use back-links on every register it mentions
//.
func (f *Function) Emit(b *BasicBlock, opcode string, operands, defs []Operand, implicitUse, implicitDef []RegId, tied map[int]int) *Instruction {
	id := InstId(f.nextInst)
	f.nextInst++
	inst := &Instruction{
		Id: id, Opcode: opcode, Operands: operands, Defs: defs,
		ImplicitUse: implicitUse, ImplicitDef: implicitDef, Tied: tied, Block: b.Id,
	}
	f.instrs[id] = inst
	b.Instrs = append(b.Instrs, id)
	f.linkRegs(inst)
	return inst
}

// InsertBefore inserts inst immediately before position idx (an index
// into b.Instrs) and links its registers.
func (f *Function) InsertBefore(b *BasicBlock, idx int, opcode string, operands, defs []Operand, implicitUse, implicitDef []RegId, tied map[int]int) *Instruction {
	id := InstId(f.nextInst)
	f.nextInst++
	inst := &Instruction{
		Id: id, Opcode: opcode, Operands: operands, Defs: defs,
		ImplicitUse: implicitUse, ImplicitDef: implicitDef, Tied: tied, Block: b.Id,
	}
	f.instrs[id] = inst
	b.Instrs = append(b.Instrs, 0)
	copy(b.Instrs[idx+1:], b.Instrs[idx:])
	b.Instrs[idx] = id
	f.linkRegs(inst)
	return inst
}

// RemoveInstr deletes inst from its block and drains its register
// back-links.
func (f *Function) RemoveInstr(id InstId) {
	inst := f.instrs[id]
	if inst == nil {
		return
	}
	f.unlinkRegs(inst)
	delete(f.instrs, id)
	b := f.blocks[inst.Block]
	if b == nil {
		return
	}
	out := b.Instrs[:0]
	for _, iid := range b.Instrs {
		if iid != id {
			out = append(out, iid)
		}
	}
	b.Instrs = out
}

func (f *Function) linkRegs(inst *Instruction) {
	for _, r := range inst.UsedRegs() {
		if info := f.Info(r); info != nil {
			info.Uses[inst.Id] = true
		}
	}
	for _, r := range inst.DefinedRegs() {
		if info := f.Info(r); info != nil {
			info.Defs[inst.Id] = true
		}
	}
}

func (f *Function) unlinkRegs(inst *Instruction) {
	for _, r := range inst.UsedRegs() {
		if info := f.Info(r); info != nil {
			delete(info.Uses, inst.Id)
		}
	}
	for _, r := range inst.DefinedRegs() {
		if info := f.Info(r); info != nil {
			delete(info.Defs, inst.Id)
		}
	}
}

// PatchOperands replaces inst's operand list wholesale, re-registering
// register back-links for the new operands. Used by pkg/mirgen's phi
// fix-up, which only learns a phi's incoming registers once every
// block has been lowered.
func (f *Function) PatchOperands(inst *Instruction, operands []Operand) {
	f.unlinkRegs(inst)
	inst.Operands = operands
	f.linkRegs(inst)
}

// ReplaceReg atomically replaces every mention of old with nw across
// inst's operands/defs/implicit lists, updating both sides of the
// register back-link.
func (f *Function) ReplaceReg(inst *Instruction, old, nw RegId) {
	replace := func(r RegId) RegId {
		if r.Equal(old) {
			return nw
		}
		return r
	}
	for i, o := range inst.Operands {
		if o.Kind == OperReg {
			inst.Operands[i].Reg = replace(o.Reg)
		}
		if o.Kind == OperMem {
			if o.Mem.HasBase {
				inst.Operands[i].Mem.Base = replace(o.Mem.Base)
			}
			if o.Mem.HasIndex {
				inst.Operands[i].Mem.Index = replace(o.Mem.Index)
			}
		}
	}
	for i, d := range inst.Defs {
		inst.Defs[i].Reg = replace(d.Reg)
	}
	for i, r := range inst.ImplicitUse {
		inst.ImplicitUse[i] = replace(r)
	}
	for i, r := range inst.ImplicitDef {
		inst.ImplicitDef[i] = replace(r)
	}
	if info := f.Info(old); info != nil {
		delete(info.Uses, inst.Id)
		delete(info.Defs, inst.Id)
	}
	if info := f.Info(nw); info != nil {
		info.Uses[inst.Id] = true
		info.Defs[inst.Id] = true
	}
}

// Module is the machine-module artefact: one Function per IR function,
// sharing the IR's type table for frame-object sizing.
type Module struct {
	Functions []*Function
	Types     *types.Table
}
