package jit

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/mir"
)

// x86RegNum maps pkg/target/x86_64's RegClass.Physical index (ordered
// EAX..R15D, EBP, ESP; see abi.yaml) to the real ModRM/REX register
// number (RSP=4, RBP=5 in the real encoding, unlike their position in
// our physical-name table).
var x86RegNum = [16]byte{0, 1, 2, 3, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 5, 4}

// patch records a branch/call site whose 4-byte rel32 displacement is
// filled in once every function's final address is known.
type patch struct {
	offset int    // byte offset of the rel32 field within the buffer
	target string // target function name, or "" for an intra-function block label
	block  mir.BlockId
	isCall bool
}

// constPatch records a MOVSDrm RIP-relative load of pool entry idx
// whose disp32 field is filled in once that function's constant pool
// has been appended to the code stream, after all of its instructions.
type constPatch struct {
	offset int // byte offset of the disp32 field within the buffer
	idx    int // index into the owning function's ConstPool
}

// x86Encoder lowers every finalised mir.Function in a module to one
// contiguous byte stream. Intra-function jump/branch targets resolve
// immediately once that function's own blocks are all encoded (block
// ids are only unique within a function); CALL targets defer to a
// module-wide patch list the caller resolves once every function's
// base address is known.
type x86Encoder struct {
	code    []byte
	patches []patch      // CALL targets, module-wide, resolved by Compile
	jumps   []patch      // JMP/Jcc targets, consumed per-function by encodeFunction
	consts  []constPatch // MOVSDrm constant-pool loads, consumed per-function by encodeFunction
}

func newX86Encoder() *x86Encoder {
	return &x86Encoder{}
}

func (e *x86Encoder) emit(b ...byte) { e.code = append(e.code, b...) }

func (e *x86Encoder) emit32(v int32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	e.code = append(e.code, buf[:]...)
}

func (e *x86Encoder) emit64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	e.code = append(e.code, buf[:]...)
}

// regNum returns the real ModRM/REX register number for r. XMM is its
// own register file with no RSP/RBP-style renumbering, so the GPR
// remap table only applies to r's GPR classes (GR32/GR64).
func regNum(r mir.RegId) byte {
	if r.Class == "XMM" {
		return byte(r.Index)
	}
	if int(r.Index) < len(x86RegNum) {
		return x86RegNum[r.Index]
	}
	return byte(r.Index)
}

func isXMM(r mir.RegId) bool { return r.Class == "XMM" }

// rex emits a REX prefix (or none, if w/x/r/b are all clear and no
// prefix is structurally required; none of the opcodes this encoder
// emits need a mandatory REX for 8-bit register disambiguation).
func (e *x86Encoder) rex(w bool, reg, rm byte) {
	r := (reg >> 3) & 1
	b := (rm >> 3) & 1
	if !w && r == 0 && b == 0 {
		return
	}
	prefix := byte(0x40)
	if w {
		prefix |= 0x08
	}
	prefix |= r << 2
	prefix |= b
	e.emit(prefix)
}

func (e *x86Encoder) modrmReg(reg, rm byte) {
	e.emit(0xC0 | ((reg & 7) << 3) | (rm & 7))
}

// modrmMem emits a ModRM(+SIB) addressing reg against base+disp32.
// Always encodes a 4-byte displacement (mod=10) to sidestep the
// mod=00/rm=5 RIP-relative special case, and adds the mandatory SIB
// byte when base is RSP (rm field 4 always requires one).
func (e *x86Encoder) modrmMem(reg, base byte, disp int32) {
	e.emit(0x80 | ((reg & 7) << 3) | (base & 7))
	if base&7 == 4 {
		e.emit(0x24) // SIB: scale=0, no index, base=RSP
	}
	e.emit32(disp)
}

// modrmRipRel emits a ModRM byte addressing reg against [rip+disp32]
// (mod=00, rm=101), the one x86-64 addressing mode modrmMem cannot
// express. The disp32 itself is emitted separately, as a zero
// placeholder filled in by a constPatch once the target offset is
// known.
func (e *x86Encoder) modrmRipRel(reg byte) {
	e.emit(((reg & 7) << 3) | 0x05)
}

func condJcc(kind mir.OperandKind, code int) byte {
	if kind == mir.OperCondF {
		switch ir.FCmpKind(code) {
		case ir.FCmpOeq:
			return 0x84
		case ir.FCmpOne:
			return 0x85
		case ir.FCmpOlt:
			return 0x82
		case ir.FCmpOle:
			return 0x86
		case ir.FCmpOgt:
			return 0x87
		case ir.FCmpOge:
			return 0x83
		}
	}
	switch ir.ICmpKind(code) {
	case ir.ICmpEq:
		return 0x84
	case ir.ICmpNe:
		return 0x85
	case ir.ICmpSlt:
		return 0x8C
	case ir.ICmpSle:
		return 0x8E
	case ir.ICmpSgt:
		return 0x8F
	case ir.ICmpSge:
		return 0x8D
	}
	return 0x85
}

// encodeFunction appends fn's machine code to e.code, recording each
// block's start offset (relative to the function's own start). Jumps
// and constant-pool loads are resolved here once the function's own
// code is laid out; CALL sites stay in e.patches for the caller to
// resolve once every function in the module has been laid out.
func (e *x86Encoder) encodeFunction(fn *mir.Function) error {
	base := len(e.code)
	blockOffset := map[mir.BlockId]int{}
	e.jumps = e.jumps[:0]
	e.consts = e.consts[:0]
	for _, bid := range fn.Order() {
		blockOffset[bid] = len(e.code) - base
		b := fn.Block(bid)
		for _, iid := range b.Instrs {
			if err := e.encodeInstr(fn.Instr(iid)); err != nil {
				return fmt.Errorf("function %s: %w", fn.Name, err)
			}
		}
	}
	for _, p := range e.jumps {
		target := base + blockOffset[p.block]
		rel := int32(target - (p.offset + 4))
		binary.LittleEndian.PutUint32(e.code[p.offset:], uint32(rel))
	}
	if len(fn.ConstPool) > 0 {
		for len(e.code)%8 != 0 {
			e.emit(0)
		}
		poolOffset := make([]int, len(fn.ConstPool))
		for i, v := range fn.ConstPool {
			poolOffset[i] = len(e.code)
			e.emit64(int64(math.Float64bits(v)))
		}
		for _, p := range e.consts {
			target := poolOffset[p.idx]
			rel := int32(target - (p.offset + 4))
			binary.LittleEndian.PutUint32(e.code[p.offset:], uint32(rel))
		}
	}
	return nil
}

func (e *x86Encoder) encodeInstr(inst *mir.Instruction) error {
	op := inst.Opcode
	switch op {
	case "MOVri32":
		dst := regNum(inst.Defs[0].Reg)
		e.rex(false, 0, dst)
		e.emit(0xB8 | (dst & 7))
		e.emit32(int32(inst.Operands[0].ImmI))
		return nil
	case "MOVri64":
		dst := regNum(inst.Defs[0].Reg)
		e.rex(true, 0, dst)
		e.emit(0xB8 | (dst & 7))
		e.emit64(inst.Operands[0].ImmI)
		return nil
	case "Copy":
		return e.encodeCopy(inst)
	case "ADDrr32", "ADDrr64":
		return e.encodeArithRR(inst, 0x01, op == "ADDrr64")
	case "SUBrr32", "SUBrr64":
		return e.encodeArithRR(inst, 0x29, op == "SUBrr64")
	case "ADDri32", "ADDri64":
		return e.encodeArithRI(inst, 0, op == "ADDri64")
	case "SUBri32":
		return e.encodeArithRI(inst, 5, false)
	case "SHLri32", "SHLri64":
		dst := regNum(inst.Defs[0].Reg)
		e.rex(op == "SHLri64", 0, dst)
		e.emit(0xC1)
		e.modrmReg(4, dst)
		e.emit(byte(inst.Operands[1].ImmI))
		return nil
	case "IMULrr32", "IMULrr64":
		dst, src := regNum(inst.Defs[0].Reg), regNum(inst.Operands[1].Reg)
		e.rex(op == "IMULrr64", dst, src)
		e.emit(0x0F, 0xAF)
		e.modrmReg(dst, src)
		return nil
	case "IMULri32", "IMULri64":
		// three-operand form: imul dst, src, imm32
		dst, src := regNum(inst.Defs[0].Reg), regNum(inst.Operands[0].Reg)
		e.rex(op == "IMULri64", dst, src)
		e.emit(0x69)
		e.modrmReg(dst, src)
		e.emit32(int32(inst.Operands[1].ImmI))
		return nil
	case "CDQ":
		e.emit(0x99)
		return nil
	case "CQO":
		e.rex(true, 0, 0)
		e.emit(0x99)
		return nil
	case "IDIV32", "IDIV64":
		rm := regNum(inst.Operands[0].Reg)
		e.rex(op == "IDIV64", 0, rm)
		e.emit(0xF7)
		e.modrmReg(7, rm)
		return nil
	case "CMP32ri":
		rm := regNum(inst.Operands[0].Reg)
		e.rex(false, 0, rm)
		e.emit(0x81)
		e.modrmReg(7, rm)
		e.emit32(int32(inst.Operands[1].ImmI))
		return nil
	case "CMP32rr", "CMP64rr":
		lhs, rhs := regNum(inst.Operands[0].Reg), regNum(inst.Operands[1].Reg)
		e.rex(op == "CMP64rr", rhs, lhs)
		e.emit(0x39)
		e.modrmReg(rhs, lhs)
		return nil
	case "MOVrm32", "MOVrm64":
		return e.encodeLoad(inst, 0x8B, op == "MOVrm64")
	case "MOVmr32", "MOVmr64":
		return e.encodeStore(inst, 0x89, op == "MOVmr64")
	case "LEA64r":
		dst := regNum(inst.Defs[0].Reg)
		mem := inst.Operands[0].Mem
		base := regNum(mem.Base)
		e.rex(true, dst, base)
		e.emit(0x8D)
		e.modrmMem(dst, base, int32(mem.Offset))
		return nil
	case "MOVSXrr32to64":
		dst, src := regNum(inst.Defs[0].Reg), regNum(inst.Operands[0].Reg)
		e.rex(true, dst, src)
		e.emit(0x63)
		e.modrmReg(dst, src)
		return nil
	case "MOVSDrm":
		if inst.Operands[0].Kind == mir.OperConstPool {
			return e.encodeConstPoolLoad(inst)
		}
		return e.encodeXMMLoad(inst)
	case "MOVSDmr":
		return e.encodeXMMStore(inst)
	case "ADDSDrr":
		return e.encodeXMMArith(inst, 0x58)
	case "SUBSDrr":
		return e.encodeXMMArith(inst, 0x5C)
	case "MULSDrr":
		return e.encodeXMMArith(inst, 0x59)
	case "DIVSDrr":
		return e.encodeXMMArith(inst, 0x5E)
	case "UCOMISD":
		lhs, rhs := regNum(inst.Operands[0].Reg), regNum(inst.Operands[1].Reg)
		e.emit(0x66)
		e.rex(false, lhs, rhs)
		e.emit(0x0F, 0x2E)
		e.modrmReg(lhs, rhs)
		return nil
	case "CVTSI2SD":
		dst, src := regNum(inst.Defs[0].Reg), regNum(inst.Operands[0].Reg)
		e.emit(0xF2)
		e.rex(false, dst, src)
		e.emit(0x0F, 0x2A)
		e.modrmReg(dst, src)
		return nil
	case "CVTTSD2SI":
		dst, src := regNum(inst.Defs[0].Reg), regNum(inst.Operands[0].Reg)
		e.emit(0xF2)
		e.rex(false, dst, src)
		e.emit(0x0F, 0x2C)
		e.modrmReg(dst, src)
		return nil
	case "JMP":
		e.jumps = append(e.jumps, patch{offset: len(e.code) + 1, block: inst.Operands[0].Block})
		e.emit(0xE9)
		e.emit32(0)
		return nil
	case "Jcc":
		cond := inst.Operands[0]
		if cond.Kind != mir.OperCondI && cond.Kind != mir.OperCondF {
			// register-tested branch (RISC-V shape); unreachable on the
			// x86-64 encoder since CMP/UCOMISD always define no result.
			return fmt.Errorf("jit: unsupported register-form conditional branch on x86-64")
		}
		code := condJcc(cond.Kind, cond.CondI)
		if cond.Kind == mir.OperCondF {
			code = condJcc(cond.Kind, cond.CondF)
		}
		e.jumps = append(e.jumps, patch{offset: len(e.code) + 2, block: inst.Operands[1].Block})
		e.emit(0x0F, code)
		e.emit32(0)
		return nil
	case "CALL":
		e.patches = append(e.patches, patch{offset: len(e.code) + 1, target: inst.Operands[0].Addr, isCall: true})
		e.emit(0xE8)
		e.emit32(0)
		return nil
	case "RET":
		e.emit(0xC3)
		return nil
	default:
		return fmt.Errorf("jit: x86-64 encoder has no case for opcode %q", op)
	}
}

func (e *x86Encoder) encodeCopy(inst *mir.Instruction) error {
	dst, src := inst.Defs[0].Reg, inst.Operands[0].Reg
	if isXMM(dst) || isXMM(src) {
		d, s := regNum(dst), regNum(src)
		e.emit(0xF2)
		e.rex(false, d, s)
		e.emit(0x0F, 0x10)
		e.modrmReg(d, s)
		return nil
	}
	d, s := regNum(dst), regNum(src)
	w := dst.Class == "GR64"
	e.rex(w, s, d)
	e.emit(0x89)
	e.modrmReg(s, d)
	return nil
}

func (e *x86Encoder) encodeArithRR(inst *mir.Instruction, opcode byte, w bool) error {
	dst, src := regNum(inst.Defs[0].Reg), regNum(inst.Operands[1].Reg)
	e.rex(w, src, dst)
	e.emit(opcode)
	e.modrmReg(src, dst)
	return nil
}

func (e *x86Encoder) encodeArithRI(inst *mir.Instruction, ext byte, w bool) error {
	dst := regNum(inst.Defs[0].Reg)
	e.rex(w, 0, dst)
	e.emit(0x81)
	e.modrmReg(ext, dst)
	e.emit32(int32(inst.Operands[1].ImmI))
	return nil
}

func (e *x86Encoder) encodeLoad(inst *mir.Instruction, opcode byte, w bool) error {
	dst := regNum(inst.Defs[0].Reg)
	mem := inst.Operands[0].Mem
	base := regNum(mem.Base)
	e.rex(w, dst, base)
	e.emit(opcode)
	e.modrmMem(dst, base, int32(mem.Offset))
	return nil
}

func (e *x86Encoder) encodeStore(inst *mir.Instruction, opcode byte, w bool) error {
	src := regNum(inst.Operands[0].Reg)
	mem := inst.Operands[1].Mem
	base := regNum(mem.Base)
	e.rex(w, src, base)
	e.emit(opcode)
	e.modrmMem(src, base, int32(mem.Offset))
	return nil
}

// encodeConstPoolLoad emits a MOVSD load of a function-local float
// constant through a RIP-relative operand, the entry's address
// patched in once encodeFunction appends the constant pool after the
// function's last instruction.
func (e *x86Encoder) encodeConstPoolLoad(inst *mir.Instruction) error {
	dst := regNum(inst.Defs[0].Reg)
	e.emit(0xF2)
	e.rex(false, dst, 0)
	e.emit(0x0F, 0x10)
	e.modrmRipRel(dst)
	e.consts = append(e.consts, constPatch{offset: len(e.code), idx: inst.Operands[0].Pool})
	e.emit32(0)
	return nil
}

func (e *x86Encoder) encodeXMMLoad(inst *mir.Instruction) error {
	dst := regNum(inst.Defs[0].Reg)
	mem := inst.Operands[0].Mem
	base := regNum(mem.Base)
	e.emit(0xF2)
	e.rex(false, dst, base)
	e.emit(0x0F, 0x10)
	e.modrmMem(dst, base, int32(mem.Offset))
	return nil
}

func (e *x86Encoder) encodeXMMStore(inst *mir.Instruction) error {
	src := regNum(inst.Operands[0].Reg)
	mem := inst.Operands[1].Mem
	base := regNum(mem.Base)
	e.emit(0xF2)
	e.rex(false, src, base)
	e.emit(0x0F, 0x11)
	e.modrmMem(src, base, int32(mem.Offset))
	return nil
}

func (e *x86Encoder) encodeXMMArith(inst *mir.Instruction, opcode byte) error {
	dst, src := regNum(inst.Defs[0].Reg), regNum(inst.Operands[1].Reg)
	e.emit(0xF2)
	e.rex(false, dst, src)
	e.emit(0x0F, opcode)
	e.modrmReg(dst, src)
	return nil
}
