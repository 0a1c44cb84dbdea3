// Package x86_64 implements target.Target for x86-64: the System V
// register model loaded from abi.yaml, the opcode definition table the
// MIR lowering and register allocator consume, and the rdx:rax
// division protocol.
//
// Opcode names follow the reg/mem/imm suffix convention (ADDrr32,
// MOVrm64, CMP32ri): the suffix encodes the operand shape so the
// pattern tables in pkg/isel and the encoder in pkg/jit can stay in
// one-to-one correspondence.
package x86_64

import (
	_ "embed"

	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/types"
)

//go:embed abi.yaml
var abiYAML []byte

var (
	abi     target.ABI
	classes map[string]target.RegClass
	opcodes map[string]target.OpcodeDef
)

func init() {
	var err error
	abi, classes, err = target.LoadSpec(abiYAML)
	if err != nil {
		panic(err)
	}
	opcodes = buildOpcodes()
}

// Physical indices of the fixed-role registers, positions in
// abi.yaml's physical lists.
const (
	rax = 0
	rdx = 2
	rbp = 14
	rsp = 15
)

type x86 struct{}

// New returns the x86-64 target.
func New() target.Target { return x86{} }

func (x86) Name() string                           { return "x86_64" }
func (x86) RegClasses() map[string]target.RegClass { return classes }
func (x86) ABI() target.ABI                        { return abi }
func (x86) Opcodes() map[string]target.OpcodeDef   { return opcodes }

func (x86) ClassOf(ty types.Id, tbl *types.Table) string {
	if tbl.IsFloat(ty) {
		return "XMM"
	}
	switch tbl.Kind(ty) {
	case types.KindInt64, types.KindPointer, types.KindFunction:
		return "GR64"
	}
	return "GR32"
}

func (x86) DivRemOpcode(op string) (target.DivRemDef, bool) {
	switch op {
	case "IDIV32":
		return target.DivRemDef{Class: "GR32", Dividend: rax, Remainder: rdx, ExtendOpcode: "CDQ"}, true
	case "IDIV64":
		return target.DivRemDef{Class: "GR64", Dividend: rax, Remainder: rdx, ExtendOpcode: "CQO"}, true
	}
	return target.DivRemDef{}, false
}

func (x86) IsAddImmOpcode(op string) bool { return op == "ADDri32" || op == "ADDri64" }

func (x86) IntImmOpcode(class string) string {
	if class == "GR64" {
		return "MOVri64"
	}
	return "MOVri32"
}

func (x86) FloatLoadOpcode() string { return "MOVSDrm" }

func (x86) LoadOpcode(class string) string {
	switch class {
	case "GR64":
		return "MOVrm64"
	case "XMM":
		return "MOVSDrm"
	}
	return "MOVrm32"
}

func (x86) StoreOpcode(class string) string {
	switch class {
	case "GR64":
		return "MOVmr64"
	case "XMM":
		return "MOVSDmr"
	}
	return "MOVmr32"
}

func (x86) MoveMnemonic(class string) string {
	if class == "XMM" {
		return "movsd"
	}
	return "mov"
}

func (x86) JumpOpcode() string        { return "JMP" }
func (x86) CondJumpOpcode() string    { return "Jcc" }
func (x86) CallOpcode() string        { return "CALL" }
func (x86) RetOpcode() string         { return "RET" }
func (x86) StackAdjustOpcode() string { return "ADDri64" }
func (x86) FrameAddrOpcode() string   { return "LEA64r" }
func (x86) FrameAddrUsesMem() bool    { return true }

func (x86) FramePointerReg() target.PhysReg { return target.PhysReg{Class: "GR64", Index: rbp} }
func (x86) StackPointerReg() target.PhysReg { return target.PhysReg{Class: "GR64", Index: rsp} }

func reg(class string) target.Slot { return target.Slot{Kind: target.SlotReg, Class: class} }
func imm() target.Slot             { return target.Slot{Kind: target.SlotImm} }
func mem() target.Slot             { return target.Slot{Kind: target.SlotMem} }

// twoAddr is the destructive two-operand shape most x86 arithmetic
// shares: the def is tied to operand 0.
func twoAddr(class string, operands ...target.Slot) target.OpcodeDef {
	return target.OpcodeDef{
		Operands: operands,
		Defs:     []target.Slot{reg(class)},
		Tied:     map[int]int{0: 0},
	}
}

func buildOpcodes() map[string]target.OpcodeDef {
	gr32 := func(i int) mir.RegId { return mir.RegId{Class: "GR32", Index: i} }

	return map[string]target.OpcodeDef{
		// Immediate moves.
		"MOVri32": {Operands: []target.Slot{imm()}, Defs: []target.Slot{reg("GR32")}},
		"MOVri64": {Operands: []target.Slot{imm()}, Defs: []target.Slot{reg("GR64")}},

		// Two-address integer arithmetic.
		"ADDrr32":  twoAddr("GR32", reg("GR32"), reg("GR32")),
		"ADDrr64":  twoAddr("GR64", reg("GR64"), reg("GR64")),
		"ADDri32":  twoAddr("GR32", reg("GR32"), imm()),
		"ADDri64":  twoAddr("GR64", reg("GR64"), imm()),
		"SUBrr32":  twoAddr("GR32", reg("GR32"), reg("GR32")),
		"SUBrr64":  twoAddr("GR64", reg("GR64"), reg("GR64")),
		"SUBri32":  twoAddr("GR32", reg("GR32"), imm()),
		"IMULrr32": twoAddr("GR32", reg("GR32"), reg("GR32")),
		"IMULrr64": twoAddr("GR64", reg("GR64"), reg("GR64")),
		"SHLri32":  twoAddr("GR32", reg("GR32"), imm()),
		"SHLri64":  twoAddr("GR64", reg("GR64"), imm()),

		// Three-operand imul r, r/m, imm32: genuinely non-destructive.
		"IMULri32": {Operands: []target.Slot{reg("GR32"), imm()}, Defs: []target.Slot{reg("GR32")}},
		"IMULri64": {Operands: []target.Slot{reg("GR64"), imm()}, Defs: []target.Slot{reg("GR64")}},

		// Division protocol: IDIV reads rdx:rax and the
		// explicit divisor, writes quotient to rax and remainder to
		// rdx; CDQ/CQO sign-extend rax into rdx first. pkg/mirgen emits
		// the surrounding copies via DivRemOpcode.
		"CDQ": {ImplicitUse: []mir.RegId{gr32(rax)}, ImplicitDef: []mir.RegId{gr32(rdx)}},
		"CQO": {
			ImplicitUse: []mir.RegId{{Class: "GR64", Index: rax}},
			ImplicitDef: []mir.RegId{{Class: "GR64", Index: rdx}},
		},
		"IDIV32": {
			Operands:    []target.Slot{reg("GR32")},
			ImplicitUse: []mir.RegId{gr32(rax), gr32(rdx)},
			ImplicitDef: []mir.RegId{gr32(rax), gr32(rdx)},
		},
		"IDIV64": {
			Operands:    []target.Slot{reg("GR64")},
			ImplicitUse: []mir.RegId{{Class: "GR64", Index: rax}, {Class: "GR64", Index: rdx}},
			ImplicitDef: []mir.RegId{{Class: "GR64", Index: rax}, {Class: "GR64", Index: rdx}},
		},

		// Widening.
		"MOVSXrr32to64": {Operands: []target.Slot{reg("GR32")}, Defs: []target.Slot{reg("GR64")}},
		"CVTSI2SD":      {Operands: []target.Slot{reg("GR32")}, Defs: []target.Slot{reg("XMM")}},
		"CVTTSD2SI":     {Operands: []target.Slot{reg("XMM")}, Defs: []target.Slot{reg("GR32")}},

		// Compares define no register: the condition lives in EFLAGS,
		// consumed by the Jcc pkg/mirgen emits right after (the
		// zero-Defs shape is what tells lowerCondBr this is a
		// flags-based target).
		"CMP32ri": {Operands: []target.Slot{reg("GR32"), imm()}},
		"CMP32rr": {Operands: []target.Slot{reg("GR32"), reg("GR32")}},
		"CMP64rr": {Operands: []target.Slot{reg("GR64"), reg("GR64")}},
		"UCOMISD": {Operands: []target.Slot{reg("XMM"), reg("XMM")}},

		// Loads and stores. Store operand order is (value, address),
		// matching the IR builder's Store(src, dst).
		"MOVrm32": {Operands: []target.Slot{mem()}, Defs: []target.Slot{reg("GR32")}},
		"MOVrm64": {Operands: []target.Slot{mem()}, Defs: []target.Slot{reg("GR64")}},
		"MOVSDrm": {Operands: []target.Slot{mem()}, Defs: []target.Slot{reg("XMM")}},
		"MOVmr32": {Operands: []target.Slot{reg("GR32"), mem()}},
		"MOVmr64": {Operands: []target.Slot{reg("GR64"), mem()}},
		"MOVSDmr": {Operands: []target.Slot{reg("XMM"), mem()}},

		"LEA64r": {Operands: []target.Slot{mem()}, Defs: []target.Slot{reg("GR64")}},

		// Scalar-double arithmetic, destructive like the integer forms.
		"ADDSDrr": twoAddr("XMM", reg("XMM"), reg("XMM")),
		"SUBSDrr": twoAddr("XMM", reg("XMM"), reg("XMM")),
		"MULSDrr": twoAddr("XMM", reg("XMM"), reg("XMM")),
		"DIVSDrr": twoAddr("XMM", reg("XMM"), reg("XMM")),

		// Control flow.
		"JMP":  {Operands: []target.Slot{{Kind: target.SlotBlock}}},
		"Jcc":  {Operands: []target.Slot{{}, {Kind: target.SlotBlock}, {Kind: target.SlotBlock}}},
		"CALL": {Operands: []target.Slot{{Kind: target.SlotAddr}}},
		"RET":  {},
	}
}
