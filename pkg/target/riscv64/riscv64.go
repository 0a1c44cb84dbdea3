// Package riscv64 implements target.Target for RISC-V RV64GC with the
// LP64D calling convention. Where x86-64 is built around destructive
// two-operand encodings, flags-based compares and a fixed-register
// division, every opcode here is a plain three-address instruction:
// no tied operands, no implicit registers, compares that define an
// ordinary 0/1 result tested by BNEZ.
package riscv64

import (
	_ "embed"

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

// Hardware numbers of the fixed-role registers.
const (
	sp = 2
	s0 = 8 // frame pointer
)

type riscv struct{}

// New returns the RISC-V RV64 target.
func New() target.Target { return riscv{} }

func (riscv) Name() string                           { return "riscv64" }
func (riscv) RegClasses() map[string]target.RegClass { return classes }
func (riscv) ABI() target.ABI                        { return abi }
func (riscv) Opcodes() map[string]target.OpcodeDef   { return opcodes }

func (riscv) ClassOf(ty types.Id, tbl *types.Table) string {
	if tbl.IsFloat(ty) {
		return "FPR"
	}
	return "GPR"
}

// DivRemOpcode always reports no entry: DIV/REM are ordinary
// three-address opcodes with no fixed-register protocol.
func (riscv) DivRemOpcode(op string) (target.DivRemDef, bool) {
	return target.DivRemDef{}, false
}

func (riscv) IsAddImmOpcode(op string) bool { return op == "ADDI" }

func (riscv) IntImmOpcode(class string) string { return "LI" }
func (riscv) FloatLoadOpcode() string          { return "FLD" }

func (riscv) LoadOpcode(class string) string {
	if class == "FPR" {
		return "FLD"
	}
	return "LD"
}

func (riscv) StoreOpcode(class string) string {
	if class == "FPR" {
		return "FSD"
	}
	return "SD"
}

func (riscv) MoveMnemonic(class string) string {
	if class == "FPR" {
		return "fmv.d"
	}
	return "mv"
}

func (riscv) JumpOpcode() string        { return "J" }
func (riscv) CondJumpOpcode() string    { return "BNEZ" }
func (riscv) CallOpcode() string        { return "CALL" }
func (riscv) RetOpcode() string         { return "RET" }
func (riscv) StackAdjustOpcode() string { return "ADDI" }
func (riscv) FrameAddrOpcode() string   { return "ADDI" }
func (riscv) FrameAddrUsesMem() bool    { return false }

func (riscv) FramePointerReg() target.PhysReg { return target.PhysReg{Class: "GPR", Index: s0} }
func (riscv) StackPointerReg() target.PhysReg { return target.PhysReg{Class: "GPR", Index: sp} }

func reg(class string) target.Slot { return target.Slot{Kind: target.SlotReg, Class: class} }
func imm() target.Slot             { return target.Slot{Kind: target.SlotImm} }
func mem() target.Slot             { return target.Slot{Kind: target.SlotMem} }

func rrr(class string) target.OpcodeDef {
	return target.OpcodeDef{Operands: []target.Slot{reg(class), reg(class)}, Defs: []target.Slot{reg(class)}}
}

func rri(class string) target.OpcodeDef {
	return target.OpcodeDef{Operands: []target.Slot{reg(class), imm()}, Defs: []target.Slot{reg(class)}}
}

func buildOpcodes() map[string]target.OpcodeDef {
	return map[string]target.OpcodeDef{
		"LI": {Operands: []target.Slot{imm()}, Defs: []target.Slot{reg("GPR")}},
		"MV": {Operands: []target.Slot{reg("GPR")}, Defs: []target.Slot{reg("GPR")}},

		"ADD":  rrr("GPR"),
		"SUB":  rrr("GPR"),
		"MUL":  rrr("GPR"),
		"DIV":  rrr("GPR"),
		"REM":  rrr("GPR"),
		"SLL":  rrr("GPR"),
		"ADDI": rri("GPR"),
		"SLLI": rri("GPR"),

		"FADD.D": rrr("FPR"),
		"FSUB.D": rrr("FPR"),
		"FMUL.D": rrr("FPR"),
		"FDIV.D": rrr("FPR"),

		"FCVT.D.L": {Operands: []target.Slot{reg("GPR")}, Defs: []target.Slot{reg("FPR")}},
		"FCVT.L.D": {Operands: []target.Slot{reg("FPR")}, Defs: []target.Slot{reg("GPR")}},

		// Compares define a 0/1 GPR result (the non-empty Defs is what
		// tells lowerCondBr to branch on the register with BNEZ rather
		// than expect condition flags).
		"SLT":   {Operands: []target.Slot{reg("GPR"), reg("GPR")}, Defs: []target.Slot{reg("GPR")}},
		"FLT.D": {Operands: []target.Slot{reg("FPR"), reg("FPR")}, Defs: []target.Slot{reg("GPR")}},

		// Loads and stores; store operand order is (value, address).
		"LD":  {Operands: []target.Slot{mem()}, Defs: []target.Slot{reg("GPR")}},
		"FLD": {Operands: []target.Slot{mem()}, Defs: []target.Slot{reg("FPR")}},
		"SD":  {Operands: []target.Slot{reg("GPR"), mem()}},
		"FSD": {Operands: []target.Slot{reg("FPR"), mem()}},

		"J":    {Operands: []target.Slot{{Kind: target.SlotBlock}}},
		"BNEZ": {Operands: []target.Slot{reg("GPR"), {Kind: target.SlotBlock}, {Kind: target.SlotBlock}}},
		"CALL": {Operands: []target.Slot{{Kind: target.SlotAddr}}},
		"RET":  {},
	}
}
