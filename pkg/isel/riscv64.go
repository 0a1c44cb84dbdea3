package isel

import (
	"github.com/vellumlang/vellum/pkg/ir"
)

// RiscV64Patterns is the RISC-V RV64GC instruction-selection pattern
// table. Unlike x86-64's destructive two-operand forms, every
// arithmetic arm is three-address, matching the RISC-V encoding
// directly.
func RiscV64Patterns() Table {
	return Table{
		ir.OpAdd: {
			// ImmAny rather than a fixed width: GEP lowering produces
			// i64-typed byte offsets and the frontend produces i32
			// literals, and ADDI takes either.
			{Opcode: "ADDI", Operands: []OperandPred{RegOrImm("GPR"), ImmAny}, Commutative: true},
			{Opcode: "ADD", Operands: []OperandPred{RegOrImm("GPR"), RegOrImm("GPR")}, Commutative: true},
			{Opcode: "FADD.D", Operands: []OperandPred{RegOrImm("FPR"), RegOrImm("FPR")}, Commutative: true},
		},
		ir.OpSub: {
			{Opcode: "SUB", Operands: []OperandPred{RegOrImm("GPR"), RegOrImm("GPR")}},
			{Opcode: "FSUB.D", Operands: []OperandPred{RegOrImm("FPR"), RegOrImm("FPR")}},
		},
		ir.OpMul: {
			{Opcode: "MUL", Operands: []OperandPred{RegOrImm("GPR"), RegOrImm("GPR")}, Commutative: true},
			{Opcode: "FMUL.D", Operands: []OperandPred{RegOrImm("FPR"), RegOrImm("FPR")}, Commutative: true},
		},
		ir.OpDiv: {
			{Opcode: "DIV", Operands: []OperandPred{RegOrImm("GPR"), RegOrImm("GPR")}},
			{Opcode: "FDIV.D", Operands: []OperandPred{RegOrImm("FPR"), RegOrImm("FPR")}},
		},
		ir.OpRem: {
			{Opcode: "REM", Operands: []OperandPred{RegOrImm("GPR"), RegOrImm("GPR")}},
		},
		ir.OpShl: {
			{Opcode: "SLLI", Operands: []OperandPred{RegOrImm("GPR"), ImmAny}},
			{Opcode: "SLL", Operands: []OperandPred{RegOrImm("GPR"), RegOrImm("GPR")}},
		},
		ir.OpSitofp: {
			{Opcode: "FCVT.D.L", Operands: []OperandPred{AnyReg}, Result: "FPR"},
		},
		ir.OpFptosi: {
			{Opcode: "FCVT.L.D", Operands: []OperandPred{RegOrImm("FPR")}},
		},
		ir.OpSext: {
			{Opcode: "MV", Operands: []OperandPred{RegOrImm("GPR")}},
		},
		ir.OpIcmp: {
			{Opcode: "SLT", Operands: []OperandPred{AnyCond, RegOrImm("GPR"), RegOrImm("GPR")}},
		},
		ir.OpFcmp: {
			{Opcode: "FLT.D", Operands: []OperandPred{AnyCond, RegOrImm("FPR"), RegOrImm("FPR")}},
		},
		ir.OpLoad: {
			{Opcode: "FLD", Operands: []OperandPred{AnyReg}, Result: "FPR"},
			{Opcode: "LD", Operands: []OperandPred{AnyReg}, Result: "GPR"},
		},
		ir.OpStore: {
			{Opcode: "FSD", Operands: []OperandPred{RegOrImm("FPR"), AnyReg}},
			{Opcode: "SD", Operands: []OperandPred{RegOrImm("GPR"), AnyReg}},
		},
	}
}
