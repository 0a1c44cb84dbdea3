package isel

import (
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/types"
)

// X86_64Patterns is the x86-64 instruction-selection pattern table:
// one ordered arm list per IR opcode.
func X86_64Patterns() Table {
	return Table{
		ir.OpAdd: {
			{Opcode: "ADDri32", Operands: []OperandPred{RegOrImm("GR32"), Imm(types.KindInt32)}, Commutative: true},
			{Opcode: "ADDri64", Operands: []OperandPred{RegOrImm("GR64"), Imm(types.KindInt64)}, Commutative: true},
			{Opcode: "ADDrr32", Operands: []OperandPred{RegOrImm("GR32"), RegOrImm("GR32")}, Commutative: true},
			{Opcode: "ADDrr64", Operands: []OperandPred{RegOrImm("GR64"), RegOrImm("GR64")}, Commutative: true},
			{Opcode: "ADDSDrr", Operands: []OperandPred{RegOrImm("XMM"), RegOrImm("XMM")}, Commutative: true},
		},
		ir.OpSub: {
			{Opcode: "SUBri32", Operands: []OperandPred{RegOrImm("GR32"), Imm(types.KindInt32)}},
			{Opcode: "SUBrr32", Operands: []OperandPred{RegOrImm("GR32"), RegOrImm("GR32")}},
			{Opcode: "SUBrr64", Operands: []OperandPred{RegOrImm("GR64"), RegOrImm("GR64")}},
			{Opcode: "SUBSDrr", Operands: []OperandPred{RegOrImm("XMM"), RegOrImm("XMM")}},
		},
		ir.OpMul: {
			{Opcode: "IMULri32", Operands: []OperandPred{RegOrImm("GR32"), Imm(types.KindInt32)}, Commutative: true},
			{Opcode: "IMULri64", Operands: []OperandPred{RegOrImm("GR64"), Imm(types.KindInt64)}, Commutative: true},
			{Opcode: "IMULrr32", Operands: []OperandPred{RegOrImm("GR32"), RegOrImm("GR32")}, Commutative: true},
			{Opcode: "IMULrr64", Operands: []OperandPred{RegOrImm("GR64"), RegOrImm("GR64")}, Commutative: true},
			{Opcode: "MULSDrr", Operands: []OperandPred{RegOrImm("XMM"), RegOrImm("XMM")}, Commutative: true},
		},
		ir.OpDiv: {
			{Opcode: "IDIV32", Operands: []OperandPred{RegOrImm("GR32"), RegOrImm("GR32")}},
			{Opcode: "IDIV64", Operands: []OperandPred{RegOrImm("GR64"), RegOrImm("GR64")}},
			{Opcode: "DIVSDrr", Operands: []OperandPred{RegOrImm("XMM"), RegOrImm("XMM")}},
		},
		ir.OpRem: {
			{Opcode: "IDIV32", Operands: []OperandPred{RegOrImm("GR32"), RegOrImm("GR32")}},
			{Opcode: "IDIV64", Operands: []OperandPred{RegOrImm("GR64"), RegOrImm("GR64")}},
		},
		ir.OpShl: {
			{Opcode: "SHLri32", Operands: []OperandPred{RegOrImm("GR32"), Imm(types.KindInt32)}},
			{Opcode: "SHLri64", Operands: []OperandPred{RegOrImm("GR64"), Imm(types.KindInt64)}},
		},
		ir.OpSitofp: {
			{Opcode: "CVTSI2SD", Operands: []OperandPred{AnyReg}, Result: "XMM"},
		},
		ir.OpFptosi: {
			{Opcode: "CVTTSD2SI", Operands: []OperandPred{RegOrImm("XMM")}},
		},
		ir.OpSext: {
			{Opcode: "MOVSXrr32to64", Operands: []OperandPred{RegOrImm("GR32")}},
		},
		// icmp/fcmp's first DAG operand is the comparison-kind leaf,
		// not a value to load
		// into a register; AnyCond matches it and carries no encoding
		// weight of its own, since the kind is consumed directly by
		// pkg/mirgen when it lowers the following conditional branch.
		ir.OpIcmp: {
			{Opcode: "CMP32ri", Operands: []OperandPred{AnyCond, RegOrImm("GR32"), Imm(types.KindInt32)}},
			{Opcode: "CMP32rr", Operands: []OperandPred{AnyCond, RegOrImm("GR32"), RegOrImm("GR32")}},
			{Opcode: "CMP64rr", Operands: []OperandPred{AnyCond, RegOrImm("GR64"), RegOrImm("GR64")}},
		},
		ir.OpFcmp: {
			{Opcode: "UCOMISD", Operands: []OperandPred{AnyCond, RegOrImm("XMM"), RegOrImm("XMM")}},
		},
		ir.OpLoad: {
			{Opcode: "MOVSDrm", Operands: []OperandPred{AnyReg}, Result: "XMM"},
			{Opcode: "MOVrm32", Operands: []OperandPred{AnyReg}, Result: "GR32"},
			{Opcode: "MOVrm64", Operands: []OperandPred{AnyReg}, Result: "GR64"},
		},
		ir.OpStore: {
			// Store's IR operand order is (value, address), matching
			// the builder's Store(src, dst).
			{Opcode: "MOVSDmr", Operands: []OperandPred{RegOrImm("XMM"), AnyReg}},
			{Opcode: "MOVmr32", Operands: []OperandPred{RegOrImm("GR32"), AnyReg}},
			{Opcode: "MOVmr64", Operands: []OperandPred{RegOrImm("GR64"), AnyReg}},
		},
	}
}
