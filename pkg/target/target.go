// Package target defines the per-architecture interface the back end
// is parameterised by: register classes, the opcode definition table,
// the ABI descriptor, and the handful of opcode hooks (moves, loads,
// stores, branches, stack adjustment) the target-independent
// DAG/MIR/regalloc/finalisation passes need to emit code without
// knowing which architecture they serve. Implemented by
// pkg/target/x86_64 and pkg/target/riscv64; pkg/target/arm64 is a
// register-model fragment only and does not implement Target.
package target

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/types"
)

// PhysReg names one physical register by class and index within it.
type PhysReg struct {
	Class string
	Index int
}

// RegClass is one register class of a target: its physical register
// file, allocation preference, argument-passing sequence, return
// register, and callee-saved membership. Loaded from the target's
// abi.yaml at init.
type RegClass struct {
	Name     string   `yaml:"name"`
	Bits     int      `yaml:"bits"`
	Physical []string `yaml:"physical"`
	// AllocOrder lists the indices the allocator may hand out, in
	// preference order. Scratch registers are deliberately absent.
	AllocOrder []int `yaml:"alloc_order"`
	// Scratch lists indices reserved for spill reloads/stores; the
	// allocator never assigns them to an interval, so a reload can
	// never clobber a live value.
	Scratch     []int `yaml:"scratch"`
	ArgOrder    []int `yaml:"arg_order"`
	ReturnReg   int   `yaml:"return_reg"`
	CalleeSaved []int `yaml:"callee_saved"`
}

// IsCalleeSaved reports whether physical register index is in this
// class's callee-saved set.
func (rc RegClass) IsCalleeSaved(index int) bool {
	for _, i := range rc.CalleeSaved {
		if i == index {
			return true
		}
	}
	return false
}

// ABI is the calling-convention descriptor of a target.
type ABI struct {
	Name          string `yaml:"name"`
	IntArgClass   string `yaml:"int_arg_class"`
	FloatArgClass string `yaml:"float_arg_class"`
	StackAlign    int64  `yaml:"stack_align"`
}

// SlotKind tags one operand slot of an OpcodeDef: a reg-class,
// immediate, memory, frame-index, address or block placeholder.
type SlotKind int

const (
	SlotReg SlotKind = iota
	SlotImm
	SlotMem
	SlotFrameIndex
	SlotAddr
	SlotBlock
)

// Slot is one operand or def slot of an opcode definition.
type Slot struct {
	Kind  SlotKind
	Class string // register class, for SlotReg and def slots
}

// OpcodeDef is the definition record of one target opcode: operand
// slots, def slots, tied-operand pairs, and implicit physical-register
// uses/defs. The MIR lowering, register allocator, and two-address
// converter consume these records directly.
type OpcodeDef struct {
	Operands    []Slot
	Defs        []Slot
	Tied        map[int]int // def index -> operand index
	ImplicitUse []mir.RegId
	ImplicitDef []mir.RegId
}

// DivRemDef describes a target's fixed-register division protocol
// (x86-64's rdx:rax dance). Targets whose divide is an ordinary
// three-address opcode simply report no entry.
type DivRemDef struct {
	Class        string
	Dividend     int // physical index the dividend is copied into
	Remainder    int // physical index the remainder lands in
	ExtendOpcode string
}

// Target is the single interface per architecture: the DAG, MIR,
// regalloc and finalisation passes are parameterised by it.
type Target interface {
	Name() string

	RegClasses() map[string]RegClass
	// ClassOf classifies a value type into one of the target's
	// register classes.
	ClassOf(ty types.Id, tbl *types.Table) string
	ABI() ABI

	Opcodes() map[string]OpcodeDef
	// DivRemOpcode reports the fixed-register protocol for op, if op
	// is a divide/remainder needing one.
	DivRemOpcode(op string) (DivRemDef, bool)
	// IsAddImmOpcode reports whether op is the target's
	// register-plus-immediate add, the shape pkg/mirgen folds into a
	// memory operand's offset.
	IsAddImmOpcode(op string) bool

	// IntImmOpcode is the move-immediate-to-register opcode for class.
	IntImmOpcode(class string) string
	// FloatLoadOpcode is the load used to materialise a float literal
	// out of the constant pool.
	FloatLoadOpcode() string
	LoadOpcode(class string) string
	StoreOpcode(class string) string
	// MoveMnemonic is the textual mnemonic a Copy of class renders as.
	MoveMnemonic(class string) string

	JumpOpcode() string
	CondJumpOpcode() string
	CallOpcode() string
	RetOpcode() string
	// StackAdjustOpcode adds an immediate to a register in place;
	// prologue/epilogue insertion uses it to move the stack pointer.
	StackAdjustOpcode() string
	FrameAddrOpcode() string
	// FrameAddrUsesMem reports whether FrameAddrOpcode takes a memory
	// operand (x86-64's LEA) rather than a register+immediate pair.
	FrameAddrUsesMem() bool

	FramePointerReg() PhysReg
	StackPointerReg() PhysReg
}

// fileSpec is the schema of a target's abi.yaml.
type fileSpec struct {
	ABI     ABI        `yaml:"abi"`
	Classes []RegClass `yaml:"classes"`
}

// LoadSpec parses an embedded abi.yaml into the ABI descriptor and
// the per-class register metadata. Called at package init by each
// target implementation; the result lives for the whole process and
// is never torn down mid-compilation.
func LoadSpec(data []byte) (ABI, map[string]RegClass, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return ABI{}, nil, fmt.Errorf("target: parsing abi.yaml: %w", err)
	}
	classes := make(map[string]RegClass, len(spec.Classes))
	for _, rc := range spec.Classes {
		if rc.Name == "" {
			return ABI{}, nil, fmt.Errorf("target: abi.yaml register class with no name")
		}
		for _, idx := range append(append([]int(nil), rc.AllocOrder...), rc.Scratch...) {
			if idx < 0 || idx >= len(rc.Physical) {
				return ABI{}, nil, fmt.Errorf("target: abi.yaml class %s: register index %d out of range", rc.Name, idx)
			}
		}
		classes[rc.Name] = rc
	}
	return spec.ABI, classes, nil
}
