// Package arm64 holds the beginnings of an AArch64 backend: the
// register model and its AAPCS64 callee-saved membership (X19-X28,
// D8-D15), and nothing else. There is no opcode table, no ABI
// descriptor and no pattern table yet, so this package deliberately
// does NOT implement target.Target; passing it where a Target is
// expected is a compile error, not a runtime surprise.
package arm64

import (
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/types"
)

var classes = map[string]target.RegClass{
	"X": {
		Name: "X",
		Bits: 64,
		Physical: []string{
			"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7",
			"x8", "x9", "x10", "x11", "x12", "x13", "x14", "x15",
			"x16", "x17", "x18", "x19", "x20", "x21", "x22", "x23",
			"x24", "x25", "x26", "x27", "x28", "x29", "x30",
		},
		ArgOrder:    []int{0, 1, 2, 3, 4, 5, 6, 7},
		ReturnReg:   0,
		CalleeSaved: []int{19, 20, 21, 22, 23, 24, 25, 26, 27, 28},
	},
	"D": {
		Name: "D",
		Bits: 64,
		Physical: []string{
			"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7",
			"d8", "d9", "d10", "d11", "d12", "d13", "d14", "d15",
			"d16", "d17", "d18", "d19", "d20", "d21", "d22", "d23",
			"d24", "d25", "d26", "d27", "d28", "d29", "d30", "d31",
		},
		ArgOrder:    []int{0, 1, 2, 3, 4, 5, 6, 7},
		ReturnReg:   0,
		CalleeSaved: []int{8, 9, 10, 11, 12, 13, 14, 15},
	},
}

// RegisterClasses returns the AArch64 register model: X0-X30 and
// D0-D31.
func RegisterClasses() map[string]target.RegClass { return classes }

// CalleeSaved returns the callee-saved indices of class, or nil for an
// unknown class.
func CalleeSaved(class string) []int {
	rc, ok := classes[class]
	if !ok {
		return nil
	}
	return rc.CalleeSaved
}

// ClassOf classifies a value type into the X or D register file.
func ClassOf(ty types.Id, tbl *types.Table) string {
	if tbl.IsFloat(ty) {
		return "D"
	}
	return "X"
}
