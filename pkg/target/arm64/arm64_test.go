package arm64

import (
	"testing"

	"github.com/vellumlang/vellum/pkg/types"
)

func TestCalleeSaved(t *testing.T) {
	x := CalleeSaved("X")
	if len(x) != 10 || x[0] != 19 || x[len(x)-1] != 28 {
		t.Errorf("X callee-saved = %v, want X19-X28", x)
	}
	d := CalleeSaved("D")
	if len(d) != 8 || d[0] != 8 || d[len(d)-1] != 15 {
		t.Errorf("D callee-saved = %v, want D8-D15", d)
	}
	if CalleeSaved("GR32") != nil {
		t.Error("unknown class should report no callee-saved registers")
	}
}

func TestClassOf(t *testing.T) {
	tbl := types.NewTable()
	if got := ClassOf(types.F64, tbl); got != "D" {
		t.Errorf("ClassOf(f64) = %q, want D", got)
	}
	if got := ClassOf(types.Int64, tbl); got != "X" {
		t.Errorf("ClassOf(i64) = %q, want X", got)
	}
}
