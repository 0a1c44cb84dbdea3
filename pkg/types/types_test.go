package types

import "testing"

func TestSizeAndAlign(t *testing.T) {
	tbl := NewTable()
	i32ptr := tbl.Pointer(Int32)

	tests := []struct {
		name      string
		id        Id
		wantSize  int64
		wantAlign int64
	}{
		{"void", Void, 0, 1},
		{"i1", Int1, 1, 1},
		{"i8", Int8, 1, 1},
		{"i32", Int32, 4, 4},
		{"i64", Int64, 8, 8},
		{"f64", F64, 8, 8},
		{"ptr", i32ptr, 8, 8},
		{"array of 10 i32", tbl.Array(Int32, 10), 40, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tbl.SizeOf(tt.id); got != tt.wantSize {
				t.Errorf("SizeOf(%s) = %d, want %d", tt.name, got, tt.wantSize)
			}
			if got := tbl.AlignOf(tt.id); got != tt.wantAlign {
				t.Errorf("AlignOf(%s) = %d, want %d", tt.name, got, tt.wantAlign)
			}
		})
	}
}

func TestInterningSharesId(t *testing.T) {
	tbl := NewTable()
	a := tbl.Pointer(Int32)
	b := tbl.Pointer(Int32)
	if a != b {
		t.Fatalf("Pointer(Int32) interned twice: %d != %d", a, b)
	}

	s1 := tbl.Struct([]Id{Int32, Int64})
	s2 := tbl.Struct([]Id{Int32, Int64})
	if s1 != s2 {
		t.Fatalf("Struct interned twice: %d != %d", s1, s2)
	}
}

func TestStructLayoutPadsAscending(t *testing.T) {
	tbl := NewTable()
	// {i8, i32, i64}: i8 at 0, pad to 4 for i32, i32 at 4, pad to 8 for i64, i64 at 8.
	st := tbl.Struct([]Id{Int8, Int32, Int64})

	wantOffsets := []int64{0, 4, 8}
	for i, want := range wantOffsets {
		got, err := tbl.FieldOffset(st, i)
		if err != nil {
			t.Fatalf("FieldOffset(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("field %d offset = %d, want %d", i, got, want)
		}
	}
	if got := tbl.SizeOf(st); got != 16 {
		t.Errorf("struct size = %d, want 16", got)
	}
}

func TestElementTyWithIndices(t *testing.T) {
	tbl := NewTable()
	inner := tbl.Array(Int32, 8)
	outer := tbl.Array(inner, 8)
	st := tbl.Struct([]Id{Int32, outer})
	ptrSt := tbl.Pointer(st)

	// gep %s, 0, 1, 3, 5 (field 1 is the [8][8]i32 array; index 3 then 5)
	got, err := tbl.ElementTyWithIndices(ptrSt, []int64{0, 1, 3, 5})
	if err != nil {
		t.Fatalf("ElementTyWithIndices: %v", err)
	}
	if got != Int32 {
		t.Errorf("element_ty_with_indices = %s, want i32", tbl.String(got))
	}
}

func TestElementTyWithIndicesBadStructIndex(t *testing.T) {
	tbl := NewTable()
	st := tbl.Struct([]Id{Int32, Int64})
	if _, err := tbl.ElementTyWithIndices(st, []int64{5}); err == nil {
		t.Fatal("expected BadIndex for out-of-range struct field")
	}
}

func TestGepDistributesOverIndices(t *testing.T) {
	// gep(p, [i, j]) == gep(gep(p, [i]), [j])
	tbl := NewTable()
	inner := tbl.Array(Int32, 8)
	outer := tbl.Pointer(tbl.Array(inner, 8))

	whole, err := tbl.ElementTyWithIndices(outer, []int64{0, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	step1, err := tbl.ElementTyWithIndices(outer, []int64{0, 2})
	if err != nil {
		t.Fatal(err)
	}
	step2, err := tbl.ElementTyWithIndices(step1, []int64{3})
	if err != nil {
		t.Fatal(err)
	}
	if whole != step2 {
		t.Errorf("gep did not distribute: %s != %s", tbl.String(whole), tbl.String(step2))
	}
}
