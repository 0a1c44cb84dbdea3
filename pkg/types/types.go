// Package types implements the interned structural type universe shared
// by the IR and machine layers: scalars, pointer, array, struct and
// function types, each identified by a stable Id.
//
// Non-scalar types are looked up through an interning Table keyed by
// structural identity, so equal types always share an id and never
// need field-by-field comparison.
package types

import (
	"fmt"
	"strings"

	"github.com/vellumlang/vellum/pkg/vellumerr"
)

// Id is a stable handle into a Table. The zero Id is Void;
// scalar kinds have fixed well-known ids assigned by the Table
// constructor so that callers needn't round-trip through interning for
// them.
type Id int

// Kind tags the shape of a Type record.
type Kind int

const (
	KindVoid Kind = iota
	KindInt1
	KindInt8
	KindInt32
	KindInt64
	KindF64
	KindPointer
	KindArray
	KindStruct
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt1:
		return "i1"
	case KindInt8:
		return "i8"
	case KindInt32:
		return "i32"
	case KindInt64:
		return "i64"
	case KindF64:
		return "f64"
	case KindPointer:
		return "ptr"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindFunction:
		return "function"
	}
	return "?"
}

// record is the interned representation of one type.
type record struct {
	kind   Kind
	elem   Id     // Pointer, Array
	length int64  // Array
	fields []Id   // Struct
	ret    Id     // Function
	params []Id   // Function
	offs   []int64 // Struct: per-field byte offset, parallel to fields
	size   int64
	align  int64
}

// Table is the module-wide type interner. One Table is created per
// Module and lives exactly as long as it: it is never torn down
// mid-compilation.
type Table struct {
	records []record
	byKey   map[string]Id
}

// NewTable creates a Table pre-seeded with the six scalar kinds at fixed
// ids, so the constants Void, Int32 etc. never need a map lookup.
func NewTable() *Table {
	t := &Table{byKey: make(map[string]Id)}
	t.records = append(t.records,
		record{kind: KindVoid, size: 0, align: 1},
		record{kind: KindInt1, size: 1, align: 1},
		record{kind: KindInt8, size: 1, align: 1},
		record{kind: KindInt32, size: 4, align: 4},
		record{kind: KindInt64, size: 8, align: 8},
		record{kind: KindF64, size: 8, align: 8},
	)
	return t
}

// Fixed scalar ids, indices into the seed slice above.
const (
	Void  Id = 0
	Int1  Id = 1
	Int8  Id = 2
	Int32 Id = 3
	Int64 Id = 4
	F64   Id = 5
)

func (t *Table) intern(key string, make func() record) Id {
	if id, ok := t.byKey[key]; ok {
		return id
	}
	id := Id(len(t.records))
	t.records = append(t.records, make())
	t.byKey[key] = id
	return id
}

// Pointer interns (or returns the existing id for) a pointer to elem.
// elem must already be an interned id.
func (t *Table) Pointer(elem Id) Id {
	key := fmt.Sprintf("p%d", elem)
	return t.intern(key, func() record {
		return record{kind: KindPointer, elem: elem, size: 8, align: 8}
	})
}

// Array interns a fixed-length array of elem.
func (t *Table) Array(elem Id, length int64) Id {
	key := fmt.Sprintf("a%d[%d]", elem, length)
	return t.intern(key, func() record {
		es := t.SizeOf(elem)
		return record{kind: KindArray, elem: elem, length: length,
			size: es * length, align: t.AlignOf(elem)}
	})
}

// Struct interns a struct with the given fields in order. Field offsets
// ascend, each field padded to its own size-aligned boundary, and the
// struct's overall alignment is the max field alignment.
func (t *Table) Struct(fields []Id) Id {
	var b strings.Builder
	b.WriteString("s[")
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", f)
	}
	b.WriteByte(']')
	return t.intern(b.String(), func() record {
		offs := make([]int64, len(fields))
		var offset int64
		var maxAlign int64 = 1
		for i, f := range fields {
			align := t.AlignOf(f)
			if align < 1 {
				align = 1
			}
			offset = alignUp(offset, align)
			offs[i] = offset
			offset += t.SizeOf(f)
			if align > maxAlign {
				maxAlign = align
			}
		}
		size := alignUp(offset, maxAlign)
		return record{kind: KindStruct, fields: append([]Id(nil), fields...),
			offs: offs, size: size, align: maxAlign}
	})
}

// Function interns a function type. Function types have no runtime
// size; size_in_bytes/align_in_bytes on a Function id return 0.
func (t *Table) Function(ret Id, params []Id) Id {
	var b strings.Builder
	fmt.Fprintf(&b, "f%d(", ret)
	for i, p := range params {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", p)
	}
	b.WriteByte(')')
	return t.intern(b.String(), func() record {
		return record{kind: KindFunction, ret: ret, params: append([]Id(nil), params...)}
	})
}

func alignUp(off, align int64) int64 {
	if align <= 1 {
		return off
	}
	rem := off % align
	if rem == 0 {
		return off
	}
	return off + (align - rem)
}

// Kind returns the kind tag for id.
func (t *Table) Kind(id Id) Kind { return t.records[id].kind }

// SizeOf returns size_in_bytes(T).
func (t *Table) SizeOf(id Id) int64 { return t.records[id].size }

// AlignOf returns align_in_bytes(T).
func (t *Table) AlignOf(id Id) int64 { return t.records[id].align }

// ElementTy returns element_ty(T): the pointee of a pointer, or the
// element type of an array. Fails with BadType on any other kind.
func (t *Table) ElementTy(id Id) (Id, error) {
	r := t.records[id]
	switch r.kind {
	case KindPointer, KindArray:
		return r.elem, nil
	default:
		return Void, fmt.Errorf("element_ty on %s: %w", r.kind, vellumerr.ErrBadType)
	}
}

// Params returns a Function type's parameter list.
func (t *Table) Params(id Id) ([]Id, error) {
	r := t.records[id]
	if r.kind != KindFunction {
		return nil, fmt.Errorf("params on %s: %w", r.kind, vellumerr.ErrBadType)
	}
	return r.params, nil
}

// Return returns a Function type's return type.
func (t *Table) Return(id Id) (Id, error) {
	r := t.records[id]
	if r.kind != KindFunction {
		return Void, fmt.Errorf("return on %s: %w", r.kind, vellumerr.ErrBadType)
	}
	return r.ret, nil
}

// FieldCount returns the number of fields of a struct type.
func (t *Table) FieldCount(id Id) (int, error) {
	r := t.records[id]
	if r.kind != KindStruct {
		return 0, fmt.Errorf("field_count on %s: %w", r.kind, vellumerr.ErrBadType)
	}
	return len(r.fields), nil
}

// FieldOffset returns field_offset(Struct, i): the byte offset of field
// i within the struct.
func (t *Table) FieldOffset(id Id, i int) (int64, error) {
	r := t.records[id]
	if r.kind != KindStruct {
		return 0, fmt.Errorf("field_offset on %s: %w", r.kind, vellumerr.ErrBadType)
	}
	if i < 0 || i >= len(r.offs) {
		return 0, fmt.Errorf("field index %d out of range (struct has %d fields): %w", i, len(r.offs), vellumerr.ErrBadIndex)
	}
	return r.offs[i], nil
}

// FieldType returns the type of field i within a struct.
func (t *Table) FieldType(id Id, i int) (Id, error) {
	r := t.records[id]
	if r.kind != KindStruct {
		return Void, fmt.Errorf("field_type on %s: %w", r.kind, vellumerr.ErrBadType)
	}
	if i < 0 || i >= len(r.fields) {
		return Void, fmt.Errorf("field index %d out of range (struct has %d fields): %w", i, len(r.fields), vellumerr.ErrBadIndex)
	}
	return r.fields[i], nil
}

// ElementTyWithIndices implements element_ty_with_indices(T, idxs):
// peels one level per index. idxs[i] is the constant index value for
// step i; callers are responsible for having already verified (from the
// IR layer, where struct-field indices must be immediate i32 operands)
// that each index used against a Struct type was in fact a compile-time
// constant; this function only validates range, not constancy.
func (t *Table) ElementTyWithIndices(id Id, idxs []int64) (Id, error) {
	cur := id
	for _, idx := range idxs {
		r := t.records[cur]
		switch r.kind {
		case KindPointer, KindArray:
			cur = r.elem
		case KindStruct:
			if idx < 0 || int(idx) >= len(r.fields) {
				return Void, fmt.Errorf("struct field index %d out of range: %w", idx, vellumerr.ErrBadIndex)
			}
			cur = r.fields[idx]
		default:
			return Void, fmt.Errorf("cannot index into %s: %w", r.kind, vellumerr.ErrBadType)
		}
	}
	return cur, nil
}

// String renders a type for debug/assembly-comment purposes.
func (t *Table) String(id Id) string {
	r := t.records[id]
	switch r.kind {
	case KindVoid, KindInt1, KindInt8, KindInt32, KindInt64, KindF64:
		return r.kind.String()
	case KindPointer:
		return t.String(r.elem) + "*"
	case KindArray:
		return fmt.Sprintf("[%d x %s]", r.length, t.String(r.elem))
	case KindStruct:
		parts := make([]string, len(r.fields))
		for i, f := range r.fields {
			parts[i] = t.String(f)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindFunction:
		parts := make([]string, len(r.params))
		for i, p := range r.params {
			parts[i] = t.String(p)
		}
		return t.String(r.ret) + "(" + strings.Join(parts, ", ") + ")"
	}
	return "?"
}

// IsScalar reports whether id names one of the six scalar kinds or a
// pointer, the atomic kinds Mem2Reg is permitted to promote.
func (t *Table) IsScalar(id Id) bool {
	switch t.Kind(id) {
	case KindVoid, KindInt1, KindInt8, KindInt32, KindInt64, KindF64, KindPointer:
		return true
	}
	return false
}

// IsFloat reports whether id is the f64 kind.
func (t *Table) IsFloat(id Id) bool { return t.Kind(id) == KindF64 }

// Length returns an array type's element count.
func (t *Table) Length(id Id) (int64, error) {
	r := t.records[id]
	if r.kind != KindArray {
		return 0, fmt.Errorf("length on %s: %w", r.kind, vellumerr.ErrBadType)
	}
	return r.length, nil
}
