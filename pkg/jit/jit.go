package jit

import (
	"fmt"

	"github.com/vellumlang/vellum/pkg/mir"
)

// JIT holds the mmap'd executable buffer for one compiled module and
// the entry address of every non-external function in it. Its
// lifetime owns that buffer: Close invalidates every address Func
// returned, exactly the resource policy of an in-process assembler.
type JIT struct {
	buf     *execBuffer
	funcs   map[string]uintptr
	lengths map[string]int
}

// Compile encodes every non-external function of mod to x86-64
// machine code, resolves intra-module calls and the supplied external
// symbol table (e.g. libm's sqrt/fabs) against their final addresses,
// and makes the result executable. Compile is x86-64 only: a
// RISC-V mir.Module has no in-process execution path here and must go
// through pkg/asm's textual output instead.
func Compile(mod *mir.Module, externals map[string]uintptr) (*JIT, error) {
	enc := newX86Encoder()
	offsets := make(map[string]int, len(mod.Functions))
	lengths := make(map[string]int, len(mod.Functions))
	for _, fn := range mod.Functions {
		if fn.External {
			continue
		}
		start := len(enc.code)
		offsets[fn.Name] = start
		if err := enc.encodeFunction(fn); err != nil {
			return nil, err
		}
		lengths[fn.Name] = len(enc.code) - start
	}

	buf, err := newExecBuffer(len(enc.code))
	if err != nil {
		return nil, err
	}
	buf.write(0, enc.code)
	base := buf.addr()

	for _, p := range enc.patches {
		var target uintptr
		if off, ok := offsets[p.target]; ok {
			target = base + uintptr(off)
		} else if addr, ok := externals[p.target]; ok {
			target = addr
		} else {
			buf.close()
			return nil, fmt.Errorf("jit: call to undefined symbol %q", p.target)
		}
		rel := int32(int64(target) - int64(base) - int64(p.offset) - 4)
		patchRel32(enc.code, p.offset, rel)
		buf.write(p.offset, enc.code[p.offset:p.offset+4])
	}

	if err := buf.finalize(); err != nil {
		buf.close()
		return nil, err
	}

	funcs := make(map[string]uintptr, len(offsets))
	for name, off := range offsets {
		funcs[name] = base + uintptr(off)
	}
	return &JIT{buf: buf, funcs: funcs, lengths: lengths}, nil
}

func patchRel32(code []byte, offset int, rel int32) {
	code[offset] = byte(rel)
	code[offset+1] = byte(rel >> 8)
	code[offset+2] = byte(rel >> 16)
	code[offset+3] = byte(rel >> 24)
}

// Func returns the callable entry address of the named function.
func (j *JIT) Func(name string) (uintptr, bool) {
	addr, ok := j.funcs[name]
	return addr, ok
}

// CallInt invokes fn (a pkg/target/x86_64-compiled function taking up
// to six integer/pointer arguments and returning an integer) through
// the System V trampoline, packing args into rdi/rsi/rdx/rcx/r8/r9 per
// the ABI and reading the result out of rax.
func (j *JIT) CallInt(fn uintptr, args ...int64) int64 {
	var packed [6]int64
	copy(packed[:], args)
	iret, _ := callTrampoline(fn, &packed[0], int64(len(args)), nil, 0)
	return iret
}

// CallFloat invokes fn like CallInt but for a function whose return
// value is a double, read out of xmm0.
func (j *JIT) CallFloat(fn uintptr, intArgs []int64, floatArgs []float64) float64 {
	var ipacked [6]int64
	copy(ipacked[:], intArgs)
	var fpacked [8]float64
	copy(fpacked[:], floatArgs)
	_, fret := callTrampoline(fn, &ipacked[0], int64(len(intArgs)), &fpacked[0], int64(len(floatArgs)))
	return fret
}

// Close releases the executable buffer. Every address Func returned
// is invalid after this call.
func (j *JIT) Close() error {
	return j.buf.close()
}
