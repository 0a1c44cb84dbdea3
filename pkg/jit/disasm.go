package jit

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders the machine code backing a compiled function as
// a linear instruction trace, one line per decoded instruction, for
// --jit debug dumps and for sanity-checking the encoder's output
// against what x86asm itself believes the bytes mean.
func (j *JIT) Disassemble(name string) (string, error) {
	addr, ok := j.funcs[name]
	if !ok {
		return "", fmt.Errorf("jit: no compiled function %q", name)
	}
	off := int(addr - j.buf.addr())
	code := j.buf.mem[off : off+j.lengths[name]]

	var sb strings.Builder
	pos := 0
	for pos < len(code) {
		inst, err := x86asm.Decode(code[pos:], 64)
		if err != nil {
			fmt.Fprintf(&sb, "%04x: <bad instruction: %v>\n", pos, err)
			break
		}
		fmt.Fprintf(&sb, "%04x: %s\n", pos, x86asm.GNUSyntax(inst, uint64(addr)+uint64(pos), nil))
		pos += inst.Len
	}
	return sb.String(), nil
}
