// Package jit turns a finalised x86-64 mir.Module into a callable
// in-process function table: an mmap'd buffer holding encoded machine
// code, made executable with a W^X mprotect transition, plus the
// trampoline that bridges Go code into the System V calling
// convention the encoded functions expect. golang.org/x/sys/unix
// provides the mmap/mprotect/munmap W^X buffer and
// golang.org/x/arch/x86/x86asm the disassembly trace behind --jit dumps.
package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// execBuffer is an mmap'd region that starts RW (so the encoder can
// write into it) and transitions to RX once Finalize locks it down:
// never RWX at once.
type execBuffer struct {
	mem []byte
}

func newExecBuffer(size int) (*execBuffer, error) {
	if size == 0 {
		size = 1
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap %d bytes: %w", size, err)
	}
	return &execBuffer{mem: mem}, nil
}

// write copies code into the buffer at byte offset off.
func (b *execBuffer) write(off int, code []byte) {
	copy(b.mem[off:], code)
}

// finalize mprotects the buffer executable-and-read-only, the W^X
// transition: nothing in this process ever holds a writable and
// executable mapping to the same page at once.
func (b *execBuffer) finalize() error {
	if err := unix.Mprotect(b.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("jit: mprotect RX: %w", err)
	}
	return nil
}

func (b *execBuffer) addr() uintptr {
	return uintptr(unsafe.Pointer(&b.mem[0]))
}

func (b *execBuffer) close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}
