//go:build amd64

package jit

// callTrampoline bridges Go into the System V AMD64 calling convention
// fn expects: the first nInt entries of intArgs go into
// rdi/rsi/rdx/rcx/r8/r9, the first nFloat entries of floatArgs go into
// xmm0-xmm7, fn is called, and its integer (rax) and xmm0 results are
// both returned so the caller picks whichever matches fn's real return
// type. Implemented in trampoline_amd64.s.
//
// fn must not grow the Go stack or call back into the Go runtime: it
// runs on the calling goroutine's stack with none of the usual
// morestack preamble, the same constraint any hand-written ABI0 stub
// calling out to foreign code accepts.
func callTrampoline(fn uintptr, intArgs *int64, nInt int64, floatArgs *float64, nFloat int64) (iret int64, fret float64)
