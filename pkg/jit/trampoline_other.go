//go:build !amd64

package jit

// callTrampoline has no implementation outside amd64: Compile itself
// already only targets pkg/target/x86_64 output, so in-process JIT
// execution is inherently host-architecture bound. A RISC-V or other
// non-amd64 host must consume pkg/asm's textual assembly instead of
// calling into this package.
func callTrampoline(fn uintptr, intArgs *int64, nInt int64, floatArgs *float64, nFloat int64) (int64, float64) {
	panic("jit: in-process execution is only supported on amd64 hosts")
}
