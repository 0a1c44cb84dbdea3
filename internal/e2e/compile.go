// Package e2e drives a source string through every stage of the
// pipeline cmd/vellum wires (frontend, IR optimisation, DAG/isel, MIR
// lowering, register allocation, finalisation) and either JIT-executes
// the result or prints its final assembly, exactly cmd/vellum's own
// compileFile but callable from tests. Kept separate from cmd/vellum
// because package main isn't importable.
package e2e

import (
	"fmt"

	"github.com/vellumlang/vellum/frontend"
	"github.com/vellumlang/vellum/pkg/cse"
	"github.com/vellumlang/vellum/pkg/finalize"
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
	"github.com/vellumlang/vellum/pkg/isel"
	"github.com/vellumlang/vellum/pkg/jit"
	"github.com/vellumlang/vellum/pkg/licm"
	"github.com/vellumlang/vellum/pkg/mem2reg"
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/mirgen"
	"github.com/vellumlang/vellum/pkg/regalloc"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/target/x86_64"
)

// optimize mirrors cmd/vellum/pipeline.go's optimize: every IR-level
// transform the back end runs before DAG construction.
func optimize(mod *ir.Module) {
	for _, fn := range mod.Functions() {
		if fn.External() {
			continue
		}
		mem2reg.Run(fn, mod.Types)
		dom := domtree.Build(fn)
		cse.Run(fn, dom)
		licm.Run(fn, dom)
		ir.GatherReturns(fn)
		ir.FoldBranches(fn)
	}
}

// compileToMIR runs source through the frontend and the full back end
// up to and including finalisation, for tgt.
func compileToMIR(source string, tgt target.Target, patterns isel.Table) (*mir.Module, *ir.Module, error) {
	mod, err := frontend.Compile(source)
	if err != nil {
		return nil, nil, fmt.Errorf("frontend.Compile: %w", err)
	}
	optimize(mod)

	mmod := &mir.Module{Types: mod.Types}
	for _, fn := range mod.Functions() {
		mfn, err := mirgen.Lower(fn, mod, tgt, patterns)
		if err != nil {
			return nil, nil, fmt.Errorf("mirgen.Lower(%s): %w", fn.Name, err)
		}
		mmod.Functions = append(mmod.Functions, mfn)
	}
	for _, mfn := range mmod.Functions {
		if mfn.External {
			continue
		}
		if err := regalloc.Run(mfn, tgt); err != nil {
			return nil, nil, fmt.Errorf("regalloc.Run(%s): %w", mfn.Name, err)
		}
	}
	if err := finalize.Run(mmod, tgt); err != nil {
		return nil, nil, err
	}
	return mmod, mod, nil
}

// compileAndRunInt runs source's "main" function through the x86-64
// back end and in-process JIT, returning its int64 result.
func compileAndRunInt(source string, externals map[string]uintptr) (int64, *ir.Module, error) {
	tgt := x86_64.New()
	mmod, imod, err := compileToMIR(source, tgt, isel.X86_64Patterns())
	if err != nil {
		return 0, nil, err
	}
	j, err := jit.Compile(mmod, externals)
	if err != nil {
		return 0, nil, fmt.Errorf("jit.Compile: %w", err)
	}
	defer j.Close()
	addr, ok := j.Func("main")
	if !ok {
		return 0, nil, fmt.Errorf("no main function in compiled module")
	}
	return j.CallInt(addr), imod, nil
}
