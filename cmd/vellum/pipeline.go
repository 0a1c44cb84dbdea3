package main

import (
	"fmt"

	"github.com/vellumlang/vellum/pkg/cse"
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/ir/domtree"
	"github.com/vellumlang/vellum/pkg/isel"
	"github.com/vellumlang/vellum/pkg/licm"
	"github.com/vellumlang/vellum/pkg/mem2reg"
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/mirgen"
	"github.com/vellumlang/vellum/pkg/regalloc"
	"github.com/vellumlang/vellum/pkg/target"
)

// optimize runs the IR-level transform sequence (mem2reg, CSE, LICM,
// gather-returns, IR-level branch folding) on every function of mod:
// promotion before the passes that benefit from SSA form, CFG cleanup
// last so later stages never see dead or singleton blocks.
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

// selectPatterns returns tgt's isel pattern table.
func selectPatterns(tgt target.Target) (isel.Table, error) {
	switch tgt.Name() {
	case "x86_64":
		return isel.X86_64Patterns(), nil
	case "riscv64":
		return isel.RiscV64Patterns(), nil
	}
	return nil, fmt.Errorf("no isel pattern table registered for target %q", tgt.Name())
}

// lowerModule runs DAG construction through MIR lowering for every
// function.
func lowerModule(mod *ir.Module, tgt target.Target, patterns isel.Table) (*mir.Module, error) {
	mmod := &mir.Module{Types: mod.Types}
	for _, fn := range mod.Functions() {
		mfn, err := mirgen.Lower(fn, mod, tgt, patterns)
		if err != nil {
			return nil, fmt.Errorf("lowering %s: %w", fn.Name, err)
		}
		mmod.Functions = append(mmod.Functions, mfn)
	}
	return mmod, nil
}

// allocateRegisters runs linear-scan register allocation over every
// non-external function of mmod.
func allocateRegisters(mmod *mir.Module, tgt target.Target) error {
	for _, mfn := range mmod.Functions {
		if mfn.External {
			continue
		}
		if err := regalloc.Run(mfn, tgt); err != nil {
			return fmt.Errorf("register allocation for %s: %w", mfn.Name, err)
		}
	}
	return nil
}
