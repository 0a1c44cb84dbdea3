// Command vellum compiles a small C-like source file through the
// retargetable back-end: frontend -> IR transforms -> DAG -> isel ->
// MIR -> register allocation -> finalisation -> assembly/JIT. One bool
// debug flag per pipeline stage dumps the first stage asked for.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/vellumlang/vellum/frontend"
	"github.com/vellumlang/vellum/pkg/asm"
	"github.com/vellumlang/vellum/pkg/dag"
	"github.com/vellumlang/vellum/pkg/finalize"
	"github.com/vellumlang/vellum/pkg/ir"
	"github.com/vellumlang/vellum/pkg/jit"
	"github.com/vellumlang/vellum/pkg/mir"
	"github.com/vellumlang/vellum/pkg/target"
	"github.com/vellumlang/vellum/pkg/target/riscv64"
	"github.com/vellumlang/vellum/pkg/target/x86_64"
)

var version = "0.1.0"

var (
	dIR     bool
	dDAG    bool
	dMIR    bool
	dAsm    bool
	runJIT  bool
	archFlag string
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vellum [file]",
		Short:         "vellum compiles a small C-like source file with a retargetable back end",
		Version:       version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return compileFile(args[0], out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVar(&dIR, "dir", false, "dump IR after optimization passes")
	rootCmd.Flags().BoolVar(&dDAG, "ddag", false, "dump the combined DAG before instruction selection")
	rootCmd.Flags().BoolVar(&dMIR, "dmir", false, "dump MIR before register allocation")
	rootCmd.Flags().BoolVar(&dAsm, "dasm", false, "dump final assembly")
	rootCmd.Flags().BoolVar(&runJIT, "jit", false, "JIT-compile and run the module's main function")
	rootCmd.Flags().StringVar(&archFlag, "target", "x86_64", "target architecture: x86_64 or riscv64")

	return rootCmd
}

func resolveTarget() (target.Target, error) {
	switch archFlag {
	case "x86_64":
		return x86_64.New(), nil
	case "riscv64":
		return riscv64.New(), nil
	}
	return nil, fmt.Errorf("vellum: unknown target %q (want x86_64 or riscv64)", archFlag)
}

func compileFile(filename string, out, errOut io.Writer) error {
	src, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintf(errOut, "vellum: error reading %s: %v\n", filename, err)
		return err
	}

	mod, err := frontend.Compile(string(src))
	if err != nil {
		fmt.Fprintf(errOut, "vellum: %v\n", err)
		return err
	}
	optimize(mod)

	if dIR {
		ir.NewPrinter(out, mod).PrintModule()
		return nil
	}

	tgt, err := resolveTarget()
	if err != nil {
		fmt.Fprintf(errOut, "vellum: %v\n", err)
		return err
	}

	if dDAG {
		for _, fn := range mod.Functions() {
			if fn.External() {
				continue
			}
			fd := dag.Build(fn, mod.Types)
			dag.Combine(fd)
			dumpDAG(out, fd)
		}
		return nil
	}

	patterns, err := selectPatterns(tgt)
	if err != nil {
		fmt.Fprintf(errOut, "vellum: %v\n", err)
		return err
	}

	mmod, err := lowerModule(mod, tgt, patterns)
	if err != nil {
		fmt.Fprintf(errOut, "vellum: %v\n", err)
		return err
	}

	if dMIR {
		for _, mfn := range mmod.Functions {
			dumpMIR(out, mfn)
		}
		return nil
	}

	if err := allocateRegisters(mmod, tgt); err != nil {
		fmt.Fprintf(errOut, "vellum: %v\n", err)
		return err
	}
	if err := finalize.Run(mmod, tgt); err != nil {
		fmt.Fprintf(errOut, "vellum: %v\n", err)
		return err
	}

	if dAsm {
		asm.NewPrinter(out, tgt).PrintModule(mmod)
		return nil
	}

	if runJIT {
		return runModuleJIT(mmod, out, errOut)
	}

	asm.NewPrinter(out, tgt).PrintModule(mmod)
	return nil
}

// runModuleJIT JIT-compiles mmod (x86-64 only, per pkg/jit's scope) and
// invokes its "main" function, printing the result and a disassembly
// trace of every compiled function.
func runModuleJIT(mmod *mir.Module, out, errOut io.Writer) error {
	if archFlag != "x86_64" {
		err := fmt.Errorf("vellum: --jit only supports x86_64")
		fmt.Fprintln(errOut, err)
		return err
	}
	j, err := jit.Compile(mmod, nil)
	if err != nil {
		fmt.Fprintf(errOut, "vellum: jit: %v\n", err)
		return err
	}
	defer j.Close()

	for _, mfn := range mmod.Functions {
		if mfn.External {
			continue
		}
		trace, err := j.Disassemble(mfn.Name)
		if err != nil {
			fmt.Fprintf(errOut, "vellum: disassemble %s: %v\n", mfn.Name, err)
			return err
		}
		fmt.Fprint(out, trace)
	}

	addr, ok := j.Func("main")
	if !ok {
		err := fmt.Errorf("vellum: no \"main\" function in module")
		fmt.Fprintln(errOut, err)
		return err
	}

	var mainFn *mir.Function
	for _, mfn := range mmod.Functions {
		if mfn.Name == "main" {
			mainFn = mfn
		}
	}
	retTy, err := mmod.Types.Return(mainFn.Ty)
	if err != nil {
		fmt.Fprintf(errOut, "vellum: %v\n", err)
		return err
	}
	if mmod.Types.IsFloat(retTy) {
		fmt.Fprintf(out, "main() = %g\n", j.CallFloat(addr, nil, nil))
	} else {
		fmt.Fprintf(out, "main() = %d\n", j.CallInt(addr))
	}
	return nil
}
