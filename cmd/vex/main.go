// Command vex analyzes a C executable's "definitely lost" allocations
// under a dynamic memory checker and reports, per allocation, the exact
// source line the leak becomes inevitable at and which of three concrete
// kinds it is. Subcommand dispatch mirrors the teacher's cmd/orizon
// driver: a bare os.Args switch with no third-party CLI framework.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hooop/vex/internal/clihelp"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 3
	}

	switch args[0] {
	case "-h", "--help", "help":
		usage()
		return 0
	case "--version":
		clihelp.PrintVersion("vex")
		return 0
	case "configure":
		if err := runConfigure(); err != nil {
			fmt.Fprintln(os.Stderr, "vex configure:", err)
			return 3
		}
		return 0
	default:
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		forwardSignals(ctx, cancel)

		code, err := runAnalyze(ctx, args[0], args[1:])
		if err != nil {
			fmt.Fprintln(os.Stderr, "vex:", err)
		}
		return code
	}
}

func usage() {
	clihelp.PrintUsage("vex", []clihelp.Command{
		{Name: "configure", Description: "store the LLM API key (interactive, owner-only file)"},
		{Name: "<executable> [args...]", Description: "run the leak checker and debugger, then analyze"},
	})
}
