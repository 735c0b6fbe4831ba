package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"ipe/bytecode"
	"ipe/compiler"
	"ipe/parser"
)

// compileCmd parses and compiles every predicate in a source file,
// printing a disassembly of each program. Grounded on the teacher's
// "emit" command, which ran the same parse-then-compile pipeline against
// a single file and offered a disassemble flag.
type compileCmd struct {
	quiet bool
}

func (*compileCmd) Name() string     { return "compile" }
func (*compileCmd) Synopsis() string { return "Compile a predicate source file and print its bytecode" }
func (*compileCmd) Usage() string {
	return `compile <file>:
  Parse and compile every predicate block in <file>, printing a
  disassembly of the Triggers and Requires programs for each.
`
}

func (cmd *compileCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&cmd.quiet, "quiet", false, "suppress disassembly, only report success/failure")
}

func (cmd *compileCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "💥 file not provided\n")
		return subcommands.ExitUsageError
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "💥 failed to read file: %v\n", err)
		return subcommands.ExitFailure
	}

	preds, errs := parser.Parse(string(data))
	if len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "💥 parse errors:\n")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "\t%v\n", e)
		}
		return subcommands.ExitFailure
	}

	for _, pred := range preds {
		cp, err := compiler.Compile(pred)
		if err != nil {
			fmt.Fprintf(os.Stderr, "💥 compile error in %q: %v\n", pred.Name, err)
			return subcommands.ExitFailure
		}
		if cmd.quiet {
			continue
		}
		fmt.Printf("predicate %s:\n", cp.Name)
		fmt.Printf("  triggers:\n%s", indent(bytecode.Disassemble(cp.Triggers)))
		if len(cp.Requires) > 0 {
			fmt.Printf("  requires:\n%s", indent(bytecode.Disassemble(cp.Requires)))
		} else {
			fmt.Printf("  denies: %q\n", cp.DenyReason)
		}
	}
	fmt.Printf("compiled %d predicate(s) from %s\n", len(preds), args[0])
	return subcommands.ExitSuccess
}

func indent(s string) string {
	out := ""
	for _, line := range splitLines(s) {
		out += "    " + line + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
