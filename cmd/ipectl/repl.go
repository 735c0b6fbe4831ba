package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"

	"ipe/builtins"
	"ipe/engine"
	"ipe/parser"
	"ipe/rar"
	"ipe/store"
)

// replCmd is a line-edited REPL (via chzyer/readline, the teacher's own
// interactive-editing dependency) that accumulates predicate source
// across lines until a blank line, then compiles and loads it into a
// scratch store. ":eval <type>" evaluates an empty context against the
// loaded predicates; ":list" prints the store's current entries. This
// generalizes the teacher's cmd_repl_compiled.go buffer-until-ready loop
// from a toy expression language to multi-line predicate blocks.
type replCmd struct{}

func (*replCmd) Name() string     { return "repl" }
func (*replCmd) Synopsis() string { return "Interactive predicate compile/eval session" }
func (*replCmd) Usage() string {
	return `repl:
  Start a line-edited REPL. Type a predicate block, end it with a blank
  line to compile and load it into a scratch store. ":eval <type>"
  evaluates an empty-attribute context of that resource type; ":list"
  prints loaded predicate names; "exit" quits.
`
}

func (*replCmd) SetFlags(f *flag.FlagSet) {}

func (*replCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rl, err := readline.New(">>> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "💥 failed to start readline: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rl.Close()

	fmt.Println("ipectl repl — blank line compiles the buffered predicate block, 'exit' quits.")

	s := store.New()
	eng := engine.New(s, builtins.NewDefaultRegistry())

	var buffer strings.Builder
	for {
		if buffer.Len() > 0 {
			rl.SetPrompt("... ")
		} else {
			rl.SetPrompt(">>> ")
		}

		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			return subcommands.ExitSuccess
		}
		trimmed := strings.TrimSpace(line)

		if buffer.Len() == 0 {
			switch {
			case trimmed == "exit":
				return subcommands.ExitSuccess
			case trimmed == ":list":
				printEntries(s)
				continue
			case strings.HasPrefix(trimmed, ":eval"):
				handleEval(eng, trimmed)
				continue
			case trimmed == "":
				continue
			}
		}

		buffer.WriteString(line)
		buffer.WriteString("\n")

		if trimmed != "" {
			continue // keep buffering until a blank line ends the block
		}

		source := buffer.String()
		buffer.Reset()

		preds, errs := parser.Parse(source)
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(os.Stderr, "parse error: %v\n", e)
			}
			continue
		}
		if err := s.SubmitUpdate(store.AddPredicate(source)); err != nil {
			fmt.Fprintf(os.Stderr, "💥 %v\n", err)
			continue
		}
		for _, pred := range preds {
			fmt.Printf("loaded %q\n", pred.Name)
		}
	}
}

func printEntries(s *store.Store) {
	snap := s.Current()
	if len(snap.Entries) == 0 {
		fmt.Println("(empty)")
		return
	}
	for _, e := range snap.Entries {
		fmt.Printf("%s  resourceType=%q\n", e.Name, e.ResourceType)
	}
}

func handleEval(eng *engine.Engine, command string) {
	fields := strings.Fields(command)
	if len(fields) != 2 {
		fmt.Fprintln(os.Stderr, "usage: :eval <ResourceType>")
		return
	}
	decision := eng.Evaluate(&rar.EvaluationContext{Resource: rar.Resource{TypeID: fields[1]}})
	printDecision(decision)
}
