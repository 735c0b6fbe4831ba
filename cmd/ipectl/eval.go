package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"ipe/builtins"
	"ipe/engine"
	"ipe/rar"
	"ipe/store"
	"ipe/value"
)

// attrList collects repeated -attr key=value flags into a map, the same
// way the teacher's commands collect repeated bool shorthand flags onto
// one field.
type attrList map[string]value.Value

func (a attrList) String() string { return fmt.Sprintf("%v", map[string]value.Value(a)) }

func (a attrList) Set(raw string) error {
	k, v, ok := strings.Cut(raw, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	a[k] = inferValue(v)
	return nil
}

// inferValue guesses a value.Value's kind from a CLI string: this is a
// demo convenience, not a parser the core depends on.
func inferValue(s string) value.Value {
	switch s {
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	}
	var i int64
	if _, err := fmt.Sscanf(s, "%d", &i); err == nil && fmt.Sprintf("%d", i) == s {
		return value.Int(i)
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err == nil {
		return value.Float(f)
	}
	return value.String(s)
}

// evalCmd loads predicate source and a hand-built RAR context from flags,
// then prints the engine's Decision. Grounded on the teacher's "runC"
// command's load-compile-execute shape, generalized from a single script
// to a store + engine pair.
type evalCmd struct {
	file          string
	resourceType  string
	principalID   string
	operation     string
	resourceAttrs attrList
	requestAttrs  attrList
}

func (*evalCmd) Name() string     { return "eval" }
func (*evalCmd) Synopsis() string { return "Evaluate a hand-built RAR context against a predicate file" }
func (*evalCmd) Usage() string {
	return `eval -file <predicates.ipe> -type <ResourceType> [-principal id] [-op name] [-attr k=v]...:
  Compile every predicate in <file> into a scratch store, then evaluate
  a context built from the given flags and print the resulting Decision.
`
}

func (cmd *evalCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&cmd.file, "file", "", "predicate source file")
	f.StringVar(&cmd.resourceType, "type", "", "resource.type of the evaluated context")
	f.StringVar(&cmd.principalID, "principal", "", "request.principal.id")
	f.StringVar(&cmd.operation, "op", "", "action.operation")
	cmd.resourceAttrs = attrList{}
	cmd.requestAttrs = attrList{}
	f.Var(cmd.resourceAttrs, "attr", "resource attribute key=value, repeatable")
	f.Var(cmd.requestAttrs, "reqattr", "request attribute key=value, repeatable")
}

func (cmd *evalCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if cmd.file == "" || cmd.resourceType == "" {
		fmt.Fprintf(os.Stderr, "💥 -file and -type are required\n")
		return subcommands.ExitUsageError
	}

	data, err := os.ReadFile(cmd.file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "💥 failed to read file: %v\n", err)
		return subcommands.ExitFailure
	}

	s := store.New()
	if err := s.SubmitUpdate(store.AddPredicate(string(data))); err != nil {
		fmt.Fprintf(os.Stderr, "💥 failed to load predicates: %v\n", err)
		return subcommands.ExitFailure
	}

	e := engine.New(s, builtins.NewDefaultRegistry())
	ctx := &rar.EvaluationContext{
		Resource: rar.Resource{TypeID: cmd.resourceType, Attributes: cmd.resourceAttrs},
		Action:   rar.Action{Operation: cmd.operation},
		Request:  rar.Request{Principal: rar.Principal{ID: cmd.principalID}, Attributes: cmd.requestAttrs},
	}

	decision := e.Evaluate(ctx)
	printDecision(decision)
	if decision.Kind == engine.Deny {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printDecision(d engine.Decision) {
	fmt.Printf("%s", d.Kind)
	if d.Reason != "" {
		fmt.Printf(" (%s)", d.Reason)
	}
	if len(d.Matched) > 0 {
		fmt.Printf(" matched=%v", d.Matched)
	}
	fmt.Println()
}
