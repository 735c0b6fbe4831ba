// Command ipectl is the out-of-scope CLI driver spec §1 names as an
// external collaborator: it parses/compiles predicate source files, can
// submit them to a scratch store, and routes a hand-built RAR context
// into engine.Evaluate. No transport, auth, or wire format is prescribed
// by the core (spec §6); this is one possible driver, not a contract.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&compileCmd{}, "")
	subcommands.Register(&evalCmd{}, "")
	subcommands.Register(&replCmd{}, "")
	subcommands.Register(&serveDemoCmd{}, "")

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
