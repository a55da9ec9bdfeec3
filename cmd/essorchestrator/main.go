package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/exchangeset/cmd/essorchestrator/commands"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/version"
)

func main() {
	var cli commands.CLI
	parser := kong.Parse(&cli,
		kong.Name("essorchestrator"),
		kong.Description("Exchange set build orchestration"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)

	err := parser.Run(cli.Global(), &cli)
	if err != nil {
		adapter := errors.NewCLIErrorAdapter(cli.Verbose)
		fmt.Fprintln(os.Stderr, adapter.FormatError(err))
		os.Exit(adapter.ExitCodeFor(err))
	}
}
