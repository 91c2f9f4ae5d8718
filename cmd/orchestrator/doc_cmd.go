package main

import (
	"os"

	"github.com/alecthomas/kong"
)

// DocCmd prints the full command reference as markdown via
// markdownHelpPrinter, matching cmd/sand's "doc" subcommand intent.
type DocCmd struct{}

func (c *DocCmd) Run(cctx *Context) error {
	var target CLI
	parser, err := kong.New(&target,
		kong.Name("orchestrator"),
		kong.Description(description),
		kong.Exit(func(int) {}),
		kong.Writers(os.Stdout, os.Stderr),
	)
	if err != nil {
		return err
	}
	kctx, err := kong.Trace(parser, []string{})
	if err != nil {
		return err
	}
	return markdownHelpPrinter(kong.HelpOptions{}, kctx)
}
