package main

import (
	"github.com/go-go-golems/cdp-chat/pkg/config"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/spf13/cobra"
)

// addGlazedCommands registers the commands that print rows through glazed,
// which gives them table, yaml, json and csv output.
func addGlazedCommands(root *cobra.Command, a *app) {
	walletCmd, err := NewWalletCommand(a)
	cobra.CheckErr(err)
	toolsCmd, err := NewToolsCommand(a)
	cobra.CheckErr(err)
	historyCmd, err := NewHistoryCommand(a)
	cobra.CheckErr(err)

	for _, c := range []cmds.GlazeCommand{walletCmd, toolsCmd, historyCmd} {
		cobraCmd, err := cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
		cobra.CheckErr(err)
		root.AddCommand(cobraCmd)
	}
}

func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(config.EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}
