package main

import (
	"context"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/cdp-chat/pkg/poller"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
)

type WalletCommand struct {
	*cmds.CommandDescription
	app *app
}

func NewWalletCommand(a *app) (*WalletCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"wallet",
		cmds.WithShort("Show the agent's wallet status"),
		cmds.WithLong("Fetch the agent wallet once. An unreachable backend prints the disconnected wallet."),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)
	return &WalletCommand{CommandDescription: desc, app: a}, nil
}

func (c *WalletCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	_ *values.Values,
	gp middlewares.Processor,
) error {
	p := poller.NewWalletPoller(c.app.settings.Endpoints().Wallet,
		poller.WithWalletRetryDelay(c.app.settings.RetryDelay))
	defer p.Close()
	return gp.AddRow(ctx, walletRow(p.Fetch(ctx)))
}

func walletRow(w chat.WalletInfo) types.Row {
	return types.NewRow(
		types.MRP("status", w.Status),
		types.MRP("address", optional(w.Address)),
		types.MRP("network_id", optional(w.NetworkID)),
	)
}

// optional keeps a missing field as a null cell instead of an empty string.
func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var _ cmds.GlazeCommand = &WalletCommand{}
