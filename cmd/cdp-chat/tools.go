package main

import (
	"context"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/cdp-chat/pkg/poller"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
)

type ToolsCommand struct {
	*cmds.CommandDescription
	app *app
}

type ToolsSettings struct {
	Wait string `glazed:"wait"`
}

func NewToolsCommand(a *app) (*ToolsCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"tools",
		cmds.WithShort("List the tools the agent can call"),
		cmds.WithLong("Fetch the tool catalog. With --wait the fetch is retried until it succeeds or the wait runs out."),
		cmds.WithFlags(
			fields.New(
				"wait",
				fields.TypeString,
				fields.WithDefault(""),
				fields.WithHelp("Keep retrying for up to this long (e.g. 30s) instead of failing on the first error"),
			),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)
	return &ToolsCommand{CommandDescription: desc, app: a}, nil
}

func (c *ToolsCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &ToolsSettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	var wait time.Duration
	if s.Wait != "" {
		d, err := time.ParseDuration(s.Wait)
		if err != nil {
			return errors.Wrapf(err, "invalid --wait %q", s.Wait)
		}
		wait = d
	}

	tools, err := c.fetch(ctx, wait)
	if err != nil {
		return err
	}

	for _, t := range tools {
		row := types.NewRow(
			types.MRP("name", t.Name),
			types.MRP("description", optional(t.Description)),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

// fetch gets the catalog once, or keeps retrying for up to wait when it is
// positive.
func (c *ToolsCommand) fetch(ctx context.Context, wait time.Duration) ([]chat.ToolInfo, error) {
	p := poller.NewToolsPoller(c.app.settings.Endpoints().Tools,
		poller.WithToolsRetryDelay(c.app.settings.RetryDelay))
	var err error
	if wait > 0 {
		runCtx, cancel := context.WithTimeout(ctx, wait)
		_, err = p.Run(runCtx)
		cancel()
	} else {
		_, err = p.Fetch(ctx)
	}
	if err != nil {
		return nil, errors.Wrap(err, "fetch tool catalog")
	}
	return p.Tools(), nil
}

var _ cmds.GlazeCommand = &ToolsCommand{}
