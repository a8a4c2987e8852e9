package main

import (
	"context"
	"sort"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	"github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/tiktoken-go"
)

type HistoryCommand struct {
	*cmds.CommandDescription
	app *app
}

type HistorySettings struct {
	Clear bool `glazed:"clear"`
	Stats bool `glazed:"stats"`
}

func NewHistoryCommand(a *app) (*HistoryCommand, error) {
	glazedSection, err := settings.NewGlazedSection()
	if err != nil {
		return nil, err
	}
	commandSettingsSection, err := cli.NewCommandSettingsSection()
	if err != nil {
		return nil, err
	}

	desc := cmds.NewCommandDescription(
		"history",
		cmds.WithShort("Print, summarize or clear the stored conversation"),
		cmds.WithLong("Print one row per stored message, per-role counts with --stats, or delete the log with --clear."),
		cmds.WithFlags(
			fields.New(
				"clear",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Delete the stored conversation"),
			),
			fields.New(
				"stats",
				fields.TypeBool,
				fields.WithDefault(false),
				fields.WithHelp("Print message, token and byte counts per role"),
			),
		),
		cmds.WithSections(glazedSection, commandSettingsSection),
	)
	return &HistoryCommand{CommandDescription: desc, app: a}, nil
}

func (c *HistoryCommand) RunIntoGlazeProcessor(
	ctx context.Context,
	parsedValues *values.Values,
	gp middlewares.Processor,
) error {
	s := &HistorySettings{}
	if err := parsedValues.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return err
	}
	store, err := c.app.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	msgs := store.Load(ctx)
	switch {
	case s.Clear:
		store.Clear(ctx)
		log.Info().Int("messages", len(msgs)).Msg("history cleared")
		return gp.AddRow(ctx, types.NewRow(types.MRP("cleared", len(msgs))))
	case s.Stats:
		return addStatsRows(ctx, gp, msgs)
	}

	for _, m := range msgs {
		row := types.NewRow(
			types.MRP("id", m.ID),
			types.MRP("timestamp", m.Timestamp.UTC().Format(time.RFC3339Nano)),
			types.MRP("role", string(m.Role)),
			types.MRP("tool_name", optional(m.ToolName)),
			types.MRP("tool_arguments", optional(m.ToolArguments)),
			types.MRP("content", m.Content),
		)
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type roleStats struct {
	messages int
	tokens   int
	bytes    int
}

// addStatsRows emits one row per role followed by a "total" row. Token counts
// use the cl100k_base encoding and are null when it cannot be loaded.
func addStatsRows(ctx context.Context, gp middlewares.Processor, msgs []chat.Message) error {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("token counts unavailable")
	}

	byRole := map[string]*roleStats{}
	total := &roleStats{}
	for _, m := range msgs {
		st, ok := byRole[string(m.Role)]
		if !ok {
			st = &roleStats{}
			byRole[string(m.Role)] = st
		}
		n := 0
		if enc != nil {
			n = len(enc.Encode(m.Content, nil, nil))
		}
		for _, acc := range []*roleStats{st, total} {
			acc.messages++
			acc.tokens += n
			acc.bytes += len(m.Content)
		}
	}

	roles := make([]string, 0, len(byRole))
	for r := range byRole {
		roles = append(roles, r)
	}
	sort.Strings(roles)

	row := func(role string, st *roleStats) types.Row {
		var tokens any
		if enc != nil {
			tokens = st.tokens
		}
		return types.NewRow(
			types.MRP("role", role),
			types.MRP("messages", st.messages),
			types.MRP("tokens", tokens),
			types.MRP("bytes", st.bytes),
		)
	}
	for _, r := range roles {
		if err := gp.AddRow(ctx, row(r, byRole[r])); err != nil {
			return err
		}
	}
	return gp.AddRow(ctx, row("total", total))
}

var _ cmds.GlazeCommand = &HistoryCommand{}
