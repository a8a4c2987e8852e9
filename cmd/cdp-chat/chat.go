package main

import (
	"context"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/cdp-chat/pkg/config"
	"github.com/go-go-golems/cdp-chat/pkg/eventbus"
	"github.com/go-go-golems/cdp-chat/pkg/poller"
	"github.com/go-go-golems/cdp-chat/pkg/session"
	"github.com/go-go-golems/cdp-chat/pkg/ui"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newChatCmd(a *app) *cobra.Command {
	var markdownStyle string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal(os.Stdin) || !isTerminal(os.Stdout) {
				return errors.New("chat needs a terminal; use `cdp-chat send` for scripted use")
			}
			return a.runChat(cmd.Context(), markdownStyle)
		},
	}
	cmd.Flags().StringVar(&markdownStyle, "markdown-style", "dark", "Glamour style for agent replies (dark, light, notty)")
	return cmd
}

func (a *app) runChat(parent context.Context, markdownStyle string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt)
	defer cancel()

	logPath, restoreLog, err := logToFile(config.DefaultDataDir())
	if err != nil {
		return err
	}
	defer restoreLog()
	log.Info().Str("log_file", logPath).Msg("starting chat")

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	endpoints := a.settings.Endpoints()
	opts := []session.Option{
		session.WithStore(store),
		session.WithReconnectDelay(a.settings.ReconnectDelay),
	}
	if a.settings.Redis.Enabled {
		ps, err := eventbus.BuildPubSub(a.settings.Redis)
		if err != nil {
			return err
		}
		defer func() { _ = ps.Close() }()
		mirror, err := eventbus.NewWatermillMirror(ps.Publisher, eventbus.WithStates(true))
		if err != nil {
			return err
		}
		defer mirror.Close()
		opts = append(opts, session.WithMirror(mirror))
	}

	ch, err := session.New(endpoints.ChatWS, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	states, unsubscribe := ch.Subscribe()
	defer unsubscribe()

	var p *tea.Program
	wallet := poller.NewWalletPoller(endpoints.Wallet,
		poller.WithWalletRetryDelay(a.settings.RetryDelay),
		poller.WithWalletOnChange(func(info *chat.WalletInfo, loading bool) {
			p.Send(ui.WalletMsg{Info: info, Loading: loading})
		}),
	)
	defer wallet.Close()
	tools := poller.NewToolsPoller(endpoints.Tools,
		poller.WithToolsRetryDelay(a.settings.RetryDelay),
		poller.WithToolsOnChange(func(t []chat.ToolInfo) {
			p.Send(ui.ToolsMsg(t))
		}),
	)

	model := ui.NewModel(ctx, ch,
		ui.WithStates(states),
		ui.WithWalletRefresher(wallet),
		ui.WithMarkdownStyle(markdownStyle),
	)
	p = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		wallet.Start(egCtx)
		return nil
	})
	eg.Go(func() error {
		_, err := tools.Run(egCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		defer cancel()
		_, err := p.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil
		}
		return err
	})
	return eg.Wait()
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
