package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/cdp-chat/pkg/eventbus"
	"github.com/go-go-golems/cdp-chat/pkg/protocol"
	"github.com/go-go-golems/cdp-chat/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"
)

var (
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	toolStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213"))
	argsStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("246"))
	replyStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("118"))
	errStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

var errTurnFinished = errors.New("turn finished")

func newSendCmd(a *app) *cobra.Command {
	var (
		timeout        time.Duration
		connectTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send one message and print the agent's events until it is done",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				var err error
				text, err = promptMessage(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}
			text = strings.TrimSpace(text)
			if text == "" {
				return errors.New("message is empty")
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return a.sendOnce(ctx, cmd.OutOrStdout(), text, connectTimeout, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for the agent to finish")
	cmd.Flags().DurationVar(&connectTimeout, "connect-timeout", 15*time.Second, "How long to wait for the chat socket to open")
	return cmd
}

func promptMessage(r io.Reader, w io.Writer) (string, error) {
	prompt := &input.UI{Reader: r, Writer: w}
	text, err := prompt.Ask("Message", &input.Options{
		Required:  true,
		HideOrder: true,
		Loop:      false,
	})
	if err != nil {
		return "", errors.Wrap(err, "read message")
	}
	return text, nil
}

func (a *app) sendOnce(ctx context.Context, w io.Writer, text string, connectTimeout, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ps, err := eventbus.BuildPubSub(eventbus.Settings{})
	if err != nil {
		return err
	}
	defer func() { _ = ps.Close() }()
	events, err := ps.Subscriber.Subscribe(ctx, eventbus.TopicEvents)
	if err != nil {
		return errors.Wrap(err, "subscribe to session events")
	}
	mirror, err := eventbus.NewWatermillMirror(ps.Publisher)
	if err != nil {
		return err
	}
	defer mirror.Close()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ch, err := session.New(a.settings.Endpoints().ChatWS,
		session.WithStore(store),
		session.WithReconnectDelay(a.settings.ReconnectDelay),
		session.WithMirror(mirror),
	)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	openCtx, openCancel := context.WithTimeout(ctx, connectTimeout)
	err = ch.WaitOpen(openCtx)
	openCancel()
	if err != nil {
		return errors.Wrapf(err, "connect to %s", ch.URL())
	}
	if !ch.Send(text) {
		return errors.New("connection dropped before the message could be sent")
	}
	log.Debug().Str("session_id", ch.ID()).Msg("message sent, waiting for agent")

	err = eventbus.Consume(ctx, events, func(msg *message.Message) error {
		ev, err := eventbus.DecodeEvent(msg)
		if err != nil {
			log.Debug().Err(err).Msg("skipping undecodable mirrored event")
			return nil
		}
		printEvent(w, ev)
		if protocol.Terminal(ev) {
			return errTurnFinished
		}
		return nil
	})
	switch {
	case errors.Is(err, errTurnFinished):
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Errorf("agent did not finish within %s", timeout)
	default:
		return err
	}
}

func printEvent(w io.Writer, ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.StatusEvent:
		_, _ = fmt.Fprintln(w, statusStyle.Render("… "+ev.Content))
	case protocol.ToolCallEvent:
		line := toolStyle.Render("→ " + ev.Name)
		if args := strings.TrimSpace(ev.Arguments); args != "" && args != "{}" {
			line += " " + argsStyle.Render(args)
		}
		_, _ = fmt.Fprintln(w, line)
	case protocol.ToolOutputEvent:
		_, _ = fmt.Fprintln(w, toolStyle.Render("← "+ev.Name)+" "+argsStyle.Render(ev.Output))
	case protocol.MessageEvent:
		_, _ = fmt.Fprintln(w, replyStyle.Render("Agent:")+" "+ev.Content)
	case protocol.ErrorEvent:
		_, _ = fmt.Fprintln(w, errStyle.Render("Error:")+" "+ev.Content)
	case protocol.DoneEvent:
	}
}
