package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/cdp-chat/pkg/eventbus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newTailCmd(a *app) *cobra.Command {
	var states bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow session events mirrored to Redis Streams by running chat clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rs := a.settings.Redis
			if !rs.Enabled {
				return errors.New("tail reads from Redis Streams; pass --redis-enabled or set redis.enabled")
			}
			ctx := commandContext(cmd)
			topic := eventbus.TopicEvents
			if states {
				topic = eventbus.TopicState
			}
			if err := eventbus.EnsureGroupAtTail(ctx, rs.Addr, topic, rs.Group); err != nil {
				return err
			}
			ps, err := eventbus.BuildPubSub(rs)
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()

			w := cmd.OutOrStdout()
			log.Info().Str("topic", topic).Str("group", rs.Group).Msg("tailing")
			err = eventbus.Tail(ctx, ps.Subscriber, topic, func(msg *message.Message) error {
				sid := msg.Metadata.Get(eventbus.MetadataSessionID)
				if states {
					var rec eventbus.StateRecord
					if err := json.Unmarshal(msg.Payload, &rec); err != nil {
						log.Debug().Err(err).Msg("skipping undecodable state")
						return nil
					}
					_, _ = fmt.Fprintf(w, "[%s] connected=%t thinking=%t messages=%d\n",
						sid, rec.Connected, rec.Thinking, len(rec.Messages))
					return nil
				}
				ev, err := eventbus.DecodeEvent(msg)
				if err != nil {
					log.Debug().Err(err).Msg("skipping undecodable event")
					return nil
				}
				_, _ = fmt.Fprintf(w, "[%s] ", sid)
				printEvent(w, ev)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&states, "states", false, "Follow state snapshots instead of events")
	return cmd
}
