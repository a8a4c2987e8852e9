package eventbus

import (
	"context"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Settings selects the mirror transport. With Redis disabled everything stays
// in process.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Group:    "cdp-chat",
		Consumer: "cli-1",
	}
}

// PubSub bundles a publisher and subscriber sharing one transport.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []io.Closer
}

func (p *PubSub) Close() error {
	var first error
	for _, c := range p.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// BuildPubSub returns Redis Streams pub/sub when s.Enabled, otherwise an
// in-memory GoChannel.
func BuildPubSub(s Settings) (*PubSub, error) {
	logger := NewWatermillLogger(log.Logger)
	if !s.Enabled {
		// Blocking until ack keeps mirrored events in publish order.
		gc := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		}, logger)
		return &PubSub{Publisher: gc, Subscriber: gc, closers: []io.Closer{gc}}, nil
	}

	if s.Addr == "" {
		return nil, errors.New("eventbus: redis enabled without address")
	}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "eventbus: redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "eventbus: redis subscriber")
	}
	closeClient := closerFunc(func() error {
		if err := client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			return err
		}
		return nil
	})
	return &PubSub{Publisher: pub, Subscriber: sub, closers: []io.Closer{sub, pub, closeClient}}, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// EnsureGroupAtTail creates the consumer group for stream at the tail ($) if
// it does not exist, so a new tail does not replay history.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "eventbus: create consumer group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}
