package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/go-go-golems/cdp-chat/pkg/protocol"
	"github.com/go-go-golems/cdp-chat/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	TopicEvents = "cdp-chat.events"
	TopicState  = "cdp-chat.state"

	MetadataSessionID = "session_id"
	MetadataEventType = "event_type"
)

// StateRecord is the payload published on TopicState.
type StateRecord struct {
	SessionID string         `json:"session_id"`
	Connected bool           `json:"connected"`
	Thinking  bool           `json:"thinking"`
	Messages  []chat.Message `json:"messages"`
}

type outgoing struct {
	topic string
	msg   *message.Message
}

// WatermillMirror publishes session events and states on a watermill
// publisher. Publishing happens on a background goroutine; when the queue is
// full the newest message is dropped so the session loop never waits.
type WatermillMirror struct {
	pub       message.Publisher
	queue     chan outgoing
	done      chan struct{}
	closeOnce sync.Once
	states    bool
}

var _ session.Mirror = &WatermillMirror{}

type MirrorOption func(*WatermillMirror)

// WithStates also mirrors every state change, not just events.
func WithStates(v bool) MirrorOption {
	return func(m *WatermillMirror) { m.states = v }
}

func WithQueueSize(n int) MirrorOption {
	return func(m *WatermillMirror) {
		if n > 0 {
			m.queue = make(chan outgoing, n)
		}
	}
}

func NewWatermillMirror(pub message.Publisher, options ...MirrorOption) (*WatermillMirror, error) {
	if pub == nil {
		return nil, errors.New("eventbus: publisher is nil")
	}
	m := &WatermillMirror{
		pub:   pub,
		queue: make(chan outgoing, 256),
		done:  make(chan struct{}),
	}
	for _, opt := range options {
		opt(m)
	}
	go m.run()
	return m, nil
}

func (m *WatermillMirror) PublishEvent(_ context.Context, sessionID string, ev protocol.Event) {
	payload, err := protocol.Encode(ev)
	if err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Msg("cannot encode event for mirror")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataSessionID, sessionID)
	msg.Metadata.Set(MetadataEventType, string(ev.Type()))
	m.enqueue(TopicEvents, msg)
}

func (m *WatermillMirror) PublishState(_ context.Context, sessionID string, st chat.State) {
	if !m.states {
		return
	}
	msgs := st.Messages
	if msgs == nil {
		msgs = []chat.Message{}
	}
	payload, err := json.Marshal(StateRecord{
		SessionID: sessionID,
		Connected: st.Connected,
		Thinking:  st.Thinking,
		Messages:  msgs,
	})
	if err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Msg("cannot encode state for mirror")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataSessionID, sessionID)
	m.enqueue(TopicState, msg)
}

func (m *WatermillMirror) enqueue(topic string, msg *message.Message) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- outgoing{topic: topic, msg: msg}:
	default:
		log.Warn().Str("component", "eventbus").Str("topic", topic).Msg("mirror queue full, dropping message")
	}
}

func (m *WatermillMirror) run() {
	for {
		select {
		case <-m.done:
			return
		case o := <-m.queue:
			if err := m.pub.Publish(o.topic, o.msg); err != nil {
				log.Warn().Err(err).Str("component", "eventbus").Str("topic", o.topic).Msg("mirror publish failed")
			}
		}
	}
}

// Close stops the publishing goroutine. Queued messages are dropped. The
// publisher itself is owned by the caller.
func (m *WatermillMirror) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// DecodeEvent reads a mirrored event message back into a protocol.Event.
func DecodeEvent(msg *message.Message) (protocol.Event, error) {
	return protocol.Decode(msg.Payload)
}

// Tail subscribes to topic and calls fn for every message until ctx is done
// or fn returns an error.
func Tail(ctx context.Context, sub message.Subscriber, topic string, fn func(*message.Message) error) error {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return errors.Wrapf(err, "eventbus: subscribe %s", topic)
	}
	return Consume(ctx, msgs, fn)
}

// Consume drains an existing subscription. Messages are acked after fn
// returns; a nil error from a closed channel means the subscriber shut down.
func Consume(ctx context.Context, msgs <-chan *message.Message, fn func(*message.Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			err := fn(msg)
			msg.Ack()
			if err != nil {
				return err
			}
		}
	}
}
