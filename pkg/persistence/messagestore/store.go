package messagestore

import (
	"context"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/rs/zerolog/log"
)

// DefaultKey is the single key under which the message log is persisted.
const DefaultKey = "cdp-chat-messages"

// Store persists the ordered message log under one key.
//
// Load never fails: absent or corrupt data yields an empty log. Save and
// Clear are best effort; backends log failures and carry on.
type Store interface {
	Load(ctx context.Context) []chat.Message
	Save(ctx context.Context, msgs []chat.Message)
	Clear(ctx context.Context)
	Close() error
}

// blobBackend is the raw key-value surface each backend implements. The
// shared helpers below turn it into a Store with the swallow-and-log
// semantics.
type blobBackend interface {
	name() string
	get(ctx context.Context) ([]byte, bool, error)
	put(ctx context.Context, data []byte) error
	del(ctx context.Context) error
}

func loadBlob(ctx context.Context, b blobBackend) []chat.Message {
	if ctx == nil {
		ctx = context.Background()
	}
	data, ok, err := b.get(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "messagestore").Str("backend", b.name()).Msg("load failed, starting with empty log")
		return []chat.Message{}
	}
	if !ok || len(data) == 0 {
		return []chat.Message{}
	}
	msgs, err := chat.DecodeLog(data)
	if err != nil {
		log.Debug().Err(err).Str("component", "messagestore").Str("backend", b.name()).Msg("discarding malformed message log")
		return []chat.Message{}
	}
	return msgs
}

func saveBlob(ctx context.Context, b blobBackend, msgs []chat.Message) {
	if ctx == nil {
		ctx = context.Background()
	}
	data, err := chat.EncodeLog(msgs)
	if err != nil {
		log.Warn().Err(err).Str("component", "messagestore").Str("backend", b.name()).Msg("encode failed, not saving")
		return
	}
	if err := b.put(ctx, data); err != nil {
		log.Warn().Err(err).Str("component", "messagestore").Str("backend", b.name()).Int("messages", len(msgs)).Msg("save failed")
	}
}

func clearBlob(ctx context.Context, b blobBackend) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := b.del(ctx); err != nil {
		log.Warn().Err(err).Str("component", "messagestore").Str("backend", b.name()).Msg("clear failed")
	}
}
