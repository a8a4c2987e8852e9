package messagestore

import (
	"context"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
)

// Log is the in-memory message log backed by a Store. Every mutation is
// written through synchronously. A Log is owned by a single goroutine.
type Log struct {
	store Store
	msgs  []chat.Message
}

// OpenLog replays the persisted log from store.
func OpenLog(ctx context.Context, store Store) *Log {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Log{store: store, msgs: store.Load(ctx)}
}

// Messages returns the current log. The slice must not be modified.
func (l *Log) Messages() []chat.Message {
	return l.msgs
}

func (l *Log) Len() int { return len(l.msgs) }

func (l *Log) Append(ctx context.Context, m chat.Message) {
	msgs := make([]chat.Message, len(l.msgs), len(l.msgs)+1)
	copy(msgs, l.msgs)
	l.Replace(ctx, append(msgs, m))
}

// Replace installs msgs as the new log and saves it. The reducer produces
// whole new logs, so this is the common write path.
func (l *Log) Replace(ctx context.Context, msgs []chat.Message) {
	if msgs == nil {
		msgs = []chat.Message{}
	}
	l.msgs = msgs
	l.store.Save(ctx, l.msgs)
}

// Clear empties the log and removes the persisted copy.
func (l *Log) Clear(ctx context.Context) {
	l.msgs = []chat.Message{}
	l.store.Clear(ctx)
}

func (l *Log) Store() Store { return l.store }
