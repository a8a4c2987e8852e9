package messagestore

import (
	"context"
	"sync"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
)

// MemoryStore keeps the serialized log in memory. It goes through the same
// encode/decode path as the durable stores so round-trip behavior matches.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	key  string
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}, key: DefaultKey}
}

// Raw returns the stored bytes, for tests that need to corrupt or inspect them.
func (s *MemoryStore) Raw() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[s.key]
	return b, ok
}

func (s *MemoryStore) SetRaw(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[s.key] = b
}

func (s *MemoryStore) Load(ctx context.Context) []chat.Message { return loadBlob(ctx, s) }

func (s *MemoryStore) Save(ctx context.Context, msgs []chat.Message) { saveBlob(ctx, s, msgs) }

func (s *MemoryStore) Clear(ctx context.Context) { clearBlob(ctx, s) }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) name() string { return "memory" }

func (s *MemoryStore) get(context.Context) ([]byte, bool, error) {
	b, ok := s.Raw()
	return b, ok, nil
}

func (s *MemoryStore) put(_ context.Context, data []byte) error {
	s.SetRaw(data)
	return nil
}

func (s *MemoryStore) del(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, s.key)
	return nil
}
