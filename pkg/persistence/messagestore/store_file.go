package messagestore

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-go-golems/cdp-chat/pkg/chat"
	"github.com/pkg/errors"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore keeps the log as <dir>/<key>.json. Writes go to a temp file that
// is renamed into place so a crash never leaves a half-written log.
type FileStore struct {
	path string
}

var _ Store = &FileStore{}

func NewFileStore(dir string, key string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("file message store: empty dir")
	}
	if key == "" {
		key = DefaultKey
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "file message store: create dir")
	}
	return &FileStore{path: filepath.Join(dir, unsafeKeyChars.ReplaceAllString(key, "_")+".json")}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) []chat.Message { return loadBlob(ctx, s) }

func (s *FileStore) Save(ctx context.Context, msgs []chat.Message) { saveBlob(ctx, s, msgs) }

func (s *FileStore) Clear(ctx context.Context) { clearBlob(ctx, s) }

func (s *FileStore) Close() error { return nil }

func (s *FileStore) name() string { return "file" }

func (s *FileStore) get(context.Context) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "file message store: read")
	}
	return b, true, nil
}

func (s *FileStore) put(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".messages-*.tmp")
	if err != nil {
		return errors.Wrap(err, "file message store: create temp")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "file message store: write temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "file message store: close temp")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "file message store: rename")
	}
	return nil
}

func (s *FileStore) del(context.Context) error {
	err := os.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "file message store: remove")
	}
	return nil
}
