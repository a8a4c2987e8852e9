package messagestore

import (
	"path/filepath"

	"github.com/pkg/errors"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Settings selects and configures a Store backend.
type Settings struct {
	Backend string `yaml:"backend"`
	// Path is a directory for the file backend and a database file for sqlite.
	Path      string `yaml:"path"`
	Key       string `yaml:"key"`
	RedisAddr string `yaml:"-"`
}

func (s Settings) Validate() error {
	switch s.Backend {
	case BackendFile, BackendSQLite:
		if s.Path == "" {
			return errors.Errorf("message store: backend %q needs a path", s.Backend)
		}
	case BackendRedis:
		if s.RedisAddr == "" {
			return errors.New("message store: redis backend needs an address")
		}
	case BackendMemory:
	default:
		return errors.Errorf("message store: unknown backend %q", s.Backend)
	}
	return nil
}

// Open constructs the Store described by s.
func Open(s Settings) (Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Backend {
	case BackendFile:
		return NewFileStore(s.Path, s.Key)
	case BackendSQLite:
		dsn, err := SQLiteDSNForFile(filepath.Clean(s.Path))
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(dsn, s.Key)
	case BackendRedis:
		return NewRedisStore(s.RedisAddr, s.Key)
	default:
		return NewMemoryStore(), nil
	}
}
