// Package config loads client settings from an optional YAML file and
// overlays CDP_CHAT_* environment variables and command-line flags through
// viper.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/eventbus"
	"github.com/go-go-golems/cdp-chat/pkg/persistence/messagestore"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort = 8000
	EnvPrefix   = "CDP_CHAT"
)

type Settings struct {
	Host           string                `yaml:"host"`
	Port           int                   `yaml:"port"`
	Secure         bool                  `yaml:"secure"`
	ReconnectDelay time.Duration         `yaml:"reconnect_delay"`
	RetryDelay     time.Duration         `yaml:"retry_delay"`
	Store          messagestore.Settings `yaml:"store"`
	Redis          eventbus.Settings     `yaml:"redis"`
}

// Default returns settings matching the backend's development defaults.
func Default() Settings {
	return Settings{
		Host:           "localhost",
		Port:           DefaultPort,
		ReconnectDelay: 2000 * time.Millisecond,
		RetryDelay:     3000 * time.Millisecond,
		Store: messagestore.Settings{
			Backend: messagestore.BackendFile,
			Path:    DefaultDataDir(),
			Key:     messagestore.DefaultKey,
		},
		Redis: eventbus.DefaultSettings(),
	}
}

func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cdp-chat")
	}
	return ".cdp-chat"
}

func DefaultConfigFile() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (Settings, error) {
	s := Default()
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, errors.Wrapf(err, "parse config %s", path)
	}
	return s, nil
}

// NewViper binds flags into a fresh viper instance that also reads
// CDP_CHAT_<FLAG> variables, with dashes in flag names mapped to underscores.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, errors.Wrap(err, "bind flags")
		}
	}
	return v, nil
}

// Overlay applies every key that v holds an explicit value for. viper gives a
// changed flag precedence over the matching environment variable; keys that
// are set by neither keep the value from the file or the defaults.
func (s *Settings) Overlay(v *viper.Viper) error {
	var errs []string
	each := func(key string, apply func(any) error) {
		if !v.IsSet(key) {
			return
		}
		if err := apply(v.Get(key)); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	str := func(dst *string) func(any) error {
		return func(raw any) (err error) {
			*dst, err = cast.ToStringE(raw)
			return err
		}
	}
	boolean := func(dst *bool) func(any) error {
		return func(raw any) (err error) {
			*dst, err = cast.ToBoolE(raw)
			return err
		}
	}
	duration := func(dst *time.Duration) func(any) error {
		return func(raw any) (err error) {
			*dst, err = cast.ToDurationE(raw)
			return err
		}
	}

	each("host", str(&s.Host))
	each("port", func(raw any) (err error) {
		s.Port, err = cast.ToIntE(raw)
		return err
	})
	each("secure", boolean(&s.Secure))
	each("reconnect-delay", duration(&s.ReconnectDelay))
	each("retry-delay", duration(&s.RetryDelay))
	each("store", str(&s.Store.Backend))
	each("store-path", str(&s.Store.Path))
	each("store-key", str(&s.Store.Key))
	each("redis-enabled", boolean(&s.Redis.Enabled))
	each("redis-addr", str(&s.Redis.Addr))
	each("redis-group", str(&s.Redis.Group))
	each("redis-consumer", str(&s.Redis.Consumer))

	if len(errs) > 0 {
		return errors.Errorf("invalid settings: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return errors.New("config: host is empty")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return errors.Errorf("config: invalid port %d", s.Port)
	}
	if s.ReconnectDelay <= 0 {
		return errors.Errorf("config: reconnect_delay must be positive, got %s", s.ReconnectDelay)
	}
	if s.RetryDelay <= 0 {
		return errors.Errorf("config: retry_delay must be positive, got %s", s.RetryDelay)
	}
	return s.StoreSettings().Validate()
}

// StoreSettings returns the store settings with the redis address filled in.
func (s Settings) StoreSettings() messagestore.Settings {
	st := s.Store
	st.RedisAddr = s.Redis.Addr
	return st
}

// Endpoints are the backend URLs derived from host, port and scheme.
type Endpoints struct {
	ChatWS string
	Wallet string
	Tools  string
	Health string
}

func (s Settings) Endpoints() Endpoints {
	httpScheme, wsScheme := "http", "ws"
	if s.Secure {
		httpScheme, wsScheme = "https", "wss"
	}
	hostPort := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	base := httpScheme + "://" + hostPort
	return Endpoints{
		ChatWS: wsScheme + "://" + hostPort + "/ws/chat",
		Wallet: base + "/api/wallet",
		Tools:  base + "/api/tools",
		Health: base + "/api/health",
	}
}
