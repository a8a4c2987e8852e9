package main

import (
	"fmt"
	"os"

	"github.com/go-go-golems/cdp-chat/pkg/config"
	"github.com/go-go-golems/cdp-chat/pkg/persistence/messagestore"
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app carries the resolved settings from the root command to subcommands.
type app struct {
	settings config.Settings
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "cdp-chat",
		Short:         "Terminal client for the CDP agent chat backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLoggerFromCobra(cmd); err != nil {
				return err
			}
			return a.resolve(cmd)
		},
	}
	cobra.CheckErr(clay.InitGlazed("cdp-chat", root))

	def := config.Default()
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (default "+config.DefaultConfigFile()+")")
	pf.String("host", def.Host, "Agent backend host")
	pf.Int("port", def.Port, "Agent backend port")
	pf.Bool("secure", false, "Use wss:// and https://")
	pf.Duration("reconnect-delay", def.ReconnectDelay, "Delay before reconnecting the chat socket")
	pf.Duration("retry-delay", def.RetryDelay, "Delay before retrying wallet and tools requests")
	pf.String("store", def.Store.Backend, "Message store backend (file, sqlite, redis, memory)")
	pf.String("store-path", def.Store.Path, "Directory (file) or database file (sqlite) for the message store")
	pf.String("store-key", def.Store.Key, "Key the message log is stored under")
	pf.Bool("redis-enabled", false, "Mirror session events to Redis Streams")
	pf.String("redis-addr", def.Redis.Addr, "Redis address")
	pf.String("redis-group", def.Redis.Group, "Redis Streams consumer group")
	pf.String("redis-consumer", def.Redis.Consumer, "Redis Streams consumer name")

	root.AddCommand(
		newChatCmd(a),
		newSendCmd(a),
		newTailCmd(a),
		newHealthCmd(a),
	)
	addGlazedCommands(root, a)
	return root, a
}

// resolve layers defaults, the config file, CDP_CHAT_* variables and
// explicitly set flags, in that order.
func (a *app) resolve(cmd *cobra.Command) error {
	v, err := config.NewViper(cmd.Root().PersistentFlags())
	if err != nil {
		return err
	}
	path, optional := v.GetString("config"), false
	if path == "" {
		path, optional = config.DefaultConfigFile(), true
	}
	s, err := config.Load(path, optional)
	if err != nil {
		return err
	}
	if err := s.Overlay(v); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return err
	}
	a.settings = s
	log.Debug().Str("host", s.Host).Int("port", s.Port).Str("store", s.Store.Backend).Msg("settings resolved")
	return nil
}

func (a *app) openStore() (messagestore.Store, error) {
	store, err := messagestore.Open(a.settings.StoreSettings())
	if err != nil {
		return nil, errors.Wrap(err, "open message store")
	}
	return store, nil
}

func main() {
	root, _ := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
