package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// logToFile sends the global logger to a file under dir while a full-screen
// UI owns the terminal. The returned function closes the file.
func logToFile(dir string) (string, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, errors.Wrap(err, "create log directory")
	}
	path := filepath.Join(dir, "cdp-chat.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", nil, errors.Wrap(err, "open log file")
	}
	prev := log.Logger
	log.Logger = log.Logger.Output(f)
	return path, func() {
		log.Logger = prev
		_ = f.Close()
	}, nil
}
