package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-go-golems/cdp-chat/pkg/poller"
	"github.com/spf13/cobra"
)

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the agent backend is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := a.settings.Endpoints().Health
			if err := poller.CheckHealth(commandContext(cmd), &http.Client{Timeout: 5 * time.Second}, url); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", url)
			return err
		},
	}
}
