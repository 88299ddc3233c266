package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-edo-api/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logr, err := bootstrap()
		if err != nil {
			return err
		}
		defer logr.Sync() //nolint:errcheck

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := server.New(ctx, cfg, logr)
		if err != nil {
			return err
		}
		defer app.Close()

		return app.Run(ctx)
	},
}
