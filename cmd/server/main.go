// Package main is the entry point for the coach server
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/lukasbauer/coach/internal/app"
)

func main() {
	cfg := app.LoadConfigFromEnv()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Printf("sentry init failed: %v", err)
		} else {
			logger.Printf("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	serve := serveCmd(cfg, logger)
	rootCmd := &cobra.Command{
		Use:   "coach",
		Short: "Realtime voice roleplay coaching server",
		Long: `coach runs the websocket server behind the roleplay practice app.
Clients stream recorded utterances; the server transcribes them, streams the
persona's reply as text and speech, and keeps the session history for the
feedback service.`,
		SilenceUsage: true,
		RunE:         serve.RunE,
	}
	rootCmd.AddCommand(serve, migrateCmd(cfg, logger))

	if err := rootCmd.Execute(); err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
