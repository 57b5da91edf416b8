package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lukasbauer/coach/internal/app"
)

func serveCmd(cfg app.Config, logger *log.Logger) *cobra.Command {
	var drainTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.HTTPAddr = addr
			}

			a, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           a.Router(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Printf("listening on %s", cfg.HTTPAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("listen: %w", err)
			case <-ctx.Done():
			}
			logger.Printf("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()

			// Hijacked websockets are not tracked by Shutdown, so sessions
			// are drained first.
			if err := a.Drain(shutdownCtx); err != nil {
				logger.Printf("drain: %v", err)
			}
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().DurationVar(&drainTimeout, "drain-timeout", 10*time.Second, "how long to wait for sessions to close")
	return cmd
}

func migrateCmd(cfg app.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := app.Migrate(ctx, cfg, logger); err != nil {
				return err
			}
			logger.Printf("migrations applied")
			return nil
		},
	}
}
