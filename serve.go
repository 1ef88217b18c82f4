// serve.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the index, progress and window API",
	Long: `Start the HTTP API.

Endpoints:
  GET  /api/health
  GET  /api/files/since?ts=&limit=
  GET  /api/progress
  GET  /api/progress/{feed}
  GET  /api/window/{feed}?start=&end=&validate=
  POST /api/admin/poll/{feed}      (feed "all" polls every feed)
  POST /api/admin/cleanup?dry_run=&task=`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		poller, err := a.poller()
		if err != nil {
			return err
		}

		api := handlers.New(handlers.Deps{
			DB:       a.db,
			Files:    a.files,
			Progress: a.progress,
			Window:   a.window,
			Poller:   poller,
			Cleanup:  a.cleanup,
		}, a.logger)

		srv := &http.Server{
			Addr:         ":" + a.cfg.Server.Port,
			Handler:      api.Routes(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("server starting", "addr", srv.Addr)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error starting server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		a.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error during server shutdown: %w", err)
		}
		return nil
	})
}
