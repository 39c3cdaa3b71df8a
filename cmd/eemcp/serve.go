package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpsvr "github.com/eemcp/eemcp/internal/http"
	mcpsvr "github.com/eemcp/eemcp/internal/mcp"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the manage_content tool over stdio, or over HTTP with --http",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("http", "", "Listen address for the HTTP surface (REST, /metrics and /mcp); stdio when empty")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	httpAddr, _ := cmd.Flags().GetString("http")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	mcpServer := mcpsvr.NewServer(a.svc, a.logger, version)
	if httpAddr == "" {
		err := mcpServer.RunStdio(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	srv := httpsvr.NewServer(httpAddr, a.svc, mcpServer.HTTPHandler(), a.logger, httpsvr.BuildInfo{
		Version:   version,
		GitCommit: gitCommit,
		BuildTime: buildTime,
	}, a.settings.JWTSecret)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
