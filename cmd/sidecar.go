package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"webtestflow/recorder/internal/config"
	"webtestflow/recorder/internal/observability"
	"webtestflow/recorder/pkg/sidecar"
)

func newSidecarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sidecar",
		Short: "Serve local browsers over the sidecar protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSidecar(cmd.Context())
		},
	}
}

func runSidecar(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Log).Named("sidecar")
	defer logger.Sync() //nolint:errcheck
	gin.SetMode(cfg.Server.Mode)

	server := sidecar.NewServer(inProcessFactory(cfg, logger), logger)
	srv := &http.Server{Addr: cfg.Sidecar.Listen, Handler: server.Handler()}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		server.Close(shutdownCtx)
	}()

	logger.Info("sidecar listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-done
		return err
	}
	<-done
	return nil
}
