package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"webtestflow/recorder/internal/api/handlers"
	"webtestflow/recorder/internal/api/routes"
	"webtestflow/recorder/internal/config"
	"webtestflow/recorder/internal/ingestion"
	"webtestflow/recorder/internal/injection"
	"webtestflow/recorder/internal/metrics"
	"webtestflow/recorder/internal/models"
	"webtestflow/recorder/internal/observability"
	"webtestflow/recorder/internal/recorder"
	"webtestflow/recorder/internal/services"
	"webtestflow/recorder/internal/supervisor"
	"webtestflow/recorder/pkg/driver"
	"webtestflow/recorder/pkg/hooktoken"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the recording API and page hooks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// inProcessFactory builds chromedp drivers for Chromium-family browsers.
func inProcessFactory(cfg *config.Config, logger *zap.Logger) driver.Factory {
	chromeCfg := driver.ChromeConfig{
		ExecPath:    cfg.Chrome.Path,
		RemoteURL:   cfg.Chrome.RemoteURL,
		UserDataDir: cfg.Chrome.UserDataDir,
	}
	return driver.FactoryFunc(func(sessionID string, opts driver.Options) (driver.Driver, error) {
		return driver.NewChromeDriver(sessionID, opts, chromeCfg, logger), nil
	})
}

func runServe(ctx context.Context) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Log)
	restore := observability.Install(logger)
	defer restore()
	defer logger.Sync() //nolint:errcheck

	gin.SetMode(cfg.Server.Mode)
	m := metrics.New()

	var fsys afero.Fs
	if cfg.Injection.AssetDir != "" {
		fsys = afero.NewOsFs()
	}
	orch := injection.NewOrchestrator(injection.NewAssets(fsys, cfg.Injection.AssetDir), injection.Config{
		MaxAttempts: cfg.Injection.MaxAttempts,
		RetryDelay:  cfg.Injection.RetryDelay,
		SettleDelay: cfg.Injection.SettleDelay,
	}, logger, m)

	var launcher *driver.Launcher
	if cfg.Sidecar.Command != "" {
		launcher = driver.NewLauncher(driver.LauncherConfig{
			BaseURL:        cfg.Sidecar.URL,
			Command:        cfg.Sidecar.Command,
			Args:           cfg.Sidecar.Args,
			StartupTimeout: cfg.Sidecar.StartupTimeout,
		}, logger.Named("launcher"))
		defer launcher.Close()
	}
	var outOfProcess driver.Factory
	if cfg.Sidecar.URL != "" {
		client := driver.NewSidecarClient(cfg.Sidecar.URL, launcher, logger.Named("sidecar"))
		outOfProcess = driver.FactoryFunc(func(sessionID string, opts driver.Options) (driver.Driver, error) {
			return client.NewDriver(sessionID, opts), nil
		})
	}
	factory := driver.NewKindFactory(inProcessFactory(cfg, logger.Named("chromedp")), outOfProcess, cfg.Sidecar.Browsers)

	signer := hooktoken.NewSigner(cfg.Hooks.TokenSecret, cfg.Hooks.TokenTTL)
	if !signer.Enabled() {
		logger.Warn("hook tokens disabled, any caller can post events for a known session id")
	}

	archive := recorder.NewArchive(cfg.Archive.Retention)
	ctrl := recorder.NewController(recorder.Config{
		Defaults: models.SessionDefaults{
			BrowserKind:       models.BrowserKind(cfg.Driver.DefaultBrowser),
			Headless:          cfg.Chrome.HeadlessMode,
			StartTimeout:      cfg.Driver.StartTimeout,
			NavigationTimeout: cfg.Driver.NavigationTimeout,
			ScriptTimeout:     cfg.Driver.ScriptTimeout,
			InjectionAttempts: cfg.Injection.MaxAttempts,
		},
		MaxSessions:  cfg.Chrome.MaxInstances,
		CallbackURL:  cfg.CallbackURL(),
		ProbeTimeout: cfg.Driver.ProbeTimeout,
		Supervisor: supervisor.Config{
			HealthInterval:       cfg.Supervisor.HealthInterval,
			HealthMaxRuns:        cfg.Supervisor.HealthMaxRuns,
			DomainInterval:       cfg.Supervisor.DomainInterval,
			DomainFullCheckEvery: cfg.Supervisor.DomainFullCheckEvery,
			DomainMaxRuns:        cfg.Supervisor.DomainMaxRuns,
			ReinjectAttempts:     cfg.Injection.MaxAttempts,
		},
	}, recorder.Deps{
		Factory:  factory,
		Injector: orch,
		Archive:  archive,
		Hub:      recorder.NewHub(0, logger),
		Signer:   signer,
		Logger:   logger,
		Metrics:  m,
	})

	gateway := ingestion.NewGateway(ctrl, ingestion.Config{
		RateLimit: cfg.Hooks.RateLimit,
		Burst:     cfg.Hooks.RateBurst,
	}, logger, m)

	janitor := services.NewJanitorService(services.JanitorConfig{
		Schedule:           cfg.Archive.JanitorSchedule,
		SessionMaxDuration: cfg.Archive.SessionMaxDuration,
	}, archive, ctrl, gateway, logger)
	if err := janitor.Start(); err != nil {
		return err
	}
	defer janitor.Stop()

	router := routes.SetupRoutes(routes.Deps{
		Handler:  handlers.New(ctrl, gateway, logger),
		Signer:   signer,
		Metrics:  m,
		Logger:   logger,
		BasePath: cfg.Server.BasePath,
	})

	srv := &http.Server{
		Addr:        cfg.Address(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Websocket streams outlive any write timeout, so only the header
		// read is bounded here.
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("callback_url", cfg.CallbackURL()),
			zap.Strings("sidecar_browsers", cfg.Sidecar.Browsers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Warn("stopping sessions", zap.Error(err))
	}
	logger.Info("server shutdown complete")
	return nil
}
