package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apihttp "fixedrate-billing/internal/api/http"
	"fixedrate-billing/internal/billing/application"
	"fixedrate-billing/internal/billing/infrastructure/mqtt"
	"fixedrate-billing/internal/billing/interfaces"
	billinghttp "fixedrate-billing/internal/billing/interfaces/http"
	checksapp "fixedrate-billing/internal/checks/application"
	checks "fixedrate-billing/internal/checks/domain"
	"fixedrate-billing/internal/checks/infrastructure/memory"
	"fixedrate-billing/internal/checks/infrastructure/sqlite"
	checkshttp "fixedrate-billing/internal/checks/interfaces/http"
	"fixedrate-billing/internal/checks/notify"
	"fixedrate-billing/internal/config"
	"fixedrate-billing/internal/observability/metrics"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the billing web service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	publishers := interfaces.MultiPublisher{interfaces.NewLoggingPublisher(logger)}
	if cfg.MQTT.Enabled {
		pub, err := mqtt.New(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("creating mqtt publisher: %w", err)
		}
		defer pub.Close()
		publishers = append(publishers, pub)
		logger.Info("mqtt publisher enabled", zap.String("topic", pub.Topic()))
	}

	svc, err := application.NewStatementService(statementSettings(cfg.Billing), logger, application.WithPublisher(publishers))
	if err != nil {
		return err
	}
	billHandler, err := billinghttp.NewBillHandler(svc, billinghttp.Defaults{
		Rate:     cfg.Billing.Rate,
		FixedFee: cfg.Billing.FixedFee,
	}, cfg.HTTP.MaxUploadBytes, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := openJobStore(cfg.Checks)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := newCheckRunner(cfg.Checks, store, logger)
	if err != nil {
		return err
	}
	checksHandler, err := checkshttp.NewHandler(runner, logger)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/", billHandler)
	checksHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", apihttp.HealthHandler())

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           apihttp.LoggingMiddleware(apihttp.NoCacheMiddleware(mux), logger),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	runner.Wait()
	return nil
}

func openJobStore(cfg config.ChecksConfig) (checks.JobStore, func(), error) {
	switch cfg.JobStore {
	case config.JobStoreSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening job store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return memory.NewStore(), func() {}, nil
	}
}

func newCheckRunner(cfg config.ChecksConfig, store checks.JobStore, logger *zap.Logger) (*checksapp.Runner, error) {
	var opts []checksapp.Option
	if cfg.WebhookURL != "" {
		opts = append(opts, checksapp.WithNotifier(notify.NewWebhookNotifier(cfg.WebhookURL)))
	}
	return checksapp.NewRunner(checksapp.Settings{
		WorkDir:   cfg.WorkDir,
		StaticDir: cfg.StaticDir,
		GoBinary:  cfg.GoBinary,
		Packages:  cfg.Packages,
		CoverPkg:  cfg.CoverPkg,
		Timeout:   cfg.Timeout,
	}, store, checksapp.ExecRunner{}, logger, opts...)
}
