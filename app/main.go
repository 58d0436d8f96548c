package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobfeed/jobfeed/app/api"
	"github.com/jobfeed/jobfeed/app/auth"
	"github.com/jobfeed/jobfeed/app/cfg"
	"github.com/jobfeed/jobfeed/app/database"
	"github.com/jobfeed/jobfeed/app/feed"
	"github.com/jobfeed/jobfeed/app/health"
	"github.com/jobfeed/jobfeed/app/ingest"
	"github.com/jobfeed/jobfeed/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting job feed server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBHost, appCfg.DBPort, appCfg.DBUser,
		appCfg.DBPassword, appCfg.DBName)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(db); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	feedRepo := database.NewFeedRepository(db, appCfg.ExcludedFeedSource)
	tokenRepo := database.NewTokenRepository(db)

	feedService := feed.NewService(feedRepo, db, appCfg.AdURLBase, appCfg.BaseUrl, appCfg.DirectSource)
	security := auth.NewSecurity(appCfg.AuthIssuer, appCfg.AuthAudience, appCfg.AuthSecret)
	tokenService := auth.NewTokenService(tokenRepo, db, security)
	monitor := health.NewMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ads registered directly stopped being served through the feed; any
	// still marked active from before that change get swept on boot.
	if err := feedService.DeactivateDirectAds(ctx); err != nil {
		slog.Error("Failed to deactivate directly registered ads", "error", err)
		os.Exit(1)
	}

	if _, err := tokenService.EnsurePublicToken(ctx); err != nil {
		slog.Error("Failed to prepare public token", "error", err)
		os.Exit(1)
	}
	if err := tokenService.RefreshDenylist(ctx); err != nil {
		slog.Error("Failed to load token denylist", "error", err)
		os.Exit(1)
	}

	elector, err := tasks.NewLeaderElector(appCfg.ElectorPath)
	if err != nil {
		slog.Error("Failed to set up leader elector", "error", err)
		os.Exit(1)
	}

	go tasks.DenylistRefresh(tokenService).Run(ctx)
	go tasks.PublicTokenRefresh(tokenService, elector).Run(ctx)

	startListener(ctx, "ads", ingest.KafkaOpts{
		Brokers:  appCfg.KafkaBrokers,
		Topic:    appCfg.KafkaTopic,
		GroupID:  appCfg.KafkaGroupID,
		CAPath:   appCfg.KafkaCAPath,
		CertPath: appCfg.KafkaCertPath,
		KeyPath:  appCfg.KafkaKeyPath,
	}, feedService.SaveAdPayloads, monitor)

	if appCfg.SourceBackfillEnabled {
		startListener(ctx, "source-backfill", ingest.KafkaOpts{
			Brokers:  appCfg.KafkaBrokers,
			Topic:    appCfg.KafkaTopic,
			GroupID:  appCfg.KafkaBackfillGroupID,
			CAPath:   appCfg.KafkaCAPath,
			CertPath: appCfg.KafkaCertPath,
			KeyPath:  appCfg.KafkaKeyPath,
		}, feedService.SaveAdSources, monitor)
	}

	handler := api.NewHandler(feedService, tokenService, security, monitor,
		appCfg.DefaultPageSize, appCfg.MaxPageSize)
	server := api.NewServer(handler, security)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("HTTP server error", "error", err)
	}

	slog.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func startListener(ctx context.Context, name string, opts ingest.KafkaOpts,
	handler ingest.Handler, monitor *health.Monitor) {
	consumer, err := ingest.NewKafkaConsumer(opts)
	if err != nil {
		slog.Error("Failed to set up consumer", "listener", name, "error", err)
		os.Exit(1)
	}
	listener := ingest.NewListener(name, consumer, handler, monitor)
	go func() {
		if err := listener.Run(ctx); err != nil {
			slog.Error("Listener stopped", "listener", name, "error", err)
		}
	}()
}
