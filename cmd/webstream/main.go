package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogero/stremio-webstream/frontend"
	"github.com/ogero/stremio-webstream/internal"
	"github.com/ogero/stremio-webstream/internal/common"
	"github.com/ogero/stremio-webstream/internal/config"
	"github.com/ogero/stremio-webstream/internal/journal"
	"github.com/ogero/stremio-webstream/internal/loki"
	"github.com/ogero/stremio-webstream/internal/session"
	"github.com/ogero/stremio-webstream/pkg/addon"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {

	cfg, err := config.Load()
	if err != nil {
		common.Log.Error("Failed to config.Load", "err", err)
		os.Exit(1)
	}

	shutdownLogger, err := common.InitLogger(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OtelExporterEndpoint)
	if err != nil {
		common.Log.Error("Failed to common.InitLogger", "err", err)
		os.Exit(1)
	}

	shutdownInstrumentation, err := common.InitInstrumentation(cfg.ServiceName, cfg.ServiceVersion, cfg.ServiceEnvironment, cfg.OtelExporterEndpoint)
	if err != nil {
		common.Log.Error("Failed to common.InitInstrumentation", "err", err)
		os.Exit(1)
	}

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		common.Log.Error("Failed to journal.Open", "err", err)
		os.Exit(1)
	}

	var statsSource internal.StatsSource = j
	if cfg.LokiHost != "" {
		statsSource = loki.NewLoki(cfg.LokiHost, cfg.ServiceName)
	}

	webstreamService, err := internal.NewWebstreamService(internal.ServiceOptions{
		Addon:             addon.NewAddon(cfg.AddonURL, cfg.AddonRequestTimeout),
		Tracker:           session.Trackers{j, common.MeterTracker{}},
		StatsSource:       statsSource,
		MaxSessions:       cfg.MaxSessions,
		SessionTTL:        cfg.SessionTTL,
		ErrorMessageTTL:   cfg.ErrorMessageTTL,
		SuccessMessageTTL: cfg.SuccessMessageTTL,
	})
	if err != nil {
		common.Log.Error("Failed to internal.NewWebstreamService", "err", err)
		os.Exit(1)
	}

	app, err := internal.NewApp(webstreamService, cfg.BasePath)
	if err != nil {
		common.Log.Error("Failed to internal.NewApp", "err", err)
		os.Exit(1)
	}

	distFS, err := fs.Sub(fs.FS(frontend.Dist), "dist")
	if err != nil {
		common.Log.Error("Failed to fs.Sub", "err", err)
		os.Exit(1)
	}

	pollCtx, stopPolling := context.WithCancel(context.Background())
	go webstreamService.StartPollingStats(pollCtx, cfg.StatsPollInterval)

	// Listen
	srv := &http.Server{
		Addr:              cfg.ServerListenAddr,
		Handler:           otelhttp.NewHandler(app.Router(distFS), "webstream"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		common.Log.Info("Listening", "addr", cfg.ServerListenAddr, "basePath", cfg.BasePath, "addon", cfg.AddonURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Log.Error("Failed to http.Server.ListenAndServe", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopPolling()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to http.Server.Shutdown", "err", err)
	}

	if err := webstreamService.Shutdown(ctx); err != nil {
		common.Log.Error("Failed to internal.WebstreamService.Shutdown", "err", err)
	}

	if err := j.Close(); err != nil {
		common.Log.Error("Failed to journal.Journal.Close", "err", err)
	}

	shutdownInstrumentation(ctx)

	common.Log.Info("Bye!")

	if err := shutdownLogger(ctx); err != nil {
		common.Log.Error("Failed to shutdown logger", "err", err)
	}
}
