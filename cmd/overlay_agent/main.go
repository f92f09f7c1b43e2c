package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/overlay_agent/internal/api"
	"github.com/dgnsrekt/overlay_agent/internal/badge"
	"github.com/dgnsrekt/overlay_agent/internal/browser"
	"github.com/dgnsrekt/overlay_agent/internal/cdp"
	"github.com/dgnsrekt/overlay_agent/internal/cdpcontrol"
	"github.com/dgnsrekt/overlay_agent/internal/classify"
	"github.com/dgnsrekt/overlay_agent/internal/config"
	"github.com/dgnsrekt/overlay_agent/internal/controller"
	"github.com/dgnsrekt/overlay_agent/internal/host"
	"github.com/dgnsrekt/overlay_agent/internal/inject"
	"github.com/dgnsrekt/overlay_agent/internal/netutil"
	"github.com/dgnsrekt/overlay_agent/internal/notify"
	"github.com/dgnsrekt/overlay_agent/internal/relay"
	"github.com/dgnsrekt/overlay_agent/internal/render"
	"github.com/dgnsrekt/overlay_agent/internal/statestore"
	"github.com/dgnsrekt/overlay_agent/internal/storage"
	"github.com/dgnsrekt/overlay_agent/internal/telemetry"
)

const (
	bootFile   = "boot.js"
	unloadFile = "unload.js"
	viewerPath = "/pdfjs/web/viewer.html"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	sites, err := config.LoadSiteRules(cfg.SitesFile)
	if err != nil {
		slog.Error("failed to load site rules", "path", cfg.SitesFile, "error", err)
		os.Exit(1)
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, 10, cfg.BindFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	origin := cfg.OriginFor(bindAddr)

	slog.Info("overlay_agent config loaded",
		"bind_addr", bindAddr,
		"cdp_url", cfg.CDPURL(),
		"origin", origin,
		"bundle_dir", cfg.BundleDir,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"file_access", cfg.FileAccess,
		"auto_grant", cfg.AutoGrant,
		"reader_hosts", len(sites.ReaderHosts),
		"blocked_hosts", len(sites.BlockedHosts),
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress:          cfg.CDPAddress,
			CDPPort:             cfg.CDPPort,
			StartURL:            cfg.StartURL,
			ProfileDir:          cfg.ProfileDir,
			CrashDumpDir:        filepath.Join(cfg.ProfileDir, "crashes"),
			EnableCrashReporter: cfg.EnableCrashLog,
			AllowFileAccess:     cfg.FileAccess,
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	// Discovery runs before the controller connects so its helper target
	// never reaches the event stream.
	existing, err := cdp.Discover(ctx, cfg.CDPURL())
	if err != nil {
		slog.Warn("tab discovery failed; falling back to target list", "error", err)
	}

	bundle := os.DirFS(cfg.BundleDir)
	cdpClient := cdpcontrol.NewClient(cfg.CDPURL(), bundle, cfg.EvalTimeout())
	if err := cdpClient.Connect(ctx); err != nil {
		slog.Error("failed to connect CDP controller", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()
	if existing == nil {
		if existing, err = cdpClient.Query(ctx); err != nil {
			slog.Warn("failed to list tabs", "error", err)
		}
	}

	grants := host.NewGrants(cfg.FileAccess, func(c host.Capability) bool {
		slog.Info("permission requested", "capability", c, "granted", cfg.AutoGrant)
		return cfg.AutoGrant
	})

	classifier, err := classify.New(classify.Rules{
		ViewerURL:    origin + viewerPath,
		ReaderHosts:  sites.ReaderHosts,
		BlockedHosts: sites.BlockedHosts,
	}, cdpClient, grants)
	if err != nil {
		slog.Error("invalid site rules", "error", err)
		os.Exit(1)
	}

	orchestrator := inject.New(inject.Config{
		Origin:          origin,
		BootFile:        bootFile,
		UnloadFile:      unloadFile,
		ReaderFrameHost: sites.ReaderFrame.Host,
		ReaderFramePath: sites.ReaderFrame.PathPrefix,
	}, cdpClient, cdpClient, grants, classifier)

	badgeOpts := badge.DefaultOptions()
	badgeOpts.Blocklist = sites.BadgeBlocklist
	counter := badge.NewService(badge.NewHTTPFetcher(cfg.BadgeAPI, cfg.BadgeRPS, nil), badgeOpts)

	reports := storage.NewJSONLWriter(cfg.ReportFile, cfg.ReportBufSize, cfg.ReportMaxMB, cfg.ReportMaxDays)
	defer func() {
		if err := reports.Close(); err != nil {
			slog.Debug("error report writer close failed", "error", err)
		}
	}()

	sinks := telemetry.Sinks{reports}
	if cfg.ReportWebhook != "" {
		webhook := notify.NewWebhook(cfg.ReportWebhook, &http.Client{Timeout: 10 * time.Second}, cfg.ReportBufSize)
		defer func() {
			if err := webhook.Close(); err != nil {
				slog.Debug("error report webhook close failed", "error", err)
			}
		}()
		sinks = append(sinks, webhook)
	}

	store, err := statestore.Open(cfg.StateFile)
	if err != nil {
		slog.Error("failed to open tab state store", "path", cfg.StateFile, "error", err)
		os.Exit(1)
	}

	broker := relay.NewBroker()
	svc := controller.New(controller.Deps{
		Tabs:       cdpClient,
		Perms:      grants,
		Installer:  orchestrator,
		Classifier: classifier,
		Counter:    counter,
		Renderer:   render.NewPublisher(broker),
		Store:      store,
		Reporter:   telemetry.NewReporter(sinks),
		Client: inject.ClientConfig{
			AssetRoot:     origin + "/",
			SidebarAppURL: cfg.SidebarAppURL,
		},
	})

	events, err := cdpClient.Subscribe(ctx)
	if err != nil {
		slog.Error("failed to subscribe to tab events", "error", err)
		os.Exit(1)
	}
	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx, events) }()

	if err := svc.Bootstrap(ctx, existing); err != nil {
		slog.Error("controller bootstrap failed", "error", err)
	}

	h := api.NewServer(svc, api.Options{
		Broker:  broker,
		Bundle:  bundle,
		Metrics: promhttp.Handler(),
	})
	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("overlay_agent listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("overlay_agent server failed", "error", err)
			os.Exit(1)
		}
	}()

	runDone := false
	select {
	case <-ctx.Done():
	case err := <-runErr:
		runDone = true
		if errors.Is(err, controller.ErrEventsClosed) {
			slog.Error("browser connection lost", "error", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("overlay_agent shutdown failed", "error", err)
	}
	// Wait for in-flight injections before the sinks and client close.
	if !runDone {
		<-runErr
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
