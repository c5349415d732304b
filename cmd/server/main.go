package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mdblog/internal/config"
	"mdblog/internal/content"
	"mdblog/internal/discovery"
	"mdblog/internal/mentions"
	"mdblog/internal/notify"
	"mdblog/internal/outbound"
	"mdblog/internal/receiver"
	"mdblog/internal/revalidator"
	"mdblog/internal/server"
	"mdblog/internal/storage"
	"mdblog/internal/verifier"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", os.Getenv("MDBLOG_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	mentionStore, err := mentions.NewStore(cfg.ContentDir, cfg.WebmentionsHardDelete)
	if err != nil {
		log.Error("open mention store", "content_dir", cfg.ContentDir, "error", err)
		os.Exit(1)
	}

	library := content.NewLibrary(cfg.ContentDir, cfg.Link)
	userAgent := fmt.Sprintf("mdblog/%s (%s)", version, cfg.Link)

	v := verifier.New(http.DefaultClient, userAgent)

	var notifier receiver.Notifier = notify.Discard{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Error("create telegram notifier", "error", err)
			os.Exit(1)
		}
		notifier = tg
	}

	recv := receiver.New(mentionStore, v, library, notifier,
		cfg.EnableWebmentions, cfg.SiteHost(), log)

	dispatcher := outbound.New(store, library,
		discovery.New(http.DefaultClient, userAgent),
		http.DefaultClient,
		time.Duration(cfg.ThrottleSecondsOnUpdate)*time.Second,
		cfg.IsExcludedDomain, userAgent, log)

	reval := revalidator.New(mentionStore, v, log)

	// Article pages only advertise the endpoint when the feature is on; the
	// endpoint route itself stays registered so disabled submissions get the
	// not_enabled rejection instead of a 404.
	webmentionURL := ""
	if cfg.EnableWebmentions {
		webmentionURL = cfg.Link + "/webmentions"
	}
	articleHandler := server.NewArticleHandler(library, mentionStore, webmentionURL)

	router := server.NewRouter()
	server.SetupRoutes(router, server.NewWebmentionHandler(recv), articleHandler)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.EnableWebmentions {
		go recv.Run(ctx)
		go dispatcher.Run(ctx)
		go reval.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting server", "addr", addr, "webmentions", cfg.EnableWebmentions)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
