package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/antoniostano/brobbot/internal/authors"
	"github.com/antoniostano/brobbot/internal/commands"
	"github.com/antoniostano/brobbot/internal/config"
	"github.com/antoniostano/brobbot/internal/httpapi"
	"github.com/antoniostano/brobbot/internal/logger"
	"github.com/antoniostano/brobbot/internal/memory"
	"github.com/antoniostano/brobbot/internal/observability"
	"github.com/antoniostano/brobbot/internal/quotes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := memory.NewStore(ctx, memory.Options{
		Mode:             cfg.ResolvedQuoteStore(),
		DatabaseURL:      cfg.DatabaseURL,
		SQLitePath:       cfg.SQLitePath,
		TablePrefix:      cfg.TablePrefix,
		TextSearchConfig: cfg.TextSearchConfig,
		SerializeRetries: cfg.QuoteSerializeRetries,
	})
	if err != nil {
		log.Fatal("quote store init failed", "error", err)
	}
	defer store.Close()
	log.Info("quote store ready", "mode", store.Mode(), "cache_size", cfg.QuoteCacheSize)

	directory := authors.NewDirectory()
	engine := quotes.New(store, directory, quotes.Config{
		CacheSize:    cfg.QuoteCacheSize,
		QuoteLimit:   cfg.QuoteLimit,
		MashLimit:    cfg.QuoteMashLimit,
		TouchTimeout: cfg.QuoteTouchTimeout,
	}, log, metrics)
	dispatcher := commands.NewDispatcher(cfg.BotName, engine, directory, log, metrics)

	api := httpapi.New(cfg, dispatcher, directory, engine, store.Mode(), metrics, log)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Info("server listening", "addr", cfg.BindAddr, "bot_name", cfg.BotName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}
	// Let in-flight last_quoted_at updates land before the store closes.
	engine.Wait()

	log.Info("shutdown complete")
}
