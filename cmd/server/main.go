package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knobase/knobase/internal/agent"
	"github.com/knobase/knobase/internal/api"
	"github.com/knobase/knobase/internal/chunker"
	"github.com/knobase/knobase/internal/config"
	"github.com/knobase/knobase/internal/crawler"
	"github.com/knobase/knobase/internal/docstore"
	"github.com/knobase/knobase/internal/embed"
	"github.com/knobase/knobase/internal/ingest"
	"github.com/knobase/knobase/internal/llm"
	"github.com/knobase/knobase/internal/progress"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		log.Error("creating upload directory", "dir", cfg.UploadDir, "error", err)
		os.Exit(1)
	}

	// Initialize clients.
	store := docstore.NewClient(cfg.DocstoreURL, cfg.DocstoreAPIKey)
	embedder := embed.NewClient(cfg.OllamaURL, cfg.EmbeddingModel)
	generator := llm.NewClient(cfg.OllamaURL)

	// Initialize services.
	broadcaster := progress.NewBroadcaster()
	crawl := crawler.New(&http.Client{Timeout: cfg.CrawlTimeout}, broadcaster, log,
		cfg.CrawlFetchLimit, cfg.CrawlRatePerSec)

	chunkCfg := chunker.DefaultConfig()
	chunkCfg.ChunkSize = cfg.ChunkSize
	pipeline := ingest.NewPipeline(store, func() ingest.Store { return store.Clone() },
		embedder, chunkCfg, cfg.UploadDir, cfg.ReprocessDelay, log)

	searcher := embed.NewSearcher(store, embedder, log)
	agentSvc := agent.NewService(store, searcher, generator, cfg.DefaultModel, log)

	// Initialize HTTP server.
	srv := api.NewServer(store, pipeline, crawl, agentSvc, broadcaster, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open past any fixed write deadline.
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("starting knobase", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
