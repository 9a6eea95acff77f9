package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/josinaldojr/docs-chat-rag/internal/config"
	"github.com/josinaldojr/docs-chat-rag/internal/db"
	apphttp "github.com/josinaldojr/docs-chat-rag/internal/http"
	"github.com/josinaldojr/docs-chat-rag/internal/llm"
	"github.com/josinaldojr/docs-chat-rag/internal/logger"
	"github.com/josinaldojr/docs-chat-rag/internal/metrics"
	"github.com/josinaldojr/docs-chat-rag/internal/rag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New("docs-chat-api", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	repo, closer, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:         cfg.LLM.GoogleAPIKey,
		ChatModel:      cfg.LLM.ChatModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		EmbedDim:       cfg.LLM.EmbeddingDim,
		Temperature:    cfg.LLM.Temperature,
		MaxTokens:      cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("init Gemini client: %w", err)
	}

	var generator rag.LLMClient = gemini
	if cfg.LLM.Provider == config.ProviderAnthropic {
		generator, err = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:      cfg.LLM.AnthropicAPIKey,
			Model:       cfg.LLM.ChatModel,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		})
		if err != nil {
			return fmt.Errorf("init Anthropic client: %w", err)
		}
	}

	routerOpts := apphttp.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Log:         log,
	}
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		routerOpts.Metrics = m
		routerOpts.Gatherer = reg
	}
	if cfg.Limits.RateLimitRPS > 0 {
		routerOpts.Limiter = rate.NewLimiter(rate.Limit(cfg.Limits.RateLimitRPS), cfg.Limits.RateLimitBurst)
	}

	retriever := rag.NewVectorRetriever(gemini, repo, cfg.Retrieval.TopK)
	ragService := rag.NewService(m.Retriever(retriever), m.LLM(generator))

	h := apphttp.NewHandler(ragService, log, apphttp.HandlerOptions{
		MaxQuestionLength: cfg.Limits.MaxQuestionLength,
		RequestTimeout:    cfg.Limits.RequestTimeout,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apphttp.NewRouter(h, routerOpts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening",
			zap.String("addr", srv.Addr),
			zap.String("provider", cfg.LLM.Provider),
			zap.String("model", cfg.LLM.ChatModel),
			zap.String("store", cfg.Retrieval.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openRepository opens the configured vector store for reading.
func openRepository(ctx context.Context, cfg *config.Config) (rag.Repository, io.Closer, error) {
	switch cfg.Retrieval.Store {
	case config.StorePgvector:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return rag.NewPgRepository(pool), closerFunc(func() error { pool.Close(); return nil }), nil
	default:
		repo, err := rag.OpenLocalRepository(cfg.Retrieval.StoreDir, cfg.LLM.EmbeddingDim, true)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
