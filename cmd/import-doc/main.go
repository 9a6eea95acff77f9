package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/josinaldojr/docs-chat-rag/internal/config"
	"github.com/josinaldojr/docs-chat-rag/internal/db"
	"github.com/josinaldojr/docs-chat-rag/internal/ingest"
	"github.com/josinaldojr/docs-chat-rag/internal/llm"
	"github.com/josinaldojr/docs-chat-rag/internal/logger"
	"github.com/josinaldojr/docs-chat-rag/internal/rag"
	"go.uber.org/zap"
)

const usageNote = `
With VECTOR_STORE=local the index directory is locked while the API is
running. Stop the API, run the import, then restart the API to serve the
new chunks. The pgvector store has no such restriction.
`

func main() {
	fromFiles := flag.Bool("from-files", false, "import local files (.md/.txt/.html/.pdf)")
	pathFlag := flag.String("path", "", "base directory for local files")
	fromURL := flag.Bool("from-url", false, "import by crawling a site")
	baseURLFlag := flag.String("base-url", "", "base URL to crawl (ex: https://example.com/docs)")
	maxPagesFlag := flag.Int("max-pages", 50, "page limit for the crawl")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprint(flag.CommandLine.Output(), usageNote)
	}
	flag.Parse()

	if !*fromFiles && !*fromURL {
		fmt.Fprintln(os.Stderr, "use at least one mode: --from-files or --from-url")
		os.Exit(2)
	}
	if *fromFiles && *pathFlag == "" {
		fmt.Fprintln(os.Stderr, "--path is required with --from-files")
		os.Exit(2)
	}
	if *fromURL && *baseURLFlag == "" {
		fmt.Fprintln(os.Stderr, "--base-url is required with --from-url")
		os.Exit(2)
	}

	opts := importOptions{maxPages: *maxPagesFlag}
	if *fromFiles {
		opts.path = *pathFlag
	}
	if *fromURL {
		opts.baseURL = *baseURLFlag
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "import-doc: %v\n", err)
		os.Exit(1)
	}
}

// importOptions selects the sources; an empty field skips that mode.
type importOptions struct {
	path     string
	baseURL  string
	maxPages int
}

func run(opts importOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log, err := logger.New("docs-chat-import", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	repo, closer, err := openWritableRepository(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	defer closer.Close()

	gemini, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:         cfg.LLM.GoogleAPIKey,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		EmbedDim:       cfg.LLM.EmbeddingDim,
	})
	if err != nil {
		return fmt.Errorf("init Gemini client: %w", err)
	}

	total, err := importAll(ctx, ingest.NewIndexer(gemini, repo, log), opts, log)
	if err != nil {
		return err
	}

	log.Info("import finished", zap.Int("chunks", total), zap.String("store", cfg.Retrieval.Store))
	return nil
}

// importAll runs the selected modes in order and stops at the first failure.
func importAll(ctx context.Context, ix *ingest.Indexer, opts importOptions, log *zap.Logger) (int, error) {
	total := 0

	if opts.path != "" {
		n, err := ix.ImportFiles(ctx, opts.path)
		total += n
		if err != nil {
			log.Error("file import failed", zap.Error(err), zap.Int("chunks", total))
			return total, fmt.Errorf("import files: %w", err)
		}
	}

	if opts.baseURL != "" {
		n, err := ix.Crawl(ctx, opts.baseURL, opts.maxPages)
		total += n
		if err != nil {
			log.Error("crawl failed", zap.Error(err), zap.Int("chunks", total))
			return total, fmt.Errorf("crawl: %w", err)
		}
	}

	return total, nil
}

func openWritableRepository(ctx context.Context, cfg *config.Config) (rag.Repository, io.Closer, error) {
	switch cfg.Retrieval.Store {
	case config.StorePgvector:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo := rag.NewPgRepository(pool)
		if err := repo.EnsureSchema(ctx, cfg.LLM.EmbeddingDim); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, closerFunc(func() error { pool.Close(); return nil }), nil
	default:
		repo, err := rag.OpenLocalRepository(cfg.Retrieval.StoreDir, cfg.LLM.EmbeddingDim, false)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
