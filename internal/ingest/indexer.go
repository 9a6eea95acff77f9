package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/josinaldojr/docs-chat-rag/internal/rag"
	"go.uber.org/zap"
)

const DefaultChunkSize = 2000

// Indexer splits source documents into chunks, embeds them and writes them
// to a repository.
type Indexer struct {
	embeddings rag.EmbeddingsClient
	repo       rag.Repository
	log        *zap.Logger
	httpClient *http.Client
	chunkSize  int
}

func NewIndexer(embeddings rag.EmbeddingsClient, repo rag.Repository, log *zap.Logger) *Indexer {
	return &Indexer{
		embeddings: embeddings,
		repo:       repo,
		log:        log,
		httpClient: http.DefaultClient,
		chunkSize:  DefaultChunkSize,
	}
}

// chunkID is stable per source and position, so re-importing a source
// overwrites its previous chunks.
func chunkID(source string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(source+"#"+strconv.Itoa(i))).String()
}

// IndexText chunks content and stores every chunk. It returns the number of
// chunks written.
func (ix *Indexer) IndexText(ctx context.Context, title, source, content string) (int, error) {
	chunks := splitIntoChunks(content, ix.chunkSize)

	n := 0
	for i, c := range chunks {
		chunkTitle := title
		if len(chunks) > 1 {
			chunkTitle = fmt.Sprintf("%s (part %d)", title, i+1)
		}

		meta := map[string]string{
			rag.MetaSource: source,
			rag.MetaTitle:  chunkTitle,
		}
		if lang := detectLang(c); lang != "" {
			meta[rag.MetaLang] = lang
		}

		doc := &rag.Document{
			ID:       chunkID(source, i),
			Content:  c,
			Metadata: meta,
		}

		vec, err := ix.embeddings.Embed(ctx, c)
		if err != nil {
			return n, fmt.Errorf("embedding error: %w", err)
		}

		if err := ix.repo.InsertChunk(ctx, doc, vec); err != nil {
			return n, fmt.Errorf("insert chunk error: %w", err)
		}
		n++

		ix.log.Debug("chunk indexed",
			zap.String("id", doc.ID),
			zap.String("title", chunkTitle),
			zap.Int("len", len(c)),
		)
	}

	return n, nil
}

// ImportFiles indexes every .md, .txt, .html, .htm and .pdf file under root.
func (ix *Indexer) ImportFiles(ctx context.Context, root string) (int, error) {
	ix.log.Info("importing local documents", zap.String("path", root))

	total := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isTextFile(path) {
			return nil
		}

		content, err := readDocument(path)
		if err != nil {
			return err
		}
		if content == "" {
			return nil
		}

		n, err := ix.IndexText(ctx, filenameToTitle(path), path, content)
		total += n
		if err != nil {
			return fmt.Errorf("index %s: %w", path, err)
		}

		ix.log.Info("file indexed", zap.String("path", path), zap.Int("chunks", n))
		return nil
	})

	return total, err
}

func readDocument(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".pdf" {
		text, err := extractTextFromPDF(path)
		if err != nil {
			return "", fmt.Errorf("read pdf %s: %w", path, err)
		}
		return text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	content := string(data)
	if ext == ".html" || ext == ".htm" {
		content = extractMainText(content)
	}
	return sanitizeUTF8(strings.TrimSpace(content)), nil
}

// Crawl indexes baseURL and the same-host pages reachable from it,
// breadth first, visiting at most maxPages pages. Fetch errors on single
// pages are logged and skipped.
func (ix *Indexer) Crawl(ctx context.Context, baseURL string, maxPages int) (int, error) {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return 0, fmt.Errorf("invalid base url %q", baseURL)
	}

	ix.log.Info("crawling", zap.String("base", baseURL), zap.Int("max_pages", maxPages))

	visited := make(map[string]bool)
	queue := []string{base.String()}
	pages, total := 0, 0

	for len(queue) > 0 && pages < maxPages {
		current := queue[0]
		queue = queue[1:]

		if visited[current] {
			continue
		}
		visited[current] = true
		pages++

		body, err := ix.fetch(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			ix.log.Warn("fetch failed", zap.String("url", current), zap.Error(err))
			continue
		}

		if text := sanitizeUTF8(extractMainText(body)); text != "" {
			n, err := ix.IndexText(ctx, urlToTitle(current, base), current, text)
			total += n
			if err != nil {
				ix.log.Error("index page failed", zap.String("url", current), zap.Error(err))
			}
		}

		for _, link := range extractLinks(body, base) {
			if !visited[link] {
				queue = append(queue, link)
			}
		}
	}

	return total, nil
}

func (ix *Indexer) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := ix.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
