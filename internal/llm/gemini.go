package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/josinaldojr/docs-chat-rag/internal/rag"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	EmbedDim       int
	Temperature    float32
	MaxTokens      int
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{client: c, cfg: cfg}, nil
}

// Embed returns the embedding of text. Empty text is passed through to the
// API unchanged.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Models.EmbedContent(
		ctx,
		g.cfg.EmbeddingModel,
		genai.Text(normalizeWhitespace(text)),
		&genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(g.cfg.EmbedDim)),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embed error: %w", err)
	}

	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, rag.ErrNoEmbedding
	}

	values := resp.Embeddings[0].Values
	if len(values) != g.cfg.EmbedDim {
		return nil, fmt.Errorf("%w: got %d, expected %d", rag.ErrDimension, len(values), g.cfg.EmbedDim)
	}

	out := make([]float32, len(values))
	copy(out, values)
	return out, nil
}

func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.ChatModel, genai.Text(prompt), g.generateConfig())
	if err != nil {
		return "", fmt.Errorf("gemini generateContent error: %w", err)
	}
	// A blank completion is a valid answer; only a missing one is an error.
	if resp == nil || len(resp.Candidates) == 0 {
		return "", rag.ErrNoCandidates
	}
	return resp.Text(), nil
}

func (g *GeminiClient) Stream(ctx context.Context, prompt string, onDelta func(string) error) error {
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.cfg.ChatModel, genai.Text(prompt), g.generateConfig()) {
		if err != nil {
			return fmt.Errorf("gemini stream error: %w", err)
		}
		if resp == nil {
			continue
		}
		if txt := resp.Text(); txt != "" {
			if err := onDelta(txt); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *GeminiClient) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(g.cfg.Temperature),
		MaxOutputTokens: int32(g.cfg.MaxTokens),
	}
}

// -------- helpers --------

func normalizeWhitespace(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			if !space {
				b.WriteRune(' ')
				space = true
			}
		} else {
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}

var _ rag.EmbeddingsClient = (*GeminiClient)(nil)
var _ rag.LLMClient = (*GeminiClient)(nil)
