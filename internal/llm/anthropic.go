package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/josinaldojr/docs-chat-rag/internal/rag"
)

type AnthropicConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	BaseURL     string
}

// AnthropicClient generates completions with Claude. It has no embedding
// endpoint, so retrieval keeps using Gemini embeddings.
type AnthropicClient struct {
	client anthropic.Client
	cfg    AnthropicConfig
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (a *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, a.params(prompt))
	if err != nil {
		return "", fmt.Errorf("claude messages error: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

func (a *AnthropicClient) Stream(ctx context.Context, prompt string, onDelta func(string) error) error {
	stream := a.client.Messages.NewStreaming(ctx, a.params(prompt))
	defer stream.Close()

	for stream.Next() {
		ev, ok := stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		if err := onDelta(delta.Text); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("claude stream error: %w", err)
	}
	return nil
}

func (a *AnthropicClient) params(prompt string) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(a.cfg.Model),
		MaxTokens:   int64(a.cfg.MaxTokens),
		Temperature: anthropic.Float(float64(a.cfg.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
}

var _ rag.LLMClient = (*AnthropicClient)(nil)
