package rag

import (
	"context"
	"fmt"
	"strings"
)

// Service runs the fixed chat pipeline:
// retrieve -> format -> render prompt -> generate -> trim.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	retriever Retriever
	prompt    PromptTemplate
	llm       LLMClient
}

func NewService(retriever Retriever, llm LLMClient) *Service {
	return &Service{
		retriever: retriever,
		prompt:    DefaultPrompt,
		llm:       llm,
	}
}

func (s *Service) Ask(ctx context.Context, q Query) (*Answer, error) {
	prompt, n, err := s.buildPrompt(ctx, q)
	if err != nil {
		return nil, err
	}

	out, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	return &Answer{Text: strings.TrimSpace(out), Documents: n}, nil
}

// AskStream is Ask with the completion forwarded to onDelta as it arrives.
// The returned Answer holds the trimmed concatenation of all fragments.
func (s *Service) AskStream(ctx context.Context, q Query, onDelta func(string) error) (*Answer, error) {
	prompt, n, err := s.buildPrompt(ctx, q)
	if err != nil {
		return nil, err
	}

	var full strings.Builder
	err = s.llm.Stream(ctx, prompt, func(delta string) error {
		full.WriteString(delta)
		return onDelta(delta)
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	return &Answer{Text: strings.TrimSpace(full.String()), Documents: n}, nil
}

func (s *Service) buildPrompt(ctx context.Context, q Query) (string, int, error) {
	docs, err := s.retriever.Retrieve(ctx, q.Question)
	if err != nil {
		return "", 0, fmt.Errorf("retrieve: %w", err)
	}
	return s.prompt.Render(FormatDocs(docs), q.Question), len(docs), nil
}
