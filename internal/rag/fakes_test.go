package rag

import (
	"context"
	"strings"
	"sync"
)

type fakeRetriever struct {
	mu    sync.Mutex
	docs  []Document
	err   error
	calls []string
}

func (f *fakeRetriever) Retrieve(_ context.Context, question string) ([]Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, question)
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

// echoLLM answers with a fixed string, or with the prompt when reply is empty.
type echoLLM struct {
	mu      sync.Mutex
	reply   string
	chunks  []string
	err     error
	prompts []string
}

func (f *echoLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.reply == "" {
		return prompt, nil
	}
	return f.reply, nil
}

func (f *echoLLM) Stream(ctx context.Context, prompt string, onDelta func(string) error) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	chunks, err := f.chunks, f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := onDelta(c); err != nil {
			return err
		}
	}
	return nil
}

type fakeEmbeddings struct {
	vec   []float32
	err   error
	texts []string
}

func (f *fakeEmbeddings) Embed(_ context.Context, text string) ([]float32, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeRepository struct {
	docs      []Document
	err       error
	gotVec    []float32
	gotLimit  int
	insertErr error
}

func (f *fakeRepository) InsertChunk(_ context.Context, _ *Document, _ []float32) error {
	return f.insertErr
}

func (f *fakeRepository) SearchSimilar(_ context.Context, embedding []float32, limit int) ([]Document, error) {
	f.gotVec, f.gotLimit = embedding, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.docs, nil
}

func joinChunks(c []string) string { return strings.Join(c, "") }
