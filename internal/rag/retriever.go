package rag

import (
	"context"
	"fmt"
)

const DefaultTopK = 4

// VectorRetriever embeds the question and asks the repository for the
// nearest stored chunks.
type VectorRetriever struct {
	embeddings EmbeddingsClient
	repo       Repository
	topK       int
}

func NewVectorRetriever(embeddings EmbeddingsClient, repo Repository, topK int) *VectorRetriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &VectorRetriever{
		embeddings: embeddings,
		repo:       repo,
		topK:       topK,
	}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, question string) ([]Document, error) {
	vec, err := r.embeddings.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	docs, err := r.repo.SearchSimilar(ctx, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	return docs, nil
}

var _ Retriever = (*VectorRetriever)(nil)
