package rag

import "errors"

var (
	ErrNoEmbedding  = errors.New("no embedding returned")
	ErrNoCandidates = errors.New("model returned no candidates")
	ErrDimension    = errors.New("embedding dimension mismatch")
	ErrStoreLocked  = errors.New("vector store is in use by another process")
)
