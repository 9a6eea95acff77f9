package rag

import "time"

// Document
// A stored text chunk plus the metadata the indexer attached to it.
type Document struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Metadata keys written by the indexer.
const (
	MetaSource = "source"
	MetaTitle  = "title"
	MetaLang   = "lang"
)

// Query
// One incoming question. Lives for a single request.
type Query struct {
	Question string
}

// Answer
// Trimmed model output and the number of documents the prompt was built from.
type Answer struct {
	Text      string
	Documents int
}
