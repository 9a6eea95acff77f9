package rag

import "strings"

// FormatDocs joins the documents' text with a blank line, keeping retrieval order.
func FormatDocs(docs []Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.Content
	}
	return strings.Join(parts, "\n\n")
}
