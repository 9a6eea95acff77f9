package rag

import "strings"

// PromptTemplate is a prompt with {context} and {question} placeholders.
type PromptTemplate string

const DefaultPrompt PromptTemplate = `You are an assistant for question-answering tasks. Use the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.

Context:
{context}

Question: {question}

Answer:`

// Render substitutes both values in one pass. Placeholder text inside the
// values themselves is left as is.
func (t PromptTemplate) Render(context, question string) string {
	return strings.NewReplacer(
		"{context}", context,
		"{question}", question,
	).Replace(string(t))
}
