package ai

import "context"

// Completion is a model response plus the token usage reported for it.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMProvider sends a prompt to an LLM and returns the schema-constrained response.
// Failures are reported as *model.ExtractionProviderError.
type LLMProvider interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}
