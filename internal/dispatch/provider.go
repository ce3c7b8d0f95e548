package dispatch

import "context"

// Completion is one successful vendor response.
type Completion struct {
	Text string

	// Vendor-reported token counts; zero when the vendor omits them. The
	// dispatcher falls back to its own tokenizer for accounting.
	PromptTokens     int
	CompletionTokens int
}

// Provider is a single LLM vendor. Implementations make one blocking call
// per Complete and never retry internally; the dispatcher owns retries.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model, prompt string, format Format) (*Completion, error)
}
