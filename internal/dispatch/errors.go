package dispatch

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// FailureKind categorizes why a dispatch attempt failed. The taxonomy drives
// retry behavior: rate limits back off, everything else moves on to the next
// candidate.
type FailureKind string

const (
	// FailureTransport covers network errors and 5xx responses.
	FailureTransport FailureKind = "transport"

	// FailureRateLimit is an HTTP 429.
	FailureRateLimit FailureKind = "rate_limit"

	// FailureParse means the raw output was not valid under the requested
	// format.
	FailureParse FailureKind = "parse"

	// FailureSchema means the parsed value failed schema validation.
	FailureSchema FailureKind = "schema"

	// FailureDecode means the validated value could not be decoded into the
	// target type.
	FailureDecode FailureKind = "decode"

	// FailureRefusal is a vendor-side refusal (content filter, empty
	// completion).
	FailureRefusal FailureKind = "refusal"
)

// AttemptError is the structured failure of one (attempt, model) call.
type AttemptError struct {
	Kind      FailureKind
	Provider  string
	Model     string
	Status    int
	RequestID string
	Message   string
	Cause     error
}

func (e *AttemptError) Error() string {
	s := fmt.Sprintf("[%s] %s/%s", e.Kind, e.Provider, e.Model)
	if e.Status != 0 {
		s += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *AttemptError) Unwrap() error { return e.Cause }

// classifyVendorError maps an SDK error onto the failure taxonomy. Unknown
// errors are treated as transport failures, which keeps them retryable.
func classifyVendorError(provider, model string, err error) *AttemptError {
	out := &AttemptError{Kind: FailureTransport, Provider: provider, Model: model, Cause: err}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		out.Status = anthropicErr.StatusCode
		out.RequestID = anthropicErr.RequestID
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		out.Status = openaiErr.HTTPStatusCode
	}

	if out.Status == 429 {
		out.Kind = FailureRateLimit
	}
	return out
}
