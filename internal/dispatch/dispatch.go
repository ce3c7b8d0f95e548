// Package dispatch implements typed LLM calls: a prompt is rendered around a
// schema derived from the target type, sent to a prioritized list of
// candidate models across vendors, and the raw completion is parsed,
// schema-validated, and decoded into the target type with per-attempt
// logging and retry.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/propfolio/researchd/internal/backoff"
	"github.com/propfolio/researchd/internal/observability"
	"github.com/propfolio/researchd/internal/usage"
)

// Dispatcher holds the vendor clients and cross-cutting plumbing shared by
// all typed dispatch calls.
type Dispatcher struct {
	providers   map[string]Provider
	retries     int
	callTimeout time.Duration

	interactions *InteractionLog
	tokens       TokenCounter
	tracker      *usage.Tracker
	logger       *observability.Logger
	metrics      *observability.Metrics

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Options configures a Dispatcher.
type Options struct {
	Providers    []Provider
	Retries      int
	CallTimeout  time.Duration
	Interactions *InteractionLog
	Tracker      *usage.Tracker
	Logger       *observability.Logger
	Metrics      *observability.Metrics
}

// NewDispatcher builds a dispatcher. Providers are keyed by Name() for the
// "provider/model" candidate syntax.
func NewDispatcher(opts Options) *Dispatcher {
	providers := make(map[string]Provider, len(opts.Providers))
	for _, p := range opts.Providers {
		providers[p.Name()] = p
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Dispatcher{
		providers:    providers,
		retries:      opts.Retries,
		callTimeout:  timeout,
		interactions: opts.Interactions,
		tracker:      opts.Tracker,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		sleep:        backoff.Sleep,
	}
}

// Request is one typed dispatch call.
type Request struct {
	// Task is the caller's prompt text, wrapped by the target's scaffolding.
	Task string

	// Models are candidates in priority order, each "provider/model".
	Models []string

	// Format the model must answer in. Defaults to JSON.
	Format Format

	// SessionID attributes token usage; optional.
	SessionID string
}

// Dispatch runs the retry loop: the outer loop is attempts, the inner loop
// walks the candidate list, and a single (attempt, model) pair is one call.
// The last observed error surfaces after all candidates are exhausted.
func Dispatch[T any](ctx context.Context, d *Dispatcher, target *Target[T], req Request) (T, error) {
	var zero T
	format := req.Format
	if format == "" {
		format = FormatJSON
	}
	prompt, err := target.Prompt(format, req.Task)
	if err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if attempt > 0 {
			if err := d.sleep(ctx, backoff.AttemptDelay(attempt-1)); err != nil {
				return zero, err
			}
		}
		for _, candidate := range req.Models {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			value, attemptErr := attemptOne(ctx, d, target, format, prompt, candidate, req.SessionID)
			if attemptErr == nil {
				return value, nil
			}
			lastErr = attemptErr
			if ae, ok := attemptErr.(*AttemptError); ok && ae.Kind == FailureRateLimit {
				if err := d.sleep(ctx, backoff.RateLimitDelay(attempt)); err != nil {
					return zero, err
				}
			}
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dispatch: no candidate models")
	}
	return zero, lastErr
}

// attemptOne performs one call plus parse, validate, decode. Exactly one
// attempt record is written regardless of where the attempt fails.
func attemptOne[T any](ctx context.Context, d *Dispatcher, target *Target[T], format Format, prompt, candidate, sessionID string) (T, error) {
	var zero T

	providerName, model, err := splitCandidate(candidate)
	if err != nil {
		return zero, err
	}
	provider, ok := d.providers[providerName]
	if !ok {
		return zero, &AttemptError{
			Kind: FailureTransport, Provider: providerName, Model: model,
			Message: "no such provider configured",
		}
	}

	rec := &AttemptRecord{
		RequestID: uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Model:     candidate,
		Request:   prompt,
	}
	defer func() { d.interactions.Write(rec) }()

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	start := time.Now()
	completion, err := provider.Complete(callCtx, model, prompt, format)
	cancel()
	rec.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		ae, ok := err.(*AttemptError)
		if !ok {
			ae = classifyVendorError(providerName, model, err)
		}
		ae.RequestID = rec.RequestID
		return zero, d.finish(rec, candidate, ae)
	}
	rec.Response = completion.Text

	rec.PromptTokens = completion.PromptTokens
	if rec.PromptTokens == 0 {
		rec.PromptTokens = d.tokens.Count(prompt)
	}
	rec.CompletionTokens = completion.CompletionTokens
	if rec.CompletionTokens == 0 {
		rec.CompletionTokens = d.tokens.Count(completion.Text)
	}
	rec.TotalTokens = rec.PromptTokens + rec.CompletionTokens
	d.account(candidate, sessionID, rec)

	parsed, err := format.Parse(completion.Text)
	if err != nil {
		return zero, d.finish(rec, candidate, &AttemptError{
			Kind: FailureParse, Provider: providerName, Model: model,
			RequestID: rec.RequestID, Cause: err,
		})
	}
	if err := target.Validate(parsed); err != nil {
		return zero, d.finish(rec, candidate, &AttemptError{
			Kind: FailureSchema, Provider: providerName, Model: model,
			RequestID: rec.RequestID, Cause: err,
		})
	}
	value, err := target.Decode(parsed)
	if err != nil {
		return zero, d.finish(rec, candidate, &AttemptError{
			Kind: FailureDecode, Provider: providerName, Model: model,
			RequestID: rec.RequestID, Cause: err,
		})
	}

	if d.metrics != nil {
		d.metrics.LLMAttempts.WithLabelValues(candidate, "success").Inc()
		d.metrics.LLMDuration.WithLabelValues(candidate).Observe(float64(rec.DurationMs) / 1000)
	}
	return value, nil
}

// finish records a failed attempt in the log record and metrics.
func (d *Dispatcher) finish(rec *AttemptRecord, candidate string, ae *AttemptError) error {
	rec.Error = ae.Error()
	if d.metrics != nil {
		d.metrics.LLMAttempts.WithLabelValues(candidate, string(ae.Kind)).Inc()
	}
	if d.logger != nil {
		d.logger.Warn(context.Background(), "llm attempt failed",
			"model", candidate, "kind", string(ae.Kind), "request_id", ae.RequestID, "error", ae.Error())
	}
	return ae
}

func (d *Dispatcher) account(candidate, sessionID string, rec *AttemptRecord) {
	if d.metrics != nil {
		d.metrics.LLMTokens.WithLabelValues(candidate, "prompt").Add(float64(rec.PromptTokens))
		d.metrics.LLMTokens.WithLabelValues(candidate, "completion").Add(float64(rec.CompletionTokens))
	}
	if d.tracker != nil {
		d.tracker.Track(usage.Record{
			Model:     candidate,
			SessionID: sessionID,
			Usage:     usage.Usage{PromptTokens: int64(rec.PromptTokens), CompletionTokens: int64(rec.CompletionTokens)},
			Timestamp: rec.Timestamp,
		})
	}
}

// splitCandidate parses "provider/model". The model part may itself contain
// slashes.
func splitCandidate(candidate string) (provider, model string, err error) {
	i := strings.IndexByte(candidate, '/')
	if i <= 0 || i == len(candidate)-1 {
		return "", "", fmt.Errorf("dispatch: malformed candidate %q, want provider/model", candidate)
	}
	return candidate[:i], candidate[i+1:], nil
}
