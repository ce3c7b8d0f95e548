package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/propfolio/researchd/internal/observability"
)

// AttemptRecord is the structured log of one dispatch attempt, written as a
// standalone JSON file so individual LLM interactions can be inspected
// after the fact.
type AttemptRecord struct {
	RequestID        string    `json:"request_id"`
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Request          string    `json:"request"`
	Response         string    `json:"response,omitempty"`
	Error            string    `json:"error,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
}

// clipLimit is how much of the prompt and response survives in attempt
// records when verbose logging is off.
const clipLimit = 256

// InteractionLog writes attempt records to a directory, one file per
// attempt. A nil or empty-dir log is a no-op. Without verbose mode the
// prompt and response bodies are clipped; metadata and token counts are
// always kept.
type InteractionLog struct {
	dir     string
	verbose bool
	logger  *observability.Logger
}

// NewInteractionLog creates the directory if needed. dir empty disables
// attempt logging.
func NewInteractionLog(dir string, verbose bool, logger *observability.Logger) (*InteractionLog, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &InteractionLog{dir: dir, verbose: verbose, logger: logger}, nil
}

// Write stores one record. The file name is deterministic from the attempt
// timestamp and request id.
func (l *InteractionLog) Write(rec *AttemptRecord) {
	if l == nil || l.dir == "" {
		return
	}
	if !l.verbose {
		clipped := *rec
		clipped.Request = clip(rec.Request, clipLimit)
		clipped.Response = clip(rec.Response, clipLimit)
		rec = &clipped
	}
	name := rec.Timestamp.UTC().Format("20060102T150405.000") + "_" + rec.RequestID + ".json"
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(l.dir, name), data, 0o644); err != nil && l.logger != nil {
		l.logger.Warn(context.Background(), "interaction log write failed", "file", name, "error", err)
	}
}

// clip bounds s to at most limit bytes, cutting on a rune boundary and
// marking the cut.
func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + " [clipped]"
}
