package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

type testReply struct {
	Answer string `json:"answer"`
	Score  int    `json:"score"`
}

// scripted returns queued outcomes in order: a string is a completion, an
// error is a failure. It records the models it was asked for.
type scripted struct {
	name    string
	queue   []any
	models  []string
	prompts []string
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Complete(_ context.Context, model, prompt string, _ Format) (*Completion, error) {
	s.models = append(s.models, model)
	s.prompts = append(s.prompts, prompt)
	if len(s.queue) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	switch v := next.(type) {
	case string:
		return &Completion{Text: v}, nil
	case error:
		return nil, v
	}
	panic("bad script entry")
}

func testDispatcher(t *testing.T, providers ...Provider) (*Dispatcher, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	d := NewDispatcher(Options{Providers: providers, Retries: 2, CallTimeout: time.Second})
	d.sleep = func(_ context.Context, dur time.Duration) error {
		sleeps = append(sleeps, dur)
		return nil
	}
	return d, &sleeps
}

func mustTarget(t *testing.T) *Target[testReply] {
	t.Helper()
	target, err := NewTarget(testReply{Answer: "example", Score: 1})
	if err != nil {
		t.Fatal(err)
	}
	return target
}

func TestPromptShape(t *testing.T) {
	target := mustTarget(t)
	prompt, err := target.Prompt(FormatJSON, "rate this listing")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(prompt, "<JSON_SCHEMA>") {
		t.Errorf("prompt does not open with schema tag:\n%s", prompt)
	}
	for _, want := range []string{
		"</JSON_SCHEMA>\n<EXAMPLES>",
		"\"answer\": \"example\"",
		"</EXAMPLES>\n<TASK>rate this listing</TASK>\n",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "Please respond with a valid JSON object only, without any additional comments, explanations, or markdown fences.") {
		t.Errorf("prompt has wrong closing instruction:\n%s", prompt)
	}
}

func TestPromptFormatTag(t *testing.T) {
	target := mustTarget(t)
	for _, format := range []Format{FormatYAML, FormatTOML} {
		prompt, err := target.Prompt(format, "x")
		if err != nil {
			t.Fatal(err)
		}
		tag := "<" + format.Tag() + "_SCHEMA>"
		if !strings.HasPrefix(prompt, tag) {
			t.Errorf("%s prompt does not start with %s", format, tag)
		}
		if !strings.Contains(prompt, "valid "+format.Tag()+" object only") {
			t.Errorf("%s prompt has wrong instruction", format)
		}
	}
}

func TestFormatParse(t *testing.T) {
	cases := []struct {
		format Format
		raw    string
	}{
		{FormatJSON, `{"answer": "ok", "score": 3}`},
		{FormatJSON, "```json\n{\"answer\": \"ok\", \"score\": 3}\n```"},
		{FormatYAML, "answer: ok\nscore: 3\n"},
		{FormatTOML, "answer = \"ok\"\nscore = 3\n"},
	}
	target := mustTarget(t)
	for _, tc := range cases {
		parsed, err := tc.format.Parse(tc.raw)
		if err != nil {
			t.Errorf("%s parse: %v", tc.format, err)
			continue
		}
		if err := target.Validate(parsed); err != nil {
			t.Errorf("%s validate: %v", tc.format, err)
			continue
		}
		v, err := target.Decode(parsed)
		if err != nil {
			t.Errorf("%s decode: %v", tc.format, err)
			continue
		}
		if v.Answer != "ok" || v.Score != 3 {
			t.Errorf("%s decoded %+v", tc.format, v)
		}
	}
}

func TestDispatchFirstTry(t *testing.T) {
	provider := &scripted{name: "anthropic", queue: []any{`{"answer": "done", "score": 9}`}}
	d, sleeps := testDispatcher(t, provider)

	v, err := Dispatch(context.Background(), d, mustTarget(t), Request{
		Task:   "go",
		Models: []string{"anthropic/claude-sonnet-4"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Answer != "done" || v.Score != 9 {
		t.Errorf("value = %+v", v)
	}
	if len(*sleeps) != 0 {
		t.Errorf("unexpected sleeps: %v", *sleeps)
	}
	if provider.models[0] != "claude-sonnet-4" {
		t.Errorf("model = %q", provider.models[0])
	}
}

func TestDispatchFallsBackAcrossModels(t *testing.T) {
	anthropicP := &scripted{name: "anthropic", queue: []any{errors.New("boom")}}
	openaiP := &scripted{name: "openai", queue: []any{`{"answer": "ok", "score": 1}`}}
	d, _ := testDispatcher(t, anthropicP, openaiP)

	v, err := Dispatch(context.Background(), d, mustTarget(t), Request{
		Task:   "go",
		Models: []string{"anthropic/claude-sonnet-4", "openai/gpt-4o"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Answer != "ok" {
		t.Errorf("value = %+v", v)
	}
	if len(anthropicP.models) != 1 || len(openaiP.models) != 1 {
		t.Errorf("call counts = %d, %d", len(anthropicP.models), len(openaiP.models))
	}
}

func TestDispatchRetrySchedule(t *testing.T) {
	// Three passes over one model, all schema failures (valid JSON, wrong
	// shape). Sleeps must be the inter-attempt delays only.
	provider := &scripted{name: "openai", queue: []any{`{"x": 1}`, `{"x": 1}`, `{"x": 1}`}}
	d, sleeps := testDispatcher(t, provider)

	_, err := Dispatch(context.Background(), d, mustTarget(t), Request{
		Task:   "go",
		Models: []string{"openai/gpt-4o"},
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Kind != FailureSchema {
		t.Fatalf("err = %v, want schema failure", err)
	}
	if len(provider.models) != 3 {
		t.Errorf("attempts = %d, want 3", len(provider.models))
	}
	want := []time.Duration{500 * time.Millisecond, 1000 * time.Millisecond}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Errorf("sleep %d = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}
}

func TestDispatchRateLimitBackoff(t *testing.T) {
	rateLimited := &AttemptError{Kind: FailureRateLimit, Provider: "openai", Model: "gpt-4o", Status: 429}
	provider := &scripted{name: "openai", queue: []any{error(rateLimited), `{"answer": "ok", "score": 1}`}}
	d, sleeps := testDispatcher(t, provider)

	_, err := Dispatch(context.Background(), d, mustTarget(t), Request{
		Task:   "go",
		Models: []string{"openai/gpt-4o"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// 429 on attempt 0 sleeps max(1s, 100ms*2^0) = 1s, then the
	// inter-attempt pause of 500ms.
	want := []time.Duration{time.Second, 500 * time.Millisecond}
	if len(*sleeps) != 2 || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestDispatchParseFailureKind(t *testing.T) {
	provider := &scripted{name: "openai", queue: []any{"not json", "not json", "not json"}}
	d, _ := testDispatcher(t, provider)

	_, err := Dispatch(context.Background(), d, mustTarget(t), Request{
		Task:   "go",
		Models: []string{"openai/gpt-4o"},
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Kind != FailureParse {
		t.Fatalf("err = %v, want parse failure", err)
	}
}

func TestDispatchUnknownProvider(t *testing.T) {
	d, _ := testDispatcher(t)
	_, err := Dispatch(context.Background(), d, mustTarget(t), Request{
		Task:   "go",
		Models: []string{"vertex/gemini"},
	})
	var ae *AttemptError
	if !errors.As(err, &ae) || ae.Kind != FailureTransport {
		t.Fatalf("err = %v, want transport failure for unknown provider", err)
	}
}

func TestInteractionLogFile(t *testing.T) {
	dir := t.TempDir()
	log, err := NewInteractionLog(dir, true, nil)
	if err != nil {
		t.Fatal(err)
	}

	provider := &scripted{name: "openai", queue: []any{`{"answer": "ok", "score": 1}`}}
	d, _ := testDispatcher(t, provider)
	d.interactions = log

	if _, err := Dispatch(context.Background(), d, mustTarget(t), Request{
		Task:   "go",
		Models: []string{"openai/gpt-4o"},
	}); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("log files = %d, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasSuffix(name, ".json") || !strings.Contains(name, "_") {
		t.Errorf("file name %q not timestamp_requestid.json", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"request_id", "total_tokens", "duration_ms", "gpt-4o"} {
		if !strings.Contains(string(data), field) {
			t.Errorf("record missing %q: %s", field, data)
		}
	}
}

func TestInteractionLogClipsWithoutVerbose(t *testing.T) {
	dir := t.TempDir()
	log, err := NewInteractionLog(dir, false, nil)
	if err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("é", 400)
	rec := &AttemptRecord{
		RequestID:   "req1",
		Timestamp:   time.Now(),
		Model:       "gpt-4o",
		Request:     long,
		Response:    long,
		TotalTokens: 42,
	}
	log.Write(rec)

	if rec.Request != long {
		t.Error("caller's record was mutated")
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("log files = %d (%v), want 1", len(entries), err)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var got AttemptRecord
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{"request": got.Request, "response": got.Response} {
		if !strings.HasSuffix(body, " [clipped]") {
			t.Errorf("%s not clipped: %d bytes", name, len(body))
		}
		if !utf8.ValidString(body) {
			t.Errorf("%s clipped mid-rune", name)
		}
		if len(body) > clipLimit+len(" [clipped]") {
			t.Errorf("%s length = %d", name, len(body))
		}
	}
	if got.TotalTokens != 42 || got.Model != "gpt-4o" {
		t.Errorf("metadata lost: %+v", got)
	}
}

func TestSplitCandidate(t *testing.T) {
	provider, model, err := splitCandidate("anthropic/claude-sonnet-4")
	if err != nil || provider != "anthropic" || model != "claude-sonnet-4" {
		t.Errorf("got (%q, %q, %v)", provider, model, err)
	}
	if _, _, err := splitCandidate("nomodel"); err == nil {
		t.Error("missing slash must error")
	}
	if _, _, err := splitCandidate("openai/"); err == nil {
		t.Error("empty model must error")
	}
}
