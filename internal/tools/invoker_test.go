package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/propfolio/researchd/internal/credits"
	"github.com/propfolio/researchd/internal/storage"
	"github.com/propfolio/researchd/pkg/models"
)

type fakeWeb struct {
	results []SearchResult
	pages   map[string]string
	err     error
}

func (f *fakeWeb) Search(_ context.Context, _ string, limit int) ([]SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.results) > limit {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func (f *fakeWeb) Fetch(_ context.Context, url string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.pages[url], nil
}

type fakeMedia struct {
	err error
}

func (f *fakeMedia) RetouchImages(_ context.Context, uris []string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]string, len(uris))
	for i, u := range uris {
		out[i] = u + ".retouched"
	}
	return out, nil
}

func (f *fakeMedia) GenerateCreative(context.Context, string) (string, error) {
	return "media://creative", f.err
}

func (f *fakeMedia) GenerateCreativeFromBundle(context.Context, string) (string, error) {
	return "media://bundle-creative", f.err
}

func (f *fakeMedia) GenerateStyle(context.Context, string) (string, error) {
	return "media://style", f.err
}

func (f *fakeMedia) VocalTour(context.Context, string) (string, error) {
	return "media://tour", f.err
}

func testLedger(t *testing.T, balance int64) (*credits.Ledger, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ledger := credits.New(store, nil, nil)
	err = store.PutCreditAllocation(context.Background(), &models.CreditAllocation{
		UserID: "u1", Remaining: balance, Limit: balance,
	})
	if err != nil {
		t.Fatal(err)
	}
	return ledger, store
}

func choice(name, params string) models.ToolChoice {
	return models.ToolChoice{Name: name, Parameters: json.RawMessage(params)}
}

func TestInvokeUnknownTool(t *testing.T) {
	ledger, _ := testLedger(t, 0)
	inv := NewInvoker(NewRegistry(), ledger, time.Second, nil, nil)

	_, err := inv.Invoke(context.Background(), choice("nope", `{}`), "s1", credits.Owner{UserID: "u1"})
	var ie *InvokeError
	if !errors.As(err, &ie) || ie.Kind != KindUnknownTool {
		t.Fatalf("err = %v, want unknown_tool", err)
	}
}

func TestInvokeBadParameters(t *testing.T) {
	ledger, _ := testLedger(t, 0)
	registry := NewCatalog(Capabilities{Web: &fakeWeb{}})
	inv := NewInvoker(registry, ledger, time.Second, nil, nil)

	cases := []string{
		`{}`,                            // missing query
		`{"query": ""}`,                 // empty query
		`{"query": "x", "extra": true}`, // additional property
	}
	for _, params := range cases {
		_, err := inv.Invoke(context.Background(), choice("web_search", params), "s1", credits.Owner{UserID: "u1"})
		var ie *InvokeError
		if !errors.As(err, &ie) || ie.Kind != KindBadParameters {
			t.Errorf("params %s: err = %v, want bad_parameters", params, err)
		}
	}
}

func TestInvokeFreeToolBifurcation(t *testing.T) {
	ledger, store := testLedger(t, 0)
	web := &fakeWeb{results: []SearchResult{
		{Title: "Listing A", URL: "https://a", Snippet: "3 bed"},
		{Title: "Listing B", URL: "https://b", Snippet: "2 bed"},
	}}
	inv := NewInvoker(NewCatalog(Capabilities{Web: web}), ledger, time.Second, nil, nil)

	result, err := inv.Invoke(context.Background(), choice("web_search", `{"query": "condos"}`), "s1", credits.Owner{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Full, "https://a") {
		t.Errorf("full result missing detail: %s", result.Full)
	}
	if !strings.Contains(result.User, "2 results") {
		t.Errorf("user result = %q", result.User)
	}

	// Free tools never touch the ledger.
	events, err := store.CreditEvents(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("free tool produced ledger events: %+v", events)
	}
}

func TestInvokeCostedToolCommits(t *testing.T) {
	ledger, _ := testLedger(t, 5)
	inv := NewInvoker(NewCatalog(Capabilities{Media: &fakeMedia{}}), ledger, time.Second, nil, nil)

	params := `{"image_uris": ["img://1", "img://2"]}`
	result, err := inv.Invoke(context.Background(), choice("retouch_images", params), "s1", credits.Owner{UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Full, "img://1.retouched") {
		t.Errorf("full = %s", result.Full)
	}
	if bal, _ := ledger.Balance(context.Background(), credits.Owner{UserID: "u1"}); bal != 3 {
		t.Errorf("balance = %d, want 3 after committing 2", bal)
	}
}

func TestInvokeCostedToolRefundsOnFailure(t *testing.T) {
	ledger, _ := testLedger(t, 5)
	inv := NewInvoker(NewCatalog(Capabilities{Media: &fakeMedia{err: errors.New("render farm down")}}), ledger, time.Second, nil, nil)

	_, err := inv.Invoke(context.Background(), choice("retouch_images", `{"image_uris": ["img://1"]}`), "s1", credits.Owner{UserID: "u1"})
	var ie *InvokeError
	if !errors.As(err, &ie) || ie.Kind != KindExecution {
		t.Fatalf("err = %v, want execution failure", err)
	}
	if bal, _ := ledger.Balance(context.Background(), credits.Owner{UserID: "u1"}); bal != 5 {
		t.Errorf("balance = %d, want refund back to 5", bal)
	}
}

func TestInvokeInsufficientCredits(t *testing.T) {
	ledger, _ := testLedger(t, 2)
	inv := NewInvoker(NewCatalog(Capabilities{Media: &fakeMedia{}}), ledger, time.Second, nil, nil)

	_, err := inv.Invoke(context.Background(),
		choice("retouch_images", `{"image_uris": ["a", "b", "c"]}`), "s1", credits.Owner{UserID: "u1"})
	var ie *InvokeError
	if !errors.As(err, &ie) || ie.Kind != KindInsufficientCredits {
		t.Fatalf("err = %v, want insufficient_credits", err)
	}
	if bal, _ := ledger.Balance(context.Background(), credits.Owner{UserID: "u1"}); bal != 2 {
		t.Errorf("balance = %d, failed reserve must not debit", bal)
	}
}

// blockingTool waits for its context to be cancelled.
type blockingTool struct{}

func (blockingTool) Name() string             { return "block" }
func (blockingTool) Description() string      { return "blocks forever" }
func (blockingTool) Schema() json.RawMessage  { return json.RawMessage(`{"type": "object"}`) }
func (blockingTool) Cost(json.RawMessage) int64 { return 0 }

func (blockingTool) Execute(ctx context.Context, _ json.RawMessage) (*Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInvokeTimeout(t *testing.T) {
	ledger, _ := testLedger(t, 0)
	registry := NewRegistry()
	registry.Register(blockingTool{})
	inv := NewInvoker(registry, ledger, 20*time.Millisecond, nil, nil)

	_, err := inv.Invoke(context.Background(), choice("block", `{}`), "s1", credits.Owner{UserID: "u1"})
	var ie *InvokeError
	if !errors.As(err, &ie) || ie.Kind != KindTimeout {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestRetouchCostPerImage(t *testing.T) {
	tool := &RetouchImagesTool{}
	params := json.RawMessage(`{"image_uris": ["a", "b", "c"]}`)
	if got := tool.Cost(params); got != 3 {
		t.Errorf("cost = %d, want 3", got)
	}
}

func TestCatalogDescribe(t *testing.T) {
	registry := NewCatalog(Capabilities{
		Web:   &fakeWeb{},
		Media: &fakeMedia{},
	})
	desc := registry.Describe()
	for _, name := range []string{"web_search", "browse_page", "property_research", "retouch_images", "vocal_tour"} {
		if !strings.Contains(desc, "- "+name+": ") {
			t.Errorf("catalog description missing %s", name)
		}
	}
	// Sorted and stable.
	if strings.Index(desc, "browse_page") > strings.Index(desc, "web_search") {
		t.Error("catalog not sorted by name")
	}
}

func TestPropertyResearchComposite(t *testing.T) {
	web := &fakeWeb{
		results: []SearchResult{
			{Title: "County records", URL: "https://records", Snippet: "parcel"},
			{Title: "Old listing", URL: "https://listing", Snippet: "sold 2019"},
			{Title: "Neighborhood", URL: "https://hood", Snippet: "schools"},
		},
		pages: map[string]string{
			"https://records": "Parcel 42, assessed at $910k",
			"https://listing": fmt.Sprintf("Sold in 2019 for $850k.%s", strings.Repeat(" More detail.", 200)),
		},
	}
	tool := &PropertyResearchTool{Client: web}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"address": "12 Elm St"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result.Full, "Parcel 42") {
		t.Errorf("fetched page content missing: %s", result.Full)
	}
	if !strings.Contains(result.Full, "schools") {
		t.Errorf("snippet fallback missing: %s", result.Full)
	}
	if !strings.Contains(result.User, "12 Elm St") {
		t.Errorf("user summary = %q", result.User)
	}
}
