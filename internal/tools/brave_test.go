package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBraveSearch(t *testing.T) {
	var gotToken, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web": {"results": [
			{"title": "Elm St listing", "url": "https://example.com/elm", "description": "sold 2019"},
			{"title": "Oak Ave listing", "url": "https://example.com/oak", "description": "sold 2021"}
		]}}`))
	}))
	defer ts.Close()

	client := NewBraveClient("key-123")
	client.Endpoint = ts.URL

	results, err := client.Search(context.Background(), "elm st sales", 1)
	if err != nil {
		t.Fatal(err)
	}
	if gotToken != "key-123" || gotQuery != "elm st sales" {
		t.Errorf("token = %q query = %q", gotToken, gotQuery)
	}
	if len(results) != 1 || results[0].Title != "Elm St listing" || results[0].Snippet != "sold 2019" {
		t.Errorf("results = %+v", results)
	}
}

func TestBraveSearchErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	client := NewBraveClient("key")
	client.Endpoint = ts.URL
	if _, err := client.Search(context.Background(), "q", 5); err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestBraveFetchCapsBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("page body"))
	}))
	defer ts.Close()

	client := NewBraveClient("key")
	body, err := client.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if body != "page body" {
		t.Errorf("body = %q", body)
	}
}
