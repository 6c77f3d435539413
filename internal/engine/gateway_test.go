package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func embeddingJSON(vec []float32) []byte {
	type item struct {
		Embedding []float32 `json:"embedding"`
	}
	type resp struct {
		Data []item `json:"data"`
	}
	b, _ := json.Marshal(resp{Data: []item{{Embedding: vec}}})
	return b
}

func completionJSON(content string) []byte {
	type msg struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type choice struct {
		Message msg `json:"message"`
	}
	type resp struct {
		Choices []choice `json:"choices"`
	}
	b, _ := json.Marshal(resp{Choices: []choice{{Message: msg{Role: "assistant", Content: content}}}})
	return b
}

func TestEmbed(t *testing.T) {
	var gotPath, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Write(embeddingJSON([]float32{0.1, 0.2, 0.3}))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "key")
	vec, err := c.Embed(context.Background(), "text-embedding-3-small", "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("got %d dimensions, want 3", len(vec))
	}
	if gotPath != "/embeddings" {
		t.Errorf("path = %q, want /embeddings", gotPath)
	}
	if gotModel != "text-embedding-3-small" {
		t.Errorf("model = %q, want text-embedding-3-small", gotModel)
	}
}

func TestEmbedEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "key")
	if _, err := c.Embed(context.Background(), "m", "hello"); err == nil {
		t.Fatal("expected error for empty embedding data")
	}
}

func TestComplete(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		w.Write(completionJSON("the answer"))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "secret")
	got, err := c.Complete(context.Background(), "gpt-4o", "a prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "the answer" {
		t.Errorf("Complete = %q, want %q", got, "the answer")
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(completionJSON("eventually"))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "key")
	got, err := c.Complete(context.Background(), "m", "p")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "eventually" {
		t.Errorf("Complete = %q, want %q", got, "eventually")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestCompleteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "key")
	if _, err := c.Complete(context.Background(), "m", "p"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestIsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "key")
	if !c.IsReady(context.Background()) {
		t.Error("IsReady() = false, want true")
	}

	srv.Close()
	if c.IsReady(context.Background()) {
		t.Error("IsReady() = true after server close, want false")
	}
}
