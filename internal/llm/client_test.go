package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatReply(content string) string {
	msg := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	b, _ := json.Marshal(msg)
	return string(b)
}

func TestCompleteSuccess(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, chatReply(`{"doc_type":"nda","confidence":0.9}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key-123", Model: "test-model"}, nil)
	out, err := c.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	var parsed struct {
		DocType string `json:"doc_type"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil || parsed.DocType != "nda" {
		t.Fatalf("content: %s err=%v", out, err)
	}
	if gotAuth != "Bearer key-123" {
		t.Fatalf("auth header: %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Fatalf("model: %v", gotBody["model"])
	}
	rf, _ := gotBody["response_format"].(map[string]any)
	if rf["type"] != "json_object" {
		t.Fatalf("response_format: %v", gotBody["response_format"])
	}
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, `{"error":"bad api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 3}, nil)
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("4xx retried: %d calls", got)
	}
}

func TestCompleteRetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, chatReply(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 2}, nil)
	out, err := c.Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if string(out) != `{"ok":true}` {
		t.Fatalf("content: %s", out)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls: %d", got)
	}
}

func TestCompleteRetriesMalformedContent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, chatReply("Sure! Here is the JSON you asked for:"))
			return
		}
		fmt.Fprint(w, chatReply(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 2}, nil)
	if _, err := c.Complete(context.Background(), "s", "u"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls: %d", got)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "m", MaxRetries: 2}, nil)
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatalf("expected error after retries")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls: %d", got)
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		d := backoffWithJitter(time.Second, 30*time.Second, attempt)
		if d < 500*time.Millisecond || d > 30*time.Second {
			t.Fatalf("attempt %d backoff %s out of bounds", attempt, d)
		}
	}
}
