package modelclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\nplain\n```", "plain"},
		{"no fences here", "no fences here"},
		{"  padded  ", "padded"},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Fatalf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStripThinkBlocks(t *testing.T) {
	in := "<think>internal musing</think>actual answer"
	if got := StripThinkBlocks(in); got != "actual answer" {
		t.Fatalf("got %q", got)
	}
	unterminated := "<think>never closed"
	if got := StripThinkBlocks(unterminated); got != "" {
		t.Fatalf("unterminated think block should strip to empty, got %q", got)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://api.example.com/v1", "https://api.example.com/v1"},
		{"https://api.example.com/v1/", "https://api.example.com/v1"},
		{"https://api.example.com/v1/chat/completions", "https://api.example.com/v1"},
	}
	for _, tt := range tests {
		if got := normalizeBaseURL(tt.in); got != tt.want {
			t.Fatalf("normalizeBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChatSingleAttempt(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("expected system+user messages, got %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "hello back"}}},
		})
	}))
	defer ts.Close()

	c := New(ts.URL, "test-key", "test-model", TransportConfig{TimeoutSeconds: 2, ConnectTimeoutSeconds: 1, MaxConnections: 2, MaxKeepaliveConnections: 1, KeepaliveExpirySeconds: 5})
	got, err := c.Chat(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello back" || calls != 1 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestChatProviderErrorSurface(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "quota exceeded"}})
	}))
	defer ts.Close()

	c := New(ts.URL, "k", "m", TransportConfig{TimeoutSeconds: 2})
	if _, err := c.Chat(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestChatNon200IsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := New(ts.URL, "k", "m", TransportConfig{TimeoutSeconds: 2})
	if _, err := c.Chat(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected HTTP error")
	}
}
