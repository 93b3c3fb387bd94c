package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hooop/vex/internal/owner"
)

func TestHTTPClientExplain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		var decoded chatRequest
		if err := json.NewDecoder(r.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if decoded.Model != "gpt-test" {
			t.Errorf("unexpected model: %s", decoded.Model)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "the pointer escaped the scope unfreed"}}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "gpt-test", "test-key", 5*time.Second)
	narrative, err := c.Explain(context.Background(), Request{
		RootCause: owner.RootCause{File: "leak.c", Line: 3, Kind: owner.MissingFree},
	})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if narrative != "the pointer escaped the scope unfreed" {
		t.Fatalf("unexpected narrative: %q", narrative)
	}
}

func TestHTTPClientExplainStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "gpt-test", "", time.Second)
	if _, err := c.Explain(context.Background(), Request{}); err == nil {
		t.Fatalf("expected an LLMError for a non-200 response")
	}
}
