package embedclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newChatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: content}}},
		})
	}))
}

func TestSummarizationClient_Complete(t *testing.T) {
	srv := newChatServer(t, "a concise summary")
	defer srv.Close()

	c := NewSummarizationClient(srv.URL, "test-key", "gpt-4o-mini")
	got, err := c.Complete(context.Background(), "system", "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "a concise summary" {
		t.Errorf("got %q", got)
	}
}

func TestSummarizationClient_CompleteJSON(t *testing.T) {
	t.Run("parses clean JSON", func(t *testing.T) {
		srv := newChatServer(t, `{"title":"fix bug"}`)
		defer srv.Close()

		c := NewSummarizationClient(srv.URL, "k", "m")
		var out struct {
			Title string `json:"title"`
		}
		if err := c.CompleteJSON(context.Background(), "sys", "prompt", &out); err != nil {
			t.Fatalf("CompleteJSON: %v", err)
		}
		if out.Title != "fix bug" {
			t.Errorf("title = %q", out.Title)
		}
	})

	t.Run("strips a markdown code fence", func(t *testing.T) {
		srv := newChatServer(t, "```json\n{\"title\":\"fenced\"}\n```")
		defer srv.Close()

		c := NewSummarizationClient(srv.URL, "k", "m")
		var out struct {
			Title string `json:"title"`
		}
		if err := c.CompleteJSON(context.Background(), "sys", "prompt", &out); err != nil {
			t.Fatalf("CompleteJSON: %v", err)
		}
		if out.Title != "fenced" {
			t.Errorf("title = %q", out.Title)
		}
	})

	t.Run("errors on empty response", func(t *testing.T) {
		srv := newChatServer(t, "   ")
		defer srv.Close()

		c := NewSummarizationClient(srv.URL, "k", "m")
		var out map[string]any
		if err := c.CompleteJSON(context.Background(), "sys", "prompt", &out); err == nil {
			t.Error("expected error for empty response")
		}
	})
}
