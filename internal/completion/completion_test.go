package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidic84/InstaAi/internal/config"
)

func TestMistralClient_Complete(t *testing.T) {
	var got mistralRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s, want /v1/chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer key-1" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Sure, see you then!  "}}]}`))
	}))
	defer srv.Close()

	c := NewMistralClient(srv.URL, "key-1", "", srv.Client())
	history := []Turn{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}
	text, err := c.Complete(context.Background(), "be nice", history, "meet at 5?")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Sure, see you then!" {
		t.Errorf("text = %q", text)
	}

	if got.Model != DefaultMistralModel {
		t.Errorf("model = %q, want %q", got.Model, DefaultMistralModel)
	}
	if got.MaxTokens != 300 || got.Temperature != 0.7 {
		t.Errorf("max_tokens = %d, temperature = %v", got.MaxTokens, got.Temperature)
	}
	wantRoles := []string{RoleSystem, RoleUser, RoleAssistant, RoleUser}
	if len(got.Messages) != len(wantRoles) {
		t.Fatalf("messages = %d, want %d", len(got.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if got.Messages[i].Role != role {
			t.Errorf("messages[%d].role = %q, want %q", i, got.Messages[i].Role, role)
		}
	}
	if got.Messages[3].Content != "meet at 5?" {
		t.Errorf("last message = %q, want the prompt", got.Messages[3].Content)
	}
}

func TestMistralClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewMistralClient(srv.URL, "key", "", srv.Client())
	_, err := c.Complete(context.Background(), "", nil, "hi")

	var cErr *Error
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want *completion.Error", err)
	}
	if cErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", cErr.StatusCode)
	}
}

func TestMistralClient_EmptyCompletionIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer srv.Close()

	c := NewMistralClient(srv.URL, "key", "", srv.Client())
	if _, err := c.Complete(context.Background(), "", nil, "hi"); err == nil {
		t.Fatal("empty completion should be an error")
	}
}

func TestMistralClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewMistralClient(srv.URL, "key", "", srv.Client())
	if _, err := c.Complete(context.Background(), "", nil, "hi"); err == nil {
		t.Fatal("no choices should be an error")
	}
}

func TestOllamaClient_Complete(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("ollama requests should not carry an Authorization header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Thanks!"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "mistral", srv.Client())
	text, err := c.Complete(context.Background(), "sys", nil, "thank you")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if text != "Thanks!" {
		t.Errorf("text = %q", text)
	}
	if got.Stream {
		t.Error("stream should be false")
	}
	if got.Model != "mistral" {
		t.Errorf("model = %q", got.Model)
	}
}

func TestOllamaClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewOllamaClient(url, "", nil)
	_, err := c.Complete(context.Background(), "", nil, "hi")
	var cErr *Error
	if !errors.As(err, &cErr) {
		t.Fatalf("err = %v, want *completion.Error", err)
	}
}

func TestNew_SelectsProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{"mistral", config.Config{CompletionProvider: config.CompletionMistral, MistralAPIKey: "k"}, "*completion.MistralClient", false},
		{"ollama", config.Config{CompletionProvider: config.CompletionOllama}, "*completion.OllamaClient", false},
		{"mistral without key", config.Config{CompletionProvider: config.CompletionMistral}, "", true},
		{"unknown", config.Config{CompletionProvider: "gpt"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(&tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			switch tt.want {
			case "*completion.MistralClient":
				if _, ok := c.(*MistralClient); !ok {
					t.Errorf("got %T, want %s", c, tt.want)
				}
			case "*completion.OllamaClient":
				if _, ok := c.(*OllamaClient); !ok {
					t.Errorf("got %T, want %s", c, tt.want)
				}
			}
		})
	}
}
