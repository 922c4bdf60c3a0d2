package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"cleanwave/internal/config"
	"cleanwave/internal/pkg/metrics"
)

func TestMain(m *testing.M) {
	metrics.InitMetrics()
	os.Exit(m.Run())
}

func newLocal(t *testing.T, handler http.HandlerFunc) Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newLocalGenerator(&config.LLMConfig{
		Provider: "local",
		APIBase:  srv.URL,
		APIKey:   "test-key",
		Model:    "local-model",
		Timeout:  2 * time.Second,
	}, nil)
}

func TestLocalGenerate_BuildsChatCompletionPayload(t *testing.T) {
	var captured chatRequest
	gen := newLocal(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{
				{Message: chatMessage{Role: "assistant", Content: "Join our cleanup!"}},
			},
		})
	})

	text, err := gen.Generate(context.Background(), Request{
		Prompt:       "write a post",
		SystemPrompt: "you are a social media expert",
		Temperature:  0.7,
		MaxTokens:    200,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Join our cleanup!" {
		t.Fatalf("unexpected text %q", text)
	}

	if len(captured.Messages) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Fatalf("unexpected message roles: %+v", captured.Messages)
	}
	if captured.MaxTokens != 200 || captured.Temperature != 0.7 {
		t.Fatalf("sampling parameters not forwarded: %+v", captured)
	}
}

func TestLocalGenerate_OmitsEmptySystemPrompt(t *testing.T) {
	var captured chatRequest
	gen := newLocal(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{
				{Message: chatMessage{Content: "ok"}},
			},
		})
	})

	if _, err := gen.Generate(context.Background(), Request{Prompt: "hi"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(captured.Messages) != 1 || captured.Messages[0].Role != "user" {
		t.Fatalf("expected single user message, got %+v", captured.Messages)
	}
}

func TestLocalGenerate_ProviderFailureWrapsErrGeneration(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"choices":[]}`))
			},
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`nope`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newLocal(t, tt.handler)
			_, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
			if !errors.Is(err, ErrGeneration) {
				t.Fatalf("expected ErrGeneration, got %v", err)
			}
		})
	}
}

func TestNew_RejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), &config.LLMConfig{Provider: "clippy"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
