package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/koval-yurko/emails-flow/internal/config"
	"github.com/koval-yurko/emails-flow/pkg/circuitbreaker"
)

func TestXAIProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "grok-4-fast-non-reasoning" || req.MaxTokens != 5000 || len(req.Messages) != 1 {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"posts\":[]}"}}],"usage":{"prompt_tokens":12,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	p := NewXAIProvider(srv.URL+"/", "key", "", 5000, srv.Client())
	got, err := p.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := Completion{Content: `{"posts":[]}`, InputTokens: 12, OutputTokens: 3}
	if got != want {
		t.Errorf("Complete = %+v, want %+v", got, want)
	}
}

func TestXAIProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewXAIProvider(srv.URL, "key", "m", 0, srv.Client())
	if _, err := p.Complete(context.Background(), "hello"); !errors.Is(err, ErrProviderStatus) {
		t.Errorf("err = %v, want ErrProviderStatus", err)
	}
}

func TestOllamaProviderComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "llama3.1" || req["stream"] != false {
			t.Errorf("request = %v", req)
		}
		_, _ = w.Write([]byte(`{"response":"{\"posts\":[]}","done":true,"prompt_eval_count":7,"eval_count":2}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3.1", 100, srv.Client())
	got, err := p.Complete(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Content != `{"posts":[]}` || got.InputTokens != 7 || got.OutputTokens != 2 {
		t.Errorf("Complete = %+v", got)
	}
}

func TestNewProvider(t *testing.T) {
	if _, err := NewProvider(config.LLMConfig{Provider: "xai"}); err == nil {
		t.Error("xai without api key should fail")
	}
	p, err := NewProvider(config.LLMConfig{Provider: "ollama", Timeout: time.Second})
	if err != nil || p.Name() != ProviderOllama {
		t.Errorf("NewProvider(ollama) = %v, %v", p, err)
	}
	if _, err := NewProvider(config.LLMConfig{Provider: "bedrock"}); err == nil {
		t.Error("unknown provider should fail")
	}
}

type fakeProvider struct {
	content string
	err     error
	calls   int
	prompts []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(_ context.Context, prompt string) (Completion, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return Completion{Content: f.content, InputTokens: 10, OutputTokens: 5}, f.err
}

func TestClientExtract(t *testing.T) {
	fp := &fakeProvider{content: "```json\n{\"posts\":[{\"url\":\"https://x\",\"title\":\"T\",\"text\":\"S\"}]}\n```"}
	c := NewClient(fp, 0, zap.NewNop())

	posts, err := c.Extract(context.Background(), "<p>email</p>")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(posts) != 1 || posts[0].URL != "https://x" {
		t.Errorf("posts = %+v", posts)
	}
	if fp.calls != 1 {
		t.Errorf("calls = %d", fp.calls)
	}
}

func TestClientExtractUnparseable(t *testing.T) {
	c := NewClient(&fakeProvider{content: "no json here"}, 0, zap.NewNop())
	if _, err := c.Extract(context.Background(), "x"); !errors.Is(err, ErrUnparseable) {
		t.Errorf("err = %v, want ErrUnparseable", err)
	}
}

func TestClientCircuitOpensAfterFailures(t *testing.T) {
	fp := &fakeProvider{err: errors.New("connection refused")}
	c := NewClient(fp, 0, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := c.Extract(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
	}
	_, err := c.Extract(context.Background(), "x")
	if !errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		t.Errorf("err = %v, want circuit open", err)
	}
	if fp.calls != 3 {
		t.Errorf("provider calls = %d, want 3", fp.calls)
	}
}
