// Package llm extracts posts from newsletter HTML with a chat model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/koval-yurko/emails-flow/internal/config"
	"github.com/koval-yurko/emails-flow/pkg/util"
)

// ErrProviderStatus wraps non-2xx responses from the model API.
var ErrProviderStatus = util.NewTypedError("llm_status_error", "model API returned an error status", true)

// Completion is a model reply and its token usage.
type Completion struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Provider sends a single prompt to a model.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (Completion, error)
}

const (
	ProviderXAI    = "xai"
	ProviderOllama = "ollama"
)

// NewProvider picks the model backend named in cfg.Provider.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 150 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	switch cfg.Provider {
	case ProviderXAI, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("XAI_API_KEY is required for the xai provider")
		}
		return NewXAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens, httpClient), nil
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.MaxTokens, httpClient), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// postJSON sends body to url and decodes a 200 response into out.
func postJSON(ctx context.Context, httpClient *http.Client, url string, headers map[string]string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d %s", ErrProviderStatus, resp.StatusCode, truncate(string(respBody), 512))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
