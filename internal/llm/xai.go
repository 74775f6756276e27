package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultXAIBaseURL = "https://api.x.ai/v1"
	defaultXAIModel   = "grok-4-fast-non-reasoning"
)

// XAIProvider talks to an OpenAI-compatible chat completions API.
type XAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewXAIProvider(baseURL, apiKey, model string, maxTokens int, httpClient *http.Client) *XAIProvider {
	if baseURL == "" {
		baseURL = defaultXAIBaseURL
	}
	if model == "" {
		model = defaultXAIModel
	}
	return &XAIProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}
}

func (p *XAIProvider) Name() string { return ProviderXAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *XAIProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	req := chatRequest{
		Model:     p.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: p.maxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}

	var resp chatResponse
	if err := postJSON(ctx, p.httpClient, p.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return Completion{}, err
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("%w: response has no choices", ErrUnparseable)
	}

	return Completion{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}
