package llm

import (
	"context"
	"net/http"
	"strings"
)

// OllamaProvider runs prompts against a local Ollama server.
type OllamaProvider struct {
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewOllamaProvider(baseURL, model string, maxTokens int, httpClient *http.Client) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3"
	}
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}
}

func (p *OllamaProvider) Name() string { return ProviderOllama }

func (p *OllamaProvider) Complete(ctx context.Context, prompt string) (Completion, error) {
	payload := map[string]interface{}{
		"model":  p.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
		"options": map[string]interface{}{
			"temperature": 0.2,
			"num_predict": p.maxTokens,
		},
	}

	var result struct {
		Response        string `json:"response"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := postJSON(ctx, p.httpClient, p.baseURL+"/api/generate", nil, payload, &result); err != nil {
		return Completion{}, err
	}

	return Completion{
		Content:      result.Response,
		InputTokens:  result.PromptEvalCount,
		OutputTokens: result.EvalCount,
	}, nil
}
