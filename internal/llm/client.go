package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/koval-yurko/emails-flow/pkg/circuitbreaker"
	"github.com/koval-yurko/emails-flow/pkg/logger"
	"github.com/koval-yurko/emails-flow/pkg/metrics"
	"github.com/koval-yurko/emails-flow/pkg/otel"
)

// Client extracts posts through a Provider, guarded by a rate limiter and a
// circuit breaker.
type Client struct {
	provider Provider
	cb       *circuitbreaker.CircuitBreaker
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewClient builds a client. ratePerMinute <= 0 disables rate limiting.
func NewClient(provider Provider, ratePerMinute int, logger *zap.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1)
	}

	// 熔断器：连续失败 3 次打开，60 秒后半开
	cbConfig := circuitbreaker.Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             60 * time.Second,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("LLM circuit breaker state changed",
				zap.String("provider", provider.Name()),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &Client{
		provider: provider,
		cb:       circuitbreaker.NewCircuitBreaker(cbConfig),
		limiter:  limiter,
		logger:   logger,
	}
}

// Extract asks the model for the posts in emailContent.
func (c *Client) Extract(ctx context.Context, emailContent string) (posts []PostItem, err error) {
	ctx, span := otel.ClientSpan(ctx, "llm", "extract",
		attribute.String("llm.provider", c.provider.Name()),
		attribute.Int("llm.input_chars", len(emailContent)),
	)
	defer func() { otel.EndSpan(span, err) }()

	prompt, err := BuildPrompt(emailContent)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm rate limiter: %w", err)
	}

	var completion Completion
	err = c.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		start := time.Now()
		var callErr error
		completion, callErr = c.provider.Complete(ctx, prompt)

		status := "success"
		if callErr != nil {
			status = "error"
		}
		metrics.RecordLLMCallLatency(c.provider.Name(), status, time.Since(start))
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", c.provider.Name(), err)
	}

	metrics.AddLLMTokens(c.provider.Name(), completion.InputTokens, completion.OutputTokens)
	span.SetAttributes(
		attribute.Int("llm.input_tokens", completion.InputTokens),
		attribute.Int("llm.output_tokens", completion.OutputTokens),
	)
	logger.WithTrace(ctx, c.logger).Info("LLM extraction completed",
		zap.String("provider", c.provider.Name()),
		zap.Int("input_tokens", completion.InputTokens),
		zap.Int("output_tokens", completion.OutputTokens),
	)

	posts, err = Parse(completion.Content)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.posts", len(posts)))
	return posts, nil
}
