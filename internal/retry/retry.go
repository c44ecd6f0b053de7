package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/amishk599/careerscan/internal/ai"
	"github.com/amishk599/careerscan/internal/model"
)

// RetryProvider is a decorator that retries transient provider failures with
// exponential backoff and jitter before giving up.
type RetryProvider struct {
	inner      ai.LLMProvider
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

var _ ai.LLMProvider = (*RetryProvider)(nil)

// NewRetryProvider wraps an LLMProvider with retry logic.
// maxRetries is the number of additional attempts after the first failure.
// baseDelay is the delay before the first retry, doubled on each subsequent retry.
func NewRetryProvider(inner ai.LLMProvider, maxRetries int, baseDelay time.Duration, logger *slog.Logger) *RetryProvider {
	return &RetryProvider{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		logger:     logger,
	}
}

// Complete calls the wrapped provider, retrying on rate limits, server errors
// and network failures.
func (p *RetryProvider) Complete(ctx context.Context, prompt string) (ai.Completion, error) {
	c, err := p.inner.Complete(ctx, prompt)
	if err == nil || !isRetryable(err) {
		return c, err
	}

	lastErr := err
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		delay := p.backoffDelay(attempt, lastErr)

		p.logger.Warn("retrying after transient provider error",
			"attempt", attempt,
			"max_retries", p.maxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return ai.Completion{}, &model.ExtractionProviderError{
				Code: model.ProviderNetwork,
				Err:  fmt.Errorf("retry cancelled: %w", ctx.Err()),
			}
		case <-time.After(delay):
		}

		c, err = p.inner.Complete(ctx, prompt)
		if err == nil || !isRetryable(err) {
			return c, err
		}
		lastErr = err
	}

	return ai.Completion{}, lastErr
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// A Retry-After from an HTTP 429 takes precedence.
func (p *RetryProvider) backoffDelay(attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := p.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// isRetryable returns true if the error represents a transient failure worth retrying.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var provErr *model.ExtractionProviderError
	if !errors.As(err, &provErr) {
		return false
	}
	switch provErr.Code {
	case model.ProviderRateLimit, model.ProviderServer, model.ProviderNetwork:
		return true
	default:
		return false
	}
}
