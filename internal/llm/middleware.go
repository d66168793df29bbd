package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every Chat call by d.
func WithTimeout(next Client, d time.Duration) Client { //nolint:ireturn
	return &timeoutClient{next: next, timeout: d}
}

func (c *timeoutClient) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.next.Chat(ctx, messages)
}

type limitedClient struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit allows at most rps calls per second across all callers.
func WithRateLimit(next Client, rps float64) Client { //nolint:ireturn
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &limitedClient{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c *limitedClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return c.next.Chat(ctx, messages)
}
