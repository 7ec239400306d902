package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/nfe-ocr/internal/common"
	"github.com/joseph-ayodele/nfe-ocr/internal/metrics"
)

type rateLimited struct {
	Client
	limiter *rate.Limiter
}

// WithRateLimit spaces calls to at most rpm per minute. rpm <= 0 disables limiting.
// Waiting is bounded by ctx; a cancelled wait surfaces as a model-call error.
func WithRateLimit(next Client, rpm, burst int) Client {
	if rpm <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimited{Client: next, limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

func (r *rateLimited) Extract(ctx context.Context, img Image) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", common.ModelCallError("rate limit wait", err)
	}
	return r.Client.Extract(ctx, img)
}

func (r *rateLimited) ExtractText(ctx context.Context, img Image) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", common.ModelCallError("rate limit wait", err)
	}
	return r.Client.ExtractText(ctx, img)
}

type instrumented struct {
	Client
	metrics *metrics.Metrics
}

// WithMetrics records call latency per provider.
func WithMetrics(next Client, m *metrics.Metrics) Client {
	if m == nil {
		return next
	}
	return &instrumented{Client: next, metrics: m}
}

func (i *instrumented) Extract(ctx context.Context, img Image) (string, error) {
	start := time.Now()
	out, err := i.Client.Extract(ctx, img)
	i.metrics.ObserveModelCall(i.Provider(), err == nil, time.Since(start))
	return out, err
}

func (i *instrumented) ExtractText(ctx context.Context, img Image) (string, error) {
	start := time.Now()
	out, err := i.Client.ExtractText(ctx, img)
	i.metrics.ObserveModelCall(i.Provider(), err == nil, time.Since(start))
	return out, err
}
