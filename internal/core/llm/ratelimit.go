package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p so that at most perMinute calls start per minute.
// Sessions sharing the returned Provider share the budget. A perMinute of
// zero or less returns p unchanged.
func WithRateLimit(p Provider, perMinute int) Provider {
	if perMinute <= 0 {
		return p
	}
	return &rateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *rateLimited) Send(ctx context.Context, msgs []Message) (Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return r.Provider.Send(ctx, msgs)
}
