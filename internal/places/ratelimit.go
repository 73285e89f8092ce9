package places

import (
	"context"

	"golang.org/x/time/rate"

	apperrors "github.com/dinder/session-server-go/internal/errors"
)

// RateLimited bounds the request rate to the upstream provider. Callers wait
// for a token until their context expires.
type RateLimited struct {
	next    Searcher
	limiter *rate.Limiter
}

func NewRateLimited(next Searcher, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Search(ctx context.Context, q Query) ([]Record, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeRateLimitExceeded, "place search rate limit", err)
	}
	return r.next.Search(ctx, q)
}
