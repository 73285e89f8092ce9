package places

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Coalescing merges identical in-flight queries so concurrent sessions in the
// same area share one upstream call.
type Coalescing struct {
	next Searcher
	sf   singleflight.Group
}

func NewCoalescing(next Searcher) *Coalescing {
	return &Coalescing{next: next}
}

func (c *Coalescing) Search(ctx context.Context, q Query) ([]Record, error) {
	key := fmt.Sprintf("%.5f,%.5f|%.0f|%s", q.Location.Lat, q.Location.Lng, q.RadiusMeters, q.Term)

	ch := c.sf.DoChan(key, func() (any, error) {
		return c.next.Search(context.WithoutCancel(ctx), q)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		records := res.Val.([]Record)
		// Shared callers must not alias each other's slice.
		return append([]Record(nil), records...), nil
	}
}
