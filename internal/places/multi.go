package places

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/model"
)

const DefaultMaxConcurrency = 4

// SearchEnvelope runs one query per cuisine in the envelope, or a single
// DefaultTerm query when no cuisine was requested. Terms that fail are
// skipped; the search is unavailable only when every term failed.
func SearchEnvelope(ctx context.Context, s Searcher, env *model.Envelope, radiusMeters float64, maxConcurrency int) ([]Record, error) {
	terms := env.Cuisines
	if len(terms) == 0 {
		terms = []string{DefaultTerm}
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	results := make([][]Record, len(terms))
	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)

	for i, term := range terms {
		g.Go(func() error {
			records, err := s.Search(gctx, Query{Location: env.Location, RadiusMeters: radiusMeters, Term: term})
			if err != nil {
				log.Warn().Err(err).Str("term", term).Msg("place search term failed")
				mu.Lock()
				failures++
				lastErr = err
				mu.Unlock()
				return nil
			}
			for j := range records {
				records[j].Term = term
			}
			results[i] = records
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, apperrors.SearchUnavailable(err)
	}
	if failures == len(terms) {
		return nil, apperrors.SearchUnavailable(lastErr)
	}

	// Term order keeps discovery order deterministic.
	var out []Record
	for _, records := range results {
		out = append(out, records...)
	}
	return out, nil
}
