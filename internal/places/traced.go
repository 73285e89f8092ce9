package places

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/dinder/session-server-go/internal/places"

// Traced records a span per upstream query.
type Traced struct {
	next     Searcher
	provider string
}

func NewTraced(next Searcher, provider string) *Traced {
	return &Traced{next: next, provider: provider}
}

func (t *Traced) Search(ctx context.Context, q Query) ([]Record, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "places.search")
	defer span.End()

	span.SetAttributes(
		attribute.String("places.provider", t.provider),
		attribute.String("places.term", q.Term),
		attribute.Float64("places.radius_meters", q.RadiusMeters),
	)

	records, err := t.next.Search(ctx, q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("places.results", len(records)))
	return records, nil
}
