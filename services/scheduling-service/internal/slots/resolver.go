package slots

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

var tracer = otel.Tracer("clinicore.scheduling.slots")

type Query struct {
	ProviderID string
	From       civil.Date
	To         civil.Date
	Duration   time.Duration
}

// Resolver answers "what is free" from a lock-free snapshot. The answer may
// be stale by the time a client books from it.
type Resolver struct {
	store        storage.Reader
	maxRangeDays int
	metrics      *metrics.Scheduling
}

type Option func(*Resolver)

// WithMaxRangeDays caps the length of a query; zero disables the cap.
func WithMaxRangeDays(n int) Option { return func(r *Resolver) { r.maxRangeDays = n } }

func WithMetrics(m *metrics.Scheduling) Option { return func(r *Resolver) { r.metrics = m } }

func NewResolver(store storage.Reader, opts ...Option) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(ctx context.Context, q Query) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "slots.resolve", trace.WithAttributes(
		attribute.String("provider.id", q.ProviderID),
		attribute.String("range.from", q.From.String()),
		attribute.String("range.to", q.To.String()),
	))
	defer span.End()
	started := time.Now()

	if err := r.validate(q); err != nil {
		return nil, err
	}
	windows, err := r.store.ListWindows(ctx, q.ProviderID)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Internal(err)
	}
	busy, err := r.store.ListActiveAppointments(ctx, q.ProviderID, q.From, q.To)
	if err != nil {
		span.RecordError(err)
		return nil, apperr.Internal(err)
	}

	out := Generate(windows, busy, q.From, q.To, q.Duration)
	span.SetAttributes(attribute.Int("slots.count", len(out)))
	r.metrics.ObserveResolve(time.Since(started), len(out))
	return out, nil
}

func (r *Resolver) validate(q Query) error {
	if strings.TrimSpace(q.ProviderID) == "" {
		return apperr.Wrap(apperr.ErrInvalidInput, "provider is required")
	}
	if !q.From.IsValid() || !q.To.IsValid() {
		return apperr.Wrap(apperr.ErrInvalidRange, "dates must be valid calendar dates")
	}
	if !q.From.Before(q.To) {
		return apperr.Wrap(apperr.ErrInvalidRange, "to %s must be after from %s", q.To, q.From)
	}
	if q.Duration <= 0 {
		return apperr.Wrap(apperr.ErrInvalidRange, "slot duration must be positive")
	}
	if q.Duration%time.Minute != 0 {
		return apperr.Wrap(apperr.ErrInvalidRange, "slot duration must be a whole number of minutes")
	}
	if q.Duration > model.MinutesPerDay*time.Minute {
		return apperr.Wrap(apperr.ErrInvalidRange, "slot duration cannot exceed a day")
	}
	if r.maxRangeDays > 0 && q.To.DaysSince(q.From) > r.maxRangeDays {
		return apperr.Wrap(apperr.ErrInvalidRange, "range is limited to %d days", r.maxRangeDays)
	}
	return nil
}
