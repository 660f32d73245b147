// Package availability owns each provider's recurring weekly windows.
package availability

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

// Input describes a window to create, or to put in place of WindowID.
type Input struct {
	WindowID string
	Weekdays model.WeekdaySet
	Start    model.TimeOfDay
	End      model.TimeOfDay
}

func (in Input) validate() error {
	if !in.Weekdays.Valid() {
		return apperr.Wrap(apperr.ErrInvalidRange, "weekdays must name at least one day")
	}
	if !in.Start.Valid() || !in.End.ValidEnd() {
		return apperr.Wrap(apperr.ErrInvalidRange, "start must be within 00:00 and 23:59, end within 00:01 and 24:00")
	}
	if in.Start >= in.End {
		return apperr.Wrap(apperr.ErrInvalidRange, "start %s must be before end %s", in.Start, in.End)
	}
	return nil
}

type Service struct {
	store   storage.Store
	logger  *zap.Logger
	metrics *metrics.Scheduling
	now     func() time.Time
	newID   func() string
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.Scheduling) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store storage.Store, opts ...Option) *Service {
	s := &Service{store: store, logger: zap.NewNop(), now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAvailability creates a window for providerID, or replaces in.WindowID.
// It holds the provider's exclusive lock so no booking can land between the
// checks and the write.
func (s *Service) SetAvailability(ctx context.Context, providerID string, in Input) (model.Window, error) {
	op := "create"
	if in.WindowID != "" {
		op = "replace"
	}
	w, err := s.set(ctx, strings.TrimSpace(providerID), in)
	s.metrics.ObserveAvailability(op, outcome(err))
	if err != nil {
		fields := []zap.Field{zap.String("provider_id", providerID), zap.String("op", op), zap.Error(err)}
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("set availability failed", fields...)
		} else {
			s.logger.Info("set availability refused", fields...)
		}
		return model.Window{}, err
	}
	return w, nil
}

func (s *Service) set(ctx context.Context, providerID string, in Input) (model.Window, error) {
	if providerID == "" {
		return model.Window{}, apperr.Wrap(apperr.ErrInvalidInput, "provider is required")
	}
	if err := in.validate(); err != nil {
		return model.Window{}, err
	}

	now := s.now().UTC()
	w := model.Window{
		ID:         in.WindowID,
		ProviderID: providerID,
		Weekdays:   in.Weekdays,
		Start:      in.Start,
		End:        in.End,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	replacing := in.WindowID != ""

	err := s.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockProvider(ctx, providerID, true); err != nil {
			return err
		}
		existing, err := tx.ListWindows(ctx, providerID)
		if err != nil {
			return err
		}

		others := make([]model.Window, 0, len(existing))
		found := false
		for _, e := range existing {
			if replacing && e.ID == in.WindowID {
				found = true
				w.CreatedAt = e.CreatedAt
				continue
			}
			others = append(others, e)
		}
		if replacing && !found {
			return apperr.Wrap(apperr.ErrNotFound, "window %s of provider %s", in.WindowID, providerID)
		}
		for _, o := range others {
			if w.Overlaps(o) {
				return apperr.Wrap(apperr.ErrOverlappingWindow, "%s %s-%s overlaps window %s (%s %s-%s)",
					w.Weekdays, w.Start, w.End, o.ID, o.Weekdays, o.Start, o.End)
			}
		}

		if !replacing {
			w.ID = s.newID()
			return tx.InsertWindow(ctx, w)
		}

		active, err := tx.ActiveAppointmentsForProvider(ctx, providerID)
		if err != nil {
			return err
		}
		after := append(others, w)
		for _, a := range active {
			if !model.CoveredBy(after, a.Date, a.Time) {
				return apperr.Wrap(apperr.ErrWindowInUse, "appointment %s on %s at %s would fall outside availability", a.ID, a.Date, a.Time)
			}
		}
		return tx.UpdateWindow(ctx, w)
	})
	if err != nil {
		return model.Window{}, apperr.Internal(err)
	}
	return w, nil
}

// ListAvailability returns the provider's windows ordered by first weekday,
// then start time.
func (s *Service) ListAvailability(ctx context.Context, providerID string) ([]model.Window, error) {
	windows, err := s.store.ListWindows(ctx, providerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	out := append([]model.Window{}, windows...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Weekdays.Rank(), out[j].Weekdays.Rank()
		if ri != rj {
			return ri < rj
		}
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.As(err).Code
}
