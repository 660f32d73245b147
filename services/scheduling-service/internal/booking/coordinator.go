// Package booking commits reservations. It is the only path that creates
// appointments, and the only place double booking is prevented.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/locking"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

var tracer = otel.Tracer("clinicore.scheduling.booking")

type Request struct {
	RequesterID string
	ProviderID  string
	Date        civil.Date
	Time        model.TimeOfDay
}

type Config struct {
	// LockWait bounds how long a request queues behind another booking of
	// the same slot before failing with apperr.ErrBusy.
	LockWait time.Duration
	// Location is where Date and Time are read as wall-clock values.
	Location *time.Location
}

type Coordinator struct {
	store     storage.Store
	lifecycle *lifecycle.Lifecycle
	locker    locking.Locker
	lockWait  time.Duration
	loc       *time.Location
	logger    *zap.Logger
	metrics   *metrics.Scheduling
	now       func() time.Time
	newID     func() string
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.logger = l } }

func WithMetrics(m *metrics.Scheduling) Option { return func(c *Coordinator) { c.metrics = m } }

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func NewCoordinator(store storage.Store, lc *lifecycle.Lifecycle, locker locking.Locker, cfg Config, opts ...Option) *Coordinator {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	c := &Coordinator{
		store:     store,
		lifecycle: lc,
		locker:    locker,
		lockWait:  cfg.LockWait,
		loc:       cfg.Location,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Book reserves req's slot as a pending appointment.
func (c *Coordinator) Book(ctx context.Context, req Request) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "booking.book", trace.WithAttributes(
		attribute.String("provider.id", req.ProviderID),
		attribute.String("slot.date", req.Date.String()),
		attribute.String("slot.time", req.Time.String()),
	))
	defer span.End()

	a, err := c.book(ctx, req)
	code := outcome(err)
	c.metrics.ObserveBooking(code)
	if err != nil {
		span.RecordError(err)
		fields := []zap.Field{
			zap.String("provider_id", req.ProviderID),
			zap.String("requester_id", req.RequesterID),
			zap.String("date", req.Date.String()),
			zap.String("time", req.Time.String()),
			zap.String("outcome", code),
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			c.logger.Error("booking failed", append(fields, zap.Error(err))...)
		} else {
			c.logger.Info("booking refused", fields...)
		}
		return model.Appointment{}, err
	}
	return a, nil
}

func (c *Coordinator) book(ctx context.Context, req Request) (model.Appointment, error) {
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.RequesterID = strings.TrimSpace(req.RequesterID)
	if req.ProviderID == "" || req.RequesterID == "" {
		return model.Appointment{}, apperr.Wrap(apperr.ErrInvalidInput, "provider and requester are required")
	}
	if req.ProviderID == req.RequesterID {
		return model.Appointment{}, apperr.Wrap(apperr.ErrInvalidInput, "a provider cannot book their own slot")
	}
	if !req.Date.IsValid() || !req.Time.Valid() {
		return model.Appointment{}, apperr.Wrap(apperr.ErrInvalidInput, "date and time must be valid")
	}

	now := c.now()
	if !req.Time.On(req.Date, c.loc).After(now) {
		return model.Appointment{}, apperr.Wrap(apperr.ErrPastDate, "%s %s is not in the future", req.Date, req.Time)
	}

	// Cheap pre-check without any lock; repeated under the lock below.
	windows, err := c.store.ListWindows(ctx, req.ProviderID)
	if err != nil {
		return model.Appointment{}, apperr.Internal(err)
	}
	if !model.CoveredBy(windows, req.Date, req.Time) {
		return model.Appointment{}, outsideAvailability(req)
	}

	key := model.SlotKey{ProviderID: req.ProviderID, Date: req.Date, Time: req.Time}
	waitStarted := time.Now()
	release, err := c.locker.Acquire(ctx, key.String(), c.lockWait)
	c.metrics.ObserveLockWait(time.Since(waitStarted))
	if errors.Is(err, locking.ErrNotAcquired) {
		return model.Appointment{}, apperr.Wrap(apperr.ErrBusy, "slot %s", key)
	}
	if err != nil {
		return model.Appointment{}, apperr.Internal(err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("slot lock release failed", zap.String("key", key.String()), zap.Error(err))
		}
	}()

	appt := model.Appointment{
		ID:          c.newID(),
		ProviderID:  req.ProviderID,
		RequesterID: req.RequesterID,
		Date:        req.Date,
		Time:        req.Time,
		Status:      model.StatusPending,
		CreatedAt:   now.UTC(),
	}

	var t lifecycle.Transition
	err = c.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.LockProvider(ctx, req.ProviderID, false); err != nil {
			return err
		}
		windows, err := tx.ListWindows(ctx, req.ProviderID)
		if err != nil {
			return err
		}
		if !model.CoveredBy(windows, req.Date, req.Time) {
			return outsideAvailability(req)
		}
		held, found, err := tx.FindActiveAppointment(ctx, key)
		if err != nil {
			return err
		}
		if found {
			return apperr.Wrap(apperr.ErrSlotTaken, "slot %s is held by appointment %s", key, held.ID)
		}
		t, err = c.lifecycle.Create(ctx, tx, appt)
		return err
	})
	if err != nil {
		return model.Appointment{}, apperr.Internal(err)
	}
	c.lifecycle.Committed(ctx, t)
	return t.Appointment, nil
}

func outsideAvailability(req Request) error {
	return apperr.Wrap(apperr.ErrOutsideAvailability, "%s has no availability on %s %s at %s",
		req.ProviderID, model.WeekdayOf(req.Date), req.Date, req.Time)
}

func outcome(err error) string {
	if err == nil {
		return "created"
	}
	return apperr.As(err).Code
}
