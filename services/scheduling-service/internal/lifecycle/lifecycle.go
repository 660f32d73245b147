// Package lifecycle owns appointment status. Every status change of an
// appointment, including its creation, goes through Lifecycle and is handed
// to the registered observers inside the same transaction.
package lifecycle

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

var tracer = otel.Tracer("clinicore.scheduling.lifecycle")

// transitions lists the statuses reachable from each status. The empty
// status stands for an appointment that does not exist yet.
var transitions = map[model.Status][]model.Status{
	"":                  {model.StatusPending},
	model.StatusPending: {model.StatusApproved, model.StatusRejected},
}

// Allowed reports whether from -> to is a legal transition.
func Allowed(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes one committed status change. Appointment is the state
// after the change; From is empty for creation.
type Transition struct {
	Appointment model.Appointment
	From        model.Status
	To          model.Status
	ActorID     string
	At          time.Time
}

// Observer reacts to a transition inside its transaction. Returning an error
// aborts the transition.
type Observer interface {
	OnTransition(ctx context.Context, tx storage.Tx, t Transition) error
}

// CommitObserver is implemented by observers that also want to hear about a
// transition once it is durable.
type CommitObserver interface {
	Committed(ctx context.Context, t Transition)
}

type Role string

const (
	RoleProvider  Role = "provider"
	RoleRequester Role = "requester"
)

type Lifecycle struct {
	store     storage.Store
	observers []Observer
	logger    *zap.Logger
	metrics   *metrics.Scheduling
	now       func() time.Time
}

type Option func(*Lifecycle)

func WithLogger(l *zap.Logger) Option { return func(lc *Lifecycle) { lc.logger = l } }

func WithMetrics(m *metrics.Scheduling) Option { return func(lc *Lifecycle) { lc.metrics = m } }

func WithClock(now func() time.Time) Option { return func(lc *Lifecycle) { lc.now = now } }

func New(store storage.Store, opts ...Option) *Lifecycle {
	lc := &Lifecycle{store: store, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(lc)
	}
	return lc
}

// Subscribe registers observers. It must be called before the lifecycle is
// shared between goroutines.
func (lc *Lifecycle) Subscribe(obs ...Observer) {
	lc.observers = append(lc.observers, obs...)
}

// Create inserts a into tx in the initial status and emits the creation
// transition. The caller owns tx and must call Committed after it commits.
func (lc *Lifecycle) Create(ctx context.Context, tx storage.Tx, a model.Appointment) (Transition, error) {
	if a.Status == "" {
		a.Status = model.StatusPending
	}
	if !Allowed("", a.Status) {
		return Transition{}, apperr.Wrap(apperr.ErrInvalidTransition, "appointments start as %s", model.StatusPending)
	}
	if err := tx.InsertAppointment(ctx, a); err != nil {
		return Transition{}, err
	}
	t := Transition{Appointment: a, To: a.Status, ActorID: a.RequesterID, At: a.CreatedAt}
	if err := lc.emit(ctx, tx, t); err != nil {
		return Transition{}, err
	}
	return t, nil
}

// Committed records a transition that is now durable.
func (lc *Lifecycle) Committed(ctx context.Context, t Transition) {
	lc.metrics.ObserveTransition(string(t.From), string(t.To))
	for _, o := range lc.observers {
		if c, ok := o.(CommitObserver); ok {
			c.Committed(ctx, t)
		}
	}
	lc.logger.Info("appointment transitioned",
		zap.String("appointment_id", t.Appointment.ID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("actor_id", t.ActorID),
	)
}

func (lc *Lifecycle) Approve(ctx context.Context, actorID, appointmentID string) (model.Appointment, error) {
	return lc.decide(ctx, actorID, appointmentID, model.StatusApproved)
}

func (lc *Lifecycle) Reject(ctx context.Context, actorID, appointmentID string) (model.Appointment, error) {
	return lc.decide(ctx, actorID, appointmentID, model.StatusRejected)
}

func (lc *Lifecycle) decide(ctx context.Context, actorID, id string, to model.Status) (model.Appointment, error) {
	ctx, span := tracer.Start(ctx, "lifecycle.decide", trace.WithAttributes(
		attribute.String("appointment.id", id),
		attribute.String("appointment.to", string(to)),
	))
	defer span.End()

	var t Transition
	err := lc.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.ProviderID != actorID {
			return apperr.Wrap(apperr.ErrUnauthorized, "only the provider can decide appointment %s", id)
		}
		if !Allowed(a.Status, to) {
			return apperr.Wrap(apperr.ErrInvalidTransition, "appointment %s is already %s", id, a.Status)
		}

		at := lc.now().UTC()
		if err := tx.UpdateAppointmentStatus(ctx, id, to, at); err != nil {
			return err
		}
		from := a.Status
		a.Status = to
		a.DecidedAt = &at

		t = Transition{Appointment: a, From: from, To: to, ActorID: actorID, At: at}
		return lc.emit(ctx, tx, t)
	})
	if err != nil {
		span.RecordError(err)
		return model.Appointment{}, apperr.Internal(err)
	}
	lc.Committed(ctx, t)
	return t.Appointment, nil
}

func (lc *Lifecycle) emit(ctx context.Context, tx storage.Tx, t Transition) error {
	for _, o := range lc.observers {
		if err := o.OnTransition(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns an appointment to its provider or requester.
func (lc *Lifecycle) Get(ctx context.Context, actorID, id string) (model.Appointment, error) {
	a, err := lc.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, apperr.Internal(err)
	}
	if a.ProviderID != actorID && a.RequesterID != actorID {
		return model.Appointment{}, apperr.Wrap(apperr.ErrUnauthorized, "appointment %s belongs to other parties", id)
	}
	return a, nil
}

// List returns the actor's appointments seen from role, most recent first.
// An empty status matches every status.
func (lc *Lifecycle) List(ctx context.Context, actorID string, role Role, status model.Status, limit int) ([]model.Appointment, error) {
	f := storage.AppointmentFilter{Status: status, Limit: limit}
	switch role {
	case RoleProvider:
		f.ProviderID = actorID
	case RoleRequester:
		f.RequesterID = actorID
	default:
		return nil, apperr.Wrap(apperr.ErrInvalidInput, "unknown role %q", role)
	}
	list, err := lc.store.ListAppointments(ctx, f)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}
