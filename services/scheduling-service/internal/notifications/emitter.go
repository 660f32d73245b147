// Package notifications turns appointment transitions into per-recipient
// notification records and serves them back for polling.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

type Filter string

const (
	FilterAll    Filter = "all"
	FilterUnread Filter = "unread"
)

func ParseFilter(raw string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterUnread:
		return f, nil
	}
	return "", apperr.Wrap(apperr.ErrInvalidInput, "filter must be %q or %q", FilterAll, FilterUnread)
}

type Emitter struct {
	store          storage.Store
	notifyProvider bool
	logger         *zap.Logger
	metrics        *metrics.Scheduling
	now            func() time.Time
	newID          func() string
}

var (
	_ lifecycle.Observer       = (*Emitter)(nil)
	_ lifecycle.CommitObserver = (*Emitter)(nil)
)

type Option func(*Emitter)

// WithProviderNotifications controls whether providers hear about new
// requests.
func WithProviderNotifications(on bool) Option { return func(e *Emitter) { e.notifyProvider = on } }

func WithLogger(l *zap.Logger) Option { return func(e *Emitter) { e.logger = l } }

func WithMetrics(m *metrics.Scheduling) Option { return func(e *Emitter) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Emitter) { e.now = now } }

func NewEmitter(store storage.Store, opts ...Option) *Emitter {
	e := &Emitter{
		store:          store,
		notifyProvider: true,
		logger:         zap.NewNop(),
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) OnTransition(ctx context.Context, tx storage.Tx, t lifecycle.Transition) error {
	for _, d := range drafts(t, e.notifyProvider) {
		n := model.Notification{
			ID:            e.newID(),
			RecipientID:   d.recipient,
			AppointmentID: t.Appointment.ID,
			Kind:          d.kind,
			Title:         d.title,
			Message:       d.message,
			CreatedAt:     t.At.UTC(),
		}
		if err := tx.InsertNotification(ctx, n); err != nil {
			return fmt.Errorf("notify %s: %w", d.recipient, err)
		}
	}
	return nil
}

func (e *Emitter) Committed(_ context.Context, t lifecycle.Transition) {
	for _, d := range drafts(t, e.notifyProvider) {
		e.metrics.ObserveNotification(string(d.kind))
	}
}

// List returns the recipient's notifications, most recent first.
func (e *Emitter) List(ctx context.Context, recipientID string, f Filter, limit int) ([]model.Notification, error) {
	list, err := e.store.ListNotifications(ctx, recipientID, f == FilterUnread, limit)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

// MarkRead sets the read timestamp once. Marking an already read
// notification returns it unchanged.
func (e *Emitter) MarkRead(ctx context.Context, recipientID, id string) (model.Notification, error) {
	var out model.Notification
	err := e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		n, err := tx.MarkNotificationRead(ctx, recipientID, id, e.now().UTC())
		out = n
		return err
	})
	if err != nil {
		return model.Notification{}, apperr.Internal(err)
	}
	return out, nil
}

func (e *Emitter) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	n, err := e.store.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, apperr.Internal(err)
	}
	return n, nil
}

type draft struct {
	recipient string
	kind      model.NotificationKind
	title     string
	message   string
}

func drafts(t lifecycle.Transition, notifyProvider bool) []draft {
	a := t.Appointment
	when := describe(a)

	switch t.To {
	case model.StatusPending:
		out := []draft{{
			recipient: a.RequesterID,
			kind:      model.KindAppointmentRequested,
			title:     "Appointment requested",
			message:   fmt.Sprintf("Your appointment with %s on %s is waiting for approval.", a.ProviderID, when),
		}}
		if notifyProvider {
			out = append(out, draft{
				recipient: a.ProviderID,
				kind:      model.KindAppointmentReceived,
				title:     "New appointment request",
				message:   fmt.Sprintf("%s requested an appointment on %s.", a.RequesterID, when),
			})
		}
		return out
	case model.StatusApproved:
		return []draft{{
			recipient: a.RequesterID,
			kind:      model.KindAppointmentApproved,
			title:     "Appointment approved",
			message:   fmt.Sprintf("Your appointment with %s on %s was approved.", a.ProviderID, when),
		}}
	case model.StatusRejected:
		return []draft{{
			recipient: a.RequesterID,
			kind:      model.KindAppointmentRejected,
			title:     "Appointment rejected",
			message:   fmt.Sprintf("Your appointment with %s on %s was rejected. The slot is open for booking again.", a.ProviderID, when),
		}}
	}
	return nil
}

func describe(a model.Appointment) string {
	return a.Date.In(time.UTC).Format("Mon 2 Jan 2006") + " at " + a.Time.String()
}
