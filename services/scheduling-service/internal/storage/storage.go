// Package storage defines the persistence contracts of the scheduling core.
// Implementations translate their native failures into apperr kinds:
// missing rows become apperr.ErrNotFound, a second active appointment on a
// slot becomes apperr.ErrSlotTaken, anything else apperr.Internal.
package storage

import (
	"context"
	"time"

	"cloud.google.com/go/civil"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
)

type AppointmentFilter struct {
	ProviderID  string
	RequesterID string
	Status      model.Status // empty matches every status
	Limit       int
}

// Reader serves lock-free snapshot reads.
type Reader interface {
	ListWindows(ctx context.Context, providerID string) ([]model.Window, error)
	// ListActiveAppointments returns pending and approved appointments of a
	// provider with from <= date < to.
	ListActiveAppointments(ctx context.Context, providerID string, from, to civil.Date) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	// ListAppointments orders by date and time, most recent first.
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]model.Appointment, error)
	// ListNotifications orders by creation time, most recent first.
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]model.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

// OutboxEvent is a domain event persisted in the same transaction as the
// state change that produced it.
type OutboxEvent struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Tx is a unit of work. Nothing it writes is visible to others until the
// enclosing Store.InTx callback returns nil.
type Tx interface {
	// LockProvider serializes availability edits (exclusive) against
	// bookings (shared) of one provider until the transaction ends.
	LockProvider(ctx context.Context, providerID string, exclusive bool) error

	ListWindows(ctx context.Context, providerID string) ([]model.Window, error)
	InsertWindow(ctx context.Context, w model.Window) error
	UpdateWindow(ctx context.Context, w model.Window) error

	// ActiveAppointmentsForProvider lists every pending or approved
	// appointment of the provider regardless of date.
	ActiveAppointmentsForProvider(ctx context.Context, providerID string) ([]model.Appointment, error)
	FindActiveAppointment(ctx context.Context, key model.SlotKey) (model.Appointment, bool, error)
	InsertAppointment(ctx context.Context, a model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id string, status model.Status, decidedAt time.Time) error

	InsertNotification(ctx context.Context, n model.Notification) error
	// MarkNotificationRead sets read_at when unset and returns the row as
	// stored afterwards.
	MarkNotificationRead(ctx context.Context, recipientID, id string, at time.Time) (model.Notification, error)

	AppendEvent(ctx context.Context, evt OutboxEvent) error
}

type Store interface {
	Reader
	// InTx commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
