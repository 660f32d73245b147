// Package outbox carries appointment transitions to Kafka. The Recorder
// writes events in the transition's transaction; the Publisher ships them.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

const AggregateAppointment = "appointment"

// Event types double as Kafka topics.
const (
	EventAppointmentRequested = "scheduling.appointment.requested.v1"
	EventAppointmentApproved  = "scheduling.appointment.approved.v1"
	EventAppointmentRejected  = "scheduling.appointment.rejected.v1"
)

type AppointmentEvent struct {
	AppointmentID  string    `json:"appointment_id"`
	ProviderID     string    `json:"provider_id"`
	RequesterID    string    `json:"requester_id"`
	Date           string    `json:"date"`
	Time           string    `json:"time"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	ActorID        string    `json:"actor_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}

type Recorder struct{}

var _ lifecycle.Observer = Recorder{}

func (Recorder) OnTransition(ctx context.Context, tx storage.Tx, t lifecycle.Transition) error {
	eventType, ok := eventTypeFor(t.To)
	if !ok {
		return nil
	}
	a := t.Appointment
	payload, err := json.Marshal(AppointmentEvent{
		AppointmentID:  a.ID,
		ProviderID:     a.ProviderID,
		RequesterID:    a.RequesterID,
		Date:           a.Date.String(),
		Time:           a.Time.String(),
		Status:         string(t.To),
		PreviousStatus: string(t.From),
		ActorID:        t.ActorID,
		OccurredAt:     t.At.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return tx.AppendEvent(ctx, storage.OutboxEvent{
		AggregateType: AggregateAppointment,
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func eventTypeFor(s model.Status) (string, bool) {
	switch s {
	case model.StatusPending:
		return EventAppointmentRequested, true
	case model.StatusApproved:
		return EventAppointmentApproved, true
	case model.StatusRejected:
		return EventAppointmentRejected, true
	}
	return "", false
}
