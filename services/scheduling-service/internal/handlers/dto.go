package handlers

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/slots"
)

type windowRequest struct {
	Weekdays model.WeekdaySet `json:"weekdays"`
	Start    string           `json:"start"`
	End      string           `json:"end"`
}

type windowResponse struct {
	ID         string           `json:"id"`
	ProviderID string           `json:"provider_id"`
	Weekdays   model.WeekdaySet `json:"weekdays"`
	Start      model.TimeOfDay  `json:"start"`
	End        model.TimeOfDay  `json:"end"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func toWindow(w model.Window) windowResponse {
	return windowResponse{
		ID:         w.ID,
		ProviderID: w.ProviderID,
		Weekdays:   w.Weekdays,
		Start:      w.Start,
		End:        w.End,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
}

type windowList struct {
	ProviderID string           `json:"provider_id"`
	Windows    []windowResponse `json:"windows"`
}

type slotList struct {
	ProviderID      string       `json:"provider_id"`
	From            civil.Date   `json:"from"`
	To              civil.Date   `json:"to"`
	DurationMinutes int          `json:"duration_minutes"`
	Slots           []slots.Slot `json:"slots"`
}

type bookRequest struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

type appointmentResponse struct {
	ID          string          `json:"id"`
	ProviderID  string          `json:"provider_id"`
	RequesterID string          `json:"requester_id"`
	Date        civil.Date      `json:"date"`
	Time        model.TimeOfDay `json:"time"`
	Status      model.Status    `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
}

func toAppointment(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:          a.ID,
		ProviderID:  a.ProviderID,
		RequesterID: a.RequesterID,
		Date:        a.Date,
		Time:        a.Time,
		Status:      a.Status,
		CreatedAt:   a.CreatedAt,
		DecidedAt:   a.DecidedAt,
	}
}

type appointmentList struct {
	Appointments []appointmentResponse `json:"appointments"`
}

type notificationResponse struct {
	ID            string                 `json:"id"`
	AppointmentID string                 `json:"appointment_id,omitempty"`
	Kind          model.NotificationKind `json:"kind"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	Read          bool                   `json:"read"`
	CreatedAt     time.Time              `json:"created_at"`
	ReadAt        *time.Time             `json:"read_at,omitempty"`
}

func toNotification(n model.Notification) notificationResponse {
	return notificationResponse{
		ID:            n.ID,
		AppointmentID: n.AppointmentID,
		Kind:          n.Kind,
		Title:         n.Title,
		Message:       n.Message,
		Read:          !n.Unread(),
		CreatedAt:     n.CreatedAt,
		ReadAt:        n.ReadAt,
	}
}

type notificationList struct {
	Notifications []notificationResponse `json:"notifications"`
}

type unreadCount struct {
	Unread int `json:"unread"`
}
