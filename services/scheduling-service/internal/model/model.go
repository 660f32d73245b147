package model

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("unknown appointment status %q", s)
}

// Active reports whether the appointment holds its slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Window is a recurring weekly time range [Start, End) of one provider.
type Window struct {
	ID         string
	ProviderID string
	Weekdays   WeekdaySet
	Start      TimeOfDay
	End        TimeOfDay
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (w Window) Covers(day time.Weekday, t TimeOfDay) bool {
	return w.Weekdays.Contains(day) && w.Start <= t && t < w.End
}

func (w Window) Overlaps(o Window) bool {
	return w.Weekdays.Intersects(o.Weekdays) && w.Start < o.End && o.Start < w.End
}

// CoveredBy reports whether some window covers time t on date d.
func CoveredBy(windows []Window, d civil.Date, t TimeOfDay) bool {
	day := WeekdayOf(d)
	for _, w := range windows {
		if w.Covers(day, t) {
			return true
		}
	}
	return false
}

// SlotKey identifies a bookable instant of a provider.
type SlotKey struct {
	ProviderID string
	Date       civil.Date
	Time       TimeOfDay
}

func (k SlotKey) String() string {
	return k.ProviderID + "/" + k.Date.String() + "/" + k.Time.String()
}

type Appointment struct {
	ID          string
	ProviderID  string
	RequesterID string
	Date        civil.Date
	Time        TimeOfDay
	Status      Status
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

func (a Appointment) Key() SlotKey {
	return SlotKey{ProviderID: a.ProviderID, Date: a.Date, Time: a.Time}
}

type NotificationKind string

const (
	KindAppointmentRequested NotificationKind = "appointment_requested"
	KindAppointmentReceived  NotificationKind = "appointment_received"
	KindAppointmentApproved  NotificationKind = "appointment_approved"
	KindAppointmentRejected  NotificationKind = "appointment_rejected"
)

type Notification struct {
	ID            string
	RecipientID   string
	AppointmentID string
	Kind          NotificationKind
	Title         string
	Message       string
	CreatedAt     time.Time
	ReadAt        *time.Time
}

func (n Notification) Unread() bool { return n.ReadAt == nil }
