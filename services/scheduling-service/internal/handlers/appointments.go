package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clinicore/scheduling/libs/auth"
	"github.com/clinicore/scheduling/libs/httpx"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/booking"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
)

// Book reserves a slot for the calling requester.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req bookRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	at, err := model.ParseTimeOfDay(req.Time)
	if err != nil {
		h.fail(w, r, apperr.Wrap(apperr.ErrInvalidInput, "time: %v", err))
		return
	}

	appt, err := h.svc.Booking.Book(r.Context(), booking.Request{
		RequesterID: a.ID,
		ProviderID:  req.ProviderID,
		Date:        date,
		Time:        at,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/appointments/"+appt.ID)
	httpx.WriteJSON(w, http.StatusCreated, toAppointment(appt))
}

// ListAppointments lists the caller's appointments. role picks the side the
// caller is on and defaults to the role of the credentials.
func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()

	role := lifecycle.Role(strings.ToLower(strings.TrimSpace(q.Get("role"))))
	if role == "" {
		role = lifecycle.RoleRequester
		if a.Role == auth.RoleProvider {
			role = lifecycle.RoleProvider
		}
	}
	var status model.Status
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		if status, err = model.ParseStatus(strings.ToLower(raw)); err != nil {
			h.fail(w, r, apperr.Wrap(apperr.ErrInvalidInput, "%v", err))
			return
		}
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	list, err := h.svc.Lifecycle.List(r.Context(), a.ID, role, status, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := appointmentList{Appointments: make([]appointmentResponse, 0, len(list))}
	for _, appt := range list {
		out.Appointments = append(out.Appointments, toAppointment(appt))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := h.svc.Lifecycle.Get(r.Context(), a.ID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointment(appt))
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Lifecycle.Approve)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.svc.Lifecycle.Reject)
}

type decision func(ctx context.Context, actorID, appointmentID string) (model.Appointment, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, fn decision) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	appt, err := fn(r.Context(), a.ID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointment(appt))
}
