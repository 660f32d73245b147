package handlers

import (
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"

	"github.com/clinicore/scheduling/libs/httpx"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/availability"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/slots"
)

const defaultSlotMinutes = 30

// CreateWindow adds a window to the calling provider's schedule.
func (h *Handler) CreateWindow(w http.ResponseWriter, r *http.Request) {
	h.setWindow(w, r, "", http.StatusCreated)
}

// ReplaceWindow swaps one of the calling provider's windows for a new range.
func (h *Handler) ReplaceWindow(w http.ResponseWriter, r *http.Request) {
	h.setWindow(w, r, chi.URLParam(r, "windowID"), http.StatusOK)
}

func (h *Handler) setWindow(w http.ResponseWriter, r *http.Request, windowID string, status int) {
	a, err := actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req windowRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in, err := req.input(windowID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	win, err := h.svc.Availability.SetAvailability(r.Context(), a.ID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, status, toWindow(win))
}

func (req windowRequest) input(windowID string) (availability.Input, error) {
	start, err := model.ParseTimeOfDay(req.Start)
	if err != nil {
		return availability.Input{}, apperr.Wrap(apperr.ErrInvalidRange, "start: %v", err)
	}
	end, err := model.ParseTimeOfDay(req.End)
	if err != nil {
		return availability.Input{}, apperr.Wrap(apperr.ErrInvalidRange, "end: %v", err)
	}
	return availability.Input{WindowID: windowID, Weekdays: req.Weekdays, Start: start, End: end}, nil
}

func (h *Handler) ListAvailability(w http.ResponseWriter, r *http.Request) {
	if _, err := actor(r); err != nil {
		h.fail(w, r, err)
		return
	}
	providerID := chi.URLParam(r, "providerID")
	windows, err := h.svc.Availability.ListAvailability(r.Context(), providerID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := windowList{ProviderID: providerID, Windows: make([]windowResponse, 0, len(windows))}
	for _, win := range windows {
		out.Windows = append(out.Windows, toWindow(win))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// ListSlots serves GET /providers/{providerID}/slots?from=&to=&duration_minutes=.
// to defaults to the day after from.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	if _, err := actor(r); err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to := from.AddDays(1)
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if to, err = parseDate("to", raw); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	minutes, err := queryInt(r, "duration_minutes", defaultSlotMinutes)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if minutes > model.MinutesPerDay {
		h.fail(w, r, apperr.Wrap(apperr.ErrInvalidRange, "duration_minutes cannot exceed %d", model.MinutesPerDay))
		return
	}

	providerID := chi.URLParam(r, "providerID")
	list, err := h.svc.Slots.Resolve(r.Context(), slots.Query{
		ProviderID: providerID,
		From:       from,
		To:         to,
		Duration:   time.Duration(minutes) * time.Minute,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, slotList{
		ProviderID:      providerID,
		From:            from,
		To:              to,
		DurationMinutes: minutes,
		Slots:           list,
	})
}

func parseDate(name, raw string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(raw))
	if err != nil {
		return civil.Date{}, apperr.Wrap(apperr.ErrInvalidInput, "%s must be a YYYY-MM-DD date", name)
	}
	return d, nil
}
