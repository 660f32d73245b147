// Package handlers exposes the scheduling operations over HTTP/JSON.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/libs/auth"
	"github.com/clinicore/scheduling/libs/httpx"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/availability"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/booking"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/notifications"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/slots"
)

type Services struct {
	Availability  *availability.Service
	Slots         *slots.Resolver
	Booking       *booking.Coordinator
	Lifecycle     *lifecycle.Lifecycle
	Notifications *notifications.Emitter
}

type Handler struct {
	svc    Services
	logger *zap.Logger
}

func New(svc Services, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the API routes. Every route expects an auth.Actor in the
// request context.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/availability", h.CreateWindow)
	r.Put("/availability/{windowID}", h.ReplaceWindow)

	r.Route("/providers/{providerID}", func(r chi.Router) {
		r.Get("/availability", h.ListAvailability)
		r.Get("/slots", h.ListSlots)
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.Book)
		r.Get("/", h.ListAppointments)
		r.Get("/{appointmentID}", h.GetAppointment)
		r.Put("/{appointmentID}/approve", h.Approve)
		r.Put("/{appointmentID}/reject", h.Reject)
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotifications)
		r.Get("/unread-count", h.UnreadCount)
		r.Put("/{notificationID}/read", h.MarkRead)
	})
	return r
}

func actor(r *http.Request) (auth.Actor, error) {
	a, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return auth.Actor{}, apperr.Wrap(apperr.ErrUnauthorized, "no authenticated actor")
	}
	return a, nil
}

func decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Wrap(apperr.ErrInvalidInput, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return apperr.Wrap(apperr.ErrInvalidInput, "malformed body: %v", err)
	}
	return nil
}

// fail writes err as a JSON error. Expected refusals are logged at info,
// internal failures at error with their cause.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := apperr.As(err)
	status := statusFor(e)
	fields := []zap.Field{
		zap.String("request_id", httpx.RequestIDFromContext(r.Context())),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("code", e.Code),
	}
	if e.Kind == apperr.KindInternal {
		h.logger.Error("request failed", append(fields, zap.Error(err))...)
	} else {
		h.logger.Info("request refused", append(fields, zap.String("reason", err.Error()))...)
	}
	if e.Kind == apperr.KindBusy {
		w.Header().Set("Retry-After", "1")
	}
	httpx.WriteError(w, status, e.Code, apperr.Public(err))
}

func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindValidation:
		if e == apperr.ErrPastDate || e == apperr.ErrOutsideAvailability {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case apperr.KindConflict, apperr.KindInvalidTransition:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Wrap(apperr.ErrInvalidInput, "%s must be a non-negative integer", name)
	}
	return n, nil
}
