package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/libs/auth"
	"github.com/clinicore/scheduling/libs/httpx"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/availability"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/booking"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/locking"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/notifications"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/slots"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage/memory"
)

// Friday 2026-10-16; the Monday under test is 2026-10-19.
var now = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, string, time.Duration) (locking.Release, error) {
	return nil, locking.ErrNotAcquired
}

func newTestRouter(t *testing.T, locker locking.Locker) http.Handler {
	t.Helper()
	clock := func() time.Time { return now }
	reg := prometheus.NewRegistry()
	m := metrics.NewScheduling(reg)
	store := memory.New()

	emitter := notifications.NewEmitter(store, notifications.WithClock(clock), notifications.WithMetrics(m))
	lc := lifecycle.New(store, lifecycle.WithClock(clock), lifecycle.WithMetrics(m))
	lc.Subscribe(emitter)
	if locker == nil {
		locker = locking.NewLocal()
	}

	h := New(Services{
		Availability:  availability.NewService(store, availability.WithClock(clock), availability.WithMetrics(m)),
		Slots:         slots.NewResolver(store, slots.WithMetrics(m)),
		Booking:       booking.NewCoordinator(store, lc, locker, booking.Config{LockWait: 50 * time.Millisecond}, booking.WithClock(clock), booking.WithMetrics(m)),
		Lifecycle:     lc,
		Notifications: emitter,
	}, nil)
	return NewRouter(h, RouterConfig{
		Auth:      auth.Options{TrustGatewayHeaders: true},
		BodyLimit: 1 << 16,
		Gatherer:  reg,
	})
}

func do(t *testing.T, h http.Handler, method, path, userID, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.HeaderUserID, userID)
		req.Header.Set(auth.HeaderRole, role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[httpx.ErrorBody](t, rec).Error.Code
}

type slotsBody struct {
	Slots []struct {
		Date  string `json:"date"`
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"slots"`
}

type appointmentBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

const (
	provider  = "dr-lee"
	requester = "patient-1"
)

func publishMondayWednesday(t *testing.T, h http.Handler) {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/api/v1/availability", provider, auth.RoleProvider, map[string]any{
		"weekdays": []string{"Monday", "Wednesday"},
		"start":    "09:00",
		"end":      "12:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func mondaySlots(t *testing.T, h http.Handler) slotsBody {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/api/v1/providers/dr-lee/slots?from=2026-10-19&to=2026-10-20&duration_minutes=30", requester, auth.RoleRequester, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody[slotsBody](t, rec)
}

func TestBookingRoundTrip(t *testing.T) {
	h := newTestRouter(t, nil)
	publishMondayWednesday(t, h)

	rec := do(t, h, http.MethodGet, "/api/v1/providers/dr-lee/availability", requester, auth.RoleRequester, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"weekdays":["Mon","Wed"]`)

	before := mondaySlots(t, h)
	require.Len(t, before.Slots, 6)
	assert.Equal(t, "2026-10-19", before.Slots[0].Date)
	assert.Equal(t, "09:00", before.Slots[0].Start)
	assert.Equal(t, "09:30", before.Slots[0].End)

	rec = do(t, h, http.MethodPost, "/api/v1/appointments", requester, auth.RoleRequester, map[string]string{
		"provider_id": provider, "date": "2026-10-19", "time": "09:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decodeBody[appointmentBody](t, rec)
	assert.Equal(t, "pending", booked.Status)
	assert.Equal(t, "/api/v1/appointments/"+booked.ID, rec.Header().Get("Location"))
	assert.Len(t, mondaySlots(t, h).Slots, 5)

	rec = do(t, h, http.MethodPost, "/api/v1/appointments", "patient-2", auth.RoleRequester, map[string]string{
		"provider_id": provider, "date": "2026-10-19", "time": "09:00",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_taken", errorCode(t, rec))

	rec = do(t, h, http.MethodGet, "/api/v1/appointments?status=pending", provider, auth.RoleProvider, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[struct{ Appointments []appointmentBody }](t, rec)
	require.Len(t, pending.Appointments, 1)
	assert.Equal(t, booked.ID, pending.Appointments[0].ID)

	rec = do(t, h, http.MethodPut, "/api/v1/appointments/"+booked.ID+"/reject", requester, auth.RoleRequester, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/v1/appointments/"+booked.ID+"/reject", provider, auth.RoleProvider, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rejected", decodeBody[appointmentBody](t, rec).Status)

	rec = do(t, h, http.MethodPut, "/api/v1/appointments/"+booked.ID+"/approve", provider, auth.RoleProvider, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))

	assert.Len(t, mondaySlots(t, h).Slots, 6, "rejection frees the slot")

	rec = do(t, h, http.MethodGet, "/api/v1/appointments/"+booked.ID, requester, auth.RoleRequester, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/v1/appointments/"+booked.ID, "patient-2", auth.RoleRequester, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNotificationEndpoints(t *testing.T) {
	h := newTestRouter(t, nil)
	publishMondayWednesday(t, h)

	rec := do(t, h, http.MethodPost, "/api/v1/appointments", requester, auth.RoleRequester, map[string]string{
		"provider_id": provider, "date": "2026-10-21", "time": "10:30",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[appointmentBody](t, rec).ID
	rec = do(t, h, http.MethodPut, "/api/v1/appointments/"+id+"/approve", provider, auth.RoleProvider, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/v1/notifications/unread-count", requester, auth.RoleRequester, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"unread":2}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/notifications?filter=unread", requester, auth.RoleRequester, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Notifications []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Read  bool   `json:"read"`
		}
	}](t, rec)
	require.Len(t, list.Notifications, 2)
	latest := list.Notifications[0]
	assert.Equal(t, "Appointment approved", latest.Title)

	rec = do(t, h, http.MethodPut, "/api/v1/notifications/"+latest.ID+"/read", requester, auth.RoleRequester, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[struct {
		Read bool `json:"read"`
	}](t, rec).Read)

	rec = do(t, h, http.MethodPut, "/api/v1/notifications/"+latest.ID+"/read", provider, auth.RoleProvider, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "another recipient's notification is invisible")

	rec = do(t, h, http.MethodGet, "/api/v1/notifications/unread-count", requester, auth.RoleRequester, nil)
	assert.JSONEq(t, `{"unread":1}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/v1/notifications?filter=someday", requester, auth.RoleRequester, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorStatuses(t *testing.T) {
	h := newTestRouter(t, nil)
	publishMondayWednesday(t, h)

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		code   string
	}{
		{"reversed window", http.MethodPost, "/api/v1/availability", provider,
			map[string]any{"weekdays": []string{"Tue"}, "start": "12:00", "end": "09:00"}, http.StatusBadRequest, "invalid_range"},
		{"overlapping window", http.MethodPost, "/api/v1/availability", provider,
			map[string]any{"weekdays": "Monday", "start": "11:00", "end": "13:00"}, http.StatusConflict, "overlapping_window"},
		{"unknown window", http.MethodPut, "/api/v1/availability/missing", provider,
			map[string]any{"weekdays": []string{"Fri"}, "start": "09:00", "end": "10:00"}, http.StatusNotFound, "not_found"},
		{"malformed body", http.MethodPost, "/api/v1/appointments", requester,
			`{"provider_id":`, http.StatusBadRequest, "invalid_input"},
		{"unknown field", http.MethodPost, "/api/v1/appointments", requester,
			map[string]string{"provider_id": provider, "date": "2026-10-19", "time": "09:00", "note": "hi"}, http.StatusBadRequest, "invalid_input"},
		{"bad date", http.MethodPost, "/api/v1/appointments", requester,
			map[string]string{"provider_id": provider, "date": "19/10/2026", "time": "09:00"}, http.StatusBadRequest, "invalid_input"},
		{"past date", http.MethodPost, "/api/v1/appointments", requester,
			map[string]string{"provider_id": provider, "date": "2026-10-12", "time": "09:00"}, http.StatusUnprocessableEntity, "past_date"},
		{"outside availability", http.MethodPost, "/api/v1/appointments", requester,
			map[string]string{"provider_id": provider, "date": "2026-10-20", "time": "09:00"}, http.StatusUnprocessableEntity, "outside_availability"},
		{"reversed slot range", http.MethodGet, "/api/v1/providers/dr-lee/slots?from=2026-10-20&to=2026-10-19", requester,
			nil, http.StatusBadRequest, "invalid_range"},
		{"duration longer than a day", http.MethodGet, "/api/v1/providers/dr-lee/slots?from=2026-10-19&duration_minutes=153722867280912931", requester,
			nil, http.StatusBadRequest, "invalid_range"},
		{"missing from", http.MethodGet, "/api/v1/providers/dr-lee/slots", requester,
			nil, http.StatusBadRequest, "invalid_input"},
		{"bad limit", http.MethodGet, "/api/v1/appointments?limit=-1", requester,
			nil, http.StatusBadRequest, "invalid_input"},
		{"unknown role", http.MethodGet, "/api/v1/appointments?role=admin", requester,
			nil, http.StatusBadRequest, "invalid_input"},
		{"unknown appointment", http.MethodGet, "/api/v1/appointments/nope", requester,
			nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.user, "", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}
}

func TestWindowUntilMidnight(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/availability", provider, auth.RoleProvider, map[string]any{
		"weekdays": []string{"Mon"}, "start": "22:00", "end": "24:00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"end":"24:00"`)

	rec = do(t, h, http.MethodGet, "/api/v1/providers/dr-lee/slots?from=2026-10-19&duration_minutes=60", requester, auth.RoleRequester, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[slotsBody](t, rec)
	require.Len(t, got.Slots, 2)
	assert.Equal(t, "23:00", got.Slots[1].Start)
	assert.Equal(t, "24:00", got.Slots[1].End)
}

func TestBusyLockReturnsRetryAfter(t *testing.T) {
	h := newTestRouter(t, busyLocker{})
	publishMondayWednesday(t, h)

	rec := do(t, h, http.MethodPost, "/api/v1/appointments", requester, auth.RoleRequester, map[string]string{
		"provider_id": provider, "date": "2026-10-19", "time": "09:00",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "busy", errorCode(t, rec))
}

func TestAnonymousRequestsAreRejected(t *testing.T) {
	h := newTestRouter(t, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/notifications", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, rec))

	rec = do(t, h, http.MethodGet, "/healthz", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestRouter(t, nil)
	publishMondayWednesday(t, h)

	rec := do(t, h, http.MethodGet, "/metrics", "", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "clinicore_scheduling_"), "scheduling metrics are exported")
}

func TestStatusFor(t *testing.T) {
	cases := map[*apperr.Error]int{
		apperr.ErrInvalidRange:        http.StatusBadRequest,
		apperr.ErrInvalidInput:        http.StatusBadRequest,
		apperr.ErrPastDate:            http.StatusUnprocessableEntity,
		apperr.ErrOutsideAvailability: http.StatusUnprocessableEntity,
		apperr.ErrOverlappingWindow:   http.StatusConflict,
		apperr.ErrWindowInUse:         http.StatusConflict,
		apperr.ErrSlotTaken:           http.StatusConflict,
		apperr.ErrInvalidTransition:   http.StatusConflict,
		apperr.ErrUnauthorized:        http.StatusForbidden,
		apperr.ErrNotFound:            http.StatusNotFound,
		apperr.ErrBusy:                http.StatusServiceUnavailable,
		apperr.ErrInternal:            http.StatusInternalServerError,
	}
	for e, want := range cases {
		assert.Equal(t, want, statusFor(e), e.Code)
	}
}
