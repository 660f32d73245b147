package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Scheduling exposes counters and histograms for the booking core. A nil
// *Scheduling is a valid no-op.
type Scheduling struct {
	bookingsTotal      *prometheus.CounterVec
	lockWait           prometheus.Histogram
	transitionsTotal   *prometheus.CounterVec
	resolveLatency     prometheus.Histogram
	slotsReturned      prometheus.Histogram
	availabilityTotal  *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	outboxTotal        *prometheus.CounterVec
}

func NewScheduling(reg prometheus.Registerer) *Scheduling {
	m := &Scheduling{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "slot_lock_wait_seconds",
			Help:      "Time spent waiting for the per-slot booking lock",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "appointment_transitions_total",
			Help:      "Committed appointment status transitions",
		}, []string{"from", "to"}),
		resolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "slot_resolve_seconds",
			Help:      "Latency of open slot resolution",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "slots_returned",
			Help:      "Number of open slots returned per resolution",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		availabilityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "availability_changes_total",
			Help:      "Availability window writes by outcome",
		}, []string{"op", "outcome"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "notifications_created_total",
			Help:      "Notifications appended by kind",
		}, []string{"kind"}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicore",
			Subsystem: "scheduling",
			Name:      "outbox_events_total",
			Help:      "Outbox events handled by the publisher",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.lockWait,
		m.transitionsTotal,
		m.resolveLatency,
		m.slotsReturned,
		m.availabilityTotal,
		m.notificationsTotal,
		m.outboxTotal,
	)
	return m
}

func (m *Scheduling) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
}

func (m *Scheduling) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

// ObserveTransition counts a committed transition; from is "none" for creation.
func (m *Scheduling) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Scheduling) ObserveResolve(d time.Duration, slots int) {
	if m == nil {
		return
	}
	m.resolveLatency.Observe(d.Seconds())
	m.slotsReturned.Observe(float64(slots))
}

func (m *Scheduling) ObserveAvailability(op, outcome string) {
	if m == nil {
		return
	}
	m.availabilityTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Scheduling) ObserveNotification(kind string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(kind).Inc()
}

func (m *Scheduling) ObserveOutbox(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.outboxTotal.WithLabelValues(status).Add(float64(n))
}
