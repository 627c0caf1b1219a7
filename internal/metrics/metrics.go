package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "carinspect"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by result.",
		},
		[]string{"result"},
	)

	slotConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflicts_total",
			Help:      "Reservations rejected because the slot was already held.",
		},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Inspection status transitions by target status.",
		},
		[]string{"to"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by status.",
		},
		[]string{"status"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookings, slotConflicts, transitions, notifications)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncBooking records a booking attempt; result is "success" or an error class.
func IncBooking(result string) {
	bookings.WithLabelValues(result).Inc()
}

func IncSlotConflict() {
	slotConflicts.Inc()
}

func IncTransition(to string) {
	transitions.WithLabelValues(to).Inc()
}

func IncNotification(status string) {
	notifications.WithLabelValues(status).Inc()
}
