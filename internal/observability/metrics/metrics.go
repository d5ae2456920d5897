package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for booking flows. A nil *BookingMetrics is a no-op.
type BookingMetrics struct {
	bookingsTotal   *prometheus.CounterVec
	bookingLatency  *prometheus.HistogramVec
	availability    *prometheus.CounterVec
	paymentWebhooks *prometheus.CounterVec
	outboxTotal     *prometheus.CounterVec
	notifyTotal     *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"outcome"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "latency_seconds",
			Help:      "Latency of the booking transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		availability: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "booking",
			Name:      "availability_lookups_total",
			Help:      "Availability lookups by cache result",
		}, []string{"cache"}),
		paymentWebhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "payments",
			Name:      "webhook_total",
			Help:      "Payment provider webhooks by provider and result",
		}, []string{"provider", "status"}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "events",
			Name:      "outbox_total",
			Help:      "Outbox deliveries by event type and result",
		}, []string{"event_type", "status"}),
		notifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medspa",
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Notifications by kind and result",
		}, []string{"kind", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bookingLatency, m.availability, m.paymentWebhooks, m.outboxTotal, m.notifyTotal)
	return m
}

func (m *BookingMetrics) ObserveBooking(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(outcome).Inc()
	m.bookingLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *BookingMetrics) ObserveAvailability(cacheHit bool) {
	if m == nil {
		return
	}
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	m.availability.WithLabelValues(label).Inc()
}

func (m *BookingMetrics) ObservePaymentWebhook(provider, status string) {
	if m == nil {
		return
	}
	m.paymentWebhooks.WithLabelValues(provider, status).Inc()
}

func (m *BookingMetrics) ObserveOutbox(eventType, status string) {
	if m == nil {
		return
	}
	m.outboxTotal.WithLabelValues(eventType, status).Inc()
}

func (m *BookingMetrics) ObserveNotification(kind, status string) {
	if m == nil {
		return
	}
	m.notifyTotal.WithLabelValues(kind, status).Inc()
}
