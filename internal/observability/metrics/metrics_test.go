package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBookingMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBookingMetrics(reg)
	m.ObserveBooking("confirmed", 0.02)
	m.ObserveBooking("confirmed", 0.03)
	m.ObserveBooking("conflict", 0.01)
	m.ObserveAvailability(true)
	m.ObservePaymentWebhook("stripe", "completed")
	m.ObserveOutbox("appointments.booked.v1", "delivered")
	m.ObserveNotification("booked", "sent")

	if got := testutil.ToFloat64(m.bookingsTotal.WithLabelValues("confirmed")); got != 2 {
		t.Fatalf("expected 2 confirmed bookings, got %v", got)
	}
	if got := testutil.ToFloat64(m.availability.WithLabelValues("hit")); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}
}

func TestBookingMetricsNilSafe(t *testing.T) {
	var m *BookingMetrics
	m.ObserveBooking("confirmed", 0.1)
	m.ObserveAvailability(false)
	m.ObservePaymentWebhook("square", "failed")
	m.ObserveOutbox("x", "failed")
	m.ObserveNotification("updated", "failed")
}
