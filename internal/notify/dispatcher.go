package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/wolfman30/medspa-booking/internal/appointments"
	"github.com/wolfman30/medspa-booking/internal/observability/metrics"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

const defaultDispatchTimeout = 30 * time.Second

type notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Dispatcher delivers notifications in the background. Dispatch never blocks the caller
// and never reports failure back to it; failures are logged and counted.
type Dispatcher struct {
	notifier notifier
	staff    []Recipient
	timeout  time.Duration
	metrics  *metrics.BookingMetrics
	logger   *logging.Logger
	wg       sync.WaitGroup
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	// StaffEmails receive every booked and updated notification.
	StaffEmails []string
	Timeout     time.Duration
	Metrics     *metrics.BookingMetrics
	Logger      *logging.Logger
}

func NewDispatcher(n notifier, cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultDispatchTimeout
	}
	d := &Dispatcher{
		notifier: n,
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	for _, email := range cfg.StaffEmails {
		if email = strings.TrimSpace(email); email != "" {
			d.staff = append(d.staff, Recipient{Email: email, Name: "Clinic staff"})
		}
	}
	return d
}

// Dispatch sends evt on its own goroutine with a fresh timeout.
func (d *Dispatcher) Dispatch(evt Event) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("notify: dispatch panicked", "panic", r, "appointment_id", evt.Appointment.ID)
				d.metrics.ObserveNotification(string(evt.Kind), "panic")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, evt); err != nil {
			d.logger.Warn("notify: notification failed", "error", err, "kind", evt.Kind, "appointment_id", evt.Appointment.ID)
			d.metrics.ObserveNotification(string(evt.Kind), "failed")
			return
		}
		d.metrics.ObserveNotification(string(evt.Kind), "sent")
	}()
}

// Wait blocks until every dispatched notification has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// AppointmentBooked notifies the client and staff about a new booking.
func (d *Dispatcher) AppointmentBooked(appt appointments.Appointment) {
	d.Dispatch(Event{Kind: KindBooked, Appointment: appt, Recipients: d.recipients(appt)})
}

// AppointmentUpdated notifies the client and staff about a status change.
func (d *Dispatcher) AppointmentUpdated(appt appointments.Appointment) {
	d.Dispatch(Event{Kind: KindUpdated, Appointment: appt, Recipients: d.recipients(appt)})
}

func (d *Dispatcher) recipients(appt appointments.Appointment) []Recipient {
	if d == nil {
		return nil
	}
	var out []Recipient
	if appt.ClientEmail != "" {
		out = append(out, Recipient{Email: appt.ClientEmail, Name: appt.ClientName})
	}
	return append(out, d.staff...)
}

var _ appointments.Notifier = (*Dispatcher)(nil)
