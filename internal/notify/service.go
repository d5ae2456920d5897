package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/medspa-booking/internal/appointments"
	"github.com/wolfman30/medspa-booking/pkg/logging"
)

// Kind is what happened to the appointment.
type Kind string

const (
	KindBooked  Kind = "booked"
	KindUpdated Kind = "updated"
)

// Recipient is one address a notification goes to.
type Recipient struct {
	Email string
	Name  string
}

// Event is a single notification request.
type Event struct {
	Kind        Kind
	Appointment appointments.Appointment
	Recipients  []Recipient
}

// Config carries the clinic details rendered into messages.
type Config struct {
	ClinicName string
	Location   *time.Location
}

// Service renders appointment notifications and hands them to an EmailSender.
type Service struct {
	email      EmailSender
	clinicName string
	location   *time.Location
	logger     *logging.Logger
}

// NewService creates a notification service.
func NewService(email EmailSender, cfg Config, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ClinicName == "" {
		cfg.ClinicName = "the clinic"
	}
	return &Service{
		email:      email,
		clinicName: cfg.ClinicName,
		location:   cfg.Location,
		logger:     logger,
	}
}

// Notify sends evt to every recipient. Each failed send is collected; the caller decides
// whether to log them, since a notification never changes the booking outcome.
func (s *Service) Notify(ctx context.Context, evt Event) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping notifications")
		return nil
	}
	if len(evt.Recipients) == 0 {
		return nil
	}

	subject, body, htmlBody, err := s.render(evt)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range evt.Recipients {
		if strings.TrimSpace(r.Email) == "" {
			continue
		}
		msg := EmailMessage{To: r.Email, ToName: r.Name, Subject: subject, Body: body, HTML: htmlBody}
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email", "error", err, "to", r.Email, "appointment_id", evt.Appointment.ID)
			errs = append(errs, fmt.Errorf("notify %s: %w", r.Email, err))
			continue
		}
		s.logger.Info("notify: appointment email sent", "to", r.Email, "kind", evt.Kind, "appointment_id", evt.Appointment.ID)
	}
	return errors.Join(errs...)
}

func (s *Service) render(evt Event) (subject, body, htmlBody string, err error) {
	a := evt.Appointment
	when := a.Start.On(a.Date, s.location).Format("Monday, January 2 at 3:04 PM")
	title := a.Title
	if title == "" {
		title = "Appointment"
	}
	name := a.ClientName
	if name == "" {
		name = "A client"
	}

	switch evt.Kind {
	case KindBooked:
		subject = fmt.Sprintf("Appointment confirmed: %s on %s", title, when)
		body = fmt.Sprintf(`%s is booked for %s.

When: %s
Duration: %d minutes
Total: %s
Paid: %s via %s (ref %s)
Appointment ID: %s

%s`, name, title, when, a.Occupancy().EffectiveDuration(), formatCents(a.TotalPriceCents),
			formatCents(a.Payment.AmountCents), a.Payment.Method, a.Payment.ExternalID, a.ID, s.clinicName)
		htmlBody = fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #10b981;">Appointment confirmed</h2>
<p><strong>%s</strong> is booked for <strong>%s</strong>.</p>
<table style="border-collapse: collapse; margin: 20px 0;">
  %s%s%s%s%s
</table>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">%s</p>
</div>`,
			html.EscapeString(name), html.EscapeString(title),
			row("When", when),
			row("Duration", fmt.Sprintf("%d minutes", a.Occupancy().EffectiveDuration())),
			row("Total", formatCents(a.TotalPriceCents)),
			row("Paid", fmt.Sprintf("%s via %s", formatCents(a.Payment.AmountCents), a.Payment.Method)),
			row("Appointment ID", a.ID),
			html.EscapeString(s.clinicName))
	case KindUpdated:
		subject = fmt.Sprintf("Appointment %s: %s on %s", a.Status, title, when)
		body = fmt.Sprintf(`The appointment for %s (%s, %s) is now %s.%s
Appointment ID: %s

%s`, name, title, when, a.Status, notesLine(a.Notes), a.ID, s.clinicName)
		htmlBody = fmt.Sprintf(`<div style="font-family: sans-serif; max-width: 600px;">
<h2>Appointment %s</h2>
<table style="border-collapse: collapse; margin: 20px 0;">
  %s%s%s%s%s
</table>
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">%s</p>
</div>`,
			html.EscapeString(string(a.Status)),
			row("Client", name), row("Treatment", title), row("When", when),
			row("Notes", a.Notes), row("Appointment ID", a.ID),
			html.EscapeString(s.clinicName))
	default:
		return "", "", "", fmt.Errorf("notify: unknown event kind %q", evt.Kind)
	}
	return subject, body, htmlBody, nil
}

func row(label, value string) string {
	if value == "" {
		return ""
	}
	return fmt.Sprintf(`<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
		html.EscapeString(label), html.EscapeString(value))
}

func notesLine(notes string) string {
	if notes == "" {
		return ""
	}
	return "\nNotes: " + notes
}

func formatCents(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
