package appointments

import (
	"testing"

	"github.com/wolfman30/medspa-booking/internal/catalog"
)

func TestStatusTransitions(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusConfirmed}:   true,
		{StatusPending, StatusCancelled}:   true,
		{StatusConfirmed, StatusCompleted}: true,
		{StatusConfirmed, StatusCancelled}: true,
	}
	all := []Status{StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s: got %v want %v", from, to, got, want)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus(" Cancelled "); err != nil || st != StatusCancelled {
		t.Fatalf("ParseStatus = %q, %v", st, err)
	}
	if _, err := ParseStatus("rescheduled"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}

func TestTitle(t *testing.T) {
	cases := []struct {
		treatments []catalog.Treatment
		want       string
	}{
		{nil, ""},
		{[]catalog.Treatment{botox}, "Botox"},
		{[]catalog.Treatment{botox, filler}, "Botox + 1 other"},
		{[]catalog.Treatment{facial, botox, filler}, "HydraFacial + 2 others"},
	}
	for _, tc := range cases {
		if got := Title(tc.treatments); got != tc.want {
			t.Errorf("Title(%d treatments) = %q, want %q", len(tc.treatments), got, tc.want)
		}
	}
}

func TestAppointmentOccupancyFallsBackForBadDuration(t *testing.T) {
	a := Appointment{Start: 600, DurationMinutes: -10}
	if got := a.Interval().Minutes(); got != 60 {
		t.Fatalf("expected 60 minute fallback, got %d", got)
	}
}
