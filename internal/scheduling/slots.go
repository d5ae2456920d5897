// Package scheduling computes bookable start times for a single-resource clinic day.
//
// Everything here is pure: callers pass the date, the required duration and what is
// already booked, and get the same answer every time.
package scheduling

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/civil"
)

const (
	// MinimumDurationMinutes is the shortest appointment the clinic books.
	MinimumDurationMinutes = 30
	// FallbackDurationMinutes is assumed for existing bookings whose duration is unusable.
	FallbackDurationMinutes = 60
	// DefaultStepMinutes spaces candidate start times.
	DefaultStepMinutes = 30
)

// Hours are the clinic's daily business parameters.
type Hours struct {
	Open        TimeOfDay
	Close       TimeOfDay
	LunchStart  TimeOfDay
	LunchEnd    TimeOfDay
	StepMinutes int
	// ClosedDays lists weekdays with no bookable time at all.
	ClosedDays []time.Weekday
}

// DefaultHours is 09:00-18:00 with a 12:00-13:00 lunch blackout, every day.
func DefaultHours() Hours {
	return Hours{
		Open:        At(9, 0),
		Close:       At(18, 0),
		LunchStart:  At(12, 0),
		LunchEnd:    At(13, 0),
		StepMinutes: DefaultStepMinutes,
	}
}

// Validate rejects configurations the engine cannot reason about.
func (h Hours) Validate() error {
	var errs []error
	if h.Open < 0 || h.Close > At(24, 0) || h.Open >= h.Close {
		errs = append(errs, fmt.Errorf("scheduling: open %s must be before close %s", h.Open, h.Close))
	}
	if h.LunchStart > h.LunchEnd {
		errs = append(errs, fmt.Errorf("scheduling: lunch start %s after lunch end %s", h.LunchStart, h.LunchEnd))
	}
	if h.StepMinutes <= 0 {
		errs = append(errs, fmt.Errorf("scheduling: step must be positive, got %d", h.StepMinutes))
	}
	return errors.Join(errs...)
}

// Lunch is the daily blackout interval.
func (h Hours) Lunch() Interval {
	return Interval{Start: h.LunchStart, End: h.LunchEnd}
}

// IsClosed reports whether the clinic takes no bookings on date.
func (h Hours) IsClosed(date civil.Date) bool {
	return slices.Contains(h.ClosedDays, date.In(time.UTC).Weekday())
}

// Occupancy is an existing booking as the ledger reports it.
type Occupancy struct {
	Start TimeOfDay
	// DurationMinutes is zero or negative when the stored value was missing or unparsable.
	DurationMinutes int
}

// EffectiveDuration applies the conservative fallback for unusable durations.
func (o Occupancy) EffectiveDuration() int {
	if o.DurationMinutes <= 0 {
		return FallbackDurationMinutes
	}
	return o.DurationMinutes
}

// Interval is the span the booking blocks.
func (o Occupancy) Interval() Interval {
	return Span(o.Start, o.EffectiveDuration())
}

// RequiredDuration totals treatment durations. Nothing selected yields 0 so that an empty
// selection is never offered the whole day; anything shorter than the minimum is floored.
func RequiredDuration(durations ...int) int {
	if len(durations) == 0 {
		return 0
	}
	total := 0
	for _, d := range durations {
		total += d
	}
	if total <= 0 {
		return 0
	}
	return max(total, MinimumDurationMinutes)
}

// Exclusion explains why a start time cannot be booked.
type Exclusion int

const (
	Available Exclusion = iota
	NoDuration
	ClosedDay
	OutsideHours
	ClosingOverrun
	LunchOverlap
	BookingOverlap
)

func (e Exclusion) String() string {
	switch e {
	case Available:
		return "available"
	case NoDuration:
		return "no_duration"
	case ClosedDay:
		return "closed_day"
	case OutsideHours:
		return "outside_hours"
	case ClosingOverrun:
		return "closing_overrun"
	case LunchOverlap:
		return "lunch_overlap"
	case BookingOverlap:
		return "booking_overlap"
	default:
		return fmt.Sprintf("exclusion(%d)", int(e))
	}
}

// Check classifies a single start time. The first failing rule wins, in the order
// closing overrun, lunch overlap, booking overlap.
func (h Hours) Check(date civil.Date, start TimeOfDay, durationMinutes int, existing []Occupancy) Exclusion {
	if durationMinutes <= 0 {
		return NoDuration
	}
	if h.IsClosed(date) {
		return ClosedDay
	}
	if start < h.Open || start >= h.Close {
		return OutsideHours
	}
	want := Span(start, max(durationMinutes, MinimumDurationMinutes))
	if want.End > h.Close {
		return ClosingOverrun
	}
	if want.Overlaps(h.Lunch()) {
		return LunchOverlap
	}
	for _, occ := range existing {
		if want.Overlaps(occ.Interval()) {
			return BookingOverlap
		}
	}
	return Available
}

// Candidate is one enumerated start time and its verdict.
type Candidate struct {
	Start  TimeOfDay
	Reason Exclusion
}

// Candidates enumerates every step from open up to (not including) close with its verdict.
func (h Hours) Candidates(date civil.Date, requiredMinutes int, existing []Occupancy) []Candidate {
	if requiredMinutes <= 0 || h.StepMinutes <= 0 {
		return nil
	}
	var out []Candidate
	for s := h.Open; s < h.Close; s = s.Add(h.StepMinutes) {
		out = append(out, Candidate{Start: s, Reason: h.Check(date, s, requiredMinutes, existing)})
	}
	return out
}

// AvailableSlots returns the bookable start times for date in ascending order.
// No slots is a normal answer, not an error.
func (h Hours) AvailableSlots(date civil.Date, requiredMinutes int, existing []Occupancy) []TimeOfDay {
	var slots []TimeOfDay
	for _, c := range h.Candidates(date, requiredMinutes, existing) {
		if c.Reason == Available {
			slots = append(slots, c.Start)
		}
	}
	return slots
}
