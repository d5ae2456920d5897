package scheduling

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TimeOfDay is a wall-clock time in the clinic's zone, counted in minutes after midnight.
type TimeOfDay int

// At builds a TimeOfDay from hour and minute.
func At(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "15:04" (seconds are accepted and truncated).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return At(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("scheduling: invalid time of day %q", s)
}

// TimeOfDayOf converts a civil time, dropping seconds.
func TimeOfDayOf(t civil.Time) TimeOfDay {
	return At(t.Hour, t.Minute)
}

// Civil converts back to a civil time.
func (t TimeOfDay) Civil() civil.Time {
	return civil.Time{Hour: int(t) / 60, Minute: int(t) % 60}
}

// Add returns t shifted by the given number of minutes.
func (t TimeOfDay) Add(minutes int) TimeOfDay {
	return t + TimeOfDay(minutes)
}

// On anchors t to a calendar date in loc.
func (t TimeOfDay) On(date civil.Date, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year, date.Month, date.Day, int(t)/60, int(t)%60, 0, 0, loc)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(data []byte) error {
	parsed, err := ParseTimeOfDay(string(data))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Interval is a half-open span [Start, End).
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Span returns the interval occupied by something starting at start and lasting minutes.
func Span(start TimeOfDay, minutes int) Interval {
	return Interval{Start: start, End: start.Add(minutes)}
}

// Overlaps reports whether two half-open intervals share any minute. Touching ends do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Minutes is the interval length.
func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}
