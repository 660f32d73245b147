package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// TimeOfDay is a wall-clock time with minute precision, stored as minutes
// since midnight.
type TimeOfDay int

const MinutesPerDay = 24 * 60

// EndOfDay is midnight at the end of the day, "24:00". It can only close a
// range; no slot starts there.
const EndOfDay TimeOfDay = MinutesPerDay

// At builds a TimeOfDay and panics on out-of-range input. At(24, 0) is
// EndOfDay. Use ParseTimeOfDay for untrusted values.
func At(hour, minute int) TimeOfDay {
	t := TimeOfDay(hour*60 + minute)
	if hour < 0 || minute < 0 || minute > 59 || t > EndOfDay {
		panic(fmt.Sprintf("model: invalid time of day %02d:%02d", hour, minute))
	}
	return t
}

// ParseTimeOfDay accepts "HH:MM" and "HH:MM:SS" with zero seconds, plus
// "24:00" for EndOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, fmt.Errorf("invalid time of day %q: seconds are not supported", s)
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || len(parts[1]) != 2 || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	if h == 24 && m == 0 {
		return EndOfDay, nil
	}
	if h > 23 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// Valid reports whether t can start something: 00:00 through 23:59.
func (t TimeOfDay) Valid() bool { return t >= 0 && t < MinutesPerDay }

// ValidEnd reports whether t can close a range: 00:01 through 24:00.
func (t TimeOfDay) ValidEnd() bool { return t > 0 && t <= EndOfDay }

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places t on date d in loc.
func (t TimeOfDay) On(d civil.Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), 0, 0, loc)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	if t < 0 || t > EndOfDay {
		return nil, fmt.Errorf("invalid time of day %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// WeekdayOf returns the day of week of a calendar date.
func WeekdayOf(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}
