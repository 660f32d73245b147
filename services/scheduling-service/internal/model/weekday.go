package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WeekdaySet is the one representation of "which days of the week" used across
// the service: a bitmask indexed by time.Weekday. Iteration order is Mon..Sun.
type WeekdaySet uint8

const AllWeekdays WeekdaySet = 1<<7 - 1

var weekOrder = [7]time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday,
}

var weekdayNames = map[string]time.Weekday{}

func init() {
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		weekdayNames[full] = d
		weekdayNames[full[:3]] = d
	}
	weekdayNames["tues"] = time.Tuesday
	weekdayNames["thur"] = time.Thursday
	weekdayNames["thurs"] = time.Thursday
}

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s & AllWeekdays
}

// ParseWeekdays reads day names, case-insensitively, in full or abbreviated
// form. Each value may itself be a comma-joined list ("Monday,Wednesday").
func ParseWeekdays(values ...string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" {
				continue
			}
			d, ok := weekdayNames[name]
			if !ok {
				return 0, fmt.Errorf("unknown weekday %q", name)
			}
			s |= 1 << uint(d)
		}
	}
	return s, nil
}

func (s WeekdaySet) Empty() bool { return s&AllWeekdays == 0 }

func (s WeekdaySet) Valid() bool { return !s.Empty() && s&^AllWeekdays == 0 }

func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

func (s WeekdaySet) Intersects(o WeekdaySet) bool { return s&o != 0 }

// Days lists the members Monday first.
func (s WeekdaySet) Days() []time.Weekday {
	var out []time.Weekday
	for _, d := range weekOrder {
		if s.Contains(d) {
			out = append(out, d)
		}
	}
	return out
}

// Rank orders sets by their earliest member, Monday first. Empty sets sort last.
func (s WeekdaySet) Rank() int {
	for i, d := range weekOrder {
		if s.Contains(d) {
			return i
		}
	}
	return len(weekOrder)
}

func (s WeekdaySet) Names() []string {
	days := s.Days()
	out := make([]string, len(days))
	for i, d := range days {
		out[i] = d.String()[:3]
	}
	return out
}

func (s WeekdaySet) String() string { return strings.Join(s.Names(), ",") }

func (s WeekdaySet) MarshalJSON() ([]byte, error) {
	names := s.Names()
	if names == nil {
		names = []string{}
	}
	return json.Marshal(names)
}

// UnmarshalJSON accepts an array of names or a single comma-joined string.
func (s *WeekdaySet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		var joined string
		if errStr := json.Unmarshal(b, &joined); errStr != nil {
			return fmt.Errorf("weekdays must be an array of day names: %w", err)
		}
		names = []string{joined}
	}
	v, err := ParseWeekdays(names...)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
