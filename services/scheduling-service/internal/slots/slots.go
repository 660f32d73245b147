// Package slots derives open, bookable slots from availability windows and
// the appointments already holding slots.
package slots

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
)

type Slot struct {
	Date  civil.Date      `json:"date"`
	Start model.TimeOfDay `json:"start"`
	End   model.TimeOfDay `json:"end"`
}

type busyKey struct {
	date civil.Date
	at   model.TimeOfDay
}

// Generate partitions every window matching each date of [from, to) into
// consecutive slots of length d, drops a trailing partial slot, and removes
// slots held by a pending or approved appointment. The result is ordered by
// date then start. d must be a positive whole number of minutes.
func Generate(windows []model.Window, busy []model.Appointment, from, to civil.Date, d time.Duration) []Slot {
	step := model.TimeOfDay(d / time.Minute)
	if step <= 0 || !from.Before(to) {
		return []Slot{}
	}

	held := make(map[busyKey]struct{}, len(busy))
	for _, a := range busy {
		if a.Status.Active() {
			held[busyKey{a.Date, a.Time}] = struct{}{}
		}
	}

	out := []Slot{}
	for date := from; date.Before(to); date = date.AddDays(1) {
		day := model.WeekdayOf(date)
		first := len(out)
		for _, w := range windows {
			if !w.Weekdays.Contains(day) {
				continue
			}
			for start := w.Start; start+step <= w.End; start += step {
				if _, taken := held[busyKey{date, start}]; taken {
					continue
				}
				out = append(out, Slot{Date: date, Start: start, End: start + step})
			}
		}
		daySlots := out[first:]
		sort.Slice(daySlots, func(i, j int) bool { return daySlots[i].Start < daySlots[j].Start })
	}
	return out
}
