package slots

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage/memory"
)

var monday = civil.Date{Year: 2026, Month: time.October, Day: 19}

func monWed9to12() model.Window {
	return model.Window{
		ID: "w1", ProviderID: "dr-lee",
		Weekdays: model.NewWeekdaySet(time.Monday, time.Wednesday),
		Start:    model.At(9, 0), End: model.At(12, 0),
	}
}

func starts(slots []Slot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.Date.String() + " " + s.Start.String()
	}
	return out
}

func TestGenerateMondayHalfHours(t *testing.T) {
	got := Generate([]model.Window{monWed9to12()}, nil, monday, monday.AddDays(1), 30*time.Minute)

	assert.Equal(t, []string{
		"2026-10-19 09:00", "2026-10-19 09:30", "2026-10-19 10:00",
		"2026-10-19 10:30", "2026-10-19 11:00", "2026-10-19 11:30",
	}, starts(got))
	assert.Equal(t, model.At(12, 0), got[5].End)
}

func TestGenerateDropsTrailingPartialSlot(t *testing.T) {
	w := monWed9to12()
	w.End = model.At(10, 40)

	got := Generate([]model.Window{w}, nil, monday, monday.AddDays(1), 45*time.Minute)
	assert.Equal(t, []string{"2026-10-19 09:00", "2026-10-19 09:45"}, starts(got))
}

func TestGenerateSkipsHeldSlotsOnly(t *testing.T) {
	busy := []model.Appointment{
		{ProviderID: "dr-lee", Date: monday, Time: model.At(9, 0), Status: model.StatusPending},
		{ProviderID: "dr-lee", Date: monday, Time: model.At(10, 0), Status: model.StatusApproved},
		{ProviderID: "dr-lee", Date: monday, Time: model.At(11, 0), Status: model.StatusRejected},
	}
	got := Generate([]model.Window{monWed9to12()}, busy, monday, monday.AddDays(1), time.Hour)
	assert.Equal(t, []string{"2026-10-19 11:00"}, starts(got), "a rejected appointment frees its slot")
}

func TestGenerateSpansDaysInOrder(t *testing.T) {
	afternoon := model.Window{
		ID: "w2", ProviderID: "dr-lee",
		Weekdays: model.NewWeekdaySet(time.Monday),
		Start:    model.At(14, 0), End: model.At(15, 0),
	}
	got := Generate([]model.Window{afternoon, monWed9to12()}, nil, monday, monday.AddDays(3), time.Hour)

	assert.Equal(t, []string{
		"2026-10-19 09:00", "2026-10-19 10:00", "2026-10-19 11:00", "2026-10-19 14:00",
		"2026-10-21 09:00", "2026-10-21 10:00", "2026-10-21 11:00",
	}, starts(got))
}

func TestGenerateIsDeterministic(t *testing.T) {
	windows := []model.Window{monWed9to12()}
	busy := []model.Appointment{{Date: monday, Time: model.At(9, 30), Status: model.StatusPending}}

	first := Generate(windows, busy, monday, monday.AddDays(7), 30*time.Minute)
	second := Generate(windows, busy, monday, monday.AddDays(7), 30*time.Minute)
	assert.Equal(t, first, second)
}

func TestGenerateWindowEndingAtMidnight(t *testing.T) {
	w := model.Window{ID: "late", ProviderID: "dr-lee", Weekdays: model.NewWeekdaySet(time.Monday), Start: model.At(22, 0), End: model.EndOfDay}

	got := Generate([]model.Window{w}, nil, monday, monday.AddDays(1), time.Hour)
	assert.Equal(t, []string{"2026-10-19 22:00", "2026-10-19 23:00"}, starts(got))
	assert.Equal(t, model.EndOfDay, got[1].End)
}

func TestResolveValidation(t *testing.T) {
	r := NewResolver(memory.New(), WithMaxRangeDays(31))
	ctx := context.Background()

	cases := map[string]Query{
		"empty range":       {ProviderID: "dr-lee", From: monday, To: monday, Duration: time.Hour},
		"reversed range":    {ProviderID: "dr-lee", From: monday, To: monday.AddDays(-1), Duration: time.Hour},
		"zero duration":     {ProviderID: "dr-lee", From: monday, To: monday.AddDays(1)},
		"negative duration": {ProviderID: "dr-lee", From: monday, To: monday.AddDays(1), Duration: -time.Minute},
		"sub-minute":        {ProviderID: "dr-lee", From: monday, To: monday.AddDays(1), Duration: 90 * time.Second},
		"too long":          {ProviderID: "dr-lee", From: monday, To: monday.AddDays(32), Duration: time.Hour},
		"longer than a day": {ProviderID: "dr-lee", From: monday, To: monday.AddDays(1), Duration: 25 * time.Hour},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Resolve(ctx, q)
			assert.ErrorIs(t, err, apperr.ErrInvalidRange)
		})
	}
}

func TestResolveReadsStore(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertWindow(ctx, monWed9to12()); err != nil {
			return err
		}
		return tx.InsertAppointment(ctx, model.Appointment{
			ID: "a1", ProviderID: "dr-lee", RequesterID: "p1",
			Date: monday, Time: model.At(9, 0), Status: model.StatusPending, CreatedAt: time.Now(),
		})
	}))

	r := NewResolver(store)
	got, err := r.Resolve(ctx, Query{ProviderID: "dr-lee", From: monday, To: monday.AddDays(1), Duration: 30 * time.Minute})
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, model.At(9, 30), got[0].Start)

	none, err := r.Resolve(ctx, Query{ProviderID: "unknown", From: monday, To: monday.AddDays(7), Duration: time.Hour})
	require.NoError(t, err)
	assert.Empty(t, none, "a provider without windows has no slots")
}
