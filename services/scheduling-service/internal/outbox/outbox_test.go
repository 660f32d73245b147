package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/libs/kafkax"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage/memory"
)

func TestRecorderWritesOneEventPerTransition(t *testing.T) {
	store := memory.New()
	at := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	lc := lifecycle.New(store, lifecycle.WithClock(func() time.Time { return at }))
	lc.Subscribe(Recorder{})

	a := model.Appointment{
		ID: "a1", ProviderID: "dr-lee", RequesterID: "patient-1",
		Date: civil.Date{Year: 2026, Month: time.October, Day: 19}, Time: model.At(9, 0), CreatedAt: at,
	}
	require.NoError(t, store.InTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		_, err := lc.Create(ctx, tx, a)
		return err
	}))
	_, err := lc.Approve(context.Background(), "dr-lee", "a1")
	require.NoError(t, err)

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventAppointmentRequested, events[0].EventType)
	assert.Equal(t, EventAppointmentApproved, events[1].EventType)
	assert.Equal(t, "a1", events[1].AggregateID)

	var body AppointmentEvent
	require.NoError(t, json.Unmarshal(events[1].Payload, &body))
	assert.Equal(t, "2026-10-19", body.Date)
	assert.Equal(t, "09:00", body.Time)
	assert.Equal(t, "approved", body.Status)
	assert.Equal(t, "pending", body.PreviousStatus)
	assert.Equal(t, "dr-lee", body.ActorID)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func outboxRows() *pgxmock.Rows {
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}).
		AddRow(int64(1), "e-1", AggregateAppointment, "a1", EventAppointmentRequested, []byte(`{"appointment_id":"a1"}`), "", "", now).
		AddRow(int64(2), "e-2", AggregateAppointment, "a1", EventAppointmentApproved, []byte(`{"appointment_id":"a1"}`), "", "", now)
}

func TestPublishBatchShipsAndMarks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(outboxRows())
	mock.ExpectExec("UPDATE outbox_events").WithArgs(pgxmock.AnyArg()).WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	w := &fakeWriter{}
	p := NewPublisher(mock, w, nil, nil, PublisherConfig{BatchSize: 10})
	n, err := p.PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, EventAppointmentRequested, w.msgs[0].Topic)
	assert.Equal(t, []byte("a1"), w.msgs[0].Key)
	assert.Equal(t, "e-2", kafkax.HeaderValue(w.msgs[1].Headers, kafkax.HeaderEventID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchKeepsRowsWhenKafkaFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(50).WillReturnRows(outboxRows())
	mock.ExpectRollback()

	p := NewPublisher(mock, &fakeWriter{err: errors.New("broker down")}, nil, nil, PublisherConfig{})
	n, err := p.PublishBatch(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}))
	mock.ExpectCommit()

	w := &fakeWriter{}
	n, err := NewPublisher(mock, w, nil, nil, PublisherConfig{}).PublishBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}
