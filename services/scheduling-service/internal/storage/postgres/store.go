// Package postgres implements storage.Store on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicore/scheduling/libs/db"
	otelx "github.com/clinicore/scheduling/libs/otel"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

// activeSlotIndex is the unique partial index that makes a second pending or
// approved appointment on the same provider/date/time impossible.
const activeSlotIndex = "appointments_active_slot_key"

const defaultListLimit = 100

const (
	windowColumns       = `id::text, provider_id, weekdays_mask, start_minute, end_minute, created_at, updated_at`
	appointmentColumns  = `id::text, provider_id, requester_id, appointment_date, slot_minute, status, created_at, decided_at`
	notificationColumns = `id::text, recipient_id, COALESCE(appointment_id::text, ''), kind, title, message, created_at, read_at`
)

type Store struct {
	db db.DB
}

var _ storage.Store = (*Store)(nil)

func New(conn db.DB) *Store {
	return &Store{db: conn}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	err := db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx})
	})
	return translate(err, "transaction")
}

func (s *Store) ListWindows(ctx context.Context, providerID string) ([]model.Window, error) {
	return listWindows(ctx, s.db, providerID)
}

func (s *Store) ListActiveAppointments(ctx context.Context, providerID string, from, to civil.Date) ([]model.Appointment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND status IN ('pending', 'approved')
			AND appointment_date >= $2
			AND appointment_date < $3
		ORDER BY appointment_date, slot_minute
	`, providerID, dateArg(from), dateArg(to))
	if err != nil {
		return nil, translate(err, "list active appointments")
	}
	return collectAppointments(rows)
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	row := s.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err, "appointment "+id)
	}
	return a, nil
}

func (s *Store) ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, clause+" $"+strconv.Itoa(len(args)))
	}
	if f.ProviderID != "" {
		add("provider_id =", f.ProviderID)
	}
	if f.RequesterID != "" {
		add("requester_id =", f.RequesterID)
	}
	if f.Status != "" {
		add("status =", string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY appointment_date DESC, slot_minute DESC, created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err, "list appointments")
	}
	return collectAppointments(rows)
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id = $1
			AND ($2::boolean = false OR read_at IS NULL)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, recipientID, unreadOnly, limit)
	if err != nil {
		return nil, translate(err, "list notifications")
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, translate(err, "scan notification")
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list notifications")
	}
	return out, nil
}

func (s *Store) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE recipient_id = $1 AND read_at IS NULL
	`, recipientID).Scan(&n)
	if err != nil {
		return 0, translate(err, "count unread")
	}
	return int(n), nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockProvider(ctx context.Context, providerID string, exclusive bool) error {
	fn := "pg_advisory_xact_lock_shared"
	if exclusive {
		fn = "pg_advisory_xact_lock"
	}
	if _, err := t.tx.Exec(ctx, `SELECT `+fn+`(hashtextextended($1, 0))`, providerID); err != nil {
		return translate(err, "lock provider")
	}
	return nil
}

func (t *pgTx) ListWindows(ctx context.Context, providerID string) ([]model.Window, error) {
	return listWindows(ctx, t.tx, providerID)
}

func (t *pgTx) InsertWindow(ctx context.Context, w model.Window) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO availability_windows
			(id, provider_id, weekdays_mask, start_minute, end_minute, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.ID, w.ProviderID, int16(w.Weekdays), int32(w.Start), int32(w.End), w.CreatedAt, w.UpdatedAt)
	return translate(err, "insert window")
}

func (t *pgTx) UpdateWindow(ctx context.Context, w model.Window) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE availability_windows
		SET weekdays_mask = $3,
			start_minute = $4,
			end_minute = $5,
			updated_at = $6
		WHERE id = $1 AND provider_id = $2
	`, w.ID, w.ProviderID, int16(w.Weekdays), int32(w.Start), int32(w.End), w.UpdatedAt)
	if err != nil {
		return translate(err, "update window")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "window %s", w.ID)
	}
	return nil
}

func (t *pgTx) ActiveAppointmentsForProvider(ctx context.Context, providerID string) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1 AND status IN ('pending', 'approved')
		ORDER BY appointment_date, slot_minute
	`, providerID)
	if err != nil {
		return nil, translate(err, "list active appointments")
	}
	return collectAppointments(rows)
}

func (t *pgTx) FindActiveAppointment(ctx context.Context, key model.SlotKey) (model.Appointment, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND appointment_date = $2
			AND slot_minute = $3
			AND status IN ('pending', 'approved')
	`, key.ProviderID, dateArg(key.Date), int32(key.Time))
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, false, nil
	}
	if err != nil {
		return model.Appointment{}, false, translate(err, "find active appointment")
	}
	return a, true, nil
}

func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, provider_id, requester_id, appointment_date, slot_minute, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.ProviderID, a.RequesterID, dateArg(a.Date), int32(a.Time), string(a.Status), a.CreatedAt)
	return translate(err, "insert appointment "+a.Key().String())
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, translate(err, "appointment "+id)
	}
	return a, nil
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, id string, status model.Status, decidedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments SET status = $2, decided_at = $3 WHERE id = $1
	`, id, string(status), decidedAt)
	if err != nil {
		return translate(err, "update appointment status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Wrap(apperr.ErrNotFound, "appointment %s", id)
	}
	return nil
}

func (t *pgTx) InsertNotification(ctx context.Context, n model.Notification) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notifications
			(id, recipient_id, appointment_id, kind, title, message, created_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, $7)
	`, n.ID, n.RecipientID, n.AppointmentID, string(n.Kind), n.Title, n.Message, n.CreatedAt)
	return translate(err, "insert notification")
}

func (t *pgTx) MarkNotificationRead(ctx context.Context, recipientID, id string, at time.Time) (model.Notification, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING `+notificationColumns, id, recipientID, at)
	n, err := scanNotification(row)
	if err != nil {
		return model.Notification{}, translate(err, "notification "+id)
	}
	return n, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, evt storage.OutboxEvent) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Parent, tc.State)
	return translate(err, "append outbox event")
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listWindows(ctx context.Context, q querier, providerID string) ([]model.Window, error) {
	rows, err := q.Query(ctx, `
		SELECT `+windowColumns+`
		FROM availability_windows
		WHERE provider_id = $1
		ORDER BY start_minute, id
	`, providerID)
	if err != nil {
		return nil, translate(err, "list windows")
	}
	defer rows.Close()

	var out []model.Window
	for rows.Next() {
		var (
			w          model.Window
			mask       int16
			start, end int32
		)
		if err := rows.Scan(&w.ID, &w.ProviderID, &mask, &start, &end, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, translate(err, "scan window")
		}
		w.Weekdays = model.WeekdaySet(mask)
		w.Start = model.TimeOfDay(start)
		w.End = model.TimeOfDay(end)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list windows")
	}
	return out, nil
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, translate(err, "scan appointment")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list appointments")
	}
	return out, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		date   time.Time
		minute int32
		status string
	)
	if err := row.Scan(&a.ID, &a.ProviderID, &a.RequesterID, &date, &minute, &status, &a.CreatedAt, &a.DecidedAt); err != nil {
		return model.Appointment{}, err
	}
	a.Date = civil.DateOf(date)
	a.Time = model.TimeOfDay(minute)
	a.Status = model.Status(status)
	return a, nil
}

func scanNotification(row pgx.Row) (model.Notification, error) {
	var (
		n    model.Notification
		kind string
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &n.AppointmentID, &kind, &n.Title, &n.Message, &n.CreatedAt, &n.ReadAt); err != nil {
		return model.Notification{}, err
	}
	n.Kind = model.NotificationKind(kind)
	return n, nil
}

func dateArg(d civil.Date) time.Time {
	return d.In(time.UTC)
}

// translate maps driver failures onto the apperr taxonomy.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	var classified *apperr.Error
	if errors.As(err, &classified) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.ErrNotFound, "%s", op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == activeSlotIndex {
				return apperr.Wrap(apperr.ErrSlotTaken, "%s", op)
			}
		case "22P02":
			// malformed uuid in a lookup: nothing can match it
			return apperr.Wrap(apperr.ErrNotFound, "%s", op)
		case "55P03", "40P01":
			return apperr.Wrap(apperr.ErrBusy, "%s", op)
		}
	}
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
