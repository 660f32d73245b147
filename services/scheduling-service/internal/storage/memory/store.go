// Package memory is an in-process Store for tests and single-instance
// development.
//
// Committed data is an immutable snapshot swapped atomically, so reads never
// wait for writers. A transaction buffers its writes and takes only the
// provider and row locks it asks for, the way the Postgres store does; the
// snapshot swap at commit is the only moment transactions serialize, and it
// re-checks slot uniqueness against the latest snapshot.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/civil"

	"github.com/clinicore/scheduling/services/scheduling-service/internal/apperr"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/storage"
)

// snapshot is never modified once published.
type snapshot struct {
	windows       map[string]model.Window
	appointments  map[string]model.Appointment
	notifications map[string]model.Notification
	order         map[string]int64
	seq           int64
	events        []storage.OutboxEvent
}

type Store struct {
	state    atomic.Pointer[snapshot]
	commitMu sync.Mutex
	locks    keyLocks
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	s := &Store{locks: keyLocks{m: map[string]*keyLock{}}}
	s.state.Store(&snapshot{
		windows:       map[string]model.Window{},
		appointments:  map[string]model.Appointment{},
		notifications: map[string]model.Notification{},
		order:         map[string]int64{},
	})
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s)
	defer t.unlockAll()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	cur := s.state.Load()
	if err := t.checkAgainst(cur); err != nil {
		return err
	}

	next := &snapshot{
		windows:       cur.windows,
		appointments:  cur.appointments,
		notifications: cur.notifications,
		order:         cur.order,
		seq:           cur.seq,
		events:        cur.events,
	}
	if len(t.windows) > 0 {
		next.windows = maps.Clone(cur.windows)
		maps.Copy(next.windows, t.windows)
	}
	if len(t.appointments) > 0 {
		next.appointments = maps.Clone(cur.appointments)
		maps.Copy(next.appointments, t.appointments)
	}
	if len(t.notifications) > 0 {
		next.notifications = maps.Clone(cur.notifications)
		maps.Copy(next.notifications, t.notifications)
	}
	if len(t.notificationOrder) > 0 {
		next.order = maps.Clone(cur.order)
		for _, id := range t.notificationOrder {
			next.seq++
			next.order[id] = next.seq
		}
	}
	if len(t.events) > 0 {
		next.events = make([]storage.OutboxEvent, 0, len(cur.events)+len(t.events))
		next.events = append(append(next.events, cur.events...), t.events...)
	}
	s.state.Store(next)
	return nil
}

// Events returns the outbox events recorded so far.
func (s *Store) Events() []storage.OutboxEvent {
	return append([]storage.OutboxEvent(nil), s.state.Load().events...)
}

func (s *Store) ListWindows(_ context.Context, providerID string) ([]model.Window, error) {
	return windowsOf(s.state.Load().windows, nil, providerID), nil
}

func (s *Store) ListActiveAppointments(_ context.Context, providerID string, from, to civil.Date) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range s.state.Load().appointments {
		if a.ProviderID != providerID || !a.Status.Active() {
			continue
		}
		if a.Date.Before(from) || !a.Date.Before(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	a, ok := s.state.Load().appointments[id]
	if !ok {
		return model.Appointment{}, apperr.Wrap(apperr.ErrNotFound, "appointment %s", id)
	}
	return a, nil
}

func (s *Store) ListAppointments(_ context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range s.state.Load().appointments {
		if f.ProviderID != "" && a.ProviderID != f.ProviderID {
			continue
		}
		if f.RequesterID != "" && a.RequesterID != f.RequesterID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date || out[i].Time != out[j].Time {
			return keyLess(out[j], out[i])
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListNotifications(_ context.Context, recipientID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	snap := s.state.Load()
	var out []model.Notification
	for _, n := range snap.notifications {
		if n.RecipientID != recipientID || (unreadOnly && !n.Unread()) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return snap.order[out[i].ID] > snap.order[out[j].ID]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountUnread(_ context.Context, recipientID string) (int, error) {
	n := 0
	for _, note := range s.state.Load().notifications {
		if note.RecipientID == recipientID && note.Unread() {
			n++
		}
	}
	return n, nil
}

func windowsOf(base, pending map[string]model.Window, providerID string) []model.Window {
	var out []model.Window
	each(base, pending, func(w model.Window) {
		if w.ProviderID == providerID {
			out = append(out, w)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func keyLess(a, b model.Appointment) bool {
	if a.Date != b.Date {
		return a.Date.Before(b.Date)
	}
	return a.Time < b.Time
}

// each visits base overlaid with pending.
func each[V any](base, pending map[string]V, fn func(V)) {
	for id, v := range base {
		if p, ok := pending[id]; ok {
			v = p
		}
		fn(v)
	}
	for id, v := range pending {
		if _, ok := base[id]; !ok {
			fn(v)
		}
	}
}

func lookup[V any](base, pending map[string]V, id string) (V, bool) {
	if v, ok := pending[id]; ok {
		return v, true
	}
	v, ok := base[id]
	return v, ok
}

// tx reads the latest committed snapshot overlaid with its own writes, the
// read-committed view a Postgres transaction gets.
type tx struct {
	s *Store

	windows           map[string]model.Window
	appointments      map[string]model.Appointment
	notifications     map[string]model.Notification
	notificationOrder []string
	inserted          map[string]bool
	events            []storage.OutboxEvent

	held   map[string]bool
	unlock []func()
}

func newTx(s *Store) *tx {
	return &tx{
		s:             s,
		windows:       map[string]model.Window{},
		appointments:  map[string]model.Appointment{},
		notifications: map[string]model.Notification{},
		inserted:      map[string]bool{},
		held:          map[string]bool{},
	}
}

func (t *tx) snap() *snapshot { return t.s.state.Load() }

// lock holds key until the transaction ends. A key already held by this
// transaction is not locked again.
func (t *tx) lock(key string, exclusive bool) {
	if t.held[key] {
		return
	}
	t.held[key] = true
	t.unlock = append(t.unlock, t.s.locks.lock(key, exclusive))
}

func (t *tx) unlockAll() {
	for i := len(t.unlock) - 1; i >= 0; i-- {
		t.unlock[i]()
	}
	t.unlock = nil
}

// checkAgainst re-validates the buffered writes against the snapshot about
// to be replaced. It runs under the commit mutex.
func (t *tx) checkAgainst(cur *snapshot) error {
	for id := range t.inserted {
		kind, key, _ := strings.Cut(id, "/")
		var exists bool
		switch kind {
		case "window":
			_, exists = cur.windows[key]
		case "appointment":
			_, exists = cur.appointments[key]
		case "notification":
			_, exists = cur.notifications[key]
		}
		if exists {
			return apperr.Internal(errDuplicateID(kind, key))
		}
	}
	for _, a := range t.appointments {
		if !a.Status.Active() {
			continue
		}
		var clash *model.Appointment
		each(cur.appointments, t.appointments, func(o model.Appointment) {
			if clash == nil && o.ID != a.ID && o.Status.Active() && o.Key() == a.Key() {
				clash = &o
			}
		})
		if clash != nil {
			return apperr.Wrap(apperr.ErrSlotTaken, "%s", a.Key())
		}
	}
	return nil
}

func (t *tx) LockProvider(_ context.Context, providerID string, exclusive bool) error {
	t.lock("provider:"+providerID, exclusive)
	return nil
}

func (t *tx) ListWindows(_ context.Context, providerID string) ([]model.Window, error) {
	return windowsOf(t.snap().windows, t.windows, providerID), nil
}

func (t *tx) InsertWindow(_ context.Context, w model.Window) error {
	if _, exists := lookup(t.snap().windows, t.windows, w.ID); exists {
		return apperr.Internal(errDuplicateID("window", w.ID))
	}
	t.windows[w.ID] = w
	t.inserted["window/"+w.ID] = true
	return nil
}

func (t *tx) UpdateWindow(_ context.Context, w model.Window) error {
	prev, ok := lookup(t.snap().windows, t.windows, w.ID)
	if !ok || prev.ProviderID != w.ProviderID {
		return apperr.Wrap(apperr.ErrNotFound, "window %s", w.ID)
	}
	t.windows[w.ID] = w
	return nil
}

func (t *tx) ActiveAppointmentsForProvider(_ context.Context, providerID string) ([]model.Appointment, error) {
	var out []model.Appointment
	each(t.snap().appointments, t.appointments, func(a model.Appointment) {
		if a.ProviderID == providerID && a.Status.Active() {
			out = append(out, a)
		}
	})
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out, nil
}

func (t *tx) FindActiveAppointment(_ context.Context, key model.SlotKey) (model.Appointment, bool, error) {
	var (
		found model.Appointment
		ok    bool
	)
	each(t.snap().appointments, t.appointments, func(a model.Appointment) {
		if !ok && a.Status.Active() && a.Key() == key {
			found, ok = a, true
		}
	})
	return found, ok, nil
}

func (t *tx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	if _, exists := lookup(t.snap().appointments, t.appointments, a.ID); exists {
		return apperr.Internal(errDuplicateID("appointment", a.ID))
	}
	if a.Status.Active() {
		if _, taken, _ := t.FindActiveAppointment(ctx, a.Key()); taken {
			return apperr.Wrap(apperr.ErrSlotTaken, "%s", a.Key())
		}
	}
	t.appointments[a.ID] = a
	t.inserted["appointment/"+a.ID] = true
	return nil
}

func (t *tx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	t.lock("appointment:"+id, true)
	a, ok := lookup(t.snap().appointments, t.appointments, id)
	if !ok {
		return model.Appointment{}, apperr.Wrap(apperr.ErrNotFound, "appointment %s", id)
	}
	return a, nil
}

func (t *tx) UpdateAppointmentStatus(_ context.Context, id string, status model.Status, decidedAt time.Time) error {
	prev, ok := lookup(t.snap().appointments, t.appointments, id)
	if !ok {
		return apperr.Wrap(apperr.ErrNotFound, "appointment %s", id)
	}
	next := prev
	next.Status = status
	next.DecidedAt = &decidedAt
	t.appointments[id] = next
	return nil
}

func (t *tx) InsertNotification(_ context.Context, n model.Notification) error {
	if _, exists := lookup(t.snap().notifications, t.notifications, n.ID); exists {
		return apperr.Internal(errDuplicateID("notification", n.ID))
	}
	t.notifications[n.ID] = n
	t.notificationOrder = append(t.notificationOrder, n.ID)
	t.inserted["notification/"+n.ID] = true
	return nil
}

func (t *tx) MarkNotificationRead(_ context.Context, recipientID, id string, at time.Time) (model.Notification, error) {
	t.lock("notification:"+id, true)
	prev, ok := lookup(t.snap().notifications, t.notifications, id)
	if !ok || prev.RecipientID != recipientID {
		return model.Notification{}, apperr.Wrap(apperr.ErrNotFound, "notification %s", id)
	}
	if !prev.Unread() {
		return prev, nil
	}
	next := prev
	next.ReadAt = &at
	t.notifications[id] = next
	return next, nil
}

func (t *tx) AppendEvent(_ context.Context, evt storage.OutboxEvent) error {
	t.events = append(t.events, evt)
	return nil
}

func errDuplicateID(kind, id string) error {
	return fmt.Errorf("memory: duplicate %s id %s", kind, id)
}

// keyLocks is a refcounted set of per-key RW mutexes.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	sync.RWMutex
	refs int
}

func (k *keyLocks) lock(key string, exclusive bool) func() {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	if exclusive {
		l.Lock()
	} else {
		l.RLock()
	}
	return func() {
		if exclusive {
			l.Unlock()
		} else {
			l.RUnlock()
		}
		k.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(k.m, key)
		}
		k.mu.Unlock()
	}
}
