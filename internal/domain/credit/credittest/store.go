// Package credittest provides an in-memory credit.Store for tests.
package credittest

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/techpack/techpack-api/internal/domain/credit"
)

// Store is a credit.Store kept in memory. Transactions hold a single mutex
// and roll back by restoring a snapshot.
type Store struct {
	mu           sync.Mutex
	records      map[uuid.UUID]*credit.Record
	reservations map[uuid.UUID]*credit.Reservation
	items        map[uuid.UUID][]credit.ReservationItem
	failures     map[string]error
	Now          func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		records:      map[uuid.UUID]*credit.Record{},
		reservations: map[uuid.UUID]*credit.Reservation{},
		items:        map[uuid.UUID][]credit.ReservationItem{},
		failures:     map[string]error{},
		Now:          time.Now,
	}
}

// FailOn makes every call of the named operation return err until cleared
// with a nil err.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Seed inserts records directly, filling defaults.
func (s *Store) Seed(records ...*credit.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range records {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.Status == "" {
			r.Status = credit.RecordActive
		}
		if r.PlanType == "" {
			r.PlanType = credit.PlanOneTime
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = s.Now().Add(time.Duration(i) * time.Millisecond)
		}
		cp := *r
		s.records[r.ID] = &cp
	}
}

// Records returns copies of every record of the user.
func (s *Store) Records(userID uuid.UUID) []credit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []credit.Record
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Reservation returns a copy of a reservation.
func (s *Store) Reservation(id uuid.UUID) (credit.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return credit.Reservation{}, false
	}
	return *r, true
}

func (s *Store) fail(op string) error {
	return s.failures[op]
}

type snapshot struct {
	records      map[uuid.UUID]credit.Record
	reservations map[uuid.UUID]credit.Reservation
	items        map[uuid.UUID][]credit.ReservationItem
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		records:      make(map[uuid.UUID]credit.Record, len(s.records)),
		reservations: make(map[uuid.UUID]credit.Reservation, len(s.reservations)),
		items:        make(map[uuid.UUID][]credit.ReservationItem, len(s.items)),
	}
	for k, v := range s.records {
		snap.records[k] = *v
	}
	for k, v := range s.reservations {
		snap.reservations[k] = *v
	}
	for k, v := range s.items {
		snap.items[k] = append([]credit.ReservationItem(nil), v...)
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.records = make(map[uuid.UUID]*credit.Record, len(snap.records))
	for k, v := range snap.records {
		s.records[k] = &v
	}
	s.reservations = make(map[uuid.UUID]*credit.Reservation, len(snap.reservations))
	for k, v := range snap.reservations {
		s.reservations[k] = &v
	}
	s.items = snap.items
}

func (s *Store) InTx(ctx context.Context, fn func(tx credit.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("InTx"); err != nil {
		return err
	}

	snap := s.snapshot()
	if err := fn(&tx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) ExpireStale(ctx context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expire(&userID)
}

func (s *Store) ExpireAllStale(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expire(nil)
}

func (s *Store) expire(userID *uuid.UUID) (int64, error) {
	if err := s.fail("ExpireStale"); err != nil {
		return 0, err
	}
	now := s.Now()
	var n int64
	for _, r := range s.records {
		if userID != nil && r.UserID != *userID {
			continue
		}
		if r.Stale(now) {
			r.Status = credit.RecordExpired
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Store) SumActive(ctx context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SumActive"); err != nil {
		return 0, err
	}
	sum := 0
	for _, r := range s.records {
		if r.UserID == userID && r.Status == credit.RecordActive {
			sum += r.Credits
		}
	}
	return sum, nil
}

func (s *Store) ListRecords(ctx context.Context, userID uuid.UUID) ([]*credit.Record, error) {
	recs := s.Records(userID)
	out := make([]*credit.Record, len(recs))
	for i := range recs {
		out[i] = &recs[i]
	}
	return out, nil
}

func (s *Store) InsertRecord(ctx context.Context, rec *credit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertRecord(rec)
}

func (s *Store) insertRecord(rec *credit.Record) error {
	if err := s.fail("InsertRecord"); err != nil {
		return err
	}
	cp := *rec
	s.records[rec.ID] = &cp
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, userID uuid.UUID, subscriptionID, membership string, credits int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.UserID == userID && r.SubscriptionID.Valid && r.SubscriptionID.String == subscriptionID &&
			r.PlanType == credit.PlanSubscription && r.Status == credit.RecordActive {
			r.Membership = membership
			r.Credits = credits
			r.UpdatedAt = s.Now()
			return nil
		}
	}
	return credit.ErrRecordNotFound
}

func (s *Store) GetActiveSubscription(ctx context.Context, userID uuid.UUID, subscriptionID string) (*credit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetActiveSubscription"); err != nil {
		return nil, err
	}
	for _, r := range s.records {
		if r.UserID == userID && r.SubscriptionID.Valid && r.SubscriptionID.String == subscriptionID &&
			r.PlanType == credit.PlanSubscription && r.Status == credit.RecordActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, credit.ErrRecordNotFound
}

func (s *Store) GetReservation(ctx context.Context, id uuid.UUID) (*credit.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, credit.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) TransitionReservation(ctx context.Context, id uuid.UUID, from, to credit.ReservationStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("TransitionReservation"); err != nil {
		return false, err
	}
	r, ok := s.reservations[id]
	if !ok || r.Status != from {
		return false, nil
	}
	r.Status = to
	if reason != "" {
		r.Reason.String, r.Reason.Valid = reason, true
	}
	r.UpdatedAt = s.Now()
	return true, nil
}

func (s *Store) IncrementRefundAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return 0, credit.ErrReservationNotFound
	}
	r.RefundAttempts++
	return r.RefundAttempts, nil
}

func (s *Store) ListReservations(ctx context.Context, status credit.ReservationStatus, before time.Time, limit int) ([]*credit.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*credit.Reservation
	for _, r := range s.reservations {
		if r.Status == status && r.UpdatedAt.Before(before) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// tx runs with Store.mu held.
type tx struct {
	s *Store
}

func (t *tx) ExpireStale(ctx context.Context, userID uuid.UUID) (int64, error) {
	return t.s.expire(&userID)
}

func (t *tx) LockActiveRecords(ctx context.Context, userID uuid.UUID) ([]*credit.Record, error) {
	if err := t.s.fail("LockActiveRecords"); err != nil {
		return nil, err
	}
	var out []*credit.Record
	for _, r := range t.s.records {
		if r.UserID == userID && r.Status == credit.RecordActive && r.Credits > 0 {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ExpiresAt.Valid != b.ExpiresAt.Valid {
			return a.ExpiresAt.Valid
		}
		if a.ExpiresAt.Valid && !a.ExpiresAt.Time.Equal(b.ExpiresAt.Time) {
			return a.ExpiresAt.Time.Before(b.ExpiresAt.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	return out, nil
}

func (t *tx) Debit(ctx context.Context, recordID uuid.UUID, amount int) error {
	if err := t.s.fail("Debit"); err != nil {
		return err
	}
	r, ok := t.s.records[recordID]
	if !ok || r.Credits < amount {
		return credit.ErrInsufficientCredits
	}
	r.Credits -= amount
	return nil
}

func (t *tx) CreditActive(ctx context.Context, recordID uuid.UUID, amount int) (bool, error) {
	if err := t.s.fail("CreditActive"); err != nil {
		return false, err
	}
	r, ok := t.s.records[recordID]
	if !ok || r.Status != credit.RecordActive || (r.ExpiresAt.Valid && !r.ExpiresAt.Time.After(t.s.Now())) {
		return false, nil
	}
	r.Credits += amount
	return true, nil
}

func (t *tx) InsertRecord(ctx context.Context, rec *credit.Record) error {
	return t.s.insertRecord(rec)
}

func (t *tx) InsertReservation(ctx context.Context, res *credit.Reservation, items []credit.ReservationItem) error {
	if err := t.s.fail("InsertReservation"); err != nil {
		return err
	}
	cp := *res
	t.s.reservations[res.ID] = &cp
	t.s.items[res.ID] = append([]credit.ReservationItem(nil), items...)
	return nil
}

func (t *tx) LockReservation(ctx context.Context, id uuid.UUID) (*credit.Reservation, []credit.ReservationItem, error) {
	if err := t.s.fail("LockReservation"); err != nil {
		return nil, nil, err
	}
	r, ok := t.s.reservations[id]
	if !ok {
		return nil, nil, credit.ErrReservationNotFound
	}
	cp := *r
	return &cp, append([]credit.ReservationItem(nil), t.s.items[id]...), nil
}

func (t *tx) SetReservationStatus(ctx context.Context, id uuid.UUID, status credit.ReservationStatus, reason string) error {
	if err := t.s.fail("SetReservationStatus"); err != nil {
		return err
	}
	r, ok := t.s.reservations[id]
	if !ok {
		return credit.ErrReservationNotFound
	}
	r.Status = status
	if reason != "" {
		r.Reason.String, r.Reason.Valid = reason, true
	}
	r.UpdatedAt = t.s.Now()
	return nil
}

// Queue is an in-memory credit.PendingQueue.
type Queue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *Queue) Push(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

func (q *Queue) Pop(ctx context.Context) (uuid.UUID, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return uuid.Nil, false, nil
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true, nil
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
