// Package memstore is an in-memory reservation store. Transactions are
// serialized: Begin waits until the previous transaction has finished, so a
// check-then-insert inside one transaction cannot interleave with another.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"cabinbook/internal/apperr"
	"cabinbook/internal/domain"
	"cabinbook/internal/model"
)

type Store struct {
	sem chan struct{}

	mu           sync.RWMutex
	reservations map[string]*model.Reservation
	actions      []*model.Action
	nextActionID int64

	catalogMu  sync.RWMutex
	cabins     map[int64]*model.Cabin
	requesters map[int64]*model.Requester

	clock domain.Clock
}

func New() *Store {
	return &Store{
		sem:          make(chan struct{}, 1),
		reservations: make(map[string]*model.Reservation),
		cabins:       make(map[int64]*model.Cabin),
		requesters:   make(map[int64]*model.Requester),
		nextActionID: 1,
		clock:        time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func (s *Store) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Store("get reservation", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, apperr.NotFound("reservation %s not found", id)
	}
	return r.Clone(), nil
}

func (s *Store) ListActiveReservations(ctx context.Context, cabinID int64, date time.Time) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Store("list active reservations", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeFor(s.reservations, nil, cabinID, date), nil
}

func (s *Store) ListReservations(ctx context.Context, filter model.ReservationFilter) ([]*model.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Store("list reservations", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Reservation
	for _, r := range s.reservations {
		if filter.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sortByCreation(out)
	return out, nil
}

func (s *Store) ListActions(ctx context.Context, reservationID string) ([]*model.Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Store("list actions", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Action
	for _, a := range s.actions {
		if a.ReservationID == reservationID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListAllActions returns the whole action log in insertion order.
func (s *Store) ListAllActions(ctx context.Context) ([]*model.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Action, 0, len(s.actions))
	for _, a := range s.actions {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// Begin waits for exclusive write access or ctx expiry.
func (s *Store) Begin(ctx context.Context) (domain.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, apperr.Store("begin transaction", ctx.Err())
	}
	return &tx{
		store:  s,
		ctx:    ctx,
		staged: make(map[string]*model.Reservation),
	}, nil
}

type tx struct {
	store   *Store
	ctx     context.Context
	staged  map[string]*model.Reservation
	actions []*model.Action
	done    bool
}

func (t *tx) check() error {
	if t.done {
		return apperr.Store("transaction", errTxDone)
	}
	if err := t.ctx.Err(); err != nil {
		return apperr.Store("transaction", err)
	}
	return nil
}

func (t *tx) lookup(id string) (*model.Reservation, bool) {
	if r, ok := t.staged[id]; ok {
		return r, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.reservations[id]
	return r, ok
}

func (t *tx) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	r, ok := t.lookup(id)
	if !ok {
		return nil, apperr.NotFound("reservation %s not found", id)
	}
	return r.Clone(), nil
}

func (t *tx) ListActiveReservations(ctx context.Context, cabinID int64, date time.Time) ([]*model.Reservation, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return activeFor(t.store.reservations, t.staged, cabinID, date), nil
}

func (t *tx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.lookup(r.ID); ok {
		return apperr.Store("insert reservation", errDuplicateID)
	}
	r.Version = 1
	t.staged[r.ID] = r.Clone()
	return nil
}

func (t *tx) UpdateReservation(ctx context.Context, r *model.Reservation, expectedVersion int64) error {
	if err := t.check(); err != nil {
		return err
	}
	cur, ok := t.lookup(r.ID)
	if !ok {
		return apperr.NotFound("reservation %s not found", r.ID)
	}
	if cur.Version != expectedVersion {
		return apperr.AlreadyProcessed("reservation %s was modified concurrently", r.ID)
	}
	r.Version = expectedVersion + 1
	t.staged[r.ID] = r.Clone()
	return nil
}

func (t *tx) RecordAction(ctx context.Context, a *model.Action) error {
	if err := t.check(); err != nil {
		return err
	}
	cp := *a
	t.actions = append(t.actions, &cp)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return apperr.Store("commit", errTxDone)
	}
	if err := t.ctx.Err(); err != nil {
		t.release()
		return apperr.Store("commit", err)
	}
	s := t.store
	s.mu.Lock()
	for id, r := range t.staged {
		s.reservations[id] = r
	}
	for _, a := range t.actions {
		a.ID = s.nextActionID
		s.nextActionID++
		s.actions = append(s.actions, a)
	}
	s.mu.Unlock()
	t.release()
	return nil
}

// Rollback discards staged writes. It is a no-op after Commit.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *tx) release() {
	t.done = true
	<-t.store.sem
}

func activeFor(committed, staged map[string]*model.Reservation, cabinID int64, date time.Time) []*model.Reservation {
	var out []*model.Reservation
	pick := func(r *model.Reservation) {
		if r.CabinID == cabinID && r.Date.Equal(date) && r.Status.Active() {
			out = append(out, r.Clone())
		}
	}
	for id, r := range committed {
		if _, shadowed := staged[id]; shadowed {
			continue
		}
		pick(r)
	}
	for _, r := range staged {
		pick(r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Interval.Start != out[j].Interval.Start {
			return out[i].Interval.Start < out[j].Interval.Start
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortByCreation(rows []*model.Reservation) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}
