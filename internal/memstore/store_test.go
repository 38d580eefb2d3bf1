package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinbook/internal/apperr"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
)

var day = time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)

func reservation(id string, cabinID int64, start, end int, status model.Status) *model.Reservation {
	return &model.Reservation{
		ID:       id,
		CabinID:  cabinID,
		Date:     day,
		Interval: interval.Interval{Start: start, End: end},
		Status:   status,
		Priority: model.PriorityNormal,
	}
}

func insert(t *testing.T, s *Store, rows ...*model.Reservation) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, tx.InsertReservation(ctx, r))
	}
	require.NoError(t, tx.Commit())
}

func TestTxReadYourWritesAndIsolation(t *testing.T) {
	ctx := context.Background()
	s := New()
	insert(t, s, reservation("a", 1, 540, 600, model.StatusApproved))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertReservation(ctx, reservation("b", 1, 600, 660, model.StatusPending)))

	inTx, err := tx.ListActiveReservations(ctx, 1, day)
	require.NoError(t, err)
	assert.Len(t, inTx, 2)

	outside, err := s.ListActiveReservations(ctx, 1, day)
	require.NoError(t, err)
	assert.Len(t, outside, 1, "uncommitted rows must not be visible")

	require.NoError(t, tx.Rollback())

	_, err = s.GetReservation(ctx, "b")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestUpdateReservationChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	insert(t, s, reservation("a", 1, 540, 600, model.StatusPending))

	r, err := s.GetReservation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Version)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	r.Status = model.StatusApproved
	require.NoError(t, tx.UpdateReservation(ctx, r, 1))
	assert.Equal(t, int64(2), r.Version)

	stale := r.Clone()
	stale.Status = model.StatusCancelled
	err = tx.UpdateReservation(ctx, stale, 1)
	assert.True(t, errors.Is(err, apperr.ErrAlreadyProcessed))
	require.NoError(t, tx.Commit())

	got, err := s.GetReservation(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.NoError(t, tx.Rollback(), "rollback after commit is a no-op")
}

func TestActiveReservationsExcludeTerminalAndSortByStart(t *testing.T) {
	ctx := context.Background()
	s := New()
	insert(t, s,
		reservation("late", 1, 720, 780, model.StatusPending),
		reservation("early", 1, 540, 600, model.StatusApproved),
		reservation("gone", 1, 600, 660, model.StatusCancelled),
		reservation("other", 2, 540, 600, model.StatusApproved),
	)

	rows, err := s.ListActiveReservations(ctx, 1, day)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "early", rows[0].ID)
	assert.Equal(t, "late", rows[1].ID)
}

func TestBeginHonoursContext(t *testing.T) {
	s := New()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Begin(ctx)
	assert.True(t, errors.Is(err, apperr.ErrStoreFailure))
	assert.True(t, apperr.Retryable(err))
}

func TestActionsCommitWithTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	insert(t, s, reservation("a", 1, 540, 600, model.StatusPending))

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordAction(ctx, &model.Action{ReservationID: "a", Kind: model.ActionApproved, ActorID: 9}))
	require.NoError(t, tx.Rollback())

	actions, err := s.ListActions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, actions)

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordAction(ctx, &model.Action{ReservationID: "a", Kind: model.ActionApproved, ActorID: 9}))
	require.NoError(t, tx.Commit())

	actions, err = s.ListActions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, int64(1), actions[0].ID)
}

func TestSyncCatalogDeactivatesMissing(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutCabin(model.Cabin{ID: 1, Name: "A", Status: model.CabinActive})
	s.PutCabin(model.Cabin{ID: 2, Name: "B", Status: model.CabinActive})
	s.PutRequester(model.Requester{ID: 10, Active: true})

	require.NoError(t, s.SyncCatalog(ctx,
		[]model.Cabin{{ID: 1, Name: "A2", Status: model.CabinMaintenance}},
		[]model.Requester{{ID: 11, Active: true}},
	))

	c1, err := s.GetCabin(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A2", c1.Name)
	assert.Equal(t, model.CabinMaintenance, c1.Status)

	c2, err := s.GetCabin(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.CabinInactive, c2.Status)

	r10, err := s.GetRequester(ctx, 10)
	require.NoError(t, err)
	assert.False(t, r10.Active)

	_, err = s.GetCabin(ctx, 99)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
