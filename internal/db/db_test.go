package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabinbook/internal/apperr"
	"cabinbook/internal/config"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
)

var (
	day   = time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)
	clock = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "cabinbook.db"), zerolog.Nop())
	require.NoError(t, err)
	db.now = func() time.Time { return clock }
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newReservation(id string, cabinID int64, start, end int, status model.Status) *model.Reservation {
	return &model.Reservation{
		ID:          id,
		RequesterID: 1,
		CabinID:     cabinID,
		Date:        day,
		Interval:    interval.Interval{Start: start, End: end},
		Purpose:     "review",
		Category:    model.CategorySingle,
		Status:      status,
		Priority:    model.PriorityNormal,
		CreatedAt:   clock,
		UpdatedAt:   clock,
	}
}

func insert(t *testing.T, db *DB, rows ...*model.Reservation) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	for _, r := range rows {
		require.NoError(t, tx.InsertReservation(ctx, r))
	}
	require.NoError(t, tx.Commit())
}

func TestReservationRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	r := newReservation("r1", 1, 540, 600, model.StatusApproved)
	r.MarkApproved(10, clock.Add(time.Minute))
	insert(t, db, r)

	got, err := db.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, r.Interval, got.Interval)
	assert.Equal(t, day, got.Date)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, model.PriorityNormal, got.Priority)
	require.NotNil(t, got.ApprovedBy)
	assert.Equal(t, int64(10), *got.ApprovedBy)
	assert.True(t, got.ApprovedAt.Equal(clock.Add(time.Minute)))
	assert.Nil(t, got.RejectedBy)
	assert.Equal(t, int64(1), got.Version)

	_, err = db.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListActiveReservations(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	insert(t, db,
		newReservation("b", 1, 720, 780, model.StatusPending),
		newReservation("a", 1, 540, 600, model.StatusApproved),
		newReservation("c", 1, 600, 660, model.StatusCancelled),
		newReservation("d", 2, 540, 600, model.StatusApproved),
	)

	rows, err := db.ListActiveReservations(ctx, 1, day)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)
}

func TestTxReadsOwnWritesAndRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertReservation(ctx, newReservation("r1", 1, 540, 600, model.StatusPending)))

	rows, err := tx.ListActiveReservations(ctx, 1, day)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	require.NoError(t, tx.Rollback())

	_, err = db.GetReservation(ctx, "r1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateReservationChecksVersion(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	insert(t, db, newReservation("r1", 1, 540, 600, model.StatusPending))

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	r, err := tx.GetReservation(ctx, "r1")
	require.NoError(t, err)
	r.Status = model.StatusApproved
	require.NoError(t, tx.UpdateReservation(ctx, r, 1))
	assert.Equal(t, int64(2), r.Version)

	stale := r.Clone()
	stale.Status = model.StatusCancelled
	err = tx.UpdateReservation(ctx, stale, 1)
	assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed)

	ghost := newReservation("ghost", 1, 540, 600, model.StatusPending)
	err = tx.UpdateReservation(ctx, ghost, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, tx.Commit())
	got, err := db.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
}

func TestUnknownStoredEnumFailsLoudly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	insert(t, db, newReservation("r1", 1, 540, 600, model.StatusPending))

	_, err := db.ExecContext(ctx, `UPDATE reservations SET status = 'on_hold' WHERE id = 'r1'`)
	require.NoError(t, err)

	_, err = db.GetReservation(ctx, "r1")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestListReservationsFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	first := newReservation("z", 1, 540, 600, model.StatusApproved)
	second := newReservation("a", 2, 540, 600, model.StatusPending)
	second.CreatedAt = clock.Add(time.Second)
	second.Priority = model.PriorityVIP
	third := newReservation("m", 1, 600, 660, model.StatusRejected)
	third.Date = day.AddDate(0, 0, 2)
	third.CreatedAt = clock.Add(2 * time.Second)
	insert(t, db, second, third, first)

	all, err := db.ListReservations(ctx, model.ReservationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"z", "a", "m"}, []string{all[0].ID, all[1].ID, all[2].ID})

	vip, err := db.ListReservations(ctx, model.ReservationFilter{Priorities: []model.Priority{model.PriorityVIP}})
	require.NoError(t, err)
	require.Len(t, vip, 1)
	assert.Equal(t, "a", vip[0].ID)

	ranged, err := db.ListReservations(ctx, model.ReservationFilter{
		Statuses: []model.Status{model.StatusApproved, model.StatusRejected},
		CabinID:  1,
		From:     day,
		To:       day.AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "z", ranged[0].ID)
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertReservation(ctx, newReservation("r1", 1, 540, 600, model.StatusPending)))
	a := &model.Action{ReservationID: "r1", Kind: model.ActionReallocated, ActorID: 20, OldCabinID: 1, NewCabinID: 2, Reason: "override"}
	require.NoError(t, tx.RecordAction(ctx, a))
	assert.NotZero(t, a.ID)
	require.NoError(t, tx.Commit())

	actions, err := db.ListActions(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionReallocated, actions[0].Kind)
	assert.Equal(t, int64(2), actions[0].NewCabinID)
	assert.True(t, actions[0].At.Equal(clock))
}

func TestSyncCatalog(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.SyncCatalog(ctx,
		[]model.Cabin{
			{ID: 1, Name: "Blue", Capacity: 4, Access: model.AccessGeneral, Status: model.CabinActive},
			{ID: 2, Name: "Board", Capacity: 10, Access: model.AccessRestricted, Status: model.CabinActive},
		},
		[]model.Requester{
			{ID: 1, Name: "Alice", Privilege: model.PrivilegeNormal, Active: true, ChatID: 99},
			{ID: 2, Name: "Victor", Privilege: model.PrivilegeVIP, Active: true},
		},
	))

	cabins, err := db.ListCabins(ctx)
	require.NoError(t, err)
	require.Len(t, cabins, 2)
	assert.Equal(t, model.AccessRestricted, cabins[1].Access)

	alice, err := db.GetRequester(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(99), alice.ChatID)
	assert.True(t, alice.Active)

	require.NoError(t, db.SyncCatalog(ctx,
		[]model.Cabin{{ID: 1, Name: "Blue", Capacity: 6, Access: model.AccessGeneral, Status: model.CabinMaintenance}},
		[]model.Requester{{ID: 1, Name: "Alice", Privilege: model.PrivilegeAdmin, Active: true}},
	))

	blue, err := db.GetCabin(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 6, blue.Capacity)
	assert.Equal(t, model.CabinMaintenance, blue.Status)

	board, err := db.GetCabin(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, model.CabinInactive, board.Status)

	victor, err := db.GetRequester(ctx, 2)
	require.NoError(t, err)
	assert.False(t, victor.Active)

	_, err = db.GetCabin(ctx, 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = db.GetRequester(ctx, 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCachedCatalog(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.SyncCatalog(ctx,
		[]model.Cabin{{ID: 1, Name: "Blue", Capacity: 4, Access: model.AccessGeneral, Status: model.CabinActive}},
		[]model.Requester{{ID: 1, Name: "Alice", Privilege: model.PrivilegeNormal, Active: true}},
	))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCachedCatalog(db, client, time.Minute, zerolog.Nop())

	c, err := cache.GetCabin(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Blue", c.Name)
	assert.True(t, mr.Exists(cachePrefix+"cabin:1"))

	// the cached copy wins until invalidated
	require.NoError(t, db.SyncCatalog(ctx,
		[]model.Cabin{{ID: 1, Name: "Renamed", Capacity: 4, Access: model.AccessGeneral, Status: model.CabinActive}},
		[]model.Requester{{ID: 1, Name: "Alice", Privilege: model.PrivilegeNormal, Active: true}},
	))
	c, err = cache.GetCabin(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Blue", c.Name)

	require.NoError(t, cache.Invalidate(ctx))
	c, err = cache.GetCabin(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", c.Name)

	cabins, err := cache.ListCabins(ctx)
	require.NoError(t, err)
	assert.Len(t, cabins, 1)

	r, err := cache.GetRequester(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.PrivilegeNormal, r.Privilege)

	_, err = cache.GetCabin(ctx, 9)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	mr.Close()
	c, err = cache.GetCabin(ctx, 1)
	require.NoError(t, err, "falls back to the database when redis is down")
	assert.Equal(t, "Renamed", c.Name)
}

func TestTableData(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	insert(t, db, newReservation("r1", 1, 540, 600, model.StatusPending))

	columns, rows, err := db.TableData(ctx, "reservations")
	require.NoError(t, err)
	assert.Equal(t, "id", columns[0])
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0][0])

	_, _, err = db.TableData(ctx, "sqlite_master")
	assert.Error(t, err)
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	insert(t, db, newReservation("r1", 1, 540, 600, model.StatusPending))

	dir := t.TempDir()
	svc := NewBackupService(db, config.BackupConfig{Enabled: true, Path: dir, RetentionDays: 7, AuditExport: true}, zerolog.Nop())
	svc.now = func() time.Time { return clock }

	path, err := svc.PerformBackup(ctx)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.FileExists(t, filepath.Join(dir, "backup_20260401_100000.xlsx"))

	snapshot, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer snapshot.Close()
	got, err := snapshot.GetReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "review", got.Purpose)

	old := filepath.Join(dir, "backup_20200101_000000.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(old, clock.AddDate(0, 0, -30), clock.AddDate(0, 0, -30)))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)
}
