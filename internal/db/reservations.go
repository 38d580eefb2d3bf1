package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cabinbook/internal/apperr"
	"cabinbook/internal/domain"
	"cabinbook/internal/interval"
	"cabinbook/internal/model"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const reservationColumns = `id, requester_id, cabin_id, date, start_min, end_min, purpose, category, status, priority,
	approved_by, approved_at, rejected_by, rejected_at, rejection_reason, cancelled_by, cancelled_at,
	created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanReservation fails with a validation error when a stored enum or
// interval is not one the service knows.
func scanReservation(s rowScanner) (*model.Reservation, error) {
	var (
		r                                   model.Reservation
		date, category, status, priority    string
		start, end                          int
		approvedBy, rejectedBy, cancelledBy sql.NullInt64
		approvedAt, rejectedAt, cancelledAt sql.NullString
		createdAt, updatedAt                string
	)
	if err := s.Scan(
		&r.ID, &r.RequesterID, &r.CabinID, &date, &start, &end, &r.Purpose, &category, &status, &priority,
		&approvedBy, &approvedAt, &rejectedBy, &rejectedAt, &r.RejectionReason, &cancelledBy, &cancelledAt,
		&createdAt, &updatedAt, &r.Version,
	); err != nil {
		return nil, err
	}

	var err error
	if r.Date, err = model.ParseDate(date); err != nil {
		return nil, err
	}
	if start < 0 || end > interval.MinutesPerDay || start >= end {
		return nil, apperr.Validation("reservation %s has invalid interval %d-%d", r.ID, start, end)
	}
	r.Interval = interval.Interval{Start: start, End: end}
	if r.Category, err = model.ParseCategory(category); err != nil {
		return nil, err
	}
	if r.Status, err = model.ParseStatus(status); err != nil {
		return nil, err
	}
	if r.Priority, err = model.ParsePriority(priority); err != nil {
		return nil, err
	}

	r.ApprovedBy = fromNullID(approvedBy)
	r.RejectedBy = fromNullID(rejectedBy)
	r.CancelledBy = fromNullID(cancelledBy)
	if r.ApprovedAt, err = fromNullTS(approvedAt); err != nil {
		return nil, err
	}
	if r.RejectedAt, err = fromNullTS(rejectedAt); err != nil {
		return nil, err
	}
	if r.CancelledAt, err = fromNullTS(cancelledAt); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = parseTS(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectReservations(rows *sql.Rows) ([]*model.Reservation, error) {
	defer rows.Close()
	var out []*model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getReservation(ctx context.Context, q querier, id string) (*model.Reservation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("reservation %s not found", id)
	}
	if err != nil {
		return nil, apperr.Store("get reservation", err)
	}
	return r, nil
}

func listActive(ctx context.Context, q querier, cabinID int64, date time.Time) ([]*model.Reservation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE cabin_id = ? AND date = ? AND status IN (?, ?)
		ORDER BY start_min, id`,
		cabinID, date.Format(model.DateLayout), string(model.StatusPending), string(model.StatusApproved),
	)
	if err != nil {
		return nil, apperr.Store("list active reservations", err)
	}
	out, err := collectReservations(rows)
	if err != nil {
		return nil, apperr.Store("list active reservations", err)
	}
	return out, nil
}

func (db *DB) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return getReservation(ctx, db.DB, id)
}

func (db *DB) ListActiveReservations(ctx context.Context, cabinID int64, date time.Time) ([]*model.Reservation, error) {
	return listActive(ctx, db.DB, cabinID, date)
}

// ListReservations returns rows matching filter ordered by created_at, id.
func (db *DB) ListReservations(ctx context.Context, filter model.ReservationFilter) ([]*model.Reservation, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, string(s))
		}
	}
	if len(filter.Priorities) > 0 {
		where = append(where, "priority IN ("+placeholders(len(filter.Priorities))+")")
		for _, p := range filter.Priorities {
			args = append(args, p.String())
		}
	}
	if filter.RequesterID != 0 {
		where = append(where, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.CabinID != 0 {
		where = append(where, "cabin_id = ?")
		args = append(args, filter.CabinID)
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, filter.From.Format(model.DateLayout))
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, filter.To.Format(model.DateLayout))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Store("list reservations", err)
	}
	out, err := collectReservations(rows)
	if err != nil {
		return nil, apperr.Store("list reservations", err)
	}
	return out, nil
}

func (db *DB) ListActions(ctx context.Context, reservationID string) ([]*model.Action, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, reservation_id, action, actor_id, reason, old_cabin_id, new_cabin_id, at
		FROM reservation_actions
		WHERE reservation_id = ?
		ORDER BY id`, reservationID)
	if err != nil {
		return nil, apperr.Store("list actions", err)
	}
	defer rows.Close()

	var out []*model.Action
	for rows.Next() {
		var (
			a    model.Action
			kind string
			at   string
		)
		if err := rows.Scan(&a.ID, &a.ReservationID, &kind, &a.ActorID, &a.Reason, &a.OldCabinID, &a.NewCabinID, &at); err != nil {
			return nil, apperr.Store("scan action", err)
		}
		a.Kind = model.ActionKind(kind)
		if a.At, err = parseTS(at); err != nil {
			return nil, apperr.Store("scan action", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("list actions", err)
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Begin opens a write transaction. The SQLite write lock is held from here
// until Commit or Rollback.
func (db *DB) Begin(ctx context.Context) (domain.Tx, error) {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Store("begin", err)
	}
	return &tx{tx: sqlTx, now: db.now}, nil
}

type tx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *tx) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	return getReservation(ctx, t.tx, id)
}

func (t *tx) ListActiveReservations(ctx context.Context, cabinID int64, date time.Time) ([]*model.Reservation, error) {
	return listActive(ctx, t.tx, cabinID, date)
}

func (t *tx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = t.now()
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = r.CreatedAt
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		r.ID, r.RequesterID, r.CabinID, r.Date.Format(model.DateLayout), r.Interval.Start, r.Interval.End,
		r.Purpose, string(r.Category), string(r.Status), r.Priority.String(),
		nullID(r.ApprovedBy), nullTS(r.ApprovedAt), nullID(r.RejectedBy), nullTS(r.RejectedAt), r.RejectionReason,
		nullID(r.CancelledBy), nullTS(r.CancelledAt), formatTS(r.CreatedAt), formatTS(r.UpdatedAt),
	)
	if err != nil {
		return apperr.Store("insert reservation", err)
	}
	r.Version = 1
	return nil
}

func (t *tx) UpdateReservation(ctx context.Context, r *model.Reservation, expectedVersion int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE reservations SET
			cabin_id = ?, date = ?, start_min = ?, end_min = ?, purpose = ?, category = ?, status = ?, priority = ?,
			approved_by = ?, approved_at = ?, rejected_by = ?, rejected_at = ?, rejection_reason = ?,
			cancelled_by = ?, cancelled_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		r.CabinID, r.Date.Format(model.DateLayout), r.Interval.Start, r.Interval.End, r.Purpose,
		string(r.Category), string(r.Status), r.Priority.String(),
		nullID(r.ApprovedBy), nullTS(r.ApprovedAt), nullID(r.RejectedBy), nullTS(r.RejectedAt), r.RejectionReason,
		nullID(r.CancelledBy), nullTS(r.CancelledAt), formatTS(r.UpdatedAt),
		r.ID, expectedVersion,
	)
	if err != nil {
		return apperr.Store("update reservation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Store("update reservation", err)
	}
	if n == 0 {
		if _, err := getReservation(ctx, t.tx, r.ID); err != nil {
			return err
		}
		return apperr.AlreadyProcessed("reservation %s was modified concurrently", r.ID)
	}
	r.Version = expectedVersion + 1
	return nil
}

func (t *tx) RecordAction(ctx context.Context, a *model.Action) error {
	if a.At.IsZero() {
		a.At = t.now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservation_actions (reservation_id, action, actor_id, reason, old_cabin_id, new_cabin_id, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ReservationID, string(a.Kind), a.ActorID, a.Reason, a.OldCabinID, a.NewCabinID, formatTS(a.At),
	)
	if err != nil {
		return apperr.Store("record action", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return apperr.Store("record action", err)
	}
	return nil
}

func (t *tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback after Commit is a no-op.
func (t *tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
