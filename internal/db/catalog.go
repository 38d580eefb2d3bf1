package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"cabinbook/internal/apperr"
	"cabinbook/internal/model"
)

func scanCabin(s rowScanner) (*model.Cabin, error) {
	var (
		c              model.Cabin
		access, status string
		updatedAt      string
	)
	if err := s.Scan(&c.ID, &c.Name, &c.Capacity, &access, &status, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.Access, err = model.ParseAccessClass(access); err != nil {
		return nil, err
	}
	if c.Status, err = model.ParseCabinStatus(status); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) GetCabin(ctx context.Context, id int64) (*model.Cabin, error) {
	row := db.QueryRowContext(ctx, `SELECT id, name, capacity, access, status, updated_at FROM cabins WHERE id = ?`, id)
	c, err := scanCabin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("cabin %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store("get cabin", err)
	}
	return c, nil
}

func (db *DB) ListCabins(ctx context.Context) ([]*model.Cabin, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, name, capacity, access, status, updated_at FROM cabins ORDER BY id`)
	if err != nil {
		return nil, apperr.Store("list cabins", err)
	}
	defer rows.Close()

	var out []*model.Cabin
	for rows.Next() {
		c, err := scanCabin(rows)
		if err != nil {
			return nil, apperr.Store("scan cabin", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("list cabins", err)
	}
	return out, nil
}

func (db *DB) GetRequester(ctx context.Context, id int64) (*model.Requester, error) {
	var (
		r         model.Requester
		privilege string
		updatedAt string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, privilege, active, chat_id, updated_at FROM requesters WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &privilege, &r.Active, &r.ChatID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("requester %d not found", id)
	}
	if err != nil {
		return nil, apperr.Store("get requester", err)
	}
	if r.Privilege, err = model.ParsePrivilege(privilege); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTS(updatedAt); err != nil {
		return nil, apperr.Store("get requester", err)
	}
	return &r, nil
}

// SyncCatalog upserts cabins and requesters from configuration. Rows that
// disappeared from it are deactivated rather than deleted, so existing
// reservations keep resolving.
func (db *DB) SyncCatalog(ctx context.Context, cabins []model.Cabin, requesters []model.Requester) error {
	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Store("sync catalog", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	now := formatTS(db.now())

	seenCabins := make([]any, 0, len(cabins))
	for _, c := range cabins {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO cabins (id, name, capacity, access, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				capacity = excluded.capacity,
				access = excluded.access,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			c.ID, c.Name, c.Capacity, string(c.Access), string(c.Status), now, now,
		)
		if err != nil {
			return apperr.Store(fmt.Sprintf("sync cabin %d", c.ID), err)
		}
		seenCabins = append(seenCabins, c.ID)
	}
	deactivate := `UPDATE cabins SET status = 'inactive', updated_at = ? WHERE status != 'inactive'`
	args := []any{now}
	if len(seenCabins) > 0 {
		deactivate += ` AND id NOT IN (` + placeholders(len(seenCabins)) + `)`
		args = append(args, seenCabins...)
	}
	if _, err := sqlTx.ExecContext(ctx, deactivate, args...); err != nil {
		return apperr.Store("deactivate cabins", err)
	}

	seenRequesters := make([]any, 0, len(requesters))
	for _, r := range requesters {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO requesters (id, name, privilege, active, chat_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				privilege = excluded.privilege,
				active = excluded.active,
				chat_id = excluded.chat_id,
				updated_at = excluded.updated_at`,
			r.ID, r.Name, string(r.Privilege), r.Active, r.ChatID, now, now,
		)
		if err != nil {
			return apperr.Store(fmt.Sprintf("sync requester %d", r.ID), err)
		}
		seenRequesters = append(seenRequesters, r.ID)
	}
	deactivate = `UPDATE requesters SET active = 0, updated_at = ? WHERE active = 1`
	args = []any{now}
	if len(seenRequesters) > 0 {
		deactivate += ` AND id NOT IN (` + placeholders(len(seenRequesters)) + `)`
		args = append(args, seenRequesters...)
	}
	if _, err := sqlTx.ExecContext(ctx, deactivate, args...); err != nil {
		return apperr.Store("deactivate requesters", err)
	}

	if err := sqlTx.Commit(); err != nil {
		return apperr.Store("sync catalog", err)
	}
	db.logger.Info().Int("cabins", len(cabins)).Int("requesters", len(requesters)).Msg("catalog synced")
	return nil
}
