package db

import (
	"context"
	"fmt"
	"slices"
)

// AuditTableNames are the tables copied into audit snapshots.
var AuditTableNames = []string{"cabins", "requesters", "reservations", "reservation_actions"}

func (db *DB) TableNames(ctx context.Context) ([]string, error) {
	return AuditTableNames, nil
}

// TableData returns every row of table with its column names.
func (db *DB) TableData(ctx context.Context, table string) ([]string, [][]any, error) {
	if !slices.Contains(AuditTableNames, table) {
		return nil, nil, fmt.Errorf("invalid table name: %s", table)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY rowid", table))
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}
