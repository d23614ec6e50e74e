package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownTable = errors.New("unknown table")

// Row is one record keyed by column name.
type Row map[string]any

// tableColumns lists the columns Save writes and Get reads, in order.
var tableColumns = map[string][]string{
	"watchlist":  {"symbol", "exchange"},
	"strategies": {"strategy_type", "contract", "timeframe", "balance_pct", "take_profit", "stop_loss", "extra_params"},
}

// Queries implements the workspace table store.
type Queries struct {
	d *Database
}

// Queries returns the table store over d.
func (d *Database) Queries() *Queries {
	return &Queries{d: d}
}

// Save replaces the whole content of table with rows. Missing columns are
// stored as NULL, unknown keys are ignored.
func (q *Queries) Save(ctx context.Context, table string, rows []Row) error {
	cols, ok := tableColumns[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)

	return q.d.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		stmt, err := tx.PrepareContext(ctx, insert)
		if err != nil {
			return err
		}
		defer stmt.Close()

		args := make([]any, len(cols))
		for i, row := range rows {
			for j, c := range cols {
				args[j] = row[c]
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("insert %s row %d: %w", table, i, err)
			}
		}
		return nil
	})
}

// Get returns every row of table in insertion order.
func (q *Queries) Get(ctx context.Context, table string) ([]Row, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}

	rows, err := q.d.DB.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(cols, ", "), table))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
