// Package store is the typed facade over the relational store: equality-filter
// row CRUD on named tables, plus normalization of mixed-casing rows into the
// domain types.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nooble8/ragcore/pkg/apperr"
)

// RowStore is the row-level surface of the relational store: equality-filter
// CRUD over named tables. The production implementation is Postgres via pgx;
// tests substitute an in-memory fake.
type RowStore interface {
	Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error)
	SelectOne(ctx context.Context, table string, filters map[string]any) (map[string]any, error)
	Insert(ctx context.Context, table string, row map[string]any) error
	Update(ctx context.Context, table string, values, filters map[string]any) (int64, error)
	Delete(ctx context.Context, table string, filters map[string]any) (int64, error)
}

// PgxRows implements RowStore on a pgx connection pool.
type PgxRows struct {
	pool *pgxpool.Pool
}

// NewPgxRows creates the Postgres row store.
func NewPgxRows(pool *pgxpool.Pool) *PgxRows {
	return &PgxRows{pool: pool}
}

// Select returns rows matching the equality filters. limit <= 0 means no limit.
func (s *PgxRows) Select(ctx context.Context, table string, filters map[string]any, limit int) ([]map[string]any, error) {
	where, args := buildWhere(filters, 1)
	query := fmt.Sprintf("SELECT * FROM %s%s", table, where)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "select failed", err)
	}
	defer rows.Close()

	var out []map[string]any
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, apperr.Wrap(apperr.KindStorage, "row scan failed", err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "row iteration failed", err)
	}
	return out, nil
}

// SelectOne returns exactly one matching row, or a NotFound error.
func (s *PgxRows) SelectOne(ctx context.Context, table string, filters map[string]any) (map[string]any, error) {
	rows, err := s.Select(ctx, table, filters, 1)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.Newf(apperr.KindNotFound, "%s row not found", table)
		}
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.Newf(apperr.KindNotFound, "%s row not found", table)
	}
	return rows[0], nil
}

// Insert adds one row.
func (s *PgxRows) Insert(ctx context.Context, table string, row map[string]any) error {
	cols := sortedKeys(row)
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return apperr.Wrap(apperr.KindStorage, "insert failed", err)
	}
	return nil
}

// Update sets values on rows matching the equality filters; returns the
// affected row count.
func (s *PgxRows) Update(ctx context.Context, table string, values, filters map[string]any) (int64, error) {
	cols := sortedKeys(values)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(values)+len(filters))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, values[col])
	}

	where, whereArgs := buildWhere(filters, len(cols)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, "update failed", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes rows matching the equality filters; returns the affected
// row count.
func (s *PgxRows) Delete(ctx context.Context, table string, filters map[string]any) (int64, error) {
	where, args := buildWhere(filters, 1)
	query := fmt.Sprintf("DELETE FROM %s%s", table, where)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStorage, "delete failed", err)
	}
	return tag.RowsAffected(), nil
}

// buildWhere renders equality filters as a WHERE clause with stable column
// order, starting placeholders at $start.
func buildWhere(filters map[string]any, start int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	cols := sortedKeys(filters)
	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", col, start+i)
		args[i] = filters[col]
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
