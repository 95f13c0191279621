// Package pgstore binds store.Store directly to PostgreSQL through a pgx
// connection pool. Rows are projected to JSON server-side with to_jsonb so
// the same decoding path serves this binding and the HTTP one.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn() querier {
	return s.pool
}

func (s *Store) List(ctx context.Context, relation string, q store.Query) ([]json.RawMessage, error) {
	sql, err := ListSQL(relation, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn().Query(ctx, sql)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", relation, err)
		}
		out = append(out, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, relation string, v store.Values) error {
	sql, args, err := InsertSQL(relation, v)
	if err != nil {
		return err
	}
	if _, err := s.conn().Exec(ctx, sql, args...); err != nil {
		return translate(err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, relation, id string, v store.Values) error {
	sql, args, err := UpdateSQL(relation, id, v)
	if err != nil {
		return err
	}
	tag, err := s.conn().Exec(ctx, sql, args...)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return missing(relation, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, relation, id string) error {
	if !store.ValidIdent(relation) {
		return fmt.Errorf("invalid relation %q", relation)
	}
	tag, err := s.conn().Exec(ctx, `DELETE FROM `+relation+` WHERE id = $1`, id)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return missing(relation, id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, relation string) (int, error) {
	if !store.ValidIdent(relation) {
		return 0, fmt.Errorf("invalid relation %q", relation)
	}
	var n int
	if err := s.conn().QueryRow(ctx, `SELECT COUNT(*) FROM `+relation).Scan(&n); err != nil {
		return 0, translate(err)
	}
	return n, nil
}

// ListSQL renders q as a single query returning one jsonb value per row.
func ListSQL(relation string, q store.Query) (string, error) {
	if !store.ValidIdent(relation) {
		return "", fmt.Errorf("invalid relation %q", relation)
	}
	if err := q.Validate(); err != nil {
		return "", err
	}

	proj := jsonObject("t", q.Columns)
	for i, j := range q.Joins {
		alias := fmt.Sprintf("j%d", i)
		proj += fmt.Sprintf(" || jsonb_build_object('%s', (SELECT %s FROM %s %s WHERE %s.id = t.%s))",
			j.Relation, jsonObject(alias, j.Columns), j.Relation, alias, alias, j.ForeignKey)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s t", proj, relation)
	if q.OrderBy != nil {
		dir := "ASC"
		if q.OrderBy.Descending {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY t.%s %s", q.OrderBy.Column, dir)
	}
	return b.String(), nil
}

func jsonObject(alias string, cols []string) string {
	if len(cols) == 0 {
		return "to_jsonb(" + alias + ")"
	}
	pairs := make([]string, 0, len(cols))
	for _, c := range cols {
		pairs = append(pairs, fmt.Sprintf("'%s', %s.%s", c, alias, c))
	}
	return "jsonb_build_object(" + strings.Join(pairs, ", ") + ")"
}

// InsertSQL renders a parameterized INSERT for v.
func InsertSQL(relation string, v store.Values) (string, []any, error) {
	if !store.ValidIdent(relation) {
		return "", nil, fmt.Errorf("invalid relation %q", relation)
	}
	cols := v.Columns()
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", relation), nil, nil
	}
	params := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		if !store.ValidIdent(c) {
			return "", nil, fmt.Errorf("invalid column %q", c)
		}
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = v[c]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		relation, strings.Join(cols, ", "), strings.Join(params, ", "))
	return sql, args, nil
}

// UpdateSQL renders a parameterized UPDATE of row id; $1 is the id.
func UpdateSQL(relation, id string, v store.Values) (string, []any, error) {
	if !store.ValidIdent(relation) {
		return "", nil, fmt.Errorf("invalid relation %q", relation)
	}
	cols := v.Without("id", "created_at").Columns()
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("update %s: no columns to set", relation)
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	args = append(args, id)
	for i, c := range cols {
		if !store.ValidIdent(c) {
			return "", nil, fmt.Errorf("invalid column %q", c)
		}
		sets[i] = fmt.Sprintf("%s = $%d", c, i+2)
		args = append(args, v[c])
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE id = $1", relation, strings.Join(sets, ", "))
	return sql, args, nil
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := store.KindForCode(pgErr.Code)
		status := http.StatusBadRequest
		switch kind {
		case store.ErrForeignKey, store.ErrConflict:
			status = http.StatusConflict
		case store.ErrUnauthorized:
			status = http.StatusForbidden
		case nil:
			status = http.StatusInternalServerError
			kind = store.ErrUnavailable
		}
		return &store.Error{
			Status:  status,
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
			Kind:    kind,
		}
	}
	return &store.Error{
		Status:  http.StatusServiceUnavailable,
		Message: err.Error(),
		Kind:    store.ErrUnavailable,
	}
}

func missing(relation, id string) error {
	return &store.Error{
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("no %s row with id %s", relation, id),
		Kind:    store.ErrNotFound,
	}
}
