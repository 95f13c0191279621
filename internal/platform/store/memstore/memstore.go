// Package memstore is an in-process implementation of store.Store. It keeps
// rows in memory, assigns ids and creation timestamps, enforces declared
// foreign keys, and serves joined reads. It backs the sandbox mode and the
// package tests.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

// Relation declares a named collection of rows.
type Relation struct {
	Name        string
	ForeignKeys map[string]string   // column -> referenced relation
	Required    []string            // NOT NULL columns
	Enums       map[string][]string // CHECK (col IN (...))
	Defaults    store.Values
}

type table struct {
	def  Relation
	rows []store.Values
}

type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	now    func() time.Time
	last   time.Time
}

// New returns a store holding the declared relations.
func New(defs ...Relation) *Store {
	s := &Store{
		tables: make(map[string]*table, len(defs)),
		now:    time.Now,
	}
	for _, d := range defs {
		s.tables[d.Name] = &table{def: d}
	}
	return s
}

// SetClock overrides the creation timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store) table(relation string) (*table, error) {
	t, ok := s.tables[relation]
	if !ok {
		return nil, &store.Error{
			Status:  404,
			Code:    "42P01",
			Message: fmt.Sprintf("relation %q does not exist", relation),
			Kind:    store.ErrNotFound,
		}
	}
	return t, nil
}

func (s *Store) List(ctx context.Context, relation string, q store.Query) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, &store.Error{Status: 400, Message: err.Error(), Kind: store.ErrInvalid}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(relation)
	if err != nil {
		return nil, err
	}

	rows := make([]store.Values, len(t.rows))
	copy(rows, t.rows)
	if q.OrderBy != nil {
		col, desc := q.OrderBy.Column, q.OrderBy.Descending
		sort.SliceStable(rows, func(i, j int) bool {
			c := compare(rows[i][col], rows[j][col])
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		projected := project(r, q.Columns)
		for _, j := range q.Joins {
			projected[j.Relation] = s.joined(j, r[j.ForeignKey])
		}
		b, err := json.Marshal(projected)
		if err != nil {
			return nil, fmt.Errorf("encode %s row: %w", relation, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *Store) joined(j store.Join, fk any) store.Values {
	ref, ok := s.tables[j.Relation]
	if !ok {
		return nil
	}
	for _, r := range ref.rows {
		if r["id"] == fk {
			return project(r, j.Columns)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, relation string, v store.Values) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(relation)
	if err != nil {
		return err
	}

	row := make(store.Values, len(v)+2)
	for k, val := range t.def.Defaults {
		row[k] = val
	}
	for k, val := range v {
		row[k] = val
	}
	row["id"] = uuid.NewString()
	row["created_at"] = s.stamp()

	if err := s.check(t, row); err != nil {
		return err
	}
	t.rows = append(t.rows, row)
	return nil
}

func (s *Store) Update(ctx context.Context, relation, id string, v store.Values) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(relation)
	if err != nil {
		return err
	}
	i := t.indexOf(id)
	if i < 0 {
		return notFound(relation, id)
	}

	row := make(store.Values, len(t.rows[i]))
	for k, val := range t.rows[i] {
		row[k] = val
	}
	for k, val := range v.Without("id", "created_at") {
		row[k] = val
	}
	if err := s.check(t, row); err != nil {
		return err
	}
	t.rows[i] = row
	return nil
}

func (s *Store) Delete(ctx context.Context, relation, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(relation)
	if err != nil {
		return err
	}
	i := t.indexOf(id)
	if i < 0 {
		return notFound(relation, id)
	}

	for name, other := range s.tables {
		for col, ref := range other.def.ForeignKeys {
			if ref != relation {
				continue
			}
			for _, r := range other.rows {
				if r[col] == id {
					return &store.Error{
						Status:  409,
						Code:    "23503",
						Message: fmt.Sprintf("%s row is still referenced from %s", relation, name),
						Kind:    store.ErrForeignKey,
					}
				}
			}
		}
	}

	t.rows = append(t.rows[:i], t.rows[i+1:]...)
	return nil
}

func (s *Store) Count(ctx context.Context, relation string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.table(relation)
	if err != nil {
		return 0, err
	}
	return len(t.rows), nil
}

func (s *Store) check(t *table, row store.Values) error {
	for _, col := range t.def.Required {
		if val, ok := row[col]; !ok || val == nil {
			return &store.Error{
				Status:  400,
				Code:    "23502",
				Message: fmt.Sprintf("null value in column %q of relation %q violates not-null constraint", col, t.def.Name),
				Kind:    store.ErrInvalid,
			}
		}
	}
	for col, allowed := range t.def.Enums {
		val, ok := row[col]
		if !ok || val == nil {
			continue
		}
		if !contains(allowed, fmt.Sprint(val)) {
			return &store.Error{
				Status:  400,
				Code:    "23514",
				Message: fmt.Sprintf("new row for relation %q violates check constraint on %q", t.def.Name, col),
				Kind:    store.ErrInvalid,
			}
		}
	}
	for col, ref := range t.def.ForeignKeys {
		val, ok := row[col]
		if !ok || val == nil {
			continue
		}
		rt, exists := s.tables[ref]
		if !exists || rt.indexOf(fmt.Sprint(val)) < 0 {
			return &store.Error{
				Status:  409,
				Code:    "23503",
				Message: fmt.Sprintf("insert or update on %q violates foreign key on %q", t.def.Name, col),
				Details: fmt.Sprintf("Key (%s)=(%v) is not present in table %q.", col, val, ref),
				Kind:    store.ErrForeignKey,
			}
		}
	}
	return nil
}

// stamp returns a strictly increasing creation time so created_at ordering
// is total even when inserts land within the clock resolution.
func (s *Store) stamp() time.Time {
	now := s.now().UTC()
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}

func (t *table) indexOf(id string) int {
	for i, r := range t.rows {
		if r["id"] == id {
			return i
		}
	}
	return -1
}

func notFound(relation, id string) error {
	return &store.Error{
		Status:  404,
		Code:    "PGRST116",
		Message: fmt.Sprintf("no %s row with id %s", relation, id),
		Kind:    store.ErrNotFound,
	}
}

func project(r store.Values, cols []string) store.Values {
	if len(cols) == 0 {
		out := make(store.Values, len(r))
		for k, v := range r {
			out[k] = v
		}
		return out
	}
	out := make(store.Values, len(cols))
	for _, c := range cols {
		out[c] = r[c]
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
