// Package store defines the boundary with the remote relational store that
// holds the console's relations. The store is an external collaborator: the
// console never persists anything itself, it only lists, inserts, updates and
// deletes rows through this interface.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// Store is the per-relation CRUD surface consumed by resource controllers.
type Store interface {
	List(ctx context.Context, relation string, q Query) ([]json.RawMessage, error)
	Insert(ctx context.Context, relation string, v Values) error
	Update(ctx context.Context, relation, id string, v Values) error
	Delete(ctx context.Context, relation, id string) error
	Count(ctx context.Context, relation string) (int, error)
}

// Values is a record or a partial record keyed by column name.
type Values map[string]any

// Columns returns the keys of v in a stable order.
func (v Values) Columns() []string {
	cols := make([]string, 0, len(v))
	for k := range v {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Without returns a copy of v with the given columns removed.
func (v Values) Without(cols ...string) Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	for _, c := range cols {
		delete(out, c)
	}
	return out
}

// Order describes a single sort key.
type Order struct {
	Column     string
	Descending bool
}

// Join attaches columns of a referenced relation to each row. The joined
// columns are nested under Relation in the returned JSON object.
type Join struct {
	Relation   string
	ForeignKey string
	Columns    []string
}

// Query shapes a List call. Empty Columns means every column.
type Query struct {
	Columns []string
	OrderBy *Order
	Joins   []Join
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether name is safe to use as a relation or column name.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// Validate checks every identifier referenced by q.
func (q Query) Validate() error {
	for _, c := range q.Columns {
		if !ValidIdent(c) {
			return fmt.Errorf("invalid column %q", c)
		}
	}
	if q.OrderBy != nil && !ValidIdent(q.OrderBy.Column) {
		return fmt.Errorf("invalid order column %q", q.OrderBy.Column)
	}
	for _, j := range q.Joins {
		if !ValidIdent(j.Relation) || !ValidIdent(j.ForeignKey) {
			return fmt.Errorf("invalid join %s(%s)", j.Relation, j.ForeignKey)
		}
		for _, c := range j.Columns {
			if !ValidIdent(c) {
				return fmt.Errorf("invalid join column %q", c)
			}
		}
	}
	return nil
}

type accessTokenKey struct{}

// WithAccessToken attaches the caller's bearer token so bindings that talk to
// a row-level-secured service can forward it.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFromContext returns the token set by WithAccessToken.
func AccessTokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(accessTokenKey{}).(string)
	return tok
}
