// Package resource holds the controller that owns one relation's local
// snapshot and drives its create, update and delete lifecycle against the
// remote store.
package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

// Record is a row type held by a Controller.
type Record interface {
	RecordID() string
}

// ServerAssigned lists the columns the store fills in itself. They are
// stripped from every write.
var ServerAssigned = []string{"id", "created_at", "updated_at"}

type Config struct {
	Entity   auth.Entity
	Relation string
	Query    store.Query
	Logger   zerolog.Logger
}

// Snapshot is a consistent read of a controller's state.
type Snapshot[T Record] struct {
	Rows      []T
	Version   uint64
	Session   auth.Session
	FetchedAt time.Time
	// Err is the most recent fetch failure, cleared by the next successful refresh.
	Err *Failure
}

// Controller owns the authoritative local snapshot of one relation.
//
// Writes are serialized and every successful write is followed by a refresh
// before it is reported, so callers always observe the store's canonical
// post-write state. Refreshes may overlap; the last one issued wins.
type Controller[T Record] struct {
	store  store.Store
	cfg    Config
	logger zerolog.Logger

	writeMu sync.Mutex
	seq     atomic.Uint64

	mu        sync.RWMutex
	rows      []T
	version   uint64
	applied   uint64
	floor     uint64
	session   auth.Session
	key       string
	bound     chan struct{}
	fetchedAt time.Time
	lastErr   *Failure
}

// New returns a controller for cfg.Relation. It holds no rows until a
// ready session is bound.
func New[T Record](s store.Store, cfg Config) *Controller[T] {
	return &Controller[T]{
		store:  s,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("relation", cfg.Relation).Logger(),
	}
}

func (c *Controller[T]) Relation() string    { return c.cfg.Relation }
func (c *Controller[T]) Entity() auth.Entity { return c.cfg.Entity }

// Bind attaches the caller's session. A transition to a new ready
// (identity, role) pair clears the snapshot and refreshes exactly once;
// rebinding the same pair only updates the session, after waiting for that
// transition's refresh to settle. Binding a session that is not ready clears
// the snapshot and fetches nothing.
func (c *Controller[T]) Bind(ctx context.Context, s auth.Session) error {
	_, err := c.bind(ctx, s)
	return err
}

// Revalidate binds s and then refreshes if the snapshot holds a fetch
// failure or was fetched more than maxAge ago. A maxAge of zero only retries
// failures. Nothing is refetched when binding already did so.
func (c *Controller[T]) Revalidate(ctx context.Context, s auth.Session, maxAge time.Duration) error {
	fetched, err := c.bind(ctx, s)
	if fetched || err != nil {
		return err
	}

	c.mu.RLock()
	ready := c.session.Ready()
	failed := c.lastErr != nil
	age := time.Since(c.fetchedAt)
	never := c.fetchedAt.IsZero()
	c.mu.RUnlock()

	if !ready {
		return nil
	}
	if failed || never || (maxAge > 0 && age > maxAge) {
		return c.Refresh(ctx)
	}
	return nil
}

// bind reports whether it performed the transition refresh itself.
func (c *Controller[T]) bind(ctx context.Context, s auth.Session) (bool, error) {
	key := s.Key()

	c.mu.Lock()
	if key == c.key {
		c.session = s
		pending := c.bound
		c.mu.Unlock()
		return false, c.await(ctx, pending)
	}
	c.session = s
	c.key = key
	c.floor = c.seq.Load()
	c.rows = nil
	c.applied = 0
	c.lastErr = nil
	c.fetchedAt = time.Time{}
	c.version++
	bound := make(chan struct{})
	c.bound = bound
	c.mu.Unlock()
	defer close(bound)

	if key == "" {
		c.logger.Debug().Msg("session not ready, snapshot cleared")
		return false, nil
	}
	return true, c.Refresh(ctx)
}

// await blocks until the refresh of the current binding has settled.
func (c *Controller[T]) await(ctx context.Context, pending chan struct{}) error {
	if pending == nil {
		return nil
	}
	select {
	case <-pending:
		return nil
	case <-ctx.Done():
		return newFailure(KindFetch, "bind", c.cfg.Relation, ctx.Err())
	}
}

// Refresh replaces the snapshot with a fresh list from the store. On failure
// the previous snapshot is left untouched.
func (c *Controller[T]) Refresh(ctx context.Context) error {
	return c.refresh(ctx, "refresh", "")
}

// refresh fetches under the bound session. When key is set the fetch is
// skipped unless that session is still the bound one.
func (c *Controller[T]) refresh(ctx context.Context, op, key string) error {
	c.mu.RLock()
	ready := c.session.Ready()
	current := c.key
	c.mu.RUnlock()
	if !ready {
		return newFailure(KindFetch, op, c.cfg.Relation, ErrNotReady)
	}
	if key != "" && key != current {
		c.logger.Debug().Str("op", op).Msg("session changed during write, skipping refresh")
		return newFailure(KindFetch, op, c.cfg.Relation, ErrSessionChanged)
	}

	seq := c.seq.Add(1)
	raw, err := c.store.List(ctx, c.cfg.Relation, c.cfg.Query)
	var rows []T
	if err == nil {
		rows, err = decode[T](raw)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq <= c.floor {
		c.logger.Debug().Uint64("seq", seq).Msg("discarding refresh from previous session")
		return newFailure(KindFetch, op, c.cfg.Relation, ErrSessionChanged)
	}
	if err != nil {
		f := newFailure(KindFetch, op, c.cfg.Relation, err)
		if seq > c.applied {
			c.lastErr = f
		}
		c.logger.Warn().Err(err).Str("op", op).Msg("refresh failed, keeping snapshot")
		return f
	}
	if seq <= c.applied {
		c.logger.Debug().Uint64("seq", seq).Uint64("applied", c.applied).Msg("discarding stale refresh")
		return nil
	}

	c.rows = rows
	c.applied = seq
	c.version++
	c.fetchedAt = time.Now().UTC()
	c.lastErr = nil
	c.logger.Debug().Int("rows", len(rows)).Uint64("version", c.version).Msg("snapshot refreshed")
	return nil
}

func decode[T any](raw []json.RawMessage) ([]T, error) {
	rows := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decoding row %d: %w", i, err)
		}
		rows = append(rows, v)
	}
	return rows, nil
}

// Snapshot returns the current state. The returned rows are a copy.
func (c *Controller[T]) Snapshot() Snapshot[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows := make([]T, len(c.rows))
	copy(rows, c.rows)
	return Snapshot[T]{
		Rows:      rows,
		Version:   c.version,
		Session:   c.session,
		FetchedAt: c.fetchedAt,
		Err:       c.lastErr,
	}
}

// Find returns the snapshot row with the given id.
func (c *Controller[T]) Find(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rows {
		if r.RecordID() == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// Permissions reports which mutation controls the bound session may use.
func (c *Controller[T]) Permissions() auth.Permissions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.session.Ready() {
		return auth.Permissions{}
	}
	return auth.PermissionsFor(c.session.Role, c.cfg.Entity)
}

// Create inserts a new row. Server-assigned columns in v are dropped.
func (c *Controller[T]) Create(ctx context.Context, v store.Values) error {
	const op = "create"
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	key, err := c.authorize(op, auth.ActionCreate)
	if err != nil {
		return err
	}
	v = v.Without(ServerAssigned...)
	if len(v) == 0 {
		return Invalid(op, c.cfg.Relation, fmt.Errorf("no fields to insert"))
	}
	if err := c.store.Insert(ctx, c.cfg.Relation, v); err != nil {
		return c.rejected(op, err)
	}
	return c.afterWrite(ctx, op, key)
}

// Update replaces the given columns of row id. A row that no longer exists
// is reported as a mutation failure.
func (c *Controller[T]) Update(ctx context.Context, id string, v store.Values) error {
	const op = "update"
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	key, err := c.authorize(op, auth.ActionEdit)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return Invalid(op, c.cfg.Relation, fmt.Errorf("id is required"))
	}
	v = v.Without(ServerAssigned...)
	if len(v) == 0 {
		return Invalid(op, c.cfg.Relation, fmt.Errorf("no fields to update"))
	}
	if err := c.store.Update(ctx, c.cfg.Relation, id, v); err != nil {
		return c.rejected(op, err)
	}
	return c.afterWrite(ctx, op, key)
}

// Delete removes row id. confirmed records that the user explicitly
// accepted an irreversible delete; without it nothing is sent.
func (c *Controller[T]) Delete(ctx context.Context, id string, confirmed bool) error {
	const op = "delete"
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if !confirmed {
		return Invalid(op, c.cfg.Relation, ErrUnconfirmed)
	}
	key, err := c.authorize(op, auth.ActionDelete)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return Invalid(op, c.cfg.Relation, fmt.Errorf("id is required"))
	}
	if err := c.store.Delete(ctx, c.cfg.Relation, id); err != nil {
		return c.rejected(op, err)
	}
	return c.afterWrite(ctx, op, key)
}

// authorize checks the gate and returns the key of the session it checked.
func (c *Controller[T]) authorize(op string, action auth.Action) (string, error) {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()

	if !s.Ready() {
		return "", newFailure(KindMutation, op, c.cfg.Relation, ErrNotReady)
	}
	if !auth.CanMutate(s.Role, action, c.cfg.Entity) {
		c.logger.Warn().Str("op", op).Str("role", string(s.Role)).Msg("mutation denied by gate")
		return "", newFailure(KindMutation, op, c.cfg.Relation, ErrForbidden)
	}
	return s.Key(), nil
}

func (c *Controller[T]) rejected(op string, err error) error {
	c.logger.Warn().Err(err).Str("op", op).Msg("store rejected mutation")
	return newFailure(KindMutation, op, c.cfg.Relation, err)
}

func (c *Controller[T]) afterWrite(ctx context.Context, op, key string) error {
	if err := c.refresh(ctx, op, key); err != nil {
		if f, ok := AsFailure(err); ok {
			f.Applied = true
			return f
		}
		return err
	}
	c.logger.Debug().Str("op", op).Msg("mutation applied")
	return nil
}
