// Package form coordinates the single editable draft that backs both the
// create and the edit form of a relation.
package form

import (
	"context"
	"errors"
	"sync"

	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/resource"
)

var ErrNotOpen = errors.New("form is not open")

// Mode says what a submit will do. It is either Creating or Editing.
type Mode interface {
	isMode()
}

// Creating submits the draft as a new record.
type Creating struct{}

// Editing submits the draft as an update of record ID.
type Editing struct {
	ID string
}

func (Creating) isMode() {}
func (Editing) isMode()  {}

// Draft is the in-progress form value of one record type.
type Draft interface {
	// Validate reports missing or malformed fields. A FieldErrors value is
	// returned when individual fields are at fault.
	Validate() error
	// Values maps the draft to the columns written to the store.
	Values() (store.Values, error)
}

// Target is the controller a form submits to.
type Target interface {
	Relation() string
	Create(ctx context.Context, v store.Values) error
	Update(ctx context.Context, id string, v store.Values) error
}

// State is a read of the coordinator. Mode is nil while the form is idle.
type State[D Draft] struct {
	Open  bool
	Mode  Mode
	Draft D
}

// Coordinator holds one draft keyed to either no record (Creating) or exactly
// one record (Editing). A draft is never seeded from more than one record.
type Coordinator[T resource.Record, D Draft] struct {
	target Target
	blank  func() D
	seed   func(T) D

	mu    sync.Mutex
	open  bool
	mode  Mode
	draft D
}

// New returns an idle coordinator. blank builds the empty create draft and
// seed builds an edit draft from an existing record.
func New[T resource.Record, D Draft](target Target, blank func() D, seed func(T) D) *Coordinator[T, D] {
	return &Coordinator[T, D]{target: target, blank: blank, seed: seed}
}

// OpenCreate discards any current draft and opens an empty one.
func (c *Coordinator[T, D]) OpenCreate() State[D] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.mode = Creating{}
	c.draft = c.blank()
	return c.state()
}

// OpenEdit discards any current draft and opens one seeded from rec.
func (c *Coordinator[T, D]) OpenEdit(rec T) State[D] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	c.mode = Editing{ID: rec.RecordID()}
	c.draft = c.seed(rec)
	return c.state()
}

// Update applies fn to the open draft.
func (c *Coordinator[T, D]) Update(fn func(*D)) (State[D], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return c.state(), resource.Invalid("edit draft", c.target.Relation(), ErrNotOpen)
	}
	fn(&c.draft)
	return c.state(), nil
}

// SetDraft replaces the open draft.
func (c *Coordinator[T, D]) SetDraft(d D) (State[D], error) {
	return c.Update(func(cur *D) { *cur = d })
}

// Submit validates the draft and dispatches it to the target. On success the
// form closes. On a mutation failure the form stays open with the draft
// intact. A validation failure never reaches the store.
func (c *Coordinator[T, D]) Submit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "submit"
	rel := c.target.Relation()
	if !c.open {
		return resource.Invalid(op, rel, ErrNotOpen)
	}
	if err := c.draft.Validate(); err != nil {
		return resource.Invalid(op, rel, err)
	}
	vals, err := c.draft.Values()
	if err != nil {
		return resource.Invalid(op, rel, err)
	}

	switch m := c.mode.(type) {
	case Creating:
		err = c.target.Create(ctx, vals)
	case Editing:
		err = c.target.Update(ctx, m.ID, vals)
	}

	if err == nil {
		c.reset()
		return nil
	}
	if f, ok := resource.AsFailure(err); ok && f.Applied {
		c.reset()
	}
	return err
}

// Cancel closes the form and discards the draft.
func (c *Coordinator[T, D]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// State returns the current form state.
func (c *Coordinator[T, D]) State() State[D] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state()
}

func (c *Coordinator[T, D]) state() State[D] {
	return State[D]{Open: c.open, Mode: c.mode, Draft: c.draft}
}

func (c *Coordinator[T, D]) reset() {
	var zero D
	c.open = false
	c.mode = nil
	c.draft = zero
}
