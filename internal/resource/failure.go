package resource

import (
	"errors"
	"fmt"

	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

// Kind classifies a Failure.
type Kind int

const (
	// KindFetch is a failed list or refresh. The snapshot is kept.
	KindFetch Kind = iota + 1
	// KindMutation is a create, update or delete the store rejected, or one
	// the authorization gate refused before it was sent.
	KindMutation
	// KindValidation is a local rejection. Nothing reached the store.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindMutation:
		return "mutation"
	case KindValidation:
		return "validation"
	}
	return "unknown"
}

var (
	ErrFetch      = errors.New("fetch failed")
	ErrMutation   = errors.New("mutation rejected")
	ErrValidation = errors.New("validation failed")

	ErrForbidden      = errors.New("not permitted for the current role")
	ErrNotReady       = errors.New("session is not signed in with a role")
	ErrSessionChanged = errors.New("session changed while the request was in flight")
	ErrUnconfirmed    = errors.New("delete requires confirmation")
)

func (k Kind) sentinel() error {
	switch k {
	case KindFetch:
		return ErrFetch
	case KindMutation:
		return ErrMutation
	case KindValidation:
		return ErrValidation
	}
	return nil
}

// Failure is the error returned by every controller operation. None of them
// are fatal: the snapshot, and any draft held by a form, survive a Failure.
type Failure struct {
	Kind     Kind
	Op       string
	Relation string
	// Reason is the user-facing explanation, taken from the store when it gave one.
	Reason string
	// Applied is set when the write reached the store but the follow-up
	// refresh failed.
	Applied bool
	Err     error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s %s: %s", f.Op, f.Relation, f.Reason)
	if f.Applied {
		msg += " (write applied)"
	}
	return msg
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches the sentinel of the failure's kind, so
// errors.Is(err, ErrMutation) reports any mutation failure.
func (f *Failure) Is(target error) bool {
	return target != nil && target == f.Kind.sentinel()
}

func newFailure(kind Kind, op, relation string, err error) *Failure {
	return &Failure{
		Kind:     kind,
		Op:       op,
		Relation: relation,
		Reason:   store.Reason(err),
		Err:      err,
	}
}

// Invalid builds a validation failure for op on relation.
func Invalid(op, relation string, err error) *Failure {
	return newFailure(KindValidation, op, relation, err)
}

// AsFailure returns the Failure wrapped in err, if any.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
