// Package console serves the administrative console over HTTP. Each signed-in
// identity gets a workspace holding its controllers, search views and forms
// for patients, doctors and appointments.
package console

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/platform/store/memstore"
	"github.com/clinicdesk/clinicdesk/internal/search"
)

// Workspace is one identity's console state.
type Workspace struct {
	Patients    *identity.PatientController
	PatientForm *identity.PatientForm
	PatientView *search.View[identity.Patient]

	Doctors    *identity.DoctorController
	DoctorForm *identity.DoctorForm
	DoctorView *search.View[identity.Doctor]

	Appointments    *scheduling.AppointmentController
	AppointmentForm *scheduling.AppointmentForm
	AppointmentView *search.View[scheduling.Appointment]

	loc *time.Location
}

// NewWorkspace wires the three resources against s. Appointment dates are
// edited in loc.
func NewWorkspace(s store.Store, loc *time.Location, logger zerolog.Logger) *Workspace {
	w := &Workspace{
		Patients:     identity.NewPatientController(s, logger),
		Doctors:      identity.NewDoctorController(s, logger),
		Appointments: scheduling.NewAppointmentController(s, logger),

		PatientView:     search.NewView(identity.PatientSearchFields),
		DoctorView:      search.NewView(identity.DoctorSearchFields),
		AppointmentView: search.NewView(scheduling.AppointmentSearchFields),

		loc: loc,
	}
	w.PatientForm = identity.NewPatientForm(w.Patients)
	w.DoctorForm = identity.NewDoctorForm(w.Doctors)
	w.AppointmentForm = scheduling.NewAppointmentForm(w.Appointments, loc)
	return w
}

// Relations declares every console relation for the in-process store.
func Relations() []memstore.Relation {
	return append(identity.Relations(), scheduling.Relations()...)
}

type entry struct {
	ws       *Workspace
	lastUsed time.Time
}

// Registry keeps one workspace per identity and drops those left idle.
type Registry struct {
	build func() *Workspace
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	spaces map[string]*entry
}

func NewRegistry(build func() *Workspace, idleTTL time.Duration) *Registry {
	return &Registry{
		build:  build,
		ttl:    idleTTL,
		now:    time.Now,
		spaces: make(map[string]*entry),
	}
}

// Get returns the workspace of identityID, creating it on first use.
func (r *Registry) Get(identityID string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.spaces[identityID]
	if !ok {
		e = &entry{ws: r.build()}
		r.spaces[identityID] = e
	}
	e.lastUsed = r.now()
	return e.ws
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}

// Sweep drops workspaces idle for longer than the TTL and returns how many
// were dropped.
func (r *Registry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.ttl)
	n := 0
	for id, e := range r.spaces {
		if e.lastUsed.Before(cutoff) {
			delete(r.spaces, id)
			n++
		}
	}
	return n
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context, logger zerolog.Logger) {
	if r.ttl <= 0 {
		return
	}
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				logger.Debug().Int("dropped", n).Int("live", r.Len()).Msg("idle workspaces swept")
			}
		}
	}
}
