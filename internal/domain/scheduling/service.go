package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/form"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/resource"
)

type (
	AppointmentController = resource.Controller[Appointment]
	AppointmentForm       = form.Coordinator[Appointment, AppointmentDraft]
)

func NewAppointmentController(s store.Store, logger zerolog.Logger) *AppointmentController {
	return resource.New[Appointment](s, resource.Config{
		Entity:   auth.EntityAppointment,
		Relation: AppointmentRelation,
		Query:    AppointmentQuery,
		Logger:   logger,
	})
}

// NewAppointmentForm returns the appointment form. Date text is edited in loc.
func NewAppointmentForm(c *AppointmentController, loc *time.Location) *AppointmentForm {
	return form.New[Appointment](c,
		func() AppointmentDraft { return NewAppointmentDraft(loc) },
		func(a Appointment) AppointmentDraft { return SeedAppointmentDraft(a, loc) },
	)
}

// LoadOptions fetches the patient and doctor pick lists concurrently. The
// lists are a read-only projection; they are not cached.
func LoadOptions(ctx context.Context, s store.Store) (Options, error) {
	var opts Options
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		opts.Patients, err = listOptions(ctx, s, identity.PatientRelation)
		return err
	})
	g.Go(func() error {
		var err error
		opts.Doctors, err = listOptions(ctx, s, identity.DoctorRelation)
		return err
	})
	if err := g.Wait(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func listOptions(ctx context.Context, s store.Store, relation string) ([]Option, error) {
	raw, err := s.List(ctx, relation, optionQuery)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", relation, err)
	}
	out := make([]Option, 0, len(raw))
	for _, r := range raw {
		var o Option
		if err := json.Unmarshal(r, &o); err != nil {
			return nil, fmt.Errorf("decoding %s option: %w", relation, err)
		}
		out = append(out, o)
	}
	return out, nil
}
