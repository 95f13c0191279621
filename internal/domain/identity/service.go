package identity

import (
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/form"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/resource"
)

type (
	PatientController = resource.Controller[Patient]
	PatientForm       = form.Coordinator[Patient, PatientDraft]
	DoctorController  = resource.Controller[Doctor]
	DoctorForm        = form.Coordinator[Doctor, DoctorDraft]
)

func NewPatientController(s store.Store, logger zerolog.Logger) *PatientController {
	return resource.New[Patient](s, resource.Config{
		Entity:   auth.EntityPatient,
		Relation: PatientRelation,
		Query:    PatientQuery,
		Logger:   logger,
	})
}

func NewPatientForm(c *PatientController) *PatientForm {
	return form.New[Patient](c, NewPatientDraft, SeedPatientDraft)
}

func NewDoctorController(s store.Store, logger zerolog.Logger) *DoctorController {
	return resource.New[Doctor](s, resource.Config{
		Entity:   auth.EntityDoctor,
		Relation: DoctorRelation,
		Query:    DoctorQuery,
		Logger:   logger,
	})
}

func NewDoctorForm(c *DoctorController) *DoctorForm {
	return form.New[Doctor](c, NewDoctorDraft, SeedDoctorDraft)
}
