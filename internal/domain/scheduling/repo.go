package scheduling

import (
	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/platform/store/memstore"
)

const AppointmentRelation = "appointments"

// AppointmentQuery lists appointments latest first with the patient and
// doctor names joined in.
var AppointmentQuery = store.Query{
	OrderBy: &store.Order{Column: "appointment_date", Descending: true},
	Joins: []store.Join{
		{Relation: identity.PatientRelation, ForeignKey: "patient_id", Columns: []string{"name"}},
		{Relation: identity.DoctorRelation, ForeignKey: "doctor_id", Columns: []string{"name"}},
	},
}

// optionQuery is the id/name projection used by the pick lists.
var optionQuery = store.Query{
	Columns: []string{"id", "name"},
	OrderBy: &store.Order{Column: "name"},
}

// Relations declares the appointments relation for the in-process store.
// Both foreign keys restrict deletes of referenced rows.
func Relations() []memstore.Relation {
	return []memstore.Relation{
		{
			Name: AppointmentRelation,
			ForeignKeys: map[string]string{
				"patient_id": identity.PatientRelation,
				"doctor_id":  identity.DoctorRelation,
			},
			Required: []string{"patient_id", "doctor_id", "appointment_date", "status"},
			Enums:    map[string][]string{"status": {StatusScheduled, StatusCompleted, StatusCancelled}},
			Defaults: store.Values{"status": StatusScheduled},
		},
	}
}
