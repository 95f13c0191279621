package identity

import (
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/platform/store/memstore"
)

const (
	PatientRelation = "patients"
	DoctorRelation  = "doctors"
)

// PatientQuery lists patients newest first.
var PatientQuery = store.Query{
	OrderBy: &store.Order{Column: "created_at", Descending: true},
}

// DoctorQuery lists doctors newest first.
var DoctorQuery = store.Query{
	OrderBy: &store.Order{Column: "created_at", Descending: true},
}

// Relations declares the identity relations for the in-process store. The
// constraints mirror migrations/001_clinic.sql.
func Relations() []memstore.Relation {
	return []memstore.Relation{
		{
			Name:     PatientRelation,
			Required: []string{"name", "age", "gender", "contact", "address", "disease"},
			Enums:    map[string][]string{"gender": {GenderMale, GenderFemale, GenderOther}},
		},
		{
			Name:     DoctorRelation,
			Required: []string{"name", "specialization", "email", "phone"},
		},
	}
}
