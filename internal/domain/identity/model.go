package identity

import (
	"time"
)

const (
	GenderMale   = "Male"
	GenderFemale = "Female"
	GenderOther  = "Other"
)

var validGenders = map[string]bool{
	GenderMale: true, GenderFemale: true, GenderOther: true,
}

// Patient maps to the patients relation.
type Patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	Contact   string    `json:"contact"`
	Address   string    `json:"address"`
	Disease   string    `json:"disease"`
	CreatedAt time.Time `json:"created_at"`
}

func (p Patient) RecordID() string { return p.ID }

// PatientSearchFields are matched by the patient list search box.
func PatientSearchFields(p Patient) []string {
	return []string{p.Name, p.Disease}
}

// Doctor maps to the doctors relation.
type Doctor struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	CreatedAt      time.Time `json:"created_at"`
}

func (d Doctor) RecordID() string { return d.ID }

// DoctorSearchFields are matched by the doctor list search box.
func DoctorSearchFields(d Doctor) []string {
	return []string{d.Name, d.Specialization}
}
