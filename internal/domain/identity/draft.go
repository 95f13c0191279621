package identity

import (
	"net/mail"
	"strconv"
	"strings"

	"github.com/clinicdesk/clinicdesk/internal/form"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

// PatientDraft is the patient form. Age stays text until it is validated.
type PatientDraft struct {
	Name    string     `json:"name"`
	Age     form.Input `json:"age"`
	Gender  string     `json:"gender"`
	Contact string     `json:"contact"`
	Address string     `json:"address"`
	Disease string     `json:"disease"`
}

func NewPatientDraft() PatientDraft { return PatientDraft{} }

// SeedPatientDraft fills the form from an existing patient.
func SeedPatientDraft(p Patient) PatientDraft {
	return PatientDraft{
		Name:    p.Name,
		Age:     form.Input(strconv.Itoa(p.Age)),
		Gender:  p.Gender,
		Contact: p.Contact,
		Address: p.Address,
		Disease: p.Disease,
	}
}

func (d PatientDraft) Validate() error {
	fe := form.FieldErrors{}
	fe.Required("name", d.Name)
	fe.Required("age", d.Age.String())
	fe.Required("gender", d.Gender)
	fe.Required("contact", d.Contact)
	fe.Required("address", d.Address)
	fe.Required("disease", d.Disease)

	if _, ok := fe["age"]; !ok {
		if _, err := parseAge(d.Age); err != nil {
			fe["age"] = "must be a whole number of years, 0 or more"
		}
	}
	if _, ok := fe["gender"]; !ok && !validGenders[d.Gender] {
		fe["gender"] = "must be one of Male, Female, Other"
	}
	return fe.Err()
}

func (d PatientDraft) Values() (store.Values, error) {
	age, err := parseAge(d.Age)
	if err != nil {
		return nil, err
	}
	return store.Values{
		"name":    strings.TrimSpace(d.Name),
		"age":     age,
		"gender":  d.Gender,
		"contact": strings.TrimSpace(d.Contact),
		"address": strings.TrimSpace(d.Address),
		"disease": strings.TrimSpace(d.Disease),
	}, nil
}

func parseAge(in form.Input) (int, error) {
	age, err := strconv.Atoi(strings.TrimSpace(in.String()))
	if err != nil {
		return 0, form.FieldErrors{"age": "is not a number"}
	}
	if age < 0 {
		return 0, form.FieldErrors{"age": "must not be negative"}
	}
	return age, nil
}

// DoctorDraft is the doctor form.
type DoctorDraft struct {
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
}

func NewDoctorDraft() DoctorDraft { return DoctorDraft{} }

// SeedDoctorDraft fills the form from an existing doctor.
func SeedDoctorDraft(d Doctor) DoctorDraft {
	return DoctorDraft{
		Name:           d.Name,
		Specialization: d.Specialization,
		Email:          d.Email,
		Phone:          d.Phone,
	}
}

func (d DoctorDraft) Validate() error {
	fe := form.FieldErrors{}
	fe.Required("name", d.Name)
	fe.Required("specialization", d.Specialization)
	fe.Required("email", d.Email)
	fe.Required("phone", d.Phone)

	if _, ok := fe["email"]; !ok && !validEmail(d.Email) {
		fe["email"] = "is not a valid email address"
	}
	return fe.Err()
}

func (d DoctorDraft) Values() (store.Values, error) {
	return store.Values{
		"name":           strings.TrimSpace(d.Name),
		"specialization": strings.TrimSpace(d.Specialization),
		"email":          strings.TrimSpace(d.Email),
		"phone":          strings.TrimSpace(d.Phone),
	}, nil
}

// validEmail accepts a bare addr-spec; display names are rejected.
func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
