package scheduling

import (
	"time"
)

const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

var validAppointmentStatuses = map[string]bool{
	StatusScheduled: true, StatusCompleted: true, StatusCancelled: true,
}

// PartyName is the read-only projection of a joined patient or doctor.
type PartyName struct {
	Name string `json:"name"`
}

// Appointment maps to the appointments relation. Patient and Doctor are
// filled by the joined read and are never written back.
type Appointment struct {
	ID              string     `json:"id"`
	PatientID       string     `json:"patient_id"`
	DoctorID        string     `json:"doctor_id"`
	AppointmentDate time.Time  `json:"appointment_date"`
	Status          string     `json:"status"`
	Notes           *string    `json:"notes"`
	CreatedAt       time.Time  `json:"created_at"`
	Patient         *PartyName `json:"patients,omitempty"`
	Doctor          *PartyName `json:"doctors,omitempty"`
}

func (a Appointment) RecordID() string { return a.ID }

// PatientName returns the joined patient name, or "" when the join is absent.
func (a Appointment) PatientName() string {
	if a.Patient == nil {
		return ""
	}
	return a.Patient.Name
}

// DoctorName returns the joined doctor name, or "" when the join is absent.
func (a Appointment) DoctorName() string {
	if a.Doctor == nil {
		return ""
	}
	return a.Doctor.Name
}

// AppointmentSearchFields are matched by the appointment list search box.
func AppointmentSearchFields(a Appointment) []string {
	return []string{a.PatientName(), a.DoctorName(), a.Status}
}

// Option is one entry of a pick list.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (o Option) RecordID() string { return o.ID }

// Options are the patient and doctor pick lists of the appointment form.
type Options struct {
	Patients []Option `json:"patients"`
	Doctors  []Option `json:"doctors"`
}
