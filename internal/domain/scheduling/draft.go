package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/form"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

// LocalLayout is the editable date-time form: minutes precision, no zone.
const LocalLayout = "2006-01-02T15:04"

// AppointmentDraft is the appointment form. AppointmentDate holds local
// wall-clock text in the display location.
//
// An edit draft remembers the instant it was seeded from. As long as the
// date text is left as seeded, submit sends that exact instant back, so
// seconds and DST-ambiguous hours survive the round trip.
type AppointmentDraft struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	AppointmentDate string `json:"appointment_date"`
	Status          string `json:"status"`
	Notes           string `json:"notes"`

	loc        *time.Location
	seededText string
	seededAt   time.Time
}

// NewAppointmentDraft returns the empty create draft for loc.
func NewAppointmentDraft(loc *time.Location) AppointmentDraft {
	return AppointmentDraft{Status: StatusScheduled, loc: loc}
}

// SeedAppointmentDraft fills the form from an existing appointment.
func SeedAppointmentDraft(a Appointment, loc *time.Location) AppointmentDraft {
	d := AppointmentDraft{
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		Status:    a.Status,
		loc:       loc,
	}
	if a.Notes != nil {
		d.Notes = *a.Notes
	}
	if !a.AppointmentDate.IsZero() {
		d.AppointmentDate = ToLocal(a.AppointmentDate, d.location())
		d.seededText = d.AppointmentDate
		d.seededAt = a.AppointmentDate
	}
	return d
}

func (d AppointmentDraft) location() *time.Location {
	if d.loc == nil {
		return time.UTC
	}
	return d.loc
}

func (d AppointmentDraft) Validate() error {
	fe := form.FieldErrors{}
	fe.Required("patient_id", d.PatientID)
	fe.Required("doctor_id", d.DoctorID)
	fe.Required("appointment_date", d.AppointmentDate)
	fe.Required("status", d.Status)
	fe.OneOf("status", d.Status, StatusScheduled, StatusCompleted, StatusCancelled)

	if _, ok := fe["appointment_date"]; !ok {
		if _, err := d.Instant(); err != nil {
			fe["appointment_date"] = "must look like " + LocalLayout
		}
	}
	return fe.Err()
}

// Instant is the absolute time the draft's date text denotes.
func (d AppointmentDraft) Instant() (time.Time, error) {
	text := strings.TrimSpace(d.AppointmentDate)
	if d.seededText != "" && text == d.seededText {
		return d.seededAt, nil
	}
	return FromLocal(text, d.location())
}

func (d AppointmentDraft) Values() (store.Values, error) {
	at, err := d.Instant()
	if err != nil {
		return nil, err
	}
	status := d.Status
	if status == "" {
		status = StatusScheduled
	}
	var notes any
	if n := strings.TrimSpace(d.Notes); n != "" {
		notes = d.Notes
	}
	return store.Values{
		"patient_id":       d.PatientID,
		"doctor_id":        d.DoctorID,
		"appointment_date": ToCanonical(at),
		"status":           status,
		"notes":            notes,
	}, nil
}

// ToLocal renders t as editable text in loc.
func ToLocal(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(LocalLayout)
}

// FromLocal parses editable text in loc. A full RFC 3339 timestamp is
// accepted as well, for API clients that already hold an instant.
func FromLocal(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation(LocalLayout, s, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid appointment date %q", s)
}

// ToCanonical is the store's absolute-instant form.
func ToCanonical(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
