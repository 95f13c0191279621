// Package sandbox generates reproducible demo patients, doctors and
// appointments for development environments and UI demos.
package sandbox

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
	"github.com/clinicdesk/clinicdesk/internal/form"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

// SeedConfig controls the volume of generated data.
type SeedConfig struct {
	Patients               int
	Doctors                int
	AppointmentsPerPatient int
	// Seed makes runs reproducible. Zero uses the current time.
	Seed int64
	// Start is the earliest appointment day. Zero means today.
	Start time.Time
}

func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		Patients:               12,
		Doctors:                5,
		AppointmentsPerPatient: 2,
		Seed:                   42,
	}
}

// SeedResult counts the rows written per relation.
type SeedResult struct {
	Patients     int `json:"patients"`
	Doctors      int `json:"doctors"`
	Appointments int `json:"appointments"`
}

var (
	givenNames = []string{"Jane", "Amara", "Ravi", "Lucia", "Kenji", "Fatima", "Tom", "Ines", "Omar", "Mei", "Sven", "Priya"}
	surnames   = []string{"Doe", "Okafor", "Sharma", "Rossi", "Tanaka", "Haddad", "Miller", "Silva", "Farouk", "Chen", "Larsen", "Iyer"}
	streets    = []string{"Main St", "Oak Ave", "Station Rd", "Harbour Ln", "Hill St", "Park Blvd"}
	diseases   = []string{"Asthma", "Hypertension", "Type 2 diabetes", "Migraine", "Arrhythmia", "Eczema", "Influenza", "Back pain"}
	specialism = []string{"Cardiology", "Neurology", "Dermatology", "General practice", "Pediatrics", "Orthopedics", "Pulmonology"}
	genders    = []string{identity.GenderMale, identity.GenderFemale, identity.GenderOther}
	notes      = []string{"", "", "Follow-up", "Bring previous reports", "Fasting required"}
)

// DataGenerator produces drafts from a seeded source.
type DataGenerator struct {
	rng *rand.Rand
}

func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) name() string {
	return g.pick(givenNames) + " " + g.pick(surnames)
}

func (g *DataGenerator) phone() string {
	return fmt.Sprintf("555-%04d", g.rng.Intn(10000))
}

func (g *DataGenerator) Patient() identity.PatientDraft {
	d := identity.NewPatientDraft()
	d.Name = g.name()
	d.Age = form.Input(strconv.Itoa(1 + g.rng.Intn(90)))
	d.Gender = g.pick(genders)
	d.Contact = g.phone()
	d.Address = fmt.Sprintf("%d %s", 1+g.rng.Intn(200), g.pick(streets))
	d.Disease = g.pick(diseases)
	return d
}

func (g *DataGenerator) Doctor() identity.DoctorDraft {
	d := identity.NewDoctorDraft()
	d.Name = "Dr. " + g.pick(surnames)
	d.Specialization = g.pick(specialism)
	d.Email = strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(d.Name, "Dr. "), " ", ".")) +
		strconv.Itoa(g.rng.Intn(1000)) + "@clinic.test"
	d.Phone = g.phone()
	return d
}

// Appointment books patientID with doctorID on a weekday within two weeks of
// start, on the hour between 09:00 and 16:00 UTC.
func (g *DataGenerator) Appointment(patientID, doctorID string, start time.Time) scheduling.AppointmentDraft {
	day := start.AddDate(0, 0, g.rng.Intn(14))
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, 1)
	}
	at := time.Date(day.Year(), day.Month(), day.Day(), 9+g.rng.Intn(8), 0, 0, 0, time.UTC)

	d := scheduling.NewAppointmentDraft(time.UTC)
	d.PatientID = patientID
	d.DoctorID = doctorID
	d.AppointmentDate = scheduling.ToLocal(at, time.UTC)
	d.Notes = g.pick(notes)
	return d
}

// Seeder writes generated data through a store.
type Seeder struct {
	cfg    SeedConfig
	store  store.Store
	logger zerolog.Logger
}

func NewSeeder(s store.Store, cfg SeedConfig, logger zerolog.Logger) *Seeder {
	return &Seeder{cfg: cfg, store: s, logger: logger}
}

// insertDraft validates d the way a submitted form would before writing it.
func insertDraft(ctx context.Context, s store.Store, relation string, d form.Draft) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("generated %s row: %w", relation, err)
	}
	v, err := d.Values()
	if err != nil {
		return fmt.Errorf("generated %s row: %w", relation, err)
	}
	if err := s.Insert(ctx, relation, v); err != nil {
		return fmt.Errorf("insert %s: %w", relation, err)
	}
	return nil
}

// Run seeds patients and doctors, then books appointments between them. It
// stops at the first failed insert and reports what was written so far.
func (s *Seeder) Run(ctx context.Context) (SeedResult, error) {
	var res SeedResult
	seed := s.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	start := s.cfg.Start
	if start.IsZero() {
		start = time.Now().UTC().Truncate(24 * time.Hour)
	}
	g := NewDataGenerator(seed)

	for i := 0; i < s.cfg.Patients; i++ {
		if err := insertDraft(ctx, s.store, identity.PatientRelation, g.Patient()); err != nil {
			return res, err
		}
		res.Patients++
	}
	for i := 0; i < s.cfg.Doctors; i++ {
		if err := insertDraft(ctx, s.store, identity.DoctorRelation, g.Doctor()); err != nil {
			return res, err
		}
		res.Doctors++
	}

	if s.cfg.AppointmentsPerPatient > 0 {
		// Inserts do not return ids, so read them back.
		opts, err := scheduling.LoadOptions(ctx, s.store)
		if err != nil {
			return res, fmt.Errorf("load seeded ids: %w", err)
		}
		if len(opts.Doctors) > 0 {
			for _, p := range opts.Patients {
				for i := 0; i < s.cfg.AppointmentsPerPatient; i++ {
					doc := opts.Doctors[g.rng.Intn(len(opts.Doctors))]
					d := g.Appointment(p.ID, doc.ID, start)
					if err := insertDraft(ctx, s.store, scheduling.AppointmentRelation, d); err != nil {
						return res, err
					}
					res.Appointments++
				}
			}
		}
	}

	s.logger.Info().
		Int("patients", res.Patients).
		Int("doctors", res.Doctors).
		Int("appointments", res.Appointments).
		Int64("seed", seed).
		Msg("sandbox data seeded")
	return res, nil
}
