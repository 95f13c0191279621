package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

func newClinicStore() *Store {
	return New(
		Relation{Name: "patients", Required: []string{"name"}},
		Relation{Name: "doctors", Required: []string{"name"}},
		Relation{
			Name:        "appointments",
			ForeignKeys: map[string]string{"patient_id": "patients", "doctor_id": "doctors"},
			Enums:       map[string][]string{"status": {"scheduled", "completed", "cancelled"}},
			Defaults:    store.Values{"status": "scheduled"},
		},
	)
}

func decode(t *testing.T, raw []json.RawMessage) []map[string]any {
	t.Helper()
	out := make([]map[string]any, len(raw))
	for i, r := range raw {
		require.NoError(t, json.Unmarshal(r, &out[i]))
	}
	return out
}

func firstID(t *testing.T, s *Store, relation string) string {
	t.Helper()
	rows, err := s.List(context.Background(), relation, store.Query{})
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	return decode(t, rows)[0]["id"].(string)
}

func TestInsert_AssignsIDAndCreatedAt(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "Jane Doe", "id": "caller-id"}))

	rows, err := s.List(ctx, "patients", store.Query{})
	require.NoError(t, err)
	got := decode(t, rows)
	require.Len(t, got, 1)
	assert.NotEqual(t, "caller-id", got[0]["id"])
	assert.NotEmpty(t, got[0]["created_at"])
	assert.Equal(t, "Jane Doe", got[0]["name"])
}

func TestList_OrdersByCreatedAtDescending(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": n}))
	}

	rows, err := s.List(ctx, "patients", store.Query{OrderBy: &store.Order{Column: "created_at", Descending: true}})
	require.NoError(t, err)
	got := decode(t, rows)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0]["name"])
	assert.Equal(t, "b", got[1]["name"])
	assert.Equal(t, "a", got[2]["name"])
}

func TestList_OrdersRFC3339StringsChronologically(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "p"}))
	require.NoError(t, s.Insert(ctx, "doctors", store.Values{"name": "d"}))
	pid, did := firstID(t, s, "patients"), firstID(t, s, "doctors")

	require.NoError(t, s.Insert(ctx, "appointments", store.Values{"patient_id": pid, "doctor_id": did, "appointment_date": "2025-03-01T10:00:00Z"}))
	require.NoError(t, s.Insert(ctx, "appointments", store.Values{"patient_id": pid, "doctor_id": did, "appointment_date": "2025-03-01T10:00:00.5Z"}))

	rows, err := s.List(ctx, "appointments", store.Query{OrderBy: &store.Order{Column: "appointment_date", Descending: true}})
	require.NoError(t, err)
	got := decode(t, rows)
	assert.Equal(t, "2025-03-01T10:00:00.5Z", got[0]["appointment_date"])
}

func TestList_NullsLastAscendingFirstDescending(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "a", "disease": "Flu"}))
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "b"}))
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "c", "disease": "Asthma"}))

	names := func(desc bool) []any {
		rows, err := s.List(ctx, "patients", store.Query{OrderBy: &store.Order{Column: "disease", Descending: desc}})
		require.NoError(t, err)
		var out []any
		for _, r := range decode(t, rows) {
			out = append(out, r["name"])
		}
		return out
	}

	assert.Equal(t, []any{"c", "a", "b"}, names(false))
	assert.Equal(t, []any{"b", "a", "c"}, names(true))
}

func TestList_JoinsReferencedNames(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "Jane Doe"}))
	require.NoError(t, s.Insert(ctx, "doctors", store.Values{"name": "Dr. House"}))
	pid, did := firstID(t, s, "patients"), firstID(t, s, "doctors")

	require.NoError(t, s.Insert(ctx, "appointments", store.Values{"patient_id": pid, "doctor_id": did, "appointment_date": "2025-03-01T10:00:00Z"}))

	rows, err := s.List(ctx, "appointments", store.Query{Joins: []store.Join{
		{Relation: "patients", ForeignKey: "patient_id", Columns: []string{"name"}},
		{Relation: "doctors", ForeignKey: "doctor_id", Columns: []string{"name"}},
	}})
	require.NoError(t, err)
	got := decode(t, rows)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"name": "Jane Doe"}, got[0]["patients"])
	assert.Equal(t, map[string]any{"name": "Dr. House"}, got[0]["doctors"])
	assert.Equal(t, "scheduled", got[0]["status"])
}

func TestList_ProjectsColumns(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "Jane", "disease": "Asthma"}))

	rows, err := s.List(ctx, "patients", store.Query{Columns: []string{"id", "name"}})
	require.NoError(t, err)
	got := decode(t, rows)
	assert.Len(t, got[0], 2)
	assert.NotContains(t, got[0], "disease")
}

func TestInsert_RejectsUnknownForeignKey(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "doctors", store.Values{"name": "d"}))

	err := s.Insert(ctx, "appointments", store.Values{
		"patient_id":       "missing",
		"doctor_id":        firstID(t, s, "doctors"),
		"appointment_date": "2025-03-01T10:00:00Z",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrForeignKey))

	n, err := s.Count(ctx, "appointments")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInsert_RejectsMissingRequiredAndBadEnum(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()

	err := s.Insert(ctx, "patients", store.Values{"age": 3})
	assert.True(t, errors.Is(err, store.ErrInvalid))

	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "p"}))
	require.NoError(t, s.Insert(ctx, "doctors", store.Values{"name": "d"}))
	err = s.Insert(ctx, "appointments", store.Values{
		"patient_id": firstID(t, s, "patients"),
		"doctor_id":  firstID(t, s, "doctors"),
		"status":     "postponed",
	})
	assert.True(t, errors.Is(err, store.ErrInvalid))
}

func TestUpdate_PatchesAndReportsNotFound(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "Jane", "age": 30}))
	id := firstID(t, s, "patients")

	require.NoError(t, s.Update(ctx, "patients", id, store.Values{"age": 31, "id": "other"}))
	rows, err := s.List(ctx, "patients", store.Query{})
	require.NoError(t, err)
	got := decode(t, rows)
	assert.Equal(t, id, got[0]["id"])
	assert.Equal(t, float64(31), got[0]["age"])
	assert.Equal(t, "Jane", got[0]["name"])

	err = s.Update(ctx, "patients", "nope", store.Values{"age": 1})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDelete_RestrictsReferencedRows(t *testing.T) {
	s := newClinicStore()
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, "patients", store.Values{"name": "p"}))
	require.NoError(t, s.Insert(ctx, "doctors", store.Values{"name": "d"}))
	pid, did := firstID(t, s, "patients"), firstID(t, s, "doctors")
	require.NoError(t, s.Insert(ctx, "appointments", store.Values{"patient_id": pid, "doctor_id": did}))

	err := s.Delete(ctx, "patients", pid)
	assert.True(t, errors.Is(err, store.ErrForeignKey))

	aid := firstID(t, s, "appointments")
	require.NoError(t, s.Delete(ctx, "appointments", aid))
	require.NoError(t, s.Delete(ctx, "patients", pid))

	err = s.Delete(ctx, "patients", pid)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestUnknownRelation(t *testing.T) {
	s := newClinicStore()
	_, err := s.List(context.Background(), "nurses", store.Query{})
	var se *store.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "42P01", se.Code)
}
