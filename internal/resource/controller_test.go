package resource

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
	"github.com/clinicdesk/clinicdesk/internal/platform/store/memstore"
)

type patient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Disease   string    `json:"disease"`
	CreatedAt time.Time `json:"created_at"`
}

func (p patient) RecordID() string { return p.ID }

// recordingStore wraps a store, counts calls and injects failures.
type recordingStore struct {
	store.Store

	mu       sync.Mutex
	lists    int
	inserts  []store.Values
	deletes  int
	listErr  error
	writeErr error

	// hold, when set, parks the next List after it has read its rows.
	hold    chan struct{}
	entered chan struct{}

	// afterInsert runs once a successful insert has reached the store.
	afterInsert func()
}

func (s *recordingStore) List(ctx context.Context, relation string, q store.Query) ([]json.RawMessage, error) {
	s.mu.Lock()
	s.lists++
	err := s.listErr
	hold, entered := s.hold, s.entered
	s.hold, s.entered = nil, nil
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	rows, err := s.Store.List(ctx, relation, q)
	if hold != nil {
		close(entered)
		<-hold
	}
	return rows, err
}

func (s *recordingStore) Insert(ctx context.Context, relation string, v store.Values) error {
	s.mu.Lock()
	s.inserts = append(s.inserts, v)
	err := s.writeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := s.Store.Insert(ctx, relation, v); err != nil {
		return err
	}
	if s.afterInsert != nil {
		s.afterInsert()
	}
	return nil
}

func (s *recordingStore) Delete(ctx context.Context, relation, id string) error {
	s.mu.Lock()
	s.deletes++
	err := s.writeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Delete(ctx, relation, id)
}

func (s *recordingStore) listCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func (s *recordingStore) failLists(err error) {
	s.mu.Lock()
	s.listErr = err
	s.mu.Unlock()
}

func (s *recordingStore) parkNextList() (entered, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hold = make(chan struct{})
	s.entered = make(chan struct{})
	return s.entered, s.hold
}

func newPatientController(t *testing.T, entity auth.Entity) (*Controller[patient], *recordingStore, *memstore.Store) {
	t.Helper()
	mem := memstore.New(memstore.Relation{Name: "patients", Required: []string{"name"}})
	rs := &recordingStore{Store: mem}
	c := New[patient](rs, Config{
		Entity:   entity,
		Relation: "patients",
		Query:    store.Query{OrderBy: &store.Order{Column: "created_at", Descending: true}},
		Logger:   zerolog.Nop(),
	})
	return c, rs, mem
}

func session(id string, role auth.Role) auth.Session {
	return auth.Session{Identity: &auth.Identity{ID: id}, Role: role, Resolved: true}
}

func mustFailure(t *testing.T, err error, kind Kind) *Failure {
	t.Helper()
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("expected *Failure, got %T (%v)", err, err)
	}
	if f.Kind != kind {
		t.Fatalf("expected %s failure, got %s: %v", kind, f.Kind, err)
	}
	return f
}

func TestBind_RefreshesOncePerTransition(t *testing.T) {
	c, rs, _ := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()

	if err := c.Bind(ctx, auth.Session{}); err != nil {
		t.Fatalf("unresolved bind: %v", err)
	}
	if err := c.Bind(ctx, auth.Session{Resolved: true}); err != nil {
		t.Fatalf("anonymous bind: %v", err)
	}
	if err := c.Bind(ctx, auth.Session{Resolved: true, Identity: &auth.Identity{ID: "u1"}}); err != nil {
		t.Fatalf("role-less bind: %v", err)
	}
	if n := rs.listCalls(); n != 0 {
		t.Fatalf("expected no fetch before the session is ready, got %d", n)
	}

	s := session("u1", "receptionist")
	for i := 0; i < 3; i++ {
		if err := c.Bind(ctx, s); err != nil {
			t.Fatalf("bind: %v", err)
		}
	}
	if n := rs.listCalls(); n != 1 {
		t.Fatalf("expected exactly one fetch, got %d", n)
	}

	if err := c.Bind(ctx, session("u1", auth.RoleAdmin)); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if n := rs.listCalls(); n != 2 {
		t.Fatalf("expected a role change to refetch, got %d fetches", n)
	}
}

func TestBind_SessionChangeClearsSnapshot(t *testing.T) {
	c, _, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}

	if err := c.Bind(ctx, session("u1", "receptionist")); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Snapshot().Rows); got != 1 {
		t.Fatalf("expected 1 row, got %d", got)
	}

	if err := c.Bind(ctx, auth.Session{Resolved: true}); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Snapshot().Rows); got != 0 {
		t.Fatalf("expected sign-out to clear the snapshot, got %d rows", got)
	}
}

func TestBind_SameSessionWaitsForPendingRefresh(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	s := session("u1", "receptionist")

	entered, release := rs.parkNextList()
	first := make(chan error, 1)
	go func() { first <- c.Bind(ctx, s) }()
	<-entered

	second := make(chan Snapshot[patient], 1)
	go func() {
		if err := c.Bind(ctx, s); err != nil {
			t.Errorf("second bind: %v", err)
		}
		second <- c.Snapshot()
	}()

	select {
	case snap := <-second:
		t.Fatalf("second bind returned before the first fetch settled: %+v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first bind: %v", err)
	}
	snap := <-second
	if len(snap.Rows) != 1 || snap.FetchedAt.IsZero() {
		t.Errorf("expected the fetched snapshot, got %+v", snap)
	}
	if n := rs.listCalls(); n != 1 {
		t.Errorf("expected one fetch for both binds, got %d", n)
	}
}

func TestBind_WaitHonorsContext(t *testing.T) {
	c, rs, _ := newPatientController(t, auth.EntityPatient)
	s := session("u1", "receptionist")

	entered, release := rs.parkNextList()
	defer close(release)
	go func() { _ = c.Bind(context.Background(), s) }()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Bind(ctx, s)
	if !errors.Is(err, ErrFetch) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a cancelled fetch failure, got %v", err)
	}
}

func TestRevalidate_RetriesFailedFetch(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	s := session("u1", "receptionist")

	rs.failLists(errors.New("connection refused"))
	if err := c.Revalidate(ctx, s, 0); err == nil {
		t.Fatal("expected the first fetch to fail")
	}
	if n := rs.listCalls(); n != 1 {
		t.Fatalf("expected binding to fetch once, got %d", n)
	}

	rs.failLists(nil)
	if err := c.Revalidate(ctx, s, 0); err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	snap := c.Snapshot()
	if snap.Err != nil || len(snap.Rows) != 1 {
		t.Errorf("expected a recovered snapshot, got %+v", snap)
	}

	if err := c.Revalidate(ctx, s, 0); err != nil {
		t.Fatal(err)
	}
	if n := rs.listCalls(); n != 2 {
		t.Errorf("a healthy snapshot without max age must not refetch, got %d fetches", n)
	}
}

func TestRevalidate_RefetchesAfterMaxAge(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	s := session("u1", "receptionist")

	if err := c.Revalidate(ctx, s, time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Revalidate(ctx, s, time.Hour); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Snapshot().Rows); got != 0 {
		t.Fatalf("a fresh snapshot must be served as is, got %d rows", got)
	}

	time.Sleep(2 * time.Millisecond)
	if err := c.Revalidate(ctx, s, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Snapshot().Rows); got != 1 {
		t.Errorf("expected a stale snapshot to be refetched, got %d rows", got)
	}
	if n := rs.listCalls(); n != 2 {
		t.Errorf("expected 2 fetches, got %d", n)
	}
}

func TestRefresh_NotReady(t *testing.T) {
	c, rs, _ := newPatientController(t, auth.EntityPatient)

	err := c.Refresh(context.Background())
	if !errors.Is(err, ErrFetch) || !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected not-ready fetch failure, got %v", err)
	}
	if rs.listCalls() != 0 {
		t.Error("store must not be called without a ready session")
	}
}

func TestRefresh_FailureKeepsSnapshot(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, session("u1", "receptionist")); err != nil {
		t.Fatal(err)
	}
	before := c.Snapshot()

	rs.failLists(&store.Error{Status: 503, Message: "upstream down", Kind: store.ErrUnavailable})
	err := c.Refresh(ctx)
	f := mustFailure(t, err, KindFetch)
	if f.Reason != "upstream down" {
		t.Errorf("expected store reason, got %q", f.Reason)
	}
	if !errors.Is(err, store.ErrUnavailable) {
		t.Error("expected the store error to be wrapped")
	}

	after := c.Snapshot()
	if after.Version != before.Version || len(after.Rows) != len(before.Rows) {
		t.Errorf("snapshot changed on failed refresh: %+v -> %+v", before, after)
	}
	if after.Err == nil {
		t.Error("expected the fetch failure to be recorded on the snapshot")
	}

	rs.failLists(nil)
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if c.Snapshot().Err != nil {
		t.Error("expected a successful refresh to clear the recorded failure")
	}
}

func TestRefresh_StaleResponseDiscarded(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := c.Bind(ctx, session("u1", "receptionist")); err != nil {
		t.Fatal(err)
	}

	entered, release := rs.parkNextList()
	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-entered

	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stale refresh: %v", err)
	}

	snap := c.Snapshot()
	if len(snap.Rows) != 1 || snap.Rows[0].Name != "Ann" {
		t.Fatalf("older response overwrote newer snapshot: %+v", snap.Rows)
	}
}

func TestRefresh_PreviousSessionResponseDiscarded(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, session("u1", "receptionist")); err != nil {
		t.Fatal(err)
	}

	entered, release := rs.parkNextList()
	done := make(chan error, 1)
	go func() { done <- c.Refresh(ctx) }()
	<-entered

	if err := c.Bind(ctx, auth.Session{Resolved: true}); err != nil {
		t.Fatal(err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrSessionChanged) {
		t.Fatalf("expected session-changed failure, got %v", err)
	}
	if got := len(c.Snapshot().Rows); got != 0 {
		t.Fatalf("response from the old session populated the snapshot: %d rows", got)
	}
}

func TestCreate_RefreshBeforeReport(t *testing.T) {
	c, _, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := c.Bind(ctx, session("u1", "nurse")); err != nil {
		t.Fatal(err)
	}
	v0 := c.Snapshot().Version

	if err := c.Create(ctx, store.Values{"name": "Jane Doe", "disease": "Asthma"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	raw, err := mem.List(ctx, "patients", store.Query{OrderBy: &store.Order{Column: "created_at", Descending: true}})
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := decode[patient](raw)
	if err != nil {
		t.Fatal(err)
	}

	snap := c.Snapshot()
	if snap.Version <= v0 {
		t.Error("expected the snapshot version to advance")
	}
	if len(snap.Rows) != len(fresh) {
		t.Fatalf("snapshot has %d rows, store has %d", len(snap.Rows), len(fresh))
	}
	for i := range fresh {
		if snap.Rows[i] != fresh[i] {
			t.Errorf("row %d: snapshot %+v, store %+v", i, snap.Rows[i], fresh[i])
		}
	}
	if snap.Rows[0].ID == "" {
		t.Error("expected a store-assigned id")
	}
}

func TestCreate_StripsServerAssignedColumns(t *testing.T) {
	c, rs, _ := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := c.Bind(ctx, session("u1", "nurse")); err != nil {
		t.Fatal(err)
	}

	err := c.Create(ctx, store.Values{"id": "client-id", "created_at": "yesterday", "name": "Ann"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rs.inserts) != 1 {
		t.Fatalf("expected one insert, got %d", len(rs.inserts))
	}
	for _, col := range ServerAssigned {
		if _, ok := rs.inserts[0][col]; ok {
			t.Errorf("column %q must not be sent", col)
		}
	}
	if c.Snapshot().Rows[0].ID == "client-id" {
		t.Error("client-supplied id was stored")
	}
}

func TestCreate_FailureKeepsSnapshot(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, session("u1", "nurse")); err != nil {
		t.Fatal(err)
	}
	before := c.Snapshot()
	lists := rs.listCalls()

	rs.writeErr = &store.Error{Status: 409, Code: "23505", Message: "duplicate key", Kind: store.ErrConflict}
	err := c.Create(ctx, store.Values{"name": "Bob"})
	f := mustFailure(t, err, KindMutation)
	if f.Reason != "duplicate key" {
		t.Errorf("expected store reason, got %q", f.Reason)
	}
	if !errors.Is(err, ErrMutation) || !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected mutation + conflict, got %v", err)
	}

	after := c.Snapshot()
	if after.Version != before.Version || len(after.Rows) != 1 {
		t.Errorf("snapshot changed after failed create")
	}
	if rs.listCalls() != lists {
		t.Error("failed create must not refresh")
	}
}

func TestCreate_AppliedButRefreshFailed(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := c.Bind(ctx, session("u1", "nurse")); err != nil {
		t.Fatal(err)
	}

	rs.failLists(errors.New("connection reset"))
	err := c.Create(ctx, store.Values{"name": "Ann"})
	f := mustFailure(t, err, KindFetch)
	if !f.Applied {
		t.Error("expected Applied to be set")
	}
	if f.Op != "create" {
		t.Errorf("expected op create, got %q", f.Op)
	}
	if n, _ := mem.Count(ctx, "patients"); n != 1 {
		t.Errorf("expected the write to be in the store, count=%d", n)
	}
}

func TestCreate_SessionChangeSkipsFollowUpRefresh(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := c.Bind(ctx, session("u1", "nurse")); err != nil {
		t.Fatal(err)
	}

	rs.afterInsert = func() {
		if err := c.Bind(ctx, session("u1", auth.RoleAdmin)); err != nil {
			t.Errorf("rebind: %v", err)
		}
	}
	err := c.Create(ctx, store.Values{"name": "Ann"})
	f := mustFailure(t, err, KindFetch)
	if !f.Applied || !errors.Is(err, ErrSessionChanged) {
		t.Errorf("expected an applied session-changed failure, got %+v", f)
	}
	if n := rs.listCalls(); n != 2 {
		t.Errorf("expected only the two binding fetches, got %d", n)
	}
	if n, _ := mem.Count(ctx, "patients"); n != 1 {
		t.Errorf("expected the write to be in the store, count=%d", n)
	}
	if got := c.Snapshot().Session.Role; got != auth.RoleAdmin {
		t.Errorf("expected the new session to stay bound, got %q", got)
	}
}

func TestUpdate_MissingRowIsMutationFailure(t *testing.T) {
	c, _, _ := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := c.Bind(ctx, session("u1", "nurse")); err != nil {
		t.Fatal(err)
	}

	err := c.Update(ctx, "does-not-exist", store.Values{"name": "Ann"})
	mustFailure(t, err, KindMutation)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected wrapped not-found, got %v", err)
	}
}

func TestUpdate_RefreshBeforeReport(t *testing.T) {
	c, _, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann", "disease": "Flu"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, session("u1", "nurse")); err != nil {
		t.Fatal(err)
	}
	id := c.Snapshot().Rows[0].ID

	if err := c.Update(ctx, id, store.Values{"id": "other", "disease": "Asthma"}); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Find(id)
	if !ok {
		t.Fatal("updated row missing from snapshot")
	}
	if got.Disease != "Asthma" || got.Name != "Ann" {
		t.Errorf("unexpected row after update: %+v", got)
	}
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	c, rs, mem := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()
	if err := mem.Insert(ctx, "patients", store.Values{"name": "Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, session("u1", auth.RoleAdmin)); err != nil {
		t.Fatal(err)
	}
	id := c.Snapshot().Rows[0].ID

	err := c.Delete(ctx, id, false)
	mustFailure(t, err, KindValidation)
	if !errors.Is(err, ErrUnconfirmed) {
		t.Errorf("expected unconfirmed, got %v", err)
	}
	if rs.deletes != 0 {
		t.Error("store must not be called without confirmation")
	}

	if err := c.Delete(ctx, id, true); err != nil {
		t.Fatal(err)
	}
	if len(c.Snapshot().Rows) != 0 {
		t.Error("expected the row to be gone after refresh")
	}
}

func TestDelete_GateDeniesBeforeStore(t *testing.T) {
	mem := memstore.New(memstore.Relation{Name: "doctors"})
	rs := &recordingStore{Store: mem}
	c := New[patient](rs, Config{Entity: auth.EntityDoctor, Relation: "doctors", Logger: zerolog.Nop()})
	ctx := context.Background()
	if err := mem.Insert(ctx, "doctors", store.Values{"name": "Dr. Osei"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Bind(ctx, session("u1", "receptionist")); err != nil {
		t.Fatal(err)
	}
	id := c.Snapshot().Rows[0].ID

	err := c.Delete(ctx, id, true)
	mustFailure(t, err, KindMutation)
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected forbidden, got %v", err)
	}
	if rs.deletes != 0 {
		t.Error("gate-denied delete must never reach the store")
	}
	if len(c.Snapshot().Rows) != 1 {
		t.Error("snapshot changed after a denied delete")
	}
}

func TestMutations_RequireReadySession(t *testing.T) {
	c, rs, _ := newPatientController(t, auth.EntityPatient)
	ctx := context.Background()

	err := c.Create(ctx, store.Values{"name": "Ann"})
	mustFailure(t, err, KindMutation)
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("expected not-ready, got %v", err)
	}
	if len(rs.inserts) != 0 {
		t.Error("store must not be called")
	}
}

func TestPermissions(t *testing.T) {
	c, _, _ := newPatientController(t, auth.EntityDoctor)
	ctx := context.Background()

	if p := c.Permissions(); p != (auth.Permissions{}) {
		t.Errorf("expected no permissions before bind, got %+v", p)
	}
	if err := c.Bind(ctx, session("u1", "receptionist")); err != nil {
		t.Fatal(err)
	}
	want := auth.Permissions{Create: true}
	if p := c.Permissions(); p != want {
		t.Errorf("Permissions() = %+v, want %+v", p, want)
	}
}

func TestFailure_Is(t *testing.T) {
	f := &Failure{Kind: KindValidation, Op: "submit", Relation: "patients", Reason: "name is required"}
	if !errors.Is(f, ErrValidation) {
		t.Error("expected validation sentinel to match")
	}
	if errors.Is(f, ErrMutation) || errors.Is(f, ErrFetch) {
		t.Error("unexpected sentinel match")
	}
	if f.Error() != "submit patients: name is required" {
		t.Errorf("unexpected message %q", f.Error())
	}
}
