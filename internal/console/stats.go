package console

import (
	"context"
	"sync"

	"github.com/clinicdesk/clinicdesk/internal/domain/identity"
	"github.com/clinicdesk/clinicdesk/internal/domain/scheduling"
	"github.com/clinicdesk/clinicdesk/internal/platform/store"
)

// RelationCount is the exact row count of one relation, or why it is missing.
type RelationCount struct {
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// Dashboard holds the per-relation counts shown on the console home page.
type Dashboard map[string]RelationCount

var dashboardRelations = []string{
	identity.PatientRelation,
	identity.DoctorRelation,
	scheduling.AppointmentRelation,
}

// LoadDashboard counts every console relation concurrently. A failed count
// is reported for its relation only and never cancels the others.
func LoadDashboard(ctx context.Context, s store.Store) Dashboard {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(Dashboard, len(dashboardRelations))
	)
	for _, rel := range dashboardRelations {
		rel := rel
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.Count(ctx, rel)
			rc := RelationCount{Count: n}
			if err != nil {
				rc = RelationCount{Error: store.Reason(err)}
			}
			mu.Lock()
			out[rel] = rc
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
