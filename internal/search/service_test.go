package search

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"dealflow/api/internal/pipeline"
	"dealflow/api/internal/store"
)

type fakeBackend struct {
	mu       sync.Mutex
	healthy  bool
	searchFn func(q Query) ([]Result, int, error)
	indexed  []ApplicationRecord
	indexErr error
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(q Query) ([]Result, int, error) {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return nil, 0, nil
}

func (f *fakeBackend) IndexApplications(records []ApplicationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, records...)
	return f.indexErr
}

func seededFallback(t *testing.T) *StoreFallback {
	t.Helper()
	mem := store.NewMemoryStore()
	ctx := context.Background()
	for i, name := range []string{"Acme Robotics", "Acme Foods", "Globex"} {
		description := "Builds " + name
		app, err := mem.InsertApplication(ctx, store.Application{
			SubmissionID:       "evt",
			SubmittedAt:        time.Date(2025, 1, i+1, 0, 0, 0, 0, time.UTC),
			CompanyName:        &name,
			CompanyDescription: &description,
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if name == "Acme Foods" {
			_, err := mem.UpdateApplication(ctx, app.ID, func(a store.Application, _ []store.Vote) (store.Application, error) {
				a.Stage = pipeline.StageRejected
				return a, nil
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
		}
	}
	return NewStoreFallback(mem)
}

func TestSearchUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeBackend{healthy: true, searchFn: func(q Query) ([]Result, int, error) {
		return []Result{{ID: "a1", CompanyName: "<mark>Acme</mark>"}}, 1, nil
	}}
	svc := &Service{primary: primary, fallback: seededFallback(t)}

	resp := svc.Search(context.Background(), Query{Text: "acme"})
	if resp.Source != SourceMeili || resp.Total != 1 || resp.Results[0].ID != "a1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestSearchFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeBackend{healthy: true, searchFn: func(Query) ([]Result, int, error) {
		return nil, 0, errors.New("boom")
	}}
	svc := &Service{primary: primary, fallback: seededFallback(t)}

	resp := svc.Search(context.Background(), Query{Text: "acme"})
	if resp.Source != SourceDatabase {
		t.Fatalf("expected database source, got %s", resp.Source)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %+v", resp.Results)
	}
	if resp.Results[0].CompanyName != "Acme Foods" {
		t.Fatalf("expected newest first, got %+v", resp.Results)
	}
}

func TestSearchWithoutPrimaryFiltersStage(t *testing.T) {
	svc := NewService(nil, seededFallback(t))

	resp := svc.Search(context.Background(), Query{Text: "acme", Stage: string(pipeline.StageNew)})
	if len(resp.Results) != 1 || resp.Results[0].CompanyName != "Acme Robotics" {
		t.Fatalf("unexpected results: %+v", resp.Results)
	}
}

func TestSearchWithoutAnyBackendReturnsEmpty(t *testing.T) {
	resp := NewService(nil, nil).Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
}

func TestIndexApplicationSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: false}
	svc := &Service{primary: primary}
	svc.IndexApplication(ApplicationRecord{ID: "a1"})
	svc.Wait()
	if len(primary.indexed) != 0 {
		t.Fatalf("expected no indexing, got %+v", primary.indexed)
	}

	primary.healthy = true
	svc.IndexApplication(ApplicationRecord{ID: "a1"})
	svc.Wait()
	if len(primary.indexed) != 1 {
		t.Fatalf("expected one indexed record, got %+v", primary.indexed)
	}
}

func TestReindexAll(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := &Service{primary: primary, fallback: seededFallback(t)}
	svc.ReindexAll(context.Background())
	if len(primary.indexed) != 3 {
		t.Fatalf("expected 3 records, got %d", len(primary.indexed))
	}
}

func TestRecordFromApplication(t *testing.T) {
	name := "Acme"
	submitted := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	record := RecordFromApplication(store.Application{ID: "a1", CompanyName: &name, Stage: pipeline.StageVoting, SubmittedAt: submitted})
	if record.CompanyName != "Acme" || record.FounderNames != "" || record.Stage != "voting" || record.SubmittedAt != submitted.Unix() {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestHitToResultPrefersFormatted(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":                 raw("a1"),
		"companyName":        raw("Acme"),
		"companyDescription": raw("Robots for warehouses"),
		"stage":              raw("new"),
		"_formatted":         raw(map[string]string{"companyName": "<mark>Acme</mark>"}),
	}
	result := hitToResult(hit)
	if result.ID != "a1" || result.CompanyName != "<mark>Acme</mark>" || result.Snippet != "Robots for warehouses" || result.Stage != "new" {
		t.Fatalf("unexpected result: %+v", result)
	}
}
