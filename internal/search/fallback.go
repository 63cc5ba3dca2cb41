package search

import (
	"context"
	"fmt"

	"dealflow/api/internal/store"
)

type applicationSource interface {
	SearchApplications(ctx context.Context, query string, limit int) ([]store.Application, error)
	ListApplications(ctx context.Context, filter store.ApplicationFilter) ([]store.Application, error)
}

// StoreFallback answers searches from the database when Meilisearch cannot.
type StoreFallback struct {
	source applicationSource
}

func NewStoreFallback(source applicationSource) *StoreFallback {
	return &StoreFallback{source: source}
}

func (f *StoreFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	limit := q.limit()
	// Over-fetch when filtering by stage so the page is still full afterwards.
	fetch := limit
	if q.Stage != "" {
		fetch = limit * 5
	}
	apps, err := f.source.SearchApplications(ctx, q.Text, fetch)
	if err != nil {
		return nil, 0, fmt.Errorf("database search: %w", err)
	}
	results := make([]Result, 0, len(apps))
	for _, app := range apps {
		if q.Stage != "" && string(app.Stage) != q.Stage {
			continue
		}
		results = append(results, resultFromApplication(app))
		if len(results) == limit {
			break
		}
	}
	return results, len(results), nil
}

// LoadAllRecords reads every application for a full reindex.
func (f *StoreFallback) LoadAllRecords(ctx context.Context) ([]ApplicationRecord, error) {
	apps, err := f.source.ListApplications(ctx, store.ApplicationFilter{})
	if err != nil {
		return nil, fmt.Errorf("load applications: %w", err)
	}
	records := make([]ApplicationRecord, 0, len(apps))
	for _, app := range apps {
		records = append(records, RecordFromApplication(app))
	}
	return records, nil
}
