package search

import (
	"context"
	"log/slog"
	"sync"
)

// backend is the primary engine; *Meili implements it.
type backend interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexApplications(records []ApplicationRecord) error
}

// Service tries Meilisearch first and falls back to the database.
type Service struct {
	primary  backend
	fallback *StoreFallback
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(m *Meili, fallback *StoreFallback) *Service {
	s := &Service{fallback: fallback}
	if m != nil {
		s.primary = m
	}
	return s
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		slog.Warn("search: meilisearch error, falling back to database", "error", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Source: SourceDatabase}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		slog.Error("search: database fallback error", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Source: SourceDatabase}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceDatabase}
}

// IndexApplication pushes one application to the index in the background.
func (s *Service) IndexApplication(record ApplicationRecord) {
	if !s.primaryHealthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.primary.IndexApplications([]ApplicationRecord{record}); err != nil {
			slog.Warn("search: index application", "application_id", record.ID, "error", err)
		}
	}()
}

// ReindexAll loads every application from the database and indexes it.
// Called at startup when the primary engine is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.primaryHealthy() || s.fallback == nil {
		return
	}
	records, err := s.fallback.LoadAllRecords(ctx)
	if err != nil {
		slog.Error("search: reindex load failed", "error", err)
		return
	}
	if err := s.primary.IndexApplications(records); err != nil {
		slog.Error("search: reindex applications", "count", len(records), "error", err)
		return
	}
	slog.Info("search: reindexed applications", "count", len(records))
}

// Wait blocks until background indexing has finished.
func (s *Service) Wait() {
	s.pending.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
