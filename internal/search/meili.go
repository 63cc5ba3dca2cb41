package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxApplications = "dealflow_applications"

// Meili serves application search from Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a client and configures the index. An unreachable server
// is not an error: the health loop keeps probing and the service falls back
// to the database meanwhile.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		slog.Warn("search: meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxApplications, PrimaryKey: "id"}); err != nil {
		slog.Debug("search: create index (may already exist)", "index", idxApplications, "error", err)
	}

	index := m.client.Index(idxApplications)
	filterable := []interface{}{"stage"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		slog.Warn("search: update filterable attributes", "index", idxApplications, "error", err)
	}
	searchable := []string{"companyName", "founderNames", "companyDescription", "primaryEmail", "website"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		slog.Warn("search: update searchable attributes", "index", idxApplications, "error", err)
	}
	sortable := []string{"submittedAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		slog.Warn("search: update sortable attributes", "index", idxApplications, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				slog.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errors.New("meilisearch unhealthy")
	}

	request := &meili.SearchRequest{
		Limit:                 int64(q.limit()),
		AttributesToHighlight: []string{"companyName", "companyDescription"},
		AttributesToCrop:      []string{"companyDescription"},
		CropLength:            24,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if stage := strings.TrimSpace(q.Stage); stage != "" {
		request.Filter = fmt.Sprintf("stage = %q", stage)
	}

	resp, err := m.client.Index(idxApplications).Search(q.Text, request)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:          decodeString(hit, "id"),
		CompanyName: firstNonBlank(decodeFormattedString(hit, "companyName"), decodeString(hit, "companyName")),
		Snippet:     firstNonBlank(decodeFormattedString(hit, "companyDescription"), decodeString(hit, "companyDescription")),
		Stage:       decodeString(hit, "stage"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexApplications adds or replaces application documents.
func (m *Meili) IndexApplications(records []ApplicationRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxApplications).AddDocuments(records, nil)
	return err
}
