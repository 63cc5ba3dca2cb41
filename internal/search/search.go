// Package search finds applications by company, founders and description.
// Meilisearch serves queries when it is configured and healthy; otherwise the
// database answers with a substring match.
package search

import "dealflow/api/internal/store"

const (
	SourceMeili    = "meilisearch"
	SourceDatabase = "database"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	CompanyName string `json:"companyName"`
	Snippet     string `json:"snippet"`
	Stage       string `json:"stage"`
}

// Query describes a search request.
type Query struct {
	Text  string
	Stage string // empty = all stages
	Limit int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// ApplicationRecord is the document indexed for one application.
type ApplicationRecord struct {
	ID                 string `json:"id"`
	CompanyName        string `json:"companyName"`
	FounderNames       string `json:"founderNames"`
	CompanyDescription string `json:"companyDescription"`
	PrimaryEmail       string `json:"primaryEmail"`
	Website            string `json:"website"`
	Stage              string `json:"stage"`
	SubmittedAt        int64  `json:"submittedAt"`
}

func RecordFromApplication(app store.Application) ApplicationRecord {
	return ApplicationRecord{
		ID:                 app.ID,
		CompanyName:        deref(app.CompanyName),
		FounderNames:       deref(app.FounderNames),
		CompanyDescription: deref(app.CompanyDescription),
		PrimaryEmail:       deref(app.PrimaryEmail),
		Website:            deref(app.Website),
		Stage:              string(app.Stage),
		SubmittedAt:        app.SubmittedAt.UTC().Unix(),
	}
}

func resultFromApplication(app store.Application) Result {
	return Result{
		ID:          app.ID,
		CompanyName: deref(app.CompanyName),
		Snippet:     snippet(deref(app.CompanyDescription), 160),
		Stage:       string(app.Stage),
	}
}

func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
