package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dealflow/api/internal/archive"
	"dealflow/api/internal/auth"
	"dealflow/api/internal/delivery"
	"dealflow/api/internal/intake"
	"dealflow/api/internal/pipeline"
	"dealflow/api/internal/rbac"
	"dealflow/api/internal/search"
	"dealflow/api/internal/store"
	"dealflow/api/internal/util"
)

// Session is the verified caller of a partner API request.
type Session struct {
	UserID   string
	UserName string
	Email    string
	Role     rbac.Role
}

// Store is the persistence the service needs; PostgresStore and MemoryStore
// both satisfy it.
type Store interface {
	InsertApplication(context.Context, store.Application) (store.Application, error)
	GetApplication(context.Context, string) (store.Application, error)
	ListApplications(context.Context, store.ApplicationFilter) ([]store.Application, error)
	SearchApplications(context.Context, string, int) ([]store.Application, error)
	CountApplicationsByStage(context.Context) (map[pipeline.Stage]int, error)
	UpsertVote(context.Context, store.Vote, store.ApplicationMutation) (store.Vote, store.Application, error)
	UpdateApplication(context.Context, string, store.ApplicationMutation) (store.Application, error)
	SaveDeliberation(context.Context, store.Deliberation, store.DeliberationTransition) (store.Deliberation, store.Application, error)
	ListVotes(context.Context, store.VoteFilter) ([]store.Vote, error)
	GetDeliberation(context.Context, string) (store.Deliberation, error)
	ListDeliberations(context.Context, []string) ([]store.Deliberation, error)
	UpsertUser(context.Context, store.User) (store.User, error)
	ListUsers(context.Context) ([]store.User, error)
	ListInvestments(context.Context) ([]store.Investment, error)
	Ping(ctx context.Context) error
}

// DeliveryTracker reports repeated deliveries of one submission.
type DeliveryTracker interface {
	Observe(ctx context.Context, submissionID string, record delivery.Record) (delivery.Record, bool, error)
}

// PayloadArchive keeps the raw text of a delivery.
type PayloadArchive interface {
	Save(ctx context.Context, d archive.Delivery) (string, error)
}

type applicationIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexApplication(record search.ApplicationRecord)
}

// Options carries the optional collaborators. Nil fields disable the feature.
type Options struct {
	Rules   pipeline.Rules
	Tracker DeliveryTracker
	Archive PayloadArchive
	Search  *search.Service
	Now     func() time.Time
}

type Service struct {
	store   Store
	rules   pipeline.Rules
	tracker DeliveryTracker
	archive PayloadArchive
	search  applicationIndex
	now     func() time.Time
}

func New(dataStore Store, opts Options) *Service {
	s := &Service{
		store:   dataStore,
		rules:   opts.Rules,
		tracker: opts.Tracker,
		archive: opts.Archive,
		now:     opts.Now,
	}
	if s.rules.Quorum <= 0 {
		s.rules = pipeline.DefaultRules()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Search != nil {
		s.search = opts.Search
	} else {
		s.search = search.NewService(nil, search.NewStoreFallback(dataStore))
	}
	return s
}

func (s *Service) Can(role rbac.Role, action rbac.Action) bool {
	return rbac.Can(role, action)
}

// SessionFromClaims upserts the caller's partner profile from a verified
// token and returns the session for the request.
func (s *Service) SessionFromClaims(ctx context.Context, claims auth.Claims) (Session, error) {
	userID := strings.TrimSpace(claims.Subject)
	if userID == "" {
		return Session{}, auth.ErrInvalidToken
	}
	name := firstNonEmpty(claims.Name, claims.Email, userID)
	role := rbac.Normalize(strings.ToLower(strings.TrimSpace(claims.Role)))
	user, err := s.store.UpsertUser(ctx, store.User{
		ID:    userID,
		Name:  name,
		Email: strings.TrimSpace(claims.Email),
		Role:  string(role),
	})
	if err != nil {
		return Session{}, fmt.Errorf("upsert user: %w", err)
	}
	return Session{UserID: user.ID, UserName: user.Name, Email: user.Email, Role: role}, nil
}

// IngestResult describes one accepted webhook delivery.
type IngestResult struct {
	ApplicationID     string
	SubmissionID      string
	DedupeKeyReliable bool
	// Repeat is true when the tracker has seen this submission id before.
	// The delivery is stored regardless.
	Repeat bool
}

// Ingest normalizes a delivery and stores it as a new application. Tracking,
// archiving and indexing happen after the insert and never fail the call.
func (s *Service) Ingest(ctx context.Context, payload intake.Payload) (IngestResult, error) {
	logger := util.LoggerFromContext(ctx)
	receivedAt := s.now().UTC()
	sub := intake.Normalize(payload, receivedAt)

	saved, err := s.store.InsertApplication(ctx, store.Application{
		SubmissionID:       sub.SubmissionID,
		SubmittedAt:        sub.SubmittedAt,
		CompanyName:        sub.CompanyName,
		FounderNames:       sub.FounderNames,
		FounderLinkedins:   sub.FounderLinkedins,
		FounderBios:        sub.FounderBios,
		PrimaryEmail:       sub.PrimaryEmail,
		CompanyDescription: sub.CompanyDescription,
		Website:            sub.Website,
		PreviousFunding:    sub.PreviousFunding,
		DeckLink:           sub.DeckLink,
		Stage:              pipeline.StageNew,
	})
	if err != nil {
		logger.Error("application insert failed", "submission_id", sub.SubmissionID, "error", err)
		return IngestResult{}, err
	}

	shapes := make([]string, 0, len(sub.Shapes))
	for _, shape := range sub.Shapes {
		shapes = append(shapes, shape.String())
	}
	logger = logger.With("application_id", saved.ID, "submission_id", sub.SubmissionID)
	logger.Info("application received",
		"company_name", derefString(sub.CompanyName),
		"shapes", shapes,
		"dedupe_key_reliable", sub.DedupeKeyReliable,
	)

	result := IngestResult{
		ApplicationID:     saved.ID,
		SubmissionID:      sub.SubmissionID,
		DedupeKeyReliable: sub.DedupeKeyReliable,
	}

	if s.tracker != nil && sub.DedupeKeyReliable {
		first, seen, err := s.tracker.Observe(ctx, sub.SubmissionID, delivery.Record{ApplicationID: saved.ID, ReceivedAt: receivedAt})
		switch {
		case err != nil:
			logger.Warn("delivery tracking failed", "error", err)
		case seen:
			result.Repeat = true
			logger.Warn("repeated delivery stored as new application",
				"first_application_id", first.ApplicationID,
				"first_received_at", first.ReceivedAt,
			)
		}
	}

	if s.archive != nil {
		key, err := s.archive.Save(ctx, archive.Delivery{
			ApplicationID: saved.ID,
			SubmissionID:  sub.SubmissionID,
			ReceivedAt:    receivedAt,
			Shapes:        shapes,
			Fields:        payload.TextFields(),
			Files:         payload.FileNames(),
		})
		if err != nil {
			logger.Warn("delivery archive failed", "error", err)
		} else {
			logger.Debug("delivery archived", "object_key", key)
		}
	}

	s.search.IndexApplication(search.RecordFromApplication(saved))
	return result, nil
}

func (s *Service) Search(ctx context.Context, text, stage string, limit int) (search.Response, error) {
	if stage != "" {
		if _, err := pipeline.ParseStage(stage); err != nil {
			return search.Response{}, validationError(err.Error())
		}
	}
	return s.search.Search(ctx, search.Query{Text: strings.TrimSpace(text), Stage: stage, Limit: limit}), nil
}

func (s *Service) Investments(ctx context.Context) (map[string]any, error) {
	items, err := s.store.ListInvestments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list investments: %w", err)
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, investmentJSON(item))
	}
	return map[string]any{"investments": out}, nil
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) indexApplication(app store.Application) {
	s.search.IndexApplication(search.RecordFromApplication(app))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func optionalText(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
