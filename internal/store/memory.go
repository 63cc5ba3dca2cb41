package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealflow/api/internal/pipeline"
)

type voteKey struct {
	applicationID string
	userID        string
	voteType      pipeline.VoteType
}

// MemoryStore mirrors PostgresStore in process. It backs service tests and
// DB-less development runs; one mutex stands in for row locks.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	applications  map[string]Application
	votes         map[voteKey]Vote
	nextVoteID    int64
	deliberations map[string]Deliberation
	nextDelibID   int64
	users         map[string]User
	investments   []Investment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           time.Now,
		applications:  make(map[string]Application),
		votes:         make(map[voteKey]Vote),
		deliberations: make(map[string]Deliberation),
		users:         make(map[string]User),
	}
}

// SeedInvestments replaces the investment list; investments have no write path
// in the API.
func (m *MemoryStore) SeedInvestments(items ...Investment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.investments = append([]Investment(nil), items...)
	for i := range m.investments {
		if m.investments[i].ID == "" {
			m.investments[i].ID = uuid.NewString()
		}
	}
}

func (m *MemoryStore) InsertApplication(_ context.Context, app Application) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if _, exists := m.applications[app.ID]; exists {
		return Application{}, fmt.Errorf("insert application: duplicate id %s", app.ID)
	}
	if app.Stage == "" {
		app.Stage = pipeline.StageNew
	}
	now := m.now().UTC()
	app.CreatedAt, app.UpdatedAt = now, now
	m.applications[app.ID] = app
	return app, nil
}

func (m *MemoryStore) GetApplication(_ context.Context, id string) (Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.applications[id]
	if !ok {
		return Application{}, fmt.Errorf("get application: %w", ErrNotFound)
	}
	return app, nil
}

func (m *MemoryStore) ListApplications(_ context.Context, filter ApplicationFilter) ([]Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Application, 0)
	for _, app := range m.applications {
		if len(filter.Stages) > 0 && !slices.Contains(filter.Stages, app.Stage) {
			continue
		}
		if filter.VotesRevealed != nil && app.VotesRevealed != *filter.VotesRevealed {
			continue
		}
		if filter.EmailSenderID != "" && (app.EmailSenderID == nil || *app.EmailSenderID != filter.EmailSenderID) {
			continue
		}
		items = append(items, app)
	}
	sortApplications(items)
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

func (m *MemoryStore) SearchApplications(_ context.Context, query string, limit int) ([]Application, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Application, 0)
	for _, app := range m.applications {
		for _, field := range []*string{app.CompanyName, app.FounderNames, app.CompanyDescription, app.PrimaryEmail, app.Website} {
			if field != nil && strings.Contains(strings.ToLower(*field), needle) {
				items = append(items, app)
				break
			}
		}
	}
	sortApplications(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *MemoryStore) CountApplicationsByStage(_ context.Context) (map[pipeline.Stage]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[pipeline.Stage]int)
	for _, app := range m.applications {
		counts[app.Stage]++
	}
	return counts, nil
}

func (m *MemoryStore) UpsertVote(_ context.Context, vote Vote, mutate ApplicationMutation) (Vote, Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[vote.ApplicationID]
	if !ok {
		return Vote{}, Application{}, fmt.Errorf("lock application: %w", ErrNotFound)
	}
	if _, ok := m.users[vote.UserID]; !ok {
		return Vote{}, Application{}, fmt.Errorf("upsert vote: %w (unknown user %s)", ErrNotFound, vote.UserID)
	}

	key := voteKey{applicationID: vote.ApplicationID, userID: vote.UserID, voteType: vote.Type}
	now := m.now().UTC()
	saved, exists := m.votes[key]
	if !exists {
		m.nextVoteID++
		saved = Vote{ID: m.nextVoteID, ApplicationID: vote.ApplicationID, UserID: vote.UserID, Type: vote.Type, CreatedAt: now}
	}
	saved.Value = vote.Value
	saved.Notes = vote.Notes
	saved.UpdatedAt = now
	saved.UserName = m.users[vote.UserID].Name

	previous, hadPrevious := m.votes[key]
	m.votes[key] = saved

	if mutate != nil {
		next, err := mutate(app, m.votesFor(app.ID))
		if err != nil {
			if hadPrevious {
				m.votes[key] = previous
			} else {
				delete(m.votes, key)
				m.nextVoteID--
			}
			return Vote{}, Application{}, err
		}
		app = m.writeApplication(app, next)
	}
	return saved, app, nil
}

func (m *MemoryStore) UpdateApplication(_ context.Context, id string, mutate ApplicationMutation) (Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[id]
	if !ok {
		return Application{}, fmt.Errorf("lock application: %w", ErrNotFound)
	}
	next, err := mutate(app, m.votesFor(id))
	if err != nil {
		return Application{}, err
	}
	if next.EmailSenderID != nil {
		if _, ok := m.users[*next.EmailSenderID]; !ok {
			return Application{}, fmt.Errorf("update application: %w (unknown user %s)", ErrNotFound, *next.EmailSenderID)
		}
	}
	return m.writeApplication(app, next), nil
}

func (m *MemoryStore) SaveDeliberation(_ context.Context, item Deliberation, transition DeliberationTransition) (Deliberation, Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.applications[item.ApplicationID]
	if !ok {
		return Deliberation{}, Application{}, fmt.Errorf("lock application: %w", ErrNotFound)
	}

	now := m.now().UTC()
	saved, exists := m.deliberations[app.ID]
	if !exists {
		saved = Deliberation{ID: m.nextDelibID + 1, ApplicationID: app.ID, CreatedAt: now}
	}
	saved.MeetingDate = item.MeetingDate
	saved.IdeaSummary = item.IdeaSummary
	saved.Thoughts = item.Thoughts
	saved.Decision = item.Decision
	saved.Status = item.Status
	saved.UpdatedAt = now

	if transition != nil {
		next, err := transition(app, saved)
		if err != nil {
			return Deliberation{}, Application{}, err
		}
		app = m.writeApplication(app, next)
	}
	if !exists {
		m.nextDelibID++
	}
	m.deliberations[app.ID] = saved
	return saved, app, nil
}

// writeApplication persists the columns an update may touch, matching the
// SQL UPDATE in PostgresStore.
func (m *MemoryStore) writeApplication(current, next Application) Application {
	current.Stage = next.Stage
	current.VotesRevealed = next.VotesRevealed
	current.AllVotesIn = next.AllVotesIn
	current.EmailSenderID = next.EmailSenderID
	current.EmailSent = next.EmailSent
	current.UpdatedAt = m.now().UTC()
	m.applications[current.ID] = current
	return current
}

func (m *MemoryStore) votesFor(applicationID string) []Vote {
	items := make([]Vote, 0)
	for key, vote := range m.votes {
		if key.applicationID == applicationID {
			items = append(items, vote)
		}
	}
	sortVotes(items)
	return items
}

func (m *MemoryStore) ListVotes(_ context.Context, filter VoteFilter) ([]Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Vote, 0)
	for _, vote := range m.votes {
		if len(filter.ApplicationIDs) > 0 && !slices.Contains(filter.ApplicationIDs, vote.ApplicationID) {
			continue
		}
		if filter.UserID != "" && vote.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && vote.Type != filter.Type {
			continue
		}
		vote.UserName = m.users[vote.UserID].Name
		items = append(items, vote)
	}
	sortVotes(items)
	return items, nil
}

func (m *MemoryStore) GetDeliberation(_ context.Context, applicationID string) (Deliberation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.deliberations[applicationID]
	if !ok {
		return Deliberation{}, fmt.Errorf("get deliberation: %w", ErrNotFound)
	}
	return item, nil
}

func (m *MemoryStore) ListDeliberations(_ context.Context, applicationIDs []string) ([]Deliberation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Deliberation, 0)
	for _, item := range m.deliberations {
		if len(applicationIDs) > 0 && !slices.Contains(applicationIDs, item.ApplicationID) {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) UpsertUser(_ context.Context, user User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if user.Role == "" {
		user.Role = "partner"
	}
	now := m.now().UTC()
	if existing, ok := m.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	m.users[user.ID] = user
	return user, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]User, 0, len(m.users))
	for _, user := range m.users {
		items = append(items, user)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) ListInvestments(_ context.Context) ([]Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := append([]Investment(nil), m.investments...)
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].InvestmentDate, items[j].InvestmentDate
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return items, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

func sortApplications(items []Application) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].SubmittedAt.Equal(items[j].SubmittedAt) {
			return items[i].SubmittedAt.After(items[j].SubmittedAt)
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func sortVotes(items []Vote) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
