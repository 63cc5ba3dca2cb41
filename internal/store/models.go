package store

import (
	"time"

	"dealflow/api/internal/pipeline"
)

type User struct {
	ID        string
	Name      string
	Email     string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Application struct {
	ID           string
	SubmissionID string
	SubmittedAt  time.Time

	CompanyName        *string
	FounderNames       *string
	FounderLinkedins   *string
	FounderBios        *string
	PrimaryEmail       *string
	CompanyDescription *string
	Website            *string
	PreviousFunding    *string
	DeckLink           *string

	Stage         pipeline.Stage
	VotesRevealed bool
	AllVotesIn    bool
	EmailSenderID *string
	EmailSent     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Application) State() pipeline.State {
	return pipeline.State{Stage: a.Stage, VotesRevealed: a.VotesRevealed, AllVotesIn: a.AllVotesIn}
}

func (a Application) WithState(state pipeline.State) Application {
	a.Stage = state.Stage
	a.VotesRevealed = state.VotesRevealed
	a.AllVotesIn = state.AllVotesIn
	return a
}

type Vote struct {
	ID            int64
	ApplicationID string
	UserID        string
	UserName      string
	Type          pipeline.VoteType
	Value         pipeline.VoteValue
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (v Vote) Ballot() pipeline.Ballot {
	return pipeline.Ballot{UserID: v.UserID, Type: v.Type, Value: v.Value}
}

func Ballots(votes []Vote) []pipeline.Ballot {
	out := make([]pipeline.Ballot, 0, len(votes))
	for _, vote := range votes {
		out = append(out, vote.Ballot())
	}
	return out
}

type Deliberation struct {
	ID            int64
	ApplicationID string
	MeetingDate   *time.Time
	IdeaSummary   *string
	Thoughts      *string
	Decision      pipeline.Decision
	Status        pipeline.DeliberationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Investment struct {
	ID             string
	ApplicationID  *string
	CompanyName    string
	InvestmentDate *time.Time
	Amount         *float64
	Terms          *string
	Stealthy       bool
	ContactEmail   *string
	ContactName    *string
	Website        *string
	Description    *string
	Founders       *string
	OtherFunders   *string
	Notes          *string
	CreatedAt      time.Time
}

// ApplicationFilter narrows ListApplications. Zero values match everything.
type ApplicationFilter struct {
	Stages        []pipeline.Stage
	VotesRevealed *bool
	EmailSenderID string
	Limit         int
}

type VoteFilter struct {
	ApplicationIDs []string
	UserID         string
	Type           pipeline.VoteType
}

// ApplicationMutation computes the next application row from the locked
// current row and its votes. Returning an error aborts the transaction.
type ApplicationMutation func(app Application, votes []Vote) (Application, error)

// DeliberationTransition computes the next application row after the
// deliberation has been written. Returning an error aborts the transaction.
type DeliberationTransition func(app Application, saved Deliberation) (Application, error)
