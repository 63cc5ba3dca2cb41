package pipeline

// DefaultQuorum is the number of initial votes after which an application is
// ready to leave the pipeline.
const DefaultQuorum = 3

type Rules struct {
	Quorum int
}

func DefaultRules() Rules {
	return Rules{Quorum: DefaultQuorum}
}

func (r Rules) quorum() int {
	if r.Quorum <= 0 {
		return DefaultQuorum
	}
	return r.Quorum
}

// InitialVoteCount counts distinct partners with an initial ballot.
func InitialVoteCount(ballots []Ballot) int {
	seen := make(map[string]struct{}, len(ballots))
	for _, ballot := range ballots {
		if ballot.Type != VoteInitial {
			continue
		}
		seen[ballot.UserID] = struct{}{}
	}
	return len(seen)
}

// QuorumReached is the only readiness check; every caller that needs to know
// whether an application can advance goes through it.
func (r Rules) QuorumReached(ballots []Ballot) bool {
	return InitialVoteCount(ballots) >= r.quorum()
}

// ApplyVote recomputes the workflow state after a ballot has been stored.
// ballots must include the ballot that was just written.
func (r Rules) ApplyVote(state State, ballots []Ballot) State {
	next := state
	if next.Stage == StageNew && InitialVoteCount(ballots) > 0 {
		next.Stage = StageVoting
	}
	next.AllVotesIn = r.QuorumReached(ballots)
	return next
}

// Advance moves a voted application into deliberation and reveals its votes.
func (r Rules) Advance(state State, ballots []Ballot) (State, error) {
	if state.Stage.Terminal() {
		return state, ErrTerminalStage
	}
	if !state.Stage.InPipeline() {
		return state, ErrInvalidStage
	}
	if !r.QuorumReached(ballots) {
		return state, ErrQuorumNotReached
	}
	next := state
	next.Stage = StageDeliberation
	next.VotesRevealed = true
	next.AllVotesIn = true
	return next, nil
}

// Reveal exposes individual partner votes to everyone.
func Reveal(state State) State {
	next := state
	next.VotesRevealed = true
	return next
}
