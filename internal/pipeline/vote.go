package pipeline

import (
	"errors"
	"strings"
)

type VoteType string

const (
	VoteInitial VoteType = "initial"
	VoteFinal   VoteType = "final"
)

type VoteValue string

const (
	VoteYes   VoteValue = "yes"
	VoteMaybe VoteValue = "maybe"
	VoteNo    VoteValue = "no"
)

var (
	ErrInvalidVote     = errors.New("vote must be one of yes, maybe, no")
	ErrInvalidVoteType = errors.New("vote type must be initial or final")
)

func ParseVoteValue(raw string) (VoteValue, error) {
	switch value := VoteValue(strings.ToLower(strings.TrimSpace(raw))); value {
	case VoteYes, VoteMaybe, VoteNo:
		return value, nil
	default:
		return "", ErrInvalidVote
	}
}

// ParseVoteType defaults an empty type to initial.
func ParseVoteType(raw string) (VoteType, error) {
	switch value := VoteType(strings.ToLower(strings.TrimSpace(raw))); value {
	case "":
		return VoteInitial, nil
	case VoteInitial, VoteFinal:
		return value, nil
	default:
		return "", ErrInvalidVoteType
	}
}

// Ballot is the part of a stored vote the workflow rules care about.
type Ballot struct {
	UserID string
	Type   VoteType
	Value  VoteValue
}

// CanVote reports whether a ballot of the given type may be cast at stage.
// Initial votes belong to the pipeline; final votes to deliberation.
func CanVote(stage Stage, voteType VoteType) error {
	if stage.Terminal() {
		return ErrTerminalStage
	}
	switch voteType {
	case VoteInitial:
		if !stage.InPipeline() {
			return ErrInvalidStage
		}
	case VoteFinal:
		if stage != StageDeliberation {
			return ErrInvalidStage
		}
	default:
		return ErrInvalidVoteType
	}
	return nil
}
