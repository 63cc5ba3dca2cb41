// Package pipeline holds the review workflow rules: stages, votes, quorum and
// the deliberation decision table. It performs no I/O.
package pipeline

import (
	"errors"
	"fmt"
)

type Stage string

const (
	StageNew          Stage = "new"
	StageVoting       Stage = "voting"
	StageDeliberation Stage = "deliberation"
	StageInvested     Stage = "invested"
	StageRejected     Stage = "rejected"
)

var (
	ErrQuorumNotReached = errors.New("quorum of initial votes not reached")
	ErrTerminalStage    = errors.New("application already has a final outcome")
	ErrInvalidStage     = errors.New("invalid stage for this action")
)

func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageVoting, StageDeliberation, StageInvested, StageRejected:
		return true
	default:
		return false
	}
}

func (s Stage) Terminal() bool {
	return s == StageInvested || s == StageRejected
}

// InPipeline reports whether the application still awaits initial votes.
func (s Stage) InPipeline() bool {
	return s == StageNew || s == StageVoting
}

func ParseStage(raw string) (Stage, error) {
	stage := Stage(raw)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown stage %q", raw)
	}
	return stage, nil
}

// State is the mutable workflow slice of an application.
type State struct {
	Stage         Stage
	VotesRevealed bool
	AllVotesIn    bool
}
