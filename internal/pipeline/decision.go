package pipeline

import (
	"errors"
	"strings"
)

type Decision string

const (
	DecisionPending Decision = "pending"
	DecisionYes     Decision = "yes"
	DecisionMaybe   Decision = "maybe"
	DecisionNo      Decision = "no"
)

type DeliberationStatus string

const (
	StatusScheduled DeliberationStatus = "scheduled"
	StatusMet       DeliberationStatus = "met"
	StatusEmailed   DeliberationStatus = "emailed"
	StatusInvested  DeliberationStatus = "invested"
	StatusRejected  DeliberationStatus = "rejected"
)

var (
	ErrInvalidDecision = errors.New("decision must be one of pending, yes, maybe, no")
	ErrInvalidStatus   = errors.New("status must be one of scheduled, met, emailed, invested, rejected")
)

// ParseDecision defaults an empty decision to pending.
func ParseDecision(raw string) (Decision, error) {
	switch value := Decision(strings.ToLower(strings.TrimSpace(raw))); value {
	case "":
		return DecisionPending, nil
	case DecisionPending, DecisionYes, DecisionMaybe, DecisionNo:
		return value, nil
	default:
		return "", ErrInvalidDecision
	}
}

// ParseStatus defaults an empty status to scheduled.
func ParseStatus(raw string) (DeliberationStatus, error) {
	switch value := DeliberationStatus(strings.ToLower(strings.TrimSpace(raw))); value {
	case "":
		return StatusScheduled, nil
	case StatusScheduled, StatusMet, StatusEmailed, StatusInvested, StatusRejected:
		return value, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Final reports whether the decision closes the deliberation.
func (d Decision) Final() bool {
	return d == DecisionYes || d == DecisionNo
}

// DecideStage maps a saved deliberation to the stage it forces, if any.
func DecideStage(decision Decision, status DeliberationStatus) (Stage, bool) {
	switch {
	case decision == DecisionYes && status == StatusInvested:
		return StageInvested, true
	case decision == DecisionNo || status == StatusRejected:
		return StageRejected, true
	default:
		return "", false
	}
}

// CanDeliberate reports whether a deliberation may be saved at stage. Records
// belong to applications that reached deliberation; decided applications may
// be re-decided.
func CanDeliberate(stage Stage) error {
	if stage == StageDeliberation || stage.Terminal() {
		return nil
	}
	return ErrInvalidStage
}

// ApplyDecision returns the state after a deliberation save.
func ApplyDecision(state State, decision Decision, status DeliberationStatus) State {
	stage, ok := DecideStage(decision, status)
	if !ok {
		return state
	}
	next := state
	next.Stage = stage
	return next
}
