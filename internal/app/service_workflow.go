package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"dealflow/api/internal/pipeline"
	"dealflow/api/internal/store"
	"dealflow/api/internal/util"
)

type VoteInput struct {
	Vote     string `json:"vote"`
	Notes    string `json:"notes"`
	VoteType string `json:"voteType"`
}

type DeliberationInput struct {
	MeetingDate string `json:"meetingDate"`
	IdeaSummary string `json:"ideaSummary"`
	Thoughts    string `json:"thoughts"`
	Decision    string `json:"decision"`
	Status      string `json:"status"`
}

// SubmitVote upserts the caller's ballot and recomputes the stage in the same
// transaction. Resubmitting overwrites the previous vote and notes.
func (s *Service) SubmitVote(ctx context.Context, session Session, applicationID string, input VoteInput) (map[string]any, error) {
	value, err := pipeline.ParseVoteValue(input.Vote)
	if err != nil {
		return nil, err
	}
	voteType, err := pipeline.ParseVoteType(input.VoteType)
	if err != nil {
		return nil, err
	}

	var before pipeline.Stage
	saved, app, err := s.store.UpsertVote(ctx, store.Vote{
		ApplicationID: applicationID,
		UserID:        session.UserID,
		Type:          voteType,
		Value:         value,
		Notes:         optionalText(input.Notes),
	}, func(app store.Application, votes []store.Vote) (store.Application, error) {
		before = app.Stage
		if err := pipeline.CanVote(app.Stage, voteType); err != nil {
			return app, err
		}
		return app.WithState(s.rules.ApplyVote(app.State(), store.Ballots(votes))), nil
	})
	if err != nil {
		return nil, err
	}

	logger := util.LoggerFromContext(ctx)
	logger.Info("vote recorded",
		"application_id", app.ID,
		"user_id", session.UserID,
		"vote_type", string(saved.Type),
		"vote", string(saved.Value),
	)
	if before != app.Stage {
		logger.Info("application stage changed", "application_id", app.ID, "from", string(before), "to", string(app.Stage))
		s.indexApplication(app)
	}

	return map[string]any{
		"vote":           voteJSON(saved),
		"application":    applicationJSON(app),
		"readyToAdvance": app.AllVotesIn,
	}, nil
}

// AdvanceToDeliberation moves an application with a quorum of initial votes
// into deliberation and reveals the votes.
func (s *Service) AdvanceToDeliberation(ctx context.Context, session Session, applicationID string) (map[string]any, error) {
	app, err := s.store.UpdateApplication(ctx, applicationID, func(app store.Application, votes []store.Vote) (store.Application, error) {
		next, err := s.rules.Advance(app.State(), store.Ballots(votes))
		if err != nil {
			return app, err
		}
		return app.WithState(next), nil
	})
	if err != nil {
		return nil, err
	}
	util.LoggerFromContext(ctx).Info("application advanced to deliberation", "application_id", app.ID, "user_id", session.UserID)
	s.indexApplication(app)
	return map[string]any{"application": applicationJSON(app)}, nil
}

func (s *Service) RevealVotes(ctx context.Context, session Session, applicationID string) (map[string]any, error) {
	app, err := s.store.UpdateApplication(ctx, applicationID, func(app store.Application, _ []store.Vote) (store.Application, error) {
		return app.WithState(pipeline.Reveal(app.State())), nil
	})
	if err != nil {
		return nil, err
	}
	util.LoggerFromContext(ctx).Info("votes revealed", "application_id", app.ID, "user_id", session.UserID)
	return map[string]any{"application": applicationJSON(app)}, nil
}

// SaveDeliberation upserts the meeting record and applies the decision table
// in the same transaction. Applications still in new or voting are refused.
func (s *Service) SaveDeliberation(ctx context.Context, session Session, applicationID string, input DeliberationInput) (map[string]any, error) {
	decision, err := pipeline.ParseDecision(input.Decision)
	if err != nil {
		return nil, err
	}
	status, err := pipeline.ParseStatus(input.Status)
	if err != nil {
		return nil, err
	}
	meetingDate, err := parseMeetingDate(input.MeetingDate)
	if err != nil {
		return nil, validationError("meetingDate must be YYYY-MM-DD or RFC3339")
	}

	var before pipeline.Stage
	saved, app, err := s.store.SaveDeliberation(ctx, store.Deliberation{
		ApplicationID: applicationID,
		MeetingDate:   meetingDate,
		IdeaSummary:   optionalText(input.IdeaSummary),
		Thoughts:      optionalText(input.Thoughts),
		Decision:      decision,
		Status:        status,
	}, func(app store.Application, saved store.Deliberation) (store.Application, error) {
		before = app.Stage
		if err := pipeline.CanDeliberate(app.Stage); err != nil {
			return app, err
		}
		return app.WithState(pipeline.ApplyDecision(app.State(), saved.Decision, saved.Status)), nil
	})
	if err != nil {
		return nil, err
	}

	logger := util.LoggerFromContext(ctx)
	logger.Info("deliberation saved",
		"application_id", app.ID,
		"user_id", session.UserID,
		"decision", string(saved.Decision),
		"status", string(saved.Status),
	)
	if before != app.Stage {
		logger.Info("application stage changed", "application_id", app.ID, "from", string(before), "to", string(app.Stage))
		s.indexApplication(app)
	}
	return map[string]any{
		"deliberation": deliberationJSON(&saved),
		"application":  applicationJSON(app),
	}, nil
}

// ToggleEmailSent flips the follow-up email flag. It does not depend on stage.
func (s *Service) ToggleEmailSent(ctx context.Context, session Session, applicationID string) (map[string]any, error) {
	app, err := s.store.UpdateApplication(ctx, applicationID, func(app store.Application, _ []store.Vote) (store.Application, error) {
		app.EmailSent = !app.EmailSent
		return app, nil
	})
	if err != nil {
		return nil, err
	}
	util.LoggerFromContext(ctx).Info("email sent toggled", "application_id", app.ID, "user_id", session.UserID, "email_sent", app.EmailSent)
	return map[string]any{"application": applicationJSON(app)}, nil
}

// AssignEmailSender sets who sends the follow-up email. An empty userID clears
// the assignment.
func (s *Service) AssignEmailSender(ctx context.Context, session Session, applicationID, userID string) (map[string]any, error) {
	sender := optionalText(userID)
	app, err := s.store.UpdateApplication(ctx, applicationID, func(app store.Application, _ []store.Vote) (store.Application, error) {
		app.EmailSenderID = sender
		return app, nil
	})
	if err != nil {
		return nil, err
	}
	util.LoggerFromContext(ctx).Info("email sender assigned", "application_id", app.ID, "user_id", session.UserID, "email_sender_id", derefString(sender))
	return map[string]any{"application": applicationJSON(app)}, nil
}

func parseMeetingDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339, time.RFC3339Nano} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
			return &day, nil
		}
	}
	return nil, errors.New("invalid meeting date")
}
