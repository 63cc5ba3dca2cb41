package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"dealflow/api/internal/pipeline"
	"dealflow/api/internal/store"
)

const recentNotesLimit = 5

// Pipeline lists applications awaiting initial votes, newest first.
func (s *Service) Pipeline(ctx context.Context, session Session) (map[string]any, error) {
	apps, err := s.store.ListApplications(ctx, store.ApplicationFilter{
		Stages: []pipeline.Stage{pipeline.StageNew, pipeline.StageVoting},
	})
	if err != nil {
		return nil, fmt.Errorf("list pipeline applications: %w", err)
	}
	if len(apps) == 0 {
		return map[string]any{"applications": []map[string]any{}, "quorum": s.rules.Quorum}, nil
	}
	votes, err := s.store.ListVotes(ctx, store.VoteFilter{ApplicationIDs: applicationIDs(apps), Type: pipeline.VoteInitial})
	if err != nil {
		return nil, fmt.Errorf("list pipeline votes: %w", err)
	}
	byApp := groupVotes(votes)

	items := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		appVotes := byApp[app.ID]
		item := map[string]any{
			"application":    applicationJSON(app),
			"voteCount":      pipeline.InitialVoteCount(store.Ballots(appVotes)),
			"myVote":         nil,
			"myNotes":        nil,
			"readyToAdvance": s.rules.QuorumReached(store.Ballots(appVotes)),
		}
		if mine, ok := findVote(appVotes, session.UserID, pipeline.VoteInitial); ok {
			item["myVote"] = string(mine.Value)
			item["myNotes"] = mine.Notes
		}
		items = append(items, item)
	}
	return map[string]any{"applications": items, "quorum": s.rules.Quorum}, nil
}

// Deliberation lists applications under discussion with their revealed votes.
func (s *Service) Deliberation(ctx context.Context) (map[string]any, error) {
	revealed := true
	apps, err := s.store.ListApplications(ctx, store.ApplicationFilter{
		Stages:        []pipeline.Stage{pipeline.StageDeliberation},
		VotesRevealed: &revealed,
	})
	if err != nil {
		return nil, fmt.Errorf("list deliberation applications: %w", err)
	}
	ids := applicationIDs(apps)
	if len(ids) == 0 {
		return map[string]any{"applications": []map[string]any{}}, nil
	}
	votes, err := s.store.ListVotes(ctx, store.VoteFilter{ApplicationIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("list deliberation votes: %w", err)
	}
	deliberations, err := s.store.ListDeliberations(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list deliberations: %w", err)
	}
	byApp := groupVotes(votes)
	records := indexDeliberations(deliberations)

	items := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		items = append(items, map[string]any{
			"application":  applicationJSON(app),
			"votes":        votesJSON(byApp[app.ID]),
			"deliberation": deliberationJSON(records[app.ID]),
		})
	}
	return map[string]any{"applications": items}, nil
}

// ApplicationDetail returns one application with the votes the caller may see.
// A partner always sees their own ballots; everyone else's only once votes are
// revealed.
func (s *Service) ApplicationDetail(ctx context.Context, session Session, applicationID string) (map[string]any, error) {
	app, err := s.store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	votes, err := s.store.ListVotes(ctx, store.VoteFilter{ApplicationIDs: []string{app.ID}})
	if err != nil {
		return nil, fmt.Errorf("list application votes: %w", err)
	}
	var record *store.Deliberation
	saved, err := s.store.GetDeliberation(ctx, app.ID)
	switch {
	case err == nil:
		record = &saved
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("get deliberation: %w", err)
	}

	visible := visibleVotes(app, votes, session.UserID)
	ballots := store.Ballots(votes)
	return map[string]any{
		"application":    applicationJSON(app),
		"votes":          votesJSON(visible),
		"hiddenVotes":    len(votes) - len(visible),
		"voteCount":      pipeline.InitialVoteCount(ballots),
		"readyToAdvance": app.Stage.InPipeline() && s.rules.QuorumReached(ballots),
		"deliberation":   deliberationJSON(record),
	}, nil
}

func visibleVotes(app store.Application, votes []store.Vote, userID string) []store.Vote {
	if app.VotesRevealed {
		return votes
	}
	out := make([]store.Vote, 0, len(votes))
	for _, vote := range votes {
		if vote.UserID == userID {
			out = append(out, vote)
		}
	}
	return out
}

type dashboardData struct {
	apps          []store.Application
	votes         []store.Vote
	deliberations []store.Deliberation
	counts        map[pipeline.Stage]int
}

// Dashboard gathers the caller's to-do lists and the fund-wide stats.
func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	var data dashboardData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		apps, err := s.store.ListApplications(gctx, store.ApplicationFilter{})
		if err != nil {
			return fmt.Errorf("list applications: %w", err)
		}
		data.apps = apps
		return nil
	})
	g.Go(func() error {
		votes, err := s.store.ListVotes(gctx, store.VoteFilter{Type: pipeline.VoteInitial})
		if err != nil {
			return fmt.Errorf("list votes: %w", err)
		}
		data.votes = votes
		return nil
	})
	g.Go(func() error {
		items, err := s.store.ListDeliberations(gctx, nil)
		if err != nil {
			return fmt.Errorf("list deliberations: %w", err)
		}
		data.deliberations = items
		return nil
	})
	g.Go(func() error {
		counts, err := s.store.CountApplicationsByStage(gctx)
		if err != nil {
			return fmt.Errorf("count applications: %w", err)
		}
		data.counts = counts
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s.buildDashboard(session, data), nil
}

func (s *Service) buildDashboard(session Session, data dashboardData) map[string]any {
	byApp := groupVotes(data.votes)
	records := indexDeliberations(data.deliberations)
	names := make(map[string]string, len(data.apps))

	needsVote := make([]map[string]any, 0)
	needsDecision := make([]map[string]any, 0)
	myEmails := make([]map[string]any, 0)
	teamEmails := make([]map[string]any, 0)
	readyToAdvance := make([]map[string]any, 0)

	for _, app := range data.apps {
		names[app.ID] = derefString(app.CompanyName)
		appVotes := byApp[app.ID]
		switch {
		case app.Stage.InPipeline():
			if _, voted := findVote(appVotes, session.UserID, pipeline.VoteInitial); !voted {
				needsVote = append(needsVote, applicationJSON(app))
			}
			if s.rules.QuorumReached(store.Ballots(appVotes)) {
				readyToAdvance = append(readyToAdvance, map[string]any{
					"applicationId": app.ID,
					"companyName":   app.CompanyName,
					"voteCount":     pipeline.InitialVoteCount(store.Ballots(appVotes)),
				})
			}
		case app.Stage == pipeline.StageDeliberation:
			record := records[app.ID]
			if record == nil || !record.Decision.Final() {
				needsDecision = append(needsDecision, map[string]any{
					"application":  applicationJSON(app),
					"deliberation": deliberationJSON(record),
				})
			}
		}

		if app.EmailSenderID != nil && (app.Stage == pipeline.StageDeliberation || app.Stage == pipeline.StageRejected) {
			if *app.EmailSenderID == session.UserID {
				myEmails = append(myEmails, applicationJSON(app))
			} else {
				teamEmails = append(teamEmails, applicationJSON(app))
			}
		}
	}

	recentNotes := make([]map[string]any, 0, recentNotesLimit)
	for _, record := range data.deliberations {
		if record.IdeaSummary == nil {
			continue
		}
		recentNotes = append(recentNotes, map[string]any{
			"applicationId": record.ApplicationID,
			"companyName":   names[record.ApplicationID],
			"ideaSummary":   *record.IdeaSummary,
			"decision":      string(record.Decision),
			"updatedAt":     record.UpdatedAt,
		})
		if len(recentNotes) == recentNotesLimit {
			break
		}
	}

	total := 0
	for _, count := range data.counts {
		total += count
	}
	return map[string]any{
		"needsVote":     needsVote,
		"needsDecision": needsDecision,
		"emailAssignments": map[string]any{
			"mine": myEmails,
			"team": teamEmails,
		},
		"stats": map[string]any{
			"pipeline":     data.counts[pipeline.StageNew] + data.counts[pipeline.StageVoting],
			"deliberation": data.counts[pipeline.StageDeliberation],
			"invested":     data.counts[pipeline.StageInvested],
			"rejected":     data.counts[pipeline.StageRejected],
			"total":        total,
		},
		"notifications": map[string]any{
			"readyToAdvance": readyToAdvance,
			"recentNotes":    recentNotes,
		},
	}
}

func applicationIDs(apps []store.Application) []string {
	ids := make([]string, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.ID)
	}
	return ids
}

func groupVotes(votes []store.Vote) map[string][]store.Vote {
	out := make(map[string][]store.Vote)
	for _, vote := range votes {
		out[vote.ApplicationID] = append(out[vote.ApplicationID], vote)
	}
	return out
}

func findVote(votes []store.Vote, userID string, voteType pipeline.VoteType) (store.Vote, bool) {
	for _, vote := range votes {
		if vote.UserID == userID && vote.Type == voteType {
			return vote, true
		}
	}
	return store.Vote{}, false
}

func indexDeliberations(items []store.Deliberation) map[string]*store.Deliberation {
	out := make(map[string]*store.Deliberation, len(items))
	for i := range items {
		out[items[i].ApplicationID] = &items[i]
	}
	return out
}

func applicationJSON(app store.Application) map[string]any {
	return map[string]any{
		"id":                 app.ID,
		"submissionId":       app.SubmissionID,
		"submittedAt":        app.SubmittedAt,
		"companyName":        app.CompanyName,
		"founderNames":       app.FounderNames,
		"founderLinkedins":   app.FounderLinkedins,
		"founderBios":        app.FounderBios,
		"primaryEmail":       app.PrimaryEmail,
		"companyDescription": app.CompanyDescription,
		"website":            app.Website,
		"previousFunding":    app.PreviousFunding,
		"deckLink":           app.DeckLink,
		"stage":              string(app.Stage),
		"votesRevealed":      app.VotesRevealed,
		"allVotesIn":         app.AllVotesIn,
		"emailSenderId":      app.EmailSenderID,
		"emailSent":          app.EmailSent,
		"createdAt":          app.CreatedAt,
		"updatedAt":          app.UpdatedAt,
	}
}

func voteJSON(vote store.Vote) map[string]any {
	return map[string]any{
		"id":            vote.ID,
		"applicationId": vote.ApplicationID,
		"userId":        vote.UserID,
		"userName":      vote.UserName,
		"voteType":      string(vote.Type),
		"vote":          string(vote.Value),
		"notes":         vote.Notes,
		"updatedAt":     vote.UpdatedAt,
	}
}

func votesJSON(votes []store.Vote) []map[string]any {
	out := make([]map[string]any, 0, len(votes))
	for _, vote := range votes {
		out = append(out, voteJSON(vote))
	}
	return out
}

func deliberationJSON(item *store.Deliberation) any {
	if item == nil {
		return nil
	}
	var meetingDate any
	if item.MeetingDate != nil {
		meetingDate = item.MeetingDate.Format("2006-01-02")
	}
	return map[string]any{
		"id":            item.ID,
		"applicationId": item.ApplicationID,
		"meetingDate":   meetingDate,
		"ideaSummary":   item.IdeaSummary,
		"thoughts":      item.Thoughts,
		"decision":      string(item.Decision),
		"status":        string(item.Status),
		"createdAt":     item.CreatedAt,
		"updatedAt":     item.UpdatedAt,
	}
}

func investmentJSON(item store.Investment) map[string]any {
	var investmentDate any
	if item.InvestmentDate != nil {
		investmentDate = item.InvestmentDate.Format("2006-01-02")
	}
	return map[string]any{
		"id":             item.ID,
		"applicationId":  item.ApplicationID,
		"companyName":    item.CompanyName,
		"investmentDate": investmentDate,
		"amount":         item.Amount,
		"terms":          item.Terms,
		"stealthy":       item.Stealthy,
		"contactEmail":   item.ContactEmail,
		"contactName":    item.ContactName,
		"website":        item.Website,
		"description":    item.Description,
		"founders":       item.Founders,
		"otherFunders":   item.OtherFunders,
		"notes":          item.Notes,
	}
}
