package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dealflow/api/internal/pipeline"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

const applicationColumns = `
	a.id::text, a.submission_id, a.submitted_at,
	a.company_name, a.founder_names, a.founder_linkedins, a.founder_bios, a.primary_email,
	a.company_description, a.website, a.previous_funding, a.deck_link,
	a.stage, a.votes_revealed, a.all_votes_in, a.email_sender_id, a.email_sent,
	a.created_at, a.updated_at`

func scanApplication(row scanner) (Application, error) {
	var app Application
	err := row.Scan(
		&app.ID, &app.SubmissionID, &app.SubmittedAt,
		&app.CompanyName, &app.FounderNames, &app.FounderLinkedins, &app.FounderBios, &app.PrimaryEmail,
		&app.CompanyDescription, &app.Website, &app.PreviousFunding, &app.DeckLink,
		&app.Stage, &app.VotesRevealed, &app.AllVotesIn, &app.EmailSenderID, &app.EmailSent,
		&app.CreatedAt, &app.UpdatedAt,
	)
	return app, err
}

const voteColumns = `
	v.id, v.application_id::text, v.user_id, COALESCE(u.name, ''), v.vote_type, v.vote, v.notes,
	v.created_at, v.updated_at`

func scanVote(row scanner) (Vote, error) {
	var vote Vote
	err := row.Scan(
		&vote.ID, &vote.ApplicationID, &vote.UserID, &vote.UserName, &vote.Type, &vote.Value, &vote.Notes,
		&vote.CreatedAt, &vote.UpdatedAt,
	)
	return vote, err
}

const deliberationColumns = `
	d.id, d.application_id::text, d.meeting_date, d.idea_summary, d.thoughts, d.decision, d.status,
	d.created_at, d.updated_at`

func scanDeliberation(row scanner) (Deliberation, error) {
	var item Deliberation
	err := row.Scan(
		&item.ID, &item.ApplicationID, &item.MeetingDate, &item.IdeaSummary, &item.Thoughts,
		&item.Decision, &item.Status, &item.CreatedAt, &item.UpdatedAt,
	)
	return item, err
}

// InsertApplication stores a new row. Rows are never deduplicated on
// submission_id; a repeated delivery yields a second application.
func (s *PostgresStore) InsertApplication(ctx context.Context, app Application) (Application, error) {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.Stage == "" {
		app.Stage = pipeline.StageNew
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO applications AS a (
			id, submission_id, submitted_at,
			company_name, founder_names, founder_linkedins, founder_bios, primary_email,
			company_description, website, previous_funding, deck_link,
			stage, votes_revealed, all_votes_in
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+applicationColumns,
		app.ID, app.SubmissionID, app.SubmittedAt,
		app.CompanyName, app.FounderNames, app.FounderLinkedins, app.FounderBios, app.PrimaryEmail,
		app.CompanyDescription, app.Website, app.PreviousFunding, app.DeckLink,
		string(app.Stage), app.VotesRevealed, app.AllVotesIn,
	)
	saved, err := scanApplication(row)
	if err != nil {
		return Application{}, wrapErr("insert application", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetApplication(ctx context.Context, id string) (Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications a WHERE a.id::text = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		return Application{}, wrapErr("get application", err)
	}
	return app, nil
}

func (s *PostgresStore) ListApplications(ctx context.Context, filter ApplicationFilter) ([]Application, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Stages) > 0 {
		stages := make([]string, 0, len(filter.Stages))
		for _, stage := range filter.Stages {
			stages = append(stages, string(stage))
		}
		args = append(args, stages)
		where = append(where, fmt.Sprintf("a.stage = ANY($%d)", len(args)))
	}
	if filter.VotesRevealed != nil {
		args = append(args, *filter.VotesRevealed)
		where = append(where, fmt.Sprintf("a.votes_revealed = $%d", len(args)))
	}
	if filter.EmailSenderID != "" {
		args = append(args, filter.EmailSenderID)
		where = append(where, fmt.Sprintf("a.email_sender_id = $%d", len(args)))
	}

	query := `SELECT ` + applicationColumns + ` FROM applications a`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY a.submitted_at DESC, a.created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return s.queryApplications(ctx, "list applications", query, args...)
}

// SearchApplications is the database fallback for full-text search: a
// case-insensitive substring match over the descriptive columns.
func (s *PostgresStore) SearchApplications(ctx context.Context, query string, limit int) ([]Application, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.queryApplications(ctx, "search applications", `
		SELECT `+applicationColumns+`
		FROM applications a
		WHERE a.company_name ILIKE $1
			OR a.founder_names ILIKE $1
			OR a.company_description ILIKE $1
			OR a.primary_email ILIKE $1
			OR a.website ILIKE $1
		ORDER BY a.submitted_at DESC
		LIMIT $2
	`, pattern, limit)
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

func (s *PostgresStore) queryApplications(ctx context.Context, op, query string, args ...any) ([]Application, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	items := make([]Application, 0)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, wrapErr("scan application", err)
		}
		items = append(items, app)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return items, nil
}

func (s *PostgresStore) CountApplicationsByStage(ctx context.Context) (map[pipeline.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(*) FROM applications GROUP BY stage`)
	if err != nil {
		return nil, wrapErr("count applications", err)
	}
	defer rows.Close()

	counts := make(map[pipeline.Stage]int)
	for rows.Next() {
		var (
			stage pipeline.Stage
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, wrapErr("scan stage count", err)
		}
		counts[stage] = count
	}
	return counts, wrapErr("count applications", rows.Err())
}

// UpsertVote writes the vote keyed on (application, user, type), then lets
// mutate recompute the application from the locked row and the full vote set.
// Everything commits together or not at all.
func (s *PostgresStore) UpsertVote(ctx context.Context, vote Vote, mutate ApplicationMutation) (Vote, Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Vote{}, Application{}, fmt.Errorf("begin vote tx: %w", err)
	}
	defer tx.Rollback()

	app, err := lockApplication(ctx, tx, vote.ApplicationID)
	if err != nil {
		return Vote{}, Application{}, err
	}

	row := tx.QueryRowContext(ctx, `
		WITH saved AS (
			INSERT INTO votes (application_id, user_id, vote_type, vote, notes)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (application_id, user_id, vote_type)
			DO UPDATE SET vote=EXCLUDED.vote, notes=EXCLUDED.notes, updated_at=NOW()
			RETURNING *
		)
		SELECT `+voteColumns+`
		FROM saved v
		LEFT JOIN users u ON u.id = v.user_id
	`, app.ID, vote.UserID, string(vote.Type), string(vote.Value), vote.Notes)
	saved, err := scanVote(row)
	if err != nil {
		return Vote{}, Application{}, wrapErr("upsert vote", err)
	}

	votes, err := listVotes(ctx, tx, VoteFilter{ApplicationIDs: []string{app.ID}})
	if err != nil {
		return Vote{}, Application{}, err
	}
	if mutate != nil {
		next, err := mutate(app, votes)
		if err != nil {
			return Vote{}, Application{}, err
		}
		if app, err = updateApplication(ctx, tx, next); err != nil {
			return Vote{}, Application{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Vote{}, Application{}, fmt.Errorf("commit vote tx: %w", err)
	}
	return saved, app, nil
}

// UpdateApplication applies mutate to the locked row in one transaction.
func (s *PostgresStore) UpdateApplication(ctx context.Context, id string, mutate ApplicationMutation) (Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Application{}, fmt.Errorf("begin application tx: %w", err)
	}
	defer tx.Rollback()

	app, err := lockApplication(ctx, tx, id)
	if err != nil {
		return Application{}, err
	}
	votes, err := listVotes(ctx, tx, VoteFilter{ApplicationIDs: []string{app.ID}})
	if err != nil {
		return Application{}, err
	}
	next, err := mutate(app, votes)
	if err != nil {
		return Application{}, err
	}
	if app, err = updateApplication(ctx, tx, next); err != nil {
		return Application{}, err
	}
	if err := tx.Commit(); err != nil {
		return Application{}, fmt.Errorf("commit application tx: %w", err)
	}
	return app, nil
}

// SaveDeliberation upserts the single deliberation of an application and
// applies transition to the locked application row in the same transaction.
func (s *PostgresStore) SaveDeliberation(ctx context.Context, item Deliberation, transition DeliberationTransition) (Deliberation, Application, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Deliberation{}, Application{}, fmt.Errorf("begin deliberation tx: %w", err)
	}
	defer tx.Rollback()

	app, err := lockApplication(ctx, tx, item.ApplicationID)
	if err != nil {
		return Deliberation{}, Application{}, err
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO deliberations AS d (application_id, meeting_date, idea_summary, thoughts, decision, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (application_id) DO UPDATE SET
			meeting_date=EXCLUDED.meeting_date,
			idea_summary=EXCLUDED.idea_summary,
			thoughts=EXCLUDED.thoughts,
			decision=EXCLUDED.decision,
			status=EXCLUDED.status,
			updated_at=NOW()
		RETURNING `+deliberationColumns,
		app.ID, item.MeetingDate, item.IdeaSummary, item.Thoughts, string(item.Decision), string(item.Status),
	)
	saved, err := scanDeliberation(row)
	if err != nil {
		return Deliberation{}, Application{}, wrapErr("upsert deliberation", err)
	}

	if transition != nil {
		next, err := transition(app, saved)
		if err != nil {
			return Deliberation{}, Application{}, err
		}
		if app, err = updateApplication(ctx, tx, next); err != nil {
			return Deliberation{}, Application{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Deliberation{}, Application{}, fmt.Errorf("commit deliberation tx: %w", err)
	}
	return saved, app, nil
}

func lockApplication(ctx context.Context, q querier, id string) (Application, error) {
	row := q.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications a WHERE a.id::text = $1 FOR UPDATE`, id)
	app, err := scanApplication(row)
	if err != nil {
		return Application{}, wrapErr("lock application", err)
	}
	return app, nil
}

func updateApplication(ctx context.Context, q querier, app Application) (Application, error) {
	row := q.QueryRowContext(ctx, `
		UPDATE applications AS a
		SET stage=$2, votes_revealed=$3, all_votes_in=$4, email_sender_id=$5, email_sent=$6, updated_at=NOW()
		WHERE a.id::text = $1
		RETURNING `+applicationColumns,
		app.ID, string(app.Stage), app.VotesRevealed, app.AllVotesIn, app.EmailSenderID, app.EmailSent,
	)
	saved, err := scanApplication(row)
	if err != nil {
		return Application{}, wrapErr("update application", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListVotes(ctx context.Context, filter VoteFilter) ([]Vote, error) {
	return listVotes(ctx, s.db, filter)
}

func listVotes(ctx context.Context, q querier, filter VoteFilter) ([]Vote, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.ApplicationIDs) > 0 {
		args = append(args, filter.ApplicationIDs)
		where = append(where, fmt.Sprintf("v.application_id::text = ANY($%d)", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("v.user_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("v.vote_type = $%d", len(args)))
	}

	query := `SELECT ` + voteColumns + ` FROM votes v LEFT JOIN users u ON u.id = v.user_id`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY v.created_at ASC, v.id ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list votes", err)
	}
	defer rows.Close()

	items := make([]Vote, 0)
	for rows.Next() {
		vote, err := scanVote(rows)
		if err != nil {
			return nil, wrapErr("scan vote", err)
		}
		items = append(items, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list votes", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDeliberation(ctx context.Context, applicationID string) (Deliberation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+deliberationColumns+` FROM deliberations d WHERE d.application_id::text = $1`, applicationID)
	item, err := scanDeliberation(row)
	if err != nil {
		return Deliberation{}, wrapErr("get deliberation", err)
	}
	return item, nil
}

// ListDeliberations returns deliberations for the given applications, or all
// of them when applicationIDs is empty, most recently updated first.
func (s *PostgresStore) ListDeliberations(ctx context.Context, applicationIDs []string) ([]Deliberation, error) {
	query := `SELECT ` + deliberationColumns + ` FROM deliberations d`
	var args []any
	if len(applicationIDs) > 0 {
		query += ` WHERE d.application_id::text = ANY($1)`
		args = append(args, applicationIDs)
	}
	query += ` ORDER BY d.updated_at DESC, d.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list deliberations", err)
	}
	defer rows.Close()

	items := make([]Deliberation, 0)
	for rows.Next() {
		item, err := scanDeliberation(rows)
		if err != nil {
			return nil, wrapErr("scan deliberation", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list deliberations", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) (User, error) {
	if user.Role == "" {
		user.Role = "partner"
	}
	var saved User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email, role=EXCLUDED.role, updated_at=NOW()
		RETURNING id, name, email, role, created_at, updated_at
	`, user.ID, user.Name, user.Email, user.Role).Scan(&saved.ID, &saved.Name, &saved.Email, &saved.Role, &saved.CreatedAt, &saved.UpdatedAt)
	if err != nil {
		return User{}, wrapErr("upsert user", err)
	}
	return saved, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email, role, created_at, updated_at FROM users ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, wrapErr("list users", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, wrapErr("scan user", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list users", err)
	}
	return items, nil
}

func (s *PostgresStore) ListInvestments(ctx context.Context) ([]Investment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, application_id::text, company_name, investment_date, amount::float8, terms, stealthy,
			contact_email, contact_name, website, description, founders, other_funders, notes, created_at
		FROM investments
		ORDER BY investment_date DESC NULLS LAST, created_at DESC
	`)
	if err != nil {
		return nil, wrapErr("list investments", err)
	}
	defer rows.Close()

	items := make([]Investment, 0)
	for rows.Next() {
		var item Investment
		if err := rows.Scan(
			&item.ID, &item.ApplicationID, &item.CompanyName, &item.InvestmentDate, &item.Amount, &item.Terms, &item.Stealthy,
			&item.ContactEmail, &item.ContactName, &item.Website, &item.Description, &item.Founders, &item.OtherFunders,
			&item.Notes, &item.CreatedAt,
		); err != nil {
			return nil, wrapErr("scan investment", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list investments", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
