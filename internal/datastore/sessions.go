package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/google/uuid"
)

const sessionSelectColumns = `SELECT
	id, user_id, repository_id, task_description, current_branch,
	pr_external_id, pr_number, pr_url, pr_created_at, pr_merged_at,
	commits_in_session, last_action, last_action_at, status, started_at, ended_at`

func scanSession(row *sql.Row) (*models.Session, error) {
	var s models.Session
	var task sql.NullString
	var prExternal sql.NullInt64
	var prNumber sql.NullInt64
	var prURL sql.NullString
	var prCreated, prMerged, endedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.UserID, &s.RepositoryID, &task, &s.CurrentBranch,
		&prExternal, &prNumber, &prURL, &prCreated, &prMerged,
		&s.CommitsInSession, &s.LastAction, &s.LastActionAt, &s.Status, &s.StartedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}
	s.TaskDescription = task.String
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	if prExternal.Valid {
		pr := &models.PullRequest{ExternalID: prExternal.Int64, Number: int(prNumber.Int64), URL: prURL.String}
		if prCreated.Valid {
			pr.CreatedAt = prCreated.Time
		}
		if prMerged.Valid {
			t := prMerged.Time
			pr.MergedAt = &t
		}
		s.PullRequest = pr
	}
	return &s, nil
}

// GetActiveSessionForUpdate reads the user's active session, if any,
// and locks its row (FOR UPDATE) so §5's per-session transactional
// ordering guarantee holds. Must be called inside Store.Transaction.
// Returns (nil, nil) when there is no active session.
func GetActiveSessionForUpdate(ctx context.Context, q Querier, userID string) (*models.Session, error) {
	session, err := scanSession(q.QueryRowContext(ctx,
		sessionSelectColumns+` FROM sessions WHERE user_id=$1 AND status='active' FOR UPDATE`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get active session: %w", err)
	}
	return session, nil
}

// GetActiveSession is the non-locking read used by §4.8's
// repository-context resolution and read-only tool handlers.
func (s *Store) GetActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	session, err := scanSession(s.queryRow(ctx, sessionSelectColumns+` FROM sessions WHERE user_id=$1 AND status='active'`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get active session: %w", err)
	}
	return session, nil
}

// GetSessionByID fetches any session regardless of status.
func (s *Store) GetSessionByID(ctx context.Context, id string) (*models.Session, error) {
	session, err := scanSession(s.queryRow(ctx, sessionSelectColumns+` FROM sessions WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessionsForUser returns every session for a user, most recent
// first, backing the list_sessions tool.
func (s *Store) ListSessionsForUser(ctx context.Context, userID string) ([]*models.Session, error) {
	rows, err := s.query(ctx, sessionSelectColumns+` FROM sessions WHERE user_id=$1 ORDER BY started_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("datastore: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		var sess models.Session
		var task sql.NullString
		var prExternal, prNumber sql.NullInt64
		var prURL sql.NullString
		var prCreated, prMerged, endedAt sql.NullTime
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.RepositoryID, &task, &sess.CurrentBranch,
			&prExternal, &prNumber, &prURL, &prCreated, &prMerged,
			&sess.CommitsInSession, &sess.LastAction, &sess.LastActionAt, &sess.Status, &sess.StartedAt, &endedAt,
		); err != nil {
			return nil, fmt.Errorf("datastore: scan session: %w", err)
		}
		sess.TaskDescription = task.String
		if endedAt.Valid {
			t := endedAt.Time
			sess.EndedAt = &t
		}
		if prExternal.Valid {
			pr := &models.PullRequest{ExternalID: prExternal.Int64, Number: int(prNumber.Int64), URL: prURL.String}
			if prCreated.Valid {
				pr.CreatedAt = prCreated.Time
			}
			if prMerged.Valid {
				t := prMerged.Time
				pr.MergedAt = &t
			}
			sess.PullRequest = pr
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// InsertSession creates a new session row already initialized by the
// caller (session service owns field defaulting).
func InsertSession(ctx context.Context, q Querier, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.LastActionAt.IsZero() {
		sess.LastActionAt = now
	}
	if sess.Status == "" {
		sess.Status = models.SessionActive
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO sessions (
			id, user_id, repository_id, task_description, current_branch,
			commits_in_session, last_action, last_action_at, status, started_at
		) VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9)`,
		sess.ID, sess.UserID, sess.RepositoryID, sess.TaskDescription, sess.CurrentBranch,
		sess.LastAction, sess.LastActionAt, sess.Status, sess.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("datastore: insert session: %w", err)
	}
	return nil
}

// AbandonSession marks a session abandoned with the given last-action
// label, setting ended-at — a terminal transition per spec §3(c).
func AbandonSession(ctx context.Context, q Querier, id, lastAction string) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		UPDATE sessions SET status='abandoned', ended_at=$1, last_action=$2, last_action_at=$1 WHERE id=$3`,
		now, lastAction, id)
	if err != nil {
		return fmt.Errorf("datastore: abandon session: %w", err)
	}
	return nil
}

// MarkSessionStatus terminates a session as completed or abandoned.
func MarkSessionStatus(ctx context.Context, q Querier, id string, status models.SessionStatus, lastAction string) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		UPDATE sessions SET status=$1, ended_at=$2, last_action=$3, last_action_at=$2 WHERE id=$4`,
		status, now, lastAction, id)
	if err != nil {
		return fmt.Errorf("datastore: mark session %s: %w", status, err)
	}
	return nil
}

// TouchSessionAction updates last-action/last-action-at without
// touching status, used by session_resumed and similar non-terminal
// transitions.
func TouchSessionAction(ctx context.Context, q Querier, id, lastAction string) error {
	_, err := q.ExecContext(ctx, `UPDATE sessions SET last_action=$1, last_action_at=$2 WHERE id=$3`,
		lastAction, time.Now().UTC(), id)
	return err
}

// UpdateSessionBranch records the branch the session is now working on.
func (s *Store) UpdateSessionBranch(ctx context.Context, id, branch string) error {
	_, err := s.exec(ctx, `UPDATE sessions SET current_branch=$1 WHERE id=$2`, branch, id)
	return err
}

// IncrementSessionCommits bumps the in-session commit counter, called
// after every successful save_changes commit.
func (s *Store) IncrementSessionCommits(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE sessions SET commits_in_session = commits_in_session + 1, last_action='commit', last_action_at=$1 WHERE id=$2`,
		time.Now().UTC(), id)
	return err
}

// SetSessionPullRequest persists the PR coordinates onto a session
// once push_for_review opens or discovers one.
func (s *Store) SetSessionPullRequest(ctx context.Context, id string, pr models.PullRequest) error {
	_, err := s.exec(ctx, `
		UPDATE sessions SET pr_external_id=$1, pr_number=$2, pr_url=$3, pr_created_at=$4, last_action='pr_created', last_action_at=$5
		WHERE id=$6`, pr.ExternalID, pr.Number, pr.URL, pr.CreatedAt, time.Now().UTC(), id)
	return err
}

// CleanupStaleSessions abandons any active session whose last action
// is older than the given number of days (spec §4.7).
func (s *Store) CleanupStaleSessions(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	res, err := s.exec(ctx, `
		UPDATE sessions SET status='abandoned', ended_at=$1, last_action='session_stale', last_action_at=$1
		WHERE status='active' AND last_action_at < $2`, time.Now().UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("datastore: cleanup stale sessions: %w", err)
	}
	return res.RowsAffected()
}
