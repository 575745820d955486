// Package sessionservice implements the session state machine of spec
// §4.7: at most one active session per user, enforced by abandoning
// any prior active session inside the same transaction that inserts
// the new one.
package sessionservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gitflow-mcp/gitflow-mcp/internal/datastore"
	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
)

// ErrNotAuthorized is returned by ResumeSession when the target session
// does not belong to the requesting user.
var ErrNotAuthorized = errors.New("sessionservice: session does not belong to requester")

// ErrNoActiveSession is returned by StopSession when the user has no
// active session to stop.
var ErrNoActiveSession = errors.New("sessionservice: no active session")

// ErrNotCloned is returned by ResumeSession when the session's
// repository has not been cloned locally.
var ErrNotCloned = errors.New("sessionservice: repository not cloned locally")

// GitDriver is the narrow subset of internal/gitdriver that
// ResumeSession needs, kept narrow the way internal/policyrecovery's
// GitDriver interface is.
type GitDriver interface {
	Checkout(ctx context.Context, branch string) error
}

// Service implements the session lifecycle operations over a Data
// Store.
type Service struct {
	store  *datastore.Store
	logger *log.Logger
}

// New constructs a Service.
func New(store *datastore.Store, logger *log.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// StartResult is the response of StartSession.
type StartResult struct {
	Session    *models.Session
	Previous   *models.Session
	AutoClosed bool
}

// StartSession begins a new active session for (user, repo), abandoning
// any other active session for the user inside the same transaction.
func (s *Service) StartSession(ctx context.Context, userID, repositoryID, taskDescription, currentBranch string) (*StartResult, error) {
	result := &StartResult{}
	err := s.store.Transaction(ctx, func(ctx context.Context, q datastore.Querier) error {
		previous, err := datastore.GetActiveSessionForUpdate(ctx, q, userID)
		if err != nil {
			return err
		}
		if previous != nil {
			if err := datastore.AbandonSession(ctx, q, previous.ID, "session_superseded"); err != nil {
				return err
			}
			result.Previous = previous
			result.AutoClosed = true
		}

		session := &models.Session{
			UserID:          userID,
			RepositoryID:    repositoryID,
			TaskDescription: taskDescription,
			CurrentBranch:   currentBranch,
			LastAction:      "session_started",
		}
		if err := datastore.InsertSession(ctx, q, session); err != nil {
			return err
		}
		result.Session = session
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessionservice: start session: %w", err)
	}
	return result, nil
}

// StopResult is the response of StopSession.
type StopResult struct {
	Session         *models.Session
	DurationMinutes int
	DurationText    string
}

// StopSession ends the user's active session, marking it completed
// (the default) or abandoned when abandoned is true.
func (s *Service) StopSession(ctx context.Context, userID string, abandoned bool) (*StopResult, error) {
	var session *models.Session
	status := models.SessionCompleted
	lastAction := "session_completed"
	if abandoned {
		status = models.SessionAbandoned
		lastAction = "session_abandoned"
	}

	err := s.store.Transaction(ctx, func(ctx context.Context, q datastore.Querier) error {
		active, err := datastore.GetActiveSessionForUpdate(ctx, q, userID)
		if err != nil {
			return err
		}
		if active == nil {
			return ErrNoActiveSession
		}
		if err := datastore.MarkSessionStatus(ctx, q, active.ID, status, lastAction); err != nil {
			return err
		}
		session = active
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("sessionservice: stop session: %w", err)
	}

	duration := time.Since(session.StartedAt)
	return &StopResult{
		Session:         session,
		DurationMinutes: int(duration.Minutes()),
		DurationText:    formatDuration(duration),
	}, nil
}

// formatDuration renders a human-readable session length per spec
// §4.7: "N minute(s)", "N hour(s)", "N hour(s) M minute(s)", or
// "less than a minute".
func formatDuration(d time.Duration) string {
	totalMinutes := int(d.Minutes())
	if totalMinutes < 1 {
		return "less than a minute"
	}
	hours := totalMinutes / 60
	minutes := totalMinutes % 60

	if hours == 0 {
		return pluralize(minutes, "minute")
	}
	if minutes == 0 {
		return pluralize(hours, "hour")
	}
	return fmt.Sprintf("%s %s", pluralize(hours, "hour"), pluralize(minutes, "minute"))
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// ResumeResult is the response of ResumeSession.
type ResumeResult struct {
	Session          *models.Session
	BranchCheckedOut bool
}

// ResumeSession implements spec §4.7's four-step resume algorithm.
func (s *Service) ResumeSession(ctx context.Context, sessionID, userID string, driver GitDriver) (*ResumeResult, error) {
	target, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sessionservice: resume session: %w", err)
	}
	if target.UserID != userID {
		return nil, ErrNotAuthorized
	}

	repo, err := s.store.GetRepositoryByID(ctx, userID, target.RepositoryID)
	if err != nil {
		return nil, fmt.Errorf("sessionservice: resume session: %w", err)
	}
	if !repo.IsCloned {
		return nil, ErrNotCloned
	}

	var resumed *models.Session
	err = s.store.Transaction(ctx, func(ctx context.Context, q datastore.Querier) error {
		active, err := datastore.GetActiveSessionForUpdate(ctx, q, userID)
		if err != nil {
			return err
		}
		switch {
		case active != nil && active.ID == target.ID:
			if err := datastore.TouchSessionAction(ctx, q, active.ID, "session_resumed"); err != nil {
				return err
			}
			resumed = active
			return nil
		case active != nil:
			if err := datastore.AbandonSession(ctx, q, active.ID, "session_superseded"); err != nil {
				return err
			}
		}

		session := &models.Session{
			UserID:          userID,
			RepositoryID:    target.RepositoryID,
			TaskDescription: target.TaskDescription,
			CurrentBranch:   target.CurrentBranch,
			LastAction:      "session_resumed",
		}
		if err := datastore.InsertSession(ctx, q, session); err != nil {
			return err
		}
		resumed = session
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sessionservice: resume session: %w", err)
	}

	branchCheckedOut := true
	if err := driver.Checkout(ctx, resumed.CurrentBranch); err != nil {
		s.logger.Printf("sessionservice: checkout %s for resumed session %s failed: %v", resumed.CurrentBranch, resumed.ID, err)
		branchCheckedOut = false
	}

	return &ResumeResult{Session: resumed, BranchCheckedOut: branchCheckedOut}, nil
}

// UpdateBranch records the branch a session is now working on.
func (s *Service) UpdateBranch(ctx context.Context, sessionID, branch string) error {
	return s.store.UpdateSessionBranch(ctx, sessionID, branch)
}

// IncrementCommits bumps the in-session commit counter.
func (s *Service) IncrementCommits(ctx context.Context, sessionID string) error {
	return s.store.IncrementSessionCommits(ctx, sessionID)
}

// SetPR persists the PR coordinates onto a session.
func (s *Service) SetPR(ctx context.Context, sessionID string, pr models.PullRequest) error {
	return s.store.SetSessionPullRequest(ctx, sessionID, pr)
}

// MarkCompleted terminates a session as completed outside the
// stop-session flow (e.g. once a PR merges).
func (s *Service) MarkCompleted(ctx context.Context, sessionID string) error {
	return s.store.Transaction(ctx, func(ctx context.Context, q datastore.Querier) error {
		return datastore.MarkSessionStatus(ctx, q, sessionID, models.SessionCompleted, "session_completed")
	})
}

// MarkAbandoned terminates a session as abandoned.
func (s *Service) MarkAbandoned(ctx context.Context, sessionID, lastAction string) error {
	return s.store.Transaction(ctx, func(ctx context.Context, q datastore.Querier) error {
		return datastore.AbandonSession(ctx, q, sessionID, lastAction)
	})
}

// CleanupStale abandons every active session whose last action is
// older than days days.
func (s *Service) CleanupStale(ctx context.Context, days int) (int64, error) {
	return s.store.CleanupStaleSessions(ctx, days)
}

// ListSessions returns every session for a user, most recent first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.store.ListSessionsForUser(ctx, userID)
}

// GetActiveSession returns the user's active session, if any.
func (s *Service) GetActiveSession(ctx context.Context, userID string) (*models.Session, error) {
	return s.store.GetActiveSession(ctx, userID)
}
