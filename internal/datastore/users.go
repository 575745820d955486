package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/google/uuid"
)

// CreateUser inserts a brand-new user row.
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return createUser(ctx, s.db, u)
}

func createUser(ctx context.Context, q Querier, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt, u.LastResetAt = now, now, now
	if u.Tier == "" {
		u.Tier = models.TierFree
	}
	if u.GitHubTokenEncrypted == "" {
		u.GitHubTokenEncrypted = models.TokenSentinelLoggedOut
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO users (
			id, external_github_id, username, email, display_name, avatar_url,
			tier, commits_this_month, prs_this_month, repos_accessed_total,
			last_reset_at, github_token_encrypted, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,0,$8,$9,$10,$11)`,
		u.ID, u.ExternalGitHubID, u.Username, u.Email, u.DisplayName, u.AvatarURL,
		u.Tier, u.LastResetAt, u.GitHubTokenEncrypted, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	return nil
}

// GetUserByID fetches a non-soft-deleted user by internal id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.queryRow(ctx, userSelectColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id))
}

// GetUserByExternalGitHubID fetches a non-soft-deleted user by the
// immutable external GitHub numeric id, enforcing the uniqueness
// invariant of spec §3.
func (s *Store) GetUserByExternalGitHubID(ctx context.Context, externalID int64) (*models.User, error) {
	return scanUser(s.queryRow(ctx, userSelectColumns+` FROM users WHERE external_github_id = $1 AND deleted_at IS NULL`, externalID))
}

const userSelectColumns = `SELECT
	id, external_github_id, username, email, display_name, avatar_url, tier,
	subscription_customer_id, subscription_id, subscription_status, subscription_renews_at,
	commits_this_month, prs_this_month, repos_accessed_total, last_reset_at, last_login_at,
	github_token_encrypted, created_at, updated_at, deleted_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var sub, subID, subStatus sql.NullString
	var renewsAt, lastLogin, deletedAt sql.NullTime
	err := row.Scan(
		&u.ID, &u.ExternalGitHubID, &u.Username, &u.Email, &u.DisplayName, &u.AvatarURL, &u.Tier,
		&sub, &subID, &subStatus, &renewsAt,
		&u.CommitsThisMonth, &u.PRsThisMonth, &u.ReposAccessedTotal, &u.LastResetAt, &lastLogin,
		&u.GitHubTokenEncrypted, &u.CreatedAt, &u.UpdatedAt, &deletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: scan user: %w", err)
	}
	u.SubscriptionCustomerID = sub.String
	u.SubscriptionID = subID.String
	u.SubscriptionStatus = subStatus.String
	if renewsAt.Valid {
		t := renewsAt.Time
		u.SubscriptionRenewsAt = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

// UpsertUserByExternalGitHubID implements the transactional
// find-for-update-then-insert-or-update step of handle-callback
// (spec §4.6 step 5). It must run inside a Store.Transaction so the
// lookup and write are atomic against concurrent OAuth completions for
// the same GitHub account.
func UpsertUserByExternalGitHubID(ctx context.Context, q Querier, externalID int64, username, email, displayName, avatarURL string) (*models.User, bool, error) {
	row := q.QueryRowContext(ctx, userSelectColumns+` FROM users WHERE external_github_id = $1 AND deleted_at IS NULL FOR UPDATE`, externalID)
	existing, err := scanUser(row)
	if err == nil {
		now := time.Now().UTC()
		existing.Username = username
		if email != "" {
			existing.Email = email
		}
		existing.DisplayName = displayName
		existing.AvatarURL = avatarURL
		existing.LastLoginAt = &now
		existing.UpdatedAt = now
		_, execErr := q.ExecContext(ctx, `
			UPDATE users SET username=$1, email=$2, display_name=$3, avatar_url=$4,
				last_login_at=$5, updated_at=$6 WHERE id=$7`,
			existing.Username, existing.Email, existing.DisplayName, existing.AvatarURL,
			existing.LastLoginAt, existing.UpdatedAt, existing.ID,
		)
		if execErr != nil {
			return nil, false, fmt.Errorf("datastore: update user on login: %w", execErr)
		}
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("datastore: lookup user for upsert: %w", err)
	}

	u := &models.User{
		ExternalGitHubID: externalID,
		Username:         username,
		Email:            email,
		DisplayName:      displayName,
		AvatarURL:        avatarURL,
		Tier:             models.TierFree,
	}
	now := time.Now().UTC()
	u.LastLoginAt = &now
	if createErr := createUser(ctx, q, u); createErr != nil {
		return nil, false, createErr
	}
	return u, true, nil
}

// SoftDeleteUser marks the user deleted and overwrites the token column
// with the REDACTED sentinel, per spec §3's GDPR lifecycle note.
func (s *Store) SoftDeleteUser(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.exec(ctx, `UPDATE users SET deleted_at=$1, github_token_encrypted=$2, updated_at=$1 WHERE id=$3`,
		now, models.TokenSentinelRedacted, id)
	if err != nil {
		return fmt.Errorf("datastore: soft delete user: %w", err)
	}
	return nil
}

// GetTokenColumn and SetTokenColumn implement secretstore.TokenColumnStore.
func (s *Store) GetTokenColumn(ctx context.Context, externalGitHubID int64) (string, error) {
	var value string
	err := s.queryRow(ctx, `SELECT github_token_encrypted FROM users WHERE external_github_id = $1`, externalGitHubID).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("datastore: get token column: %w", err)
	}
	return value, nil
}

func (s *Store) SetTokenColumn(ctx context.Context, externalGitHubID int64, value string) error {
	_, err := s.exec(ctx, `UPDATE users SET github_token_encrypted=$1, updated_at=$2 WHERE external_github_id = $3`,
		value, time.Now().UTC(), externalGitHubID)
	if err != nil {
		return fmt.Errorf("datastore: set token column: %w", err)
	}
	return nil
}

// IncrementCommitUsage and IncrementPRUsage maintain the monthly usage
// counters referenced by the tier-limits gate in the dispatcher.
func (s *Store) IncrementCommitUsage(ctx context.Context, userID string) error {
	_, err := s.exec(ctx, `UPDATE users SET commits_this_month = commits_this_month + 1, updated_at=$1 WHERE id=$2`, time.Now().UTC(), userID)
	return err
}

func (s *Store) IncrementPRUsage(ctx context.Context, userID string) error {
	_, err := s.exec(ctx, `UPDATE users SET prs_this_month = prs_this_month + 1, updated_at=$1 WHERE id=$2`, time.Now().UTC(), userID)
	return err
}

// ResetMonthlyUsageCounters zeroes every user's monthly counters; run
// by an operator-scheduled job outside this service's own scheduling
// (spec's Non-goals exclude billing enforcement beyond the tier gate,
// which this supports but does not itself schedule).
func (s *Store) ResetMonthlyUsageCounters(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `UPDATE users SET commits_this_month=0, prs_this_month=0, last_reset_at=$1, updated_at=$1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
