package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/google/uuid"
)

const repoSelectColumns = `SELECT
	id, user_id, external_repo_id, owner, name, url, description, local_path,
	is_cloned, cloned_at, current_branch, last_accessed_at, created_at, updated_at`

func scanRepository(row *sql.Row) (*models.Repository, error) {
	var r models.Repository
	var clonedAt sql.NullTime
	err := row.Scan(
		&r.ID, &r.UserID, &r.ExternalRepoID, &r.Owner, &r.Name, &r.URL, &r.Description, &r.LocalPath,
		&r.IsCloned, &clonedAt, &r.CurrentBranch, &r.LastAccessedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if clonedAt.Valid {
		t := clonedAt.Time
		r.ClonedAt = &t
	}
	return &r, nil
}

// GetOrCreateRepository implements the "created on first listing or
// first clone attempt" lifecycle rule of spec §3, honoring the unique
// (userId, externalRepoId) invariant.
func (s *Store) GetOrCreateRepository(ctx context.Context, userID string, externalRepoID int64, owner, name, url, description string) (*models.Repository, error) {
	existing, err := scanRepository(s.queryRow(ctx, repoSelectColumns+` FROM repositories WHERE user_id=$1 AND external_repo_id=$2`, userID, externalRepoID))
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("datastore: lookup repository: %w", err)
	}

	now := time.Now().UTC()
	r := &models.Repository{
		ID:             uuid.NewString(),
		UserID:         userID,
		ExternalRepoID: externalRepoID,
		Owner:          owner,
		Name:           name,
		URL:            url,
		Description:    description,
		LastAccessedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.exec(ctx, `
		INSERT INTO repositories (
			id, user_id, external_repo_id, owner, name, url, description, local_path,
			is_cloned, current_branch, last_accessed_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,'',false,'',$8,$9,$10)`,
		r.ID, r.UserID, r.ExternalRepoID, r.Owner, r.Name, r.URL, r.Description,
		r.LastAccessedAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: create repository: %w", err)
	}
	return r, nil
}

// GetRepositoryByID fetches a repository owned by the given user.
func (s *Store) GetRepositoryByID(ctx context.Context, userID, id string) (*models.Repository, error) {
	r, err := scanRepository(s.queryRow(ctx, repoSelectColumns+` FROM repositories WHERE id=$1 AND user_id=$2`, id, userID))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetRepositoryByLocalPath resolves the "explicit local-path" branch
// of §4.8's repository-context resolution rule.
func (s *Store) GetRepositoryByLocalPath(ctx context.Context, userID, localPath string) (*models.Repository, error) {
	r, err := scanRepository(s.queryRow(ctx, repoSelectColumns+` FROM repositories WHERE local_path=$1 AND user_id=$2`, localPath, userID))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarkCloned records a successful clone: is-cloned, cloned-at,
// local-path, and the observed current branch, per the testable
// property in spec §8.
func (s *Store) MarkCloned(ctx context.Context, id, localPath, currentBranch string) error {
	now := time.Now().UTC()
	_, err := s.exec(ctx, `
		UPDATE repositories SET is_cloned=true, cloned_at=$1, local_path=$2, current_branch=$3, updated_at=$1
		WHERE id=$4`, now, localPath, currentBranch, id)
	if err != nil {
		return fmt.Errorf("datastore: mark cloned: %w", err)
	}
	return nil
}

// UpdateCurrentBranch mirrors the Git Driver's observed branch onto
// the repository row (spec §3 "current-branch (last known)").
func (s *Store) UpdateCurrentBranch(ctx context.Context, id, branch string) error {
	_, err := s.exec(ctx, `UPDATE repositories SET current_branch=$1, updated_at=$2 WHERE id=$3`, branch, time.Now().UTC(), id)
	return err
}

// TouchLastAccessed bumps last-accessed-at on any read path that
// resolves a repository as context.
func (s *Store) TouchLastAccessed(ctx context.Context, id string) error {
	_, err := s.exec(ctx, `UPDATE repositories SET last_accessed_at=$1 WHERE id=$2`, time.Now().UTC(), id)
	return err
}

// CountClonedRepositories backs the tier-limit gate on
// clone_and_setup_repo.
func (s *Store) CountClonedRepositories(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM repositories WHERE user_id=$1 AND is_cloned=true`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("datastore: count cloned repositories: %w", err)
	}
	return count, nil
}
