// Package secretstore implements the two-tier keyed blob store described
// in spec §4.1: the OS keychain as primary, an encrypted database column
// as fallback.
package secretstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
)

// ErrAbsent is returned by Get when neither tier holds a secret for the
// given account key. Callers must never see a keychain-library error
// type; this is the only miss signal.
var ErrAbsent = errors.New("secretstore: secret absent")

// TokenColumnStore is the Tier B persistence surface: the User row's
// github_token_encrypted column, addressed by the user's external
// GitHub id. internal/datastore implements this.
type TokenColumnStore interface {
	GetTokenColumn(ctx context.Context, externalGitHubID int64) (string, error)
	SetTokenColumn(ctx context.Context, externalGitHubID int64, value string) error
}

// Store is the composed two-tier secret store.
type Store struct {
	service string
	vault   *ageVault
	db      TokenColumnStore
	logger  *log.Logger
}

// New constructs a Store. vaultIdentity is an age identity string (see
// GenerateVaultIdentity); if empty, Tier B stores and returns secrets
// unencrypted rather than refusing them outright, since a deployment
// that never set a vault identity is relying on the database column
// itself being adequately protected.
func New(service string, vaultIdentity string, db TokenColumnStore, logger *log.Logger) (*Store, error) {
	var vault *ageVault
	if strings.TrimSpace(vaultIdentity) != "" {
		v, err := newAgeVault(vaultIdentity)
		if err != nil {
			return nil, fmt.Errorf("secretstore: invalid vault identity: %w", err)
		}
		vault = v
	}
	return &Store{service: service, vault: vault, db: db, logger: logger}, nil
}

// AccountKey builds the account key used for both tiers (spec §3).
func AccountKey(externalGitHubID int64) string {
	return fmt.Sprintf("github_%d", externalGitHubID)
}

// Put stores secret under account_key. It succeeds if at least one tier
// accepts the write.
func (s *Store) Put(ctx context.Context, externalGitHubID int64, secret string) error {
	account := AccountKey(externalGitHubID)
	keychainErr := keyringSet(s.service, account, secret)
	if keychainErr == nil {
		if s.db != nil {
			if err := s.db.SetTokenColumn(ctx, externalGitHubID, models.TokenSentinelStoredInKeychain); err != nil {
				s.logger.Printf("secretstore: tier B sentinel write failed for %s: %v", account, redact(err.Error()))
			}
		}
		return nil
	}
	s.logger.Printf("secretstore: tier A put failed for %s: %v", account, redact(keychainErr.Error()))

	if s.db == nil {
		return fmt.Errorf("secretstore: both tiers unavailable for %s", account)
	}
	ciphertext := secret
	if s.vault != nil {
		enc, err := s.vault.encrypt(secret)
		if err != nil {
			return fmt.Errorf("secretstore: tier B encrypt failed: %w", err)
		}
		ciphertext = enc
	}
	if err := s.db.SetTokenColumn(ctx, externalGitHubID, ciphertext); err != nil {
		return fmt.Errorf("secretstore: both tiers failed for %s: %w", account, err)
	}
	return nil
}

// Get reads the secret for account_key, preferring Tier A. It never
// surfaces a tier-specific error to the caller: any failure collapses
// to ErrAbsent.
func (s *Store) Get(ctx context.Context, externalGitHubID int64) (string, error) {
	account := AccountKey(externalGitHubID)
	value, err := keyringGet(s.service, account)
	if err == nil && value != "" {
		return value, nil
	}

	if s.db == nil {
		return "", ErrAbsent
	}
	column, err := s.db.GetTokenColumn(ctx, externalGitHubID)
	if err != nil {
		s.logger.Printf("secretstore: tier B read failed for %s: %v", account, redact(err.Error()))
		return "", ErrAbsent
	}
	switch column {
	case "", models.TokenSentinelStoredInKeychain, models.TokenSentinelLoggedOut, models.TokenSentinelRedacted:
		return "", ErrAbsent
	}
	if s.vault == nil {
		return column, nil
	}
	plain, err := s.vault.decrypt(column)
	if err != nil {
		s.logger.Printf("secretstore: tier B decrypt failed for %s: %v", account, redact(err.Error()))
		return "", ErrAbsent
	}
	return plain, nil
}

// Delete removes the secret from both tiers. Idempotent: a missing
// entry in either tier is not an error.
func (s *Store) Delete(ctx context.Context, externalGitHubID int64) error {
	account := AccountKey(externalGitHubID)
	if err := keyringDelete(s.service, account); err != nil {
		s.logger.Printf("secretstore: tier A delete failed for %s: %v", account, redact(err.Error()))
	}
	if s.db != nil {
		if err := s.db.SetTokenColumn(ctx, externalGitHubID, models.TokenSentinelLoggedOut); err != nil {
			return fmt.Errorf("secretstore: tier B delete failed for %s: %w", account, err)
		}
	}
	return nil
}
