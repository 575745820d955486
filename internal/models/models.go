// Package models defines the four first-class entities of the system
// and the sentinel values that give their fields meaning.
package models

import "time"

// Tier is a user's subscription tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Token-column sentinels for User.GitHubTokenEncrypted (spec §6).
const (
	TokenSentinelStoredInKeychain = "STORED_IN_KEYCHAIN"
	TokenSentinelLoggedOut        = "LOGGED_OUT"
	TokenSentinelRedacted         = "REDACTED"
)

// User is a registered account, keyed externally by GitHub's numeric id.
type User struct {
	ID                    string
	ExternalGitHubID      int64
	Username              string
	Email                 string
	DisplayName           string
	AvatarURL             string
	Tier                  Tier
	SubscriptionCustomerID   string
	SubscriptionID           string
	SubscriptionStatus       string
	SubscriptionRenewsAt     *time.Time
	CommitsThisMonth      int
	PRsThisMonth          int
	ReposAccessedTotal    int
	LastResetAt           time.Time
	LastLoginAt           *time.Time
	GitHubTokenEncrypted  string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	DeletedAt             *time.Time
}

// HasSubscription reports whether the user has a subscription id on
// record; the subscription's status is not checked.
func (u *User) HasSubscription() bool {
	return u.SubscriptionID != ""
}

// Repository is a GitHub repo that has been, or will be, cloned locally.
type Repository struct {
	ID             string
	UserID         string
	ExternalRepoID int64
	Owner          string
	Name           string
	URL            string
	Description    string
	LocalPath      string
	IsCloned       bool
	ClonedAt       *time.Time
	CurrentBranch  string
	LastAccessedAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FullName returns the "owner/name" slug GitHub uses to address the repo.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// PullRequest is the optional PR block attached to a Session once opened.
type PullRequest struct {
	ExternalID int64
	Number     int
	URL        string
	CreatedAt  time.Time
	MergedAt   *time.Time
}

// Session is one unit of work by a user on one repository.
type Session struct {
	ID                string
	UserID            string
	RepositoryID      string
	TaskDescription   string
	CurrentBranch     string
	PullRequest       *PullRequest
	CommitsInSession  int
	LastAction        string
	LastActionAt      time.Time
	Status            SessionStatus
	StartedAt         time.Time
	EndedAt           *time.Time
}

// IsTerminal reports whether the session has reached a terminal status.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionAbandoned
}

// OAuthState is an ephemeral, single-use CSRF token issued by
// initiate-oauth and consumed exactly once by handle-callback. It is
// never persisted to the data store.
type OAuthState struct {
	State       string
	CreatedAt   time.Time
	RedirectURI string
}

// Expired reports whether the state has outlived ttl as of now.
func (s OAuthState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}
