package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gitflow-mcp/gitflow-mcp/internal/authservice"
	"github.com/gitflow-mcp/gitflow-mcp/internal/datastore"
	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/gitflow-mcp/gitflow-mcp/internal/secretstore"
	"github.com/gitflow-mcp/gitflow-mcp/internal/sessionservice"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// fakeTokenStore is the secret store's Tier B fallback, kept in memory
// the way authservice_test.go's double does.
type fakeTokenStore struct {
	values map[int64]string
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{values: map[int64]string{}}
}

func (f *fakeTokenStore) GetTokenColumn(ctx context.Context, externalGitHubID int64) (string, error) {
	v, ok := f.values[externalGitHubID]
	if !ok {
		return "", fmt.Errorf("no row")
	}
	return v, nil
}

func (f *fakeTokenStore) SetTokenColumn(ctx context.Context, externalGitHubID int64, value string) error {
	f.values[externalGitHubID] = value
	return nil
}

// testRig bundles a dispatcher Server with the sqlmock expectation
// handle backing its Data Store, and the fake token store backing its
// Auth Service's Secret Store.
type testRig struct {
	server  *Server
	mock    sqlmock.Sqlmock
	tokens  *fakeTokenStore
	secrets *secretstore.Store
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := datastore.NewWithDB(db, testLogger())
	tokens := newFakeTokenStore()
	identity, err := secretstore.GenerateVaultIdentity()
	require.NoError(t, err)
	secrets, err := secretstore.New("gitflow-mcp-test", identity, tokens, testLogger())
	require.NoError(t, err)

	auth, err := authservice.New(authservice.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"repo", "user"},
		StateTTL:     time.Minute,
		JWTSecret:    "super-secret-test-key",
		JWTExpiresIn: "7d",
		JWTIssuer:    "gitflow-mcp-test",
	}, store, secrets, testLogger())
	require.NoError(t, err)
	t.Cleanup(auth.Stop)

	sessions := sessionservice.New(store, testLogger())
	server := New(auth, sessions, store, t.TempDir(), 10*time.Second, testLogger())

	return &testRig{server: server, mock: mock, tokens: tokens, secrets: secrets}
}

// userRow returns the 20 columns scanUser expects, in order.
func userRow(mock sqlmock.Sqlmock, u *models.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "external_github_id", "username", "email", "display_name", "avatar_url", "tier",
		"subscription_customer_id", "subscription_id", "subscription_status", "subscription_renews_at",
		"commits_this_month", "prs_this_month", "repos_accessed_total", "last_reset_at", "last_login_at",
		"github_token_encrypted", "created_at", "updated_at", "deleted_at",
	}).AddRow(
		u.ID, u.ExternalGitHubID, u.Username, u.Email, u.DisplayName, u.AvatarURL, u.Tier,
		"", "", "", nil,
		u.CommitsThisMonth, u.PRsThisMonth, u.ReposAccessedTotal, time.Now().UTC(), nil,
		u.GitHubTokenEncrypted, time.Now().UTC(), time.Now().UTC(), nil,
	)
}

// repoRow returns the 14 columns scanRepository expects, in order.
func repoRow(r *models.Repository) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "external_repo_id", "owner", "name", "url", "description", "local_path",
		"is_cloned", "cloned_at", "current_branch", "last_accessed_at", "created_at", "updated_at",
	}).AddRow(
		r.ID, r.UserID, r.ExternalRepoID, r.Owner, r.Name, r.URL, r.Description, r.LocalPath,
		r.IsCloned, nil, r.CurrentBranch, time.Now().UTC(), time.Now().UTC(), time.Now().UTC(),
	)
}

// sessionRow returns the 16 columns scanSession expects, in order.
func sessionRow(s *models.Session) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "repository_id", "task_description", "current_branch",
		"pr_external_id", "pr_number", "pr_url", "pr_created_at", "pr_merged_at",
		"commits_in_session", "last_action", "last_action_at", "status", "started_at", "ended_at",
	}).AddRow(
		s.ID, s.UserID, s.RepositoryID, s.TaskDescription, s.CurrentBranch,
		nil, nil, nil, nil, nil,
		s.CommitsInSession, s.LastAction, time.Now().UTC(), s.Status, time.Now().UTC(), nil,
	)
}

func noRows() error {
	return sql.ErrNoRows
}

func execResult() sqlmock.Result {
	return sqlmock.NewResult(0, 1)
}

func resultText(t *testing.T, res *gomcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*gomcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestResolveRepoContextExplicitLocalPathManaged(t *testing.T) {
	rig := newTestRig(t)
	repo := &models.Repository{ID: "repo-1", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: "/repos/widgets", IsCloned: true}
	rig.mock.ExpectQuery(`FROM repositories WHERE local_path=\$1 AND user_id=\$2`).
		WithArgs(repo.LocalPath, repo.UserID).
		WillReturnRows(repoRow(repo))

	rc, err := rig.server.resolveRepoContext(context.Background(), repo.UserID, "", repo.LocalPath)
	require.NoError(t, err)
	require.True(t, rc.Managed)
	require.Equal(t, repo.ID, rc.RepoID)
	require.Equal(t, repo.LocalPath, rc.LocalPath)
}

func TestResolveRepoContextExplicitLocalPathUnmanaged(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM repositories WHERE local_path=\$1 AND user_id=\$2`).
		WithArgs("/tmp/scratch", "user-1").
		WillReturnError(noRows())

	rc, err := rig.server.resolveRepoContext(context.Background(), "user-1", "", "/tmp/scratch")
	require.NoError(t, err)
	require.False(t, rc.Managed)
	require.Equal(t, "/tmp/scratch", rc.LocalPath)
	require.Empty(t, rc.RepoID)
}

func TestResolveRepoContextByRepoID(t *testing.T) {
	rig := newTestRig(t)
	repo := &models.Repository{ID: "repo-2", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: "/repos/widgets", IsCloned: true}
	rig.mock.ExpectQuery(`FROM repositories WHERE id=\$1 AND user_id=\$2`).
		WithArgs(repo.ID, repo.UserID).
		WillReturnRows(repoRow(repo))

	rc, err := rig.server.resolveRepoContext(context.Background(), repo.UserID, repo.ID, "")
	require.NoError(t, err)
	require.True(t, rc.Managed)
	require.Equal(t, repo.LocalPath, rc.LocalPath)
}

func TestResolveRepoContextByRepoIDNotCloned(t *testing.T) {
	rig := newTestRig(t)
	repo := &models.Repository{ID: "repo-3", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: "", IsCloned: false}
	rig.mock.ExpectQuery(`FROM repositories WHERE id=\$1 AND user_id=\$2`).
		WithArgs(repo.ID, repo.UserID).
		WillReturnRows(repoRow(repo))

	_, err := rig.server.resolveRepoContext(context.Background(), repo.UserID, repo.ID, "")
	require.ErrorIs(t, err, ErrNoRepositoryFound)
}

func TestResolveRepoContextFallsBackToActiveSession(t *testing.T) {
	rig := newTestRig(t)
	sess := &models.Session{ID: "sess-1", UserID: "user-1", RepositoryID: "repo-4", Status: models.SessionActive}
	repo := &models.Repository{ID: "repo-4", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: "/repos/widgets", IsCloned: true}

	rig.mock.ExpectQuery(`FROM sessions WHERE user_id=\$1 AND status='active'`).
		WithArgs(sess.UserID).
		WillReturnRows(sessionRow(sess))
	rig.mock.ExpectQuery(`FROM repositories WHERE id=\$1 AND user_id=\$2`).
		WithArgs(repo.ID, repo.UserID).
		WillReturnRows(repoRow(repo))

	rc, err := rig.server.resolveRepoContext(context.Background(), "user-1", "", "")
	require.NoError(t, err)
	require.Equal(t, sess.ID, rc.SessionID)
	require.Equal(t, repo.LocalPath, rc.LocalPath)
}

func TestResolveRepoContextNoActiveSessionFails(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM sessions WHERE user_id=\$1 AND status='active'`).
		WithArgs("user-1").
		WillReturnError(noRows())

	_, err := rig.server.resolveRepoContext(context.Background(), "user-1", "", "")
	require.ErrorIs(t, err, ErrNoRepositoryFound)
}

func TestRequireUserTranslatesMissingRowToNotAuthenticated(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(noRows())

	_, err := rig.server.requireUser(context.Background(), "ghost")
	require.ErrorIs(t, err, authservice.ErrNotAuthenticated)
}

func TestRequireUserReturnsUser(t *testing.T) {
	rig := newTestRig(t)
	u := &models.User{ID: "user-1", Username: "octocat", Tier: models.TierPro}
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))

	got, err := rig.server.requireUser(context.Background(), u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Username, got.Username)
}

func TestTextResultWrapsMarkdownAsSingleTextBlock(t *testing.T) {
	res := textResult("hello world")
	require.Equal(t, "hello world", resultText(t, res))
}

func TestWithJSONBlockAppendsFencedBlock(t *testing.T) {
	md := withJSONBlock("Saved.", struct {
		Branch string `json:"branch"`
	}{Branch: "feature/x"})
	require.Contains(t, md, "Saved.")
	require.Contains(t, md, "```json")
	require.Contains(t, md, `"branch": "feature/x"`)
}

func TestErrorResultRendersTranslatedMessage(t *testing.T) {
	res := errorResult(authservice.ErrNotAuthenticated)
	text := resultText(t, res)
	require.Contains(t, text, "**")
}

func TestLockForPathReturnsSameMutexForSamePath(t *testing.T) {
	rig := newTestRig(t)
	a := rig.server.lockForPath("/repos/widgets")
	b := rig.server.lockForPath("/repos/widgets")
	require.Same(t, a, b)

	c := rig.server.lockForPath("/repos/other")
	require.NotSame(t, a, c)
}

func TestLimitsForUnknownTierDefaultsToFree(t *testing.T) {
	require.Equal(t, LimitsFor(models.TierFree), LimitsFor(models.Tier("bogus")))
}

func TestUnlimitedZeroSentinel(t *testing.T) {
	require.True(t, Unlimited(0))
	require.False(t, Unlimited(5))
}

func TestTierLimitsOrdering(t *testing.T) {
	free := LimitsFor(models.TierFree)
	pro := LimitsFor(models.TierPro)
	require.Less(t, free.MaxRepos, pro.MaxRepos)
	require.Less(t, free.CommitsPerMonth, pro.CommitsPerMonth)
	require.True(t, Unlimited(LimitsFor(models.TierEnterprise).MaxRepos))
}
