package dispatcher

import (
	"context"
	"database/sql/driver"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initWorkflowRepo(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", branch)
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-q", "-m", "initial commit")
	return dir
}

func expectRepoByID(rig *testRig, repo *models.Repository) {
	rig.mock.ExpectQuery(`FROM repositories WHERE id=\$1 AND user_id=\$2`).
		WithArgs(repo.ID, repo.UserID).
		WillReturnRows(repoRow(repo))
}

func TestGetRepoStatusRendersClean(t *testing.T) {
	rig := newTestRig(t)
	dir := initWorkflowRepo(t, "main")
	repo := &models.Repository{ID: "repo-1", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: dir, IsCloned: true}
	expectRepoByID(rig, repo)

	res, _, err := rig.server.getRepoStatus(context.Background(), nil, GetRepoStatusInput{UserID: repo.UserID, RepoID: repo.ID})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Working tree clean.")
}

func TestSaveChangesRequiresMessage(t *testing.T) {
	rig := newTestRig(t)
	res, _, err := rig.server.saveChanges(context.Background(), nil, SaveChangesInput{UserID: "user-1", Message: ""})
	require.NoError(t, err)
	assert.Equal(t, "A commit message between 1 and 500 characters is required.", resultText(t, res))
}

func TestSaveChangesRejectsUnmanagedRepo(t *testing.T) {
	rig := newTestRig(t)
	dir := initWorkflowRepo(t, "main")
	expectUnmanagedLocalPath(t, rig, "user-1", dir)

	res, _, err := rig.server.saveChanges(context.Background(), nil, SaveChangesInput{UserID: "user-1", LocalPath: dir, Message: "work"})
	require.NoError(t, err)
	assert.Equal(t, "This path isn't a managed repository yet. Run clone_and_setup_repo first.", resultText(t, res))
}

func TestSaveChangesCleanTreeIsNoOp(t *testing.T) {
	rig := newTestRig(t)
	dir := initWorkflowRepo(t, "feature/login")
	repo := &models.Repository{ID: "repo-1", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: dir, IsCloned: true}
	expectRepoByID(rig, repo)

	res, _, err := rig.server.saveChanges(context.Background(), nil, SaveChangesInput{UserID: repo.UserID, RepoID: repo.ID, Message: "work"})
	require.NoError(t, err)
	assert.Equal(t, "Nothing to save — your working tree is clean.", resultText(t, res))
}

func TestSaveChangesOnProtectedBranchCreatesFeatureBranch(t *testing.T) {
	rig := newTestRig(t)
	dir := initWorkflowRepo(t, "main")
	repo := &models.Repository{ID: "repo-1", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: dir, IsCloned: true}
	expectRepoByID(rig, repo)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("x\n"), 0o644))

	rig.mock.ExpectQuery(`FROM sessions WHERE user_id=\$1 AND status='active'`).
		WithArgs(repo.UserID).
		WillReturnError(noRows())
	rig.mock.ExpectExec(`UPDATE repositories SET current_branch=\$1`).
		WithArgs("feature/add-login-support", sqlAnyTime{}, repo.ID).
		WillReturnResult(execResult())

	res, _, err := rig.server.saveChanges(context.Background(), nil, SaveChangesInput{UserID: repo.UserID, RepoID: repo.ID, Message: "Add login support"})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "on new branch `feature/add-login-support`")
	assert.Contains(t, text, "```json")
}

func TestSaveChangesOnFeatureBranchCommitsDirectly(t *testing.T) {
	rig := newTestRig(t)
	dir := initWorkflowRepo(t, "feature/login")
	repo := &models.Repository{ID: "repo-1", UserID: "user-1", Owner: "acme", Name: "widgets", LocalPath: dir, IsCloned: true}
	expectRepoByID(rig, repo)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("x\n"), 0o644))

	rig.mock.ExpectQuery(`FROM sessions WHERE user_id=\$1 AND status='active'`).
		WithArgs(repo.UserID).
		WillReturnError(noRows())
	rig.mock.ExpectExec(`UPDATE repositories SET current_branch=\$1`).
		WillReturnResult(execResult())

	res, _, err := rig.server.saveChanges(context.Background(), nil, SaveChangesInput{UserID: repo.UserID, RepoID: repo.ID, Message: "continue work"})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.NotContains(t, text, "on new branch")
	assert.Contains(t, text, "Saved your changes as **")
}

func TestPushForReviewRequiresAuthentication(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnError(noRows())

	res, _, err := rig.server.pushForReview(context.Background(), nil, PushForReviewInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Something went wrong")
}

func TestPushForReviewRequiresActiveSession(t *testing.T) {
	rig := newTestRig(t)
	u := &models.User{ID: "user-1", Username: "octocat", ExternalGitHubID: 42, Tier: models.TierFree}
	require.NoError(t, rig.secrets.Put(context.Background(), u.ExternalGitHubID, "gho_testtoken"))
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))
	rig.mock.ExpectQuery(`FROM sessions WHERE user_id=\$1 AND status='active'`).
		WithArgs(u.ID).
		WillReturnError(noRows())

	res, _, err := rig.server.pushForReview(context.Background(), nil, PushForReviewInput{UserID: u.ID})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "don't have an active session")
}

func TestPushForReviewRejectsProtectedBranch(t *testing.T) {
	rig := newTestRig(t)
	dir := initWorkflowRepo(t, "main")
	u := &models.User{ID: "user-1", Username: "octocat", ExternalGitHubID: 42, Tier: models.TierFree}
	sess := &models.Session{ID: "sess-1", UserID: u.ID, RepositoryID: "repo-1", Status: models.SessionActive}
	repo := &models.Repository{ID: "repo-1", UserID: u.ID, Owner: "acme", Name: "widgets", LocalPath: dir, IsCloned: true}
	require.NoError(t, rig.secrets.Put(context.Background(), u.ExternalGitHubID, "gho_testtoken"))

	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))
	rig.mock.ExpectQuery(`FROM sessions WHERE user_id=\$1 AND status='active'`).
		WithArgs(u.ID).
		WillReturnRows(sessionRow(sess))
	expectRepoByID(rig, repo)

	res, _, err := rig.server.pushForReview(context.Background(), nil, PushForReviewInput{UserID: u.ID})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "protected branch `main`")
}

func TestPushForReviewRejectsDirtyTree(t *testing.T) {
	rig := newTestRig(t)
	dir := initWorkflowRepo(t, "feature/login")
	u := &models.User{ID: "user-1", Username: "octocat", ExternalGitHubID: 42, Tier: models.TierFree}
	sess := &models.Session{ID: "sess-1", UserID: u.ID, RepositoryID: "repo-1", Status: models.SessionActive}
	repo := &models.Repository{ID: "repo-1", UserID: u.ID, Owner: "acme", Name: "widgets", LocalPath: dir, IsCloned: true}
	require.NoError(t, rig.secrets.Put(context.Background(), u.ExternalGitHubID, "gho_testtoken"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dirty.txt"), []byte("x\n"), 0o644))

	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))
	rig.mock.ExpectQuery(`FROM sessions WHERE user_id=\$1 AND status='active'`).
		WithArgs(u.ID).
		WillReturnRows(sessionRow(sess))
	expectRepoByID(rig, repo)

	res, _, err := rig.server.pushForReview(context.Background(), nil, PushForReviewInput{UserID: u.ID})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "unsaved changes")
	assert.Contains(t, text, "dirty.txt")
	assert.Contains(t, text, "Run save_changes")
}

// sqlAnyTime matches any argument, used for UpdateCurrentBranch's
// time.Now().UTC() call whose exact value the test cannot predict.
type sqlAnyTime struct{}

func (sqlAnyTime) Match(driver.Value) bool { return true }
