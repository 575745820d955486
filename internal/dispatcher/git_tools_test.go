package dispatcher

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initGitToolsRepo creates a throwaway repository with a clean first
// commit and returns its path.
func initGitToolsRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	run("add", "README.md")
	run("commit", "-q", "-m", "initial commit")
	return dir
}

func expectUnmanagedLocalPath(t *testing.T, rig *testRig, userID, localPath string) {
	t.Helper()
	rig.mock.ExpectQuery(`FROM repositories WHERE local_path=\$1 AND user_id=\$2`).
		WithArgs(localPath, userID).
		WillReturnError(noRows())
}

func TestGitStatusCleanTree(t *testing.T) {
	rig := newTestRig(t)
	dir := initGitToolsRepo(t)
	expectUnmanagedLocalPath(t, rig, "user-1", dir)

	res, _, err := rig.server.gitStatus(context.Background(), nil, GitStatusInput{UserID: "user-1", LocalPath: dir})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Branch **main**")
	assert.Contains(t, text, "Working tree clean.")
}

func TestGitStatusReportsUntracked(t *testing.T) {
	rig := newTestRig(t)
	dir := initGitToolsRepo(t)
	expectUnmanagedLocalPath(t, rig, "user-1", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644))

	res, _, err := rig.server.gitStatus(context.Background(), nil, GitStatusInput{UserID: "user-1", LocalPath: dir})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Untracked:")
	assert.Contains(t, text, "new.txt")
}

func TestGitCommitRequiresMessage(t *testing.T) {
	rig := newTestRig(t)
	res, _, err := rig.server.gitCommit(context.Background(), nil, GitCommitInput{UserID: "user-1", Message: "  "})
	require.NoError(t, err)
	assert.Equal(t, "A commit message is required.", resultText(t, res))
}

func TestGitCommitCreatesCommit(t *testing.T) {
	rig := newTestRig(t)
	dir := initGitToolsRepo(t)
	expectUnmanagedLocalPath(t, rig, "user-1", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("work\n"), 0o644))

	res, _, err := rig.server.gitCommit(context.Background(), nil, GitCommitInput{UserID: "user-1", LocalPath: dir, Message: "add feature"})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Committed **")
	assert.Contains(t, text, "1 file(s) changed")
}

func TestGitCheckoutRequiresBranch(t *testing.T) {
	rig := newTestRig(t)
	res, _, err := rig.server.gitCheckout(context.Background(), nil, GitCheckoutInput{UserID: "user-1", Branch: "  "})
	require.NoError(t, err)
	assert.Equal(t, "A branch name is required.", resultText(t, res))
}

func TestGitCheckoutSwitchesBranch(t *testing.T) {
	rig := newTestRig(t)
	dir := initGitToolsRepo(t)
	expectUnmanagedLocalPath(t, rig, "user-1", dir)
	cmd := exec.Command("git", "branch", "feature/x")
	cmd.Dir = dir
	require.NoError(t, cmd.Run())

	res, _, err := rig.server.gitCheckout(context.Background(), nil, GitCheckoutInput{UserID: "user-1", LocalPath: dir, Branch: "feature/x"})
	require.NoError(t, err)
	assert.Equal(t, "Checked out `feature/x`.", resultText(t, res))
}

// gitPush/gitPull/gitClone surface a missing-token error through
// errorResult's generic errortranslator path, not check_auth_status's
// hardcoded message — the translator has no pattern specific to
// authservice's wrapped ErrNotAuthenticated, so it renders the
// catch-all remediation text.
func TestGitPushFailsWhenNotAuthenticated(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnError(noRows())

	res, _, err := rig.server.gitPush(context.Background(), nil, GitPushInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Something went wrong")
}

func TestGitPullFailsWhenNotAuthenticated(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnError(noRows())

	res, _, err := rig.server.gitPull(context.Background(), nil, GitPullInput{UserID: "user-1"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Something went wrong")
}

func TestGitCloneFailsWhenNotAuthenticated(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnError(noRows())

	res, _, err := rig.server.gitClone(context.Background(), nil, GitCloneInput{UserID: "user-1", Owner: "acme", Name: "widgets", URL: "https://github.com/acme/widgets.git"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Something went wrong")
}
