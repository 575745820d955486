package sessionservice

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gitflow-mcp/gitflow-mcp/internal/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := datastore.NewWithDB(db, log.New(os.Stderr, "test ", log.LstdFlags))
	return New(store, log.New(os.Stderr, "test ", log.LstdFlags)), mock
}

func sessionColumns() []string {
	return []string{
		"id", "user_id", "repository_id", "task_description", "current_branch",
		"pr_external_id", "pr_number", "pr_url", "pr_created_at", "pr_merged_at",
		"commits_in_session", "last_action", "last_action_at", "status", "started_at", "ended_at",
	}
}

func TestStartSessionAbandonsPreviousActive(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=$1 AND status='active' FOR UPDATE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).AddRow(
			"session-old", "user-1", "repo-1", "", "main",
			nil, nil, nil, nil, nil,
			2, "commit", time.Now(), "active", time.Now(), nil,
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status='abandoned'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.StartSession(context.Background(), "user-1", "repo-2", "do the thing", "main")
	require.NoError(t, err)
	assert.True(t, result.AutoClosed)
	require.NotNil(t, result.Previous)
	assert.Equal(t, "session-old", result.Previous.ID)
	require.NotNil(t, result.Session)
	assert.Equal(t, "repo-2", result.Session.RepositoryID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStartSessionNoPreviousActive(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=$1 AND status='active' FOR UPDATE")).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.StartSession(context.Background(), "user-1", "repo-2", "", "main")
	require.NoError(t, err)
	assert.False(t, result.AutoClosed)
	assert.Nil(t, result.Previous)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopSessionReturnsHumanDuration(t *testing.T) {
	svc, mock := newTestService(t)
	started := time.Now().Add(-90 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=$1 AND status='active' FOR UPDATE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).AddRow(
			"session-1", "user-1", "repo-1", "", "main",
			nil, nil, nil, nil, nil,
			1, "commit", time.Now(), "active", started, nil,
		))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET status=$1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.StopSession(context.Background(), "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, "1 hour 30 minutes", result.DurationText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStopSessionNoActiveSession(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=$1 AND status='active' FOR UPDATE")).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := svc.StopSession(context.Background(), "user-1", false)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFormatDurationVariants(t *testing.T) {
	assert.Equal(t, "less than a minute", formatDuration(20*time.Second))
	assert.Equal(t, "1 minute", formatDuration(1*time.Minute))
	assert.Equal(t, "45 minutes", formatDuration(45*time.Minute))
	assert.Equal(t, "1 hour", formatDuration(60*time.Minute))
	assert.Equal(t, "2 hours", formatDuration(125*time.Minute))
	assert.Equal(t, "1 hour 1 minute", formatDuration(61*time.Minute))
	assert.Equal(t, "2 hours 10 minutes", formatDuration(130*time.Minute))
}

type fakeDriver struct {
	checkoutErr error
	checkedOut  string
}

func (f *fakeDriver) Checkout(ctx context.Context, branch string) error {
	f.checkedOut = branch
	return f.checkoutErr
}

func TestResumeSessionRejectsWrongOwner(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id=$1")).
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).AddRow(
			"session-1", "someone-else", "repo-1", "", "main",
			nil, nil, nil, nil, nil,
			0, "session_started", time.Now(), "abandoned", time.Now(), nil,
		))

	_, err := svc.ResumeSession(context.Background(), "session-1", "user-1", &fakeDriver{})
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestResumeSessionRequiresClonedRepo(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id=$1")).
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).AddRow(
			"session-1", "user-1", "repo-1", "", "main",
			nil, nil, nil, nil, nil,
			0, "session_started", time.Now(), "abandoned", time.Now(), nil,
		))
	repoCols := []string{
		"id", "user_id", "external_repo_id", "owner", "name", "url", "description", "local_path",
		"is_cloned", "cloned_at", "current_branch", "last_accessed_at", "created_at", "updated_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM repositories WHERE id=$1 AND user_id=$2")).
		WithArgs("repo-1", "user-1").
		WillReturnRows(sqlmock.NewRows(repoCols).AddRow(
			"repo-1", "user-1", int64(1), "acme", "widgets", "https://github.com/acme/widgets", "", "",
			false, nil, "", time.Now(), time.Now(), time.Now(),
		))

	_, err := svc.ResumeSession(context.Background(), "session-1", "user-1", &fakeDriver{})
	assert.ErrorIs(t, err, ErrNotCloned)
}

func TestResumeSessionChecksOutBranch(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id=$1")).
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).AddRow(
			"session-1", "user-1", "repo-1", "fix bug", "feature/fix-bug",
			nil, nil, nil, nil, nil,
			0, "session_started", time.Now(), "abandoned", time.Now(), nil,
		))
	repoCols := []string{
		"id", "user_id", "external_repo_id", "owner", "name", "url", "description", "local_path",
		"is_cloned", "cloned_at", "current_branch", "last_accessed_at", "created_at", "updated_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM repositories WHERE id=$1 AND user_id=$2")).
		WithArgs("repo-1", "user-1").
		WillReturnRows(sqlmock.NewRows(repoCols).AddRow(
			"repo-1", "user-1", int64(1), "acme", "widgets", "https://github.com/acme/widgets", "", "/tmp/widgets",
			true, time.Now(), "feature/fix-bug", time.Now(), time.Now(), time.Now(),
		))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=$1 AND status='active' FOR UPDATE")).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	driver := &fakeDriver{}
	result, err := svc.ResumeSession(context.Background(), "session-1", "user-1", driver)
	require.NoError(t, err)
	assert.True(t, result.BranchCheckedOut)
	assert.Equal(t, "feature/fix-bug", driver.checkedOut)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResumeSessionCheckoutFailureDoesNotRollBack(t *testing.T) {
	svc, mock := newTestService(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM sessions WHERE id=$1")).
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns()).AddRow(
			"session-1", "user-1", "repo-1", "", "main",
			nil, nil, nil, nil, nil,
			0, "session_started", time.Now(), "abandoned", time.Now(), nil,
		))
	repoCols := []string{
		"id", "user_id", "external_repo_id", "owner", "name", "url", "description", "local_path",
		"is_cloned", "cloned_at", "current_branch", "last_accessed_at", "created_at", "updated_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("FROM repositories WHERE id=$1 AND user_id=$2")).
		WithArgs("repo-1", "user-1").
		WillReturnRows(sqlmock.NewRows(repoCols).AddRow(
			"repo-1", "user-1", int64(1), "acme", "widgets", "https://github.com/acme/widgets", "", "/tmp/widgets",
			true, time.Now(), "main", time.Now(), time.Now(), time.Now(),
		))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id=$1 AND status='active' FOR UPDATE")).
		WithArgs("user-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	driver := &fakeDriver{checkoutErr: errors.New("local changes would be overwritten")}
	result, err := svc.ResumeSession(context.Background(), "session-1", "user-1", driver)
	require.NoError(t, err)
	assert.False(t, result.BranchCheckedOut)
	require.NoError(t, mock.ExpectationsWereMet())
}
