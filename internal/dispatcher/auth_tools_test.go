package dispatcher

import (
	"context"
	"fmt"
	"testing"

	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateGitHubReturnsAuthorizeURL(t *testing.T) {
	rig := newTestRig(t)
	res, _, err := rig.server.authenticateGitHub(context.Background(), nil, AuthenticateGitHubInput{RedirectURI: "https://app.example.com/callback"})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "https://github.com/login/oauth/authorize")
	assert.Contains(t, text, "client_id=client-id")
}

func TestCheckAuthStatusUnknownUser(t *testing.T) {
	rig := newTestRig(t)
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnError(fmt.Errorf("sql: no rows in result set"))

	res, _, err := rig.server.checkAuthStatus(context.Background(), nil, CheckAuthStatusInput{UserID: "ghost"})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "Not authenticated")
}

func TestCheckAuthStatusSignedInWithoutToken(t *testing.T) {
	rig := newTestRig(t)
	u := &models.User{ID: "user-1", Username: "octocat", ExternalGitHubID: 42, Tier: models.TierFree}
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))
	// GetAccessToken's own GetUserByID lookup.
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))

	res, _, err := rig.server.checkAuthStatus(context.Background(), nil, CheckAuthStatusInput{UserID: u.ID})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "octocat")
	assert.Contains(t, text, "session_expired")
}

func TestCheckAuthStatusAuthenticated(t *testing.T) {
	rig := newTestRig(t)
	u := &models.User{ID: "user-1", Username: "octocat", ExternalGitHubID: 42, Tier: models.TierPro}
	require.NoError(t, rig.secrets.Put(context.Background(), u.ExternalGitHubID, "gho_testtoken"))
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))

	res, _, err := rig.server.checkAuthStatus(context.Background(), nil, CheckAuthStatusInput{UserID: u.ID})
	require.NoError(t, err)
	text := resultText(t, res)
	assert.Contains(t, text, "Authenticated as **octocat**")
	assert.Contains(t, text, "pro")
}

func TestLogoutClearsCredentials(t *testing.T) {
	rig := newTestRig(t)
	u := &models.User{ID: "user-1", Username: "octocat", ExternalGitHubID: 42, Tier: models.TierFree}
	require.NoError(t, rig.secrets.Put(context.Background(), u.ExternalGitHubID, "gho_testtoken"))
	rig.mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs(u.ID).
		WillReturnRows(userRow(rig.mock, u))

	res, _, err := rig.server.logout(context.Background(), nil, LogoutInput{UserID: u.ID})
	require.NoError(t, err)
	assert.Contains(t, resultText(t, res), "logged out")
	assert.Equal(t, models.TokenSentinelLoggedOut, rig.tokens.values[u.ExternalGitHubID])
}
