package dispatcher

import (
	"context"
	"fmt"

	"github.com/gitflow-mcp/gitflow-mcp/internal/authservice"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerAuthTools(server *gomcp.Server) {
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "authenticate_github",
		Description: "Start the GitHub OAuth login flow and return the URL to visit.",
	}, s.authenticateGitHub)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "check_auth_status",
		Description: "Check whether a user is currently authenticated with GitHub.",
	}, s.checkAuthStatus)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "logout",
		Description: "Log a user out, clearing their stored GitHub credentials.",
	}, s.logout)
}

// AuthenticateGitHubInput has no userId: the caller is not yet
// authenticated, that is the point of this tool.
type AuthenticateGitHubInput struct {
	RedirectURI string `json:"redirectUri,omitempty"`
}

type authenticateGitHubOutput struct{}

func (s *Server) authenticateGitHub(_ context.Context, _ *gomcp.CallToolRequest, in AuthenticateGitHubInput) (*gomcp.CallToolResult, authenticateGitHubOutput, error) {
	result, err := s.auth.InitiateOAuth(in.RedirectURI)
	if err != nil {
		return errorResult(err), authenticateGitHubOutput{}, nil
	}
	md := fmt.Sprintf(
		"Visit this URL to sign in with GitHub:\n\n%s\n\nThis link expires in %d seconds.",
		result.URL, result.ExpiresIn,
	)
	return textResult(md), authenticateGitHubOutput{}, nil
}

type CheckAuthStatusInput struct {
	UserID string `json:"userId"`
}

type checkAuthStatusOutput struct{}

func (s *Server) checkAuthStatus(ctx context.Context, _ *gomcp.CallToolRequest, in CheckAuthStatusInput) (*gomcp.CallToolResult, checkAuthStatusOutput, error) {
	u, err := s.requireUser(ctx, in.UserID)
	if err != nil {
		return textResult("Not authenticated. Run authenticate_github to sign in."), checkAuthStatusOutput{}, nil
	}
	if _, err := s.auth.GetAccessToken(ctx, u.ID); err != nil {
		return textResult(fmt.Sprintf("**%s**'s session has expired (session_expired). Run authenticate_github to sign in again.", u.Username)), checkAuthStatusOutput{}, nil
	}
	md := fmt.Sprintf("Authenticated as **%s** (tier: %s).", u.Username, u.Tier)
	return textResult(md), checkAuthStatusOutput{}, nil
}

type LogoutInput struct {
	UserID string `json:"userId"`
}

type logoutOutput struct{}

func (s *Server) logout(ctx context.Context, _ *gomcp.CallToolRequest, in LogoutInput) (*gomcp.CallToolResult, logoutOutput, error) {
	if err := s.auth.Logout(ctx, in.UserID); err != nil && err != authservice.ErrUserGone {
		return errorResult(err), logoutOutput{}, nil
	}
	return textResult("You've been logged out."), logoutOutput{}, nil
}
