package dispatcher

import (
	"context"
	"fmt"

	"github.com/gitflow-mcp/gitflow-mcp/internal/gitdriver"
	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerSessionTools(server *gomcp.Server) {
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "list_sessions",
		Description: "List every work session for a user, most recent first.",
	}, s.listSessions)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "get_active_session",
		Description: "Show the user's currently active session, if any.",
	}, s.getActiveSession)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "resume_session",
		Description: "Resume a prior session, checking out its branch.",
	}, s.resumeSession)
}

type ListSessionsInput struct {
	UserID string `json:"userId"`
}

type listSessionsOutput struct{}

func (s *Server) listSessions(ctx context.Context, _ *gomcp.CallToolRequest, in ListSessionsInput) (*gomcp.CallToolResult, listSessionsOutput, error) {
	sessions, err := s.sessions.ListSessions(ctx, in.UserID)
	if err != nil {
		return errorResult(err), listSessionsOutput{}, nil
	}
	if len(sessions) == 0 {
		return textResult("No sessions yet."), listSessionsOutput{}, nil
	}
	var b []byte
	for _, sess := range sessions {
		b = append(b, []byte(renderSessionLine(sess)+"\n")...)
	}
	return textResult(string(b)), listSessionsOutput{}, nil
}

func renderSessionLine(sess *models.Session) string {
	label := sess.TaskDescription
	if label == "" {
		label = "(no task description)"
	}
	return fmt.Sprintf("- [%s] %s — %s (branch `%s`)", sess.Status, label, sess.ID, sess.CurrentBranch)
}

type GetActiveSessionInput struct {
	UserID string `json:"userId"`
}

type getActiveSessionOutput struct{}

func (s *Server) getActiveSession(ctx context.Context, _ *gomcp.CallToolRequest, in GetActiveSessionInput) (*gomcp.CallToolResult, getActiveSessionOutput, error) {
	active, err := s.sessions.GetActiveSession(ctx, in.UserID)
	if err != nil {
		return errorResult(err), getActiveSessionOutput{}, nil
	}
	if active == nil {
		return textResult("No active session."), getActiveSessionOutput{}, nil
	}
	return textResult(renderSessionLine(active)), getActiveSessionOutput{}, nil
}

type ResumeSessionInput struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type resumeSessionOutput struct{}

func (s *Server) resumeSession(ctx context.Context, _ *gomcp.CallToolRequest, in ResumeSessionInput) (*gomcp.CallToolResult, resumeSessionOutput, error) {
	target, err := s.store.GetSessionByID(ctx, in.SessionID)
	if err != nil {
		return errorResult(err), resumeSessionOutput{}, nil
	}
	repo, err := s.store.GetRepositoryByID(ctx, in.UserID, target.RepositoryID)
	if err != nil {
		return errorResult(err), resumeSessionOutput{}, nil
	}

	var result *resumeOutcome
	err = s.withDriver(repo.LocalPath, func(d *gitdriver.Driver) error {
		r, resumeErr := s.sessions.ResumeSession(ctx, in.SessionID, in.UserID, d)
		if resumeErr != nil {
			return resumeErr
		}
		result = &resumeOutcome{session: r.Session, checkedOut: r.BranchCheckedOut}
		return nil
	})
	if err != nil {
		return errorResult(err), resumeSessionOutput{}, nil
	}

	md := fmt.Sprintf("Resumed session on branch `%s`.", result.session.CurrentBranch)
	if !result.checkedOut {
		md += " Checkout failed — resolve it manually before continuing."
	}
	return textResult(md), resumeSessionOutput{}, nil
}

type resumeOutcome struct {
	session    *models.Session
	checkedOut bool
}
