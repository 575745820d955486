package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/gitflow-mcp/gitflow-mcp/internal/gitdriver"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerGitTools(server *gomcp.Server) {
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "git_status",
		Description: "Show the working tree status of a cloned repository.",
	}, s.gitStatus)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "git_commit",
		Description: "Stage all changes and create a commit.",
	}, s.gitCommit)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "git_push",
		Description: "Push the current branch to origin.",
	}, s.gitPush)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "git_pull",
		Description: "Pull the latest changes from origin.",
	}, s.gitPull)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "git_clone",
		Description: "Clone a GitHub repository and register it.",
	}, s.gitClone)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "git_checkout",
		Description: "Check out an existing branch.",
	}, s.gitCheckout)
}

type GitStatusInput struct {
	UserID    string `json:"userId"`
	RepoID    string `json:"repoId,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}

type gitStatusOutput struct{}

func (s *Server) gitStatus(ctx context.Context, _ *gomcp.CallToolRequest, in GitStatusInput) (*gomcp.CallToolResult, gitStatusOutput, error) {
	rc, err := s.resolveRepoContext(ctx, in.UserID, in.RepoID, in.LocalPath)
	if err != nil {
		return errorResult(err), gitStatusOutput{}, nil
	}
	var status gitdriver.StatusResult
	err = s.withDriver(rc.LocalPath, func(d *gitdriver.Driver) error {
		status, err = d.Status(ctx)
		return err
	})
	if err != nil {
		return errorResult(err), gitStatusOutput{}, nil
	}
	return textResult(renderStatus(status)), gitStatusOutput{}, nil
}

func renderStatus(status gitdriver.StatusResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Branch **%s**", status.CurrentBranch)
	if status.Ahead > 0 || status.Behind > 0 {
		fmt.Fprintf(&b, " (ahead %d, behind %d)", status.Ahead, status.Behind)
	}
	b.WriteString("\n\n")
	if status.IsClean {
		b.WriteString("Working tree clean.\n")
		return b.String()
	}
	writeFileList(&b, "Staged", status.Staged)
	writeFileList(&b, "Modified", status.Modified)
	writeFileList(&b, "Untracked", status.Untracked)
	return b.String()
}

func writeFileList(b *strings.Builder, label string, files []string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", label)
	for _, f := range files {
		fmt.Fprintf(b, "- %s\n", f)
	}
}

type GitCommitInput struct {
	UserID    string `json:"userId"`
	RepoID    string `json:"repoId,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	Message   string `json:"message"`
	Amend     bool   `json:"amend,omitempty"`
	NoEdit    bool   `json:"noEdit,omitempty"`
}

type gitCommitOutput struct{}

func (s *Server) gitCommit(ctx context.Context, _ *gomcp.CallToolRequest, in GitCommitInput) (*gomcp.CallToolResult, gitCommitOutput, error) {
	if strings.TrimSpace(in.Message) == "" && !in.NoEdit {
		return textResult("A commit message is required."), gitCommitOutput{}, nil
	}
	rc, err := s.resolveRepoContext(ctx, in.UserID, in.RepoID, in.LocalPath)
	if err != nil {
		return errorResult(err), gitCommitOutput{}, nil
	}
	var result gitdriver.CommitResult
	err = s.withDriver(rc.LocalPath, func(d *gitdriver.Driver) error {
		if addErr := d.Add(ctx, nil); addErr != nil {
			return addErr
		}
		result, err = d.Commit(ctx, gitdriver.CommitOptions{Message: in.Message, Amend: in.Amend, NoEdit: in.NoEdit})
		return err
	})
	if err != nil {
		return errorResult(err), gitCommitOutput{}, nil
	}
	md := fmt.Sprintf("Committed **%s** (%d file(s) changed, +%d/-%d).",
		result.CommitHash, result.FilesChanged, result.Insertions, result.Deletions)
	return textResult(md), gitCommitOutput{}, nil
}

type GitPushInput struct {
	UserID         string `json:"userId"`
	RepoID         string `json:"repoId,omitempty"`
	LocalPath      string `json:"localPath,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Force          bool   `json:"force,omitempty"`
	ForceWithLease bool   `json:"forceWithLease,omitempty"`
	SetUpstream    bool   `json:"setUpstream,omitempty"`
}

type gitPushOutput struct{}

func (s *Server) gitPush(ctx context.Context, _ *gomcp.CallToolRequest, in GitPushInput) (*gomcp.CallToolResult, gitPushOutput, error) {
	token, err := s.auth.GetAccessToken(ctx, in.UserID)
	if err != nil {
		return errorResult(err), gitPushOutput{}, nil
	}
	rc, err := s.resolveRepoContext(ctx, in.UserID, in.RepoID, in.LocalPath)
	if err != nil {
		return errorResult(err), gitPushOutput{}, nil
	}

	var pushResult *gitdriver.PushResult
	var rejection *gitdriver.PushRejection
	err = s.withDriver(rc.LocalPath, func(d *gitdriver.Driver) error {
		branch := in.Branch
		if branch == "" {
			var branchErr error
			branch, branchErr = d.CurrentBranch(ctx)
			if branchErr != nil {
				return branchErr
			}
		}
		pushResult, rejection, err = d.Push(ctx, token, branch, gitdriver.PushOptions{
			Force: in.Force, ForceWithLease: in.ForceWithLease, SetUpstream: in.SetUpstream,
		})
		return err
	})
	if err != nil {
		return errorResult(err), gitPushOutput{}, nil
	}
	if rejection != nil {
		return errorResult(fmt.Errorf("%s", rejection.RawError)), gitPushOutput{}, nil
	}
	return textResult(fmt.Sprintf("Pushed **%s** to origin.", pushResult.Branch)), gitPushOutput{}, nil
}

type GitPullInput struct {
	UserID    string `json:"userId"`
	RepoID    string `json:"repoId,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	Rebase    bool   `json:"rebase,omitempty"`
}

type gitPullOutput struct{}

func (s *Server) gitPull(ctx context.Context, _ *gomcp.CallToolRequest, in GitPullInput) (*gomcp.CallToolResult, gitPullOutput, error) {
	token, err := s.auth.GetAccessToken(ctx, in.UserID)
	if err != nil {
		return errorResult(err), gitPullOutput{}, nil
	}
	rc, err := s.resolveRepoContext(ctx, in.UserID, in.RepoID, in.LocalPath)
	if err != nil {
		return errorResult(err), gitPullOutput{}, nil
	}

	var pullResult *gitdriver.PullResult
	var conflict *gitdriver.PullConflict
	err = s.withDriver(rc.LocalPath, func(d *gitdriver.Driver) error {
		pullResult, conflict, err = d.Pull(ctx, token, gitdriver.PullOptions{Rebase: in.Rebase})
		return err
	})
	if err != nil {
		return errorResult(err), gitPullOutput{}, nil
	}
	if conflict != nil {
		md := "Pull left conflicts in:\n"
		for _, f := range conflict.ConflictedPaths {
			md += fmt.Sprintf("- %s\n", f)
		}
		return textResult(md), gitPullOutput{}, nil
	}
	return textResult(fmt.Sprintf("Pulled %d new commit(s).", pullResult.CommitsDownloaded)), gitPullOutput{}, nil
}

type GitCloneInput struct {
	UserID         string `json:"userId"`
	ExternalRepoID int64  `json:"externalRepoId"`
	Owner          string `json:"owner"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	Description    string `json:"description,omitempty"`
	Branch         string `json:"branch,omitempty"`
	Depth          int    `json:"depth,omitempty"`
	LocalPath      string `json:"localPath,omitempty"`
}

type gitCloneOutput struct{}

func (s *Server) gitClone(ctx context.Context, _ *gomcp.CallToolRequest, in GitCloneInput) (*gomcp.CallToolResult, gitCloneOutput, error) {
	token, err := s.auth.GetAccessToken(ctx, in.UserID)
	if err != nil {
		return errorResult(err), gitCloneOutput{}, nil
	}

	repo, err := s.store.GetOrCreateRepository(ctx, in.UserID, in.ExternalRepoID, in.Owner, in.Name, in.URL, in.Description)
	if err != nil {
		return errorResult(err), gitCloneOutput{}, nil
	}

	localPath := strings.TrimSpace(in.LocalPath)
	if localPath == "" {
		localPath = s.cloneDestination(in.Owner, in.Name)
	}

	var branch string
	err = s.withDriver(localPath, func(_ *gitdriver.Driver) error {
		d, cloneErr := gitdriver.Clone(ctx, in.URL, token, localPath, gitdriver.CloneOptions{
			Depth: in.Depth, Branch: in.Branch, SingleBranch: in.Branch != "",
		}, s.gitTimeout, s.logger)
		if cloneErr != nil {
			return cloneErr
		}
		branch, cloneErr = d.CurrentBranch(ctx)
		return cloneErr
	})
	if err != nil {
		return errorResult(err), gitCloneOutput{}, nil
	}

	if err := s.store.MarkCloned(ctx, repo.ID, localPath, branch); err != nil {
		return errorResult(err), gitCloneOutput{}, nil
	}
	md := fmt.Sprintf("Cloned **%s** into `%s` (branch `%s`).", repo.FullName(), localPath, branch)
	return textResult(md), gitCloneOutput{}, nil
}

type GitCheckoutInput struct {
	UserID    string `json:"userId"`
	RepoID    string `json:"repoId,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
	Branch    string `json:"branch"`
}

type gitCheckoutOutput struct{}

func (s *Server) gitCheckout(ctx context.Context, _ *gomcp.CallToolRequest, in GitCheckoutInput) (*gomcp.CallToolResult, gitCheckoutOutput, error) {
	if strings.TrimSpace(in.Branch) == "" {
		return textResult("A branch name is required."), gitCheckoutOutput{}, nil
	}
	rc, err := s.resolveRepoContext(ctx, in.UserID, in.RepoID, in.LocalPath)
	if err != nil {
		return errorResult(err), gitCheckoutOutput{}, nil
	}
	err = s.withDriver(rc.LocalPath, func(d *gitdriver.Driver) error {
		return d.Checkout(ctx, in.Branch)
	})
	if err != nil {
		return errorResult(err), gitCheckoutOutput{}, nil
	}
	if rc.Managed {
		_ = s.store.UpdateCurrentBranch(ctx, rc.RepoID, in.Branch)
	}
	return textResult(fmt.Sprintf("Checked out `%s`.", in.Branch)), gitCheckoutOutput{}, nil
}
