// Package dispatcher registers the fixed MCP tool surface of spec §4.8
// and binds it to the Auth Service, Session Service, Data Store, Git
// Driver, GitHub Client, Policy Recovery and Error Translator.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gitflow-mcp/gitflow-mcp/internal/authservice"
	"github.com/gitflow-mcp/gitflow-mcp/internal/datastore"
	"github.com/gitflow-mcp/gitflow-mcp/internal/errortranslator"
	"github.com/gitflow-mcp/gitflow-mcp/internal/gitdriver"
	"github.com/gitflow-mcp/gitflow-mcp/internal/models"
	"github.com/gitflow-mcp/gitflow-mcp/internal/sessionservice"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrNoRepositoryFound is returned by resolveRepoContext when none of
// the three resolution strategies of spec §4.8 produce a repository.
var ErrNoRepositoryFound = errors.New("dispatcher: no repository found")

// ErrTierLimit is returned when a tier-gated operation exceeds the
// caller's plan.
var ErrTierLimit = errors.New("dispatcher: tier limit reached")

// Server holds every collaborator the tool handlers need and the
// per-local-path serialization required by spec §5: the Git Driver is
// not safe against concurrent operations on the same working tree.
type Server struct {
	auth       *authservice.Service
	sessions   *sessionservice.Service
	store      *datastore.Store
	logger     *log.Logger
	cloneBase  string
	gitTimeout time.Duration

	pathLocksMu sync.Mutex
	pathLocks   map[string]*sync.Mutex
}

// New constructs a Server.
func New(auth *authservice.Service, sessions *sessionservice.Service, store *datastore.Store, cloneBaseDir string, gitTimeout time.Duration, logger *log.Logger) *Server {
	return &Server{
		auth:       auth,
		sessions:   sessions,
		store:      store,
		logger:     logger,
		cloneBase:  cloneBaseDir,
		gitTimeout: gitTimeout,
		pathLocks:  make(map[string]*sync.Mutex),
	}
}

// Register wires all seventeen MCP tools from spec §4.8 onto server.
func Register(server *gomcp.Server, s *Server) {
	s.registerAuthTools(server)
	s.registerGitTools(server)
	s.registerRepositoryTools(server)
	s.registerWorkflowTools(server)
	s.registerSessionTools(server)
}

// lockForPath serializes Git Driver operations per local-path (spec
// §5): different local-paths proceed in parallel, the same path does
// not.
func (s *Server) lockForPath(localPath string) *sync.Mutex {
	s.pathLocksMu.Lock()
	defer s.pathLocksMu.Unlock()
	m, ok := s.pathLocks[localPath]
	if !ok {
		m = &sync.Mutex{}
		s.pathLocks[localPath] = m
	}
	return m
}

// withDriver acquires the per-path lock, constructs a fresh Driver
// over localPath, runs fn, and releases the lock on every exit path.
func (s *Server) withDriver(localPath string, fn func(d *gitdriver.Driver) error) error {
	lock := s.lockForPath(localPath)
	lock.Lock()
	defer lock.Unlock()

	d, err := gitdriver.New(localPath, s.gitTimeout, s.logger)
	if err != nil {
		return err
	}
	return fn(d)
}

// repoContext is the outcome of resolveRepoContext.
type repoContext struct {
	LocalPath string
	RepoID    string
	SessionID string
	Managed   bool
}

// resolveRepoContext implements the shared lookup of spec §4.8:
// explicit local-path first (managed if the row exists and belongs to
// the user, else a path-only record for unmanaged repos), then repo-id
// (must be owned and cloned), then the user's active session's repo.
func (s *Server) resolveRepoContext(ctx context.Context, userID, repoID, localPath string) (*repoContext, error) {
	localPath = strings.TrimSpace(localPath)
	repoID = strings.TrimSpace(repoID)

	if localPath != "" {
		repo, err := s.store.GetRepositoryByLocalPath(ctx, userID, localPath)
		if err == nil {
			return &repoContext{LocalPath: repo.LocalPath, RepoID: repo.ID, Managed: true}, nil
		}
		return &repoContext{LocalPath: localPath, Managed: false}, nil
	}

	if repoID != "" {
		repo, err := s.store.GetRepositoryByID(ctx, userID, repoID)
		if err != nil {
			return nil, ErrNoRepositoryFound
		}
		if !repo.IsCloned {
			return nil, ErrNoRepositoryFound
		}
		return &repoContext{LocalPath: repo.LocalPath, RepoID: repo.ID, Managed: true}, nil
	}

	active, err := s.sessions.GetActiveSession(ctx, userID)
	if err != nil || active == nil {
		return nil, ErrNoRepositoryFound
	}
	repo, err := s.store.GetRepositoryByID(ctx, userID, active.RepositoryID)
	if err != nil {
		return nil, ErrNoRepositoryFound
	}
	return &repoContext{LocalPath: repo.LocalPath, RepoID: repo.ID, SessionID: active.ID, Managed: true}, nil
}

// cloneDestination builds ~/.gitflow-for-pms/repos/<org>/<repo> (spec §6).
func (s *Server) cloneDestination(owner, name string) string {
	return filepath.Join(s.cloneBase, owner, name)
}

// textResult wraps markdown (and, for high-level tools, an appended
// fenced JSON block) into the {content: [{type: "text", text}]} shape
// spec §4.8 mandates for every tool response.
func textResult(markdown string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: markdown}},
	}
}

// withJSONBlock appends a fenced ```json block to markdown, the
// stable structured view the two high-level tools embed per spec §4.8.
func withJSONBlock(markdown string, structured any) string {
	data, err := json.MarshalIndent(structured, "", "  ")
	if err != nil {
		return markdown
	}
	var b strings.Builder
	b.WriteString(markdown)
	b.WriteString("\n\n```json\n")
	b.Write(data)
	b.WriteString("\n```\n")
	return b.String()
}

// severityHeading maps a translated error's severity to the heading
// spec §7 mandates: "Critical Error" for critical, "Error" for
// everything else except info/warning, which get their own heading.
func severityHeading(s errortranslator.Severity) string {
	switch s {
	case errortranslator.SeverityCritical:
		return "Critical Error"
	case errortranslator.SeverityWarning:
		return "Warning"
	case errortranslator.SeverityInfo:
		return "Info"
	default:
		return "Error"
	}
}

const maxAffectedFilesShown = 5

// errorResult renders a translated error as a markdown tool response
// rather than failing the tool call, so the agent sees remediation
// text instead of a bare error string.
func errorResult(err error) *gomcp.CallToolResult {
	t := errortranslator.Translate(err)
	var b strings.Builder
	fmt.Fprintf(&b, "**%s: %s**\n\n", severityHeading(t.Severity), t.UserMessage)
	if len(t.AffectedFiles) > 0 {
		b.WriteString("Affected files:\n")
		shown := t.AffectedFiles
		if len(shown) > maxAffectedFilesShown {
			shown = shown[:maxAffectedFilesShown]
		}
		for _, f := range shown {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		if remaining := len(t.AffectedFiles) - len(shown); remaining > 0 {
			fmt.Fprintf(&b, "… and %d more\n", remaining)
		}
		b.WriteString("\n")
	}
	if len(t.SuggestedActions) > 0 {
		b.WriteString("Next steps:\n")
		for _, action := range t.SuggestedActions {
			fmt.Fprintf(&b, "- %s\n", action)
		}
	}
	return textResult(b.String())
}

// requireUser loads the user the dispatcher acts as, translating a
// missing row into the not-authenticated kind spec §7 names.
func (s *Server) requireUser(ctx context.Context, userID string) (*models.User, error) {
	u, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, authservice.ErrNotAuthenticated
	}
	return u, nil
}
