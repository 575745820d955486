// Package gitdriver wraps the installed git binary with the
// credential-injection and error-scrubbing discipline spec §4.3
// requires of every authenticated operation.
package gitdriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Sentinel error kinds (spec §4.3(c), §7).
var (
	ErrNotAuthenticated = errors.New("gitdriver: not authenticated")
	ErrNothingToCommit  = errors.New("gitdriver: nothing to commit")
	ErrNotAGitRepo      = errors.New("gitdriver: not a git repository")
)

var reEmbeddedCredential = regexp.MustCompile(`oauth2:[^@]+@`)

// Driver is a per-(user, local-path) façade over the git subprocess.
type Driver struct {
	localPath string
	timeout   time.Duration
	logger    *log.Logger
}

// New constructs a Driver rooted at localPath. Per the Open Question
// decision recorded in DESIGN.md, construction eagerly scrubs any
// credential-embedded remote URL left over from a crashed prior
// process before any operation runs.
func New(localPath string, timeout time.Duration, logger *log.Logger) (*Driver, error) {
	d := &Driver{localPath: localPath, timeout: timeout, logger: logger}
	if err := d.scrubRemoteURLAtStartup(); err != nil {
		logger.Printf("gitdriver: startup scrub failed for %s: %v", localPath, err)
	}
	return d, nil
}

func (d *Driver) scrubRemoteURLAtStartup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, _, err := d.run(ctx, "remote", "get-url", "origin")
	if err != nil {
		return nil // no remote yet, e.g. pre-clone; nothing to scrub.
	}
	if !reEmbeddedCredential.MatchString(out) {
		return nil
	}
	scrubbed := reEmbeddedCredential.ReplaceAllString(out, "")
	_, _, err = d.run(ctx, "remote", "set-url", "origin", strings.TrimSpace(scrubbed))
	return err
}

// run executes a git subcommand in localPath, returning scrubbed
// stdout/stderr. Every error text returned by this package has been
// passed through scrub() so oauth2:<anything>@ never escapes (§4.3(b)).
func (d *Driver) run(ctx context.Context, args ...string) (stdout string, stderr string, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.localPath
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	runErr := cmd.Run()

	stdout = scrub(outBuf.String())
	stderr = scrub(errBuf.String())
	if runErr != nil {
		return stdout, stderr, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), runErr, stderr)
	}
	return stdout, stderr, nil
}

func scrub(s string) string {
	return reEmbeddedCredential.ReplaceAllString(s, "")
}

// withAuthenticatedRemote implements the scoped-acquisition pattern of
// spec §9: rewrite origin to the credential-embedded form, run fn, and
// unconditionally restore it — on success, failure, or a killed
// subprocess — before returning.
func (d *Driver) withAuthenticatedRemote(ctx context.Context, token string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(token) == "" {
		return ErrNotAuthenticated
	}
	bgCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cleanURL, _, err := d.run(bgCtx, "remote", "get-url", "origin")
	if err != nil {
		return fmt.Errorf("gitdriver: read remote url: %w", err)
	}
	cleanURL = strings.TrimSpace(cleanURL)
	authedURL, err := injectCredential(cleanURL, token)
	if err != nil {
		return err
	}

	if _, _, err := d.run(bgCtx, "remote", "set-url", "origin", authedURL); err != nil {
		return fmt.Errorf("gitdriver: set authenticated remote: %w", err)
	}
	defer func() {
		scrubCtx, scrubCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scrubCancel()
		if _, _, scrubErr := d.run(scrubCtx, "remote", "set-url", "origin", cleanURL); scrubErr != nil {
			d.logger.Printf("gitdriver: failed to scrub remote url for %s: %v", d.localPath, scrubErr)
		}
	}()

	return fn(ctx)
}

// injectCredential builds https://oauth2:<token>@<host>/<path> from a
// plain https remote URL.
func injectCredential(remoteURL, token string) (string, error) {
	const scheme = "https://"
	if !strings.HasPrefix(remoteURL, scheme) {
		return "", fmt.Errorf("gitdriver: unsupported remote scheme for credential injection: %s", remoteURL)
	}
	rest := strings.TrimPrefix(remoteURL, scheme)
	rest = reEmbeddedCredential.ReplaceAllString(rest, "")
	return scheme + "oauth2:" + token + "@" + rest, nil
}

func isAuthFailure(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "authentication failed") ||
		strings.Contains(lower, "bad credentials") ||
		strings.Contains(lower, "permission denied (publickey)") ||
		strings.Contains(lower, "could not read username") ||
		strings.Contains(lower, "invalid username or password")
}

// LocalPath returns the working directory this driver operates on.
func (d *Driver) LocalPath() string {
	return d.localPath
}
