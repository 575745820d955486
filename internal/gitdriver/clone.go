package gitdriver

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CloneOptions configures Clone (spec §4.3).
type CloneOptions struct {
	Depth        int
	Branch       string
	SingleBranch bool
}

// Clone obtains the user's access token from the caller (the
// dispatcher resolves it via the Secret Store before calling this),
// constructs a credential-embedded URL, clones into localPath, then
// immediately resets the remote URL to its credential-free form.
// Returns a Driver ready for further operations on the new clone.
func Clone(ctx context.Context, remoteURL, token, localPath string, opts CloneOptions, timeout time.Duration, logger *log.Logger) (*Driver, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNotAuthenticated
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return nil, fmt.Errorf("gitdriver: create parent directory: %w", err)
	}

	authedURL, err := injectCredential(remoteURL, token)
	if err != nil {
		return nil, err
	}

	args := []string{"clone"}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	if opts.SingleBranch {
		args = append(args, "--single-branch")
	}
	args = append(args, authedURL, localPath)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, "git", args...)
	out, cloneErr := cmd.CombinedOutput()
	scrubbed := scrub(string(out))
	if cloneErr != nil {
		if isAuthFailure(scrubbed) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("gitdriver: clone failed: %s", scrubbed)
	}

	d := &Driver{localPath: localPath, timeout: timeout, logger: logger}
	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer restoreCancel()
	if _, _, err := d.run(restoreCtx, "remote", "set-url", "origin", remoteURL); err != nil {
		logger.Printf("gitdriver: failed to scrub remote url after clone of %s: %v", localPath, err)
	}
	return d, nil
}
