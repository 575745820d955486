package gitdriver

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PushOptions configures Push (spec §4.3).
type PushOptions struct {
	Force          bool
	ForceWithLease bool
	SetUpstream    bool
}

// PushResult is returned by a successful push.
type PushResult struct {
	Branch string
}

// PushRejection is returned in place of an error when the remote
// rejects a push with GH009/GH013 push-protection semantics. Callers
// feed RawError into policyrecovery.ParseViolation / HandlePushRejection.
type PushRejection struct {
	RawError string
}

// Push injects the caller's token into the remote URL, runs the push,
// and unconditionally restores the credential-free URL before
// returning, on both the success and rejection paths. When the
// rejection looks like a push-protection violation it is returned as
// a *PushRejection value rather than a plain error, per the
// push-rejection-as-a-value design in spec §9.
func (d *Driver) Push(ctx context.Context, token, branch string, opts PushOptions) (*PushResult, *PushRejection, error) {
	args := []string{"push"}
	switch {
	case opts.ForceWithLease:
		args = append(args, "--force-with-lease")
	case opts.Force:
		args = append(args, "--force")
	}
	if opts.SetUpstream {
		args = append(args, "--set-upstream")
	}
	args = append(args, "origin", branch)

	var rejection *PushRejection
	err := d.withAuthenticatedRemote(ctx, token, func(ctx context.Context) error {
		out, stderr, runErr := d.run(ctx, args...)
		combined := out + "\n" + stderr
		if runErr != nil {
			if isPushProtectionRejection(combined) || isPushProtectionRejection(runErr.Error()) {
				rejection = &PushRejection{RawError: combined}
				return nil
			}
			return runErr
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if rejection != nil {
		return nil, rejection, nil
	}
	return &PushResult{Branch: branch}, nil, nil
}

func isPushProtectionRejection(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "gh009") ||
		strings.Contains(lower, "gh013") ||
		strings.Contains(lower, "secret") && strings.Contains(lower, "detected") ||
		strings.Contains(lower, "repository rule violations") ||
		(strings.Contains(lower, "push") && strings.Contains(lower, "declined") && strings.Contains(lower, "secret"))
}

// ResetSoftOneCommit implements policyrecovery.GitDriver: a soft reset
// of HEAD by exactly one commit.
func (d *Driver) ResetSoftOneCommit(ctx context.Context) error {
	return d.Reset(ctx, ResetSoft, "HEAD~1")
}

// PushForceWithLease implements policyrecovery.GitDriver. It injects
// the caller's token the same way Push does, since this is the
// safe-retry half of the same credential-scoped operation.
func (d *Driver) PushForceWithLease(ctx context.Context, token, branch string) (string, error) {
	var combined string
	err := d.withAuthenticatedRemote(ctx, token, func(ctx context.Context) error {
		out, stderr, runErr := d.run(ctx, "push", "--force-with-lease", "origin", branch)
		combined = out + "\n" + stderr
		return runErr
	})
	return combined, err
}

// PullOptions configures Pull (spec §4.3).
type PullOptions struct {
	Rebase bool
}

// PullResult is returned on a successful pull.
type PullResult struct {
	CommitsDownloaded int
}

// PullConflict is returned in place of an error when a pull leaves
// conflicted paths in the working tree.
type PullConflict struct {
	ConflictedPaths []string
}

// Pull injects the token, fetches and merges (or rebases), and
// reports either the number of newly-downloaded commits or a conflict
// record listing the paths in conflict.
func (d *Driver) Pull(ctx context.Context, token string, opts PullOptions) (*PullResult, *PullConflict, error) {
	beforeHash, _, err := d.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, nil, err
	}

	args := []string{"pull"}
	if opts.Rebase {
		args = append(args, "--rebase")
	}
	args = append(args, "origin")

	var conflict *PullConflict
	err = d.withAuthenticatedRemote(ctx, token, func(ctx context.Context) error {
		out, stderr, runErr := d.run(ctx, args...)
		combined := out + "\n" + stderr
		if runErr != nil {
			if strings.Contains(strings.ToLower(combined), "conflict") {
				paths, statusErr := d.conflictedPaths(ctx)
				if statusErr != nil {
					return runErr
				}
				conflict = &PullConflict{ConflictedPaths: paths}
				return nil
			}
			return runErr
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if conflict != nil {
		return nil, conflict, nil
	}

	count, err := d.commitsBetween(ctx, strings.TrimSpace(beforeHash), "HEAD")
	if err != nil {
		return nil, nil, err
	}
	return &PullResult{CommitsDownloaded: count}, nil, nil
}

func (d *Driver) conflictedPaths(ctx context.Context) ([]string, error) {
	out, _, err := d.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			paths = append(paths, line)
		}
	}
	return paths, nil
}

func (d *Driver) commitsBetween(ctx context.Context, from, to string) (int, error) {
	out, _, err := d.run(ctx, "rev-list", "--count", fmt.Sprintf("%s..%s", from, to))
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, nil
	}
	return n, nil
}
