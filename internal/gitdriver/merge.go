package gitdriver

import (
	"context"
	"strings"
)

// MergeOptions configures Merge (spec §4.3).
type MergeOptions struct {
	Strategy string
	NoFF     bool
	Message  string
}

// MergeResult is returned on a successful merge.
type MergeResult struct {
	CommitHash string
}

// MergeConflict is returned in place of an error when the merge
// leaves conflicted paths in the working tree.
type MergeConflict struct {
	ConflictedPaths []string
}

// Merge merges branch into the current branch, returning either a
// success record or a conflict record naming the conflicted paths.
func (d *Driver) Merge(ctx context.Context, branch string, opts MergeOptions) (*MergeResult, *MergeConflict, error) {
	args := []string{"merge"}
	if opts.Strategy != "" {
		args = append(args, "--strategy", opts.Strategy)
	}
	if opts.NoFF {
		args = append(args, "--no-ff")
	}
	if opts.Message != "" {
		args = append(args, "-m", opts.Message)
	}
	args = append(args, branch)

	out, stderr, err := d.run(ctx, args...)
	combined := out + "\n" + stderr
	if err != nil {
		if strings.Contains(strings.ToLower(combined), "conflict") {
			paths, pathsErr := d.conflictedPaths(ctx)
			if pathsErr != nil {
				return nil, nil, err
			}
			return nil, &MergeConflict{ConflictedPaths: paths}, nil
		}
		return nil, nil, err
	}

	hash, _, err := d.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return nil, nil, err
	}
	return &MergeResult{CommitHash: strings.TrimSpace(hash)}, nil, nil
}
