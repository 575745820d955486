package gitdriver

import (
	"context"
	"strconv"
	"strings"
)

// StatusResult is the outcome of Status.
type StatusResult struct {
	CurrentBranch string
	Modified      []string
	Staged        []string
	Untracked     []string
	IsClean       bool
	Ahead         int
	Behind        int
}

// Status reports the working tree state (spec §4.3).
func (d *Driver) Status(ctx context.Context) (StatusResult, error) {
	branch, err := d.CurrentBranch(ctx)
	if err != nil {
		return StatusResult{}, err
	}

	out, _, err := d.run(ctx, "status", "--porcelain=v1", "--branch")
	if err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{CurrentBranch: branch}
	lines := strings.Split(out, "\n")
	for _, line := range lines {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "##") {
			result.Ahead, result.Behind = parseAheadBehind(line)
			continue
		}
		if len(line) < 3 {
			continue
		}
		indexStatus, worktreeStatus, path := line[0], line[1], strings.TrimSpace(line[3:])
		if indexStatus == '?' && worktreeStatus == '?' {
			result.Untracked = append(result.Untracked, path)
			continue
		}
		if indexStatus != ' ' {
			result.Staged = append(result.Staged, path)
		}
		if worktreeStatus != ' ' {
			result.Modified = append(result.Modified, path)
		}
	}
	result.IsClean = len(result.Modified) == 0 && len(result.Staged) == 0 && len(result.Untracked) == 0
	return result, nil
}

func parseAheadBehind(branchLine string) (ahead, behind int) {
	idx := strings.Index(branchLine, "[")
	if idx == -1 {
		return 0, 0
	}
	end := strings.Index(branchLine, "]")
	if end == -1 || end < idx {
		return 0, 0
	}
	for _, part := range strings.Split(branchLine[idx+1:end], ",") {
		part = strings.TrimSpace(part)
		if v, found := strings.CutPrefix(part, "ahead "); found {
			ahead, _ = strconv.Atoi(v)
		}
		if v, found := strings.CutPrefix(part, "behind "); found {
			behind, _ = strconv.Atoi(v)
		}
	}
	return ahead, behind
}

// Add stages the given paths, or everything when paths is empty.
func (d *Driver) Add(ctx context.Context, paths []string) error {
	args := append([]string{"add"}, paths...)
	if len(paths) == 0 {
		args = []string{"add", "--all"}
	}
	_, _, err := d.run(ctx, args...)
	return err
}

// Unstage reverses staging for the given paths.
func (d *Driver) Unstage(ctx context.Context, paths []string) error {
	args := append([]string{"restore", "--staged"}, paths...)
	_, _, err := d.run(ctx, args...)
	return err
}
