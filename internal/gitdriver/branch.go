package gitdriver

import (
	"context"
	"fmt"
	"strings"
)

// CurrentBranch returns the name of the checked-out branch.
func (d *Driver) CurrentBranch(ctx context.Context) (string, error) {
	out, _, err := d.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Checkout switches to an existing branch.
func (d *Driver) Checkout(ctx context.Context, branch string) error {
	_, _, err := d.run(ctx, "checkout", branch)
	return err
}

// CreateBranch creates a new branch, optionally from a starting point,
// optionally checking it out immediately.
func (d *Driver) CreateBranch(ctx context.Context, name, from string, checkout bool) error {
	if checkout {
		args := []string{"checkout", "-b", name}
		if from != "" {
			args = append(args, from)
		}
		_, _, err := d.run(ctx, args...)
		return err
	}
	args := []string{"branch", name}
	if from != "" {
		args = append(args, from)
	}
	_, _, err := d.run(ctx, args...)
	return err
}

// DeleteBranch removes a local branch.
func (d *Driver) DeleteBranch(ctx context.Context, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, _, err := d.run(ctx, "branch", flag, name)
	return err
}

// ListBranches returns local branch names.
func (d *Driver) ListBranches(ctx context.Context) ([]string, error) {
	out, _, err := d.run(ctx, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// Fetch updates remote-tracking refs using the caller's access token.
func (d *Driver) Fetch(ctx context.Context, token string) error {
	return d.withAuthenticatedRemote(ctx, token, func(ctx context.Context) error {
		_, _, err := d.run(ctx, "fetch", "origin")
		return err
	})
}

// ResetMode is one of the three modes spec §4.3 names.
type ResetMode string

const (
	ResetSoft  ResetMode = "soft"
	ResetMixed ResetMode = "mixed"
	ResetHard  ResetMode = "hard"
)

// Reset moves HEAD (and optionally index/working tree) to ref.
func (d *Driver) Reset(ctx context.Context, mode ResetMode, ref string) error {
	if mode != ResetSoft && mode != ResetMixed && mode != ResetHard {
		return fmt.Errorf("gitdriver: invalid reset mode %q", mode)
	}
	_, _, err := d.run(ctx, "reset", "--"+string(mode), ref)
	return err
}
