// Package repoconfig parses the optional `.gitflow-mcp.yaml` file a
// cloned repository may carry at its root, overriding the defaults
// push_for_review otherwise falls back to.
package repoconfig

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the override file's expected name at a repository root.
const FileName = ".gitflow-mcp.yaml"

// Overrides holds the per-repository defaults push_for_review consults
// before falling back to its own hardcoded defaults.
type Overrides struct {
	BaseBranch      string `yaml:"base_branch"`
	PRTitleTemplate string `yaml:"pr_title_template"`
}

// Default returns the zero-override set: push_for_review's own
// fallbacks apply unchanged.
func Default() Overrides {
	return Overrides{}
}

// Parse reads a `.gitflow-mcp.yaml` document. An empty or all-comment
// document parses to Default().
func Parse(b []byte) (Overrides, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Overrides{}, fmt.Errorf("repoconfig: parse %s: %w", FileName, err)
	}
	cfg.BaseBranch = strings.TrimSpace(cfg.BaseBranch)
	cfg.PRTitleTemplate = strings.TrimSpace(cfg.PRTitleTemplate)
	return cfg, nil
}

// RenderTitle substitutes {branch} and {task} into a title template.
func RenderTitle(tpl, branch, task string) string {
	s := strings.ReplaceAll(tpl, "{branch}", branch)
	s = strings.ReplaceAll(s, "{task}", task)
	return s
}
