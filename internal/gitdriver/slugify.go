package gitdriver

import (
	"regexp"
	"strings"
)

// ProtectedBranches is the case-insensitive set of branches that
// trigger the smart-commit feature-branch rule (spec §4.3, GLOSSARY).
var ProtectedBranches = map[string]bool{
	"main":        true,
	"master":      true,
	"develop":     true,
	"development": true,
}

// IsProtectedBranch reports whether name is protected, case-insensitive.
func IsProtectedBranch(name string) bool {
	return ProtectedBranches[strings.ToLower(name)]
}

var (
	reNonSlugChars   = regexp.MustCompile(`[^a-z0-9 -]`)
	reRepeatedSpace  = regexp.MustCompile(`\s+`)
	reRepeatedHyphen = regexp.MustCompile(`-+`)
)

// Slugify derives a feature-branch name from a commit message per the
// deterministic rule in spec §4.3: lowercase, strip anything outside
// [a-z0-9 -], collapse whitespace, trim, spaces to hyphens, truncate
// to 50 chars, then prefix with feature/ unless the slug already
// begins with feature-/fix-/hotfix- (in which case the first hyphen
// becomes a slash). Runs of hyphens left behind by stripped
// punctuation (e.g. " - ") collapse to one, matching the worked
// example in spec §8 (S1).
func Slugify(message string) string {
	s := strings.ToLower(message)
	s = reNonSlugChars.ReplaceAllString(s, "")
	s = reRepeatedSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = reRepeatedHyphen.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > 50 {
		s = s[:50]
	}
	s = strings.Trim(s, "-")

	for _, prefix := range []string{"feature-", "fix-", "hotfix-"} {
		if strings.HasPrefix(s, prefix) {
			return strings.Replace(s, "-", "/", 1)
		}
	}
	return "feature/" + s
}
