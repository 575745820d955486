// Package errortranslator is the single place raw Git CLI and GitHub
// HTTP errors become user-facing remediation records (spec §4.5). It
// is a pure function from any raw error value to an ITranslatedError;
// no other layer in this system formats an error for a human.
package errortranslator

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Severity is the user-facing urgency of a translated error.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Category classifies a translated error for routing and recoverability
// checks.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNetwork        Category = "network"
	CategoryGitOperation   Category = "git-operation"
	CategoryMergeConflict  Category = "merge-conflict"
	CategoryPushProtection Category = "push-protection"
	CategoryRateLimit      Category = "rate-limit"
	CategoryNotFound       Category = "not-found"
	CategoryValidation     Category = "validation"
	CategoryUnknown        Category = "unknown"
)

// TranslatedError is the ITranslatedError record of spec §4.5.
type TranslatedError struct {
	OriginalError    string
	UserMessage      string
	TechnicalDetails string
	SuggestedActions []string
	Severity         Severity
	Category         Category
	Code             string
	AffectedFiles    []string
}

// IsRecoverable reports whether the category names one of the
// recoverable kinds spec §4.5 lists as its convenience predicate.
func (t *TranslatedError) IsRecoverable() bool {
	switch t.Category {
	case CategoryAuthentication, CategoryNetwork, CategoryRateLimit, CategoryMergeConflict:
		return true
	default:
		return false
	}
}

// IsCategory is the second convenience predicate spec §4.5 names.
func (t *TranslatedError) IsCategory(c Category) bool {
	return t.Category == c
}

// PrimaryAction returns the first suggested action, or "" if none.
func (t *TranslatedError) PrimaryAction() string {
	if len(t.SuggestedActions) == 0 {
		return ""
	}
	return t.SuggestedActions[0]
}

// HTTPError is implemented by any raw error value that carries an HTTP
// status code, letting step 1 of the resolution order (spec §4.5) run
// ahead of the regex catalog without this package depending on any
// concrete HTTP client type.
type HTTPError interface {
	error
	StatusCode() int
}

var knownHTTPStatuses = map[int]struct {
	category Category
	severity Severity
	message  string
	actions  []string
}{
	http.StatusBadRequest:          {CategoryValidation, SeverityError, "That request wasn't valid.", []string{"Check the values you provided and try again."}},
	http.StatusUnauthorized:        {CategoryAuthentication, SeverityError, "Your GitHub session has expired.", []string{"Run authenticate_github to sign in again."}},
	http.StatusForbidden:           {CategoryAuthorization, SeverityError, "GitHub denied this request.", []string{"Check that your account has access to this repository."}},
	http.StatusNotFound:            {CategoryNotFound, SeverityError, "GitHub couldn't find that.", []string{"Double check the repository or resource name."}},
	http.StatusConflict:            {CategoryGitOperation, SeverityWarning, "That conflicts with the current state on GitHub.", []string{"Pull the latest changes and try again."}},
	http.StatusUnprocessableEntity: {CategoryValidation, SeverityError, "GitHub rejected this request as invalid.", []string{"Check the request parameters and try again."}},
	http.StatusTooManyRequests:     {CategoryRateLimit, SeverityWarning, "GitHub is rate-limiting requests right now.", []string{"Wait a bit and try again."}},
	http.StatusInternalServerError: {CategoryUnknown, SeverityError, "GitHub had an internal error.", []string{"Try again in a moment."}},
	http.StatusBadGateway:          {CategoryNetwork, SeverityError, "GitHub is temporarily unreachable.", []string{"Try again in a moment."}},
	http.StatusServiceUnavailable:  {CategoryNetwork, SeverityWarning, "GitHub is temporarily unavailable.", []string{"Wait and retry — this is usually brief."}},
}

// patternRule is one entry in the ordered regex catalog (spec §9's
// design note: "a data-driven catalog, not a class hierarchy").
// Catalog ordering is load-bearing — specific patterns before general
// ones, timeout before the broader network pattern.
type patternRule struct {
	pattern  *regexp.Regexp
	category Category
	severity Severity
	code     string
	message  func(raw string, m []string) string
	actions  []string
	extract  func(raw string) []string // affected files, when applicable
}

var reCommitsBehind = regexp.MustCompile(`(\d+)\s+commit[s]?\s+behind`)
var reConflictContent = regexp.MustCompile(`CONFLICT \(content\): Merge conflict in (\S+)`)
var reAutoMergeFailed = regexp.MustCompile(`(?i)automatic merge failed.*?for (\S+)`)
var rePathspec = regexp.MustCompile(`pathspec '([^']+)' did not match`)
var reCannotLockRef = regexp.MustCompile(`cannot lock ref 'refs/heads/([^']+)'`)
var reBranchExists = regexp.MustCompile(`branch (?:named )?'([^']+)' already exists`)
var reBranchNotMerged = regexp.MustCompile(`branch '([^']+)' is not fully merged`)

func conflictFiles(raw string) []string {
	seen := map[string]bool{}
	var files []string
	add := func(f string) {
		if f != "" && !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	for _, m := range reConflictContent.FindAllStringSubmatch(raw, -1) {
		add(m[1])
	}
	for _, m := range reAutoMergeFailed.FindAllStringSubmatch(raw, -1) {
		add(m[1])
	}
	return files
}

// catalog is the ordered pattern list of spec §4.5 step 2: specific
// patterns before general ones. Order is load-bearing.
var catalog = []patternRule{
	{
		pattern:  regexp.MustCompile(`(?i)gh009|secrets?\s+detected|push\s.*declined.*secret`),
		category: CategoryPushProtection,
		severity: SeverityCritical,
		code:     "GH009",
		message:  func(string, []string) string { return "GitHub blocked this push because it detected a secret." },
		actions:  []string{"Remove the secret from your changes.", "Retry push_for_review once it's gone."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)gh013|repository rule violations`),
		category: CategoryPushProtection,
		severity: SeverityCritical,
		code:     "GH013",
		message:  func(string, []string) string { return "GitHub blocked this push because it violates a repository rule." },
		actions:  []string{"Review the repository's rulesets.", "Retry push_for_review once resolved."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)authentication failed`),
		category: CategoryAuthentication,
		severity: SeverityError,
		message:  func(string, []string) string { return "Git couldn't authenticate with GitHub." },
		actions:  []string{"Run authenticate_github to sign in again."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)permission denied \(publickey\)`),
		category: CategoryAuthentication,
		severity: SeverityError,
		message:  func(string, []string) string { return "Git couldn't authenticate with GitHub (SSH key rejected)." },
		actions:  []string{"Run authenticate_github to sign in again."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)401|bad credentials|invalid token`),
		category: CategoryAuthentication,
		severity: SeverityError,
		message:  func(string, []string) string { return "Your GitHub credentials were rejected." },
		actions:  []string{"Run authenticate_github to sign in again."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)403|permission denied|forbidden`),
		category: CategoryAuthorization,
		severity: SeverityError,
		message:  func(string, []string) string { return "You don't have permission to do that." },
		actions:  []string{"Check your access to this repository."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)rejected.*non-fast-forward|behind|fetch first`),
		category: CategoryGitOperation,
		severity: SeverityWarning,
		message: func(raw string, _ []string) string {
			if m := reCommitsBehind.FindStringSubmatch(raw); m != nil {
				return fmt.Sprintf("Your branch is %s commit(s) behind the remote.", m[1])
			}
			return "Your branch is behind the remote and the push was rejected."
		},
		actions: []string{"Pull the latest changes, then push again."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)rejected|push failed`),
		category: CategoryGitOperation,
		severity: SeverityError,
		message:  func(string, []string) string { return "GitHub rejected the push." },
		actions:  []string{"Review the error and try again."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)CONFLICT \(content\)|automatic merge failed`),
		category: CategoryMergeConflict,
		severity: SeverityError,
		message:  func(string, []string) string { return "There's a merge conflict to resolve." },
		actions:  []string{"Resolve the conflicting files.", "Stage and commit the resolution."},
		extract:  conflictFiles,
	},
	{
		pattern:  regexp.MustCompile(`(?i)your local changes.*would be overwritten`),
		category: CategoryMergeConflict,
		severity: SeverityWarning,
		message:  func(string, []string) string { return "Your local changes would be overwritten by this operation." },
		actions:  []string{"Commit or stash your changes first."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)not a git repository`),
		category: CategoryGitOperation,
		severity: SeverityError,
		message:  func(string, []string) string { return "That path isn't a git repository." },
		actions:  []string{"Clone the repository first with git_clone."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)'origin' does not appear to be a git repository`),
		category: CategoryNetwork,
		severity: SeverityError,
		message:  func(string, []string) string { return "The remote repository couldn't be reached." },
		actions:  []string{"Check the repository URL and your network connection."},
	},
	{
		pattern: rePathspec,
		category: CategoryGitOperation,
		severity: SeverityError,
		message: func(_ string, m []string) string {
			return fmt.Sprintf("Git couldn't find '%s'.", matchGroup(m, 1))
		},
		actions: []string{"Check the branch or file name and try again."},
	},
	{
		pattern: reCannotLockRef,
		category: CategoryGitOperation,
		severity: SeverityError,
		message: func(_ string, m []string) string {
			return fmt.Sprintf("Git couldn't lock the ref for branch '%s'.", matchGroup(m, 1))
		},
		actions: []string{"Try again in a moment."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)timed? ?out|timeout`),
		category: CategoryNetwork,
		severity: SeverityError,
		message:  func(string, []string) string { return "The operation timed out." },
		actions:  []string{"Check your network connection and try again."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)could not resolve host|unable to access|network is unreachable`),
		category: CategoryNetwork,
		severity: SeverityError,
		message:  func(string, []string) string { return "Couldn't reach GitHub over the network." },
		actions:  []string{"Check your network connection and try again."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)ssl certificate problem`),
		category: CategoryNetwork,
		severity: SeverityError,
		message:  func(string, []string) string { return "There's a problem with GitHub's SSL certificate." },
		actions:  []string{"Check your system clock and CA certificates."},
	},
	{
		pattern:  regexp.MustCompile(`(?i)nothing to commit|working tree clean`),
		category: CategoryGitOperation,
		severity: SeverityInfo,
		message:  func(string, []string) string { return "There's nothing to save — your working tree is clean." },
		actions:  []string{},
	},
	{
		pattern:  regexp.MustCompile(`(?i)already up to date`),
		category: CategoryGitOperation,
		severity: SeverityInfo,
		message:  func(string, []string) string { return "Already up to date." },
		actions:  []string{},
	},
	{
		pattern: reBranchExists,
		category: CategoryGitOperation,
		severity: SeverityWarning,
		message: func(_ string, m []string) string {
			return fmt.Sprintf("Branch '%s' already exists.", matchGroup(m, 1))
		},
		actions: []string{"Pick a different branch name, or check out the existing one."},
	},
	{
		pattern: reBranchNotMerged,
		category: CategoryGitOperation,
		severity: SeverityWarning,
		message: func(_ string, m []string) string {
			return fmt.Sprintf("Branch '%s' is not fully merged.", matchGroup(m, 1))
		},
		actions: []string{"Merge it first, or force-delete if you're sure."},
	},
}

func matchGroup(m []string, i int) string {
	if i < len(m) {
		return m[i]
	}
	return ""
}

// Translate implements spec §4.5's resolution order: HTTP status table
// first (when the raw error carries one), then the ordered regex
// catalog, then a generic fallback.
func Translate(raw error) *TranslatedError {
	if raw == nil {
		return nil
	}
	text := raw.Error()

	if httpErr, ok := raw.(HTTPError); ok {
		if entry, found := knownHTTPStatuses[httpErr.StatusCode()]; found {
			translated := &TranslatedError{
				OriginalError:    text,
				UserMessage:      entry.message,
				TechnicalDetails: text,
				SuggestedActions: append([]string(nil), entry.actions...),
				Severity:         entry.severity,
				Category:         entry.category,
				Code:             strconv.Itoa(httpErr.StatusCode()),
			}
			enrichFromRemoteMessage(translated, text)
			return translated
		}
	}

	for _, rule := range catalog {
		if !rule.pattern.MatchString(text) {
			continue
		}
		m := rule.pattern.FindStringSubmatch(text)
		translated := &TranslatedError{
			OriginalError:    text,
			UserMessage:      rule.message(text, m),
			TechnicalDetails: text,
			SuggestedActions: append([]string(nil), rule.actions...),
			Severity:         rule.severity,
			Category:         rule.category,
			Code:             rule.code,
		}
		if rule.extract != nil {
			translated.AffectedFiles = rule.extract(text)
		}
		return translated
	}

	return &TranslatedError{
		OriginalError:    text,
		UserMessage:      "Something went wrong. Try again or ask for help.",
		TechnicalDetails: text,
		SuggestedActions: []string{"Try again.", "Ask for help if this keeps happening."},
		Severity:         SeverityError,
		Category:         CategoryUnknown,
	}
}

// enrichFromRemoteMessage implements step 1's enrichment clause: scan
// the remote message for rate-limit/secret substrings and override
// category, message, and actions when found.
func enrichFromRemoteMessage(t *TranslatedError, text string) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "secondary rate limit"):
		t.Category = CategoryRateLimit
		t.Severity = SeverityWarning
		t.UserMessage = "GitHub's secondary rate limit kicked in."
		t.SuggestedActions = []string{"Wait a bit and retry."}
	case strings.Contains(lower, "rate limit"):
		t.Category = CategoryRateLimit
		t.Severity = SeverityWarning
		t.UserMessage = "You've hit GitHub's rate limit."
		t.SuggestedActions = []string{"Wait a bit and retry."}
	case strings.Contains(lower, "push protection") || strings.Contains(lower, "secret"):
		t.Category = CategoryPushProtection
		t.Severity = SeverityCritical
		t.UserMessage = "GitHub's push protection flagged this request."
		t.SuggestedActions = []string{"Remove the flagged secret and try again."}
	}
}
