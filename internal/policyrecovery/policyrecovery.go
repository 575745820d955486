// Package policyrecovery detects and remediates remote rejections
// caused by GitHub's push-protection service (spec §4.4). It never
// scans local file contents — the remote service is the authoritative
// secret scanner, and this package only interprets its responses.
package policyrecovery

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ViolationType classifies a push-protection rejection.
type ViolationType string

const (
	ViolationSecretDetected ViolationType = "secret-detected"
	ViolationPolicy         ViolationType = "policy-violation"
	ViolationUnknown        ViolationType = "unknown"
)

var (
	reSecretDetected = regexp.MustCompile(`(?i)gh009|secrets?\s+detected|push\s.*declined.*secret`)
	rePolicy         = regexp.MustCompile(`(?i)gh013|repository rule violations`)
)

// IsPolicyViolation reports whether errText names a push-protection
// rejection of either kind.
func IsPolicyViolation(errText string) bool {
	return reSecretDetected.MatchString(errText) || rePolicy.MatchString(errText)
}

// Violation is a single flagged secret or rule hit.
type Violation struct {
	File       string
	Line       int
	SecretType string
	RawMatch   string
}

// ViolationRecord is the parsed result of a push-protection rejection.
type ViolationRecord struct {
	Type       ViolationType
	Violations []Violation
	Message    string
	NextSteps  []string
}

var (
	rePathLine       = regexp.MustCompile(`([\w./-]+\.\w+):(\d+)`)
	reInFile         = regexp.MustCompile(`(?i)in file\s+([\w./-]+\.\w+)`)
	reDetectedInFile = regexp.MustCompile(`(?i)detected in\s+([\w./-]+\.\w+)(?:\s+line\s+(\d+))?`)
	reAnyKnownFile   = regexp.MustCompile(`[\w./-]+\.(?:env|pem|key|json|yaml|yml|go|js|ts|py|rb|java|tf|sh|cfg|ini|txt)`)
)

// secretTypeKeywords maps a case-insensitive keyword to the canonical
// label reported back to the caller.
var secretTypeKeywords = []struct {
	keyword string
	label   string
}{
	{"aws", "AWS Access Key"},
	{"github", "GitHub Token"},
	{"gh_", "GitHub Token"},
	{"stripe", "Stripe Key"},
	{"google api", "Google API Key"},
	{"gcp", "Google API Key"},
	{"azure", "Azure Key"},
	{"private key", "Private Key"},
	{"-----begin", "Private Key"},
	{"postgres://", "Database Connection String"},
	{"mysql://", "Database Connection String"},
	{"connection string", "Database Connection String"},
	{"api key", "Generic API Key"},
	{"api_key", "Generic API Key"},
	{"token", "Generic API Key"},
}

func classifySecretType(errText, path string) string {
	haystack := strings.ToLower(errText + " " + path)
	for _, kw := range secretTypeKeywords {
		if strings.Contains(haystack, kw.keyword) {
			return kw.label
		}
	}
	return "unknown"
}

// ParseViolation extracts a structured record from a raw rejection
// error string.
func ParseViolation(errText string) ViolationRecord {
	record := ViolationRecord{Type: ViolationUnknown}
	switch {
	case reSecretDetected.MatchString(errText):
		record.Type = ViolationSecretDetected
	case rePolicy.MatchString(errText):
		record.Type = ViolationPolicy
	}

	seen := map[string]bool{}
	addViolation := func(file string, line int, raw string) {
		key := fmt.Sprintf("%s:%d", file, line)
		if seen[key] {
			return
		}
		seen[key] = true
		record.Violations = append(record.Violations, Violation{
			File:       file,
			Line:       line,
			SecretType: classifySecretType(errText, file),
			RawMatch:   raw,
		})
	}

	for _, m := range rePathLine.FindAllStringSubmatch(errText, -1) {
		var line int
		fmt.Sscanf(m[2], "%d", &line)
		addViolation(m[1], line, m[0])
	}
	for _, m := range reInFile.FindAllStringSubmatch(errText, -1) {
		addViolation(m[1], 0, m[0])
	}
	for _, m := range reDetectedInFile.FindAllStringSubmatch(errText, -1) {
		var line int
		if m[2] != "" {
			fmt.Sscanf(m[2], "%d", &line)
		}
		addViolation(m[1], line, m[0])
	}
	if len(record.Violations) == 0 {
		for _, m := range reAnyKnownFile.FindAllString(errText, -1) {
			addViolation(m, 0, m)
		}
	}

	switch record.Type {
	case ViolationSecretDetected:
		record.Message = "GitHub blocked this push because it detected a secret in your changes."
	case ViolationPolicy:
		record.Message = "GitHub blocked this push because it violates a repository rule."
	default:
		record.Message = "GitHub rejected this push for a policy reason we could not classify."
	}
	record.NextSteps = buildNextSteps(record)
	return record
}

func buildNextSteps(record ViolationRecord) []string {
	if len(record.Violations) == 0 {
		return []string{"Review the rejected push in GitHub's web UI for details.", "tell me when ready"}
	}
	var steps []string
	for _, v := range record.Violations {
		loc := v.File
		if v.Line > 0 {
			loc = fmt.Sprintf("%s at line %d", v.File, v.Line)
		}
		steps = append(steps, fmt.Sprintf("open %s", loc))
		steps = append(steps, fmt.Sprintf("remove the %s", v.SecretType))
	}
	steps = append(steps, "save", "tell me when ready")
	return steps
}

// SanitizeResult is the outcome of SanitizeHistory.
type SanitizeResult struct {
	Success bool
	Method  string
	Error   error
}

// GitDriver is the subset of internal/gitdriver's behaviour this
// package needs, kept narrow so policyrecovery never imports the
// concrete driver type.
type GitDriver interface {
	ResetSoftOneCommit(ctx context.Context) error
	PushForceWithLease(ctx context.Context, token, branch string) (string, error)
}

// SanitizeHistory performs a soft reset of HEAD by one commit,
// preserving working-tree content and staged state while dropping the
// offending commit. Idempotency: callers MUST invoke this exactly once
// per recovery — a second call moves further back in history.
func SanitizeHistory(ctx context.Context, driver GitDriver) SanitizeResult {
	if err := driver.ResetSoftOneCommit(ctx); err != nil {
		return SanitizeResult{Success: false, Method: "soft-reset", Error: err}
	}
	return SanitizeResult{Success: true, Method: "soft-reset"}
}

// RetryResult is the outcome of RetryPushSafely.
type RetryResult struct {
	Success          bool
	SecretStillFound bool
	Error            error
}

// RetryPushSafely pushes with force-with-lease, never plain force. If
// GitHub rejects again on push-protection grounds, it reports a clean
// "secret still present" failure rather than an opaque error; any
// other error is propagated as-is.
func RetryPushSafely(ctx context.Context, driver GitDriver, token, branch string) RetryResult {
	out, err := driver.PushForceWithLease(ctx, token, branch)
	if err == nil {
		return RetryResult{Success: true}
	}
	if IsPolicyViolation(out) || IsPolicyViolation(err.Error()) {
		return RetryResult{Success: false, SecretStillFound: true}
	}
	return RetryResult{Success: false, Error: err}
}

// RejectionHandling is the composed result of HandlePushRejection.
type RejectionHandling struct {
	Violation ViolationRecord
	Sanitize  SanitizeResult
	NextSteps []string
}

// HandlePushRejection parses the rejection, sanitizes history, and
// composes a per-violation list of concrete next steps. It does not
// retry the push itself; callers invoke RetryPushSafely once the user
// confirms the secret has been removed.
func HandlePushRejection(ctx context.Context, driver GitDriver, errText string) RejectionHandling {
	violation := ParseViolation(errText)
	sanitize := SanitizeHistory(ctx, driver)
	steps := append([]string(nil), violation.NextSteps...)
	if sanitize.Success {
		steps = append(steps, "Try push_for_review again.")
	}
	return RejectionHandling{
		Violation: violation,
		Sanitize:  sanitize,
		NextSteps: steps,
	}
}
