package dispatcher

import "github.com/gitflow-mcp/gitflow-mcp/internal/models"

// TierLimits is the product-policy envelope for one subscription tier
// (spec §4.8, §9). Zero in any counted field means unlimited.
type TierLimits struct {
	CommitsPerMonth int
	PRsPerMonth     int
	MaxRepos        int
	TeamFeatures    bool
}

// Unlimited reports whether n is the zero-sentinel meaning "no cap".
func Unlimited(n int) bool {
	return n == 0
}

// tierLimits is Go-level product policy, not environment-specific
// config, the way the teacher keeps DefaultRepoConfig() as code rather
// than env vars.
var tierLimits = map[models.Tier]TierLimits{
	models.TierFree:       {CommitsPerMonth: 50, PRsPerMonth: 5, MaxRepos: 3, TeamFeatures: false},
	models.TierPro:        {CommitsPerMonth: 500, PRsPerMonth: 50, MaxRepos: 25, TeamFeatures: true},
	models.TierEnterprise: {CommitsPerMonth: 0, PRsPerMonth: 0, MaxRepos: 0, TeamFeatures: true},
}

// LimitsFor returns the tier's limits, defaulting to Free for any
// unrecognized or empty tier value.
func LimitsFor(tier models.Tier) TierLimits {
	if limits, ok := tierLimits[tier]; ok {
		return limits
	}
	return tierLimits[models.TierFree]
}
