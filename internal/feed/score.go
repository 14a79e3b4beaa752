package feed

import (
	"strings"
	"time"

	"github.com/repairgrid/dispatch/pkg/models"
)

// Scoring weights. These are policy, tuned for display, not part of any wire
// contract; the invariants that matter are determinism and monotonicity:
// better zone priority, more skill overlap, a higher pricing tier, or a longer
// wait can only raise the score. Each component is bounded so the total stays
// within [0, 100].
const (
	zoneWeight     = 30.0
	affinityWeight = 30.0
	tierWeight     = 20.0
	waitingWeight  = 20.0

	// Waiting boost saturates after this long so ancient jobs do not pin the
	// top of every feed.
	maxWaitingBoost = 48 * time.Hour

	recommendedThreshold = 75.0
	goodFitThreshold     = 50.0
)

// Score rates one claimable job for one technician at a fixed instant.
// Deterministic: identical inputs always produce the identical score.
func Score(job *models.Job, tech *models.Technician, now time.Time) float64 {
	score := zoneScore(job.ServiceZone, tech.Zones) +
		affinityScore(job, tech.Skills) +
		tierScore(job.PricingTier) +
		waitingScore(job.ConfirmedAt, now)
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Label buckets a score for display.
func Label(score float64) string {
	switch {
	case score >= recommendedThreshold:
		return models.LabelRecommended
	case score >= goodFitThreshold:
		return models.LabelGoodFit
	default:
		return ""
	}
}

// zoneScore rewards jobs in the technician's preferred zones. Zones are listed
// most-preferred first; the first zone earns full weight and each later
// position earns proportionally less.
func zoneScore(jobZone string, zones []string) float64 {
	for i, z := range zones {
		if z == jobZone {
			return zoneWeight * float64(len(zones)-i) / float64(len(zones))
		}
	}
	return 0
}

// affinityScore measures overlap between the job's device/service descriptors
// and the technician's skill profile.
func affinityScore(job *models.Job, skills []string) float64 {
	tokens := descriptorTokens(job)
	if len(tokens) == 0 {
		return 0
	}

	skillSet := make(map[string]bool, len(skills))
	for _, s := range skills {
		skillSet[strings.ToLower(s)] = true
	}

	matched := 0
	for _, tok := range tokens {
		if skillSet[tok] {
			matched++
		}
	}
	return affinityWeight * float64(matched) / float64(len(tokens))
}

func tierScore(tier string) float64 {
	switch tier {
	case models.TierPremium:
		return tierWeight
	case models.TierStandard:
		return tierWeight * 0.6
	case models.TierEconomy:
		return tierWeight * 0.3
	default:
		return 0
	}
}

// waitingScore nudges older-confirmed jobs up so they do not starve behind a
// stream of fresh high scorers.
func waitingScore(confirmedAt *time.Time, now time.Time) float64 {
	if confirmedAt == nil {
		return 0
	}
	waited := now.Sub(*confirmedAt)
	if waited <= 0 {
		return 0
	}
	if waited > maxWaitingBoost {
		waited = maxWaitingBoost
	}
	return waitingWeight * float64(waited) / float64(maxWaitingBoost)
}

func descriptorTokens(job *models.Job) []string {
	fields := strings.Fields(strings.ToLower(job.Device + " " + job.Service))
	seen := make(map[string]bool, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			tokens = append(tokens, f)
		}
	}
	return tokens
}
