// Package content implements the deterministic half of the content scheduler:
// four-factor asset scoring with weighted-random selection, and the hard
// rules applied to generated captions.
package content

import (
	"math/rand"
	"sort"
	"time"

	"github.com/socialops/oversight-agent/internal/domain"
)

// Factor weights. They sum to 100 so a score reads as a percentage.
const (
	freshnessPoints   = 35
	performancePoints = 25
	diversityPoints   = 25
	recencyPoints     = 15
)

// topShare is the fraction of the ranked pool eligible for weighted-random
// selection.
const topShare = 0.30

// ScoredAsset pairs an asset with its factor breakdown.
type ScoredAsset struct {
	Asset   domain.Asset
	Score   float64
	Factors map[string]float64
}

// ScoreAssets ranks the eligible pool, best first.
func ScoreAssets(assets []domain.Asset, recentTags [][]string, now time.Time) []ScoredAsset {
	out := make([]ScoredAsset, 0, len(assets))
	for _, a := range assets {
		factors := map[string]float64{
			"freshness":   freshness(a, now),
			"performance": performance(a),
			"diversity":   diversity(a, recentTags),
			"recency":     uploadRecency(a, now),
		}
		score := 0.0
		for _, v := range factors {
			score += v
		}
		out = append(out, ScoredAsset{Asset: a, Score: score, Factors: factors})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Select picks one asset by weighted random draw from the top share of the
// ranked pool. rng is injected so tests are deterministic.
func Select(ranked []ScoredAsset, rng *rand.Rand) (ScoredAsset, bool) {
	if len(ranked) == 0 {
		return ScoredAsset{}, false
	}
	top := int(float64(len(ranked)) * topShare)
	if top < 1 {
		top = 1
	}
	pool := ranked[:top]

	total := 0.0
	for _, s := range pool {
		total += s.Score
	}
	if total <= 0 {
		return pool[rng.Intn(len(pool))], true
	}
	draw := rng.Float64() * total
	for _, s := range pool {
		draw -= s.Score
		if draw <= 0 {
			return s, true
		}
	}
	return pool[len(pool)-1], true
}

// freshness rewards assets that have rested since their last use: full points
// after 30 days, ramping from zero at 7 days. Never-posted assets score full.
func freshness(a domain.Asset, now time.Time) float64 {
	if a.LastPostedAt.IsZero() {
		return freshnessPoints
	}
	days := now.Sub(a.LastPostedAt).Hours() / 24
	switch {
	case days >= 30:
		return freshnessPoints
	case days <= 7:
		return 0
	default:
		return freshnessPoints * (days - 7) / 23
	}
}

// performance maps historical average engagement (0..0.10 typical) onto its
// point budget, saturating at a 10% engagement rate.
func performance(a domain.Asset) float64 {
	rate := a.AvgEngagement
	if rate <= 0 {
		return performancePoints * 0.4 // unproven assets get a neutral score
	}
	if rate >= 0.10 {
		return performancePoints
	}
	return performancePoints * rate / 0.10
}

// diversity rewards tag sets that overlap little with recent posts.
func diversity(a domain.Asset, recentTags [][]string) float64 {
	if len(recentTags) == 0 || len(a.Tags) == 0 {
		return diversityPoints
	}
	recent := map[string]struct{}{}
	for _, tags := range recentTags {
		for _, t := range tags {
			recent[t] = struct{}{}
		}
	}
	overlap := 0
	for _, t := range a.Tags {
		if _, ok := recent[t]; ok {
			overlap++
		}
	}
	share := float64(overlap) / float64(len(a.Tags))
	return diversityPoints * (1 - share)
}

// uploadRecency favors newer library additions, full points inside 7 days
// and zero beyond 90.
func uploadRecency(a domain.Asset, now time.Time) float64 {
	days := now.Sub(a.CreatedAt).Hours() / 24
	switch {
	case days <= 7:
		return recencyPoints
	case days >= 90:
		return 0
	default:
		return recencyPoints * (90 - days) / 83
	}
}
