// Package ugc scores discovered third-party posts on five factors and maps
// the total onto the high/moderate/low tier ladder.
package ugc

import (
	"strings"
	"unicode/utf8"

	"github.com/socialops/oversight-agent/internal/domain"
)

// Factor budgets. They sum to 100.
const (
	engagementPoints     = 30
	mediaTypePoints      = 25
	captionQualityPoints = 10
	brandMentionPoints   = 15
	productKeywordPoints = 15
)

// Tier thresholds.
const (
	highThreshold     = 70
	moderateThreshold = 41
)

// Candidate is one discovered post before scoring.
type Candidate struct {
	MediaID        string
	AuthorUsername string
	MediaType      string
	Caption        string
	LikeCount      int
	CommentsCount  int
}

// Score computes the five-factor quality score and its breakdown.
// brandHandles are the account usernames whose mention earns the brand
// factor; productKeywords come from configuration.
func Score(c Candidate, brandHandles, productKeywords []string) (int, map[string]int) {
	factors := map[string]int{
		"engagement":       engagement(c),
		"media_type":       mediaType(c.MediaType),
		"caption_quality":  captionQuality(c.Caption),
		"brand_mention":    brandMention(c.Caption, brandHandles),
		"product_keywords": productMatch(c.Caption, productKeywords),
	}
	total := 0
	for _, v := range factors {
		total += v
	}
	return total, factors
}

// TierFor maps a score onto a tier. Thresholds ≤ 0 take the defaults.
func TierFor(score, high, moderate int) domain.UGCTier {
	if high <= 0 {
		high = highThreshold
	}
	if moderate <= 0 {
		moderate = moderateThreshold
	}
	switch {
	case score >= high:
		return domain.TierHigh
	case score >= moderate:
		return domain.TierModerate
	default:
		return domain.TierLow
	}
}

// engagement ramps with combined likes and comments, saturating at 1000.
func engagement(c Candidate) int {
	total := c.LikeCount + c.CommentsCount*3 // comments weigh more than likes
	switch {
	case total >= 1000:
		return engagementPoints
	case total <= 0:
		return 0
	default:
		return engagementPoints * total / 1000
	}
}

// mediaType prefers video and carousel content over single images.
func mediaType(t string) int {
	switch strings.ToUpper(t) {
	case "VIDEO", "REELS":
		return mediaTypePoints
	case "CAROUSEL_ALBUM":
		return mediaTypePoints * 4 / 5
	case "IMAGE":
		return mediaTypePoints * 3 / 5
	default:
		return 0
	}
}

// captionQuality is a length heuristic: substantial captions earn the full
// budget, bare or absent captions earn nothing.
func captionQuality(caption string) int {
	n := utf8.RuneCountInString(strings.TrimSpace(caption))
	switch {
	case n >= 100:
		return captionQualityPoints
	case n >= 30:
		return captionQualityPoints / 2
	default:
		return 0
	}
}

func brandMention(caption string, handles []string) int {
	lower := strings.ToLower(caption)
	for _, h := range handles {
		if h == "" {
			continue
		}
		if strings.Contains(lower, "@"+strings.ToLower(h)) {
			return brandMentionPoints
		}
	}
	return 0
}

func productMatch(caption string, keywords []string) int {
	lower := strings.ToLower(caption)
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			return productKeywordPoints
		}
	}
	return 0
}
