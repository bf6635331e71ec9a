package ugc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/socialops/oversight-agent/internal/domain"
)

func TestScoreFullMarks(t *testing.T) {
	c := Candidate{
		MediaType: "VIDEO",
		Caption:   "Loving my new @acmebrand sneakers! " + strings.Repeat("Best purchase ever. ", 5),
		LikeCount: 700, CommentsCount: 100,
	}
	total, factors := Score(c, []string{"acmebrand"}, []string{"sneakers"})

	assert.Equal(t, 100, total)
	assert.Equal(t, 30, factors["engagement"])
	assert.Equal(t, 25, factors["media_type"])
	assert.Equal(t, 10, factors["caption_quality"])
	assert.Equal(t, 15, factors["brand_mention"])
	assert.Equal(t, 15, factors["product_keywords"])
}

func TestEngagementWeightsAndSaturation(t *testing.T) {
	// Comments count triple.
	_, f := Score(Candidate{LikeCount: 100, CommentsCount: 100}, nil, nil)
	assert.Equal(t, 12, f["engagement"]) // 30 * 400 / 1000

	_, f = Score(Candidate{LikeCount: 5000}, nil, nil)
	assert.Equal(t, 30, f["engagement"])

	_, f = Score(Candidate{}, nil, nil)
	assert.Equal(t, 0, f["engagement"])
}

func TestMediaTypeLadder(t *testing.T) {
	cases := map[string]int{
		"VIDEO":          25,
		"reels":          25,
		"CAROUSEL_ALBUM": 20,
		"IMAGE":          15,
		"STORY":          0,
		"":               0,
	}
	for mt, want := range cases {
		_, f := Score(Candidate{MediaType: mt}, nil, nil)
		assert.Equal(t, want, f["media_type"], mt)
	}
}

func TestCaptionQualityTiers(t *testing.T) {
	_, f := Score(Candidate{Caption: strings.Repeat("a", 100)}, nil, nil)
	assert.Equal(t, 10, f["caption_quality"])

	_, f = Score(Candidate{Caption: strings.Repeat("a", 30)}, nil, nil)
	assert.Equal(t, 5, f["caption_quality"])

	_, f = Score(Candidate{Caption: "nice"}, nil, nil)
	assert.Equal(t, 0, f["caption_quality"])

	// Whitespace padding does not count.
	_, f = Score(Candidate{Caption: "  ok  " + strings.Repeat(" ", 200)}, nil, nil)
	assert.Equal(t, 0, f["caption_quality"])
}

func TestBrandMentionRequiresAtPrefix(t *testing.T) {
	_, f := Score(Candidate{Caption: "shoutout to @AcmeBrand today"}, []string{"acmebrand"}, nil)
	assert.Equal(t, 15, f["brand_mention"])

	_, f = Score(Candidate{Caption: "acmebrand is great"}, []string{"acmebrand"}, nil)
	assert.Equal(t, 0, f["brand_mention"])

	_, f = Score(Candidate{Caption: "@acmebrand"}, []string{""}, nil)
	assert.Equal(t, 0, f["brand_mention"])
}

func TestProductKeywordsCaseInsensitive(t *testing.T) {
	_, f := Score(Candidate{Caption: "These SNEAKERS rock"}, nil, []string{"sneakers"})
	assert.Equal(t, 15, f["product_keywords"])

	_, f = Score(Candidate{Caption: "no match here"}, nil, []string{"sneakers"})
	assert.Equal(t, 0, f["product_keywords"])
}

func TestTierForThresholds(t *testing.T) {
	assert.Equal(t, domain.TierHigh, TierFor(70, 0, 0))
	assert.Equal(t, domain.TierModerate, TierFor(69, 0, 0))
	assert.Equal(t, domain.TierModerate, TierFor(41, 0, 0))
	assert.Equal(t, domain.TierLow, TierFor(40, 0, 0))

	// Config overrides replace the defaults.
	assert.Equal(t, domain.TierHigh, TierFor(50, 50, 20))
	assert.Equal(t, domain.TierLow, TierFor(19, 50, 20))
}
