package content

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Hard caps enforced regardless of the model's quality verdict.
const (
	MaxCaptionLength = 2200
	MaxHashtagCount  = 10
)

// CaptionCheck is the hard-rule verdict on a generated caption.
type CaptionCheck struct {
	OK     bool
	Issues []string
}

// CheckCaption applies the deterministic caption rules: hashtag count and
// caption length. Limits are parameterized so config overrides apply; zero
// values take the platform defaults.
func CheckCaption(caption string, hashtags []string, maxLength, maxHashtags int) CaptionCheck {
	if maxLength <= 0 {
		maxLength = MaxCaptionLength
	}
	if maxHashtags <= 0 {
		maxHashtags = MaxHashtagCount
	}

	var issues []string
	count := len(hashtags)
	if count == 0 {
		count = countHashtags(caption)
	}
	if count > maxHashtags {
		issues = append(issues, fmt.Sprintf("Too many hashtags (%d, max %d)", count, maxHashtags))
	}
	if n := utf8.RuneCountInString(caption); n > maxLength {
		issues = append(issues, fmt.Sprintf("Caption too long (%d chars, max %d)", n, maxLength))
	}
	return CaptionCheck{OK: len(issues) == 0, Issues: issues}
}

func countHashtags(caption string) int {
	count := 0
	for _, field := range strings.Fields(caption) {
		if strings.HasPrefix(field, "#") && len(field) > 1 {
			count++
		}
	}
	return count
}
