// Package attribution holds the deterministic half of sales attribution:
// signal detection on incoming orders, journey reconstruction from engagement
// history, and the four multi-touch scoring models. Everything here is pure;
// the order webhook pipeline supplies the data and persists the result.
package attribution

import (
	"math"
	"strings"
	"time"

	"github.com/socialops/oversight-agent/internal/domain"
)

// Strategy labels returned by Classify.
const (
	StrategyHighSignal   = "high_signal"
	StrategyMediumSignal = "medium_signal"
	StrategyLowSignal    = "low_signal"
)

// Order is the normalized order-created payload the detector inspects.
type Order struct {
	OrderID       string
	AccountID     string
	Value         float64
	CustomerEmail string
	UTMSource     string
	UTMMedium     string
	DiscountCodes []string
	Referrer      string
	LandingPage   string
}

// DetectSignals scans an order for attribution cues. Strengths: an explicit
// instagram UTM or a tracked discount code is high; a referrer or landing
// page pointing at instagram is medium; prior engagement history is medium;
// a returning customer alone is low.
func DetectSignals(o Order, history map[string]any, touchpoints []domain.Touchpoint) []domain.Signal {
	var out []domain.Signal

	if strings.EqualFold(o.UTMSource, "instagram") || strings.EqualFold(o.UTMSource, "ig") {
		out = append(out, domain.Signal{
			Type: "utm", Source: o.UTMSource, Strength: "high",
			Details: map[string]any{"utm_medium": o.UTMMedium},
		})
	}
	for _, code := range o.DiscountCodes {
		upper := strings.ToUpper(code)
		if strings.HasPrefix(upper, "IG") || strings.HasPrefix(upper, "INSTA") {
			out = append(out, domain.Signal{
				Type: "discount_code", Source: code, Strength: "high",
			})
		}
	}
	if containsInstagram(o.Referrer) || containsInstagram(o.LandingPage) {
		out = append(out, domain.Signal{Type: "referrer", Source: o.Referrer, Strength: "medium"})
	}
	if len(touchpoints) > 0 {
		out = append(out, domain.Signal{
			Type: "engagement_history", Strength: "medium",
			Details: map[string]any{"touchpoint_count": len(touchpoints)},
		})
	}
	if n, ok := history["order_count"].(int); ok && n > 0 {
		out = append(out, domain.Signal{
			Type: "returning_customer", Strength: "low",
			Details: map[string]any{"order_count": n},
		})
	}
	return out
}

func containsInstagram(s string) bool {
	return strings.Contains(strings.ToLower(s), "instagram")
}

// Classify buckets an order by its strongest signal.
func Classify(signals []domain.Signal) string {
	strongest := ""
	for _, s := range signals {
		switch s.Strength {
		case "high":
			return StrategyHighSignal
		case "medium":
			strongest = "medium"
		case "low":
			if strongest == "" {
				strongest = "low"
			}
		}
	}
	if strongest == "medium" {
		return StrategyMediumSignal
	}
	return StrategyLowSignal
}

// journeyHalfLife controls the exponential time decay on touchpoint weight.
const journeyHalfLife = 7 * 24 * time.Hour

// journeyWindow bounds how far back engagement events count.
const journeyWindow = 30 * 24 * time.Hour

// JourneyWindowStart returns the earliest engagement timestamp that still
// participates in a journey for an order placed at orderAt.
func JourneyWindowStart(orderAt time.Time) time.Time {
	return orderAt.Add(-journeyWindow)
}

// BuildJourney stamps each raw engagement with its age and decayed weight,
// oldest first. Events after the order are dropped.
func BuildJourney(events []domain.Touchpoint, orderAt time.Time) []domain.Touchpoint {
	out := make([]domain.Touchpoint, 0, len(events))
	for _, e := range events {
		if e.OccurredAt.After(orderAt) {
			continue
		}
		age := orderAt.Sub(e.OccurredAt)
		e.DaysBefore = age.Hours() / 24
		e.Weight = decay(age)
		out = append(out, e)
	}
	return out
}

func decay(age time.Duration) float64 {
	halfLives := float64(age) / float64(journeyHalfLife)
	return math.Exp2(-halfLives)
}
