package attribution

import (
	"github.com/socialops/oversight-agent/internal/domain"
)

// Per-strength contributions to the signal base, capped at signalBaseCap.
const (
	signalHighPoints   = 30
	signalMediumPoints = 15
	signalLowPoints    = 5
	signalBaseCap      = 60

	// journeyCap is the maximum contribution any single model adds on top of
	// the signal base, keeping every model score within [0, 100].
	journeyCap = 40
)

// Score runs the four multi-touch models and blends them with the account
// weights. Every model score and the final blend sit in [0, 100].
func Score(signals []domain.Signal, journey []domain.Touchpoint, weights domain.ModelWeights) domain.ModelScores {
	base := signalBase(signals)
	s := domain.ModelScores{
		LastTouch:  clamp(base + lastTouch(journey)),
		FirstTouch: clamp(base + firstTouch(journey)),
		Linear:     clamp(base + linear(journey)),
		TimeDecay:  clamp(base + timeDecay(journey)),
	}
	w := weights.Normalize()
	s.FinalWeighted = clamp(
		w.LastTouch*s.LastTouch +
			w.FirstTouch*s.FirstTouch +
			w.Linear*s.Linear +
			w.TimeDecay*s.TimeDecay)
	return s
}

func signalBase(signals []domain.Signal) float64 {
	total := 0.0
	for _, s := range signals {
		switch s.Strength {
		case "high":
			total += signalHighPoints
		case "medium":
			total += signalMediumPoints
		case "low":
			total += signalLowPoints
		}
	}
	if total > signalBaseCap {
		return signalBaseCap
	}
	return total
}

// lastTouch credits the most recent engagement, decayed by its age.
func lastTouch(journey []domain.Touchpoint) float64 {
	if len(journey) == 0 {
		return 0
	}
	return journeyCap * journey[len(journey)-1].Weight
}

// firstTouch credits the discovery event: recency matters less, presence
// matters more, so the floor is half the cap.
func firstTouch(journey []domain.Touchpoint) float64 {
	if len(journey) == 0 {
		return 0
	}
	w := journey[0].Weight
	if w < 0.5 {
		w = 0.5
	}
	return journeyCap * w
}

// linear spreads credit evenly across the journey.
func linear(journey []domain.Touchpoint) float64 {
	if len(journey) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range journey {
		sum += t.Weight
	}
	return journeyCap * sum / float64(len(journey))
}

// timeDecay emphasizes recent engagements: the decayed weights are averaged
// with a bias toward the heaviest touchpoint.
func timeDecay(journey []domain.Touchpoint) float64 {
	if len(journey) == 0 {
		return 0
	}
	sum, max := 0.0, 0.0
	for _, t := range journey {
		sum += t.Weight
		if t.Weight > max {
			max = t.Weight
		}
	}
	avg := sum / float64(len(journey))
	return journeyCap * (0.5*avg + 0.5*max)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
