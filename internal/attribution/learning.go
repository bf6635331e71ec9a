package attribution

import (
	"github.com/socialops/oversight-agent/internal/domain"
)

// blendNew is the share of the freshly computed proportional weights in the
// weekly update; the remainder keeps the prior weights.
const blendNew = 0.7

// LearnWeights derives next week's model weights from the trailing window of
// attributions. Each model's average score becomes its proportional share,
// blended 70/30 with the prior weights and normalized. An empty window
// returns the prior weights unchanged.
func LearnWeights(prior domain.ModelWeights, window []domain.Attribution) domain.ModelWeights {
	if len(window) == 0 {
		return prior.Normalize()
	}

	var sums domain.ModelWeights
	for _, a := range window {
		sums.LastTouch += a.ModelScores.LastTouch
		sums.FirstTouch += a.ModelScores.FirstTouch
		sums.Linear += a.ModelScores.Linear
		sums.TimeDecay += a.ModelScores.TimeDecay
	}
	n := float64(len(window))
	proportional := domain.ModelWeights{
		LastTouch:  sums.LastTouch / n,
		FirstTouch: sums.FirstTouch / n,
		Linear:     sums.Linear / n,
		TimeDecay:  sums.TimeDecay / n,
	}.Normalize()

	p := prior.Normalize()
	return domain.ModelWeights{
		LastTouch:  blendNew*proportional.LastTouch + (1-blendNew)*p.LastTouch,
		FirstTouch: blendNew*proportional.FirstTouch + (1-blendNew)*p.FirstTouch,
		Linear:     blendNew*proportional.Linear + (1-blendNew)*p.Linear,
		TimeDecay:  blendNew*proportional.TimeDecay + (1-blendNew)*p.TimeDecay,
	}.Normalize()
}

// MethodDistribution counts attribution methods in a window, feeding the
// learning run's audit summary.
func MethodDistribution(window []domain.Attribution) map[string]int {
	out := map[string]int{}
	for _, a := range window {
		out[a.Method]++
	}
	return out
}
