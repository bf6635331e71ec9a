package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/socialops/oversight-agent/internal/attribution"
	"github.com/socialops/oversight-agent/internal/domain"
)

// reviewQualityFloor sends validated attributions below this score to the
// human review queue.
const reviewQualityFloor = 40.0

type orderEvent struct {
	OrderID       string   `json:"order_id" validate:"required"`
	AccountID     string   `json:"business_account_id" validate:"required"`
	Value         float64  `json:"order_value"`
	CustomerEmail string   `json:"customer_email"`
	UTMSource     string   `json:"utm_source"`
	UTMMedium     string   `json:"utm_medium"`
	DiscountCodes []string `json:"discount_codes"`
	Referrer      string   `json:"referrer"`
	LandingPage   string   `json:"landing_page"`
	OrderedAt     string   `json:"ordered_at"`
}

// HandleWebhookOrder scores a new order against Instagram attribution. High
// signal orders settle deterministically without a model call; weaker ones go
// through a validation prompt, and anything below the quality floor lands in
// the review queue for a human.
func (s *Server) HandleWebhookOrder(w http.ResponseWriter, r *http.Request) {
	body := s.readSignedBody(w, r)
	if body == nil {
		return
	}
	var ev orderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, "malformed order payload")
		return
	}
	if err := s.validate.Struct(ev); err != nil {
		writeError(w, r, domain.ErrInvalidArgument, err.Error())
		return
	}
	ctx := r.Context()

	if reason := s.rejectOrder(ctx, ev); reason != "" {
		s.auditWebhook(ctx, "webhook_order_processed", "rejected", "order", ev.OrderID, ev.AccountID,
			map[string]any{"reason": reason}, r)
		writeJSON(w, http.StatusOK, map[string]any{"accepted": false, "reason": reason})
		return
	}

	orderedAt := time.Now().UTC()
	if t, err := time.Parse(time.RFC3339, ev.OrderedAt); err == nil {
		orderedAt = t.UTC()
	}

	history, _ := s.attributions.CustomerHistory(ctx, ev.CustomerEmail, ev.AccountID)
	events, _ := s.attributions.Engagements(ctx, ev.CustomerEmail, ev.AccountID,
		attribution.JourneyWindowStart(orderedAt))
	journey := attribution.BuildJourney(events, orderedAt)

	order := attribution.Order{
		OrderID:       ev.OrderID,
		AccountID:     ev.AccountID,
		Value:         ev.Value,
		CustomerEmail: ev.CustomerEmail,
		UTMSource:     ev.UTMSource,
		UTMMedium:     ev.UTMMedium,
		DiscountCodes: ev.DiscountCodes,
		Referrer:      ev.Referrer,
		LandingPage:   ev.LandingPage,
	}
	signals := attribution.DetectSignals(order, history, journey)
	strategy := attribution.Classify(signals)
	weights := s.accountWeights(ctx, ev.AccountID)
	scores := attribution.Score(signals, journey, weights)

	attr := domain.Attribution{
		OrderID:       ev.OrderID,
		AccountID:     ev.AccountID,
		OrderValue:    ev.Value,
		CustomerEmail: ev.CustomerEmail,
		Signals:       signals,
		Touchpoints:   journey,
		ModelScores:   scores,
		Strategy:      strategy,
		CreatedAt:     orderedAt,
	}

	details := map[string]any{
		"strategy":       strategy,
		"signal_count":   len(signals),
		"journey_events": len(journey),
		"final_weighted": scores.FinalWeighted,
	}

	if strategy == attribution.StrategyHighSignal {
		// Deterministic settlement: explicit signals need no model opinion.
		attr.Method = "fast_path"
		attr.QualityScore = scores.FinalWeighted
		attr.AutoApproved = true
	} else {
		quality, validated := s.validateAttribution(ctx, ev, signals, journey, scores, details)
		attr.Method = "llm_validated"
		attr.QualityScore = quality
		attr.AutoApproved = validated && quality >= reviewQualityFloor
	}

	id, err := s.attributions.Create(ctx, attr)
	if err != nil {
		writeError(w, r, err, "attribution persist failed")
		return
	}
	if !attr.AutoApproved {
		reason := fmt.Sprintf("quality_score=%.1f strategy=%s", attr.QualityScore, strategy)
		if err := s.attributions.CreateReviewItem(ctx, id, ev.AccountID, reason); err != nil {
			details["review_item_error"] = err.Error()
		} else {
			details["review_item"] = true
		}
	}

	details["method"] = attr.Method
	details["quality_score"] = attr.QualityScore
	details["auto_approved"] = attr.AutoApproved
	action := "reviewed"
	if attr.AutoApproved {
		action = "auto_approved"
	}
	s.auditWebhook(ctx, "webhook_order_processed", action, "order", ev.OrderID, ev.AccountID, details, r)
	writeJSON(w, http.StatusOK, map[string]any{
		"accepted":       true,
		"attribution_id": id,
		"strategy":       strategy,
		"method":         attr.Method,
		"auto_approved":  attr.AutoApproved,
	})
}

// rejectOrder applies the hard rules. An empty string means the order passes.
func (s *Server) rejectOrder(ctx context.Context, ev orderEvent) string {
	if strings.TrimSpace(ev.CustomerEmail) == "" {
		return "missing_customer_email"
	}
	if ev.Value <= 0 {
		return "zero_order_value"
	}
	seen, err := s.attributions.OrderSeen(ctx, ev.OrderID)
	if err == nil && seen {
		return "duplicate_order"
	}
	return ""
}

func (s *Server) accountWeights(ctx context.Context, accountID string) domain.ModelWeights {
	w, err := s.weightsCache.GetOrLoad(ctx, accountID, func(ctx context.Context) (domain.ModelWeights, error) {
		w, found, err := s.attributions.GetWeights(ctx, accountID)
		if err != nil || !found {
			return domain.DefaultModelWeights(), err
		}
		return w, nil
	})
	if err != nil {
		return domain.DefaultModelWeights()
	}
	return w.Normalize()
}

// validateAttribution asks the model to sanity-check a weak-signal score.
// Any failure degrades to the deterministic score with validated=false.
func (s *Server) validateAttribution(ctx context.Context, ev orderEvent, signals []domain.Signal, journey []domain.Touchpoint, scores domain.ModelScores, details map[string]any) (float64, bool) {
	sigJSON, _ := json.Marshal(signals)
	journeyJSON, _ := json.Marshal(journey)
	scoresJSON, _ := json.Marshal(scores)
	prompt, promptVersion, err := s.prompts.Render("attribution_validation", map[string]string{
		"order_value":  fmt.Sprintf("%.2f", ev.Value),
		"signals":      string(sigJSON),
		"journey":      string(journeyJSON),
		"model_scores": string(scoresJSON),
	})
	if err != nil {
		return scores.FinalWeighted, false
	}
	res, err := s.llm.Analyze(ctx, prompt)
	if err != nil || res.ParseFailed {
		details["validation_failed"] = true
		return scores.FinalWeighted, false
	}
	details["prompt_version"] = promptVersion
	details["validation_latency_ms"] = res.LatencyMS
	details["validation_reasoning"] = res.Str("reasoning")
	conf := res.Num("attribution_confidence")
	if conf <= 0 {
		return scores.FinalWeighted, false
	}
	return conf * 100, true
}
