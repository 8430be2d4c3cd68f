package agents

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"ensemble-trader/internal/models"
)

// llmResponse is the JSON object advisors ask the model for. Fields are
// loosely typed because models return numbers as strings often enough.
type llmResponse struct {
	Recommendation interface{} `json:"recommendation"`
	Confidence     interface{} `json:"confidence"`
	Reasoning      interface{} `json:"reasoning"`
	TargetPrice    interface{} `json:"target_price"`
	StopLoss       interface{} `json:"stop_loss"`
	HoldingPeriod  interface{} `json:"holding_period"`
}

// ParseRecommendation decodes a model response into a recommendation.
// Unknown votes become HOLD and a missing confidence defaults to 0.5.
// A confidence outside [0, 1] is an error.
func ParseRecommendation(advisorID, model, content string) (models.Recommendation, error) {
	var raw llmResponse
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &raw); err != nil {
		return models.Recommendation{}, fmt.Errorf("decoding model response: %w", err)
	}

	rec := models.Recommendation{
		AdvisorID:  advisorID,
		Model:      model,
		Vote:       models.VoteHold,
		Confidence: FallbackConfidence,
	}

	if s, ok := raw.Recommendation.(string); ok {
		if v := models.Vote(strings.ToUpper(strings.TrimSpace(s))); v.Valid() {
			rec.Vote = v
		}
	}

	if raw.Confidence != nil {
		c, err := toFloat(raw.Confidence)
		if err != nil {
			return models.Recommendation{}, fmt.Errorf("confidence: %w", err)
		}
		rec.Confidence = c
	}
	if rec.Confidence < 0 || rec.Confidence > 1 {
		return models.Recommendation{}, fmt.Errorf("confidence %v outside [0, 1]", rec.Confidence)
	}

	if raw.Reasoning != nil {
		rec.Rationale = toString(raw.Reasoning)
	}

	var err error
	if rec.TargetPrice, err = optionalFloat(raw.TargetPrice); err != nil {
		return models.Recommendation{}, fmt.Errorf("target_price: %w", err)
	}
	if rec.StopLoss, err = optionalFloat(raw.StopLoss); err != nil {
		return models.Recommendation{}, fmt.Errorf("stop_loss: %w", err)
	}
	if raw.HoldingPeriod != nil {
		rec.HoldingPeriod = toString(raw.HoldingPeriod)
	}

	return rec, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func optionalFloat(v interface{}) (*float64, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
