package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
)

// Advisor ids.
const (
	TechnicalAnalysis   = "technical_analysis"
	FundamentalAnalysis = "fundamental_analysis"
	SentimentAnalysis   = "sentiment_analysis"
	RiskEvaluation      = "risk_evaluation"
	MomentumAnalysis    = "momentum_analysis"
)

type role struct {
	system string
	task   string
}

var roles = map[string]role{
	TechnicalAnalysis: {
		system: "You are a technical analysis expert for equities. Respond in JSON only.",
		task:   "Analyze the price action and technical indicators (RSI, MACD, Bollinger Bands) of the following market data",
	},
	FundamentalAnalysis: {
		system: "You are an expert fundamental analyst for equities. Respond in JSON only.",
		task:   "Analyze the following market data and fundamentals",
	},
	SentimentAnalysis: {
		system: "You are a market sentiment analyst who reads news flow. Respond in JSON only.",
		task:   "Assess the news sentiment around the following market data",
	},
	RiskEvaluation: {
		system: "You are a risk management expert for equity portfolios. Respond in JSON only.",
		task:   "Evaluate the risk of taking a position in the following market data",
	},
	MomentumAnalysis: {
		system: "You are a momentum and volume-based trading expert. Respond in JSON only.",
		task:   "Analyze the momentum and volume characteristics of the following market data",
	},
}

const responseSchema = "return a JSON object with the keys: " +
	"recommendation (BUY, SELL, HOLD), confidence (0-1), reasoning, target_price, stop_loss, holding_period."

// DefaultModels are the models consulted per advisor when none is configured.
var DefaultModels = map[string]string{
	TechnicalAnalysis:   "anthropic/claude-3.5-sonnet",
	FundamentalAnalysis: "openai/gpt-4",
	SentimentAnalysis:   "google/gemini-pro-1.5",
	RiskEvaluation:      "cohere/command-r-plus",
	MomentumAnalysis:    "meta-llama/llama-3-70b",
}

// LLMAdvisor asks a language model for a recommendation in one analytical role.
type LLMAdvisor struct {
	BaseAgent
	role   role
	client LLMClient
	logger zerolog.Logger
}

// NewLLMAdvisor creates an advisor for one of the known roles.
func NewLLMAdvisor(name, model string, client LLMClient, logger zerolog.Logger) (*LLMAdvisor, error) {
	r, ok := roles[name]
	if !ok {
		return nil, apperrors.NewValidationError("advisor", name, "unknown advisor")
	}
	if model == "" {
		model = DefaultModels[name]
	}
	return &LLMAdvisor{
		BaseAgent: NewBaseAgent(name, model),
		role:      r,
		client:    client,
		logger:    logging.WithAgent(logger, name),
	}, nil
}

// NewLLMAdvisors builds one advisor per name, resolving each model through
// modelFor.
func NewLLMAdvisors(names []string, modelFor func(string) string, client LLMClient, logger zerolog.Logger) ([]Advisor, error) {
	advisors := make([]Advisor, 0, len(names))
	for _, name := range names {
		model := ""
		if modelFor != nil {
			model = modelFor(name)
		}
		a, err := NewLLMAdvisor(name, model, client, logger)
		if err != nil {
			return nil, err
		}
		advisors = append(advisors, a)
	}
	return advisors, nil
}

// Analyze queries the model. Any failure yields the fallback HOLD.
func (a *LLMAdvisor) Analyze(ctx context.Context, snap models.MarketSnapshot) models.Recommendation {
	rec, err := a.analyze(ctx, snap)
	if err != nil {
		err = apperrors.NewAgentError(a.Name(), "analyze", err)
		a.logger.Warn().Err(err).Str("symbol", snap.Symbol).Msg("Advisor degraded to fallback")
		return a.Fallback(err)
	}
	a.logger.Debug().
		Str("symbol", snap.Symbol).
		Str("vote", string(rec.Vote)).
		Float64("confidence", rec.Confidence).
		Msg("Advisor recommendation")
	return rec
}

func (a *LLMAdvisor) analyze(ctx context.Context, snap models.MarketSnapshot) (models.Recommendation, error) {
	if a.client == nil {
		return models.Recommendation{}, fmt.Errorf("no model client configured")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return models.Recommendation{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	prompt := fmt.Sprintf("%s and %s\n\nMarket data: %s", a.role.task, responseSchema, data)

	content, err := a.client.CompleteJSON(ctx, a.Model(), a.role.system, prompt)
	if err != nil {
		return models.Recommendation{}, err
	}
	return ParseRecommendation(a.Name(), a.Model(), content)
}
