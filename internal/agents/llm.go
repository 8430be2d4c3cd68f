package agents

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
)

// LLMClient defines the interface for LLM interactions.
type LLMClient interface {
	// CompleteJSON sends a system and user prompt to model and returns the
	// raw content of the first choice, which should be a JSON object.
	CompleteJSON(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// ErrBreakerOpen is returned while the model endpoint is considered down.
var ErrBreakerOpen = errors.New("model endpoint unavailable: circuit breaker is open")

// OpenAIClientConfig configures an OpenAIClient.
type OpenAIClientConfig struct {
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
	Referer     string
	Title       string
}

// OpenAIClient implements LLMClient against any OpenAI-compatible endpoint
// such as OpenRouter.
type OpenAIClient struct {
	client      *openai.Client
	breaker     *gobreaker.CircuitBreaker
	temperature float32
	maxTokens   int
	logger      zerolog.Logger
}

// NewOpenAIClient creates a new LLM client. Every call passes through a
// circuit breaker; while it is open calls fail fast with ErrBreakerOpen.
func NewOpenAIClient(cfg OpenAIClientConfig, logger zerolog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigError("OPENROUTER_API_KEY", "api key is not set", apperrors.ErrMissingCredentials)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": orDefault(cfg.Referer, "http://localhost"),
				"X-Title":      orDefault(cfg.Title, "Ensemble Trader"),
			},
		},
	}

	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	logger = logging.WithComponent(logger, "llm")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		breaker:     cb,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// BreakerState returns the circuit breaker state: closed, half-open or open.
func (c *OpenAIClient) BreakerState() string {
	return c.breaker.State().String()
}

// CompleteJSON sends a prompt with system message to the LLM and asks for a
// JSON object response.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	res, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("chat completion failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, apperrors.ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	})
	logging.LogAPICall(c.logger, "POST", "/chat/completions", time.Since(start), err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", ErrBreakerOpen
		}
		return "", err
	}
	return res.(string), nil
}

// UnavailableClient fails every completion with Err. It stands in for a
// client that could not be configured, so each advisor falls back on its own.
type UnavailableClient struct {
	Err error
}

// CompleteJSON returns the configuration error.
func (u UnavailableClient) CompleteJSON(context.Context, string, string, string) (string, error) {
	return "", u.Err
}

// BreakerState reports the client as unavailable.
func (u UnavailableClient) BreakerState() string {
	return "unavailable"
}

type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
