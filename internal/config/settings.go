package config

import (
	"context"
	"strconv"
	"strings"
	"sync"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

// Runtime setting keys.
const (
	KeyTradingMode         = "TRADING_MODE"
	KeyAccountEquity       = "ACCOUNT_EQUITY"
	KeyMaxPositionSize     = "MAX_POSITION_SIZE"
	KeyMinStopLossDistance = "MIN_STOP_LOSS_DISTANCE"
	KeyDecisionAlgorithm   = "DECISION_ALGORITHM"
	KeyConfidenceThreshold = "CONFIDENCE_THRESHOLD"
)

// Store is a key/value store for operator-adjustable settings.
type Store interface {
	Get(ctx context.Context, key, def string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// RiskParams are the inputs of the risk filter.
type RiskParams struct {
	AccountEquity       float64
	MaxPositionRatio    float64
	MinStopLossDistance float64
}

// EnsembleParams select the aggregation algorithm and its threshold.
type EnsembleParams struct {
	Algorithm           models.AggregationAlgorithm
	ConfidenceThreshold float64
}

// Settings resolves runtime parameters on every call, so operator changes
// take effect on the next cycle. File configuration provides the defaults.
type Settings struct {
	store    Store
	defaults *Config
}

// NewSettings creates a settings provider over store.
func NewSettings(store Store, defaults *Config) *Settings {
	if defaults == nil {
		defaults = Default()
	}
	return &Settings{store: store, defaults: defaults}
}

// ExecutionMode returns the current execution mode.
func (s *Settings) ExecutionMode(ctx context.Context) (models.ExecutionMode, error) {
	def := s.defaults.Trading.Mode
	if def == "" {
		def = string(models.ModeVirtual)
	}
	raw, err := s.store.Get(ctx, KeyTradingMode, def)
	if err != nil {
		return "", apperrors.NewConfigError(KeyTradingMode, "reading setting", err)
	}
	mode, ok := models.ParseExecutionMode(raw)
	if !ok {
		return "", apperrors.NewConfigError(KeyTradingMode, "unknown mode "+strconv.Quote(raw), apperrors.ErrInvalidMode)
	}
	return mode, nil
}

// SetExecutionMode stores a new execution mode.
func (s *Settings) SetExecutionMode(ctx context.Context, raw string) (models.ExecutionMode, error) {
	mode, ok := models.ParseExecutionMode(raw)
	if !ok {
		return "", apperrors.NewValidationError("mode", raw, "must be virtual, paper or live")
	}
	if err := s.store.Set(ctx, KeyTradingMode, string(mode)); err != nil {
		return "", err
	}
	return mode, nil
}

// RiskParams returns the current risk parameters.
func (s *Settings) RiskParams(ctx context.Context) (RiskParams, error) {
	var (
		p   RiskParams
		err error
	)
	if p.AccountEquity, err = s.float(ctx, KeyAccountEquity, s.defaults.Risk.AccountEquity); err != nil {
		return RiskParams{}, err
	}
	if p.MaxPositionRatio, err = s.float(ctx, KeyMaxPositionSize, s.defaults.Risk.MaxPositionRatio); err != nil {
		return RiskParams{}, err
	}
	if p.MinStopLossDistance, err = s.float(ctx, KeyMinStopLossDistance, s.defaults.Risk.MinStopLossDistance); err != nil {
		return RiskParams{}, err
	}
	return p, nil
}

// EnsembleParams returns the current aggregation parameters. An unknown
// algorithm name falls back to weighted majority.
func (s *Settings) EnsembleParams(ctx context.Context) (EnsembleParams, error) {
	alg, err := s.store.Get(ctx, KeyDecisionAlgorithm, s.defaults.Ensemble.Algorithm)
	if err != nil {
		return EnsembleParams{}, apperrors.NewConfigError(KeyDecisionAlgorithm, "reading setting", err)
	}
	threshold, err := s.float(ctx, KeyConfidenceThreshold, s.defaults.Ensemble.ConfidenceThreshold)
	if err != nil {
		return EnsembleParams{}, err
	}
	return EnsembleParams{
		Algorithm:           models.ParseAlgorithm(strings.ToLower(strings.TrimSpace(alg))),
		ConfidenceThreshold: threshold,
	}, nil
}

// Set stores an arbitrary runtime setting.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, key, value)
}

func (s *Settings) float(ctx context.Context, key string, def float64) (float64, error) {
	raw, err := s.store.Get(ctx, key, strconv.FormatFloat(def, 'f', -1, 64))
	if err != nil {
		return 0, apperrors.NewConfigError(key, "reading setting", err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, apperrors.NewConfigError(key, "malformed number "+strconv.Quote(raw), err)
	}
	return v, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get returns the stored value or def.
func (m *MemoryStore) Get(_ context.Context, key, def string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

// Set stores a value.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
