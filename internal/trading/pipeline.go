package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/broker"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/pkg/utils"
)

// Pipeline runs snapshot -> ensemble -> risk filter -> dispatcher.
type Pipeline struct {
	source     broker.SnapshotSource
	analyzer   Analyzer
	risk       *RiskFilter
	dispatcher *Dispatcher
	logger     zerolog.Logger
}

// NewPipeline creates a decision pipeline. source may be nil when callers
// always provide their own snapshots.
func NewPipeline(source broker.SnapshotSource, analyzer Analyzer, risk *RiskFilter, dispatcher *Dispatcher, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		source:     source,
		analyzer:   analyzer,
		risk:       risk,
		dispatcher: dispatcher,
		logger:     logging.WithComponent(logger, "pipeline"),
	}
}

// Result is the outcome of one pipeline pass.
type Result struct {
	Symbol   string                   `json:"symbol"`
	Decision models.Decision          `json:"decision"`
	Receipt  *models.ExecutionReceipt `json:"receipt,omitempty"`
	// ExecError is set when the decision was valid but execution failed.
	ExecError error `json:"-"`
}

// OrderID returns the executed order id, or "".
func (r *Result) OrderID() string {
	if r.Receipt == nil {
		return ""
	}
	return r.Receipt.OrderID
}

// Snapshot fetches the market snapshot for symbol.
func (p *Pipeline) Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	if p.source == nil {
		return models.MarketSnapshot{}, fmt.Errorf("no market data source configured")
	}
	return p.source.Snapshot(ctx, symbol)
}

// Analyze runs the ensemble on snap without risk filtering.
func (p *Pipeline) Analyze(ctx context.Context, snap models.MarketSnapshot) (models.Decision, error) {
	return p.analyzer.RunAnalysis(ctx, snap)
}

// Decide runs the ensemble and the risk filter on snap.
func (p *Pipeline) Decide(ctx context.Context, snap models.MarketSnapshot) (models.Decision, error) {
	d, err := p.analyzer.RunAnalysis(ctx, snap)
	if err != nil {
		return models.Decision{}, err
	}
	return p.risk.Apply(ctx, d, snap)
}

// Trade decides on snap and executes the result. Analysis and risk errors
// are returned; an execution failure is reported in Result.ExecError so the
// decision is still available to the caller.
func (p *Pipeline) Trade(ctx context.Context, snap models.MarketSnapshot) (*Result, error) {
	d, err := p.Decide(ctx, snap)
	if err != nil {
		return nil, err
	}
	return p.execute(ctx, snap, d), nil
}

// Accumulate executes the plan's fixed-amount buy for snap. It returns nil
// when the plan does not apply.
func (p *Pipeline) Accumulate(ctx context.Context, snap models.MarketSnapshot, plan AccumulationPlan) *Result {
	d, ok := AccumulationDecision(snap, plan)
	if !ok {
		return nil
	}
	return p.execute(ctx, snap, d)
}

func (p *Pipeline) execute(ctx context.Context, snap models.MarketSnapshot, d models.Decision) *Result {
	res := &Result{Symbol: snap.Symbol, Decision: d}
	res.Receipt, res.ExecError = p.dispatcher.Execute(ctx, snap.Symbol, snap, d)
	return res
}

// WatchConfig configures the polling loop.
type WatchConfig struct {
	Symbols         []string
	Interval        time.Duration
	AutoTrade       bool
	Accumulate      []string
	Plan            AccumulationPlan
	MarketHoursOnly bool
}

// WatchStats counts what the polling loop has done.
type WatchStats struct {
	Cycles   int
	Analyzed int
	Executed int
	Failed   int
	Skipped  int // cycles skipped while the market was closed
}

// Watcher polls symbols on an interval and feeds them through the pipeline.
type Watcher struct {
	pipeline *Pipeline
	cfg      WatchConfig
	logger   zerolog.Logger

	// OnResult, if set, is called for every analyzed symbol.
	OnResult func(*Result)

	mu    sync.RWMutex
	stats WatchStats
	now   func() time.Time
}

// NewWatcher creates a polling loop over pipeline.
func NewWatcher(pipeline *Pipeline, cfg WatchConfig, logger zerolog.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Watcher{
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "watcher"),
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. A failure for one symbol is logged and
// the loop moves on to the next.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.cfg.Symbols) == 0 && len(w.cfg.Accumulate) == 0 {
		w.logger.Info().Msg("No symbols to watch")
		return nil
	}
	w.logger.Info().
		Strs("symbols", w.cfg.Symbols).
		Strs("accumulate", w.cfg.Accumulate).
		Dur("interval", w.cfg.Interval).
		Bool("auto_trade", w.cfg.AutoTrade).
		Msg("Watcher started")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		w.Cycle(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle runs one pass over every watched and accumulated symbol.
func (w *Watcher) Cycle(ctx context.Context) {
	if w.cfg.MarketHoursOnly {
		if now := w.now(); !utils.IsMarketOpen(now) {
			w.logger.Debug().
				Str("status", string(utils.MarketStatusAt(now))).
				Time("next_open", utils.NextMarketOpen(now)).
				Msg("Market closed, skipping cycle")
			w.count(func(s *WatchStats) { s.Skipped++ })
			return
		}
	}

	for _, symbol := range w.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		w.watchSymbol(ctx, symbol)
	}
	if w.cfg.AutoTrade {
		for _, symbol := range w.cfg.Accumulate {
			if ctx.Err() != nil {
				return
			}
			w.accumulateSymbol(ctx, symbol)
		}
	}

	w.mu.Lock()
	w.stats.Cycles++
	w.mu.Unlock()
}

// Stats returns a copy of the loop counters.
func (w *Watcher) Stats() WatchStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) watchSymbol(ctx context.Context, symbol string) {
	logger := logging.WithSymbol(w.logger, symbol)

	snap, err := w.pipeline.Snapshot(ctx, symbol)
	if err != nil {
		logger.Warn().Err(err).Msg("Snapshot failed")
		w.count(func(s *WatchStats) { s.Failed++ })
		return
	}

	var res *Result
	if w.cfg.AutoTrade {
		res, err = w.pipeline.Trade(ctx, snap)
	} else {
		var d models.Decision
		d, err = w.pipeline.Decide(ctx, snap)
		res = &Result{Symbol: symbol, Decision: d}
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Analysis failed")
		w.count(func(s *WatchStats) { s.Failed++ })
		return
	}
	w.report(logger, res)
}

func (w *Watcher) accumulateSymbol(ctx context.Context, symbol string) {
	logger := logging.WithSymbol(w.logger, symbol)

	snap, err := w.pipeline.Snapshot(ctx, symbol)
	if err != nil {
		logger.Warn().Err(err).Msg("Snapshot failed")
		w.count(func(s *WatchStats) { s.Failed++ })
		return
	}
	res := w.pipeline.Accumulate(ctx, snap, w.cfg.Plan)
	if res == nil {
		logger.Debug().Float64("price", snap.CurrentPrice).Msg("Accumulation skipped")
		return
	}
	w.report(logger, res)
}

func (w *Watcher) report(logger zerolog.Logger, res *Result) {
	w.count(func(s *WatchStats) {
		s.Analyzed++
		if res.Receipt != nil {
			s.Executed++
		}
		if res.ExecError != nil {
			s.Failed++
		}
	})
	if res.ExecError != nil {
		logger.Warn().Err(res.ExecError).Str("decision", string(res.Decision.Final)).Msg("Execution failed")
	}
	if w.OnResult != nil {
		w.OnResult(res)
	}
}

func (w *Watcher) count(fn func(*WatchStats)) {
	w.mu.Lock()
	fn(&w.stats)
	w.mu.Unlock()
}
