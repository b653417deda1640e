// Package engine runs decision policies against the matching service and exposes
// a read-only view of them to the API layer.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/ledger"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/monitor"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/portfolio"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/common"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

// Service defines what the API layer may ask of the engine.
// The API layer should only interact with the engine through this interface.
type Service interface {
	// Strategy queries
	ListStrategies(ctx context.Context) []StrategyInfo
	GetStrategy(ctx context.Context, id string) (StrategyInfo, error)
	GetStrategyPositions(ctx context.Context, id string) ([]ledger.Position, error)
	GetStrategyOrders(ctx context.Context, id string) ([]SymbolOrders, error)

	// Reporting
	GetPortfolio(ctx context.Context) Portfolio
	GetVenueMetrics(ctx context.Context) (map[string]float64, error)
	GetSystemStatus(ctx context.Context) SystemStatus
}

// StrategyPortfolio is one runner's summary.
type StrategyPortfolio struct {
	ID      string            `json:"id"`
	Policy  string            `json:"policy"`
	Summary portfolio.Summary `json:"summary"`
}

// Portfolio rolls every runner's summary up.
type Portfolio struct {
	Strategies []StrategyPortfolio `json:"strategies"`
	Totals     Totals              `json:"totals"`
}

// SystemStatus is the health view.
type SystemStatus struct {
	Version    string        `json:"version"`
	StartedAt  time.Time     `json:"started_at"`
	Uptime     time.Duration `json:"uptime_ns"`
	Strategies int           `json:"strategies"`
	Running    int           `json:"running"`
}

// Config holds what an engine implementation needs.
type Config struct {
	Service common.MatchingService
	Metrics *monitor.SystemMetrics
	Version string
}

// Impl implements Service over a fixed set of runners sharing one matching service.
type Impl struct {
	svc     common.MatchingService
	metrics *monitor.SystemMetrics
	version string
	started time.Time

	mu      sync.RWMutex
	order   []string
	runners map[string]*Runner
}

// NewImpl creates an engine with no runners.
func NewImpl(cfg Config) *Impl {
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	return &Impl{
		svc:     cfg.Service,
		metrics: cfg.Metrics,
		version: cfg.Version,
		started: time.Now(),
		runners: make(map[string]*Runner),
	}
}

// Add registers a runner. Ids must be unique.
func (e *Impl) Add(r *Runner) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.runners[r.ID()]; exists {
		return errors.Wrapf(exception.ErrInvalidConfig, "duplicate strategy id %q", r.ID())
	}
	e.runners[r.ID()] = r
	e.order = append(e.order, r.ID())
	return nil
}

// Runner returns a registered runner.
func (e *Impl) Runner(id string) (*Runner, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runners[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownStrategy, "%q", id)
	}
	return r, nil
}

func (e *Impl) all() []*Runner {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Runner, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.runners[id])
	}
	return out
}

// --- Lifecycle ---

// StartAll starts every runner. If one fails, the ones already started are stopped.
func (e *Impl) StartAll(ctx context.Context) error {
	var started []*Runner
	for _, r := range e.all() {
		if err := r.Start(ctx); err != nil {
			for _, s := range started {
				if stopErr := s.Stop(); stopErr != nil {
					logger.Warnf("engine: rollback stop %s: %v", s.ID(), stopErr)
				}
			}
			return errors.Wrapf(err, "start %s", r.ID())
		}
		started = append(started, r)
	}
	return nil
}

// StopAll stops every running runner and returns the first error.
func (e *Impl) StopAll() error {
	var first error
	for _, r := range e.all() {
		if r.State() != StateRunning {
			continue
		}
		if err := r.Stop(); err != nil {
			logger.Warnf("engine: stop %s: %v", r.ID(), err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// --- Strategy Queries ---

func (e *Impl) ListStrategies(ctx context.Context) []StrategyInfo {
	runners := e.all()
	out := make([]StrategyInfo, 0, len(runners))
	for _, r := range runners {
		out = append(out, r.Info())
	}
	return out
}

func (e *Impl) GetStrategy(ctx context.Context, id string) (StrategyInfo, error) {
	r, err := e.Runner(id)
	if err != nil {
		return StrategyInfo{}, err
	}
	return r.Info(), nil
}

func (e *Impl) GetStrategyPositions(ctx context.Context, id string) ([]ledger.Position, error) {
	r, err := e.Runner(id)
	if err != nil {
		return nil, err
	}
	return r.Positions(), nil
}

func (e *Impl) GetStrategyOrders(ctx context.Context, id string) ([]SymbolOrders, error) {
	r, err := e.Runner(id)
	if err != nil {
		return nil, err
	}
	symbols := r.Symbols()
	out := make([]SymbolOrders, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, SymbolOrders{Symbol: s, Orders: r.ActiveOrders(s)})
	}
	return out, nil
}

// --- Reporting ---

func (e *Impl) GetPortfolio(ctx context.Context) Portfolio {
	out := Portfolio{Totals: Totals{PnL: decimal.Zero, Notional: decimal.Zero}}
	for _, r := range e.all() {
		sum := portfolio.NewAggregator(r, e.svc).Summarize(ctx)
		out.Strategies = append(out.Strategies, StrategyPortfolio{ID: r.ID(), Policy: r.PolicyName(), Summary: sum})
		out.Totals.PnL = out.Totals.PnL.Add(sum.TotalPnL)
		out.Totals.Notional = out.Totals.Notional.Add(sum.TotalNotional)
	}
	return out
}

func (e *Impl) GetVenueMetrics(ctx context.Context) (map[string]float64, error) {
	if e.svc == nil {
		return nil, errors.Wrap(exception.ErrServiceUnavailable, "matching service not configured")
	}
	return e.svc.PerformanceMetrics(ctx)
}

func (e *Impl) GetSystemStatus(ctx context.Context) SystemStatus {
	st := SystemStatus{
		Version:   e.version,
		StartedAt: e.started,
		Uptime:    time.Since(e.started),
	}
	for _, r := range e.all() {
		st.Strategies++
		if r.State() == StateRunning {
			st.Running++
		}
	}
	return st
}

// Metrics returns the process-wide metrics registry.
func (e *Impl) Metrics() *monitor.SystemMetrics { return e.metrics }
