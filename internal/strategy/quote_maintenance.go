package strategy

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

const TypeQuoteMaintenance = "quote_maintenance"

// QuoteMaintenanceConfig parameterizes QuoteMaintenance.
type QuoteMaintenanceConfig struct {
	K    decimal.Decimal // fractional offset from mid
	Size int64
}

// DefaultQuoteMaintenanceConfig returns k 0.001, size 100.
func DefaultQuoteMaintenanceConfig() QuoteMaintenanceConfig {
	return QuoteMaintenanceConfig{
		K:    decimal.RequireFromString("0.001"),
		Size: 100,
	}
}

func (c QuoteMaintenanceConfig) Validate() error {
	if c.K.IsNegative() || c.K.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return errors.Wrapf(exception.ErrInvalidConfig, "quote maintenance: k %s outside [0,1)", c.K)
	}
	if c.Size <= 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "quote maintenance: size %d", c.Size)
	}
	return nil
}

// QuoteMaintenance keeps one bid and one ask around the mid. Every decision
// cancels whatever it quoted before and requotes, so the live set stays at two
// orders per symbol when cancels succeed.
type QuoteMaintenance struct {
	cfg QuoteMaintenanceConfig
}

func NewQuoteMaintenance(cfg QuoteMaintenanceConfig) (*QuoteMaintenance, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &QuoteMaintenance{cfg: cfg}, nil
}

func (q *QuoteMaintenance) Name() string { return TypeQuoteMaintenance }

func (q *QuoteMaintenance) Config() QuoteMaintenanceConfig { return q.cfg }

// Decide returns cancels for every active id, then BUY at mid*(1-k) and SELL at mid*(1+k).
func (q *QuoteMaintenance) Decide(in Input) []order.Action {
	mid, ok := in.Book.Mid()
	if !ok {
		return nil
	}

	one := decimal.NewFromInt(1)
	actions := make([]order.Action, 0, len(in.ActiveOrders)+2)
	for _, id := range in.ActiveOrders {
		actions = append(actions, order.Cancel(id))
	}
	return append(actions,
		order.Place(order.SideBuy, order.TypeLimit, q.cfg.Size, mid.Mul(one.Sub(q.cfg.K))),
		order.Place(order.SideSell, order.TypeLimit, q.cfg.Size, mid.Mul(one.Add(q.cfg.K))),
	)
}
