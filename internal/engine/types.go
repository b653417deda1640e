package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
)

// State is a runner's lifecycle position: Idle -> Running -> Stopped.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "IDLE":
		*s = StateIdle
	case "RUNNING":
		*s = StateRunning
	case "STOPPED":
		*s = StateStopped
	default:
		return errors.Errorf("unknown runner state %q", b)
	}
	return nil
}

// Report describes what one market-data event caused.
type Report struct {
	Symbol    string         `json:"symbol"`
	Actions   []order.Action `json:"actions"`
	Placed    int            `json:"placed"`
	Rejected  int            `json:"rejected"`
	Cancelled int            `json:"cancelled"` // cancel requests sent
	Failed    int            `json:"failed"`    // boundary errors on submit or cancel
	Stale     bool           `json:"stale,omitempty"`
	Ignored   bool           `json:"ignored,omitempty"` // symbol not managed by this runner
}

// StrategyInfo is the API view of one runner.
type StrategyInfo struct {
	ID           string    `json:"id"`
	Policy       string    `json:"policy"`
	ClientID     uint32    `json:"client_id"`
	State        State     `json:"state"`
	Symbols      []string  `json:"symbols"`
	ActiveOrders int       `json:"active_orders"`
	LastOrderID  uint64    `json:"last_order_id"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

// SymbolOrders is the API view of one symbol's live orders.
type SymbolOrders struct {
	Symbol string               `json:"symbol"`
	Orders []order.ManagedOrder `json:"orders"`
}

// Totals is a cross-strategy roll-up.
type Totals struct {
	PnL      decimal.Decimal `json:"total_pnl"`
	Notional decimal.Decimal `json:"total_notional"`
}
