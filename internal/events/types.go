package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/ledger"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
)

// Event enumerates high-level topics inside the decision engine.
type Event string

const (
	EventOrderPlaced          Event = "order.placed"
	EventOrderRejected        Event = "order.rejected"
	EventOrderCancelRequested Event = "order.cancel_requested"
	EventOrderOrphaned        Event = "order.orphaned"
	EventOrderFilled          Event = "order.filled"
	EventPositionChange       Event = "position.change"
	EventRunnerError          Event = "runner.error"
)

// Topics lists every event a runner may publish, for subscribers that want all of them.
var Topics = []Event{
	EventOrderPlaced,
	EventOrderRejected,
	EventOrderCancelRequested,
	EventOrderOrphaned,
	EventOrderFilled,
	EventPositionChange,
	EventRunnerError,
}

// OrderEvent describes an order lifecycle step taken by a runner.
type OrderEvent struct {
	Strategy string          `json:"strategy"`
	Symbol   string          `json:"symbol"`
	OrderID  uint64          `json:"order_id"`
	Side     order.Side      `json:"side,omitempty"`
	Type     order.Type      `json:"type,omitempty"`
	Quantity int64           `json:"quantity,omitempty"`
	Price    decimal.Decimal `json:"price"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}

// PositionEvent carries a position after a fill changed it.
type PositionEvent struct {
	Strategy string          `json:"strategy"`
	Position ledger.Position `json:"position"`
	At       time.Time       `json:"at"`
}

// RunnerErrorEvent reports a per-event failure the runner recovered from.
type RunnerErrorEvent struct {
	Strategy string    `json:"strategy"`
	Symbol   string    `json:"symbol,omitempty"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}
