package order

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Type is the order type understood by the matching service.
type Type string

const (
	TypeMarket    Type = "MARKET"
	TypeLimit     Type = "LIMIT"
	TypeStop      Type = "STOP"
	TypeStopLimit Type = "STOP_LIMIT"
)

// ManagedOrder is an order this strategy believes is live on the matching service.
type ManagedOrder struct {
	ID        uint64          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Type      Type            `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	FilledQty int64           `json:"filled_qty"`
	CreatedAt time.Time       `json:"created_at"`
}

// RemainingQty returns unfilled quantity.
func (o *ManagedOrder) RemainingQty() int64 {
	return o.Quantity - o.FilledQty
}

// IsFullyFilled checks if the order has no remaining quantity.
func (o *ManagedOrder) IsFullyFilled() bool {
	return o.FilledQty >= o.Quantity
}

// ActionKind distinguishes placements from cancellations.
type ActionKind uint8

const (
	ActionPlace ActionKind = iota + 1
	ActionCancel
)

func (k ActionKind) String() string {
	switch k {
	case ActionPlace:
		return "PLACE"
	case ActionCancel:
		return "CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Action is a policy's request to change the strategy's resting orders.
// Place actions use Side, Type, Quantity and Price; Cancel actions use OrderID.
type Action struct {
	Kind     ActionKind      `json:"kind"`
	Side     Side            `json:"side,omitempty"`
	Type     Type            `json:"type,omitempty"`
	Quantity int64           `json:"quantity,omitempty"`
	Price    decimal.Decimal `json:"price"`
	OrderID  uint64          `json:"order_id,omitempty"`
}

// Place builds a placement action.
func Place(side Side, typ Type, qty int64, price decimal.Decimal) Action {
	return Action{Kind: ActionPlace, Side: side, Type: typ, Quantity: qty, Price: price}
}

// Cancel builds a cancellation action for a tracked order id.
func Cancel(id uint64) Action {
	return Action{Kind: ActionCancel, OrderID: id}
}

func (a Action) String() string {
	if a.Kind == ActionCancel {
		return fmt.Sprintf("Cancel(%d)", a.OrderID)
	}
	return fmt.Sprintf("Place(%s,%s,%d,%s)", a.Side, a.Type, a.Quantity, a.Price)
}
