package common

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
)

// OrderRequest captures an order intent to be sent to the matching service.
type OrderRequest struct {
	ID       uint64
	ClientID uint32 // strategy instance that owns the order
	Symbol   string
	Side     order.Side
	Type     order.Type
	Quantity int64
	Price    decimal.Decimal // ignored for MARKET
}

// Fill represents one execution against a resting or incoming order.
type Fill struct {
	TradeID   string          `json:"trade_id"`
	OrderID   uint64          `json:"order_id"`
	ClientID  uint32          `json:"client_id"`
	Symbol    string          `json:"symbol"`
	Side      order.Side      `json:"side"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}
