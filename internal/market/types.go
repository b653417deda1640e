package market

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

// Kind tags what a market-data update carries.
type Kind string

const (
	KindTrade Kind = "TRADE"
	KindQuote Kind = "QUOTE"
	KindBook  Kind = "BOOK_UPDATE"
	KindTick  Kind = "TICK"
)

// MarketData is one update delivered by the matching service's market-data subscription.
type MarketData struct {
	Symbol    string          `json:"symbol"`
	Kind      Kind            `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	Sequence  uint64          `json:"sequence"` // 0 when the source does not sequence updates
	Timestamp time.Time       `json:"timestamp"`
}

// Validate rejects updates that cannot drive a mark or a decision.
func (m MarketData) Validate() error {
	if m.Symbol == "" {
		return errors.Wrap(exception.ErrMalformedPayload, "market data: empty symbol")
	}
	if !m.Price.IsPositive() {
		return errors.Wrapf(exception.ErrMalformedPayload, "market data %s: non-positive price %s", m.Symbol, m.Price)
	}
	if m.Quantity < 0 {
		return errors.Wrapf(exception.ErrMalformedPayload, "market data %s: negative quantity %d", m.Symbol, m.Quantity)
	}
	if m.Timestamp.IsZero() {
		return errors.Wrapf(exception.ErrMalformedPayload, "market data %s: missing timestamp", m.Symbol)
	}
	switch m.Kind {
	case "", KindTrade, KindQuote, KindBook, KindTick:
	default:
		return errors.Wrapf(exception.ErrMalformedPayload, "market data %s: unknown kind %q", m.Symbol, m.Kind)
	}
	return nil
}

// Level is one aggregated price level of an order book.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// Snapshot is a point-in-time L2 view. Bids descend by price, asks ascend.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks level ordering and values. Either side may be empty.
func (s Snapshot) Validate() error {
	if err := validateSide(s.Symbol, "bid", s.Bids, func(prev, cur decimal.Decimal) bool { return cur.LessThan(prev) }); err != nil {
		return err
	}
	return validateSide(s.Symbol, "ask", s.Asks, func(prev, cur decimal.Decimal) bool { return cur.GreaterThan(prev) })
}

func validateSide(symbol, side string, levels []Level, ordered func(prev, cur decimal.Decimal) bool) error {
	for i, lvl := range levels {
		if !lvl.Price.IsPositive() || lvl.Quantity <= 0 {
			return errors.Wrapf(exception.ErrMalformedPayload, "snapshot %s: %s level %d has price %s qty %d", symbol, side, i, lvl.Price, lvl.Quantity)
		}
		if i > 0 && !ordered(levels[i-1].Price, lvl.Price) {
			return errors.Wrapf(exception.ErrMalformedPayload, "snapshot %s: %s levels out of order at %d", symbol, side, i)
		}
	}
	return nil
}

// Crossed reports a snapshot whose best bid is not below its best ask.
func (s Snapshot) Crossed() bool {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	return okBid && okAsk && !bid.Price.LessThan(ask.Price)
}

// BestBid returns the top bid level.
func (s Snapshot) BestBid() (Level, bool) {
	if len(s.Bids) == 0 {
		return Level{}, false
	}
	return s.Bids[0], true
}

// BestAsk returns the top ask level.
func (s Snapshot) BestAsk() (Level, bool) {
	if len(s.Asks) == 0 {
		return Level{}, false
	}
	return s.Asks[0], true
}

// Spread is best ask minus best bid; ok is false when a side is empty.
func (s Snapshot) Spread() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Price.Sub(bid.Price), true
}

// Mid is the average of best bid and best ask; ok is false when a side is empty.
func (s Snapshot) Mid() (decimal.Decimal, bool) {
	bid, okBid := s.BestBid()
	ask, okAsk := s.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), true
}
