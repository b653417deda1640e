// Package ledger keeps per-symbol position and PnL state for one strategy runner.
package ledger

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

// Position is the read-only snapshot of one symbol's exposure.
type Position struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"` // positive long, negative short
	AvgPrice      decimal.Decimal `json:"avg_price"` // zero while flat
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	LastMark      decimal.Decimal `json:"last_mark"`
	MarkedAt      time.Time       `json:"marked_at"`
}

// PnL is realized plus unrealized.
func (p Position) PnL() decimal.Decimal {
	return p.RealizedPnL.Add(p.UnrealizedPnL)
}

// Flat reports a zero quantity.
func (p Position) Flat() bool {
	return p.Quantity == 0
}

// UnrealizedAt derives unrealized PnL at a mark price from (avg, qty, mark) only.
func UnrealizedAt(avg decimal.Decimal, qty int64, mark decimal.Decimal) decimal.Decimal {
	switch {
	case qty > 0:
		return mark.Sub(avg).Mul(decimal.NewFromInt(qty))
	case qty < 0:
		return avg.Sub(mark).Mul(decimal.NewFromInt(-qty))
	default:
		return decimal.Zero
	}
}

// Ledger holds the positions of a fixed symbol set. It is not safe for concurrent
// mutation; the owning runner serializes writes.
type Ledger struct {
	symbols   []string
	positions map[string]*Position
}

// New registers the symbol set for the ledger's lifetime.
func New(symbols []string) (*Ledger, error) {
	if len(symbols) == 0 {
		return nil, exception.ErrEmptySymbolSet
	}
	l := &Ledger{
		symbols:   make([]string, 0, len(symbols)),
		positions: make(map[string]*Position, len(symbols)),
	}
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errors.Wrap(exception.ErrInvalidConfig, "ledger: blank symbol")
		}
		if _, dup := l.positions[s]; dup {
			return nil, errors.Wrapf(exception.ErrInvalidConfig, "ledger: duplicate symbol %s", s)
		}
		l.symbols = append(l.symbols, s)
		l.positions[s] = &Position{Symbol: s}
	}
	return l, nil
}

// Mark recomputes unrealized PnL at price. Unknown symbols are ignored.
func (l *Ledger) Mark(symbol string, price decimal.Decimal, at time.Time) {
	p, ok := l.positions[symbol]
	if !ok {
		return
	}
	p.LastMark = price
	p.MarkedAt = at
	p.UnrealizedPnL = UnrealizedAt(p.AvgPrice, p.Quantity, price)
}

// Get returns the current position of a registered symbol.
func (l *Ledger) Get(symbol string) (Position, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, errors.Wrapf(exception.ErrUnknownSymbol, "ledger: %s", symbol)
	}
	return *p, nil
}

// Has reports whether symbol was registered at construction.
func (l *Ledger) Has(symbol string) bool {
	_, ok := l.positions[symbol]
	return ok
}

// Symbols returns the registered symbols in construction order.
func (l *Ledger) Symbols() []string {
	out := make([]string, len(l.symbols))
	copy(out, l.symbols)
	return out
}

// Positions returns all positions in construction order.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.symbols))
	for _, s := range l.symbols {
		out = append(out, *l.positions[s])
	}
	return out
}

// ApplyFill books an execution reported by the matching service.
//
// Adding to exposure moves the average price by quantity weight. Reducing exposure
// realizes PnL against the average and keeps it; crossing through zero opens the
// remainder at the fill price. Unrealized PnL is re-derived from the last mark.
func (l *Ledger) ApplyFill(symbol string, side order.Side, qty int64, price decimal.Decimal) (Position, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return Position{}, errors.Wrapf(exception.ErrUnknownSymbol, "ledger: %s", symbol)
	}
	if qty <= 0 || !price.IsPositive() {
		return *p, errors.Wrapf(exception.ErrMalformedPayload, "ledger: fill %s qty=%d price=%s", symbol, qty, price)
	}

	signed := qty
	switch side {
	case order.SideBuy:
	case order.SideSell:
		signed = -qty
	default:
		return *p, errors.Wrapf(exception.ErrMalformedPayload, "ledger: fill %s side %q", symbol, side)
	}

	oldQty := p.Quantity
	newQty := oldQty + signed

	switch {
	case oldQty == 0 || sameSign(oldQty, signed):
		total := p.AvgPrice.Mul(decimal.NewFromInt(abs(oldQty))).Add(price.Mul(decimal.NewFromInt(qty)))
		p.AvgPrice = total.Div(decimal.NewFromInt(abs(newQty)))
	default:
		closed := min(abs(oldQty), qty)
		p.RealizedPnL = p.RealizedPnL.Add(UnrealizedAt(p.AvgPrice, sign(oldQty)*closed, price))
		switch {
		case newQty == 0:
			p.AvgPrice = decimal.Zero
		case !sameSign(oldQty, newQty):
			p.AvgPrice = price
		}
	}
	p.Quantity = newQty

	mark := p.LastMark
	if mark.IsZero() {
		mark = price
	}
	p.UnrealizedPnL = UnrealizedAt(p.AvgPrice, p.Quantity, mark)
	return *p, nil
}

// Restore replaces a registered symbol's state, e.g. from the journal at startup.
// Positions for unknown symbols are ignored.
func (l *Ledger) Restore(pos Position) {
	p, ok := l.positions[pos.Symbol]
	if !ok {
		return
	}
	*p = pos
	if p.Quantity == 0 {
		p.AvgPrice = decimal.Zero
	}
	p.UnrealizedPnL = decimal.Zero
	if p.LastMark.IsPositive() {
		p.UnrealizedPnL = UnrealizedAt(p.AvgPrice, p.Quantity, p.LastMark)
	}
}

func sameSign(a, b int64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
