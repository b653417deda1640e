// Package portfolio rolls a strategy's positions up into one summary.
package portfolio

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/ledger"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

// PositionSource exposes the positions to summarize. *engine.Runner implements it.
type PositionSource interface {
	Positions() []ledger.Position
}

// SnapshotSource provides order books for mid prices. common.MatchingService implements it.
type SnapshotSource interface {
	OrderBookSnapshot(ctx context.Context, symbol string) (market.Snapshot, error)
}

// SymbolSummary is one symbol's line in a Summary.
type SymbolSummary struct {
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	AvgPrice    decimal.Decimal `json:"avg_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	PnL         decimal.Decimal `json:"pnl"`
	Mid         decimal.Decimal `json:"mid"`
	Notional    decimal.Decimal `json:"notional"`
	SnapshotErr string          `json:"snapshot_error,omitempty"`
}

// Summary is the portfolio view of one position source.
type Summary struct {
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalNotional decimal.Decimal `json:"total_notional"`
	Symbols       []SymbolSummary `json:"symbols"`
	At            time.Time       `json:"at"`
}

type Aggregator struct {
	positions PositionSource
	books     SnapshotSource
}

func NewAggregator(positions PositionSource, books SnapshotSource) *Aggregator {
	return &Aggregator{positions: positions, books: books}
}

// Summarize never fails as a whole. A symbol whose snapshot cannot be read, or
// whose book has an empty side, contributes zero notional but its PnL still counts.
func (a *Aggregator) Summarize(ctx context.Context) Summary {
	out := Summary{
		TotalPnL:      decimal.Zero,
		TotalNotional: decimal.Zero,
		At:            time.Now(),
	}
	for _, p := range a.positions.Positions() {
		line := SymbolSummary{
			Symbol:      p.Symbol,
			Quantity:    p.Quantity,
			AvgPrice:    p.AvgPrice,
			RealizedPnL: p.RealizedPnL,
			PnL:         p.PnL(),
			Mid:         decimal.Zero,
			Notional:    decimal.Zero,
		}

		book, err := a.snapshot(ctx, p.Symbol)
		if err != nil {
			line.SnapshotErr = err.Error()
			logger.WithFields(logrus.Fields{"symbol": p.Symbol}).Debugf("portfolio: snapshot unavailable: %v", err)
		} else if mid, ok := book.Mid(); ok {
			line.Mid = mid
			line.Notional = mid.Mul(decimal.NewFromInt(p.Quantity)).Abs()
		}

		out.TotalPnL = out.TotalPnL.Add(line.PnL)
		out.TotalNotional = out.TotalNotional.Add(line.Notional)
		out.Symbols = append(out.Symbols, line)
	}
	return out
}

func (a *Aggregator) snapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if a.books == nil {
		return market.Snapshot{}, errors.Wrap(exception.ErrServiceUnavailable, "no snapshot source")
	}
	return a.books.OrderBookSnapshot(ctx, symbol)
}
