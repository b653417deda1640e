package portfolio

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/ledger"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

func init() {
	logger.Discard()
}

type staticPositions []ledger.Position

func (s staticPositions) Positions() []ledger.Position { return s }

type MockSnapshotSource struct {
	mock.Mock
}

func (m *MockSnapshotSource) OrderBookSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.Snapshot), args.Error(1)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSummarizeSurvivesFailingSymbol(t *testing.T) {
	positions := staticPositions{
		{Symbol: "AAPL", Quantity: -100, AvgPrice: d("100"), RealizedPnL: d("5"), UnrealizedPnL: d("-10")},
		{Symbol: "MSFT", Quantity: 50, AvgPrice: d("200"), RealizedPnL: d("1"), UnrealizedPnL: d("25")},
	}
	books := new(MockSnapshotSource)
	books.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(market.Snapshot{
		Symbol: "AAPL",
		Bids:   []market.Level{{Price: d("100"), Quantity: 10}},
		Asks:   []market.Level{{Price: d("102"), Quantity: 10}},
	}, nil)
	books.On("OrderBookSnapshot", mock.Anything, "MSFT").Return(market.Snapshot{}, exception.ErrServiceUnavailable)

	sum := NewAggregator(positions, books).Summarize(context.Background())

	require.Len(t, sum.Symbols, 2)
	assert.True(t, sum.TotalPnL.Equal(d("21")), "total pnl %s", sum.TotalPnL)
	assert.True(t, sum.TotalNotional.Equal(d("10100")), "total notional %s", sum.TotalNotional)

	aapl := sum.Symbols[0]
	assert.Equal(t, "AAPL", aapl.Symbol)
	assert.True(t, aapl.Mid.Equal(d("101")))
	assert.True(t, aapl.Notional.Equal(d("10100")))
	assert.Empty(t, aapl.SnapshotErr)

	msft := sum.Symbols[1]
	assert.Equal(t, "MSFT", msft.Symbol)
	assert.True(t, msft.PnL.Equal(d("26")))
	assert.True(t, msft.Notional.IsZero())
	assert.Contains(t, msft.SnapshotErr, "service unavailable")
	books.AssertExpectations(t)
}

func TestSummarizeEmptySideContributesNoNotional(t *testing.T) {
	positions := staticPositions{{Symbol: "AAPL", Quantity: 10, AvgPrice: d("100"), UnrealizedPnL: d("3")}}
	books := new(MockSnapshotSource)
	books.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(market.Snapshot{
		Symbol: "AAPL",
		Bids:   []market.Level{{Price: d("100"), Quantity: 10}},
	}, nil)

	sum := NewAggregator(positions, books).Summarize(context.Background())
	assert.True(t, sum.TotalNotional.IsZero())
	assert.True(t, sum.TotalPnL.Equal(d("3")))
	assert.Empty(t, sum.Symbols[0].SnapshotErr)
}

func TestSummarizeNoPositions(t *testing.T) {
	sum := NewAggregator(staticPositions{}, new(MockSnapshotSource)).Summarize(context.Background())
	assert.Empty(t, sum.Symbols)
	assert.True(t, sum.TotalPnL.IsZero())
	assert.True(t, sum.TotalNotional.IsZero())
}

func TestSummarizeWithoutSnapshotSource(t *testing.T) {
	positions := staticPositions{{Symbol: "AAPL", Quantity: 10, AvgPrice: d("100"), UnrealizedPnL: d("3")}}

	sum := NewAggregator(positions, nil).Summarize(context.Background())
	require.Len(t, sum.Symbols, 1)
	assert.Contains(t, sum.Symbols[0].SnapshotErr, exception.ErrServiceUnavailable.Error())
	assert.True(t, sum.TotalNotional.IsZero())
	assert.True(t, sum.TotalPnL.Equal(d("3")))
}
