package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/events"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/strategy"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/common"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

func init() {
	logger.Discard()
}

type MockMatchingService struct {
	mock.Mock
}

func (m *MockMatchingService) SubmitOrder(ctx context.Context, req common.OrderRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

func (m *MockMatchingService) CancelOrder(ctx context.Context, orderID uint64, symbol string) (bool, error) {
	args := m.Called(ctx, orderID, symbol)
	return args.Bool(0), args.Error(1)
}

func (m *MockMatchingService) OrderBookSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(market.Snapshot), args.Error(1)
}

func (m *MockMatchingService) SubscribeMarketData(handler func(market.MarketData)) (func(), error) {
	args := m.Called(handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(func()), args.Error(1)
}

func (m *MockMatchingService) PerformanceMetrics(ctx context.Context) (map[string]float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]float64), args.Error(1)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func book(symbol, bid, ask string) market.Snapshot {
	return market.Snapshot{
		Symbol: symbol,
		Bids:   []market.Level{{Price: d(bid), Quantity: 50}},
		Asks:   []market.Level{{Price: d(ask), Quantity: 50}},
	}
}

func tick(symbol, price string, seq uint64) market.MarketData {
	return market.MarketData{Symbol: symbol, Kind: market.KindTrade, Price: d(price), Quantity: 1, Sequence: seq, Timestamp: time.Now()}
}

func newSpreadRunner(t *testing.T, svc common.MatchingService, bus *events.Bus) *Runner {
	t.Helper()
	p, err := strategy.NewSpreadCapture(strategy.DefaultSpreadCaptureConfig())
	require.NoError(t, err)
	r, err := NewRunner(Options{ID: "arb", ClientID: 1, OrderIDBase: 10000, Symbols: []string{"AAPL", "MSFT"}, Policy: p, Service: svc, Bus: bus})
	require.NoError(t, err)
	return r
}

func newQuoteRunner(t *testing.T, svc common.MatchingService, bus *events.Bus) *Runner {
	t.Helper()
	p, err := strategy.NewQuoteMaintenance(strategy.DefaultQuoteMaintenanceConfig())
	require.NoError(t, err)
	r, err := NewRunner(Options{ID: "mm", ClientID: 2, OrderIDBase: 20000, Symbols: []string{"AAPL"}, Policy: p, Service: svc, Bus: bus})
	require.NoError(t, err)
	return r
}

func TestNewRunnerValidation(t *testing.T) {
	svc := new(MockMatchingService)
	p, _ := strategy.NewSpreadCapture(strategy.DefaultSpreadCaptureConfig())

	tests := []struct {
		name string
		opts Options
		want error
	}{
		{name: "missing id", opts: Options{Symbols: []string{"AAPL"}, Policy: p, Service: svc}, want: exception.ErrInvalidConfig},
		{name: "missing policy", opts: Options{ID: "x", Symbols: []string{"AAPL"}, Service: svc}, want: exception.ErrInvalidConfig},
		{name: "missing service", opts: Options{ID: "x", Symbols: []string{"AAPL"}, Policy: p}, want: exception.ErrInvalidConfig},
		{name: "no symbols", opts: Options{ID: "x", Policy: p, Service: svc}, want: exception.ErrEmptySymbolSet},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRunner(tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestProcessContinuesAfterSubmitFailure(t *testing.T) {
	svc := new(MockMatchingService)
	bus := events.NewBus()
	rejected, unsub := bus.Subscribe(events.EventOrderRejected, 4)
	defer unsub()

	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(book("AAPL", "100.00", "100.03"), nil)
	svc.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r common.OrderRequest) bool { return r.ID == 10000 })).
		Return(false, exception.ErrServiceUnavailable).Once()
	svc.On("SubmitOrder", mock.Anything, mock.MatchedBy(func(r common.OrderRequest) bool { return r.ID == 10001 })).
		Return(true, nil).Once()

	r := newSpreadRunner(t, svc, bus)
	rep, err := r.Process(context.Background(), tick("AAPL", "100.01", 0))
	require.NoError(t, err)

	require.Len(t, rep.Actions, 2)
	assert.Equal(t, order.SideBuy, rep.Actions[0].Side)
	assert.True(t, rep.Actions[0].Price.Equal(d("100.00")))
	assert.Equal(t, order.SideSell, rep.Actions[1].Side)
	assert.True(t, rep.Actions[1].Price.Equal(d("100.03")))
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Placed)

	active := r.ActiveOrders("AAPL")
	require.Len(t, active, 1)
	assert.Equal(t, uint64(10001), active[0].ID)
	assert.Equal(t, order.SideSell, active[0].Side)
	assert.Equal(t, uint64(10001), r.Info().LastOrderID)

	evt := (<-rejected).(events.OrderEvent)
	assert.Equal(t, uint64(10000), evt.OrderID)

	pos, err := r.Position("AAPL")
	require.NoError(t, err)
	assert.True(t, pos.LastMark.Equal(d("100.01")))
	svc.AssertExpectations(t)
}

func TestProcessRejectionBurnsID(t *testing.T) {
	svc := new(MockMatchingService)
	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(book("AAPL", "100.00", "100.03"), nil)
	svc.On("SubmitOrder", mock.Anything, mock.Anything).Return(false, nil)

	r := newSpreadRunner(t, svc, nil)
	rep, err := r.Process(context.Background(), tick("AAPL", "100", 0))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Rejected)
	assert.Empty(t, r.ActiveOrders("AAPL"))

	rep, err = r.Process(context.Background(), tick("AAPL", "100", 0))
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Rejected)
	assert.Equal(t, uint64(10003), r.Info().LastOrderID)
}

func TestProcessQuoteMaintenanceKeepsLiveSetBounded(t *testing.T) {
	svc := new(MockMatchingService)
	bus := events.NewBus()
	orphans, unsub := bus.Subscribe(events.EventOrderOrphaned, 8)
	defer unsub()

	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(book("AAPL", "100", "102"), nil)
	svc.On("SubmitOrder", mock.Anything, mock.Anything).Return(true, nil)
	svc.On("CancelOrder", mock.Anything, uint64(20000), "AAPL").Return(false, errors.New("timeout")).Once()
	svc.On("CancelOrder", mock.Anything, mock.Anything, "AAPL").Return(true, nil)

	r := newQuoteRunner(t, svc, bus)
	ctx := context.Background()

	rep, err := r.Process(ctx, tick("AAPL", "101", 1))
	require.NoError(t, err)
	require.Len(t, rep.Actions, 2)
	assert.True(t, rep.Actions[0].Price.Equal(d("100.899")))
	assert.True(t, rep.Actions[1].Price.Equal(d("101.101")))

	for seq := uint64(2); seq <= 20; seq++ {
		rep, err = r.Process(ctx, tick("AAPL", "101", seq))
		require.NoError(t, err)
		require.Len(t, rep.Actions, 4)
		assert.Equal(t, order.ActionCancel, rep.Actions[0].Kind)
		assert.Equal(t, order.ActionCancel, rep.Actions[1].Kind)
		assert.Len(t, r.ActiveOrders("AAPL"), 2)
	}

	ids := make([]uint64, 0, 2)
	for _, o := range r.ActiveOrders("AAPL") {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []uint64{20038, 20039}, ids)

	evt := (<-orphans).(events.OrderEvent)
	assert.Equal(t, uint64(20000), evt.OrderID)
	assert.Equal(t, uint64(1), r.Metrics().Snapshot().CancelsFailed)
}

func TestProcessDiscardsUnmanagedAndStale(t *testing.T) {
	svc := new(MockMatchingService)
	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(market.Snapshot{Symbol: "AAPL"}, nil)

	r := newSpreadRunner(t, svc, nil)
	ctx := context.Background()

	rep, err := r.Process(ctx, tick("TSLA", "10", 1))
	require.NoError(t, err)
	assert.True(t, rep.Ignored)
	svc.AssertNotCalled(t, "OrderBookSnapshot", mock.Anything, "TSLA")

	rep, err = r.Process(ctx, tick("AAPL", "100", 5))
	require.NoError(t, err)
	assert.False(t, rep.Stale)
	assert.Empty(t, rep.Actions, "empty book yields no actions")

	for _, seq := range []uint64{5, 4} {
		rep, err = r.Process(ctx, tick("AAPL", "150", seq))
		require.NoError(t, err)
		assert.True(t, rep.Stale)
	}
	pos, _ := r.Position("AAPL")
	assert.True(t, pos.LastMark.Equal(d("100")), "stale events must not mark")

	// sequences are tracked per symbol
	svc.On("OrderBookSnapshot", mock.Anything, "MSFT").Return(market.Snapshot{Symbol: "MSFT"}, nil)
	rep, err = r.Process(ctx, tick("MSFT", "50", 1))
	require.NoError(t, err)
	assert.False(t, rep.Stale)

	svc.AssertNumberOfCalls(t, "OrderBookSnapshot", 2)
	assert.Equal(t, uint64(2), r.Metrics().Snapshot().EventsStale)
}

func TestProcessSnapshotFailure(t *testing.T) {
	svc := new(MockMatchingService)
	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(market.Snapshot{}, exception.ErrServiceUnavailable)

	r := newSpreadRunner(t, svc, nil)
	_, err := r.Process(context.Background(), tick("AAPL", "99", 0))
	assert.ErrorIs(t, err, exception.ErrServiceUnavailable)

	pos, _ := r.Position("AAPL")
	assert.True(t, pos.LastMark.Equal(d("99")))
	svc.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything)
}

func TestProcessMalformedPayload(t *testing.T) {
	r := newSpreadRunner(t, new(MockMatchingService), nil)
	_, err := r.Process(context.Background(), market.MarketData{Symbol: "AAPL", Price: d("-1"), Timestamp: time.Now()})
	assert.ErrorIs(t, err, exception.ErrMalformedPayload)
}

func TestMalformedUnmanagedEventIsIgnored(t *testing.T) {
	svc := new(MockMatchingService)
	bus := events.NewBus()
	runnerErrs, unsub := bus.Subscribe(events.EventRunnerError, 4)
	defer unsub()

	r := newSpreadRunner(t, svc, bus)
	ctx := context.Background()

	bad := market.MarketData{Symbol: "TSLA", Price: d("-1")}
	rep, err := r.Process(ctx, bad)
	require.NoError(t, err)
	assert.True(t, rep.Ignored)

	r.handle(ctx, bad)
	assert.Zero(t, r.Metrics().Snapshot().ErrorsCount)
	select {
	case evt := <-runnerErrs:
		t.Fatalf("unexpected runner error %v", evt)
	default:
	}

	// without a symbol there is nothing to match against; the payload is rejected
	r.handle(ctx, market.MarketData{Price: d("1"), Timestamp: time.Now()})
	assert.Equal(t, uint64(1), r.Metrics().Snapshot().ErrorsCount)
	require.Len(t, runnerErrs, 1)
	svc.AssertNotCalled(t, "OrderBookSnapshot", mock.Anything, mock.Anything)
}

func TestApplyFill(t *testing.T) {
	svc := new(MockMatchingService)
	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(book("AAPL", "100.00", "100.03"), nil)
	svc.On("SubmitOrder", mock.Anything, mock.Anything).Return(true, nil)

	bus := events.NewBus()
	changes, unsub := bus.Subscribe(events.EventPositionChange, 4)
	defer unsub()

	r := newSpreadRunner(t, svc, bus)
	ctx := context.Background()
	_, err := r.Process(ctx, tick("AAPL", "100.01", 0))
	require.NoError(t, err)
	require.Len(t, r.ActiveOrders("AAPL"), 2)

	r.ApplyFill(ctx, common.Fill{OrderID: 10000, ClientID: 9, Symbol: "AAPL", Side: order.SideBuy, Quantity: 100, Price: d("100")})
	pos, _ := r.Position("AAPL")
	assert.True(t, pos.Flat(), "fills for other clients are ignored")

	r.ApplyFill(ctx, common.Fill{OrderID: 10000, ClientID: 1, Symbol: "AAPL", Side: order.SideBuy, Quantity: 40, Price: d("100")})
	require.Len(t, r.ActiveOrders("AAPL"), 2)
	r.ApplyFill(ctx, common.Fill{OrderID: 10000, ClientID: 1, Symbol: "AAPL", Side: order.SideBuy, Quantity: 60, Price: d("100")})

	active := r.ActiveOrders("AAPL")
	require.Len(t, active, 1)
	assert.Equal(t, uint64(10001), active[0].ID)

	pos, _ = r.Position("AAPL")
	assert.Equal(t, int64(100), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(d("100")))
	assert.True(t, pos.UnrealizedPnL.Equal(d("1")), "marked at 100.01, got %s", pos.UnrealizedPnL)

	evt := (<-changes).(events.PositionEvent)
	assert.Equal(t, "arb", evt.Strategy)
	assert.Equal(t, int64(40), evt.Position.Quantity)
}

func TestRunnerLifecycle(t *testing.T) {
	svc := new(MockMatchingService)
	var handler func(market.MarketData)
	unsubscribed := false
	svc.On("SubscribeMarketData", mock.Anything).
		Run(func(args mock.Arguments) { handler = args.Get(0).(func(market.MarketData)) }).
		Return(func() { unsubscribed = true }, nil)
	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(market.Snapshot{Symbol: "AAPL"}, nil)

	r := newSpreadRunner(t, svc, nil)
	assert.Equal(t, StateIdle, r.State())
	assert.ErrorIs(t, r.Stop(), exception.ErrRunnerState)

	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, StateRunning, r.State())
	assert.ErrorIs(t, r.Start(context.Background()), exception.ErrRunnerState)
	require.NotNil(t, handler)

	for seq := uint64(1); seq <= 5; seq++ {
		handler(tick("AAPL", "100", seq))
	}
	require.NoError(t, r.Stop())
	assert.Equal(t, StateStopped, r.State())
	assert.True(t, unsubscribed)
	assert.Equal(t, uint64(5), r.Metrics().Snapshot().EventsProcessed, "queued events are drained on stop")

	handler(tick("AAPL", "100", 6))
	assert.Equal(t, uint64(5), r.Metrics().Snapshot().EventsProcessed)
	assert.ErrorIs(t, r.Stop(), exception.ErrRunnerState)
	assert.ErrorIs(t, r.Start(context.Background()), exception.ErrRunnerState)
}

func TestRunnerDropsWhenInboxFull(t *testing.T) {
	svc := new(MockMatchingService)
	p, _ := strategy.NewSpreadCapture(strategy.DefaultSpreadCaptureConfig())
	r, err := NewRunner(Options{ID: "arb", Symbols: []string{"AAPL"}, Policy: p, Service: svc, QueueSize: 1})
	require.NoError(t, err)

	r.enqueue(tick("AAPL", "1", 1))
	r.enqueue(tick("AAPL", "1", 2))
	assert.Equal(t, uint64(1), r.Metrics().Snapshot().EventsDropped)
}

func TestRunnerLogsOrphansWithOrderFields(t *testing.T) {
	svc := new(MockMatchingService)
	svc.On("OrderBookSnapshot", mock.Anything, "AAPL").Return(book("AAPL", "100", "102"), nil)
	svc.On("SubmitOrder", mock.Anything, mock.Anything).Return(true, nil)
	svc.On("CancelOrder", mock.Anything, mock.Anything, "AAPL").Return(false, nil)

	base, hook := logtest.NewNullLogger()
	p, err := strategy.NewQuoteMaintenance(strategy.DefaultQuoteMaintenanceConfig())
	require.NoError(t, err)
	r, err := NewRunner(Options{
		ID: "mm", ClientID: 2, OrderIDBase: 20000, Symbols: []string{"AAPL"},
		Policy: p, Service: svc, Logger: logrus.NewEntry(base).WithField("env", "test"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = r.Process(ctx, tick("AAPL", "101", 1))
	require.NoError(t, err)
	_, err = r.Process(ctx, tick("AAPL", "101", 2))
	require.NoError(t, err)

	var orphaned []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			orphaned = append(orphaned, e)
		}
	}
	require.Len(t, orphaned, 2)
	assert.Equal(t, uint64(20000), orphaned[0].Data["order_id"])
	assert.Equal(t, "mm", orphaned[0].Data["strategy"])
	assert.Equal(t, "test", orphaned[0].Data["env"])
}
