package db

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, ApplyMigrations(database))
	return database
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	require.NoError(t, ApplyMigrations(database))

	ok, err := columnExists(database.DB, "strategy_orders", "client_id")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStrategyPositionRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	p := StrategyPosition{
		StrategyID:  "arb",
		Symbol:      "AAPL",
		Qty:         -150,
		AvgPrice:    decimal.RequireFromString("100.015"),
		RealizedPnL: decimal.RequireFromString("-12.5"),
		LastMark:    decimal.RequireFromString("100.01"),
	}
	require.NoError(t, database.UpsertStrategyPosition(ctx, p))
	p.Qty = -50
	require.NoError(t, database.UpsertStrategyPosition(ctx, p))

	got, err := database.ListStrategyPositions(ctx, "arb")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(-50), got[0].Qty)
	assert.True(t, got[0].AvgPrice.Equal(p.AvgPrice))
	assert.True(t, got[0].RealizedPnL.Equal(p.RealizedPnL))
	assert.False(t, got[0].UpdatedAt.IsZero())

	other, err := database.ListStrategyPositions(ctx, "mm")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestStrategyOrdersLifecycle(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	for _, id := range []uint64{20001, 20000} {
		require.NoError(t, database.UpsertStrategyOrder(ctx, StrategyOrder{
			StrategyID: "mm", ID: id, ClientID: 2, Symbol: "AAPL", Side: "BUY", Type: "LIMIT",
			Price: decimal.RequireFromString("100.899"), Qty: 100, Status: OrderStatusOpen, CreatedAt: time.Now(),
		}))
	}

	open, err := database.ListStrategyOrders(ctx, "mm", OrderStatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, uint64(20000), open[0].ID)
	assert.Equal(t, uint32(2), open[0].ClientID)
	assert.True(t, open[0].Price.Equal(decimal.RequireFromString("100.899")))

	require.NoError(t, database.UpdateStrategyOrderStatus(ctx, "mm", 20000, OrderStatusCancelRequested))
	require.NoError(t, database.UpdateStrategyOrderStatus(ctx, "mm", 99, OrderStatusFilled))

	n, err := database.AbandonOpenOrders(ctx, "mm")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	open, err = database.ListStrategyOrders(ctx, "mm", OrderStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOrderWatermarkNeverDecreases(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, ok, err := database.GetOrderWatermark(ctx, "arb")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, database.SetOrderWatermark(ctx, "arb", 10005))
	require.NoError(t, database.SetOrderWatermark(ctx, "arb", 10002))

	id, ok, err := database.GetOrderWatermark(ctx, "arb")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(10005), id)
}

func TestFillsIgnoreDuplicates(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	f := Fill{TradeID: "t-1", StrategyID: "arb", ClientID: 1, OrderID: 10000, Symbol: "AAPL", Side: "BUY", Qty: 100, Price: decimal.RequireFromString("100")}
	require.NoError(t, database.InsertFill(ctx, f))
	require.NoError(t, database.InsertFill(ctx, f))
	f.TradeID = "t-2"
	require.NoError(t, database.InsertFill(ctx, f))

	got, err := database.ListFills(ctx, "arb", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, uint64(10000), got[0].OrderID)
}
