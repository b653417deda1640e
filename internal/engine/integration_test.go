package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/events"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/state"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/strategy"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/db"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/paper"
)

func newJournal(t *testing.T) (*db.Database, *state.Manager) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { _ = database.Close() })
	return database, state.NewManager(database)
}

func newPaperRunner(t *testing.T, venue *paper.Venue, journal Journal, bus *events.Bus) *Runner {
	t.Helper()
	p, err := strategy.NewSpreadCapture(strategy.DefaultSpreadCaptureConfig())
	require.NoError(t, err)
	r, err := NewRunner(Options{
		ID:          "arb",
		ClientID:    1,
		OrderIDBase: 10000,
		Symbols:     []string{"AAPL"},
		Policy:      p,
		Service:     venue,
		Journal:     journal,
		Bus:         bus,
	})
	require.NoError(t, err)
	return r
}

func TestRunnerAgainstPaperVenue(t *testing.T) {
	venue, err := paper.New(paper.Config{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	database, journal := newJournal(t)
	bus := events.NewBus()
	fills, unsub := bus.Subscribe(events.EventOrderFilled, 8)
	defer unsub()

	r := newPaperRunner(t, venue, journal, bus)
	require.NoError(t, r.Start(context.Background()))

	// touch at 99.97 / 100.03: wide enough to quote both sides
	venue.Publish(tick("AAPL", "100", 1))
	require.Eventually(t, func() bool { return len(r.ActiveOrders("AAPL")) == 2 }, 2*time.Second, 5*time.Millisecond)

	// trade through the resting bid
	venue.Publish(tick("AAPL", "99.95", 2))
	require.Eventually(t, func() bool {
		p, _ := r.Position("AAPL")
		return p.Quantity == 100
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop())

	pos, err := r.Position("AAPL")
	require.NoError(t, err)
	assert.True(t, pos.AvgPrice.Equal(d("99.97")), "avg %s", pos.AvgPrice)

	select {
	case f := <-fills:
		require.NotNil(t, f)
	case <-time.After(time.Second):
		t.Fatal("no fill event")
	}

	stored, err := database.ListStrategyPositions(context.Background(), "arb")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(100), stored[0].Qty)

	filled, err := database.ListStrategyOrders(context.Background(), "arb", db.OrderStatusFilled)
	require.NoError(t, err)
	require.Len(t, filled, 1)
	assert.Equal(t, uint64(10000), filled[0].ID)
}

func TestRunnerResumesFromJournal(t *testing.T) {
	venue, err := paper.New(paper.Config{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	database, journal := newJournal(t)
	ctx := context.Background()

	first := newPaperRunner(t, venue, journal, nil)
	require.NoError(t, first.Start(ctx))
	venue.Publish(tick("AAPL", "100", 1))
	require.Eventually(t, func() bool { return len(first.ActiveOrders("AAPL")) == 2 }, 2*time.Second, 5*time.Millisecond)
	venue.Publish(tick("AAPL", "99.95", 2))
	require.Eventually(t, func() bool {
		p, _ := first.Position("AAPL")
		return p.Quantity == 100
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, first.Stop())
	lastID := first.Info().LastOrderID

	second := newPaperRunner(t, venue, journal, nil)
	require.NoError(t, second.Start(ctx))
	defer func() { _ = second.Stop() }()

	pos, err := second.Position("AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), pos.Quantity)
	assert.True(t, pos.AvgPrice.Equal(d("99.97")))
	assert.Equal(t, lastID, second.Info().LastOrderID, "ids continue after the watermark")
	assert.Empty(t, second.ActiveOrders("AAPL"))

	open, err := database.ListStrategyOrders(ctx, "arb", db.OrderStatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
	abandoned, err := database.ListStrategyOrders(ctx, "arb", db.OrderStatusAbandoned)
	require.NoError(t, err)
	assert.NotEmpty(t, abandoned)
}

func TestDefaultStrategiesShareOneVenue(t *testing.T) {
	venue, err := paper.New(paper.Config{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	_, journal := newJournal(t)
	ctx := context.Background()

	defs := strategy.DefaultDefinitions([]string{"AAPL"})
	require.Len(t, defs, 2)
	// the spread runner resumes past 10000 allocated ids, the distance that used to
	// separate the two default bases
	resumeAt := defs[0].OrderIDBase + 10_100
	require.NoError(t, journal.SaveWatermark(ctx, defs[0].ID, resumeAt))

	runners := make([]*Runner, 0, len(defs))
	for _, def := range defs {
		p, err := strategy.Build(def)
		require.NoError(t, err)
		r, err := NewRunner(Options{
			ID:          def.ID,
			ClientID:    def.ClientID,
			OrderIDBase: def.OrderIDBase,
			Symbols:     def.Symbols,
			Policy:      p,
			Service:     venue,
			Journal:     journal,
			QueueSize:   def.QueueSize,
		})
		require.NoError(t, err)
		require.NoError(t, r.Start(ctx))
		t.Cleanup(func() { _ = r.Stop() })
		runners = append(runners, r)
	}

	const ticks = 150
	for seq := uint64(1); seq <= ticks; seq++ {
		venue.Publish(tick("AAPL", "100", seq))
	}
	for _, r := range runners {
		require.Eventually(t, func() bool {
			m := r.Metrics().Snapshot()
			return m.EventsProcessed == ticks && m.OrdersPlaced+m.OrdersRejected == 2*ticks
		}, 5*time.Second, 5*time.Millisecond, "runner %s", r.ID())
	}

	arb, mm := runners[0], runners[1]
	for _, r := range runners {
		m := r.Metrics().Snapshot()
		assert.Zero(t, m.OrdersRejected, "runner %s", r.ID())
		assert.Equal(t, uint64(2*ticks), m.OrdersPlaced, "runner %s", r.ID())
	}
	assert.Equal(t, resumeAt+2*ticks, arb.Info().LastOrderID)
	assert.Equal(t, defs[1].OrderIDBase+2*ticks-1, mm.Info().LastOrderID)
	for _, o := range mm.ActiveOrders("AAPL") {
		assert.GreaterOrEqual(t, o.ID, defs[1].OrderIDBase)
	}
}
