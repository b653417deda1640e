package market

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

// Publisher accepts market data for fan-out, e.g. the paper venue.
type Publisher interface {
	Publish(md MarketData)
}

// MockFeed generates a per-symbol random walk of sequenced trades for local runs.
type MockFeed struct {
	Sink       Publisher
	Symbols    []string
	StartPrice decimal.Decimal
	Step       decimal.Decimal
	Interval   time.Duration
	Seed       int64

	once   sync.Once
	rng    *rand.Rand
	prices map[string]decimal.Decimal
	seq    map[string]uint64
}

func (m *MockFeed) init() {
	m.once.Do(func() {
		if m.StartPrice.IsZero() {
			m.StartPrice = decimal.NewFromInt(100)
		}
		if m.Step.IsZero() {
			m.Step = decimal.RequireFromString("0.05")
		}
		if m.Interval == 0 {
			m.Interval = time.Second
		}
		seed := m.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		m.rng = rand.New(rand.NewSource(seed))
		m.prices = make(map[string]decimal.Decimal, len(m.Symbols))
		m.seq = make(map[string]uint64, len(m.Symbols))
		for _, s := range m.Symbols {
			m.prices[s] = m.StartPrice
		}
	})
}

// Run publishes one update per symbol every Interval until ctx is done.
func (m *MockFeed) Run(ctx context.Context) error {
	if m.Sink == nil {
		logger.Warnf("mock feed: sink not set")
		return nil
	}
	m.init()

	t := time.NewTicker(m.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			m.Tick(now)
		}
	}
}

// Tick moves every symbol one step and publishes the result. Not safe for
// concurrent use with Run.
func (m *MockFeed) Tick(now time.Time) {
	m.init()
	half := m.Step.Div(decimal.NewFromInt(2))
	for _, sym := range m.Symbols {
		// simple random walk, floored at one step
		move := m.Step.Mul(decimal.NewFromInt(int64(m.rng.Intn(3) - 1)))
		price := m.prices[sym].Add(move)
		if price.LessThan(m.Step) {
			price = m.Step
		}
		m.prices[sym] = price
		m.seq[sym]++

		m.Sink.Publish(MarketData{
			Symbol:    sym,
			Kind:      KindTrade,
			Price:     price,
			Quantity:  int64(1 + m.rng.Intn(100)),
			BidPrice:  price.Sub(half),
			AskPrice:  price.Add(half),
			Sequence:  m.seq[sym],
			Timestamp: now,
		})
	}
}
