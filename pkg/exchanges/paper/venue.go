// Package paper is an in-process matching service for dry runs and tests.
//
// The book a client sees is synthetic depth laid around the last traded price
// plus every resting order submitted to the venue. Resting limit orders fill when
// a later trade prints through their price; marketable orders fill on arrival.
package paper

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/common"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

// Config shapes the synthetic depth.
type Config struct {
	Symbols     []string
	DepthLevels int             // synthetic levels per side
	DepthSpread decimal.Decimal // distance between synthetic levels, and from last price to the touch
	LevelQty    int64
}

type restingOrder struct {
	req      common.OrderRequest
	filled   int64
	accepted time.Time
}

func (r *restingOrder) remaining() int64 { return r.req.Quantity - r.filled }

// Venue implements common.MatchingService and common.FillReporter.
type Venue struct {
	cfg Config

	mu      sync.Mutex
	last    map[string]decimal.Decimal
	resting map[string]map[uint64]*restingOrder // symbol -> id -> order
	seen    map[uint64]bool

	subMu   sync.RWMutex
	nextSub uint64
	mdSubs  map[uint64]func(market.MarketData)
	fills   map[uint64]func(common.Fill)

	ordersProcessed uint64
	tradesExecuted  uint64
	latencyTotal    time.Duration
}

func New(cfg Config) (*Venue, error) {
	if len(cfg.Symbols) == 0 {
		return nil, exception.ErrEmptySymbolSet
	}
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 5
	}
	if !cfg.DepthSpread.IsPositive() {
		cfg.DepthSpread = decimal.RequireFromString("0.03")
	}
	if cfg.LevelQty <= 0 {
		cfg.LevelQty = 500
	}
	v := &Venue{
		cfg:     cfg,
		last:    make(map[string]decimal.Decimal, len(cfg.Symbols)),
		resting: make(map[string]map[uint64]*restingOrder, len(cfg.Symbols)),
		seen:    make(map[uint64]bool),
		mdSubs:  make(map[uint64]func(market.MarketData)),
		fills:   make(map[uint64]func(common.Fill)),
	}
	for _, s := range cfg.Symbols {
		v.resting[s] = make(map[uint64]*restingOrder)
	}
	return v, nil
}

// SubmitOrder accepts or rejects an order. Rejections are reported as false, not as errors.
func (v *Venue) SubmitOrder(ctx context.Context, req common.OrderRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.Wrap(exception.ErrServiceUnavailable, err.Error())
	}
	start := time.Now()

	v.mu.Lock()
	fills, accepted := v.submitLocked(req, start)
	v.latencyTotal += time.Since(start)
	v.mu.Unlock()

	if !accepted {
		logger.WithField("order_id", req.ID).Debugf("paper: rejected %s %s %d @ %s", req.Side, req.Symbol, req.Quantity, req.Price)
	}
	v.emitFills(fills)
	return accepted, nil
}

func (v *Venue) submitLocked(req common.OrderRequest, now time.Time) ([]common.Fill, bool) {
	v.ordersProcessed++

	book, ok := v.resting[req.Symbol]
	if !ok || req.Quantity <= 0 || v.seen[req.ID] {
		return nil, false
	}
	if req.Side != order.SideBuy && req.Side != order.SideSell {
		return nil, false
	}
	last, hasLast := v.last[req.Symbol]

	switch req.Type {
	case order.TypeMarket:
		if !hasLast {
			return nil, false
		}
		v.seen[req.ID] = true
		touch := last.Add(v.cfg.DepthSpread)
		if req.Side == order.SideSell {
			touch = last.Sub(v.cfg.DepthSpread)
		}
		return []common.Fill{v.fillLocked(req, req.Quantity, touch, now)}, true

	case order.TypeLimit:
		if !req.Price.IsPositive() {
			return nil, false
		}
		v.seen[req.ID] = true
		if hasLast {
			ask := last.Add(v.cfg.DepthSpread)
			bid := last.Sub(v.cfg.DepthSpread)
			if req.Side == order.SideBuy && req.Price.GreaterThanOrEqual(ask) {
				return []common.Fill{v.fillLocked(req, req.Quantity, ask, now)}, true
			}
			if req.Side == order.SideSell && req.Price.LessThanOrEqual(bid) {
				return []common.Fill{v.fillLocked(req, req.Quantity, bid, now)}, true
			}
		}
		book[req.ID] = &restingOrder{req: req, accepted: now}
		return nil, true

	default:
		// stop orders need a trigger model the paper venue does not have
		return nil, false
	}
}

func (v *Venue) fillLocked(req common.OrderRequest, qty int64, price decimal.Decimal, now time.Time) common.Fill {
	v.tradesExecuted++
	return common.Fill{
		TradeID:   uuid.NewString(),
		OrderID:   req.ID,
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  qty,
		Price:     price,
		Timestamp: now,
	}
}

// CancelOrder removes a resting order. Unknown or already filled ids return false.
func (v *Venue) CancelOrder(ctx context.Context, orderID uint64, symbol string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.Wrap(exception.ErrServiceUnavailable, err.Error())
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ordersProcessed++

	book, ok := v.resting[symbol]
	if !ok {
		return false, nil
	}
	if _, ok := book[orderID]; !ok {
		return false, nil
	}
	delete(book, orderID)
	return true, nil
}

// OrderBookSnapshot merges synthetic depth with resting orders. Before the first
// trade for a symbol only resting orders are visible.
func (v *Venue) OrderBookSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.Snapshot{}, errors.Wrap(exception.ErrServiceUnavailable, err.Error())
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	book, ok := v.resting[symbol]
	if !ok {
		return market.Snapshot{}, errors.Wrapf(exception.ErrUnknownSymbol, "paper: %s", symbol)
	}

	bids := make(map[string]*market.Level)
	asks := make(map[string]*market.Level)
	add := func(side map[string]*market.Level, price decimal.Decimal, qty int64) {
		key := price.String()
		if lvl, ok := side[key]; ok {
			lvl.Quantity += qty
			return
		}
		side[key] = &market.Level{Price: price, Quantity: qty}
	}

	if last, ok := v.last[symbol]; ok {
		for i := 1; i <= v.cfg.DepthLevels; i++ {
			off := v.cfg.DepthSpread.Mul(decimal.NewFromInt(int64(i)))
			if bid := last.Sub(off); bid.IsPositive() {
				add(bids, bid, v.cfg.LevelQty)
			}
			add(asks, last.Add(off), v.cfg.LevelQty)
		}
	}
	for _, r := range book {
		if r.req.Side == order.SideBuy {
			add(bids, r.req.Price, r.remaining())
		} else {
			add(asks, r.req.Price, r.remaining())
		}
	}

	snap := market.Snapshot{Symbol: symbol, Timestamp: time.Now()}
	snap.Bids = sortedLevels(bids, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
	snap.Asks = sortedLevels(asks, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
	return snap, nil
}

func sortedLevels(side map[string]*market.Level, less func(a, b decimal.Decimal) bool) []market.Level {
	out := make([]market.Level, 0, len(side))
	for _, lvl := range side {
		out = append(out, *lvl)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i].Price, out[j].Price) })
	return out
}

// Publish records a trade print, fills resting orders it crosses, then fans the
// update out to subscribers. Fills are delivered before the market data.
func (v *Venue) Publish(md market.MarketData) {
	var fills []common.Fill

	v.mu.Lock()
	if book, ok := v.resting[md.Symbol]; ok && md.Price.IsPositive() {
		v.last[md.Symbol] = md.Price
		ids := make([]uint64, 0, len(book))
		for id := range book {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			r := book[id]
			crossed := (r.req.Side == order.SideBuy && md.Price.LessThanOrEqual(r.req.Price)) ||
				(r.req.Side == order.SideSell && md.Price.GreaterThanOrEqual(r.req.Price))
			if !crossed {
				continue
			}
			fills = append(fills, v.fillLocked(r.req, r.remaining(), r.req.Price, md.Timestamp))
			delete(book, id)
		}
	}
	v.mu.Unlock()

	v.emitFills(fills)

	v.subMu.RLock()
	handlers := make([]func(market.MarketData), 0, len(v.mdSubs))
	for _, h := range v.mdSubs {
		handlers = append(handlers, h)
	}
	v.subMu.RUnlock()
	for _, h := range handlers {
		h(md)
	}
}

func (v *Venue) emitFills(fills []common.Fill) {
	if len(fills) == 0 {
		return
	}
	v.subMu.RLock()
	handlers := make([]func(common.Fill), 0, len(v.fills))
	for _, h := range v.fills {
		handlers = append(handlers, h)
	}
	v.subMu.RUnlock()
	for _, f := range fills {
		for _, h := range handlers {
			h(f)
		}
	}
}

func (v *Venue) SubscribeMarketData(handler func(market.MarketData)) (func(), error) {
	if handler == nil {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "paper: nil market data handler")
	}
	v.subMu.Lock()
	defer v.subMu.Unlock()
	v.nextSub++
	id := v.nextSub
	v.mdSubs[id] = handler
	return func() {
		v.subMu.Lock()
		delete(v.mdSubs, id)
		v.subMu.Unlock()
	}, nil
}

func (v *Venue) SubscribeFills(handler func(common.Fill)) (func(), error) {
	if handler == nil {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "paper: nil fill handler")
	}
	v.subMu.Lock()
	defer v.subMu.Unlock()
	v.nextSub++
	id := v.nextSub
	v.fills[id] = handler
	return func() {
		v.subMu.Lock()
		delete(v.fills, id)
		v.subMu.Unlock()
	}, nil
}

// PerformanceMetrics reports orders_processed, trades_executed,
// avg_latency_microseconds and resting_orders.
func (v *Venue) PerformanceMetrics(ctx context.Context) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(exception.ErrServiceUnavailable, err.Error())
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	var avg float64
	if v.ordersProcessed > 0 {
		avg = float64(v.latencyTotal.Microseconds()) / float64(v.ordersProcessed)
	}
	resting := 0
	for _, book := range v.resting {
		resting += len(book)
	}
	return map[string]float64{
		"orders_processed":         float64(v.ordersProcessed),
		"trades_executed":          float64(v.tradesExecuted),
		"avg_latency_microseconds": avg,
		"resting_orders":           float64(resting),
	}, nil
}
