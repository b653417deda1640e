package common

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

// GuardConfig bounds calls made through a Guard.
type GuardConfig struct {
	Timeout time.Duration // per call; 0 disables
	Rate    float64       // calls per second; 0 disables limiting
	Burst   int
}

// GuardUsage counts calls seen by a Guard.
type GuardUsage struct {
	Calls     uint64 `json:"calls"`
	Throttled uint64 `json:"throttled"`
	TimedOut  uint64 `json:"timed_out"`
	Failed    uint64 `json:"failed"`
}

// Guard wraps a MatchingService with a per-call timeout and a shared rate limit.
// Transport-level failures come back wrapped in exception.ErrServiceUnavailable;
// errors already carrying a sentinel from pkg/exception pass through unchanged.
type Guard struct {
	inner   MatchingService
	timeout time.Duration
	limiter *rate.Limiter

	calls, throttled, timedOut, failed atomic.Uint64
}

func NewGuard(inner MatchingService, cfg GuardConfig) *Guard {
	g := &Guard{inner: inner, timeout: cfg.Timeout}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return g
}

// Usage returns current counters.
func (g *Guard) Usage() GuardUsage {
	return GuardUsage{
		Calls:     g.calls.Load(),
		Throttled: g.throttled.Load(),
		TimedOut:  g.timedOut.Load(),
		Failed:    g.failed.Load(),
	}
}

func (g *Guard) SubmitOrder(ctx context.Context, req OrderRequest) (bool, error) {
	return guarded(g, ctx, "submit", func(ctx context.Context) (bool, error) {
		return g.inner.SubmitOrder(ctx, req)
	})
}

func (g *Guard) CancelOrder(ctx context.Context, orderID uint64, symbol string) (bool, error) {
	return guarded(g, ctx, "cancel", func(ctx context.Context) (bool, error) {
		return g.inner.CancelOrder(ctx, orderID, symbol)
	})
}

func (g *Guard) OrderBookSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	return guarded(g, ctx, "snapshot", func(ctx context.Context) (market.Snapshot, error) {
		return g.inner.OrderBookSnapshot(ctx, symbol)
	})
}

func (g *Guard) PerformanceMetrics(ctx context.Context) (map[string]float64, error) {
	return guarded(g, ctx, "metrics", func(ctx context.Context) (map[string]float64, error) {
		return g.inner.PerformanceMetrics(ctx)
	})
}

func (g *Guard) SubscribeMarketData(handler func(market.MarketData)) (func(), error) {
	unsub, err := g.inner.SubscribeMarketData(handler)
	if err != nil {
		return nil, mapServiceErr("subscribe market data", err)
	}
	return unsub, nil
}

// SubscribeFills forwards to the wrapped service when it reports fills.
func (g *Guard) SubscribeFills(handler func(Fill)) (func(), error) {
	fr, ok := g.inner.(FillReporter)
	if !ok {
		return nil, ErrFillsUnsupported
	}
	unsub, err := fr.SubscribeFills(handler)
	if err != nil {
		return nil, mapServiceErr("subscribe fills", err)
	}
	return unsub, nil
}

type result[T any] struct {
	val T
	err error
}

func guarded[T any](g *Guard, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	g.calls.Add(1)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			g.throttled.Add(1)
			logger.Warnf("matching service %s throttled: %v", op, err)
			return zero, pkgerrors.Wrapf(exception.ErrServiceUnavailable, "%s: rate limited: %v", op, err)
		}
	}

	// services that ignore ctx still must not hold the caller past the deadline
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		g.timedOut.Add(1)
		return zero, pkgerrors.Wrapf(exception.ErrServiceUnavailable, "%s: %v", op, ctx.Err())
	case r := <-done:
		if r.err != nil {
			g.failed.Add(1)
			return zero, mapServiceErr(op, r.err)
		}
		return r.val, nil
	}
}

func mapServiceErr(op string, err error) error {
	switch {
	case errors.Is(err, exception.ErrServiceUnavailable),
		errors.Is(err, exception.ErrUnknownSymbol),
		errors.Is(err, exception.ErrMalformedPayload),
		errors.Is(err, exception.ErrRejectedOrder):
		return err
	}
	return pkgerrors.Wrapf(exception.ErrServiceUnavailable, "%s: %v", op, err)
}
