package common

import (
	"context"
	"errors"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
)

// ErrFillsUnsupported is returned by SubscribeFills on services that do not report executions.
var ErrFillsUnsupported = errors.New("fill reporting not supported")

// MatchingService is the external venue a strategy runner trades against.
// Submit and cancel report acceptance as a bool; an error means the service
// could not be reached or answered in time.
type MatchingService interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (bool, error)
	CancelOrder(ctx context.Context, orderID uint64, symbol string) (bool, error)
	OrderBookSnapshot(ctx context.Context, symbol string) (market.Snapshot, error)
	// SubscribeMarketData registers handler for every market-data update and
	// returns a function that removes it.
	SubscribeMarketData(handler func(market.MarketData)) (func(), error)
	PerformanceMetrics(ctx context.Context) (map[string]float64, error)
}

// FillReporter is implemented by services that push executions back to clients.
type FillReporter interface {
	SubscribeFills(handler func(Fill)) (func(), error)
}
