package strategy

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
)

const TypeSpreadCapture = "spread_capture"

// SpreadCaptureConfig parameterizes SpreadCapture.
type SpreadCaptureConfig struct {
	Threshold   decimal.Decimal // minimum spread, exclusive
	MaxPosition int64           // absolute exposure that disables adding on that side
	Size        int64
}

// DefaultSpreadCaptureConfig returns threshold 0.02, max position 1000, size 100.
func DefaultSpreadCaptureConfig() SpreadCaptureConfig {
	return SpreadCaptureConfig{
		Threshold:   decimal.RequireFromString("0.02"),
		MaxPosition: 1000,
		Size:        100,
	}
}

func (c SpreadCaptureConfig) Validate() error {
	if c.Threshold.IsNegative() {
		return errors.Wrapf(exception.ErrInvalidConfig, "spread capture: negative threshold %s", c.Threshold)
	}
	if c.MaxPosition <= 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "spread capture: max position %d", c.MaxPosition)
	}
	if c.Size <= 0 {
		return errors.Wrapf(exception.ErrInvalidConfig, "spread capture: size %d", c.Size)
	}
	return nil
}

// SpreadCapture joins both sides of the book at the touch when the spread is wide
// enough, and stops adding to a side once exposure reaches the limit.
type SpreadCapture struct {
	cfg SpreadCaptureConfig
}

func NewSpreadCapture(cfg SpreadCaptureConfig) (*SpreadCapture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SpreadCapture{cfg: cfg}, nil
}

func (s *SpreadCapture) Name() string { return TypeSpreadCapture }

func (s *SpreadCapture) Config() SpreadCaptureConfig { return s.cfg }

// Decide emits a BUY at the best bid and a SELL at the best ask, in that order.
func (s *SpreadCapture) Decide(in Input) []order.Action {
	bid, okBid := in.Book.BestBid()
	ask, okAsk := in.Book.BestAsk()
	if !okBid || !okAsk {
		return nil
	}
	if !ask.Price.Sub(bid.Price).GreaterThan(s.cfg.Threshold) {
		return nil
	}

	qty := in.Position.Quantity
	switch {
	case qty >= s.cfg.MaxPosition:
		return []order.Action{order.Place(order.SideSell, order.TypeLimit, s.cfg.Size, ask.Price)}
	case qty <= -s.cfg.MaxPosition:
		return []order.Action{order.Place(order.SideBuy, order.TypeLimit, s.cfg.Size, bid.Price)}
	}
	return []order.Action{
		order.Place(order.SideBuy, order.TypeLimit, s.cfg.Size, bid.Price),
		order.Place(order.SideSell, order.TypeLimit, s.cfg.Size, ask.Price),
	}
}
