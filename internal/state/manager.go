// Package state journals what each strategy runner holds so a restart can resume
// positions and never reuse an order id.
package state

import (
	"context"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/ledger"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/db"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/common"
)

// Snapshot is what a runner needs back at startup.
type Snapshot struct {
	Positions []ledger.Position
	Watermark uint64 // last allocated order id, 0 when none recorded
	Abandoned int64  // orders left open by the previous run
}

// Manager persists runner state to the SQLite journal. A nil database makes every
// call a no-op.
type Manager struct {
	db *db.Database
}

func NewManager(database *db.Database) *Manager {
	return &Manager{db: database}
}

// Load returns the stored positions and watermark for a strategy. Orders the
// previous run left open are marked abandoned: the venue no longer knows them.
func (m *Manager) Load(ctx context.Context, strategyID string) (Snapshot, error) {
	var snap Snapshot
	if m == nil || m.db == nil {
		return snap, nil
	}

	rows, err := m.db.ListStrategyPositions(ctx, strategyID)
	if err != nil {
		return snap, err
	}
	for _, r := range rows {
		snap.Positions = append(snap.Positions, ledger.Position{
			Symbol:      r.Symbol,
			Quantity:    r.Qty,
			AvgPrice:    r.AvgPrice,
			RealizedPnL: r.RealizedPnL,
			LastMark:    r.LastMark,
			MarkedAt:    r.UpdatedAt,
		})
	}

	if snap.Watermark, _, err = m.db.GetOrderWatermark(ctx, strategyID); err != nil {
		return snap, err
	}
	if snap.Abandoned, err = m.db.AbandonOpenOrders(ctx, strategyID); err != nil {
		return snap, err
	}
	return snap, nil
}

// SavePosition upserts one position.
func (m *Manager) SavePosition(ctx context.Context, strategyID string, p ledger.Position) error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.UpsertStrategyPosition(ctx, db.StrategyPosition{
		StrategyID:  strategyID,
		Symbol:      p.Symbol,
		Qty:         p.Quantity,
		AvgPrice:    p.AvgPrice,
		RealizedPnL: p.RealizedPnL,
		LastMark:    p.LastMark,
	})
}

// SaveOrder upserts an order with the given status.
func (m *Manager) SaveOrder(ctx context.Context, strategyID string, clientID uint32, o order.ManagedOrder, status string) error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.UpsertStrategyOrder(ctx, db.StrategyOrder{
		StrategyID: strategyID,
		ID:         o.ID,
		ClientID:   clientID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Type:       string(o.Type),
		Price:      o.Price,
		Qty:        o.Quantity,
		FilledQty:  o.FilledQty,
		Status:     status,
		CreatedAt:  o.CreatedAt,
	})
}

// SetOrderStatus updates the status of a journaled order.
func (m *Manager) SetOrderStatus(ctx context.Context, strategyID string, id uint64, status string) error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.UpdateStrategyOrderStatus(ctx, strategyID, id, status)
}

// SaveWatermark records the last allocated order id.
func (m *Manager) SaveWatermark(ctx context.Context, strategyID string, lastID uint64) error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.SetOrderWatermark(ctx, strategyID, lastID)
}

// RecordFill stores an execution booked by the strategy.
func (m *Manager) RecordFill(ctx context.Context, strategyID string, f common.Fill) error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.InsertFill(ctx, db.Fill{
		TradeID:    f.TradeID,
		StrategyID: strategyID,
		ClientID:   f.ClientID,
		OrderID:    f.OrderID,
		Symbol:     f.Symbol,
		Side:       string(f.Side),
		Qty:        f.Quantity,
		Price:      f.Price,
		CreatedAt:  f.Timestamp,
	})
}

// Fills returns recent executions, newest first.
func (m *Manager) Fills(ctx context.Context, strategyID string, limit int) ([]db.Fill, error) {
	if m == nil || m.db == nil {
		return nil, nil
	}
	return m.db.ListFills(ctx, strategyID, limit)
}
