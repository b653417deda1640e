package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Order statuses kept in strategy_orders.
const (
	OrderStatusOpen            = "OPEN"
	OrderStatusCancelRequested = "CANCEL_REQUESTED"
	OrderStatusFilled          = "FILLED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusAbandoned       = "ABANDONED"
)

// StrategyPosition tracks per-strategy, per-symbol exposure and PnL.
type StrategyPosition struct {
	StrategyID  string
	Symbol      string
	Qty         int64
	AvgPrice    decimal.Decimal
	RealizedPnL decimal.Decimal
	LastMark    decimal.Decimal
	UpdatedAt   time.Time
}

// StrategyOrder is one order a strategy sent to the matching service.
type StrategyOrder struct {
	StrategyID string
	ID         uint64
	ClientID   uint32
	Symbol     string
	Side       string
	Type       string
	Price      decimal.Decimal
	Qty        int64
	FilledQty  int64
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Fill is one execution booked by a strategy.
type Fill struct {
	TradeID    string
	StrategyID string
	ClientID   uint32
	OrderID    uint64
	Symbol     string
	Side       string
	Qty        int64
	Price      decimal.Decimal
	CreatedAt  time.Time
}

func now(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// UpsertStrategyPosition stores the latest position for a (strategy, symbol) pair.
func (d *Database) UpsertStrategyPosition(ctx context.Context, p StrategyPosition) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_positions (strategy_id, symbol, qty, avg_price, realized_pnl, last_mark, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id, symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_price = excluded.avg_price,
			realized_pnl = excluded.realized_pnl,
			last_mark = excluded.last_mark,
			updated_at = excluded.updated_at
	`, p.StrategyID, p.Symbol, p.Qty, p.AvgPrice.String(), p.RealizedPnL.String(), p.LastMark.String(), now(p.UpdatedAt))
	return errors.Wrapf(err, "upsert position %s/%s", p.StrategyID, p.Symbol)
}

// ListStrategyPositions returns every stored position of a strategy.
func (d *Database) ListStrategyPositions(ctx context.Context, strategyID string) ([]StrategyPosition, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT strategy_id, symbol, qty, avg_price, realized_pnl, last_mark, updated_at
		FROM strategy_positions
		WHERE strategy_id = ?
		ORDER BY symbol
	`, strategyID)
	if err != nil {
		return nil, errors.Wrap(err, "query positions")
	}
	defer rows.Close()

	var out []StrategyPosition
	for rows.Next() {
		var p StrategyPosition
		if err := rows.Scan(&p.StrategyID, &p.Symbol, &p.Qty, &p.AvgPrice, &p.RealizedPnL, &p.LastMark, &p.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan position")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertStrategyOrder inserts an order or refreshes its fill and status.
func (d *Database) UpsertStrategyOrder(ctx context.Context, o StrategyOrder) error {
	ts := now(o.UpdatedAt)
	created := o.CreatedAt
	if created.IsZero() {
		created = ts
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_orders (strategy_id, id, client_id, symbol, side, type, price, qty, filled_qty, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(strategy_id, id) DO UPDATE SET
			filled_qty = excluded.filled_qty,
			status = excluded.status,
			updated_at = excluded.updated_at
	`, o.StrategyID, int64(o.ID), o.ClientID, o.Symbol, o.Side, o.Type, o.Price.String(), o.Qty, o.FilledQty, o.Status, created.UTC(), ts)
	return errors.Wrapf(err, "upsert order %s/%d", o.StrategyID, o.ID)
}

// UpdateStrategyOrderStatus sets the status of a stored order. Unknown ids are ignored.
func (d *Database) UpdateStrategyOrderStatus(ctx context.Context, strategyID string, id uint64, status string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE strategy_orders SET status = ?, updated_at = ?
		WHERE strategy_id = ? AND id = ?
	`, status, time.Now().UTC(), strategyID, int64(id))
	return errors.Wrapf(err, "update order %s/%d", strategyID, id)
}

// AbandonOpenOrders marks every OPEN or CANCEL_REQUESTED order of a strategy ABANDONED
// and reports how many rows changed.
func (d *Database) AbandonOpenOrders(ctx context.Context, strategyID string) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE strategy_orders SET status = ?, updated_at = ?
		WHERE strategy_id = ? AND status IN (?, ?)
	`, OrderStatusAbandoned, time.Now().UTC(), strategyID, OrderStatusOpen, OrderStatusCancelRequested)
	if err != nil {
		return 0, errors.Wrapf(err, "abandon orders %s", strategyID)
	}
	return res.RowsAffected()
}

// ListStrategyOrders returns a strategy's orders with the given status, oldest id first.
func (d *Database) ListStrategyOrders(ctx context.Context, strategyID, status string) ([]StrategyOrder, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT strategy_id, id, client_id, symbol, side, type, price, qty, filled_qty, status, created_at, updated_at
		FROM strategy_orders
		WHERE strategy_id = ? AND status = ?
		ORDER BY id
	`, strategyID, status)
	if err != nil {
		return nil, errors.Wrap(err, "query orders")
	}
	defer rows.Close()

	var out []StrategyOrder
	for rows.Next() {
		var (
			o  StrategyOrder
			id int64
		)
		if err := rows.Scan(&o.StrategyID, &id, &o.ClientID, &o.Symbol, &o.Side, &o.Type, &o.Price, &o.Qty, &o.FilledQty, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		o.ID = uint64(id)
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetOrderWatermark records the highest order id a strategy has allocated.
// The stored value never decreases.
func (d *Database) SetOrderWatermark(ctx context.Context, strategyID string, lastID uint64) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategy_watermarks (strategy_id, last_order_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(strategy_id) DO UPDATE SET
			last_order_id = MAX(last_order_id, excluded.last_order_id),
			updated_at = excluded.updated_at
	`, strategyID, int64(lastID), time.Now().UTC())
	return errors.Wrapf(err, "set watermark %s", strategyID)
}

// GetOrderWatermark returns the stored watermark; ok is false when none exists.
func (d *Database) GetOrderWatermark(ctx context.Context, strategyID string) (uint64, bool, error) {
	var id int64
	err := d.DB.QueryRowContext(ctx, `SELECT last_order_id FROM strategy_watermarks WHERE strategy_id = ?`, strategyID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "get watermark %s", strategyID)
	}
	return uint64(id), true, nil
}

// InsertFill stores an execution; a repeated trade id is ignored.
func (d *Database) InsertFill(ctx context.Context, f Fill) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO fills (trade_id, strategy_id, client_id, order_id, symbol, side, qty, price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO NOTHING
	`, f.TradeID, f.StrategyID, f.ClientID, int64(f.OrderID), f.Symbol, f.Side, f.Qty, f.Price.String(), now(f.CreatedAt))
	return errors.Wrapf(err, "insert fill %s", f.TradeID)
}

// ListFills returns the most recent fills of a strategy, newest first.
func (d *Database) ListFills(ctx context.Context, strategyID string, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT trade_id, strategy_id, client_id, order_id, symbol, side, qty, price, created_at
		FROM fills
		WHERE strategy_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, strategyID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query fills")
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var (
			f       Fill
			orderID int64
		)
		if err := rows.Scan(&f.TradeID, &f.StrategyID, &f.ClientID, &orderID, &f.Symbol, &f.Side, &f.Qty, &f.Price, &f.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan fill")
		}
		f.OrderID = uint64(orderID)
		out = append(out, f)
	}
	return out, rows.Err()
}
