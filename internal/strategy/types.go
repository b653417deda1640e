package strategy

import (
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/ledger"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
)

// Input is everything a policy may look at when deciding for one symbol.
// ActiveOrders is a copy of the tracker's live ids for Symbol, oldest first.
type Input struct {
	Symbol       string
	Book         market.Snapshot
	Position     ledger.Position
	ActiveOrders []uint64
}

// Policy turns a book and the current exposure into order actions.
// Implementations are pure: they never mutate ledger or tracker state.
type Policy interface {
	// Name identifies the policy in logs and reports.
	Name() string
	// Decide returns the actions to apply, in order. No actions is a valid answer.
	Decide(in Input) []order.Action
}
