package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/events"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/ledger"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/monitor"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/order"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/state"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/strategy"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/db"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exception"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/common"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

const defaultQueueSize = 256

// Journal persists runner state. *state.Manager implements it.
type Journal interface {
	Load(ctx context.Context, strategyID string) (state.Snapshot, error)
	SavePosition(ctx context.Context, strategyID string, p ledger.Position) error
	SaveOrder(ctx context.Context, strategyID string, clientID uint32, o order.ManagedOrder, status string) error
	SetOrderStatus(ctx context.Context, strategyID string, id uint64, status string) error
	SaveWatermark(ctx context.Context, strategyID string, lastID uint64) error
	RecordFill(ctx context.Context, strategyID string, f common.Fill) error
}

// Options configures a Runner. ID, Symbols, Policy and Service are required.
type Options struct {
	ID          string
	ClientID    uint32
	OrderIDBase uint64
	Symbols     []string
	Policy      strategy.Policy
	Service     common.MatchingService
	Bus         *events.Bus
	Journal     Journal
	Metrics     *monitor.RunnerMetrics
	Logger      *logrus.Entry // strategy and policy fields are added on top
	QueueSize   int
}

// Runner drives one policy over a fixed symbol set. All state changes happen on
// one goroutine fed by a bounded inbox; readers may call the exported getters
// from anywhere.
type Runner struct {
	id       string
	clientID uint32
	policy   strategy.Policy
	svc      common.MatchingService
	bus      *events.Bus
	journal  Journal
	metrics  *monitor.RunnerMetrics
	log      *logrus.Entry

	mu      sync.RWMutex // guards ledger and lastSeq
	ledger  *ledger.Ledger
	lastSeq map[string]uint64
	tracker *order.Tracker

	procMu sync.Mutex // serializes Process and fill application

	lifeMu    sync.Mutex
	state     State
	startedAt time.Time
	unsubs    []func()
	done      chan struct{}

	inboxMu sync.RWMutex
	inbox   chan market.MarketData
	closed  bool

	fillMu     sync.Mutex
	fills      []common.Fill
	fillSignal chan struct{}
}

// NewRunner validates options and builds the runner's ledger and tracker.
func NewRunner(opts Options) (*Runner, error) {
	if strings.TrimSpace(opts.ID) == "" {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "runner: missing id")
	}
	if opts.Policy == nil {
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "runner %s: missing policy", opts.ID)
	}
	if opts.Service == nil {
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "runner %s: missing matching service", opts.ID)
	}
	l, err := ledger.New(opts.Symbols)
	if err != nil {
		return nil, errors.Wrapf(err, "runner %s", opts.ID)
	}
	base := opts.OrderIDBase
	if base == 0 {
		base = 1
	}
	tr, err := order.NewTracker(base, opts.Symbols)
	if err != nil {
		return nil, errors.Wrapf(err, "runner %s", opts.ID)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewRunnerMetrics()
	}
	if opts.Journal == nil {
		opts.Journal = state.NewManager(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logger.Logger)
	}

	return &Runner{
		id:         opts.ID,
		clientID:   opts.ClientID,
		policy:     opts.Policy,
		svc:        opts.Service,
		bus:        opts.Bus,
		journal:    opts.Journal,
		metrics:    opts.Metrics,
		log:        opts.Logger.WithFields(logrus.Fields{"strategy": opts.ID, "policy": opts.Policy.Name()}),
		ledger:     l,
		lastSeq:    make(map[string]uint64, len(opts.Symbols)),
		tracker:    tr,
		inbox:      make(chan market.MarketData, opts.QueueSize),
		fillSignal: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Start restores journaled state, subscribes to the service and launches the
// worker. It fails with ErrRunnerState unless the runner is Idle.
func (r *Runner) Start(ctx context.Context) error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.state != StateIdle {
		return errors.Wrapf(exception.ErrRunnerState, "runner %s: start from %s", r.id, r.state)
	}

	if err := r.restore(ctx); err != nil {
		return err
	}

	unsubMD, err := r.svc.SubscribeMarketData(r.enqueue)
	if err != nil {
		return errors.Wrapf(err, "runner %s: subscribe market data", r.id)
	}
	r.unsubs = append(r.unsubs, unsubMD)

	if fr, ok := r.svc.(common.FillReporter); ok {
		unsubFills, err := fr.SubscribeFills(r.enqueueFill)
		switch {
		case errors.Is(err, common.ErrFillsUnsupported):
			r.log.Debug("matching service does not report fills")
		case err != nil:
			unsubMD()
			r.unsubs = nil
			return errors.Wrapf(err, "runner %s: subscribe fills", r.id)
		default:
			r.unsubs = append(r.unsubs, unsubFills)
		}
	}

	r.state = StateRunning
	r.startedAt = time.Now()
	go r.loop(ctx)

	r.log.WithField("run_id", uuid.NewString()).Infof("runner started on %s", strings.Join(r.ledger.Symbols(), ","))
	return nil
}

func (r *Runner) restore(ctx context.Context) error {
	snap, err := r.journal.Load(ctx, r.id)
	if err != nil {
		return errors.Wrapf(err, "runner %s: load journal", r.id)
	}
	r.mu.Lock()
	for _, p := range snap.Positions {
		r.ledger.Restore(p)
	}
	r.mu.Unlock()
	if snap.Watermark > 0 {
		r.tracker.Resume(snap.Watermark)
	}
	if snap.Abandoned > 0 {
		r.log.Warnf("%d orders from the previous run marked abandoned", snap.Abandoned)
	}
	return nil
}

// Stop unsubscribes, processes whatever is already queued and waits for the
// worker to exit. It fails with ErrRunnerState unless the runner is Running.
func (r *Runner) Stop() error {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()

	if r.state != StateRunning {
		return errors.Wrapf(exception.ErrRunnerState, "runner %s: stop from %s", r.id, r.state)
	}
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil

	r.inboxMu.Lock()
	r.closed = true
	close(r.inbox)
	r.inboxMu.Unlock()

	<-r.done
	r.state = StateStopped
	r.log.Info("runner stopped")
	return nil
}

// enqueue is the market-data handler. It never blocks the service.
func (r *Runner) enqueue(md market.MarketData) {
	r.inboxMu.RLock()
	defer r.inboxMu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.inbox <- md:
	default:
		r.metrics.IncrementDropped()
		r.log.WithField("symbol", md.Symbol).Warn("inbox full, market data dropped")
	}
}

// enqueueFill buffers fills without bound; unlike market data they are never dropped.
func (r *Runner) enqueueFill(f common.Fill) {
	if f.ClientID != r.clientID {
		return
	}
	r.fillMu.Lock()
	r.fills = append(r.fills, f)
	r.fillMu.Unlock()

	select {
	case r.fillSignal <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.fillSignal:
			r.drainFills(ctx)
		case md, ok := <-r.inbox:
			r.drainFills(ctx)
			if !ok {
				return
			}
			r.handle(ctx, md)
		}
	}
}

func (r *Runner) handle(ctx context.Context, md market.MarketData) {
	if _, err := r.Process(ctx, md); err != nil {
		r.metrics.IncrementErrors()
		r.log.WithField("symbol", md.Symbol).Warnf("event failed: %v", err)
		r.bus.Publish(events.EventRunnerError, events.RunnerErrorEvent{
			Strategy: r.id,
			Symbol:   md.Symbol,
			Error:    err.Error(),
			At:       time.Now(),
		})
	}
}

func (r *Runner) drainFills(ctx context.Context) {
	r.fillMu.Lock()
	pending := r.fills
	r.fills = nil
	r.fillMu.Unlock()

	for _, f := range pending {
		r.ApplyFill(ctx, f)
	}
}

// Process runs one market-data event through mark, snapshot, decision and
// action application. Events for symbols the runner does not manage, and events
// whose sequence number is not newer than the last one seen for the symbol, are
// discarded without side effects. A failing action never stops later ones.
func (r *Runner) Process(ctx context.Context, md market.MarketData) (Report, error) {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	rep := Report{Symbol: md.Symbol}
	if md.Symbol != "" && !r.ledger.Has(md.Symbol) {
		rep.Ignored = true
		return rep, nil
	}
	if err := md.Validate(); err != nil {
		return rep, err
	}

	timer := monitor.NewTimer(r.metrics.EventLatency)
	defer timer.Stop()

	r.mu.Lock()
	if md.Sequence != 0 {
		if md.Sequence <= r.lastSeq[md.Symbol] {
			r.mu.Unlock()
			r.metrics.IncrementStale()
			rep.Stale = true
			return rep, nil
		}
		r.lastSeq[md.Symbol] = md.Sequence
	}
	r.ledger.Mark(md.Symbol, md.Price, md.Timestamp)
	pos, _ := r.ledger.Get(md.Symbol)
	r.mu.Unlock()
	r.metrics.IncrementEvents()

	snapTimer := monitor.NewTimer(r.metrics.SnapshotLatency)
	book, err := r.svc.OrderBookSnapshot(ctx, md.Symbol)
	snapTimer.Stop()
	if err != nil {
		return rep, errors.Wrapf(err, "snapshot %s", md.Symbol)
	}
	if err := book.Validate(); err != nil {
		return rep, err
	}

	rep.Actions = r.policy.Decide(strategy.Input{
		Symbol:       md.Symbol,
		Book:         book,
		Position:     pos,
		ActiveOrders: r.tracker.ActiveIDs(md.Symbol),
	})

	for _, a := range rep.Actions {
		switch a.Kind {
		case order.ActionPlace:
			r.place(ctx, md.Symbol, a, &rep)
		case order.ActionCancel:
			r.cancel(ctx, md.Symbol, a.OrderID, &rep)
		}
	}
	return rep, nil
}

func (r *Runner) place(ctx context.Context, symbol string, a order.Action, rep *Report) {
	id := r.tracker.NextID()
	mo := order.ManagedOrder{
		ID:        id,
		Symbol:    symbol,
		Side:      a.Side,
		Type:      a.Type,
		Price:     a.Price,
		Quantity:  a.Quantity,
		CreatedAt: time.Now(),
	}
	log := r.log.WithFields(logrus.Fields{"symbol": symbol, "order_id": id})
	evt := events.OrderEvent{
		Strategy: r.id, Symbol: symbol, OrderID: id,
		Side: a.Side, Type: a.Type, Quantity: a.Quantity, Price: a.Price, At: mo.CreatedAt,
	}

	timer := monitor.NewTimer(r.metrics.OrderLatency)
	accepted, err := r.svc.SubmitOrder(ctx, common.OrderRequest{
		ID:       id,
		ClientID: r.clientID,
		Symbol:   symbol,
		Side:     a.Side,
		Type:     a.Type,
		Quantity: a.Quantity,
		Price:    a.Price,
	})
	timer.Stop()
	r.journalErr(r.journal.SaveWatermark(ctx, r.id, id))

	switch {
	case err != nil:
		rep.Failed++
		r.metrics.IncrementErrors()
		log.Warnf("submit %s failed: %v", a, err)
		evt.Reason = err.Error()
		r.bus.Publish(events.EventOrderRejected, evt)
		r.journalErr(r.journal.SaveOrder(ctx, r.id, r.clientID, mo, db.OrderStatusRejected))

	case !accepted:
		rep.Rejected++
		r.metrics.IncrementRejected()
		log.Infof("submit %s rejected", a)
		evt.Reason = exception.ErrRejectedOrder.Error()
		r.bus.Publish(events.EventOrderRejected, evt)
		r.journalErr(r.journal.SaveOrder(ctx, r.id, r.clientID, mo, db.OrderStatusRejected))

	default:
		if err := r.tracker.Register(symbol, mo); err != nil {
			log.Errorf("register accepted order: %v", err)
			return
		}
		rep.Placed++
		r.metrics.IncrementPlaced()
		log.Debugf("placed %s", a)
		r.bus.Publish(events.EventOrderPlaced, evt)
		r.journalErr(r.journal.SaveOrder(ctx, r.id, r.clientID, mo, db.OrderStatusOpen))
	}
}

// cancel retires the order before asking the service. If the service refuses
// or cannot be reached the order may still be live there; it is reported as
// orphaned and not tracked again.
func (r *Runner) cancel(ctx context.Context, symbol string, id uint64, rep *Report) {
	r.tracker.Retire(symbol, id)
	rep.Cancelled++
	r.metrics.IncrementCancels()
	r.journalErr(r.journal.SetOrderStatus(ctx, r.id, id, db.OrderStatusCancelRequested))

	evt := events.OrderEvent{Strategy: r.id, Symbol: symbol, OrderID: id, At: time.Now()}
	r.bus.Publish(events.EventOrderCancelRequested, evt)

	timer := monitor.NewTimer(r.metrics.OrderLatency)
	ok, err := r.svc.CancelOrder(ctx, id, symbol)
	timer.Stop()
	if err == nil && ok {
		return
	}

	if err != nil {
		rep.Failed++
		evt.Reason = err.Error()
	} else {
		evt.Reason = "cancel refused"
	}
	r.metrics.IncrementCancelErr()
	r.log.WithFields(logrus.Fields{"symbol": symbol, "order_id": id}).Warnf("order orphaned: %s", evt.Reason)
	r.bus.Publish(events.EventOrderOrphaned, evt)
}

// ApplyFill books an execution for this runner's client id. Fills for other
// clients or unmanaged symbols are ignored.
func (r *Runner) ApplyFill(ctx context.Context, f common.Fill) {
	if f.ClientID != r.clientID {
		return
	}
	r.procMu.Lock()
	defer r.procMu.Unlock()

	log := r.log.WithFields(logrus.Fields{"symbol": f.Symbol, "order_id": f.OrderID})

	r.mu.Lock()
	pos, err := r.ledger.ApplyFill(f.Symbol, f.Side, f.Quantity, f.Price)
	r.mu.Unlock()
	if err != nil {
		log.Warnf("fill not booked: %v", err)
		return
	}
	r.metrics.IncrementFills()

	if mo, ok := r.tracker.RecordFill(f.OrderID, f.Quantity); ok {
		status := db.OrderStatusOpen
		if mo.IsFullyFilled() {
			r.tracker.Retire(f.Symbol, f.OrderID)
			status = db.OrderStatusFilled
		}
		r.journalErr(r.journal.SaveOrder(ctx, r.id, r.clientID, mo, status))
	} else {
		// retired on cancel request, filled before the venue saw the cancel
		r.journalErr(r.journal.SetOrderStatus(ctx, r.id, f.OrderID, db.OrderStatusFilled))
	}
	r.journalErr(r.journal.RecordFill(ctx, r.id, f))
	r.journalErr(r.journal.SavePosition(ctx, r.id, pos))

	log.Debugf("fill %s %d @ %s -> qty %d", f.Side, f.Quantity, f.Price, pos.Quantity)
	r.bus.Publish(events.EventOrderFilled, f)
	r.bus.Publish(events.EventPositionChange, events.PositionEvent{Strategy: r.id, Position: pos, At: f.Timestamp})
}

func (r *Runner) journalErr(err error) {
	if err != nil {
		r.log.Warnf("journal: %v", err)
	}
}

// ID returns the strategy instance id.
func (r *Runner) ID() string { return r.id }

// PolicyName returns the policy's name.
func (r *Runner) PolicyName() string { return r.policy.Name() }

// ClientID returns the client id stamped on every order.
func (r *Runner) ClientID() uint32 { return r.clientID }

// Metrics returns the runner's counters.
func (r *Runner) Metrics() *monitor.RunnerMetrics { return r.metrics }

// State returns the lifecycle state.
func (r *Runner) State() State {
	r.lifeMu.Lock()
	defer r.lifeMu.Unlock()
	return r.state
}

// Symbols returns the managed symbols in configuration order.
func (r *Runner) Symbols() []string { return r.ledger.Symbols() }

// Positions returns a snapshot of every managed position.
func (r *Runner) Positions() []ledger.Position {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.Positions()
}

// Position returns one position; ErrUnknownSymbol for unmanaged symbols.
func (r *Runner) Position(symbol string) (ledger.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledger.Get(symbol)
}

// ActiveOrders returns the live orders for a symbol, oldest first.
func (r *Runner) ActiveOrders(symbol string) []order.ManagedOrder {
	return r.tracker.Active(symbol)
}

// Info summarizes the runner for reporting.
func (r *Runner) Info() StrategyInfo {
	r.lifeMu.Lock()
	st, started := r.state, r.startedAt
	r.lifeMu.Unlock()
	return StrategyInfo{
		ID:           r.id,
		Policy:       r.policy.Name(),
		ClientID:     r.clientID,
		State:        st,
		Symbols:      r.ledger.Symbols(),
		ActiveOrders: r.tracker.Count(),
		LastOrderID:  r.tracker.LastID(),
		StartedAt:    started,
	}
}
