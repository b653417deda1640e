package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/api"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/engine"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/events"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/market"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/monitor"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/state"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/strategy"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/config"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/db"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/common"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/exchanges/paper"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/logger"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		logger.Errorf("engine exited: %v", err)
		os.Exit(1)
	}
}

// issueToken prints a bearer token for the reporting API signed with JWT_SECRET.
func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "operator", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	token, err := api.GenerateToken(*subject, cfg.JWTSecret, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
		JSON:       cfg.LogJSON,
	}); err != nil {
		return errors.Wrap(err, "init logger")
	}
	logger.WithFields(logrus.Fields{"version": version, "port": cfg.Port, "db": cfg.DBPath}).Info("starting strategy engine")

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return err
	}
	journal := state.NewManager(database)

	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	venue, err := paper.New(paper.Config{
		Symbols:     cfg.Symbols,
		DepthLevels: cfg.PaperDepthLevels,
		DepthSpread: decimal.NewFromFloat(cfg.PaperDepthSpread),
	})
	if err != nil {
		return errors.Wrap(err, "paper venue")
	}
	guard := common.NewGuard(venue, common.GuardConfig{
		Timeout: cfg.ServiceTimeout,
		Rate:    cfg.ServiceRateLimit,
		Burst:   cfg.ServiceRateBurst,
	})

	defs, err := loadDefinitions(cfg)
	if err != nil {
		return err
	}

	eng := engine.NewImpl(engine.Config{Service: guard, Metrics: metrics, Version: version})
	for _, def := range defs {
		policy, err := strategy.Build(def)
		if err != nil {
			return err
		}
		r, err := engine.NewRunner(engine.Options{
			ID:          def.ID,
			ClientID:    def.ClientID,
			OrderIDBase: def.OrderIDBase,
			Symbols:     def.Symbols,
			Policy:      policy,
			Service:     guard,
			Bus:         bus,
			Journal:     journal,
			Metrics:     metrics.Runner(def.ID),
			QueueSize:   def.QueueSize,
		})
		if err != nil {
			return err
		}
		if err := eng.Add(r); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"strategy": def.ID, "policy": policy.Name(), "client_id": def.ClientID}).
			Infof("strategy configured on %v", def.Symbols)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// runners outlive the signal context so Stop can drain their queues
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	if err := eng.StartAll(runCtx); err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		Engine:    eng,
		Bus:       bus,
		Fills:     journal,
		Metrics:   metrics,
		JWTSecret: cfg.JWTSecret,
	})
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	feed := &market.MockFeed{
		Sink:       venue,
		Symbols:    cfg.Symbols,
		StartPrice: decimal.NewFromFloat(cfg.FeedStartPrice),
		Step:       decimal.NewFromFloat(cfg.FeedStep),
		Interval:   cfg.FeedInterval,
	}
	mon := &monitor.Monitor{Bus: bus, Sink: monitor.LogSink{}}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return feed.Run(gctx) })
	g.Go(func() error { return mon.Run(gctx) })
	g.Go(func() error {
		statusLoop(gctx, eng, guard, cfg.StatusInterval)
		return nil
	})
	g.Go(func() error {
		logger.Infof("reporting API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Infof("shutting down strategy runners")
	if stopErr := eng.StopAll(); stopErr != nil && err == nil {
		err = stopErr
	}
	cancelRun()
	statusOnce(context.Background(), eng, guard)
	return err
}

func loadDefinitions(cfg *config.Config) ([]strategy.Definition, error) {
	defs, err := strategy.LoadConfig(cfg.StrategyConfigPath, cfg.Symbols)
	if err == nil {
		return defs, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		logger.Warnf("%s not found, running default strategies", cfg.StrategyConfigPath)
		return strategy.DefaultDefinitions(cfg.Symbols), nil
	}
	return nil, err
}

func statusLoop(ctx context.Context, eng *engine.Impl, guard *common.Guard, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statusOnce(ctx, eng, guard)
		}
	}
}

// statusOnce logs one line per strategy plus the venue's own counters.
func statusOnce(ctx context.Context, eng *engine.Impl, guard *common.Guard) {
	p := eng.GetPortfolio(ctx)
	for _, s := range p.Strategies {
		r, err := eng.Runner(s.ID)
		if err != nil {
			continue
		}
		rm := r.Metrics().Snapshot()
		logger.WithFields(logrus.Fields{
			"strategy": s.ID,
			"state":    r.State().String(),
			"orders":   r.Info().ActiveOrders,
			"events":   rm.EventsProcessed,
			"dropped":  rm.EventsDropped,
			"fills":    rm.FillsApplied,
		}).Infof("pnl=%s notional=%s", s.Summary.TotalPnL.StringFixed(2), s.Summary.TotalNotional.StringFixed(2))
	}

	vm, err := eng.GetVenueMetrics(ctx)
	if err != nil {
		logger.Warnf("venue metrics unavailable: %v", err)
		return
	}
	usage := guard.Usage()
	logger.WithFields(logrus.Fields{
		"orders_processed": vm["orders_processed"],
		"trades_executed":  vm["trades_executed"],
		"avg_latency_us":   vm["avg_latency_microseconds"],
		"calls":            usage.Calls,
		"throttled":        usage.Throttled,
		"timed_out":        usage.TimedOut,
	}).Infof("total pnl=%s notional=%s", p.Totals.PnL.StringFixed(2), p.Totals.Notional.StringFixed(2))
}
