package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"signal-trader/internal/api"
	"signal-trader/internal/events"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/internal/strategy"
	"signal-trader/internal/workspace"
	"signal-trader/pkg/config"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/binance"
	"signal-trader/pkg/exchanges/bitmex"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logger"
	"signal-trader/pkg/stream"
)

// streamingConnector is a connector with its own websocket session.
type streamingConnector interface {
	common.Connector
	Stream() *stream.Client
}

// venue is one exchange wired end to end.
type venue struct {
	conn    streamingConnector
	engine  *strategy.Engine
	tracker *order.Tracker
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		FileName:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
		Console:    cfg.LogConsole,
	})
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := db.ApplyMigrations(database); err != nil {
		return multierr.Append(err, database.Close())
	}
	store := workspace.NewStore(database.Queries())
	log.Info("database ready", zap.String("path", cfg.DBPath))

	bus := events.NewBus()
	journal := events.NewJournal(bus, log.Named("journal"), 0)
	metrics := monitor.NewSystemMetrics()

	venues := buildVenues(cfg, bus, journal, metrics, log)
	if len(venues) == 0 {
		log.Warn("no exchange enabled; serving workspace only")
	}

	var streams sync.WaitGroup
	engines := make(map[common.Exchange]*strategy.Engine, len(venues))
	for _, v := range venues {
		engines[v.conn.Exchange()] = v.engine

		if bc, ok := v.conn.(*binance.Client); ok {
			bc.StartTimeSync(ctx)
		}
		if err := v.engine.LoadContracts(ctx); err != nil {
			log.Error("contracts unavailable", zap.String("exchange", string(v.conn.Exchange())), zap.Error(err))
		}
		if balances, err := v.conn.GetBalances(ctx); err != nil {
			log.Warn("balances unavailable", zap.String("exchange", string(v.conn.Exchange())), zap.Error(err))
		} else {
			log.Info("balances loaded", zap.String("exchange", string(v.conn.Exchange())), zap.Int("assets", len(balances)))
		}

		streams.Add(1)
		go func(v venue) {
			defer streams.Done()
			v.conn.Stream().Run(ctx, v.engine)
		}(v)
	}

	watchSymbols(ctx, cfg, store, engines, log)
	startStrategies(ctx, cfg, store, engines, log)

	server, err := api.NewServer(engines, store, bus, journal, metrics, api.Options{
		JWTSecret:   cfg.JWTSecret,
		APIPassword: cfg.APIPassword,
		TokenTTL:    cfg.TokenTTL,
	}, log)
	if err != nil {
		return err
	}
	runErr := server.Run(ctx, cfg.HTTPAddr)
	stop()

	log.Info("shutting down")
	for _, v := range venues {
		v.engine.Close()
		v.conn.Stream().Close()
		v.tracker.Wait()
	}
	streams.Wait()
	bus.Close()

	return multierr.Combine(runErr, database.Close())
}

func buildVenues(cfg *config.Config, bus *events.Bus, journal *events.Journal, metrics *monitor.SystemMetrics, log *zap.Logger) []venue {
	var conns []streamingConnector
	if cfg.EnableBinanceSpot {
		conns = append(conns, binance.New(binance.Config{
			APIKey:    cfg.BinanceSpot.APIKey,
			APISecret: cfg.BinanceSpot.APISecret,
			Testnet:   cfg.BinanceTestnet,
		}, log))
	}
	if cfg.EnableBinanceFutures {
		conns = append(conns, binance.New(binance.Config{
			APIKey:    cfg.BinanceFutures.APIKey,
			APISecret: cfg.BinanceFutures.APISecret,
			Testnet:   cfg.BinanceTestnet,
			Futures:   true,
		}, log))
	}
	if cfg.EnableBitmex {
		conns = append(conns, bitmex.New(bitmex.Config{
			APIKey:    cfg.Bitmex.APIKey,
			APISecret: cfg.Bitmex.APISecret,
			Testnet:   cfg.BitmexTestnet,
		}, log))
	}

	trackerCfg := order.TrackerConfig{Interval: cfg.OrderPollInterval, MaxAttempts: cfg.OrderPollMaxAttempts}
	venues := make([]venue, 0, len(conns))
	for _, conn := range conns {
		tracker := order.NewTracker(conn, trackerCfg, log.Named("tracker").With(zap.String("exchange", string(conn.Exchange()))))
		engine := strategy.NewEngine(conn, strategy.Deps{
			Tracker: tracker,
			Journal: journal,
			Bus:     bus,
			Metrics: metrics,
			Log:     log,
		})
		venues = append(venues, venue{conn: conn, engine: engine, tracker: tracker})
	}
	return venues
}

// watchSymbols subscribes top-of-book for the saved watchlist, seeding it from
// BINANCE_SYMBOLS on first run.
func watchSymbols(ctx context.Context, cfg *config.Config, store *workspace.Store, engines map[common.Exchange]*strategy.Engine, log *zap.Logger) {
	items, err := store.Watchlist(ctx)
	if err != nil {
		log.Warn("watchlist unavailable", zap.Error(err))
		return
	}
	if len(items) == 0 {
		for _, ex := range []common.Exchange{common.ExchangeBinanceSpot, common.ExchangeBinanceFutures} {
			if _, ok := engines[ex]; !ok {
				continue
			}
			for _, sym := range cfg.BinanceSymbols {
				items = append(items, workspace.WatchItem{Symbol: sym, Exchange: ex})
			}
		}
		if err := store.SaveWatchlist(ctx, items); err != nil {
			log.Warn("seed watchlist", zap.Error(err))
		}
	}

	for _, it := range items {
		e, ok := engines[it.Exchange]
		if !ok {
			continue
		}
		c, ok := e.Contract(it.Symbol)
		if !ok {
			log.Warn("watchlist symbol unknown", zap.String("symbol", it.Symbol), zap.String("exchange", string(it.Exchange)))
			continue
		}
		e.Connector().Subscribe([]common.Contract{c}, common.ChannelBookTicker)
	}
}

// startStrategies starts the saved workspace strategies and those of the
// optional YAML bootstrap file. Failures are logged and skipped.
func startStrategies(ctx context.Context, cfg *config.Config, store *workspace.Store, engines map[common.Exchange]*strategy.Engine, log *zap.Logger) {
	cfgs, err := store.Strategies(ctx)
	if err != nil {
		log.Warn("saved strategies unavailable", zap.Error(err))
	}
	if cfg.StrategiesFile != "" {
		fromFile, err := strategy.LoadConfig(cfg.StrategiesFile)
		if err != nil {
			log.Error("strategies file", zap.String("path", cfg.StrategiesFile), zap.Error(err))
		}
		cfgs = append(cfgs, fromFile...)
	}

	for _, sc := range cfgs {
		e, ok := engines[sc.Exchange]
		if !ok {
			log.Warn("strategy exchange not enabled", zap.String("strategy", sc.ID()), zap.String("exchange", string(sc.Exchange)))
			continue
		}
		if _, err := e.Start(ctx, sc); err != nil {
			if errors.Is(err, strategy.ErrAlreadyRunning) {
				continue
			}
			log.Error("strategy not started", zap.String("strategy", sc.ID()), zap.Error(err))
		}
	}
}
