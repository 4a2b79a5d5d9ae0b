package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/moltmud/internal/api"
	"github.com/nidhogg/moltmud/internal/config"
	"github.com/nidhogg/moltmud/internal/economy"
	"github.com/nidhogg/moltmud/internal/events"
	"github.com/nidhogg/moltmud/internal/fragment"
	"github.com/nidhogg/moltmud/internal/freshness"
	"github.com/nidhogg/moltmud/internal/gateway"
	pgstore "github.com/nidhogg/moltmud/internal/store"
	"github.com/nidhogg/moltmud/internal/store/memstore"
	"github.com/nidhogg/moltmud/internal/sweeper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting MoltMud fragment economy...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/moltmud.json"
	}
	cfg, err := config.Load(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("config file not found, using defaults", zap.String("path", cfgPath))
		cfg = config.Default()
	case err != nil:
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	default:
		logger.Info("Config loaded", zap.String("path", cfgPath))
	}
	if lvl, lvlErr := zapcore.ParseLevel(cfg.Server.LogLevel); lvlErr == nil {
		logger = logger.WithOptions(zap.IncreaseLevel(lvl))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage: PostgreSQL when configured, otherwise in-process
	var store fragment.Store
	var pgStore *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(ctx, cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Fatal("PostgreSQL unavailable", zap.Error(pgErr))
		}
		if mErr := ps.Migrate(ctx); mErr != nil {
			logger.Fatal("migration failed", zap.Error(mErr))
		}
		pgStore = ps
		store = ps
	} else {
		logger.Warn("no PostgreSQL DSN configured, fragments live in memory only")
		store = memstore.New(memstore.WithStartingInfluence(cfg.Economy.StartingInfluence))
	}

	// Event stream
	var publisher events.Publisher = events.Nop{}
	var feed api.Feed
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, cfg.Database.Redis.Stream, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without event stream", zap.Error(busErr))
		} else {
			bus = b
			publisher = b
			feed = b
			logger.Info("Event stream connected", zap.String("stream", cfg.Database.Redis.Stream))
		}
	}

	fresh := freshness.NewEngine(store, freshness.Config{BatchSize: cfg.Economy.SweepBatchSize}, logger)
	svc := economy.NewService(store, fresh, publisher, economy.Config{
		DefaultDecayRate:  cfg.Economy.DefaultDecayRate,
		StartingInfluence: cfg.Economy.StartingInfluence,
		Seed:              cfg.Economy.RaritySeed,
	}, logger)

	sw := sweeper.New(fresh, sweeper.Config{
		Interval:    cfg.Economy.SweepInterval(),
		MaxFailures: cfg.Economy.MaxSweepFailures,
	}, publisher, logger)
	sw.Start()

	handler := api.NewHandler(svc, fresh, sw, feed, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Chat platforms
	gw := gateway.NewGateway(logger)
	if sc := cfg.Gateway.Slack; sc.Enabled() {
		gw.Register(gateway.NewSlackAdapter(sc.BotToken, sc.AppToken, logger), sc.AnnounceChannel)
	}
	if dc := cfg.Gateway.Discord; dc.Token != "" {
		gw.Register(gateway.NewDiscordAdapter(dc.Token, logger), dc.AnnounceChannel)
	}
	if len(gw.Adapters()) > 0 {
		bridge := gateway.NewBridge(gw, handler.Actions(), svc, cfg.Gateway.Rooms, logger)
		gw.SetHandler(bridge.Handle)
		if err := gw.ConnectAll(gctx); err != nil {
			logger.Warn("chat gateway failed to connect", zap.Error(err))
		}
		if bus != nil {
			announcer := gateway.NewAnnouncer(gw, logger)
			g.Go(func() error {
				announcer.Run(gctx, bus.Subscribe(gctx))
				return nil
			})
		}
		logger.Info("Chat gateway started", zap.Strings("platforms", gw.Adapters()))
	}

	g.Go(func() error {
		logger.Info("MoltMud listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-sw.Done():
			if err := sw.Err(); err != nil {
				return err
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down MoltMud...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sw.Stop(shutdownCtx); err != nil {
			logger.Warn("sweeper did not stop in time", zap.Error(err))
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("MoltMud exited with error", zap.Error(err))
	}

	gw.Close()
	if bus != nil {
		bus.Close()
	}
	if pgStore != nil {
		pgStore.Close()
	}
	logger.Info("MoltMud stopped")
}
