package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crashgame/internal/cache"
	"crashgame/internal/config"
	"crashgame/internal/database"
	"crashgame/internal/events"
	"crashgame/internal/game"
	"crashgame/internal/logger"
	"crashgame/internal/server"
	"crashgame/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const (
	sweepInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("crash service", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	currencies, err := game.ParseCurrencies(cfg.Game.Currencies)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AutoMigrate {
		if err := migrate(cfg); err != nil {
			return err
		}
		log.Info("migrations applied", zap.String("path", cfg.MigrationsPath))
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.NewPostgres(db.Pool(), log)

	hub := game.NewHub(log)
	go hub.Run(ctx)

	betWindow := game.NewSlidingWindow(cfg.RateLimit.BetLimit, cfg.RateLimit.Window)
	cashoutWindow := game.NewSlidingWindow(cfg.RateLimit.CashoutLimit, cfg.RateLimit.Window)
	var (
		betLimiter     game.RateLimiter = betWindow
		cashoutLimiter game.RateLimiter = cashoutWindow
		maintenance    game.MaintenanceChecker
		cacheHealth    server.HealthChecker
		sinks          events.Fanout
	)

	needRedis := cfg.RateLimit.Backend == "redis" || cfg.EventRelay == "redis"
	redisSrv, err := cache.New(ctx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB, log)
	switch {
	case err != nil && needRedis:
		return err
	case err != nil:
		log.Warn("running without redis: no maintenance flag", zap.Error(err))
	default:
		defer redisSrv.Close()
		client := redisSrv.GetClient()
		cacheHealth = redisSrv
		maintenance = cache.NewMaintenance(client)

		if cfg.RateLimit.Backend == "redis" {
			betLimiter = cache.NewRedisLimiter(client, "bet", cfg.RateLimit.BetLimit, cfg.RateLimit.Window, log)
			cashoutLimiter = cache.NewRedisLimiter(client, "cashout", cfg.RateLimit.CashoutLimit, cfg.RateLimit.Window, log)
		}
		if cfg.EventRelay == "redis" {
			if err := cache.Subscribe(ctx, client, cfg.RelayChannel, hub, log); err != nil {
				return fmt.Errorf("subscribe %s: %w", cfg.RelayChannel, err)
			}
			pub := cache.NewPublisher(client, cfg.RelayChannel, log)
			go pub.Run(ctx)
			sinks = append(sinks, pub)
		}
	}
	if cfg.EventRelay == "direct" {
		sinks = append(sinks, hub)
	}
	if cfg.RateLimit.Backend == "memory" {
		go betWindow.Run(ctx, sweepInterval)
		go cashoutWindow.Run(ctx, sweepInterval)
	}

	if cfg.KafkaEnabled() {
		audit := events.NewKafkaSink(events.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, log), log)
		defer audit.Close()
		sinks = append(sinks, audit)
	}

	settings := gameSettings(cfg.Game)
	manager := game.NewManager(st, sinks, maintenance, settings, log)
	ledger := game.NewLedger(st, manager, sinks, game.LedgerConfig{
		Currencies:     currencies,
		Clock:          settings.Clock,
		BetLimiter:     betLimiter,
		CashoutLimiter: cashoutLimiter,
	}, log)
	projection := game.NewProjection(manager, st, settings, cfg.Game.HistoryLimit)

	srv := server.New(server.Deps{
		Ledger:      ledger,
		Projection:  projection,
		Bets:        st,
		Hub:         hub,
		Maintenance: maintenance,
		Formula:     settings.Formula,
		DB:          db,
		Cache:       cacheHealth,
		Log:         log,
	})
	srv.RegisterFiberRoutes()

	manager.Start(ctx)
	defer manager.Stop()

	errc := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		log.Info("crash service listening", zap.String("addr", addr))
		errc <- srv.Listen(addr)
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	if err := srv.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	return nil
}

func migrate(cfg config.Config) error {
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return database.RunMigrations(db, cfg.MigrationsPath)
}

func gameSettings(g config.Game) game.Settings {
	return game.Settings{
		BettingDuration:  g.BettingDuration,
		Cooldown:         g.Cooldown,
		RetryBackoff:     g.RetryBackoff,
		MaintenanceRetry: g.MaintenanceRetry,
		TickInterval:     g.TickInterval,
		Formula:          game.CrashFormula{HouseEdge: g.HouseEdge, MaxMultiplier: g.MaxMultiplier},
		Clock:            game.Clock{GrowthRate: g.GrowthRate},
	}
}
