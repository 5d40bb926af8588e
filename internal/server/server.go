package server

import (
	"context"
	"time"

	"crashgame/internal/game"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the bet and balance surface the transport drives.
type Ledger interface {
	PlaceBet(ctx context.Context, userID string, amount decimal.Decimal, currency string) (*game.Bet, error)
	CashOut(ctx context.Context, userID string) (*game.Bet, error)
	Balances(ctx context.Context, userID string) (game.Balances, error)
	SetBalance(ctx context.Context, userID, currency string, amount decimal.Decimal) (game.Balances, error)
}

type Projection interface {
	GetState(ctx context.Context, userID string) (*game.Snapshot, error)
	GetHistory(ctx context.Context, limit int) ([]game.RoundSummary, error)
}

// BetHistory lists a user's past bets.
type BetHistory interface {
	UserBets(ctx context.Context, userID string, limit int) ([]game.Bet, error)
}

type HealthChecker interface {
	Health() map[string]string
}

// Deps wires the server. Cache, Bets and Maintenance may be nil.
type Deps struct {
	Ledger      Ledger
	Projection  Projection
	Bets        BetHistory
	Hub         *game.Hub
	Maintenance game.MaintenanceChecker
	Formula     game.CrashFormula
	DB          HealthChecker
	Cache       HealthChecker
	Log         *zap.Logger
}

type FiberServer struct {
	*fiber.App

	ledger      Ledger
	projection  Projection
	bets        BetHistory
	hub         *game.Hub
	maintenance game.MaintenanceChecker
	formula     game.CrashFormula
	db          HealthChecker
	cache       HealthChecker
	log         *zap.Logger
}

func New(d Deps) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crash",
			AppName:       "crash",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		ledger:      d.Ledger,
		projection:  d.Projection,
		bets:        d.Bets,
		hub:         d.Hub,
		maintenance: d.Maintenance,
		formula:     d.Formula,
		db:          d.DB,
		cache:       d.Cache,
		log:         d.Log.Named("server"),
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/ws" || c.Path() == "/metrics"
		},
	}))

	return server
}

// underMaintenance fails open: a flag that cannot be read does not stop bets.
func (s *FiberServer) underMaintenance(ctx context.Context) bool {
	if s.maintenance == nil {
		return false
	}
	active, err := s.maintenance.MaintenanceActive(ctx)
	if err != nil {
		s.log.Warn("maintenance check failed", zap.Error(err))
		return false
	}
	return active
}
