package game

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persists rounds, bets and balances. Every method that changes more
// than one row does so in a single transaction; implementations must hold
// row locks so that the guarantees below survive concurrent callers.
type Store interface {
	// CreateRound inserts a round in status betting.
	CreateRound(ctx context.Context, r *Round) error
	LastSequence(ctx context.Context) (int64, error)
	// LatestRound returns the round with the highest sequence, or nil when
	// none exists.
	LatestRound(ctx context.Context) (*Round, error)

	// StartRound moves the round from betting to running and promotes its
	// pending bets to playing. It returns the number of bets promoted.
	StartRound(ctx context.Context, roundID string, at time.Time) (int64, error)
	// CrashRound moves the round to crashed and settles every bet still
	// playing as lost with profit = -amount. It returns the number lost.
	CrashRound(ctx context.Context, roundID string, at time.Time) (int64, error)

	// HasBet is advisory. The (round, user) unique constraint decides.
	HasBet(ctx context.Context, roundID, userID string) (bool, error)
	// PlaceBet debits the stake and inserts bet as pending, provided the
	// round is still betting. It returns the user's balances after the debit.
	PlaceBet(ctx context.Context, bet *Bet) (Balances, error)
	// CashOut locks the user's playing bet in a running round, asks settle for
	// the outcome and credits amount + profit.
	CashOut(ctx context.Context, userID, roundID string, settle SettleFunc) (*Bet, Balances, error)

	RoundBets(ctx context.Context, roundID string) ([]Bet, error)
	// History lists crashed rounds, newest first.
	History(ctx context.Context, limit int) ([]RoundSummary, error)

	Balances(ctx context.Context, userID string) (Balances, error)
	SetBalance(ctx context.Context, userID, currency string, amount decimal.Decimal) error
}

// Settlement is the outcome of a cash-out, decided while the bet row is locked.
type Settlement struct {
	Multiplier decimal.Decimal
	Profit     decimal.Decimal
	At         time.Time
}

// SettleFunc runs inside the cash-out transaction. Returning an error rolls it
// back.
type SettleFunc func(b Bet) (Settlement, error)

// RoundSource exposes the round the scheduler is currently driving.
type RoundSource interface {
	CurrentRound() (Round, bool)
}

type MaintenanceChecker interface {
	MaintenanceActive(ctx context.Context) (bool, error)
}

type noMaintenance struct{}

func (noMaintenance) MaintenanceActive(context.Context) (bool, error) { return false, nil }
