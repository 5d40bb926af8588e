package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type LedgerConfig struct {
	Currencies     Currencies
	Clock          Clock
	BetLimiter     RateLimiter
	CashoutLimiter RateLimiter
}

// Ledger accepts bets and cash-outs against the round the scheduler is
// driving. Calls run concurrently; the store's row locks serialise them.
type Ledger struct {
	store      Store
	rounds     RoundSource
	events     Broadcaster
	currencies Currencies
	clock      Clock

	betLimiter     RateLimiter
	cashoutLimiter RateLimiter

	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewLedger(store Store, rounds RoundSource, events Broadcaster, cfg LedgerConfig, log *zap.Logger) *Ledger {
	if events == nil {
		events = nopBroadcaster{}
	}
	if cfg.BetLimiter == nil {
		cfg.BetLimiter = allowAll{}
	}
	if cfg.CashoutLimiter == nil {
		cfg.CashoutLimiter = allowAll{}
	}
	if cfg.Clock.GrowthRate == 0 {
		cfg.Clock = DefaultClock
	}
	return &Ledger{
		store:          store,
		rounds:         rounds,
		events:         events,
		currencies:     cfg.Currencies,
		clock:          cfg.Clock,
		betLimiter:     cfg.BetLimiter,
		cashoutLimiter: cfg.CashoutLimiter,
		log:            log.Named("ledger"),
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// PlaceBet stakes amount of currency on the round that is taking bets.
func (l *Ledger) PlaceBet(ctx context.Context, userID string, amount decimal.Decimal, currency string) (*Bet, error) {
	if !l.betLimiter.Allow(ctx, userID) {
		return nil, l.reject("bet", userID, ErrRateLimited)
	}

	round, ok := l.rounds.CurrentRound()
	if !ok {
		return nil, l.reject("bet", userID, ErrNoActiveRound)
	}
	if round.Status != RoundBetting {
		return nil, l.reject("bet", userID, ErrBettingClosed)
	}

	cur, ok := l.currencies.Lookup(currency)
	if !ok {
		return nil, l.reject("bet", userID, ErrInvalidCurrency)
	}
	amount, err := cur.Normalize(amount)
	if err != nil {
		return nil, l.reject("bet", userID, err)
	}
	if amount.GreaterThan(cur.MaxBet) {
		return nil, l.reject("bet", userID, ErrBetTooHigh)
	}

	// Early rejection only; the store's unique constraint is what holds.
	exists, err := l.store.HasBet(ctx, round.ID, userID)
	if err != nil {
		return nil, l.fail("bet", userID, fmt.Errorf("check existing bet: %w", err))
	}
	if exists {
		return nil, l.reject("bet", userID, ErrBetAlreadyPlaced)
	}

	bet := &Bet{
		ID:        l.newID(),
		UserID:    userID,
		RoundID:   round.ID,
		Currency:  cur.Code,
		Amount:    amount,
		Profit:    decimal.Zero,
		Status:    BetPending,
		CreatedAt: l.now(),
	}

	balances, err := l.store.PlaceBet(ctx, bet)
	if err != nil {
		if isRejection(err) {
			return nil, l.reject("bet", userID, err)
		}
		return nil, l.fail("bet", userID, fmt.Errorf("place bet: %w", err))
	}

	betsPlaced.WithLabelValues(bet.Currency).Inc()
	l.log.Info("bet placed",
		zap.String("round_id", bet.RoundID),
		zap.String("bet_id", bet.ID),
		zap.String("user_id", userID),
		zap.String("amount", bet.Amount.String()),
		zap.String("currency", bet.Currency),
	)

	l.events.Broadcast(Event{Type: EventBetPlaced, Data: BetPlaced{
		BetID:    bet.ID,
		UserID:   userID,
		Amount:   bet.Amount,
		Currency: bet.Currency,
	}})
	l.events.SendToUser(userID, Event{Type: EventBalanceUpdate, Data: BalanceUpdate{UserID: userID, Balances: balances}})
	l.events.SendToUser(userID, Event{Type: EventNotification, Data: Notification{
		UserID:  userID,
		Type:    "success",
		Message: fmt.Sprintf("Bet placed: %s %s", bet.Amount.String(), bet.Currency),
	}})

	return bet, nil
}

// CashOut settles the caller's playing bet at the multiplier reached when the
// bet row is locked.
func (l *Ledger) CashOut(ctx context.Context, userID string) (*Bet, error) {
	if !l.cashoutLimiter.Allow(ctx, userID) {
		return nil, l.reject("cashout", userID, ErrRateLimited)
	}

	round, ok := l.rounds.CurrentRound()
	if !ok {
		return nil, l.reject("cashout", userID, ErrNoActiveRound)
	}
	if round.Status != RoundRunning {
		return nil, l.reject("cashout", userID, ErrNoGameRunning)
	}

	settle := func(b Bet) (Settlement, error) {
		at := l.now()
		m := l.clock.MultiplierAt(at.Sub(round.StartedAt))
		if m >= round.CrashPoint {
			// The crash deadline has passed even if the timer has not fired yet.
			return Settlement{}, ErrNoGameRunning
		}
		mult := decimal.NewFromFloat(m).Round(2)
		profit := b.Amount.Mul(mult.Sub(decimal.NewFromInt(1)))
		if cur, ok := l.currencies.Lookup(b.Currency); ok && profit.GreaterThan(cur.MaxProfit) {
			return Settlement{}, ErrProfitExceedsMax
		}
		return Settlement{Multiplier: mult, Profit: profit, At: at}, nil
	}

	bet, balances, err := l.store.CashOut(ctx, userID, round.ID, settle)
	if err != nil {
		if isRejection(err) {
			return nil, l.reject("cashout", userID, err)
		}
		return nil, l.fail("cashout", userID, fmt.Errorf("cash out: %w", err))
	}

	cashouts.WithLabelValues(bet.Currency).Inc()
	l.log.Info("bet cashed out",
		zap.String("round_id", bet.RoundID),
		zap.String("bet_id", bet.ID),
		zap.String("user_id", userID),
		zap.String("multiplier", bet.CashOutMultiplier.StringFixed(2)),
		zap.String("profit", bet.Profit.String()),
	)

	l.events.Broadcast(Event{Type: EventBetCashedOut, Data: BetCashedOutPayload{
		BetID:      bet.ID,
		UserID:     userID,
		Multiplier: *bet.CashOutMultiplier,
		Profit:     bet.Profit,
		Currency:   bet.Currency,
	}})
	l.events.SendToUser(userID, Event{Type: EventBalanceUpdate, Data: BalanceUpdate{UserID: userID, Balances: balances}})
	l.events.SendToUser(userID, Event{Type: EventNotification, Data: Notification{
		UserID:  userID,
		Type:    "success",
		Message: fmt.Sprintf("Cashed out at %sx: +%s %s", bet.CashOutMultiplier.StringFixed(2), bet.Profit.String(), bet.Currency),
	}})

	return bet, nil
}

// Balances returns every balance the user holds.
func (l *Ledger) Balances(ctx context.Context, userID string) (Balances, error) {
	b, err := l.store.Balances(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	return b, nil
}

// SetBalance overwrites one balance and pushes the result to the user.
func (l *Ledger) SetBalance(ctx context.Context, userID, currency string, amount decimal.Decimal) (Balances, error) {
	cur, ok := l.currencies.Lookup(currency)
	if !ok {
		return nil, ErrInvalidCurrency
	}
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if err := l.store.SetBalance(ctx, userID, cur.Code, amount.Truncate(cur.Precision)); err != nil {
		return nil, fmt.Errorf("set balance: %w", err)
	}
	b, err := l.Balances(ctx, userID)
	if err != nil {
		return nil, err
	}
	l.events.SendToUser(userID, Event{Type: EventBalanceUpdate, Data: BalanceUpdate{UserID: userID, Balances: b}})
	return b, nil
}

func (l *Ledger) reject(op, userID string, err error) error {
	rejections.WithLabelValues(CodeOf(err)).Inc()
	l.log.Debug("rejected",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.String("code", CodeOf(err)),
	)
	return err
}

func (l *Ledger) fail(op, userID string, err error) error {
	rejections.WithLabelValues(CodeInternal).Inc()
	l.log.Error("ledger failure",
		zap.String("op", op),
		zap.String("user_id", userID),
		zap.Error(err),
	)
	return err
}

func isRejection(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
