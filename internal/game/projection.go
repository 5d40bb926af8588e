package game

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DEFAULT_HISTORY_LIMIT = 10
	MAX_HISTORY_LIMIT     = 100
)

// Snapshot is the read-only view of the current round sent to clients.
// CrashPoint and Seed are only set once the round has crashed.
type Snapshot struct {
	RoundID           string      `json:"round_id"`
	Seq               int64       `json:"seq"`
	Status            RoundStatus `json:"status"`
	Hash              string      `json:"hash"`
	CrashPoint        *float64    `json:"crash_point,omitempty"`
	Seed              string      `json:"seed,omitempty"`
	Multiplier        *float64    `json:"multiplier,omitempty"`
	ElapsedMs         *int64      `json:"elapsed_ms,omitempty"`
	BettingTimeLeftMs *int64      `json:"betting_time_left_ms,omitempty"`
	Bets              []PublicBet `json:"bets"`
	MyBet             *Bet        `json:"my_bet,omitempty"`
}

// PublicBet is a bet with the bettor removed.
type PublicBet struct {
	Amount            decimal.Decimal  `json:"amount"`
	Currency          string           `json:"currency"`
	Status            BetStatus        `json:"status"`
	CashOutMultiplier *decimal.Decimal `json:"cash_out_multiplier,omitempty"`
	Profit            *decimal.Decimal `json:"profit,omitempty"`
}

type Projection struct {
	rounds          RoundSource
	store           Store
	clock           Clock
	bettingDuration time.Duration
	historyLimit    int
	now             func() time.Time
}

func NewProjection(rounds RoundSource, store Store, s Settings, historyLimit int) *Projection {
	if historyLimit <= 0 {
		historyLimit = DEFAULT_HISTORY_LIMIT
	}
	if historyLimit > MAX_HISTORY_LIMIT {
		historyLimit = MAX_HISTORY_LIMIT
	}
	return &Projection{
		rounds:          rounds,
		store:           store,
		clock:           s.Clock,
		bettingDuration: s.BettingDuration,
		historyLimit:    historyLimit,
		now:             time.Now,
	}
}

// GetState builds a snapshot of the current round. userID may be empty; when
// set and the user has a bet in the round it is returned in MyBet.
func (p *Projection) GetState(ctx context.Context, userID string) (*Snapshot, error) {
	r, ok := p.rounds.CurrentRound()
	if !ok {
		return nil, ErrNoActiveRound
	}

	s := &Snapshot{
		RoundID: r.ID,
		Seq:     r.Seq,
		Status:  r.Status,
		Hash:    r.ServerSeedHash,
		Bets:    []PublicBet{},
	}

	now := p.now()
	switch r.Status {
	case RoundBetting:
		left := r.CreatedAt.Add(p.bettingDuration).Sub(now).Milliseconds()
		if left < 0 {
			left = 0
		}
		s.BettingTimeLeftMs = &left
	case RoundRunning:
		elapsed := now.Sub(r.StartedAt)
		ms := elapsed.Milliseconds()
		s.ElapsedMs = &ms
		if mult := p.clock.MultiplierAt(elapsed); mult < r.CrashPoint {
			s.Multiplier = &mult
		}
	case RoundCrashed:
		cp := r.CrashPoint
		s.CrashPoint = &cp
		s.Seed = r.ServerSeed
	}

	bets, err := p.store.RoundBets(ctx, r.ID)
	if err != nil {
		return nil, fmt.Errorf("round bets: %w", err)
	}
	for i := range bets {
		b := bets[i]
		pb := PublicBet{
			Amount:            b.Amount,
			Currency:          b.Currency,
			Status:            b.Status,
			CashOutMultiplier: b.CashOutMultiplier,
		}
		if b.Terminal() {
			profit := b.Profit
			pb.Profit = &profit
		}
		s.Bets = append(s.Bets, pb)
		if userID != "" && b.UserID == userID {
			s.MyBet = &b
		}
	}
	return s, nil
}

// GetHistory returns the latest crashed rounds, newest first. limit is
// clamped to [1, 100]; zero selects the default.
func (p *Projection) GetHistory(ctx context.Context, limit int) ([]RoundSummary, error) {
	switch {
	case limit == 0:
		limit = p.historyLimit
	case limit < 1:
		limit = 1
	case limit > MAX_HISTORY_LIMIT:
		limit = MAX_HISTORY_LIMIT
	}
	history, err := p.store.History(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return history, nil
}
