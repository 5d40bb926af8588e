package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundStatus string

const (
	RoundPending RoundStatus = "pending"
	RoundBetting RoundStatus = "betting"
	RoundRunning RoundStatus = "running"
	RoundCrashed RoundStatus = "crashed"
)

type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetPlaying   BetStatus = "playing"
	BetCashedOut BetStatus = "cashed_out"
	BetLost      BetStatus = "lost"
)

// Round is one cycle from betting open to crash. ServerSeed stays secret and
// CrashPoint stays hidden until Status is RoundCrashed.
type Round struct {
	ID             string
	Seq            int64
	ServerSeed     string
	ServerSeedHash string
	CrashPoint     float64
	Status         RoundStatus
	CreatedAt      time.Time
	StartedAt      time.Time
	CrashedAt      time.Time
}

// Bet is a single wager. At most one exists per (RoundID, UserID).
type Bet struct {
	ID                string           `json:"bet_id"`
	UserID            string           `json:"user_id"`
	RoundID           string           `json:"round_id"`
	Currency          string           `json:"currency"`
	Amount            decimal.Decimal  `json:"amount"`
	CashOutMultiplier *decimal.Decimal `json:"cash_out_multiplier,omitempty"`
	Profit            decimal.Decimal  `json:"profit"`
	Status            BetStatus        `json:"status"`
	CreatedAt         time.Time        `json:"created_at"`
	CashOutTime       *time.Time       `json:"cash_out_time,omitempty"`
}

// Terminal reports whether the bet has been settled.
func (b Bet) Terminal() bool {
	return b.Status == BetCashedOut || b.Status == BetLost
}

// Balances maps a currency code to the user's balance in that currency.
type Balances map[string]decimal.Decimal

// RoundSummary is the public record of a crashed round.
type RoundSummary struct {
	RoundID        string    `json:"round_id"`
	Seq            int64     `json:"seq"`
	CrashPoint     float64   `json:"crash_point"`
	ServerSeed     string    `json:"server_seed"`
	ServerSeedHash string    `json:"hash"`
	CrashedAt      time.Time `json:"crashed_at"`
}

type BetRequest struct {
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type BetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	BetID   string `json:"bet_id,omitempty"`
}

type CashoutRequest struct {
	UserID string `json:"user_id"`
}

type CashoutResponse struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message"`
	Code       string           `json:"code,omitempty"`
	BetID      string           `json:"bet_id,omitempty"`
	Multiplier *decimal.Decimal `json:"multiplier,omitempty"`
	Profit     *decimal.Decimal `json:"profit,omitempty"`
}

// NewBetResponse folds the result of Ledger.PlaceBet into its wire form.
func NewBetResponse(bet *Bet, err error) BetResponse {
	if err != nil {
		return BetResponse{Message: MessageOf(err), Code: CodeOf(err)}
	}
	return BetResponse{Success: true, Message: "Bet placed successfully", BetID: bet.ID}
}

// NewCashoutResponse folds the result of Ledger.CashOut into its wire form.
func NewCashoutResponse(bet *Bet, err error) CashoutResponse {
	if err != nil {
		return CashoutResponse{Message: MessageOf(err), Code: CodeOf(err)}
	}
	profit := bet.Profit
	return CashoutResponse{
		Success:    true,
		Message:    "Cashed out at " + bet.CashOutMultiplier.StringFixed(2) + "x",
		BetID:      bet.ID,
		Multiplier: bet.CashOutMultiplier,
		Profit:     &profit,
	}
}
