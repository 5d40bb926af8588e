package game

import "github.com/shopspring/decimal"

const (
	EventRoundStarting = "round:starting"
	EventRoundStarted  = "round:started"
	EventRoundTick     = "round:tick"
	EventRoundCrashed  = "round:crashed"
	EventBetPlaced     = "bet:placed"
	EventBetCashedOut  = "bet:cashedOut"
	EventBalanceUpdate = "balance:update"
	EventNotification  = "notification"
	EventGameState     = "game:state"
	EventGameHistory   = "game:history"
)

// Event is the envelope pushed to clients and sinks.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Broadcaster is the outbound sink for game events. Broadcast reaches every
// connected client, SendToUser only the connections of one user.
type Broadcaster interface {
	Broadcast(e Event)
	SendToUser(userID string, e Event)
}

type RoundStarting struct {
	RoundID           string `json:"round_id"`
	Seq               int64  `json:"seq"`
	Hash              string `json:"hash"`
	BettingDurationMs int64  `json:"betting_duration_ms"`
}

type RoundStarted struct {
	RoundID     string `json:"round_id"`
	Seq         int64  `json:"seq"`
	StartTimeMs int64  `json:"start_time_ms"`
}

type RoundTick struct {
	RoundID    string  `json:"round_id"`
	Multiplier float64 `json:"multiplier"`
	ElapsedMs  int64   `json:"elapsed_ms"`
}

type RoundCrashedPayload struct {
	RoundID    string  `json:"round_id"`
	Seq        int64   `json:"seq"`
	CrashPoint float64 `json:"crash_point"`
	Seed       string  `json:"seed"`
	Hash       string  `json:"hash"`
}

type BetPlaced struct {
	BetID    string          `json:"bet_id"`
	UserID   string          `json:"user_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type BetCashedOutPayload struct {
	BetID      string          `json:"bet_id"`
	UserID     string          `json:"user_id"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Profit     decimal.Decimal `json:"profit"`
	Currency   string          `json:"currency"`
}

type BalanceUpdate struct {
	UserID   string   `json:"user_id"`
	Balances Balances `json:"balances"`
}

type Notification struct {
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// nopBroadcaster drops everything.
type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(Event)          {}
func (nopBroadcaster) SendToUser(string, Event) {}
