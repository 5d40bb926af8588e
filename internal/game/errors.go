package game

import "errors"

// Error is a rejection reported to callers with a machine-readable code.
// Rejections are sentinels; compare with errors.Is.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	// validation
	ErrInvalidCurrency = &Error{Code: "INVALID_CURRENCY", Message: "Invalid currency"}
	ErrInvalidAmount   = &Error{Code: "INVALID_AMOUNT", Message: "Invalid bet amount"}
	ErrBetTooHigh      = &Error{Code: "BET_TOO_HIGH", Message: "Bet exceeds the maximum for this currency"}

	// state
	ErrBettingClosed    = &Error{Code: "BETTING_CLOSED", Message: "Betting is not available right now"}
	ErrNoGameRunning    = &Error{Code: "NO_GAME_RUNNING", Message: "No game is currently running"}
	ErrBetAlreadyPlaced = &Error{Code: "BET_ALREADY_PLACED", Message: "You already have a bet in this round"}
	ErrNoActiveBet      = &Error{Code: "NO_ACTIVE_BET", Message: "No active bet found"}
	ErrNoActiveRound    = &Error{Code: "NO_ACTIVE_ROUND", Message: "No active game round"}

	// resources
	ErrInsufficientBalance = &Error{Code: "INSUFFICIENT_BALANCE", Message: "Insufficient balance"}
	ErrProfitExceedsMax    = &Error{Code: "PROFIT_EXCEEDS_MAX", Message: "Profit exceeds maximum allowed"}

	ErrRateLimited = &Error{Code: "RATE_LIMITED", Message: "Too many attempts. Please wait."}
	ErrMaintenance = &Error{Code: "MAINTENANCE_MODE", Message: "Casino is under maintenance"}
)

const CodeInternal = "INTERNAL_ERROR"

// CodeOf returns the rejection code carried by err, or INTERNAL_ERROR for
// infrastructure faults.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns a message safe to show to players. Infrastructure errors
// are not leaked.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal server error"
}
