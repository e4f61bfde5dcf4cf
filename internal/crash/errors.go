package crash

import "net/http"

// Error is a business-rule failure with a stable code, safe to map
// straight onto an HTTP response. Infrastructure failures are plain
// wrapped errors and surface as 500s.
type Error struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidAmount = &Error{
		Code:    "invalid_amount",
		Status:  http.StatusBadRequest,
		Message: "Bet amount must be between 0.10 and 10000",
	}
	ErrInvalidAutoCashout = &Error{
		Code:    "invalid_auto_cashout",
		Status:  http.StatusBadRequest,
		Message: "Auto cashout multiplier must be between 1.00 and 1000",
	}
	ErrInsufficientBalance = &Error{
		Code:    "insufficient_balance",
		Status:  http.StatusBadRequest,
		Message: "Insufficient balance",
	}
	ErrBetExists = &Error{
		Code:    "bet_exists",
		Status:  http.StatusBadRequest,
		Message: "You already have an active bet in this game",
	}
	ErrBettingClosed = &Error{
		Code:    "betting_closed",
		Status:  http.StatusBadRequest,
		Message: "Bets can only be placed during the waiting phase",
	}
	ErrRoundNotRunning = &Error{
		Code:    "round_not_running",
		Status:  http.StatusBadRequest,
		Message: "Game is not running",
	}
	ErrBetNotFound = &Error{
		Code:    "bet_not_found",
		Status:  http.StatusNotFound,
		Message: "Active bet not found",
	}
	ErrRoundNotFound = &Error{
		Code:    "round_not_found",
		Status:  http.StatusNotFound,
		Message: "No active game round",
	}
	ErrAccountNotFound = &Error{
		Code:    "account_not_found",
		Status:  http.StatusNotFound,
		Message: "Account not found",
	}
	ErrEngineStopped = &Error{
		Code:    "engine_stopped",
		Status:  http.StatusServiceUnavailable,
		Message: "Game is temporarily unavailable",
	}
)
