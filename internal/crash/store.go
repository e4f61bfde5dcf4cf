package crash

import (
	"context"
	"time"
)

// BetHistoryEntry is a bet joined with the crash point of its round,
// always fully populated. The store never returns half-resolved rows.
type BetHistoryEntry struct {
	Bet
	CrashPoint float64 `json:"crashPoint"`
}

// Store is the repository boundary for rounds, bets and accounts.
//
// Compound operations (PlaceBet, SettleBetWon, RefundActiveBets) are
// atomic: the bet mutation and the balance mutation commit together or
// not at all, and every balance debit is conditioned on sufficient
// funds. Settlement operations are guarded by the bet's active status
// so a bet can never be settled twice.
type Store interface {
	CreateRound(ctx context.Context, r *Round) error
	GetRound(ctx context.Context, id string) (*Round, error)
	// GetOpenRound returns the single round in waiting or running
	// state, or ErrRoundNotFound.
	GetOpenRound(ctx context.Context) (*Round, error)
	// MarkRoundRunning transitions waiting -> running.
	MarkRoundRunning(ctx context.Context, id string, startedAt time.Time) error
	// MarkRoundCrashed transitions any open round to crashed.
	MarkRoundCrashed(ctx context.Context, id string, crashedAt time.Time) error
	// ListCrashedRounds returns crashed rounds, most recent first.
	ListCrashedRounds(ctx context.Context, limit, offset int) ([]Round, error)

	// PlaceBet debits the stake and inserts the bet in one transaction.
	// Fails with ErrBettingClosed, ErrBetExists or ErrInsufficientBalance.
	PlaceBet(ctx context.Context, b *Bet) (*Account, error)
	// GetActiveBet finds an active bet by id, owned by userID.
	GetActiveBet(ctx context.Context, betID, userID string) (*Bet, error)
	// GetActiveBetForRound finds a user's active bet within a round.
	GetActiveBetForRound(ctx context.Context, roundID, userID string) (*Bet, error)
	// ListAutoCashoutDue returns active bets whose auto-cashout target
	// is set and has been reached by multiplier.
	ListAutoCashoutDue(ctx context.Context, roundID string, multiplier float64) ([]Bet, error)
	// SettleBetWon marks an active bet won and credits the win amount
	// in one transaction.
	SettleBetWon(ctx context.Context, betID string, multiplier, winAmount float64) (*Account, error)
	// SettleBetsLost marks all remaining active bets of a round lost.
	// No balance change: stakes were debited at placement.
	SettleBetsLost(ctx context.Context, roundID string) ([]Bet, error)
	// RefundActiveBets marks all active bets of a round lost and
	// refunds their stakes. Used only by the administrative stop path.
	RefundActiveBets(ctx context.Context, roundID string) ([]Bet, error)
	// ListSettledBets returns a user's won/lost bets, most recent first.
	ListSettledBets(ctx context.Context, userID string, limit, offset int) ([]BetHistoryEntry, error)

	GetAccount(ctx context.Context, userID string) (*Account, error)
	// SetBalance creates or overwrites an account's balance.
	SetBalance(ctx context.Context, userID string, balance float64) (*Account, error)
}
