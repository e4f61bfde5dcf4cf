package crash

import (
	"context"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 10
)

// CurrentRoundView is the player-facing projection of the live round.
// The multiplier is present only while the round is running; the crash
// point and server seed are never included.
type CurrentRoundView struct {
	GameID         string      `json:"gameId"`
	State          RoundStatus `json:"state"`
	Multiplier     float64     `json:"multiplier,omitempty"`
	ServerSeedHash string      `json:"serverSeedHash"`
	MyBet          *MyBet      `json:"myBet,omitempty"`
}

type MyBet struct {
	BetID  string  `json:"betId"`
	Amount float64 `json:"amount"`
}

// RoundHistoryEntry exposes the reveal data of a finished round. Safe
// once the round has crashed.
type RoundHistoryEntry struct {
	GameID     string  `json:"gameId"`
	CrashPoint float64 `json:"crashPoint"`
	Hash       string  `json:"hash"`
	Seed       string  `json:"seed"`
}

// Query serves the read-only projections.
type Query struct {
	store  Store
	engine *Engine
}

func NewQuery(store Store, engine *Engine) *Query {
	return &Query{store: store, engine: engine}
}

// CurrentRound returns the live round plus the caller's active bet, if
// any. userID may be empty for anonymous viewers.
func (q *Query) CurrentRound(ctx context.Context, userID string) (*CurrentRoundView, error) {
	round, mult, ok := q.engine.CurrentRound()
	if !ok {
		return nil, ErrRoundNotFound
	}

	view := &CurrentRoundView{
		GameID:         round.ID,
		State:          round.Status,
		ServerSeedHash: round.ServerSeedHash,
	}
	if round.Status == RoundRunning {
		view.Multiplier = mult
	}

	if userID != "" {
		bet, err := q.store.GetActiveBetForRound(ctx, round.ID, userID)
		if err == nil {
			view.MyBet = &MyBet{BetID: bet.ID, Amount: bet.Amount}
		} else if err != ErrBetNotFound {
			return nil, err
		}
	}
	return view, nil
}

// RoundHistory lists crashed rounds with their revealed seeds, most
// recent first.
func (q *Query) RoundHistory(ctx context.Context, limit, offset int) ([]RoundHistoryEntry, error) {
	limit, offset = clampPage(limit, offset)
	rounds, err := q.store.ListCrashedRounds(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]RoundHistoryEntry, 0, len(rounds))
	for _, r := range rounds {
		out = append(out, RoundHistoryEntry{
			GameID:     r.ID,
			CrashPoint: r.CrashPoint,
			Hash:       r.ServerSeedHash,
			Seed:       r.ServerSeed,
		})
	}
	return out, nil
}

// UserBetHistory lists the caller's settled bets, most recent first.
func (q *Query) UserBetHistory(ctx context.Context, userID string, limit, offset int) ([]BetHistoryEntry, error) {
	limit, offset = clampPage(limit, offset)
	bets, err := q.store.ListSettledBets(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if bets == nil {
		bets = []BetHistoryEntry{}
	}
	return bets, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
