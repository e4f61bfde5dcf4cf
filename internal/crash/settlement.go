package crash

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
)

// RequestMeta carries per-request context for the audit trail.
type RequestMeta struct {
	DisplayName string
	IPAddress   string
	UserAgent   string
}

// Settlement is the transactional boundary for placing bets and
// cashing out. It reads the authoritative multiplier from the engine
// and delegates the money movement to the store's atomic compound
// operations, so a failure anywhere leaves no partial state.
type Settlement struct {
	cfg    Config
	store  Store
	engine *Engine
	bc     Broadcaster
	audit  AuditSink
	stats  StatsSink
}

func NewSettlement(cfg Config, store Store, engine *Engine, bc Broadcaster) *Settlement {
	if bc == nil {
		bc = NopBroadcaster{}
	}
	return &Settlement{
		cfg:    cfg,
		store:  store,
		engine: engine,
		bc:     bc,
		audit:  nopAudit{},
		stats:  nopStats{},
	}
}

func (s *Settlement) SetAuditSink(a AuditSink)  { s.audit = a }
func (s *Settlement) SetStatsSink(st StatsSink) { s.stats = st }

// PlaceBet validates the wager, debits the stake and creates the bet
// in one transaction. The bet is only accepted while the live round is
// waiting.
func (s *Settlement) PlaceBet(ctx context.Context, userID string, amount, autoCashout float64, meta RequestMeta) (*Bet, error) {
	if amount < s.cfg.MinBet || amount > s.cfg.MaxBet {
		return nil, ErrInvalidAmount
	}
	if autoCashout != 0 && (autoCashout < s.cfg.MinAutoCashout || autoCashout > s.cfg.MaxAutoCashout) {
		return nil, ErrInvalidAutoCashout
	}

	round, _, ok := s.engine.CurrentRound()
	if !ok {
		return nil, ErrRoundNotFound
	}
	if round.Status != RoundWaiting {
		return nil, ErrBettingClosed
	}

	bet := &Bet{
		ID:          uuid.NewString(),
		RoundID:     round.ID,
		UserID:      userID,
		Amount:      amount,
		AutoCashout: autoCashout,
		CreatedAt:   time.Now(),
	}

	acct, err := s.store.PlaceBet(ctx, bet)
	if err != nil {
		return nil, err
	}

	s.engine.NotifyBetPlaced(round.ID)

	name := meta.DisplayName
	if name == "" {
		name = userID
	}
	s.bc.PlayerBet(userID, name, amount)
	s.audit.Log(ctx, AuditEntry{
		UserID:     userID,
		Action:     "BET",
		EntityType: "CrashBet",
		EntityID:   bet.ID,
		OldValue:   map[string]any{"balance": acct.Balance + amount},
		NewValue: map[string]any{
			"balance":     acct.Balance,
			"gameId":      round.ID,
			"amount":      amount,
			"autoCashout": autoCashout,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	log.Printf("[SETTLE] User %s bet %.2f on round %s", userID, amount, round.ID)
	return bet, nil
}

// Cashout settles the caller's active bet at the engine's current
// multiplier. Only possible while the owning round is running.
func (s *Settlement) Cashout(ctx context.Context, userID, betID string, meta RequestMeta) (float64, float64, error) {
	bet, err := s.store.GetActiveBet(ctx, betID, userID)
	if err != nil {
		return 0, 0, err
	}

	mult, err := s.engine.CurrentMultiplier(bet.RoundID)
	if err != nil {
		return 0, 0, err
	}

	winAmount, acct, err := s.settleWon(ctx, *bet, mult)
	if err != nil {
		return 0, 0, err
	}

	s.audit.Log(ctx, AuditEntry{
		UserID:     userID,
		Action:     "CASHOUT",
		EntityType: "CrashBet",
		EntityID:   bet.ID,
		OldValue:   map[string]any{"status": string(BetActive), "balance": acct.Balance - winAmount},
		NewValue: map[string]any{
			"status":     string(BetWon),
			"balance":    acct.Balance,
			"multiplier": mult,
			"winAmount":  winAmount,
		},
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	})

	log.Printf("[SETTLE] User %s cashed out bet %s at %.2fx for %.2f", userID, betID, mult, winAmount)
	return mult, winAmount, nil
}

// AutoCashout settles a bet at its pre-registered target multiplier.
// Called from the engine's tick scan; shares the exact settlement path
// of a manual cashout.
func (s *Settlement) AutoCashout(ctx context.Context, bet Bet) error {
	if bet.AutoCashout <= 0 {
		return nil
	}
	winAmount, _, err := s.settleWon(ctx, bet, bet.AutoCashout)
	if err != nil {
		return err
	}
	log.Printf("[SETTLE] Auto-cashout bet %s at %.2fx for %.2f", bet.ID, bet.AutoCashout, winAmount)
	return nil
}

func (s *Settlement) settleWon(ctx context.Context, bet Bet, multiplier float64) (float64, *Account, error) {
	winAmount := math.Round(bet.Amount*multiplier*100) / 100

	acct, err := s.store.SettleBetWon(ctx, bet.ID, multiplier, winAmount)
	if err != nil {
		return 0, nil, err
	}

	s.bc.PlayerCashout(bet.UserID, multiplier, winAmount)
	s.stats.UpdateStats(ctx, bet.UserID, bet.Amount, winAmount-bet.Amount, true)
	return winAmount, acct, nil
}
