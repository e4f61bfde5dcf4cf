package crash

import (
	"context"
	"testing"
	"time"
)

func newTestGame(t *testing.T, cfg Config) (*MemoryStore, *Engine, *Settlement) {
	t.Helper()
	store := NewMemoryStore()
	eng := NewEngine(cfg, store, nil)
	svc := NewSettlement(cfg, store, eng, nil)
	eng.SetCashier(svc)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { eng.Stop(context.Background()) })
	return store, eng, svc
}

func waitForWaitingRound(t *testing.T, eng *Engine) Round {
	t.Helper()
	var round Round
	waitFor(t, time.Second, "waiting round", func() bool {
		r, _, ok := eng.CurrentRound()
		if ok && r.Status == RoundWaiting {
			round = r
			return true
		}
		return false
	})
	return round
}

func TestPlaceBet_Validation(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	cfg.BettingWindow = time.Second
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "alice", 1000)
	waitForWaitingRound(t, eng)

	tests := []struct {
		name        string
		amount      float64
		autoCashout float64
		wantErr     error
	}{
		{name: "Amount too small", amount: 0.05, wantErr: ErrInvalidAmount},
		{name: "Amount too large", amount: 20000, wantErr: ErrInvalidAmount},
		{name: "Auto cashout below 1", amount: 10, autoCashout: 0.5, wantErr: ErrInvalidAutoCashout},
		{name: "Auto cashout too large", amount: 10, autoCashout: 5000, wantErr: ErrInvalidAutoCashout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.PlaceBet(ctx, "alice", tt.amount, tt.autoCashout, RequestMeta{})
			if err != tt.wantErr {
				t.Errorf("PlaceBet() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Validation failures must not touch the balance.
	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 1000 {
		t.Errorf("balance = %v, want 1000", acct.Balance)
	}
}

func TestPlaceBet_DebitsAtomically(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	cfg.BettingWindow = time.Second
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "alice", 100)
	round := waitForWaitingRound(t, eng)

	bet, err := svc.PlaceBet(ctx, "alice", 25, 0, RequestMeta{})
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}
	if bet.RoundID != round.ID {
		t.Errorf("bet.RoundID = %v, want %v", bet.RoundID, round.ID)
	}
	if bet.Status != BetActive {
		t.Errorf("bet.Status = %v, want active", bet.Status)
	}

	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 75 {
		t.Errorf("balance = %v, want 75", acct.Balance)
	}
	if acct.TotalWagered != 25 || acct.GamesPlayed != 1 {
		t.Errorf("wagered/games = %v/%v, want 25/1", acct.TotalWagered, acct.GamesPlayed)
	}
}

func TestPlaceBet_InsufficientBalance(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	cfg.BettingWindow = time.Second
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "poor", 5)
	waitForWaitingRound(t, eng)

	if _, err := svc.PlaceBet(ctx, "poor", 10, 0, RequestMeta{}); err != ErrInsufficientBalance {
		t.Errorf("PlaceBet() error = %v, want ErrInsufficientBalance", err)
	}

	acct, _ := store.GetAccount(ctx, "poor")
	if acct.Balance != 5 {
		t.Errorf("balance = %v, want 5 (no partial debit)", acct.Balance)
	}
}

func TestPlaceBet_DuplicateActiveBet(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	cfg.BettingWindow = time.Second
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "alice", 100)
	waitForWaitingRound(t, eng)

	if _, err := svc.PlaceBet(ctx, "alice", 10, 0, RequestMeta{}); err != nil {
		t.Fatalf("first PlaceBet() error: %v", err)
	}
	if _, err := svc.PlaceBet(ctx, "alice", 10, 0, RequestMeta{}); err != ErrBetExists {
		t.Errorf("second PlaceBet() error = %v, want ErrBetExists", err)
	}

	// Exactly one debit.
	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 90 {
		t.Errorf("balance = %v, want 90", acct.Balance)
	}
}

func TestPlaceBet_RejectedWhileRunning(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "late", 100)

	waitFor(t, time.Second, "running round", func() bool {
		r, _, ok := eng.CurrentRound()
		return ok && r.Status == RoundRunning
	})

	if _, err := svc.PlaceBet(ctx, "late", 10, 0, RequestMeta{}); err != ErrBettingClosed {
		t.Errorf("PlaceBet() error = %v, want ErrBettingClosed", err)
	}
}

func TestCashout_WhileRunning(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "alice", 100)
	waitForWaitingRound(t, eng)

	bet, err := svc.PlaceBet(ctx, "alice", 10, 0, RequestMeta{})
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}

	waitFor(t, time.Second, "running round", func() bool {
		r, _, ok := eng.CurrentRound()
		return ok && r.Status == RoundRunning
	})

	mult, winAmount, err := svc.Cashout(ctx, "alice", bet.ID, RequestMeta{})
	if err != nil {
		t.Fatalf("Cashout() error: %v", err)
	}
	if mult < MinMultiplier {
		t.Errorf("multiplier = %v, want >= 1.00", mult)
	}

	want := float64(int(10*mult*100+0.5)) / 100
	if winAmount != want {
		t.Errorf("winAmount = %v, want round(amount*multiplier, 2) = %v", winAmount, want)
	}

	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 90+winAmount {
		t.Errorf("balance = %v, want %v", acct.Balance, 90+winAmount)
	}
	if acct.TotalWon != winAmount {
		t.Errorf("totalWon = %v, want %v", acct.TotalWon, winAmount)
	}

	// Settled exactly once.
	if _, _, err := svc.Cashout(ctx, "alice", bet.ID, RequestMeta{}); err != ErrBetNotFound {
		t.Errorf("second Cashout() error = %v, want ErrBetNotFound", err)
	}
}

func TestCashout_RejectedWhileWaiting(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	cfg.BettingWindow = time.Second
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "alice", 100)
	waitForWaitingRound(t, eng)

	bet, err := svc.PlaceBet(ctx, "alice", 10, 0, RequestMeta{})
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}

	if _, _, err := svc.Cashout(ctx, "alice", bet.ID, RequestMeta{}); err != ErrRoundNotRunning {
		t.Errorf("Cashout() error = %v, want ErrRoundNotRunning", err)
	}
}

func TestCashout_UnknownBet(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1000)
	_, eng, svc := newTestGame(t, cfg)
	waitForWaitingRound(t, eng)

	if _, _, err := svc.Cashout(ctx, "alice", "no-such-bet", RequestMeta{}); err != ErrBetNotFound {
		t.Errorf("Cashout() error = %v, want ErrBetNotFound", err)
	}
}

func TestAutoCashout_SettlesAtRegisteredTarget(t *testing.T) {
	ctx := context.Background()
	// Crash at 2.50; auto-cashout at 2.00 fires strictly earlier.
	cfg := fastConfig(2.50)
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "alice", 100)
	waitForWaitingRound(t, eng)

	bet, err := svc.PlaceBet(ctx, "alice", 10, 2.0, RequestMeta{})
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}

	waitFor(t, 2*time.Second, "auto-cashout to settle", func() bool {
		entries, _ := store.ListSettledBets(ctx, "alice", 10, 0)
		return len(entries) == 1
	})

	entries, _ := store.ListSettledBets(ctx, "alice", 10, 0)
	got := entries[0]
	if got.ID != bet.ID {
		t.Fatalf("settled bet id = %v, want %v", got.ID, bet.ID)
	}
	if got.Status != BetWon {
		t.Errorf("bet.Status = %v, want won (settled before crash)", got.Status)
	}
	if got.CashoutMultiplier != 2.0 {
		t.Errorf("cashoutMultiplier = %v, want the registered 2.0, not the live value", got.CashoutMultiplier)
	}
	if got.WinAmount != 20.00 {
		t.Errorf("winAmount = %v, want 20.00", got.WinAmount)
	}

	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 110 {
		t.Errorf("balance = %v, want 110", acct.Balance)
	}
}

func TestCrash_SettlesRemainingBetsLost(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(1.20)
	store, eng, svc := newTestGame(t, cfg)
	store.SetBalance(ctx, "alice", 100)
	round := waitForWaitingRound(t, eng)

	bet, err := svc.PlaceBet(ctx, "alice", 5, 0, RequestMeta{})
	if err != nil {
		t.Fatalf("PlaceBet() error: %v", err)
	}

	waitFor(t, 2*time.Second, "round to crash", func() bool {
		r, err := store.GetRound(ctx, round.ID)
		return err == nil && r.Status == RoundCrashed
	})

	entries, _ := store.ListSettledBets(ctx, "alice", 10, 0)
	if len(entries) != 1 || entries[0].ID != bet.ID {
		t.Fatalf("expected the bet settled, got %+v", entries)
	}
	if entries[0].Status != BetLost {
		t.Errorf("bet.Status = %v, want lost", entries[0].Status)
	}
	if entries[0].WinAmount != 0 {
		t.Errorf("winAmount = %v, want 0", entries[0].WinAmount)
	}

	// Only the initial debit, no credit.
	acct, _ := store.GetAccount(ctx, "alice")
	if acct.Balance != 95 {
		t.Errorf("balance = %v, want 95", acct.Balance)
	}
}

func TestCrash_RevealReproducesCrashPoint(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig(0) // overwritten below
	cfg.DeriveCrashPoint = DeriveCrashPoint
	cfg.Growth = func(elapsed time.Duration) float64 {
		return 1.0 + float64(elapsed.Milliseconds()) // crash almost instantly
	}
	store, eng, _ := newTestGame(t, cfg)

	var roundID string
	waitFor(t, time.Second, "waiting round", func() bool {
		r, _, ok := eng.CurrentRound()
		if ok {
			roundID = r.ID
			return true
		}
		return false
	})

	waitFor(t, 2*time.Second, "round to crash", func() bool {
		r, err := store.GetRound(ctx, roundID)
		return err == nil && r.Status == RoundCrashed
	})

	r, _ := store.GetRound(ctx, roundID)
	if derived := DeriveCrashPoint(r.ServerSeed, r.ClientSeed, r.Nonce); derived != r.CrashPoint {
		t.Errorf("reveal round-trip: derived %v, stored %v", derived, r.CrashPoint)
	}
	if HashServerSeed(r.ServerSeed) != r.ServerSeedHash {
		t.Error("revealed seed does not match published commitment")
	}
}
