package crash

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"skyrush/internal/game"
)

// Config carries the engine's timing and validation knobs. The zero
// value is not usable; start from DefaultConfig.
type Config struct {
	BettingWindow time.Duration
	TickInterval  time.Duration
	Cooldown      time.Duration

	// StartOnFirstBet switches to the eager variant: the first bet in a
	// waiting round starts it immediately instead of waiting out the
	// betting window.
	StartOnFirstBet bool

	MinBet         float64
	MaxBet         float64
	MinAutoCashout float64
	MaxAutoCashout float64

	// DeriveCrashPoint and Growth default to the production fairness
	// formula and multiplier curve. Tests swap them to force outcomes.
	DeriveCrashPoint func(serverSeed, clientSeed string, nonce int) float64
	Growth           func(elapsed time.Duration) float64
}

func DefaultConfig() Config {
	return Config{
		BettingWindow:    5 * time.Second,
		TickInterval:     100 * time.Millisecond,
		Cooldown:         3 * time.Second,
		MinBet:           0.10,
		MaxBet:           10000,
		MinAutoCashout:   1.00,
		MaxAutoCashout:   1000,
		DeriveCrashPoint: DeriveCrashPoint,
		Growth:           GrowthMultiplier,
	}
}

// GrowthMultiplier is the live multiplier curve: 1.0024^(elapsedMs/100),
// floored to two decimals. Fixed constant, same reason as HouseEdge.
func GrowthMultiplier(elapsed time.Duration) float64 {
	m := math.Pow(1.0024, float64(elapsed.Milliseconds())/100.0)
	if m < MinMultiplier {
		return MinMultiplier
	}
	return math.Floor(m*100) / 100
}

// Cashier settles auto-cashouts. Implemented by Settlement; the engine
// never touches balances directly.
type Cashier interface {
	AutoCashout(ctx context.Context, bet Bet) error
}

// Engine owns the live round. Exactly one Engine may own round
// authority per deployment; it is handed its collaborators explicitly
// rather than living in a package-level singleton.
//
// The tick scheduler is a self-rearming timer chain. Every tick
// recomputes elapsed time from the stored start instant with the
// monotonic clock, so scheduling jitter or a slow settlement cannot
// drift the multiplier.
type Engine struct {
	cfg   Config
	store Store
	bc    Broadcaster
	snaps SnapshotSink
	stats StatsSink

	ctx context.Context

	mu        sync.Mutex
	round     *Round
	startedAt time.Time
	timer     *time.Timer
	gen       int
	stopped   bool
	nonce     int

	cashier Cashier
}

func NewEngine(cfg Config, store Store, bc Broadcaster) *Engine {
	if cfg.DeriveCrashPoint == nil {
		cfg.DeriveCrashPoint = DeriveCrashPoint
	}
	if cfg.Growth == nil {
		cfg.Growth = GrowthMultiplier
	}
	if bc == nil {
		bc = NopBroadcaster{}
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		bc:      bc,
		snaps:   nopSnapshots{},
		stats:   nopStats{},
		ctx:     context.Background(),
		stopped: true,
	}
}

// SetCashier attaches the settlement service for auto-cashouts. Must
// be called before Start.
func (e *Engine) SetCashier(c Cashier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cashier = c
}

// SetSnapshotSink attaches an optional live-round mirror.
func (e *Engine) SetSnapshotSink(s SnapshotSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snaps = s
}

// SetStatsSink attaches the leaderboard aggregator for lost bets.
func (e *Engine) SetStatsSink(s StatsSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = s
}

func (e *Engine) Type() game.Type {
	return game.TypeCrash
}

// Start resumes the round lifecycle. A persisted open round is
// re-attached so round continuity survives process restarts; otherwise
// a fresh round is scheduled immediately.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.stopped {
		return nil
	}
	e.stopped = false
	e.gen++
	gen := e.gen

	r, err := e.store.GetOpenRound(ctx)
	if err == nil {
		e.round = r
		switch r.Status {
		case RoundRunning:
			e.startedAt = *r.StartedAt
			log.Printf("[ENGINE] Recovered running round %s at %.2fx", r.ID, e.cfg.Growth(time.Since(e.startedAt)))
			e.armLocked(e.cfg.TickInterval, func() { e.tick(gen) })
		case RoundWaiting:
			remaining := e.cfg.BettingWindow - time.Since(r.CreatedAt)
			if remaining < 0 {
				remaining = 0
			}
			log.Printf("[ENGINE] Recovered waiting round %s, %s of betting left", r.ID, remaining)
			e.armLocked(remaining, func() { e.beginRun(gen) })
		}
		return nil
	}
	if err != ErrRoundNotFound {
		return err
	}

	e.armLocked(0, func() { e.newRound(gen) })
	return nil
}

// Stop cancels all pending timers and suppresses new-round creation.
// Still-active bets are voided and their stakes refunded: players must
// not lose money to an operator-initiated halt. The natural crash path
// never refunds.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	e.stopped = true
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if e.round != nil && e.round.Open() {
		r := e.round
		refunded, err := e.store.RefundActiveBets(ctx, r.ID)
		if err != nil {
			log.Printf("[ENGINE] Refund on stop failed for round %s: %v", r.ID, err)
		} else if len(refunded) > 0 {
			log.Printf("[ENGINE] Round %s stopped, refunded %d bets", r.ID, len(refunded))
		}
		if err := e.store.MarkRoundCrashed(ctx, r.ID, time.Now()); err != nil {
			log.Printf("[ENGINE] Failed to close round %s on stop: %v", r.ID, err)
		}
		e.bc.RoundCrash(r.CrashPoint, r.ServerSeed)
		e.saveSnapshotLocked(RoundCrashed, r.CrashPoint)
		e.round = nil
	}

	log.Println("[ENGINE] Stopped")
	return nil
}

// CurrentRound returns a copy of the live round plus the authoritative
// multiplier (1.00 while waiting).
func (e *Engine) CurrentRound() (Round, float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil {
		return Round{}, 0, false
	}
	mult := MinMultiplier
	if e.round.Status == RoundRunning {
		mult = e.liveMultiplierLocked()
	}
	return *e.round, mult, true
}

// CurrentMultiplier is the authoritative cashout multiplier for the
// given round. Fails unless the round is live and running, or once the
// curve has already passed the crash point between ticks.
func (e *Engine) CurrentMultiplier(roundID string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round == nil || e.round.ID != roundID || e.round.Status != RoundRunning {
		return 0, ErrRoundNotRunning
	}
	m := e.liveMultiplierLocked()
	if m >= e.round.CrashPoint {
		return 0, ErrRoundNotRunning
	}
	return m, nil
}

// NotifyBetPlaced lets the settlement layer report an accepted bet. In
// eager mode the triggering bet starts the round at once.
func (e *Engine) NotifyBetPlaced(roundID string) {
	if !e.cfg.StartOnFirstBet {
		return
	}
	e.mu.Lock()
	gen := e.gen
	waiting := e.round != nil && e.round.ID == roundID && e.round.Status == RoundWaiting
	e.mu.Unlock()
	if waiting {
		e.beginRun(gen)
	}
}

func (e *Engine) liveMultiplierLocked() float64 {
	return e.cfg.Growth(time.Since(e.startedAt))
}

// armLocked replaces the pending timer. Callers hold e.mu.
func (e *Engine) armLocked(d time.Duration, fn func()) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, fn)
}

func (e *Engine) newRound(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.stopped {
		return
	}

	e.nonce++
	serverSeed := GenerateServerSeed()
	clientSeed := GenerateServerSeed()
	r := &Round{
		ID:             uuid.NewString(),
		Status:         RoundWaiting,
		ServerSeed:     serverSeed,
		ServerSeedHash: HashServerSeed(serverSeed),
		ClientSeed:     clientSeed,
		Nonce:          e.nonce,
		CrashPoint:     e.cfg.DeriveCrashPoint(serverSeed, clientSeed, e.nonce),
		CreatedAt:      time.Now(),
	}

	if err := e.store.CreateRound(e.ctx, r); err != nil {
		log.Printf("[ENGINE] Failed to persist new round: %v", err)
		e.armLocked(e.cfg.Cooldown, func() { e.newRound(gen) })
		return
	}

	e.round = r
	log.Printf("[ENGINE] Round %s waiting, commitment %s...", r.ID, r.ServerSeedHash[:16])

	e.bc.RoundStart(r.ID, r.ServerSeedHash)
	e.saveSnapshotLocked(RoundWaiting, 0)
	e.armLocked(e.cfg.BettingWindow, func() { e.beginRun(gen) })
}

func (e *Engine) beginRun(gen int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.stopped || e.round == nil || e.round.Status != RoundWaiting {
		return
	}

	now := time.Now()
	if err := e.store.MarkRoundRunning(e.ctx, e.round.ID, now); err != nil {
		log.Printf("[ENGINE] Failed to mark round %s running: %v", e.round.ID, err)
	}
	e.round.Status = RoundRunning
	e.round.StartedAt = &now
	e.startedAt = now

	log.Printf("[ENGINE] Round %s running", e.round.ID)
	e.bc.Tick(MinMultiplier, 0)
	e.saveSnapshotLocked(RoundRunning, 0)
	e.armLocked(e.cfg.TickInterval, func() { e.tick(gen) })
}

func (e *Engine) tick(gen int) {
	e.mu.Lock()
	if gen != e.gen || e.stopped || e.round == nil || e.round.Status != RoundRunning {
		e.mu.Unlock()
		return
	}

	elapsed := time.Since(e.startedAt)
	mult := e.cfg.Growth(elapsed)

	if mult >= e.round.CrashPoint {
		e.crashLocked(gen)
		e.mu.Unlock()
		return
	}

	roundID := e.round.ID
	cashier := e.cashier
	// Re-arm first: a slow settlement scan must never stall the clock.
	e.armLocked(e.cfg.TickInterval, func() { e.tick(gen) })
	e.mu.Unlock()

	e.bc.Tick(mult, elapsed.Milliseconds())

	due, err := e.store.ListAutoCashoutDue(e.ctx, roundID, mult)
	if err != nil {
		log.Printf("[ENGINE] Auto-cashout scan failed: %v", err)
		return
	}
	if cashier == nil {
		return
	}
	for _, bet := range due {
		go func(b Bet) {
			// Settled at the bet's registered target, not the live
			// multiplier, so the payout is reproducible.
			if err := cashier.AutoCashout(e.ctx, b); err != nil && err != ErrBetNotFound {
				log.Printf("[ENGINE] Auto-cashout failed for bet %s: %v", b.ID, err)
			}
		}(bet)
	}
}

// crashLocked finalizes the round. Callers hold e.mu.
func (e *Engine) crashLocked(gen int) {
	r := e.round
	now := time.Now()
	r.Status = RoundCrashed
	r.CrashedAt = &now

	if err := e.store.MarkRoundCrashed(e.ctx, r.ID, now); err != nil {
		log.Printf("[ENGINE] Failed to persist crash of round %s: %v", r.ID, err)
	}

	// Reveal: the server seed becomes public, the commitment can now be
	// checked by anyone.
	e.bc.RoundCrash(r.CrashPoint, r.ServerSeed)

	lost, err := e.store.SettleBetsLost(e.ctx, r.ID)
	if err != nil {
		log.Printf("[ENGINE] Failed to settle lost bets of round %s: %v", r.ID, err)
	}
	for _, b := range lost {
		e.stats.UpdateStats(e.ctx, b.UserID, b.Amount, -b.Amount, false)
	}

	log.Printf("[ENGINE] Round %s crashed at %.2fx, %d bets lost", r.ID, r.CrashPoint, len(lost))
	e.saveSnapshotLocked(RoundCrashed, r.CrashPoint)
	e.round = nil

	e.armLocked(e.cfg.Cooldown, func() { e.newRound(gen) })
}

// saveSnapshotLocked mirrors the safe round view. Callers hold e.mu;
// e.round may already be the finalized round.
func (e *Engine) saveSnapshotLocked(status RoundStatus, crashPoint float64) {
	if e.round == nil {
		return
	}
	snap := RoundSnapshot{
		RoundID:        e.round.ID,
		Status:         status,
		Multiplier:     MinMultiplier,
		ServerSeedHash: e.round.ServerSeedHash,
		CrashPoint:     crashPoint,
		UpdatedAt:      time.Now(),
	}
	if status == RoundRunning {
		snap.Multiplier = e.liveMultiplierLocked()
	}
	e.snaps.SaveRound(e.ctx, snap)
}
