package crash

import (
	"context"
	"time"
)

type RoundStatus string

const (
	RoundWaiting RoundStatus = "waiting"
	RoundRunning RoundStatus = "running"
	RoundCrashed RoundStatus = "crashed"
)

type BetStatus string

const (
	BetActive BetStatus = "active"
	BetWon    BetStatus = "won"
	BetLost   BetStatus = "lost"
)

// Round is one instance of the crash game, from creation to crash.
// ServerSeed and CrashPoint stay hidden from clients until the round
// reaches RoundCrashed.
type Round struct {
	ID             string      `json:"gameId"`
	Status         RoundStatus `json:"state"`
	ServerSeed     string      `json:"-"`
	ServerSeedHash string      `json:"serverSeedHash"`
	ClientSeed     string      `json:"clientSeed"`
	Nonce          int         `json:"nonce"`
	CrashPoint     float64     `json:"-"`
	StartedAt      *time.Time  `json:"startedAt,omitempty"`
	CrashedAt      *time.Time  `json:"crashedAt,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Open reports whether the round still owns live state.
func (r *Round) Open() bool {
	return r.Status == RoundWaiting || r.Status == RoundRunning
}

// Bet is one player's wager in one round. AutoCashout of 0 means none.
type Bet struct {
	ID                string    `json:"betId"`
	RoundID           string    `json:"gameId"`
	UserID            string    `json:"userId"`
	Amount            float64   `json:"amount"`
	AutoCashout       float64   `json:"autoCashout,omitempty"`
	Status            BetStatus `json:"status"`
	CashoutMultiplier float64   `json:"cashoutMultiplier,omitempty"`
	WinAmount         float64   `json:"winAmount,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Account is the player's wallet row. The engine and settlement only
// ever mutate it through balance-conditioned atomic store updates.
type Account struct {
	UserID       string  `json:"userId"`
	Balance      float64 `json:"balance"`
	TotalWagered float64 `json:"totalWagered"`
	TotalWon     float64 `json:"totalWon"`
	GamesPlayed  int     `json:"gamesPlayed"`
}

// RoundSnapshot is the externally safe view of the live round, mirrored
// to Redis for dashboards and sent to newly connected clients.
type RoundSnapshot struct {
	RoundID        string      `json:"gameId"`
	Status         RoundStatus `json:"state"`
	Multiplier     float64     `json:"multiplier"`
	ServerSeedHash string      `json:"serverSeedHash"`
	CrashPoint     float64     `json:"crashPoint,omitempty"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Broadcaster is the transport-agnostic realtime publish contract.
// Publishes are fire-and-forget: implementations must never block or
// fail a settlement.
type Broadcaster interface {
	RoundStart(roundID, serverSeedHash string)
	Tick(multiplier float64, elapsedMs int64)
	RoundCrash(crashPoint float64, serverSeed string)
	PlayerBet(userID, displayName string, amount float64)
	PlayerCashout(userID string, multiplier, winAmount float64)
}

// NopBroadcaster drops every event. Used in tests and as the default
// until a transport is attached.
type NopBroadcaster struct{}

func (NopBroadcaster) RoundStart(string, string)              {}
func (NopBroadcaster) Tick(float64, int64)                    {}
func (NopBroadcaster) RoundCrash(float64, string)             {}
func (NopBroadcaster) PlayerBet(string, string, float64)      {}
func (NopBroadcaster) PlayerCashout(string, float64, float64) {}

// AuditEntry mirrors the audit sink contract of the surrounding
// platform. Old/new values are free-form documents.
type AuditEntry struct {
	UserID     string         `json:"userId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	OldValue   map[string]any `json:"oldValue,omitempty"`
	NewValue   map[string]any `json:"newValue,omitempty"`
	IPAddress  string         `json:"ipAddress,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
}

// AuditSink records settlement actions, best effort. A failed write
// must never roll back or delay the settlement that produced it.
type AuditSink interface {
	Log(ctx context.Context, entry AuditEntry)
}

// StatsSink feeds the leaderboard aggregator, best effort.
type StatsSink interface {
	UpdateStats(ctx context.Context, userID string, wagered, netResult float64, isWin bool)
}

// SnapshotSink receives live round snapshots, best effort.
type SnapshotSink interface {
	SaveRound(ctx context.Context, snap RoundSnapshot)
}

type nopAudit struct{}

func (nopAudit) Log(context.Context, AuditEntry) {}

type nopStats struct{}

func (nopStats) UpdateStats(context.Context, string, float64, float64, bool) {}

type nopSnapshots struct{}

func (nopSnapshots) SaveRound(context.Context, RoundSnapshot) {}
