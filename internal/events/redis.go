package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"skyrush/internal/crash"
)

const (
	auditStream = "audit:log"
	statsStream = "leaderboard:stats"

	currentRoundKey = "crash:round:current"
	snapshotTTL     = time.Hour

	publishTimeout = 2 * time.Second
)

// Publisher pushes audit entries and leaderboard updates onto Redis
// Streams and mirrors the live round snapshot. Everything here is
// best-effort: publishes run detached from the caller and failures are
// logged and swallowed, never surfaced to the settlement that
// triggered them.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Log(_ context.Context, entry crash.AuditEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		oldValue, _ := json.Marshal(entry.OldValue)
		newValue, _ := json.Marshal(entry.NewValue)
		err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: auditStream,
			Values: map[string]any{
				"userId":     entry.UserID,
				"action":     entry.Action,
				"entityType": entry.EntityType,
				"entityId":   entry.EntityID,
				"oldValue":   string(oldValue),
				"newValue":   string(newValue),
				"ipAddress":  entry.IPAddress,
				"userAgent":  entry.UserAgent,
			},
		}).Err()
		if err != nil {
			log.Printf("[EVENTS] Audit publish failed: %v", err)
		}
	}()
}

func (p *Publisher) UpdateStats(_ context.Context, userID string, wagered, netResult float64, isWin bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: statsStream,
			Values: map[string]any{
				"userId":    userID,
				"wagered":   wagered,
				"netResult": netResult,
				"isWin":     isWin,
			},
		}).Err()
		if err != nil {
			log.Printf("[EVENTS] Stats publish failed: %v", err)
		}
	}()
}

// SaveRound mirrors the safe view of the live round for dashboards and
// read-only consumers outside this process.
func (p *Publisher) SaveRound(_ context.Context, snap crash.RoundSnapshot) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		data, err := json.Marshal(snap)
		if err != nil {
			log.Printf("[EVENTS] Snapshot marshal failed: %v", err)
			return
		}
		if err := p.client.Set(ctx, currentRoundKey, data, snapshotTTL).Err(); err != nil {
			log.Printf("[EVENTS] Snapshot save failed: %v", err)
		}
	}()
}
