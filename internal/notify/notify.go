// Package notify implements the per-player pending-notification buffer:
// append-only enqueue, drain-and-clear, and acknowledge-by-id. Legacy
// plain-string entries are dropped on the first drain.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

// Queue operates on a tenant's notification buffers.
type Queue struct {
	now func() time.Time
}

// NewQueue creates a queue.
func NewQueue() *Queue {
	return &Queue{now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue appends a notification to the player's buffer.
func (q *Queue) Enqueue(ctx context.Context, store storage.Store, playerUUID, message, kind string) error {
	n := models.Notification{
		ID:        uuid.New().String(),
		Message:   message,
		Type:      kind,
		Timestamp: q.now(),
	}
	return store.UpdatePlayer(ctx, playerUUID, func(p *models.Player) error {
		p.PendingNotifications = append(p.PendingNotifications, n)
		return nil
	})
}

// Drain returns the player's pending notifications and atomically clears the
// buffer. Legacy bare-string entries are discarded, not returned.
func (q *Queue) Drain(ctx context.Context, store storage.Store, playerUUID string) ([]models.Notification, error) {
	var drained []models.Notification
	err := store.UpdatePlayer(ctx, playerUUID, func(p *models.Player) error {
		for _, n := range p.PendingNotifications {
			if n.Legacy {
				continue
			}
			drained = append(drained, n)
		}
		p.PendingNotifications = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}

// DrainInPlace is Drain for callers already inside a player update.
func DrainInPlace(p *models.Player) []models.Notification {
	var drained []models.Notification
	for _, n := range p.PendingNotifications {
		if n.Legacy {
			continue
		}
		drained = append(drained, n)
	}
	p.PendingNotifications = nil
	return drained
}

// Acknowledge removes the named notifications, keeping the rest. Legacy
// bare-string entries are dropped wholesale as a migration fallback.
func (q *Queue) Acknowledge(ctx context.Context, store storage.Store, playerUUID string, ids []string) error {
	acked := make(map[string]bool, len(ids))
	for _, id := range ids {
		acked[id] = true
	}
	return store.UpdatePlayer(ctx, playerUUID, func(p *models.Player) error {
		kept := p.PendingNotifications[:0]
		for _, n := range p.PendingNotifications {
			if n.Legacy || acked[n.ID] {
				continue
			}
			kept = append(kept, n)
		}
		if len(kept) == 0 {
			p.PendingNotifications = nil
		} else {
			p.PendingNotifications = append([]models.Notification(nil), kept...)
		}
		return nil
	})
}
