// Package rollback reverses punishments operationally: one at a time, in
// bulk by time window, or in bulk by issuing staff member. Every variant is
// idempotent per punishment via the already-rolled-back guard, and bulk
// variants never abort mid-batch on a per-player failure.
package rollback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

// ErrAlreadyRolledBack guards repeat rollbacks of the same punishment.
var ErrAlreadyRolledBack = errors.New("punishment already rolled back")

// bulkWorkers bounds the concurrent per-player saves during bulk rollback.
const bulkWorkers = 4

// Engine performs rollbacks against a tenant store.
type Engine struct {
	audit *audit.Writer
	log   zerolog.Logger
	now   func() time.Time
}

// NewEngine wires a rollback engine.
func NewEngine(auditw *audit.Writer, log zerolog.Logger) *Engine {
	return &Engine{audit: auditw, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Window maps a bulk time-range token (1h, 6h, 24h, 7d, 30d, all) to its
// start instant.
func Window(token string, now time.Time) (time.Time, error) {
	switch strings.ToLower(token) {
	case "1h":
		return now.Add(-time.Hour), nil
	case "6h":
		return now.Add(-6 * time.Hour), nil
	case "24h":
		return now.Add(-24 * time.Hour), nil
	case "7d":
		return now.Add(-7 * 24 * time.Hour), nil
	case "30d":
		return now.Add(-30 * 24 * time.Hour), nil
	case "all":
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unknown time range %q", token)
	}
}

// RollbackOne rolls back a single punishment by id. A second call returns a
// conflict via the already-rolled-back guard.
func (e *Engine) RollbackOne(ctx context.Context, store storage.Store, punishmentID, staffName, reason string) error {
	holder, err := store.FindPlayerWithPunishment(ctx, punishmentID)
	if err != nil {
		return err
	}
	err = store.UpdatePlayer(ctx, holder.MinecraftUUID, func(player *models.Player) error {
		pun := player.FindPunishment(punishmentID)
		if pun == nil {
			return fmt.Errorf("punishment %s: %w", punishmentID, storage.ErrNotFound)
		}
		return e.apply(pun, staffName, reason)
	})
	if err != nil {
		return err
	}
	e.audit.Staff(ctx, store, models.AuditEntry{
		Actor:        staffName,
		Action:       models.AuditActionRollback,
		TargetUUID:   holder.MinecraftUUID,
		PunishmentID: punishmentID,
		Details:      map[string]any{"reason": reason},
	})
	return nil
}

// apply mutates one punishment into the rolled-back state.
func (e *Engine) apply(pun *models.Punishment, staffName, reason string) error {
	if pun.Data.RolledBack {
		return fmt.Errorf("%w: %w", storage.ErrConflict, ErrAlreadyRolledBack)
	}
	now := e.now()
	pun.Data.RolledBack = true
	pun.Data.RollbackDate = &now
	pun.Data.RollbackBy = staffName
	pun.Data.RollbackReason = reason
	zero := int64(0)
	pun.AddModification(models.Modification{
		Type:              models.ModManualPardon,
		IssuerName:        staffName,
		Issued:            now,
		EffectiveDuration: &zero,
		Reason:            reason,
	})
	f := false
	pun.Data.Active = &f
	return nil
}

// Summary reports the outcome of a bulk rollback.
type Summary struct {
	Count       int      `json:"count"`
	Punishments []string `json:"punishments"`
	Skipped     int      `json:"skippedPlayers"`
}

// BulkByTimeRange rolls back every non-rolled-back punishment issued inside
// [start, end] across all players. A zero start means no lower bound; a zero
// end means now.
func (e *Engine) BulkByTimeRange(ctx context.Context, store storage.Store, start, end time.Time, staffName, reason string) (Summary, error) {
	return e.bulk(ctx, store, staffName, reason, func(p *models.Punishment) bool {
		return inWindow(p.Issued, start, end)
	})
}

// BulkByStaff rolls back the named staff member's punishments inside the
// window.
func (e *Engine) BulkByStaff(ctx context.Context, store storage.Store, staffUsername string, start, end time.Time, actor, reason string) (Summary, error) {
	return e.bulk(ctx, store, actor, reason, func(p *models.Punishment) bool {
		return strings.EqualFold(p.IssuerName, staffUsername) && inWindow(p.Issued, start, end)
	})
}

func inWindow(issued, start, end time.Time) bool {
	if !start.IsZero() && issued.Before(start) {
		return false
	}
	if !end.IsZero() && issued.After(end) {
		return false
	}
	return true
}

// bulk runs the match-and-apply over every player. Per-player save failures
// are logged and skipped; the batch never aborts.
func (e *Engine) bulk(ctx context.Context, store storage.Store, staffName, reason string, match func(*models.Punishment) bool) (Summary, error) {
	var uuids []string
	err := store.ForEachPlayer(ctx, func(p *models.Player) error {
		for _, pun := range p.Punishments {
			if !pun.Data.RolledBack && match(pun) {
				uuids = append(uuids, p.MinecraftUUID)
				break
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}

	var mu sync.Mutex
	summary := Summary{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkWorkers)
	for _, uuid := range uuids {
		uuid := uuid
		g.Go(func() error {
			var rolled []string
			err := store.UpdatePlayer(gctx, uuid, func(player *models.Player) error {
				for _, pun := range player.Punishments {
					if pun.Data.RolledBack || !match(pun) {
						continue
					}
					if err := e.apply(pun, staffName, reason); err != nil {
						continue
					}
					rolled = append(rolled, pun.ID)
				}
				return nil
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.log.Error().Err(err).
					Str("server", store.ServerName()).
					Str("player", uuid).
					Msg("bulk rollback: player save failed, skipping")
				summary.Skipped++
				return nil
			}
			summary.Count += len(rolled)
			summary.Punishments = append(summary.Punishments, rolled...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	e.audit.Staff(ctx, store, models.AuditEntry{
		Actor:  staffName,
		Action: models.AuditActionBulkRollback,
		Details: map[string]any{
			"count":       summary.Count,
			"punishments": summary.Punishments,
			"reason":      reason,
		},
	})
	return summary, nil
}
