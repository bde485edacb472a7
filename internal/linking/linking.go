// Package linking detects shared identities across accounts via IP
// fingerprints and propagates alt-blocking bans onto newly linked accounts.
// It always runs in the background: failures are logged, never surfaced to
// the login that triggered the scan.
package linking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/storage"
)

// ProxyLinkWindow is the maximum gap between the two sides' most recent
// logins on a proxy IP for the link to be trusted.
const ProxyLinkWindow = 6 * time.Hour

// Linker finds and records linked accounts.
type Linker struct {
	audit *audit.Writer
	log   zerolog.Logger
	now   func() time.Time
}

// NewLinker wires a linker.
func NewLinker(auditw *audit.Writer, log zerolog.Logger) *Linker {
	return &Linker{audit: auditw, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the linker clock. Tests only.
func (l *Linker) SetClock(now func() time.Time) { l.now = now }

// LinkOnLogin scans for accounts sharing any of the player's IPs and records
// bidirectional links. Returns the UUIDs newly linked to the player.
func (l *Linker) LinkOnLogin(ctx context.Context, store storage.Store, playerUUID string) ([]string, error) {
	player, err := store.GetPlayer(ctx, playerUUID)
	if err != nil {
		return nil, err
	}

	candidates := map[string]*models.Player{}
	for _, ip := range player.IPAddresses {
		others, err := store.FindPlayersByIP(ctx, ip.IPAddress)
		if err != nil {
			return nil, err
		}
		for _, other := range others {
			if other.MinecraftUUID == playerUUID {
				continue
			}
			candidates[other.MinecraftUUID] = other
		}
	}

	var linked []string
	for uuid, candidate := range candidates {
		if !l.shouldLink(player, candidate) {
			continue
		}
		created, err := l.recordLink(ctx, store, player.MinecraftUUID, uuid)
		if err != nil {
			l.log.Error().Err(err).
				Str("server", store.ServerName()).
				Str("player", playerUUID).
				Str("candidate", uuid).
				Msg("failed to record account link")
			continue
		}
		if created {
			linked = append(linked, uuid)
			l.audit.System(ctx, store, models.AuditEntry{
				Action:     models.AuditActionAccountsLinked,
				TargetUUID: playerUUID,
				Details:    map[string]any{"linkedTo": uuid},
			})
		}
	}
	return linked, nil
}

// shouldLink applies the per-IP gates: a clean residential IP on both sides
// always links; an IP flagged proxy or hosting on either side links only
// when both sides used it within ProxyLinkWindow of each other.
func (l *Linker) shouldLink(a, b *models.Player) bool {
	for _, ipA := range a.IPAddresses {
		ipB := b.FindIP(ipA.IPAddress)
		if ipB == nil {
			continue
		}
		suspect := ipA.Proxy || ipA.Hosting || ipB.Proxy || ipB.Hosting
		if !suspect {
			return true
		}
		gap := ipA.LastLogin().Sub(ipB.LastLogin())
		if gap < 0 {
			gap = -gap
		}
		if gap <= ProxyLinkWindow {
			return true
		}
	}
	return false
}

// recordLink inserts each UUID into the other's linkedAccounts. The relation
// stays symmetric; repeat links are no-ops.
func (l *Linker) recordLink(ctx context.Context, store storage.Store, uuidA, uuidB string) (bool, error) {
	now := l.now()
	created := false
	update := func(owner, other string) error {
		return store.UpdatePlayer(ctx, owner, func(p *models.Player) error {
			if p.Data.AddLinkedAccount(other) {
				created = true
				p.Data.LastLinkedAccountUpdate = &now
			}
			return nil
		})
	}
	if err := update(uuidA, uuidB); err != nil {
		return false, err
	}
	if err := update(uuidB, uuidA); err != nil {
		return created, fmt.Errorf("link is half-recorded (%s -> %s): %w", uuidB, uuidA, err)
	}
	return created, nil
}

// Propagator issues linked bans onto newly linked accounts.
type Propagator struct {
	audit *audit.Writer
	log   zerolog.Logger
	now   func() time.Time
}

// NewPropagator wires a linked-ban propagator.
func NewPropagator(auditw *audit.Writer, log zerolog.Logger) *Propagator {
	return &Propagator{audit: auditw, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock overrides the propagator clock. Tests only.
func (pr *Propagator) SetClock(now func() time.Time) { pr.now = now }

// PropagateAll handles a fresh link between player and each entry of linked:
// active alt-blocking bans on either side spawn linked bans on the other.
// Returns the number of linked bans actually issued.
func (pr *Propagator) PropagateAll(ctx context.Context, store storage.Store, playerUUID string, linked []string) int {
	issued := 0
	for _, other := range linked {
		n, err := pr.propagatePair(ctx, store, other, playerUUID)
		issued += n
		if err != nil {
			pr.log.Error().Err(err).Str("server", store.ServerName()).
				Str("source", other).Str("target", playerUUID).
				Msg("linked-ban propagation failed")
		}
		n, err = pr.propagatePair(ctx, store, playerUUID, other)
		issued += n
		if err != nil {
			pr.log.Error().Err(err).Str("server", store.ServerName()).
				Str("source", playerUUID).Str("target", other).
				Msg("linked-ban propagation failed")
		}
	}
	return issued
}

// propagatePair copies the source player's active alt-blocking bans onto the
// target as linked bans, at most one per (target, source-ban) pair. Returns
// how many it issued.
func (pr *Propagator) propagatePair(ctx context.Context, store storage.Store, sourceUUID, targetUUID string) (int, error) {
	source, err := store.GetPlayer(ctx, sourceUUID)
	if err != nil {
		return 0, err
	}
	now := pr.now()
	issued := 0

	for _, ban := range source.Punishments {
		eff := punishment.EffectiveState(ban, now)
		if !eff.AltBlocking || !punishment.IsActive(ban, now) {
			continue
		}
		// Remaining window of the source ban, or permanent.
		duration := models.PermanentDuration
		if eff.Expiry != nil {
			duration = eff.Expiry.Sub(now).Milliseconds()
			if duration <= 0 {
				continue
			}
		}

		id, err := punishment.NewID()
		if err != nil {
			return issued, err
		}
		sourceID := ban.ID
		created := false
		err = store.UpdatePlayer(ctx, targetUUID, func(target *models.Player) error {
			for _, existing := range target.Punishments {
				if existing.Data.LinkedBanID == sourceID {
					return nil // already propagated
				}
			}
			d := duration
			linkedBan := &models.Punishment{
				ID:          id,
				IssuerName:  models.LinkedBanIssuer,
				Issued:      now,
				TypeOrdinal: models.OrdinalLinkedBan,
				Data: models.PunishmentData{
					Duration:    &d,
					LinkedBanID: sourceID,
				},
			}
			linkedBan.AddNote(fmt.Sprintf("Linked ban from %s (punishment %s)", sourceUUID, sourceID),
				models.LinkedBanIssuer, now)
			target.Punishments = append(target.Punishments, linkedBan)
			created = true
			return nil
		})
		if err != nil {
			return issued, err
		}
		if created {
			issued++
			pr.audit.System(ctx, store, models.AuditEntry{
				Action:       models.AuditActionLinkedBanIssued,
				TargetUUID:   targetUUID,
				PunishmentID: id,
				Details:      map[string]any{"sourceUuid": sourceUUID, "linkedBanId": sourceID},
			})
		}
	}
	return issued, nil
}
