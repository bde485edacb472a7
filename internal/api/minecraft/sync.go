package minecraft

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/notify"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
)

type syncRequest struct {
	OnlinePlayers []struct {
		UUID string `json:"uuid"`
	} `json:"onlinePlayers"`
	LastSyncTimestamp *time.Time `json:"lastSyncTimestamp"`
}

// startedPunishment is one entry of recentlyStartedPunishments.
type startedPunishment struct {
	PlayerUUID string `json:"playerUuid"`
	wirePunishment
}

// modifiedPunishment is one entry of recentlyModifiedPunishments, flattened
// to one row per modification.
type modifiedPunishment struct {
	PlayerUUID   string              `json:"playerUuid"`
	PunishmentID string              `json:"punishmentId"`
	Modification models.Modification `json:"modification"`
}

func (h *Handlers) handleSync(c *gin.Context) {
	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	store := h.store(c)
	ctx := c.Request.Context()
	now := h.now()
	reg := h.registries.Get(ctx, store)

	lastSync := now.Add(-recentKickWindow)
	if req.LastSyncTimestamp != nil {
		lastSync = *req.LastSyncTimestamp
	}

	online := make(map[string]bool, len(req.OnlinePlayers))
	for _, p := range req.OnlinePlayers {
		online[p.UUID] = true
	}

	// Single tenant-wide pass: find stale online flags and collect the
	// recently-started and recently-modified feeds.
	var goneOffline []string
	var recentlyStarted []startedPunishment
	var recentlyModified []modifiedPunishment
	activeBans, activeMutes := 0, 0
	err := store.ForEachPlayer(ctx, func(p *models.Player) error {
		if p.Data.IsOnline && !online[p.MinecraftUUID] {
			goneOffline = append(goneOffline, p.MinecraftUUID)
		}
		for _, pun := range p.Punishments {
			if punishment.IsActive(pun, now) {
				switch reg.TypeKind(pun.TypeOrdinal) {
				case registry.KindBan:
					activeBans++
				case registry.KindMute:
					activeMutes++
				}
			}
			if pun.Started != nil && pun.Started.After(lastSync) {
				recentlyStarted = append(recentlyStarted, startedPunishment{
					PlayerUUID:     p.MinecraftUUID,
					wirePunishment: h.toWire(reg, pun, now),
				})
			}
			for _, mod := range pun.Modifications {
				if !mod.Issued.Before(lastSync) {
					recentlyModified = append(recentlyModified, modifiedPunishment{
						PlayerUUID:   p.MinecraftUUID,
						PunishmentID: pun.ID,
						Modification: mod,
					})
				}
			}
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	for _, uuid := range goneOffline {
		uuid := uuid
		err := store.UpdatePlayer(ctx, uuid, func(p *models.Player) error {
			markOffline(p, now)
			return nil
		})
		if err != nil {
			h.log.Warn().Err(err).Str("player", uuid).Msg("sync: offline mark failed")
		}
	}

	// Per online player: flip online, drain notifications, compute the
	// enforceable set. Kicks are only relayed when issued since the last sync.
	playerPunishments := map[string][]wirePunishment{}
	playerNotifications := map[string][]models.Notification{}
	for uuid := range online {
		var snapshot *models.Player
		var drained []models.Notification
		err := store.UpdatePlayer(ctx, uuid, func(p *models.Player) error {
			t := now
			p.Data.IsOnline = true
			p.Data.LastSeen = &t
			drained = notify.DrainInPlace(p)
			snapshot = p
			return nil
		})
		if err != nil {
			h.log.Warn().Err(err).Str("player", uuid).Msg("sync: online mark failed")
			continue
		}
		playerPunishments[uuid] = h.selectEnforceable(reg, snapshot, now, lastSync)
		if len(drained) > 0 {
			playerNotifications[uuid] = drained
		}
	}

	total, err := store.CountPlayers(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := store.SetLastSync(ctx, now); err != nil {
		h.log.Warn().Err(err).Msg("sync: lastSync persist failed")
	}
	h.metrics.Syncs.WithLabelValues(store.ServerName()).Inc()

	if recentlyStarted == nil {
		recentlyStarted = []startedPunishment{}
	}
	if recentlyModified == nil {
		recentlyModified = []modifiedPunishment{}
	}
	ok(c, gin.H{
		"players":                     playerPunishments,
		"recentlyStartedPunishments":  recentlyStarted,
		"recentlyModifiedPunishments": recentlyModified,
		"playerNotifications":         playerNotifications,
		"stats": gin.H{
			"totalPlayers":  total,
			"onlinePlayers": len(online),
			"activeBans":    activeBans,
			"activeMutes":   activeMutes,
		},
		"serverStatus": gin.H{"lastSync": now},
	})
}

// markOffline closes the player's session, folding the elapsed session time
// into totalPlaytime.
func markOffline(p *models.Player, now time.Time) {
	t := now
	if p.Data.IsOnline && p.Data.CurrentSessionStart != nil {
		p.Data.TotalPlaytime += now.Sub(*p.Data.CurrentSessionStart).Milliseconds()
	}
	p.Data.IsOnline = false
	p.Data.CurrentSessionStart = nil
	p.Data.LastSeen = &t
}
