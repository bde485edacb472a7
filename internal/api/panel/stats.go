package panel

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/storage"
)

// handleStats serves the panel dashboard counters.
func (h *Handlers) handleStats(c *gin.Context) {
	store := h.store(c)
	ctx := c.Request.Context()
	reg := h.registries.Get(ctx, store)
	now := h.now()

	online, activeBans, activeMutes := 0, 0, 0
	err := store.ForEachPlayer(ctx, func(p *models.Player) error {
		if p.Data.IsOnline {
			online++
		}
		for _, pun := range p.Punishments {
			if !punishment.IsActive(pun, now) {
				continue
			}
			switch reg.TypeKind(pun.TypeOrdinal) {
			case registry.KindBan:
				activeBans++
			case registry.KindMute:
				activeMutes++
			}
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	total, err := store.CountPlayers(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalPlayers":  total,
		"onlinePlayers": online,
		"activeBans":    activeBans,
		"activeMutes":   activeMutes,
	})
}

// handleRecentActivity returns the newest audit entries for the dashboard
// feed.
func (h *Handlers) handleRecentActivity(c *gin.Context) {
	entries, err := h.store(c).QueryAuditEntries(c.Request.Context(), storage.AuditFilter{Limit: 20})
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries})
}
