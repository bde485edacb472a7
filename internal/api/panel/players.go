package panel

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/status"
	"github.com/modl-gg/panel-core/internal/storage"
)

// handlePlayerList supports the panel's player search: by username fragment
// or by exact IP, with a result cap.
func (h *Handlers) handlePlayerList(c *gin.Context) {
	store := h.store(c)
	ctx := c.Request.Context()

	if ip := c.Query("ip"); ip != "" {
		players, err := store.FindPlayersByIP(ctx, ip)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"players": h.summaries(c, players)})
		return
	}

	query := strings.ToLower(c.Query("search"))
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var matched []*models.Player
	err := store.ForEachPlayer(ctx, func(p *models.Player) error {
		if len(matched) >= limit {
			return nil
		}
		if query == "" || strings.Contains(strings.ToLower(p.CurrentUsername()), query) {
			matched = append(matched, p)
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": h.summaries(c, matched)})
}

// playerSummary is the list-view row.
type playerSummary struct {
	MinecraftUUID string              `json:"minecraftUuid"`
	Username      string              `json:"username"`
	IsOnline      bool                `json:"isOnline"`
	Status        status.PlayerStatus `json:"status"`
	ActiveCount   int                 `json:"activePunishments"`
}

func (h *Handlers) summaries(c *gin.Context, players []*models.Player) []playerSummary {
	reg := h.registries.Get(c.Request.Context(), h.store(c))
	now := h.now()
	out := make([]playerSummary, 0, len(players))
	for _, p := range players {
		active := 0
		for _, pun := range p.Punishments {
			if punishment.IsActive(pun, now) {
				active++
			}
		}
		out = append(out, playerSummary{
			MinecraftUUID: p.MinecraftUUID,
			Username:      p.CurrentUsername(),
			IsOnline:      p.Data.IsOnline,
			Status:        status.Calculate(p, reg, now),
			ActiveCount:   active,
		})
	}
	return out
}

func (h *Handlers) handlePlayerGet(c *gin.Context) {
	store := h.store(c)
	ctx := c.Request.Context()
	player, err := store.GetPlayer(ctx, c.Param("uuid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	reg := h.registries.Get(ctx, store)
	c.JSON(http.StatusOK, gin.H{
		"player": player,
		"status": status.Calculate(player, reg, h.now()),
	})
}

type panelPunishmentRequest struct {
	Ordinal     int               `json:"ordinal"`
	Reason      string            `json:"reason"`
	DurationMs  *int64            `json:"duration"`
	Severity    string            `json:"severity"`
	AltBlocking bool              `json:"altBlocking"`
	StatWiping  bool              `json:"statWiping"`
	Evidence    []models.Evidence `json:"evidence"`
}

// handlePunishmentCreate issues a punishment from the panel. The issuer is
// the session identity; manual and dynamic ordinals route to the matching
// engine path.
func (h *Handlers) handlePunishmentCreate(c *gin.Context) {
	var req panelPunishmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	store := h.store(c)
	params := punishment.CreateParams{
		TargetUUID:  c.Param("uuid"),
		IssuerName:  h.session(c).Username,
		Ordinal:     req.Ordinal,
		Reason:      req.Reason,
		Duration:    req.DurationMs,
		Severity:    req.Severity,
		AltBlocking: req.AltBlocking,
		StatWiping:  req.StatWiping,
		Evidence:    req.Evidence,
		Staff:       true,
	}
	var pun *models.Punishment
	var err error
	mode := "manual"
	if req.Ordinal >= models.OrdinalFirstDynamic {
		mode = "dynamic"
		pun, err = h.engine.CreateDynamic(c.Request.Context(), store, params)
	} else {
		pun, err = h.engine.CreateManual(c.Request.Context(), store, params)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.PunishmentsCreated.WithLabelValues(store.ServerName(), mode).Inc()
	c.JSON(http.StatusCreated, gin.H{"punishment": pun})
}

type noteRequest struct {
	Text string `json:"text"`
}

func (h *Handlers) handleNoteCreate(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Text == "" {
		badRequest(c, validation.NewError("validation_required", "text is required"))
		return
	}
	now := h.now()
	issuer := h.session(c).Username
	err := h.store(c).UpdatePlayer(c.Request.Context(), c.Param("uuid"), func(p *models.Player) error {
		p.Notes = append(p.Notes, models.Note{Text: req.Text, IssuerName: issuer, Date: now})
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

func (h *Handlers) handlePunishmentNote(c *gin.Context) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Text == "" {
		badRequest(c, validation.NewError("validation_required", "text is required"))
		return
	}
	h.mutatePunishment(c, func(pun *models.Punishment) error {
		pun.AddNote(req.Text, h.session(c).Username, h.now())
		return nil
	})
}

type modificationRequest struct {
	Type              string `json:"type"`
	EffectiveDuration *int64 `json:"effectiveDuration"`
	Reason            string `json:"reason"`
}

var allowedModifications = map[models.ModificationType]bool{
	models.ModManualDurationChange: true,
	models.ModSetAltBlockingTrue:   true,
	models.ModSetAltBlockingFalse:  true,
	models.ModSetWipingTrue:        true,
	models.ModSetWipingFalse:       true,
}

// handleModification appends a staff modification to a punishment. Pardons
// have their own endpoint; appeal modifications only come from the appeal
// workflow.
func (h *Handlers) handleModification(c *gin.Context) {
	var req modificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	modType := models.ModificationType(req.Type)
	if !allowedModifications[modType] {
		badRequest(c, validation.NewError("validation_modification", "unsupported modification type"))
		return
	}
	if modType.DurationChange() && req.EffectiveDuration == nil {
		badRequest(c, validation.NewError("validation_modification", "effectiveDuration is required"))
		return
	}
	sess := h.session(c)
	h.mutatePunishment(c, func(pun *models.Punishment) error {
		pun.AddModification(models.Modification{
			Type:              modType,
			IssuerName:        sess.Username,
			Issued:            h.now(),
			EffectiveDuration: req.EffectiveDuration,
			Reason:            req.Reason,
		})
		return nil
	})
}

func (h *Handlers) handleEvidence(c *gin.Context) {
	var ev models.Evidence
	if err := c.ShouldBindJSON(&ev); err != nil {
		badRequest(c, err)
		return
	}
	if ev.Text == "" && ev.FileURL == "" {
		badRequest(c, validation.NewError("validation_required", "text or fileUrl is required"))
		return
	}
	h.mutatePunishment(c, func(pun *models.Punishment) error {
		pun.Evidence = append(pun.Evidence, ev)
		return nil
	})
}

type pardonBody struct {
	Reason string `json:"reason"`
}

func (h *Handlers) handlePardon(c *gin.Context) {
	var req pardonBody
	_ = c.ShouldBindJSON(&req)
	pun, err := h.engine.PardonByID(c.Request.Context(), h.store(c),
		c.Param("id"), h.session(c).Username, req.Reason, "")
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Pardons.WithLabelValues(h.store(c).ServerName()).Inc()
	c.JSON(http.StatusOK, gin.H{"punishment": pun})
}

type notifyRequest struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (h *Handlers) handleNotify(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Message == "" {
		badRequest(c, validation.NewError("validation_required", "message is required"))
		return
	}
	err := h.queue.Enqueue(c.Request.Context(), h.store(c), c.Param("uuid"), req.Message, req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

// mutatePunishment runs a mutation against the punishment named by the route
// and writes the standard response.
func (h *Handlers) mutatePunishment(c *gin.Context, mutate func(*models.Punishment) error) {
	punishmentID := c.Param("id")
	var result *models.Punishment
	err := h.store(c).UpdatePlayer(c.Request.Context(), c.Param("uuid"), func(p *models.Player) error {
		pun := p.FindPunishment(punishmentID)
		if pun == nil {
			return fmt.Errorf("punishment %s: %w", punishmentID, storage.ErrNotFound)
		}
		if err := mutate(pun); err != nil {
			return err
		}
		result = pun
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"punishment": result})
}
