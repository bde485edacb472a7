package minecraft

import (
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
)

type createPunishmentRequest struct {
	MinecraftUUID string            `json:"minecraftUuid"`
	IssuerName    string            `json:"issuerName"`
	Ordinal       int               `json:"ordinal"`
	Reason        string            `json:"reason"`
	DurationMs    *int64            `json:"duration"`
	Severity      string            `json:"severity"`
	Status        string            `json:"status"`
	AltBlocking   bool              `json:"altBlocking"`
	StatWiping    bool              `json:"statWiping"`
	Evidence      []models.Evidence `json:"evidence"`
}

func (r createPunishmentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MinecraftUUID, validation.Required),
		validation.Field(&r.IssuerName, validation.Required),
		validation.Field(&r.Ordinal, validation.Min(0)),
	)
}

func (h *Handlers) handlePunishmentCreate(c *gin.Context) {
	var req createPunishmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	store := h.store(c)
	pun, err := h.engine.CreateManual(c.Request.Context(), store, punishment.CreateParams{
		TargetUUID:  req.MinecraftUUID,
		IssuerName:  req.IssuerName,
		Ordinal:     req.Ordinal,
		Reason:      req.Reason,
		Duration:    req.DurationMs,
		AltBlocking: req.AltBlocking,
		StatWiping:  req.StatWiping,
		Evidence:    req.Evidence,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.PunishmentsCreated.WithLabelValues(store.ServerName(), "manual").Inc()
	created(c, gin.H{"punishmentId": pun.ID})
}

func (h *Handlers) handlePunishmentDynamic(c *gin.Context) {
	var req createPunishmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	store := h.store(c)
	pun, err := h.engine.CreateDynamic(c.Request.Context(), store, punishment.CreateParams{
		TargetUUID:  req.MinecraftUUID,
		IssuerName:  req.IssuerName,
		Ordinal:     req.Ordinal,
		Reason:      req.Reason,
		Severity:    req.Severity,
		Status:      req.Status,
		AltBlocking: req.AltBlocking,
		StatWiping:  req.StatWiping,
		Evidence:    req.Evidence,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.PunishmentsCreated.WithLabelValues(store.ServerName(), "dynamic").Inc()
	created(c, gin.H{
		"punishmentId": pun.ID,
		"severity":     pun.Data.Severity,
		"status":       pun.Data.Status,
		"duration":     pun.Data.Duration,
	})
}

type acknowledgeRequest struct {
	PunishmentID string     `json:"punishmentId"`
	PlayerUUID   string     `json:"playerUuid"`
	ExecutedAt   *time.Time `json:"executedAt"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"errorMessage"`
}

func (r acknowledgeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PunishmentID, validation.Required),
		validation.Field(&r.PlayerUUID, validation.Required),
	)
}

func (h *Handlers) handleAcknowledge(c *gin.Context) {
	var req acknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	store := h.store(c)
	ctx := c.Request.Context()
	params := punishment.AckParams{
		PunishmentID: req.PunishmentID,
		PlayerUUID:   req.PlayerUUID,
		Success:      req.Success,
		ErrorMessage: req.ErrorMessage,
	}
	if req.ExecutedAt != nil {
		params.ExecutedAt = *req.ExecutedAt
	}
	reg := h.registries.Get(ctx, store)
	if err := h.engine.Acknowledge(ctx, store, reg, params); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

type notificationAckRequest struct {
	MinecraftUUID   string   `json:"minecraftUuid"`
	NotificationIDs []string `json:"notificationIds"`
}

func (r notificationAckRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MinecraftUUID, validation.Required),
	)
}

func (h *Handlers) handleNotificationAck(c *gin.Context) {
	var req notificationAckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	err := h.queue.Acknowledge(c.Request.Context(), h.store(c), req.MinecraftUUID, req.NotificationIDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, nil)
}

type pardonRequest struct {
	IssuerName   string `json:"issuerName"`
	Reason       string `json:"reason"`
	ExpectedType string `json:"expectedType"` // ban or mute; optional
	PlayerName   string `json:"playerName"`   // name-based pardons only
	Type         string `json:"type"`         // name-based pardons only
}

func (h *Handlers) handlePardonByID(c *gin.Context) {
	var req pardonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.IssuerName, validation.Required),
	); err != nil {
		h.fail(c, err)
		return
	}
	store := h.store(c)
	pun, err := h.engine.PardonByID(c.Request.Context(), store,
		c.Param("id"), req.IssuerName, req.Reason, req.ExpectedType)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Pardons.WithLabelValues(store.ServerName()).Inc()
	ok(c, gin.H{"punishmentId": pun.ID})
}

func (h *Handlers) handlePardonByName(c *gin.Context) {
	var req pardonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.IssuerName, validation.Required),
		validation.Field(&req.PlayerName, validation.Required),
		validation.Field(&req.Type, validation.Required, validation.In("ban", "mute")),
	); err != nil {
		h.fail(c, err)
		return
	}
	store := h.store(c)
	pun, err := h.engine.PardonByKind(c.Request.Context(), store,
		req.PlayerName, req.Type, req.IssuerName, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Pardons.WithLabelValues(store.ServerName()).Inc()
	ok(c, gin.H{"punishmentId": pun.ID})
}
