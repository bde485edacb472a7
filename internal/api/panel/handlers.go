// Package panel exposes the session-authenticated API the web panel consumes:
// player management, appeals, audit queries, rollbacks and tenant statistics.
package panel

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/appeals"
	"github.com/modl-gg/panel-core/internal/metrics"
	"github.com/modl-gg/panel-core/internal/notify"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/rollback"
	"github.com/modl-gg/panel-core/internal/storage"
	"github.com/modl-gg/panel-core/internal/tenant"
)

// Handlers carries the dependencies of the panel API surface.
type Handlers struct {
	registries *registry.Cache
	engine     *punishment.Engine
	appeals    *appeals.Workflow
	rollbacks  *rollback.Engine
	queue      *notify.Queue
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// Deps is the constructor input for Handlers.
type Deps struct {
	Registries *registry.Cache
	Engine     *punishment.Engine
	Appeals    *appeals.Workflow
	Rollbacks  *rollback.Engine
	Queue      *notify.Queue
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
}

// New builds the handler set.
func New(d Deps) *Handlers {
	return &Handlers{
		registries: d.Registries,
		engine:     d.Engine,
		appeals:    d.Appeals,
		rollbacks:  d.Rollbacks,
		queue:      d.Queue,
		metrics:    d.Metrics,
		log:        d.Log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the handler clock. Tests only.
func (h *Handlers) SetClock(now func() time.Time) { h.now = now }

// Register mounts the panel routes on the (already session-authenticated)
// router group. Write operations are additionally gated by role permissions.
func (h *Handlers) Register(rg *gin.RouterGroup) {
	modify := tenant.RequirePermission("punishment.modify")
	roll := tenant.RequirePermission("punishment.rollback")
	analytics := tenant.RequirePermission("admin.analytics.view")

	players := rg.Group("/players")
	{
		players.GET("", h.handlePlayerList)
		players.GET("/:uuid", h.handlePlayerGet)
		players.POST("/:uuid/punishments", modify, h.handlePunishmentCreate)
		players.POST("/:uuid/notes", h.handleNoteCreate)
		players.POST("/:uuid/punishments/:id/notes", h.handlePunishmentNote)
		players.POST("/:uuid/punishments/:id/modifications", modify, h.handleModification)
		players.POST("/:uuid/punishments/:id/evidence", h.handleEvidence)
		players.POST("/:uuid/punishments/:id/pardon", modify, h.handlePardon)
		players.POST("/:uuid/notifications", h.handleNotify)
	}

	appealsGroup := rg.Group("/appeals")
	{
		appealsGroup.POST("", h.handleAppealCreate)
		appealsGroup.GET("/:id", h.handleAppealGet)
		appealsGroup.PATCH("/:id/status", modify, h.handleAppealStatus)
	}

	auditGroup := rg.Group("/audit")
	{
		auditGroup.GET("/entries", h.handleAuditQuery)
		auditGroup.GET("/staff-performance", analytics, h.handleStaffPerformance)
		auditGroup.POST("/punishment/:id/rollback", roll, h.handleRollbackOne)
		auditGroup.POST("/punishments/bulk-rollback", roll, h.handleBulkRollback)
		auditGroup.POST("/staff/:username/rollback-date-range", roll, h.handleStaffRollback)
	}

	rg.GET("/logs", h.handleAuditQuery)
	rg.GET("/stats", h.handleStats)
	rg.GET("/activity/recent", h.handleRecentActivity)
}

func (h *Handlers) store(c *gin.Context) storage.Store {
	return tenant.StoreFrom(c)
}

// session returns the authenticated staff identity; Register guarantees it
// exists.
func (h *Handlers) session(c *gin.Context) tenant.Session {
	s, _ := tenant.SessionFrom(c)
	return s
}

// fail maps an error onto the panel error envelope.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, punishment.ErrUnknownOrdinal),
		errors.Is(err, punishment.ErrNoDuration),
		errors.Is(err, punishment.ErrKindMismatch),
		errors.Is(err, appeals.ErrBadStatus),
		isValidationError(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("route", c.FullPath()).Msg("panel request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
}

func isValidationError(err error) bool {
	var ve validation.Errors
	var eo validation.Error
	var ie validation.InternalError
	return errors.As(err, &ve) || errors.As(err, &eo) || errors.As(err, &ie)
}
