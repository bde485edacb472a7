// Package minecraft exposes the key-authenticated wire contract consumed by
// game servers: login/sync/acknowledge plus the in-game moderation commands.
package minecraft

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/ipinfo"
	"github.com/modl-gg/panel-core/internal/jobs"
	"github.com/modl-gg/panel-core/internal/linking"
	"github.com/modl-gg/panel-core/internal/metrics"
	"github.com/modl-gg/panel-core/internal/notify"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/storage"
	"github.com/modl-gg/panel-core/internal/tenant"
)

// Handlers carries the dependencies of the Minecraft API surface.
type Handlers struct {
	registries *registry.Cache
	engine     *punishment.Engine
	queue      *notify.Queue
	linker     *linking.Linker
	propagator *linking.Propagator
	runner     *jobs.Runner
	ips        ipinfo.Resolver
	metrics    *metrics.Metrics
	log        zerolog.Logger
	now        func() time.Time
}

// Deps is the constructor input for Handlers.
type Deps struct {
	Registries *registry.Cache
	Engine     *punishment.Engine
	Queue      *notify.Queue
	Linker     *linking.Linker
	Propagator *linking.Propagator
	Runner     *jobs.Runner
	IPs        ipinfo.Resolver
	Metrics    *metrics.Metrics
	Log        zerolog.Logger
}

// New builds the handler set.
func New(d Deps) *Handlers {
	return &Handlers{
		registries: d.Registries,
		engine:     d.Engine,
		queue:      d.Queue,
		linker:     d.Linker,
		propagator: d.Propagator,
		runner:     d.Runner,
		ips:        d.IPs,
		metrics:    d.Metrics,
		log:        d.Log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the handler clock. Tests only.
func (h *Handlers) SetClock(now func() time.Time) { h.now = now }

// Register mounts the Minecraft routes on the (already key-authenticated)
// router group.
func (h *Handlers) Register(rg *gin.RouterGroup) {
	rg.POST("/player/login", h.handleLogin)
	rg.POST("/player/disconnect", h.handleDisconnect)
	rg.POST("/sync", h.handleSync)
	rg.POST("/punishment/acknowledge", h.handleAcknowledge)
	rg.POST("/notification/acknowledge", h.handleNotificationAck)
	rg.POST("/ticket/create", h.handleTicketCreate)
	rg.POST("/punishment/create", h.handlePunishmentCreate)
	rg.POST("/punishment/dynamic", h.handlePunishmentDynamic)
	rg.POST("/player/note/create", h.handleNoteCreate)
	rg.GET("/player", h.handlePlayerGet)
	rg.GET("/player-name", h.handlePlayerByName)
	rg.GET("/player/:uuid/linked-accounts", h.handleLinkedAccounts)
	rg.GET("/punishment-types", h.handlePunishmentTypes)
	rg.GET("/staff-permissions", h.handleStaffPermissions)
	rg.POST("/punishment/:id/pardon", h.handlePardonByID)
	rg.POST("/player/pardon", h.handlePardonByName)
}

// store pulls the tenant store the auth middleware bound to the request.
func (h *Handlers) store(c *gin.Context) storage.Store {
	return tenant.StoreFrom(c)
}

// ok writes the Minecraft success envelope.
func ok(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["status"] = http.StatusOK
	c.JSON(http.StatusOK, body)
}

func created(c *gin.Context, body gin.H) {
	if body == nil {
		body = gin.H{}
	}
	body["status"] = http.StatusCreated
	c.JSON(http.StatusCreated, body)
}

// fail maps an error onto the Minecraft error envelope.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, storage.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, punishment.ErrUnknownOrdinal),
		errors.Is(err, punishment.ErrNoDuration),
		errors.Is(err, punishment.ErrKindMismatch),
		isValidationError(err):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("route", c.FullPath()).
			Msg("request failed")
	}
	c.JSON(status, gin.H{"status": status, "message": err.Error()})
}

// badRequest reports a body-shape failure before any validation ran.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  http.StatusBadRequest,
		"message": "invalid request body: " + err.Error(),
	})
}

func isValidationError(err error) bool {
	var ve validation.Errors
	var eo validation.Error
	var ie validation.InternalError
	return errors.As(err, &ve) || errors.As(err, &eo) || errors.As(err, &ie)
}
