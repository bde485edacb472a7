package panel

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/rollback"
	"github.com/modl-gg/panel-core/internal/storage"
)

// handleAuditQuery serves both /audit/entries and /logs: a filtered view of
// the tenant's audit log.
func (h *Handlers) handleAuditQuery(c *gin.Context) {
	filter := storage.AuditFilter{
		Source:        c.Query("source"),
		Action:        c.Query("action"),
		StaffUsername: c.Query("staff"),
		TargetUUID:    c.Query("target"),
		PunishmentID:  c.Query("punishmentId"),
		Limit:         100,
	}
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if raw := c.Query("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Since = t
		}
	}
	if raw := c.Query("until"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Until = t
		}
	}
	entries, err := h.store(c).QueryAuditEntries(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// staffPerformance aggregates a staff member's audit trail into activity
// counts.
type staffPerformance struct {
	Staff       string `json:"staff"`
	Punishments int    `json:"punishments"`
	Pardons     int    `json:"pardons"`
	Rollbacks   int    `json:"rollbacks"`
	Appeals     int    `json:"appealsResolved"`
	Total       int    `json:"total"`
}

func (h *Handlers) handleStaffPerformance(c *gin.Context) {
	filter := storage.AuditFilter{Source: models.AuditSourceStaff, Limit: 10000}
	if raw := c.Query("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.Since = t
		}
	}
	entries, err := h.store(c).QueryAuditEntries(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}

	byStaff := map[string]*staffPerformance{}
	for _, e := range entries {
		name := e.Actor
		if e.StaffUsername != "" {
			name = e.StaffUsername
		}
		perf, ok := byStaff[name]
		if !ok {
			perf = &staffPerformance{Staff: name}
			byStaff[name] = perf
		}
		switch e.Action {
		case models.AuditActionPunishmentCreated:
			perf.Punishments++
		case models.AuditActionPunishmentPardon:
			perf.Pardons++
		case models.AuditActionRollback, models.AuditActionBulkRollback:
			perf.Rollbacks++
		case models.AuditActionAppealResolved:
			perf.Appeals++
		}
		perf.Total++
	}
	out := make([]staffPerformance, 0, len(byStaff))
	for _, perf := range byStaff {
		out = append(out, *perf)
	}
	c.JSON(http.StatusOK, gin.H{"performance": out})
}

type rollbackRequest struct {
	Reason    string     `json:"reason"`
	TimeRange string     `json:"timeRange"`
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

func (h *Handlers) handleRollbackOne(c *gin.Context) {
	var req rollbackRequest
	_ = c.ShouldBindJSON(&req)
	store := h.store(c)
	err := h.rollbacks.RollbackOne(c.Request.Context(), store,
		c.Param("id"), h.session(c).Username, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Rollbacks.WithLabelValues(store.ServerName(), "single").Inc()
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) handleBulkRollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	now := h.now()
	start, err := rollback.Window(req.TimeRange, now)
	if err != nil {
		badRequest(c, validation.NewError("validation_time_range", err.Error()))
		return
	}
	store := h.store(c)
	summary, err := h.rollbacks.BulkByTimeRange(c.Request.Context(), store,
		start, now, h.session(c).Username, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Rollbacks.WithLabelValues(store.ServerName(), "bulk").Inc()
	c.JSON(http.StatusOK, summary)
}

func (h *Handlers) handleStaffRollback(c *gin.Context) {
	var req rollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.StartDate == nil || req.EndDate == nil {
		badRequest(c, validation.NewError("validation_required", "startDate and endDate are required"))
		return
	}
	store := h.store(c)
	summary, err := h.rollbacks.BulkByStaff(c.Request.Context(), store,
		c.Param("username"), *req.StartDate, *req.EndDate, h.session(c).Username, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.Rollbacks.WithLabelValues(store.ServerName(), "staff").Inc()
	c.JSON(http.StatusOK, summary)
}
