package panel

import (
	"net/http"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/modl-gg/panel-core/internal/appeals"
)

type appealCreateRequest struct {
	PunishmentID   string            `json:"punishmentId"`
	Email          string            `json:"email"`
	Reason         string            `json:"reason"`
	AdditionalData map[string]string `json:"additionalData"`
	FieldLabels    map[string]string `json:"fieldLabels"`
}

func (r appealCreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PunishmentID, validation.Required),
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Reason, validation.Required),
	)
}

func (h *Handlers) handleAppealCreate(c *gin.Context) {
	var req appealCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}

	// Field labels rename raw form keys into human-readable headings on the
	// initial reply.
	fields := map[string]string{}
	for key, value := range req.AdditionalData {
		label := key
		if l, ok := req.FieldLabels[key]; ok && l != "" {
			label = l
		}
		fields[label] = value
	}

	store := h.store(c)
	ticket, err := h.appeals.Create(c.Request.Context(), store, appeals.CreateParams{
		PunishmentID: req.PunishmentID,
		Email:        req.Email,
		Content:      req.Reason,
		Fields:       fields,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.metrics.AppealsCreated.WithLabelValues(store.ServerName()).Inc()
	c.JSON(http.StatusCreated, gin.H{"ticket": ticket})
}

func (h *Handlers) handleAppealGet(c *gin.Context) {
	ticket, err := h.store(c).GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}

type appealStatusRequest struct {
	Status     string `json:"status"`
	Resolution string `json:"resolution"`
	Reply      string `json:"reply"`
}

func (h *Handlers) handleAppealStatus(c *gin.Context) {
	var req appealStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ticket, err := h.appeals.Update(c.Request.Context(), h.store(c), appeals.UpdateParams{
		TicketID:   c.Param("id"),
		Status:     req.Status,
		Resolution: req.Resolution,
		Reply:      req.Reply,
		StaffName:  h.session(c).Username,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": ticket})
}
