package minecraft

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/modl-gg/panel-core/internal/models"
)

type ticketCreateRequest struct {
	Type         string   `json:"type"`
	CreatorUUID  string   `json:"creatorUuid"`
	Creator      string   `json:"creatorName"`
	Subject      string   `json:"subject"`
	Content      string   `json:"content"`
	Tags         []string `json:"tags"`
	ReportedUUID string   `json:"reportedUuid"` // player/chat reports
}

func (r ticketCreateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Type, validation.Required, validation.In(
			models.TicketTypeBug, models.TicketTypePlayer, models.TicketTypeChat,
			models.TicketTypeStaff, models.TicketTypeSupport)),
		validation.Field(&r.CreatorUUID, validation.Required),
		validation.Field(&r.Content, validation.Required),
	)
}

// handleTicketCreate opens a non-appeal ticket from in game. Appeal tickets
// go through the dedicated appeal flow.
func (h *Handlers) handleTicketCreate(c *gin.Context) {
	var req ticketCreateRequest
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
	now := h.now()

	creator := req.Creator
	if creator == "" {
		if p, err := store.GetPlayer(ctx, req.CreatorUUID); err == nil {
			creator = p.CurrentUsername()
		}
	}

	id, err := newTicketID(req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	ticket := &models.Ticket{
		ID:          id,
		Type:        req.Type,
		Subject:     req.Subject,
		Status:      models.TicketStatusOpen,
		Tags:        req.Tags,
		Created:     now,
		Creator:     creator,
		CreatorUUID: req.CreatorUUID,
		Replies: []models.TicketReply{{
			Name:    creator,
			Content: req.Content,
			Type:    "player",
			Created: now,
		}},
	}
	if req.ReportedUUID != "" {
		ticket.SetDataValue(models.TicketDataPlayerUUID, req.ReportedUUID)
	}
	if err := store.CreateTicket(ctx, ticket); err != nil {
		h.fail(c, err)
		return
	}
	created(c, gin.H{"ticketId": id})
}

// newTicketID generates a <TYPE>-<6 digits> ticket id.
func newTicketID(ticketType string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate ticket id: %w", err)
	}
	return fmt.Sprintf("%s-%06d", strings.ToUpper(ticketType), n.Int64()), nil
}
