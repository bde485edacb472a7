package models

import "time"

// Ticket types the core creates or touches.
const (
	TicketTypeAppeal  = "appeal"
	TicketTypeBug     = "bug"
	TicketTypePlayer  = "player"
	TicketTypeChat    = "chat"
	TicketTypeStaff   = "staff"
	TicketTypeSupport = "support"
)

// Ticket statuses the appeal workflow understands.
const (
	TicketStatusOpen                  = "Open"
	TicketStatusUnderReview           = "Under Review"
	TicketStatusPendingPlayerResponse = "Pending Player Response"
	TicketStatusApproved              = "Approved"
	TicketStatusDenied                = "Denied"
	TicketStatusAccepted              = "Accepted"
	TicketStatusRejected              = "Rejected"
	TicketStatusResolved              = "Resolved"
	TicketStatusClosed                = "Closed"
)

// Ticket data keys used by appeals.
const (
	TicketDataPunishmentID = "punishmentId"
	TicketDataPlayerUUID   = "playerUuid"
	TicketDataContactEmail = "contactEmail"
	TicketDataResolution   = "resolution"
)

// TicketReply is one message on a ticket thread.
type TicketReply struct {
	Name        string    `json:"name"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	Created     time.Time `json:"created"`
	Staff       bool      `json:"staff"`
	Action      string    `json:"action,omitempty"`
	Attachments []string  `json:"attachments,omitempty"`
}

// Ticket carries only the fields the moderation core touches; the panel owns
// the rest of the document.
type Ticket struct {
	ID          string            `json:"_id"`
	Type        string            `json:"type"`
	Subject     string            `json:"subject,omitempty"`
	Status      string            `json:"status"`
	Tags        []string          `json:"tags,omitempty"`
	Created     time.Time         `json:"created"`
	Creator     string            `json:"creator"`
	CreatorUUID string            `json:"creatorUuid,omitempty"`
	Replies     []TicketReply     `json:"replies"`
	Data        map[string]string `json:"data,omitempty"`
	Locked      bool              `json:"locked,omitempty"`
}

// DataValue returns a ticket data value, tolerating a nil map.
func (t *Ticket) DataValue(key string) string {
	if t.Data == nil {
		return ""
	}
	return t.Data[key]
}

// SetDataValue sets a ticket data value, allocating the map on first use.
func (t *Ticket) SetDataValue(key, value string) {
	if t.Data == nil {
		t.Data = map[string]string{}
	}
	t.Data[key] = value
}

// Terminal reports whether the ticket status is terminal for the appeal
// workflow.
func (t *Ticket) Terminal() bool {
	switch t.Status {
	case TicketStatusClosed, TicketStatusResolved:
		return true
	}
	return false
}
