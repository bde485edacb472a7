package models

import "time"

// Staff roles, least to most privileged.
const (
	RoleHelper     = "Helper"
	RoleModerator  = "Moderator"
	RoleAdmin      = "Admin"
	RoleSuperAdmin = "Super Admin"
)

// TicketSubscription tracks a staff member's interest in a ticket.
type TicketSubscription struct {
	TicketID     string     `json:"ticketId"`
	SubscribedAt time.Time  `json:"subscribedAt"`
	Active       bool       `json:"active"`
	LastReadAt   *time.Time `json:"lastReadAt,omitempty"`
}

// Staff is a panel staff member. AssignedMinecraft* tie the panel identity to
// an in-game account so in-game punishments attribute to the right record.
type Staff struct {
	Username                  string               `json:"username"`
	Email                     string               `json:"email"`
	Role                      string               `json:"role"`
	AssignedMinecraftUUID     string               `json:"assignedMinecraftUuid,omitempty"`
	AssignedMinecraftUsername string               `json:"assignedMinecraftUsername,omitempty"`
	SubscribedTickets         []TicketSubscription `json:"subscribedTickets,omitempty"`
}

// BasePermissions returns the non-punishment permissions implied by a role.
func BasePermissions(role string) []string {
	base := []string{"ticket.view", "ticket.reply"}
	switch role {
	case RoleSuperAdmin:
		return append(base,
			"admin.settings.view", "admin.settings.modify", "admin.staff.manage",
			"admin.analytics.view", "punishment.modify", "punishment.rollback",
			"ticket.close.all", "ticket.delete.all")
	case RoleAdmin:
		return append(base,
			"admin.settings.view", "admin.analytics.view",
			"punishment.modify", "punishment.rollback", "ticket.close.all")
	case RoleModerator:
		return append(base, "punishment.modify", "ticket.close.all")
	default:
		return base
	}
}
