package models

import "time"

// Audit entry sources.
const (
	AuditSourceStaff  = "staff"
	AuditSourceSystem = "system"
)

// Audit actions written by the core.
const (
	AuditActionPunishmentCreated = "punishment.created"
	AuditActionPunishmentPardon  = "punishment.pardoned"
	AuditActionPunishmentAck     = "punishment.acknowledged"
	AuditActionRollback          = "punishment.rolled_back"
	AuditActionBulkRollback      = "punishment.bulk_rollback"
	AuditActionAutoUnban         = "punishment.auto_unban"
	AuditActionAccountsLinked    = "accounts.linked"
	AuditActionLinkedBanIssued   = "linked_ban.issued"
	AuditActionAppealCreated     = "appeal.created"
	AuditActionAppealResolved    = "appeal.resolved"
)

// AuditEntry is one audit-log document. Entries are plain documents; the
// store never mutates them after insert.
type AuditEntry struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"`
	Actor         string         `json:"actor"`
	StaffUsername string         `json:"staffUsername,omitempty"`
	Action        string         `json:"action"`
	TargetUUID    string         `json:"targetUuid,omitempty"`
	PunishmentID  string         `json:"punishmentId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Created       time.Time      `json:"created"`
}
