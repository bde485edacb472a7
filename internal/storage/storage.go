// Package storage defines the tenant-scoped document store the moderation
// core runs against. Every Store is bound to exactly one tenant; cross-tenant
// reads are impossible by construction.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/modl-gg/panel-core/internal/models"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnavailable  = errors.New("datastore unavailable")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuditFilter narrows an audit-log query. Zero values are ignored.
type AuditFilter struct {
	Source        string
	Action        string
	StaffUsername string
	TargetUUID    string
	PunishmentID  string
	Since         time.Time
	Until         time.Time
	Limit         int
}

// Store is a per-tenant datastore handle. Player writes go through
// UpdatePlayer, which serialises at the aggregate level: the mutate callback
// observes the latest committed document and its result is written back
// atomically. Returning an error from the callback aborts without a write.
type Store interface {
	ServerName() string

	// Players
	GetPlayer(ctx context.Context, uuid string) (*models.Player, error)
	FindPlayerByUsername(ctx context.Context, name string) (*models.Player, error)
	FindPlayersByIP(ctx context.Context, ip string) ([]*models.Player, error)
	FindPlayerWithPunishment(ctx context.Context, punishmentID string) (*models.Player, error)
	CreatePlayer(ctx context.Context, p *models.Player) error
	UpdatePlayer(ctx context.Context, uuid string, mutate func(*models.Player) error) error
	ForEachPlayer(ctx context.Context, fn func(*models.Player) error) error
	CountPlayers(ctx context.Context) (int, error)

	// Tickets
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	FindTicketByPunishment(ctx context.Context, punishmentID string) (*models.Ticket, error)
	CreateTicket(ctx context.Context, t *models.Ticket) error
	UpdateTicket(ctx context.Context, id string, mutate func(*models.Ticket) error) error

	// Staff
	ListStaff(ctx context.Context) ([]*models.Staff, error)
	FindStaffByMinecraftUsername(ctx context.Context, name string) (*models.Staff, error)

	// Settings (per-tenant singleton)
	GetSettings(ctx context.Context) (*models.Settings, error)

	// Server status
	SetLastSync(ctx context.Context, at time.Time) error

	// Audit log
	InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error
	QueryAuditEntries(ctx context.Context, f AuditFilter) ([]models.AuditEntry, error)
}

// Provider resolves tenants to stores. Implementations back onto the shared
// database (or the in-memory fixture in dev mode).
type Provider interface {
	// ResolveAPIKey maps a Minecraft-route API key to its tenant store.
	// Returns ErrUnauthorized for an unknown key, ErrUnavailable for wiring
	// failures.
	ResolveAPIKey(ctx context.Context, apiKey string) (Store, error)

	// ResolveHost maps a panel host header to its tenant store.
	ResolveHost(ctx context.Context, host string) (Store, error)
}
