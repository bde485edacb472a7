// Package audit writes structured audit documents for punishment and
// account-linking activity. Audit failures are logged and swallowed: an
// audit write must never fail the operation it describes.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

// Writer appends audit entries to a tenant's audit log.
type Writer struct {
	log zerolog.Logger
}

// NewWriter creates an audit writer.
func NewWriter(log zerolog.Logger) *Writer {
	return &Writer{log: log}
}

// Staff writes a staff-sourced entry. When the actor's Minecraft username
// maps to a staff record, the entry is associated with it.
func (w *Writer) Staff(ctx context.Context, store storage.Store, e models.AuditEntry) {
	e.Source = models.AuditSourceStaff
	if e.StaffUsername == "" && e.Actor != "" {
		if st, err := store.FindStaffByMinecraftUsername(ctx, e.Actor); err == nil {
			e.StaffUsername = st.Username
		}
	}
	w.insert(ctx, store, e)
}

// System writes a system-sourced entry (linking, propagation, auto-unban).
func (w *Writer) System(ctx context.Context, store storage.Store, e models.AuditEntry) {
	e.Source = models.AuditSourceSystem
	if e.Actor == "" {
		e.Actor = "System"
	}
	w.insert(ctx, store, e)
}

func (w *Writer) insert(ctx context.Context, store storage.Store, e models.AuditEntry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}
	if err := store.InsertAuditEntry(ctx, &e); err != nil {
		w.log.Error().Err(err).
			Str("server", store.ServerName()).
			Str("action", e.Action).
			Str("punishment", e.PunishmentID).
			Msg("audit write failed")
		return
	}
	w.log.Info().
		Str("server", store.ServerName()).
		Str("source", e.Source).
		Str("actor", e.Actor).
		Str("action", e.Action).
		Str("target", e.TargetUUID).
		Str("punishment", e.PunishmentID).
		Msg("audit")
}
