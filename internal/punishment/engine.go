// Package punishment implements the punishment engine: effective-state
// computation, manual and dynamic creation, pardons, server acknowledgement
// and login-driven auto-unbans.
package punishment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/storage"
)

// Engine errors surfaced to handlers.
var (
	ErrMuteAlreadyActive = errors.New("player already has an active mute")
	ErrAlreadyPardoned   = errors.New("punishment already pardoned")
	ErrUnknownOrdinal    = errors.New("unknown punishment ordinal")
	ErrNoDuration        = errors.New("no duration configured for severity/status")
	ErrKindMismatch      = errors.New("punishment kind mismatch")
)

// TierFunc resolves the relevant offence tier for a punishment category.
// The status calculator provides the production implementation; the engine
// only depends on its output.
type TierFunc func(p *models.Player, reg *registry.Registry, category string, now time.Time) string

// Engine creates and mutates punishments against a tenant store.
type Engine struct {
	registries *registry.Cache
	audit      *audit.Writer
	tierFor    TierFunc
	log        zerolog.Logger
	now        func() time.Time
}

// NewEngine wires a punishment engine.
func NewEngine(registries *registry.Cache, auditw *audit.Writer, tierFor TierFunc, log zerolog.Logger) *Engine {
	return &Engine{
		registries: registries,
		audit:      auditw,
		tierFor:    tierFor,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine clock. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CreateParams describes a punishment to create.
type CreateParams struct {
	TargetUUID  string
	IssuerName  string
	Ordinal     int
	Reason      string
	Duration    *int64 // ms; manual punishments only
	Severity    string // dynamic punishments only
	Status      string // dynamic punishments only; derived from tier when empty
	AltBlocking bool
	StatWiping  bool
	Evidence    []models.Evidence
	Staff       bool // true when issued from the panel by a staff session
}

// CreateManual creates a punishment with a hardcoded ordinal (0-5).
// The reason becomes the first note; duration goes into data; expires stays
// unset until the game server acknowledges execution.
func (e *Engine) CreateManual(ctx context.Context, store storage.Store, p CreateParams) (*models.Punishment, error) {
	if p.Ordinal < models.OrdinalKick || p.Ordinal >= models.OrdinalFirstDynamic {
		return nil, fmt.Errorf("ordinal %d: %w", p.Ordinal, ErrUnknownOrdinal)
	}
	reg := e.registries.Get(ctx, store)
	now := e.now()

	pun, err := e.newPunishment(p, now)
	if err != nil {
		return nil, err
	}
	if p.Duration != nil {
		d := *p.Duration
		pun.Data.Duration = &d
	}

	if err := e.appendToPlayer(ctx, store, reg, p.TargetUUID, pun); err != nil {
		return nil, err
	}
	e.auditCreated(ctx, store, pun, p, "manual")
	return pun, nil
}

// CreateDynamic creates a tenant-defined punishment (ordinal >= 6). The
// duration is selected from the type's matrix using the caller's severity
// (default regular) and the player's relevant offence tier; severity, status
// and the computed duration are stored on the punishment at issue time and
// never updated afterwards.
func (e *Engine) CreateDynamic(ctx context.Context, store storage.Store, p CreateParams) (*models.Punishment, error) {
	if p.Ordinal < models.OrdinalFirstDynamic {
		return nil, fmt.Errorf("ordinal %d is not dynamic: %w", p.Ordinal, ErrUnknownOrdinal)
	}
	reg := e.registries.Get(ctx, store)
	typ, ok := reg.ByOrdinal(p.Ordinal)
	if !ok {
		return nil, fmt.Errorf("ordinal %d: %w", p.Ordinal, ErrUnknownOrdinal)
	}
	now := e.now()

	target, err := store.GetPlayer(ctx, p.TargetUUID)
	if err != nil {
		return nil, err
	}

	severity := models.NormalizeSeverity(p.Severity)
	if p.Severity == "" {
		severity = models.SeverityRegular
	}
	status := strings.ToLower(p.Status)
	if status == "" {
		status = e.tierFor(target, reg, typ.Category, now)
	}

	entry, ok := typ.DurationFor(severity, status)
	if !ok {
		return nil, fmt.Errorf("type %q severity %q status %q: %w", typ.Name, severity, status, ErrNoDuration)
	}
	duration := entry.Milliseconds()

	pun, err := e.newPunishment(p, now)
	if err != nil {
		return nil, err
	}
	pun.Data.Severity = severity
	pun.Data.Status = status
	pun.Data.Duration = &duration
	if p.AltBlocking && !typ.CanBeAltBlocking {
		pun.Data.AltBlocking = false
	}
	if p.StatWiping && !typ.CanBeStatWiping {
		pun.Data.Wiping = false
	}

	if err := e.appendToPlayer(ctx, store, reg, p.TargetUUID, pun); err != nil {
		return nil, err
	}
	e.auditCreated(ctx, store, pun, p, "dynamic")
	return pun, nil
}

func (e *Engine) newPunishment(p CreateParams, now time.Time) (*models.Punishment, error) {
	if p.IssuerName == "" {
		return nil, errors.New("issuerName is required")
	}
	id, err := NewID()
	if err != nil {
		return nil, err
	}
	pun := &models.Punishment{
		ID:          id,
		IssuerName:  p.IssuerName,
		Issued:      now,
		TypeOrdinal: p.Ordinal,
		Evidence:    p.Evidence,
		Data: models.PunishmentData{
			AltBlocking: p.AltBlocking,
			Wiping:      p.StatWiping,
		},
	}
	// The reason is always the first note, never data.reason.
	if p.Reason != "" {
		pun.AddNote(p.Reason, p.IssuerName, now)
	}
	return pun, nil
}

// appendToPlayer appends the punishment inside an aggregate-serialised
// update, enforcing the single-active-mute rule.
func (e *Engine) appendToPlayer(ctx context.Context, store storage.Store, reg *registry.Registry, uuid string, pun *models.Punishment) error {
	now := e.now()
	return store.UpdatePlayer(ctx, uuid, func(player *models.Player) error {
		if reg.TypeKind(pun.TypeOrdinal) == registry.KindMute {
			for _, existing := range player.Punishments {
				if reg.TypeKind(existing.TypeOrdinal) == registry.KindMute && IsActive(existing, now) {
					return fmt.Errorf("%w: %w", storage.ErrConflict, ErrMuteAlreadyActive)
				}
			}
		}
		player.Punishments = append(player.Punishments, pun)
		return nil
	})
}

func (e *Engine) auditCreated(ctx context.Context, store storage.Store, pun *models.Punishment, p CreateParams, mode string) {
	details := map[string]any{
		"ordinal": pun.TypeOrdinal,
		"mode":    mode,
		"reason":  pun.Reason(),
	}
	if pun.Data.Duration != nil {
		details["duration"] = *pun.Data.Duration
	}
	if pun.Data.Severity != "" {
		details["severity"] = pun.Data.Severity
		details["status"] = pun.Data.Status
	}
	e.audit.Staff(ctx, store, models.AuditEntry{
		Actor:        p.IssuerName,
		Action:       models.AuditActionPunishmentCreated,
		TargetUUID:   p.TargetUUID,
		PunishmentID: pun.ID,
		Details:      details,
	})
}

// PardonByID appends a MANUAL_PARDON to the punishment with the given id.
// expectedKind ("ban"/"mute"), when set, must match the ordinal's kind.
// A second pardon attempt returns a conflict.
func (e *Engine) PardonByID(ctx context.Context, store storage.Store, punishmentID, issuerName, reason, expectedKind string) (*models.Punishment, error) {
	holder, err := store.FindPlayerWithPunishment(ctx, punishmentID)
	if err != nil {
		return nil, err
	}
	reg := e.registries.Get(ctx, store)
	var pardoned *models.Punishment
	err = store.UpdatePlayer(ctx, holder.MinecraftUUID, func(player *models.Player) error {
		pun := player.FindPunishment(punishmentID)
		if pun == nil {
			return fmt.Errorf("punishment %s: %w", punishmentID, storage.ErrNotFound)
		}
		if expectedKind != "" && reg.TypeKind(pun.TypeOrdinal).String() != strings.ToLower(expectedKind) {
			return fmt.Errorf("punishment %s is not a %s: %w", punishmentID, expectedKind, ErrKindMismatch)
		}
		if err := e.applyPardon(pun, issuerName, reason); err != nil {
			return err
		}
		pardoned = pun
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.audit.Staff(ctx, store, models.AuditEntry{
		Actor:        issuerName,
		Action:       models.AuditActionPunishmentPardon,
		TargetUUID:   holder.MinecraftUUID,
		PunishmentID: punishmentID,
		Details:      map[string]any{"reason": reason},
	})
	return pardoned, nil
}

// PardonByKind finds the single active punishment of the requested kind on
// the named player and pardons it.
func (e *Engine) PardonByKind(ctx context.Context, store storage.Store, playerName, kind, issuerName, reason string) (*models.Punishment, error) {
	player, err := store.FindPlayerByUsername(ctx, playerName)
	if err != nil {
		return nil, err
	}
	reg := e.registries.Get(ctx, store)
	now := e.now()

	var targetID string
	for _, pun := range player.Punishments {
		if reg.TypeKind(pun.TypeOrdinal).String() != strings.ToLower(kind) {
			continue
		}
		if IsActive(pun, now) {
			targetID = pun.ID
			break
		}
	}
	if targetID == "" {
		return nil, fmt.Errorf("no active %s for %s: %w", kind, playerName, storage.ErrNotFound)
	}
	return e.PardonByID(ctx, store, targetID, issuerName, reason, "")
}

func (e *Engine) applyPardon(pun *models.Punishment, issuerName, reason string) error {
	if pun.HasModification(models.ModManualPardon) || pun.HasModification(models.ModAppealAccept) {
		return fmt.Errorf("%w: %w", storage.ErrConflict, ErrAlreadyPardoned)
	}
	now := e.now()
	pun.AddModification(models.Modification{
		Type:       models.ModManualPardon,
		IssuerName: issuerName,
		Issued:     now,
		Reason:     reason,
	})
	note := "Pardoned"
	if reason != "" {
		note = "Pardoned: " + reason
	}
	pun.AddNote(note, issuerName, now)
	f := false
	pun.Data.Active = &f
	return nil
}

// AckParams is the game server's execution report for one punishment.
type AckParams struct {
	PunishmentID string
	PlayerUUID   string
	ExecutedAt   time.Time
	Success      bool
	ErrorMessage string
}

// Acknowledge records the game server's execution report. On success the
// punishment starts (exactly once; repeats are no-ops) and expires is
// derived from started + duration. Kicks complete immediately.
func (e *Engine) Acknowledge(ctx context.Context, store storage.Store, reg *registry.Registry, a AckParams) error {
	if a.ExecutedAt.IsZero() {
		a.ExecutedAt = e.now()
	}
	kind := reg.TypeKind // resolved per-punishment inside the update
	return store.UpdatePlayer(ctx, a.PlayerUUID, func(player *models.Player) error {
		pun := player.FindPunishment(a.PunishmentID)
		if pun == nil {
			return fmt.Errorf("punishment %s: %w", a.PunishmentID, storage.ErrNotFound)
		}
		if !a.Success {
			pun.Data.ExecutionFailed = true
			pun.Data.ExecutionError = a.ErrorMessage
			at := a.ExecutedAt
			pun.Data.ExecutionAttemptedAt = &at
			return nil
		}
		if pun.Started == nil {
			started := a.ExecutedAt
			pun.Started = &started
			if kind(pun.TypeOrdinal) == registry.KindKick {
				pun.Data.Completed = true
				pun.Data.CompletedAt = &started
			} else if pun.Data.Duration != nil && *pun.Data.Duration >= 0 {
				expires := started.Add(time.Duration(*pun.Data.Duration) * time.Millisecond)
				pun.Data.Expires = &expires
			}
		}
		pun.Data.ExecutedOnServer = true
		return nil
	})
}

// AutoUnban voids started punishments whose type is flagged permanent-until-
// username-change (or -skin-change) after the respective change was detected
// on login. It runs inside the login's player update; returns the voided ids.
func (e *Engine) AutoUnban(reg *registry.Registry, player *models.Player, usernameChanged, skinChanged bool) []string {
	if !usernameChanged && !skinChanged {
		return nil
	}
	byUsername := reg.PermanentUntilUsernameChangeOrdinals()
	bySkin := reg.PermanentUntilSkinChangeOrdinals()
	now := e.now()

	var voided []string
	for _, pun := range player.Punishments {
		if pun.Started == nil || !IsActive(pun, now) {
			continue
		}
		match := (usernameChanged && byUsername[pun.TypeOrdinal]) ||
			(skinChanged && bySkin[pun.TypeOrdinal])
		if !match {
			continue
		}
		f := false
		pun.Data.Active = &f
		unbanned := now
		pun.Data.Unbanned = &unbanned
		voided = append(voided, pun.ID)
	}
	return voided
}

// AuditAutoUnban writes one audit line per auto-unbanned punishment.
func (e *Engine) AuditAutoUnban(ctx context.Context, store storage.Store, playerUUID string, ids []string, reason string) {
	for _, id := range ids {
		e.audit.System(ctx, store, models.AuditEntry{
			Action:       models.AuditActionAutoUnban,
			TargetUUID:   playerUUID,
			PunishmentID: id,
			Details:      map[string]any{"trigger": reason},
		})
	}
}
