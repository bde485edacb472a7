// Package appeals implements the punishment-appeal workflow on top of the
// ticket store: one appeal ticket per punishment, staff-driven status
// transitions with system replies, and the accept path that pardons the
// underlying punishment.
package appeals

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/storage"
)

// Workflow errors surfaced to handlers.
var (
	ErrDuplicateAppeal = errors.New("punishment already has an appeal")
	ErrTerminalAppeal  = errors.New("appeal is already resolved")
	ErrBadStatus       = errors.New("unknown appeal status")
)

// Workflow drives appeal tickets for a tenant.
type Workflow struct {
	registries *registry.Cache
	audit      *audit.Writer
	log        zerolog.Logger
	now        func() time.Time
}

// NewWorkflow wires the appeal workflow.
func NewWorkflow(registries *registry.Cache, auditw *audit.Writer, log zerolog.Logger) *Workflow {
	return &Workflow{
		registries: registries,
		audit:      auditw,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the workflow clock. Tests only.
func (w *Workflow) SetClock(now func() time.Time) { w.now = now }

// newAppealID generates an APPEAL-<6 digits> ticket id.
func newAppealID() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate appeal id: %w", err)
	}
	return fmt.Sprintf("APPEAL-%06d", n.Int64()), nil
}

// CreateParams describes a new appeal submission.
type CreateParams struct {
	PunishmentID string
	Email        string
	Content      string
	Fields       map[string]string // additional form fields, keyed by label
}

// Create opens an appeal ticket for the punishment. The punishment must
// exist; a punishment can only ever carry one appeal.
func (w *Workflow) Create(ctx context.Context, store storage.Store, p CreateParams) (*models.Ticket, error) {
	player, err := store.FindPlayerWithPunishment(ctx, p.PunishmentID)
	if err != nil {
		return nil, err
	}
	pun := player.FindPunishment(p.PunishmentID)
	if pun == nil {
		return nil, fmt.Errorf("punishment %s: %w", p.PunishmentID, storage.ErrNotFound)
	}
	if _, err := store.FindTicketByPunishment(ctx, p.PunishmentID); err == nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrConflict, ErrDuplicateAppeal)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	id, err := newAppealID()
	if err != nil {
		return nil, err
	}
	now := w.now()
	creator := player.CurrentUsername()

	content := p.Content
	if len(p.Fields) > 0 {
		var b strings.Builder
		b.WriteString(content)
		for label, value := range p.Fields {
			fmt.Fprintf(&b, "\n\n**%s**\n%s", label, value)
		}
		content = b.String()
	}

	// Tag the ticket with the punishment kind so the panel can filter
	// appeals by what they contest.
	kind := w.registries.Get(ctx, store).TypeKind(pun.TypeOrdinal).String()

	ticket := &models.Ticket{
		ID:          id,
		Type:        models.TicketTypeAppeal,
		Subject:     fmt.Sprintf("Appeal for punishment %s", p.PunishmentID),
		Status:      models.TicketStatusOpen,
		Tags:        []string{"appeal", kind},
		Created:     now,
		Creator:     creator,
		CreatorUUID: player.MinecraftUUID,
		Replies: []models.TicketReply{{
			Name:    creator,
			Content: content,
			Type:    "player",
			Created: now,
		}},
		Data: map[string]string{
			models.TicketDataPunishmentID: p.PunishmentID,
			models.TicketDataPlayerUUID:   player.MinecraftUUID,
		},
	}
	if p.Email != "" {
		ticket.SetDataValue(models.TicketDataContactEmail, p.Email)
	}

	if err := store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	err = store.UpdatePlayer(ctx, player.MinecraftUUID, func(pl *models.Player) error {
		pun := pl.FindPunishment(p.PunishmentID)
		if pun == nil {
			return fmt.Errorf("punishment %s: %w", p.PunishmentID, storage.ErrNotFound)
		}
		if !pun.HasAttachedTicket(id) {
			pun.AttachedTicketIDs = append(pun.AttachedTicketIDs, id)
		}
		pun.Data.AppealTicketID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.audit.System(ctx, store, models.AuditEntry{
		Action:       models.AuditActionAppealCreated,
		TargetUUID:   player.MinecraftUUID,
		PunishmentID: p.PunishmentID,
		Details:      map[string]any{"ticketId": id},
	})
	return ticket, nil
}

// allowedStatuses are the transitions staff may set on an appeal.
var allowedStatuses = map[string]bool{
	models.TicketStatusOpen:                  true,
	models.TicketStatusUnderReview:           true,
	models.TicketStatusPendingPlayerResponse: true,
	models.TicketStatusApproved:              true,
	models.TicketStatusDenied:                true,
	models.TicketStatusAccepted:              true,
	models.TicketStatusRejected:              true,
	models.TicketStatusResolved:              true,
	models.TicketStatusClosed:                true,
}

// accepted reports whether the status or resolution grants the appeal.
func accepted(value string) bool {
	return value == models.TicketStatusApproved || value == models.TicketStatusAccepted
}

// rejected reports whether the status or resolution denies the appeal.
func rejected(value string) bool {
	return value == models.TicketStatusDenied || value == models.TicketStatusRejected
}

// UpdateParams carries a staff-side appeal update.
type UpdateParams struct {
	TicketID   string
	Status     string // empty keeps the current status
	Resolution string
	StaffName  string
	Reply      string // optional staff reply appended verbatim
}

// Update applies a staff action to the appeal ticket. Every changed field
// (status, resolution, lock) appends a system reply; accepting the appeal
// pardons the punishment via an APPEAL_ACCEPT modification, denying it leaves
// an APPEAL_REJECT trace; terminal statuses lock the ticket.
func (w *Workflow) Update(ctx context.Context, store storage.Store, p UpdateParams) (*models.Ticket, error) {
	if p.Status != "" && !allowedStatuses[p.Status] {
		return nil, fmt.Errorf("status %q: %w", p.Status, ErrBadStatus)
	}
	now := w.now()

	var updated *models.Ticket
	var punishmentID, playerUUID, resolution string
	var wasAccepted, wasRejected bool

	err := store.UpdateTicket(ctx, p.TicketID, func(t *models.Ticket) error {
		if t.Type != models.TicketTypeAppeal {
			return fmt.Errorf("ticket %s is not an appeal: %w", p.TicketID, storage.ErrNotFound)
		}
		if t.Terminal() {
			return fmt.Errorf("%w: %w", storage.ErrConflict, ErrTerminalAppeal)
		}

		systemReply := func(content, action string) {
			t.Replies = append(t.Replies, models.TicketReply{
				Name:    "System",
				Content: content,
				Type:    "system",
				Created: now,
				Action:  action,
			})
		}

		if p.Reply != "" {
			t.Replies = append(t.Replies, models.TicketReply{
				Name:    p.StaffName,
				Content: p.Reply,
				Type:    "staff",
				Created: now,
				Staff:   true,
			})
		}
		if p.Status != "" && p.Status != t.Status {
			systemReply(fmt.Sprintf("Status changed from %s to %s by %s", t.Status, p.Status, p.StaffName), "status_change")
			t.Status = p.Status
		}
		if p.Resolution != "" && p.Resolution != t.DataValue(models.TicketDataResolution) {
			t.SetDataValue(models.TicketDataResolution, p.Resolution)
			systemReply(fmt.Sprintf("Resolution set to %q by %s", p.Resolution, p.StaffName), "resolution_change")
		}
		if accepted(t.Status) || rejected(t.Status) {
			t.Status = models.TicketStatusResolved
		}
		if t.Terminal() && !t.Locked {
			t.Locked = true
			systemReply("Ticket locked", "lock")
		}

		// The outcome can arrive as a verdict status (Approved/Denied) or as
		// a terminal status with the verdict in the resolution field.
		resolution = t.DataValue(models.TicketDataResolution)
		wasAccepted = accepted(p.Status) || (t.Terminal() && accepted(resolution))
		wasRejected = !wasAccepted && (rejected(p.Status) || (t.Terminal() && rejected(resolution)))
		punishmentID = t.DataValue(models.TicketDataPunishmentID)
		playerUUID = t.DataValue(models.TicketDataPlayerUUID)
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if punishmentID != "" && playerUUID != "" {
		switch {
		case wasAccepted:
			if err := w.acceptPunishment(ctx, store, playerUUID, punishmentID, p); err != nil {
				return nil, err
			}
		case wasRejected:
			if err := w.Reject(ctx, store, playerUUID, punishmentID, p.StaffName, resolution); err != nil {
				return nil, err
			}
		}
	}
	if p.Status != "" {
		w.audit.Staff(ctx, store, models.AuditEntry{
			Actor:        p.StaffName,
			Action:       models.AuditActionAppealResolved,
			TargetUUID:   playerUUID,
			PunishmentID: punishmentID,
			Details:      map[string]any{"ticketId": p.TicketID, "status": p.Status},
		})
	}
	return updated, nil
}

// acceptPunishment pardons the appealed punishment. Repeated accepts on a
// punishment that already carries an accept are no-ops.
func (w *Workflow) acceptPunishment(ctx context.Context, store storage.Store, playerUUID, punishmentID string, p UpdateParams) error {
	now := w.now()
	return store.UpdatePlayer(ctx, playerUUID, func(pl *models.Player) error {
		pun := pl.FindPunishment(punishmentID)
		if pun == nil {
			return fmt.Errorf("punishment %s: %w", punishmentID, storage.ErrNotFound)
		}
		if pun.HasModification(models.ModAppealAccept) {
			return nil
		}
		reason := p.Resolution
		if reason == "" {
			reason = "Appeal accepted"
		}
		pun.AddModification(models.Modification{
			Type:       models.ModAppealAccept,
			IssuerName: p.StaffName,
			Issued:     now,
			Reason:     reason,
		})
		pun.AddNote("Appeal accepted: "+reason, p.StaffName, now)
		f := false
		pun.Data.Active = &f
		pun.Data.AppealOutcome = "accepted"
		pun.Data.AppealTicketID = p.TicketID
		return nil
	})
}

// Reject records an APPEAL_REJECT modification without changing the active
// state. Used when a denial should leave a trace on the punishment itself.
// Repeated rejects are no-ops.
func (w *Workflow) Reject(ctx context.Context, store storage.Store, playerUUID, punishmentID, staffName, reason string) error {
	now := w.now()
	return store.UpdatePlayer(ctx, playerUUID, func(pl *models.Player) error {
		pun := pl.FindPunishment(punishmentID)
		if pun == nil {
			return fmt.Errorf("punishment %s: %w", punishmentID, storage.ErrNotFound)
		}
		if pun.HasModification(models.ModAppealReject) {
			return nil
		}
		if reason == "" {
			reason = "Appeal denied"
		}
		pun.AddModification(models.Modification{
			Type:       models.ModAppealReject,
			IssuerName: staffName,
			Issued:     now,
			Reason:     reason,
		})
		pun.Data.AppealOutcome = "rejected"
		return nil
	})
}
