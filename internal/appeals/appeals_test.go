package appeals_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modl-gg/panel-core/internal/appeals"
	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/storage"
	"github.com/modl-gg/panel-core/internal/storage/memstore"
)

func setup(t *testing.T) (*appeals.Workflow, *memstore.Store) {
	t.Helper()
	store := memstore.New("test")
	now := time.Now().UTC()
	started := now.Add(-time.Hour)
	err := store.CreatePlayer(context.Background(), &models.Player{
		MinecraftUUID: "uuid-a",
		Usernames:     []models.UsernameEntry{{Username: "Alice", Date: now}},
		Punishments: []*models.Punishment{{
			ID:          "BANNED01",
			IssuerName:  "Mod",
			Issued:      started,
			Started:     &started,
			TypeOrdinal: models.OrdinalManualBan,
			Data:        models.PunishmentData{Duration: func() *int64 { d := models.PermanentDuration; return &d }()},
		}},
	})
	require.NoError(t, err)
	cache := registry.NewCache(0, zerolog.Nop())
	return appeals.NewWorkflow(cache, audit.NewWriter(zerolog.Nop()), zerolog.Nop()), store
}

func TestCreateAppeal(t *testing.T) {
	wf, store := setup(t)
	ctx := context.Background()

	ticket, err := wf.Create(ctx, store, appeals.CreateParams{
		PunishmentID: "BANNED01",
		Email:        "alice@example.com",
		Content:      "it wasn't me",
		Fields:       map[string]string{"What happened?": "my brother was playing"},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ticket.ID, "APPEAL-"))
	assert.Len(t, ticket.ID, len("APPEAL-")+6)
	assert.Equal(t, models.TicketTypeAppeal, ticket.Type)
	assert.Equal(t, []string{"appeal", "ban"}, ticket.Tags)
	assert.Equal(t, "Alice", ticket.Creator)
	assert.Equal(t, "BANNED01", ticket.DataValue(models.TicketDataPunishmentID))
	assert.Equal(t, "uuid-a", ticket.DataValue(models.TicketDataPlayerUUID))
	require.Len(t, ticket.Replies, 1)
	assert.Contains(t, ticket.Replies[0].Content, "it wasn't me")
	assert.Contains(t, ticket.Replies[0].Content, "What happened?")

	// The appeal id is recorded on the punishment.
	p, _ := store.GetPlayer(ctx, "uuid-a")
	pun := p.FindPunishment("BANNED01")
	assert.True(t, pun.HasAttachedTicket(ticket.ID))
	assert.Equal(t, ticket.ID, pun.Data.AppealTicketID)

	// One appeal per punishment.
	_, err = wf.Create(ctx, store, appeals.CreateParams{
		PunishmentID: "BANNED01", Email: "alice@example.com", Content: "second try",
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.ErrorIs(t, err, appeals.ErrDuplicateAppeal)
}

func TestCreateAppealUnknownPunishment(t *testing.T) {
	wf, store := setup(t)
	_, err := wf.Create(context.Background(), store, appeals.CreateParams{
		PunishmentID: "MISSING1", Email: "x@example.com", Content: "?",
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAcceptAppealPardonsPunishment(t *testing.T) {
	wf, store := setup(t)
	ctx := context.Background()
	ticket, err := wf.Create(ctx, store, appeals.CreateParams{
		PunishmentID: "BANNED01", Email: "alice@example.com", Content: "please",
	})
	require.NoError(t, err)

	updated, err := wf.Update(ctx, store, appeals.UpdateParams{
		TicketID:   ticket.ID,
		Status:     models.TicketStatusApproved,
		Resolution: "first offence",
		StaffName:  "AdminEve",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusResolved, updated.Status)
	assert.True(t, updated.Locked)

	p, _ := store.GetPlayer(ctx, "uuid-a")
	pun := p.FindPunishment("BANNED01")
	assert.True(t, pun.HasModification(models.ModAppealAccept))
	assert.Equal(t, "accepted", pun.Data.AppealOutcome)
	assert.False(t, punishment.IsActive(pun, time.Now().UTC()))

	// Terminal tickets reject further updates.
	_, err = wf.Update(ctx, store, appeals.UpdateParams{
		TicketID: ticket.ID, Status: models.TicketStatusOpen, StaffName: "AdminEve",
	})
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.ErrorIs(t, err, appeals.ErrTerminalAppeal)
}

func TestStatusChangeAppendsSystemReply(t *testing.T) {
	wf, store := setup(t)
	ctx := context.Background()
	ticket, err := wf.Create(ctx, store, appeals.CreateParams{
		PunishmentID: "BANNED01", Email: "alice@example.com", Content: "please",
	})
	require.NoError(t, err)

	updated, err := wf.Update(ctx, store, appeals.UpdateParams{
		TicketID:  ticket.ID,
		Status:    models.TicketStatusUnderReview,
		StaffName: "ModBob",
		Reply:     "looking into it",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusUnderReview, updated.Status)
	assert.False(t, updated.Locked)
	require.Len(t, updated.Replies, 3)
	assert.Equal(t, "staff", updated.Replies[1].Type)
	assert.Equal(t, "system", updated.Replies[2].Type)
	assert.Contains(t, updated.Replies[2].Content, "Under Review")

	// Denial resolves the ticket, leaves the punishment in force and records
	// a reject trace on it.
	updated, err = wf.Update(ctx, store, appeals.UpdateParams{
		TicketID: ticket.ID, Status: models.TicketStatusDenied, StaffName: "ModBob",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusResolved, updated.Status)
	assert.True(t, updated.Locked)

	p, _ := store.GetPlayer(ctx, "uuid-a")
	pun := p.FindPunishment("BANNED01")
	assert.True(t, punishment.IsActive(pun, time.Now().UTC()))
	assert.True(t, pun.HasModification(models.ModAppealReject))
	assert.Equal(t, "rejected", pun.Data.AppealOutcome)
}

// Closing a ticket with the verdict carried in the resolution field must act
// on the punishment exactly like the matching verdict status.
func TestTerminalStatusWithVerdictResolution(t *testing.T) {
	t.Run("closed with approved resolution pardons", func(t *testing.T) {
		wf, store := setup(t)
		ctx := context.Background()
		ticket, err := wf.Create(ctx, store, appeals.CreateParams{
			PunishmentID: "BANNED01", Email: "alice@example.com", Content: "please",
		})
		require.NoError(t, err)

		updated, err := wf.Update(ctx, store, appeals.UpdateParams{
			TicketID:   ticket.ID,
			Status:     models.TicketStatusClosed,
			Resolution: models.TicketStatusApproved,
			StaffName:  "AdminEve",
		})
		require.NoError(t, err)
		assert.True(t, updated.Locked)

		p, _ := store.GetPlayer(ctx, "uuid-a")
		pun := p.FindPunishment("BANNED01")
		assert.True(t, pun.HasModification(models.ModAppealAccept))
		assert.Equal(t, "accepted", pun.Data.AppealOutcome)
		assert.False(t, punishment.IsActive(pun, time.Now().UTC()))
	})

	t.Run("resolved with denied resolution records reject", func(t *testing.T) {
		wf, store := setup(t)
		ctx := context.Background()
		ticket, err := wf.Create(ctx, store, appeals.CreateParams{
			PunishmentID: "BANNED01", Email: "alice@example.com", Content: "please",
		})
		require.NoError(t, err)

		_, err = wf.Update(ctx, store, appeals.UpdateParams{
			TicketID:   ticket.ID,
			Status:     models.TicketStatusResolved,
			Resolution: models.TicketStatusDenied,
			StaffName:  "AdminEve",
		})
		require.NoError(t, err)

		p, _ := store.GetPlayer(ctx, "uuid-a")
		pun := p.FindPunishment("BANNED01")
		assert.False(t, pun.HasModification(models.ModAppealAccept))
		assert.True(t, pun.HasModification(models.ModAppealReject))
		assert.True(t, punishment.IsActive(pun, time.Now().UTC()))
	})
}

// Every changed field leaves its own system reply on the thread.
func TestResolutionAndLockAppendSystemReplies(t *testing.T) {
	wf, store := setup(t)
	ctx := context.Background()
	ticket, err := wf.Create(ctx, store, appeals.CreateParams{
		PunishmentID: "BANNED01", Email: "alice@example.com", Content: "please",
	})
	require.NoError(t, err)

	// Setting only the resolution appends a resolution reply, no lock.
	updated, err := wf.Update(ctx, store, appeals.UpdateParams{
		TicketID:   ticket.ID,
		Resolution: "Needs more evidence",
		StaffName:  "ModBob",
	})
	require.NoError(t, err)
	require.Len(t, updated.Replies, 2)
	assert.Equal(t, "resolution_change", updated.Replies[1].Action)
	assert.Contains(t, updated.Replies[1].Content, "Needs more evidence")
	assert.False(t, updated.Locked)

	// Repeating the same resolution is not a change.
	updated, err = wf.Update(ctx, store, appeals.UpdateParams{
		TicketID:   ticket.ID,
		Resolution: "Needs more evidence",
		StaffName:  "ModBob",
	})
	require.NoError(t, err)
	assert.Len(t, updated.Replies, 2)

	// A terminal transition appends both the status and the lock replies.
	updated, err = wf.Update(ctx, store, appeals.UpdateParams{
		TicketID:  ticket.ID,
		Status:    models.TicketStatusClosed,
		StaffName: "ModBob",
	})
	require.NoError(t, err)
	require.Len(t, updated.Replies, 4)
	assert.Equal(t, "status_change", updated.Replies[2].Action)
	assert.Equal(t, "lock", updated.Replies[3].Action)
	assert.True(t, updated.Locked)
}

func TestUpdateRejectsUnknownStatus(t *testing.T) {
	wf, store := setup(t)
	_, err := wf.Update(context.Background(), store, appeals.UpdateParams{
		TicketID: "whatever", Status: "Escalated", StaffName: "Mod",
	})
	assert.ErrorIs(t, err, appeals.ErrBadStatus)
}
