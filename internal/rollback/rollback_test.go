package rollback_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/rollback"
	"github.com/modl-gg/panel-core/internal/storage"
	"github.com/modl-gg/panel-core/internal/storage/memstore"
)

func seed(t *testing.T, store *memstore.Store, uuid string, punishments ...*models.Punishment) {
	t.Helper()
	err := store.CreatePlayer(context.Background(), &models.Player{
		MinecraftUUID: uuid,
		Usernames:     []models.UsernameEntry{{Username: uuid, Date: time.Now().UTC()}},
		Punishments:   punishments,
	})
	require.NoError(t, err)
}

func ban(id, issuer string, issued time.Time) *models.Punishment {
	started := issued
	return &models.Punishment{
		ID:          id,
		IssuerName:  issuer,
		Issued:      issued,
		Started:     &started,
		TypeOrdinal: models.OrdinalManualBan,
		Data:        models.PunishmentData{Duration: func() *int64 { d := models.PermanentDuration; return &d }()},
	}
}

func TestRollbackOneIsIdempotent(t *testing.T) {
	store := memstore.New("test")
	eng := rollback.NewEngine(audit.NewWriter(zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, store, "uuid-a", ban("BAN00001", "RogueMod", now))

	require.NoError(t, eng.RollbackOne(ctx, store, "BAN00001", "Admin", "rogue staff"))

	p, _ := store.GetPlayer(ctx, "uuid-a")
	got := p.FindPunishment("BAN00001")
	assert.True(t, got.Data.RolledBack)
	assert.Equal(t, "Admin", got.Data.RollbackBy)
	assert.False(t, punishment.IsActive(got, now))
	require.Len(t, got.Modifications, 1)
	assert.Equal(t, models.ModManualPardon, got.Modifications[0].Type)
	require.NotNil(t, got.Modifications[0].EffectiveDuration)
	assert.Zero(t, *got.Modifications[0].EffectiveDuration)

	// Second rollback conflicts and changes nothing.
	err := eng.RollbackOne(ctx, store, "BAN00001", "Admin", "again")
	assert.ErrorIs(t, err, storage.ErrConflict)
	assert.ErrorIs(t, err, rollback.ErrAlreadyRolledBack)
	p, _ = store.GetPlayer(ctx, "uuid-a")
	assert.Len(t, p.FindPunishment("BAN00001").Modifications, 1)
}

func TestBulkRollbackByStaff(t *testing.T) {
	store := memstore.New("test")
	eng := rollback.NewEngine(audit.NewWriter(zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	seed(t, store, "uuid-a", ban("ROGUE001", "RogueMod", now.Add(-2*time.Hour)))
	seed(t, store, "uuid-b",
		ban("ROGUE002", "RogueMod", now.Add(-time.Hour)),
		ban("GOODBAN1", "GoodMod", now.Add(-time.Hour)))
	seed(t, store, "uuid-c", ban("ROGUE003", "RogueMod", now.Add(-60*24*time.Hour)))

	summary, err := eng.BulkByStaff(ctx, store, "roguemod",
		now.Add(-24*time.Hour), now, "Admin", "compromised account")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Count)
	assert.ElementsMatch(t, []string{"ROGUE001", "ROGUE002"}, summary.Punishments)
	assert.Zero(t, summary.Skipped)

	b, _ := store.GetPlayer(ctx, "uuid-b")
	assert.True(t, b.FindPunishment("ROGUE002").Data.RolledBack)
	assert.False(t, b.FindPunishment("GOODBAN1").Data.RolledBack)
	c, _ := store.GetPlayer(ctx, "uuid-c")
	assert.False(t, c.FindPunishment("ROGUE003").Data.RolledBack)

	// Re-running finds nothing left to roll back.
	summary, err = eng.BulkByStaff(ctx, store, "roguemod",
		now.Add(-24*time.Hour), now, "Admin", "compromised account")
	require.NoError(t, err)
	assert.Zero(t, summary.Count)
}

func TestBulkRollbackByTimeRange(t *testing.T) {
	store := memstore.New("test")
	eng := rollback.NewEngine(audit.NewWriter(zerolog.Nop()), zerolog.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	seed(t, store, "uuid-a",
		ban("RECENT01", "Mod", now.Add(-30*time.Minute)),
		ban("OLDBAN01", "Mod", now.Add(-3*time.Hour)))

	start, err := rollback.Window("1h", now)
	require.NoError(t, err)
	summary, err := eng.BulkByTimeRange(ctx, store, start, now, "Admin", "mass ban wave")
	require.NoError(t, err)
	assert.Equal(t, []string{"RECENT01"}, summary.Punishments)

	// The "all" window has no lower bound.
	start, err = rollback.Window("all", now)
	require.NoError(t, err)
	assert.True(t, start.IsZero())
	summary, err = eng.BulkByTimeRange(ctx, store, start, now, "Admin", "everything")
	require.NoError(t, err)
	assert.Equal(t, []string{"OLDBAN01"}, summary.Punishments)
}

func TestWindowRejectsUnknownToken(t *testing.T) {
	_, err := rollback.Window("2w", time.Now())
	assert.Error(t, err)
}
