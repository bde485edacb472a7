package status_test

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
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/status"
	"github.com/modl-gg/panel-core/internal/storage/memstore"
)

// chatAbuse is a social type worth 2 points per regular offence with a
// tier-dependent duration matrix.
func chatAbuse() models.PunishmentTypeConfig {
	return models.PunishmentTypeConfig{
		Ordinal:  6,
		Name:     "Chat Abuse",
		Category: models.CategorySocial,
		Points:   map[string]float64{"low": 1, "regular": 2, "severe": 4},
		Durations: map[string]map[string]models.DurationEntry{
			"regular": {
				"low":      {Value: 1, Unit: "hours", Type: "mute"},
				"medium":   {Value: 2, Unit: "hours", Type: "mute"},
				"habitual": {Value: 12, Unit: "hours", Type: "mute"},
			},
		},
	}
}

func activePunishment(id string, ordinal int, severity string, now time.Time) *models.Punishment {
	started := now.Add(-time.Minute)
	return &models.Punishment{
		ID:          id,
		IssuerName:  "Mod",
		Issued:      started,
		Started:     &started,
		TypeOrdinal: ordinal,
		Data:        models.PunishmentData{Severity: severity, Duration: ptr(models.PermanentDuration)},
	}
}

func ptr[T any](v T) *T { return &v }

func TestCalculateSkipsInactive(t *testing.T) {
	store := memstore.New("test")
	store.SetSettings(&models.Settings{
		PunishmentTypes:  []models.PunishmentTypeConfig{chatAbuse()},
		StatusThresholds: models.DefaultStatusThresholds(),
	})
	reg := registry.Load(context.Background(), store, zerolog.Nop())
	now := time.Now().UTC()

	pardoned := activePunishment("P2", 6, "regular", now)
	pardoned.AddModification(models.Modification{Type: models.ModManualPardon, Issued: now})

	player := &models.Player{
		MinecraftUUID: "uuid-a",
		Punishments:   []*models.Punishment{activePunishment("P1", 6, "regular", now), pardoned},
	}
	s := status.Calculate(player, reg, now)
	assert.Equal(t, 2.0, s.SocialPoints)
	assert.Equal(t, models.StatusLow, s.SocialTier)
}

// Two active regular social offences put the player at 4 points, the medium
// tier for social (threshold 4), so the next regular offence draws the 2 hour
// cell: 7,200,000 ms.
func TestDynamicDurationFollowsTier(t *testing.T) {
	store := memstore.New("test")
	store.SetSettings(&models.Settings{
		PunishmentTypes:  []models.PunishmentTypeConfig{chatAbuse()},
		StatusThresholds: models.DefaultStatusThresholds(),
	})
	ctx := context.Background()
	now := time.Now().UTC()

	player := &models.Player{
		MinecraftUUID: "uuid-b",
		Usernames:     []models.UsernameEntry{{Username: "Troll", Date: now}},
		Punishments: []*models.Punishment{
			activePunishment("P1", 6, "regular", now),
			activePunishment("P2", 6, "regular", now),
		},
	}
	require.NoError(t, store.CreatePlayer(ctx, player))

	cache := registry.NewCache(0, zerolog.Nop())
	eng := punishment.NewEngine(cache, audit.NewWriter(zerolog.Nop()),
		func(p *models.Player, reg *registry.Registry, category string, at time.Time) string {
			return status.RelevantTier(status.Calculate(p, reg, at), category)
		}, zerolog.Nop())

	pun, err := eng.CreateDynamic(ctx, store, punishment.CreateParams{
		TargetUUID: "uuid-b",
		IssuerName: "Mod",
		Ordinal:    6,
		Reason:     "slurs",
	})
	require.NoError(t, err)
	assert.Equal(t, "regular", pun.Data.Severity)
	assert.Equal(t, models.StatusMedium, pun.Data.Status)
	require.NotNil(t, pun.Data.Duration)
	assert.Equal(t, int64(7_200_000), *pun.Data.Duration)
}

func TestRelevantTierAdministrativeTakesWorst(t *testing.T) {
	s := status.PlayerStatus{SocialTier: models.StatusLow, GameplayTier: models.StatusHabitual}
	assert.Equal(t, models.StatusHabitual, status.RelevantTier(s, models.CategoryAdministrative))
	assert.Equal(t, models.StatusLow, status.RelevantTier(s, models.CategorySocial))
}
