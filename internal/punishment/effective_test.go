package punishment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/modl-gg/panel-core/internal/models"
)

func ptrInt64(v int64) *int64 { return &v }

func startedPunishment(issued time.Time, durationMs int64) *models.Punishment {
	started := issued
	expires := issued.Add(time.Duration(durationMs) * time.Millisecond)
	return &models.Punishment{
		ID:          "TESTBAN1",
		IssuerName:  "mod",
		Issued:      issued,
		Started:     &started,
		TypeOrdinal: models.OrdinalManualBan,
		Data: models.PunishmentData{
			Duration: ptrInt64(durationMs),
			Expires:  &expires,
		},
	}
}

func TestIsActiveExpiry(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pun := startedPunishment(issued, int64(time.Hour/time.Millisecond))

	assert.True(t, IsActive(pun, issued.Add(30*time.Minute)))
	assert.False(t, IsActive(pun, issued.Add(61*time.Minute)))
}

func TestUnstartedIsNotActiveButValid(t *testing.T) {
	issued := time.Now().UTC()
	pun := &models.Punishment{
		ID:          "TESTBAN2",
		Issued:      issued,
		TypeOrdinal: models.OrdinalManualBan,
		Data:        models.PunishmentData{Duration: ptrInt64(models.PermanentDuration)},
	}
	assert.False(t, IsActive(pun, issued))
	assert.True(t, ValidForExecution(pun, issued))
}

func TestPardonDeactivatesBeforeStart(t *testing.T) {
	issued := time.Now().UTC()
	pun := &models.Punishment{
		ID:          "TESTBAN3",
		Issued:      issued,
		TypeOrdinal: models.OrdinalManualBan,
	}
	pun.AddModification(models.Modification{
		Type: models.ModManualPardon, IssuerName: "mod", Issued: issued.Add(time.Minute),
	})
	assert.False(t, ValidForExecution(pun, issued.Add(2*time.Minute)))
}

func TestDurationChangeReopensExpired(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pun := startedPunishment(issued, int64(time.Hour/time.Millisecond))
	now := issued.Add(2 * time.Hour)
	require.False(t, IsActive(pun, now))

	// Extend from the modification's issue time; the punishment re-opens.
	pun.AddModification(models.Modification{
		Type:              models.ModManualDurationChange,
		IssuerName:        "admin",
		Issued:            now,
		EffectiveDuration: ptrInt64(int64(24 * time.Hour / time.Millisecond)),
	})
	assert.True(t, IsActive(pun, now.Add(time.Minute)))
	assert.False(t, IsActive(pun, now.Add(25*time.Hour)))
}

func TestDurationChangeZeroMeansPermanent(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pun := startedPunishment(issued, int64(time.Hour/time.Millisecond))
	pun.AddModification(models.Modification{
		Type:              models.ModManualDurationChange,
		IssuerName:        "admin",
		Issued:            issued.Add(10 * time.Minute),
		EffectiveDuration: ptrInt64(0),
	})
	eff := EffectiveState(pun, issued.Add(100*24*time.Hour))
	assert.True(t, eff.Active)
	assert.Nil(t, eff.Expiry)
}

func TestModificationsFoldInIssuedOrder(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pun := startedPunishment(issued, int64(time.Hour/time.Millisecond))

	// Appended out of order: the later change must win regardless.
	pun.AddModification(models.Modification{
		Type:              models.ModManualDurationChange,
		Issued:            issued.Add(20 * time.Minute),
		EffectiveDuration: ptrInt64(int64(48 * time.Hour / time.Millisecond)),
	})
	pun.AddModification(models.Modification{
		Type:              models.ModManualDurationChange,
		Issued:            issued.Add(10 * time.Minute),
		EffectiveDuration: ptrInt64(int64(time.Minute / time.Millisecond)),
	})

	now := issued.Add(30 * time.Minute)
	eff := EffectiveState(pun, now)
	require.NotNil(t, eff.Expiry)
	assert.Equal(t, issued.Add(20*time.Minute).Add(48*time.Hour), *eff.Expiry)
}

// Any modification history containing a pardon leaves the punishment
// inactive, no matter what else happened around it.
func TestPardonIsIrrevocable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		pun := startedPunishment(issued, int64(time.Hour/time.Millisecond))

		n := rapid.IntRange(1, 8).Draw(t, "mods")
		pardonAt := rapid.IntRange(0, n-1).Draw(t, "pardonIndex")
		for i := 0; i < n; i++ {
			at := issued.Add(time.Duration(rapid.IntRange(1, 600).Draw(t, "offset")) * time.Second)
			if i == pardonAt {
				pun.AddModification(models.Modification{Type: models.ModManualPardon, Issued: at})
				continue
			}
			d := int64(rapid.IntRange(-10, 1000000).Draw(t, "duration"))
			pun.AddModification(models.Modification{
				Type:              models.ModManualDurationChange,
				Issued:            at,
				EffectiveDuration: &d,
			})
		}

		now := issued.Add(time.Duration(rapid.IntRange(0, 1200).Draw(t, "now")) * time.Second)
		eff := EffectiveState(pun, now)
		if eff.Active {
			t.Fatalf("pardoned punishment reported active at %v", now)
		}
	})
}

func TestDisplayExpiryProjectsUnstarted(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pun := &models.Punishment{
		ID:          "TESTBAN4",
		Issued:      now.Add(-time.Hour),
		TypeOrdinal: models.OrdinalManualBan,
		Data:        models.PunishmentData{Duration: ptrInt64(int64(2 * time.Hour / time.Millisecond))},
	}
	exp := DisplayExpiry(pun, now)
	require.NotNil(t, exp)
	assert.Equal(t, now.Add(2*time.Hour), *exp)

	pun.Data.Duration = ptrInt64(models.PermanentDuration)
	assert.Nil(t, DisplayExpiry(pun, now))
}
