package linking_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/linking"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/storage/memstore"
)

func ptr[T any](v T) *T { return &v }

func playerWithIP(uuid, name, ip string, proxy bool, lastLogin time.Time) *models.Player {
	return &models.Player{
		MinecraftUUID: uuid,
		Usernames:     []models.UsernameEntry{{Username: name, Date: lastLogin}},
		IPAddresses: []models.IPEntry{{
			IPAddress:  ip,
			Proxy:      proxy,
			FirstLogin: lastLogin.Add(-24 * time.Hour),
			Logins:     []time.Time{lastLogin},
		}},
	}
}

func newLinker(t *testing.T) (*linking.Linker, *memstore.Store) {
	t.Helper()
	return linking.NewLinker(audit.NewWriter(zerolog.Nop()), zerolog.Nop()), memstore.New("test")
}

func TestCleanIPAlwaysLinks(t *testing.T) {
	l, store := newLinker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreatePlayer(ctx, playerWithIP("uuid-a", "Alice", "1.2.3.4", false, now)))
	require.NoError(t, store.CreatePlayer(ctx, playerWithIP("uuid-b", "Bob", "1.2.3.4", false, now.Add(-90*24*time.Hour))))

	linked, err := l.LinkOnLogin(ctx, store, "uuid-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"uuid-b"}, linked)

	a, _ := store.GetPlayer(ctx, "uuid-a")
	b, _ := store.GetPlayer(ctx, "uuid-b")
	assert.True(t, a.Data.HasLinkedAccount("uuid-b"))
	assert.True(t, b.Data.HasLinkedAccount("uuid-a"))

	// Repeat scan records nothing new.
	linked, err = l.LinkOnLogin(ctx, store, "uuid-a")
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestProxyIPRequiresSixHourWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	cases := []struct {
		name string
		gap  time.Duration
		want bool
	}{
		{"five hours apart links", 5 * time.Hour, true},
		{"exactly six hours links", 6 * time.Hour, true},
		{"seven hours apart does not", 7 * time.Hour, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, store := newLinker(t)
			require.NoError(t, store.CreatePlayer(ctx, playerWithIP("uuid-a", "Alice", "9.9.9.9", true, now)))
			require.NoError(t, store.CreatePlayer(ctx, playerWithIP("uuid-b", "Bob", "9.9.9.9", true, now.Add(-tc.gap))))

			linked, err := l.LinkOnLogin(ctx, store, "uuid-a")
			require.NoError(t, err)
			if tc.want {
				assert.Equal(t, []string{"uuid-b"}, linked)
			} else {
				assert.Empty(t, linked)
			}
		})
	}
}

func TestPropagateAltBlockingBan(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := memstore.New("test")
	pr := linking.NewPropagator(audit.NewWriter(zerolog.Nop()), zerolog.Nop())

	source := playerWithIP("uuid-src", "Cheater", "9.9.9.9", false, now)
	started := now.Add(-time.Hour)
	expires := now.Add(10 * time.Hour)
	source.Punishments = append(source.Punishments, &models.Punishment{
		ID:          "SRCBAN01",
		IssuerName:  "Mod",
		Issued:      started,
		Started:     &started,
		TypeOrdinal: models.OrdinalManualBan,
		Data: models.PunishmentData{
			Duration:    ptr(int64(11 * time.Hour / time.Millisecond)),
			Expires:     &expires,
			AltBlocking: true,
		},
	})
	require.NoError(t, store.CreatePlayer(ctx, source))
	require.NoError(t, store.CreatePlayer(ctx, playerWithIP("uuid-alt", "AltAcct", "9.9.9.9", false, now)))

	issued := pr.PropagateAll(ctx, store, "uuid-alt", []string{"uuid-src"})
	assert.Equal(t, 1, issued)

	alt, err := store.GetPlayer(ctx, "uuid-alt")
	require.NoError(t, err)
	require.Len(t, alt.Punishments, 1)
	lb := alt.Punishments[0]
	assert.Equal(t, models.OrdinalLinkedBan, lb.TypeOrdinal)
	assert.Equal(t, models.LinkedBanIssuer, lb.IssuerName)
	assert.Equal(t, "SRCBAN01", lb.Data.LinkedBanID)
	assert.Nil(t, lb.Started)
	require.NotNil(t, lb.Data.Duration)
	// Remaining window of the source ban, not its original duration.
	assert.InDelta(t, float64(10*time.Hour/time.Millisecond), float64(*lb.Data.Duration), float64(5*time.Second/time.Millisecond))
	assert.True(t, punishment.ValidForExecution(lb, now))

	// Propagating again never duplicates, and reports nothing issued.
	assert.Zero(t, pr.PropagateAll(ctx, store, "uuid-alt", []string{"uuid-src"}))
	alt, _ = store.GetPlayer(ctx, "uuid-alt")
	assert.Len(t, alt.Punishments, 1)
}

func TestPropagateSkipsNonAltBlocking(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	store := memstore.New("test")
	pr := linking.NewPropagator(audit.NewWriter(zerolog.Nop()), zerolog.Nop())

	source := playerWithIP("uuid-src", "Cheater", "9.9.9.9", false, now)
	started := now.Add(-time.Hour)
	source.Punishments = append(source.Punishments, &models.Punishment{
		ID:          "SRCBAN02",
		IssuerName:  "Mod",
		Issued:      started,
		Started:     &started,
		TypeOrdinal: models.OrdinalManualBan,
		Data:        models.PunishmentData{Duration: ptr(models.PermanentDuration)},
	})
	require.NoError(t, store.CreatePlayer(ctx, source))
	require.NoError(t, store.CreatePlayer(ctx, playerWithIP("uuid-alt", "AltAcct", "9.9.9.9", false, now)))

	assert.Zero(t, pr.PropagateAll(ctx, store, "uuid-alt", []string{"uuid-src"}))
	alt, _ := store.GetPlayer(ctx, "uuid-alt")
	assert.Empty(t, alt.Punishments)
}
