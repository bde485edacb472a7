package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

func player(uuid, name string, lastConnect time.Time) *models.Player {
	return &models.Player{
		MinecraftUUID: uuid,
		Usernames:     []models.UsernameEntry{{Username: name, Date: lastConnect}},
		Data:          models.PlayerData{LastConnect: &lastConnect},
	}
}

func TestFindPlayerByUsernamePrefersLatestConnect(t *testing.T) {
	s := New("test")
	ctx := context.Background()
	now := time.Now().UTC()

	// Two players have held the name; the most recent holder wins.
	require.NoError(t, s.CreatePlayer(ctx, player("uuid-old", "Nomad", now.Add(-48*time.Hour))))
	require.NoError(t, s.CreatePlayer(ctx, player("uuid-new", "Nomad", now)))

	found, err := s.FindPlayerByUsername(ctx, "nomad")
	require.NoError(t, err)
	assert.Equal(t, "uuid-new", found.MinecraftUUID)

	_, err = s.FindPlayerByUsername(ctx, "Nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdatePlayerPersistsMutation(t *testing.T) {
	s := New("test")
	ctx := context.Background()
	require.NoError(t, s.CreatePlayer(ctx, player("uuid-a", "Alice", time.Now().UTC())))

	err := s.UpdatePlayer(ctx, "uuid-a", func(p *models.Player) error {
		p.Data.IsOnline = true
		p.Punishments = append(p.Punishments, &models.Punishment{
			ID: "NEWBAN01", IssuerName: "Mod", Issued: time.Now().UTC(),
			TypeOrdinal: models.OrdinalManualBan,
		})
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetPlayer(ctx, "uuid-a")
	require.NoError(t, err)
	assert.True(t, got.Data.IsOnline)
	require.Len(t, got.Punishments, 1)

	// An erroring mutation writes nothing.
	boom := s.UpdatePlayer(ctx, "uuid-a", func(p *models.Player) error {
		p.Data.IsOnline = false
		return storage.ErrConflict
	})
	require.Error(t, boom)
	got, _ = s.GetPlayer(ctx, "uuid-a")
	assert.True(t, got.Data.IsOnline)
}

func TestFindPlayerWithPunishment(t *testing.T) {
	s := New("test")
	ctx := context.Background()
	p := player("uuid-a", "Alice", time.Now().UTC())
	p.Punishments = []*models.Punishment{{
		ID: "FINDME01", IssuerName: "Mod", Issued: time.Now().UTC(),
		TypeOrdinal: models.OrdinalManualBan,
	}}
	require.NoError(t, s.CreatePlayer(ctx, p))

	found, err := s.FindPlayerWithPunishment(ctx, "FINDME01")
	require.NoError(t, err)
	assert.Equal(t, "uuid-a", found.MinecraftUUID)

	_, err = s.FindPlayerWithPunishment(ctx, "MISSING1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFindPlayersByIP(t *testing.T) {
	s := New("test")
	ctx := context.Background()
	now := time.Now().UTC()

	a := player("uuid-a", "Alice", now)
	a.IPAddresses = []models.IPEntry{{IPAddress: "1.2.3.4", FirstLogin: now, Logins: []time.Time{now}}}
	b := player("uuid-b", "Bob", now)
	b.IPAddresses = []models.IPEntry{{IPAddress: "1.2.3.4", FirstLogin: now, Logins: []time.Time{now}}}
	c := player("uuid-c", "Carol", now)
	require.NoError(t, s.CreatePlayer(ctx, a))
	require.NoError(t, s.CreatePlayer(ctx, b))
	require.NoError(t, s.CreatePlayer(ctx, c))

	matches, err := s.FindPlayersByIP(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.Len(t, matches, 2)
}

func TestTicketsByPunishment(t *testing.T) {
	s := New("test")
	ctx := context.Background()
	ticket := &models.Ticket{
		ID: "APPEAL-000001", Type: models.TicketTypeAppeal,
		Status: models.TicketStatusOpen, Created: time.Now().UTC(),
		Data: map[string]string{models.TicketDataPunishmentID: "BAN00001"},
	}
	require.NoError(t, s.CreateTicket(ctx, ticket))

	found, err := s.FindTicketByPunishment(ctx, "BAN00001")
	require.NoError(t, err)
	assert.Equal(t, "APPEAL-000001", found.ID)

	_, err = s.FindTicketByPunishment(ctx, "OTHER001")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.UpdateTicket(ctx, "APPEAL-000001", func(tk *models.Ticket) error {
		tk.Status = models.TicketStatusClosed
		return nil
	}))
	got, _ := s.GetTicket(ctx, "APPEAL-000001")
	assert.Equal(t, models.TicketStatusClosed, got.Status)
}

func TestAuditFilterQuery(t *testing.T) {
	s := New("test")
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	for i, action := range []string{
		models.AuditActionPunishmentCreated,
		models.AuditActionPunishmentPardon,
		models.AuditActionPunishmentCreated,
	} {
		require.NoError(t, s.InsertAuditEntry(ctx, &models.AuditEntry{
			ID: string(rune('a' + i)), Source: models.AuditSourceStaff,
			Actor: "Mod", Action: action, Created: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := s.QueryAuditEntries(ctx, storage.AuditFilter{Action: models.AuditActionPunishmentCreated})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = s.QueryAuditEntries(ctx, storage.AuditFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProviderResolution(t *testing.T) {
	p := NewProvider()
	p.Register("key-1", "tenant1.example.com", New("tenant1"))

	store, err := p.ResolveAPIKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, "tenant1", store.ServerName())

	_, err = p.ResolveAPIKey(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrUnauthorized)

	store, err = p.ResolveHost(context.Background(), "tenant1.example.com")
	require.NoError(t, err)
	assert.Equal(t, "tenant1", store.ServerName())
}
