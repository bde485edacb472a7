package minecraft_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modl-gg/panel-core/internal/api/minecraft"
	"github.com/modl-gg/panel-core/internal/audit"
	"github.com/modl-gg/panel-core/internal/ipinfo"
	"github.com/modl-gg/panel-core/internal/jobs"
	"github.com/modl-gg/panel-core/internal/linking"
	"github.com/modl-gg/panel-core/internal/metrics"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/notify"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
	"github.com/modl-gg/panel-core/internal/status"
	"github.com/modl-gg/panel-core/internal/tenant"

	"github.com/modl-gg/panel-core/internal/storage/memstore"
)

type fixture struct {
	router *gin.Engine
	store  *memstore.Store
	engine *punishment.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New("testserver")
	log := zerolog.Nop()
	cache := registry.NewCache(0, log)
	auditw := audit.NewWriter(log)
	eng := punishment.NewEngine(cache, auditw,
		func(p *models.Player, reg *registry.Registry, category string, now time.Time) string {
			return status.RelevantTier(status.Calculate(p, reg, now), category)
		}, log)
	runner := jobs.NewRunner(1, 16, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	h := minecraft.New(minecraft.Deps{
		Registries: cache,
		Engine:     eng,
		Queue:      notify.NewQueue(),
		Linker:     linking.NewLinker(auditw, log),
		Propagator: linking.NewPropagator(auditw, log),
		Runner:     runner,
		IPs:        ipinfo.Static{},
		Metrics:    metrics.New(),
		Log:        log,
	})

	router := gin.New()
	group := router.Group("/api/minecraft")
	group.Use(func(c *gin.Context) { c.Set(tenant.ContextStore, store) })
	h.Register(group)
	return &fixture{router: router, store: store, engine: eng}
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func login(t *testing.T, f *fixture, uuid, name string) map[string]any {
	rec := f.post(t, "/api/minecraft/player/login", gin.H{
		"minecraftUuid": uuid,
		"username":      name,
		"ipAddress":     "1.2.3.4",
		"serverName":    "lobby",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func TestLoginCreatesPlayer(t *testing.T) {
	f := newFixture(t)
	body := login(t, f, "uuid-a", "Alice")
	assert.Empty(t, body["activePunishments"])
	assert.Empty(t, body["pendingNotifications"])

	p, err := f.store.GetPlayer(context.Background(), "uuid-a")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.CurrentUsername())
	assert.True(t, p.Data.IsOnline)
	require.Len(t, p.IPAddresses, 1)
}

// A crash leaves the player online with an open session; the next login must
// fold the dangling session into playtime instead of discarding it.
func TestReloginFoldsDanglingSession(t *testing.T) {
	f := newFixture(t)
	login(t, f, "uuid-a", "Alice")

	sessionStart := time.Now().UTC().Add(-time.Hour)
	err := f.store.UpdatePlayer(context.Background(), "uuid-a", func(p *models.Player) error {
		p.Data.CurrentSessionStart = &sessionStart
		return nil
	})
	require.NoError(t, err)

	login(t, f, "uuid-a", "Alice")

	p, err := f.store.GetPlayer(context.Background(), "uuid-a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p.Data.TotalPlaytime, int64(time.Hour/time.Millisecond))
	assert.True(t, p.Data.IsOnline)
	require.NotNil(t, p.Data.CurrentSessionStart)
	assert.True(t, p.Data.CurrentSessionStart.After(sessionStart))

	// A clean disconnect then relogin folds nothing twice.
	rec := f.post(t, "/api/minecraft/player/disconnect", gin.H{"minecraftUuid": "uuid-a"})
	require.Equal(t, http.StatusOK, rec.Code)
	before, _ := f.store.GetPlayer(context.Background(), "uuid-a")
	login(t, f, "uuid-a", "Alice")
	after, _ := f.store.GetPlayer(context.Background(), "uuid-a")
	assert.Equal(t, before.Data.TotalPlaytime, after.Data.TotalPlaytime)
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t)
	rec := f.post(t, "/api/minecraft/player/login", gin.H{"username": "NoUUID"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Full ban lifecycle over the wire: issue, deliver unstarted on login,
// acknowledge, observe started on the next login, pardon, observe gone.
func TestBanLifecycle(t *testing.T) {
	f := newFixture(t)
	login(t, f, "uuid-a", "Alice")

	rec := f.post(t, "/api/minecraft/punishment/create", gin.H{
		"minecraftUuid": "uuid-a",
		"issuerName":    "ModBob",
		"ordinal":       models.OrdinalManualBan,
		"reason":        "griefing",
		"duration":      int64(2 * time.Hour / time.Millisecond),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	punishmentID := decode(t, rec)["punishmentId"].(string)

	// The unstarted ban is delivered with a projected expiration.
	body := login(t, f, "uuid-a", "Alice")
	active := body["activePunishments"].([]any)
	require.Len(t, active, 1)
	ban := active[0].(map[string]any)
	assert.Equal(t, punishmentID, ban["id"])
	assert.Equal(t, "ban", ban["type"])
	assert.Equal(t, false, ban["started"])
	assert.Equal(t, "griefing", ban["description"])
	require.NotNil(t, ban["expiration"])

	rec = f.post(t, "/api/minecraft/punishment/acknowledge", gin.H{
		"punishmentId": punishmentID,
		"playerUuid":   "uuid-a",
		"success":      true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body = login(t, f, "uuid-a", "Alice")
	active = body["activePunishments"].([]any)
	require.Len(t, active, 1)
	assert.Equal(t, true, active[0].(map[string]any)["started"])

	rec = f.post(t, fmt.Sprintf("/api/minecraft/punishment/%s/pardon", punishmentID), gin.H{
		"issuerName": "AdminEve",
		"reason":     "appealed",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body = login(t, f, "uuid-a", "Alice")
	assert.Empty(t, body["activePunishments"])

	// Pardoning twice conflicts.
	rec = f.post(t, fmt.Sprintf("/api/minecraft/punishment/%s/pardon", punishmentID), gin.H{
		"issuerName": "AdminEve",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMuteStackingOverWire(t *testing.T) {
	f := newFixture(t)
	login(t, f, "uuid-a", "Alice")

	issue := func() *httptest.ResponseRecorder {
		return f.post(t, "/api/minecraft/punishment/create", gin.H{
			"minecraftUuid": "uuid-a",
			"issuerName":    "Mod",
			"ordinal":       models.OrdinalManualMute,
			"reason":        "spam",
			"duration":      int64(time.Hour / time.Millisecond),
		})
	}
	rec := issue()
	require.Equal(t, http.StatusCreated, rec.Code)
	muteID := decode(t, rec)["punishmentId"].(string)
	rec = f.post(t, "/api/minecraft/punishment/acknowledge", gin.H{
		"punishmentId": muteID, "playerUuid": "uuid-a", "success": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = issue()
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncReportsStartedAndStats(t *testing.T) {
	f := newFixture(t)
	login(t, f, "uuid-a", "Alice")
	login(t, f, "uuid-b", "Bob")

	rec := f.post(t, "/api/minecraft/punishment/create", gin.H{
		"minecraftUuid": "uuid-a",
		"issuerName":    "Mod",
		"ordinal":       models.OrdinalManualBan,
		"reason":        "cheating",
		"duration":      models.PermanentDuration,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	banID := decode(t, rec)["punishmentId"].(string)
	rec = f.post(t, "/api/minecraft/punishment/acknowledge", gin.H{
		"punishmentId": banID, "playerUuid": "uuid-a", "success": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	lastSync := time.Now().UTC().Add(-time.Minute)
	rec = f.post(t, "/api/minecraft/sync", gin.H{
		"onlinePlayers":     []gin.H{{"uuid": "uuid-b"}},
		"lastSyncTimestamp": lastSync,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)

	started := body["recentlyStartedPunishments"].([]any)
	require.Len(t, started, 1)
	assert.Equal(t, banID, started[0].(map[string]any)["id"])
	assert.Equal(t, "uuid-a", started[0].(map[string]any)["playerUuid"])

	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(2), stats["totalPlayers"])
	assert.Equal(t, float64(1), stats["onlinePlayers"])
	assert.Equal(t, float64(1), stats["activeBans"])

	// Alice was not in the online set, so she flipped offline.
	p, _ := f.store.GetPlayer(context.Background(), "uuid-a")
	assert.False(t, p.Data.IsOnline)
	assert.False(t, f.store.LastSync().IsZero())
}

func TestNotificationDrainOnLogin(t *testing.T) {
	f := newFixture(t)
	login(t, f, "uuid-a", "Alice")

	q := notify.NewQueue()
	require.NoError(t, q.Enqueue(context.Background(), f.store, "uuid-a", "Appeal update", "appeal"))

	body := login(t, f, "uuid-a", "Alice")
	notifications := body["pendingNotifications"].([]any)
	require.Len(t, notifications, 1)
	assert.Equal(t, "Appeal update", notifications[0].(map[string]any)["message"])

	body = login(t, f, "uuid-a", "Alice")
	assert.Empty(t, body["pendingNotifications"])
}

func TestPlayerLookupRoutes(t *testing.T) {
	f := newFixture(t)
	login(t, f, "uuid-a", "Alice")

	rec := f.get(t, "/api/minecraft/player?minecraftUuid=uuid-a")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	player := body["player"].(map[string]any)
	assert.Equal(t, "uuid-a", player["minecraftUuid"])
	require.Contains(t, body, "status")

	rec = f.get(t, "/api/minecraft/player-name?username=alice")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/api/minecraft/player?minecraftUuid=nobody")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStaffPermissionsRoute(t *testing.T) {
	f := newFixture(t)
	f.store.AddStaff(&models.Staff{
		Username: "eve", Role: models.RoleAdmin, AssignedMinecraftUsername: "AdminEve",
	})
	rec := f.get(t, "/api/minecraft/staff-permissions")
	require.Equal(t, http.StatusOK, rec.Code)
	staff := decode(t, rec)["staff"].([]any)
	require.Len(t, staff, 1)
	perms := staff[0].(map[string]any)["permissions"].([]any)
	assert.Contains(t, perms, "punishment.rollback")
}
