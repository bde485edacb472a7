// Package registry loads the per-tenant punishment type configuration and
// answers ordinal lookups. A settings fetch failure degrades to the hardcoded
// core ordinals so the system stays usable.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

// Kind is the enforcement kind of a punishment type.
type Kind int

const (
	KindBan Kind = iota
	KindMute
	KindKick
)

func (k Kind) String() string {
	switch k {
	case KindMute:
		return "mute"
	case KindKick:
		return "kick"
	default:
		return "ban"
	}
}

// Registry is an immutable snapshot of a tenant's punishment types.
type Registry struct {
	types      map[int]models.PunishmentTypeConfig
	thresholds models.StatusThresholds
}

// Load reads the tenant settings and builds a registry. Errors never
// propagate: the core five ordinals plus default thresholds are always
// available.
func Load(ctx context.Context, store storage.Store, log zerolog.Logger) *Registry {
	r := &Registry{
		types:      map[int]models.PunishmentTypeConfig{},
		thresholds: models.DefaultStatusThresholds(),
	}
	for _, t := range models.CorePunishmentTypes() {
		r.types[t.Ordinal] = t
	}

	settings, err := store.GetSettings(ctx)
	if err != nil {
		log.Warn().Err(err).Str("server", store.ServerName()).
			Msg("settings fetch failed, using core punishment types only")
		return r
	}
	for _, t := range settings.PunishmentTypes {
		r.types[t.Ordinal] = t
	}
	if settings.StatusThresholds != (models.StatusThresholds{}) {
		r.thresholds = settings.StatusThresholds
	}
	return r
}

// ByOrdinal returns the configuration for an ordinal.
func (r *Registry) ByOrdinal(ord int) (models.PunishmentTypeConfig, bool) {
	t, ok := r.types[ord]
	return t, ok
}

// Thresholds returns the tenant's status thresholds.
func (r *Registry) Thresholds() models.StatusThresholds {
	return r.thresholds
}

// DynamicTypes returns the tenant-defined types (ordinal >= 6) in ordinal order.
func (r *Registry) DynamicTypes() []models.PunishmentTypeConfig {
	var out []models.PunishmentTypeConfig
	for ord := models.OrdinalFirstDynamic; ; ord++ {
		t, ok := r.types[ord]
		if !ok {
			// Ordinals are assigned densely by the panel; the first gap ends
			// the catalogue.
			break
		}
		out = append(out, t)
	}
	return out
}

// AllTypes returns every configured type, core ordinals included.
func (r *Registry) AllTypes() []models.PunishmentTypeConfig {
	out := make([]models.PunishmentTypeConfig, 0, len(r.types))
	for ord := 0; len(out) < len(r.types); ord++ {
		if t, ok := r.types[ord]; ok {
			out = append(out, t)
		}
		if ord > 10000 {
			break
		}
	}
	return out
}

// PermanentUntilUsernameChangeOrdinals returns the ordinals the auto-unban
// worker matches against username changes.
func (r *Registry) PermanentUntilUsernameChangeOrdinals() map[int]bool {
	out := map[int]bool{}
	for ord, t := range r.types {
		if t.PermanentUntilUsernameChange {
			out[ord] = true
		}
	}
	return out
}

// PermanentUntilSkinChangeOrdinals returns the ordinals the auto-unban worker
// matches against skin changes.
func (r *Registry) PermanentUntilSkinChangeOrdinals() map[int]bool {
	out := map[int]bool{}
	for ord, t := range r.types {
		if t.PermanentUntilSkinChange {
			out[ord] = true
		}
	}
	return out
}

// TypeKind resolves the enforcement kind for an ordinal:
// hardcoded ordinals first, then the configured duration entry's type hint,
// then a name-substring heuristic, defaulting to ban.
func (r *Registry) TypeKind(ord int) Kind {
	switch ord {
	case models.OrdinalKick:
		return KindKick
	case models.OrdinalManualMute:
		return KindMute
	case models.OrdinalManualBan, models.OrdinalSecurityBan,
		models.OrdinalLinkedBan, models.OrdinalBlacklist:
		return KindBan
	}

	t, ok := r.types[ord]
	if !ok {
		return KindBan
	}

	if hint := durationTypeHint(&t); hint != "" {
		lower := strings.ToLower(hint)
		switch {
		case strings.Contains(lower, "kick"):
			return KindKick
		case strings.Contains(lower, "ban"):
			return KindBan
		default:
			return KindMute
		}
	}

	name := strings.ToLower(t.Name)
	switch {
	case strings.Contains(name, "kick"):
		return KindKick
	case strings.Contains(name, "mute"):
		return KindMute
	case strings.Contains(name, "ban"):
		return KindBan
	}
	return KindBan
}

// durationTypeHint pulls the type string off the regular/first duration
// entry, falling back to any configured entry.
func durationTypeHint(t *models.PunishmentTypeConfig) string {
	pick := func(m map[string]models.DurationEntry) string {
		if m == nil {
			return ""
		}
		for _, key := range []string{"first", models.StatusLow, models.StatusMedium, models.StatusHabitual} {
			if e, ok := m[key]; ok && e.Type != "" {
				return e.Type
			}
		}
		for _, e := range m {
			if e.Type != "" {
				return e.Type
			}
		}
		return ""
	}
	if hint := pick(t.SingleSeverityDurations); hint != "" {
		return hint
	}
	if t.Durations == nil {
		return ""
	}
	if hint := pick(t.Durations[models.SeverityRegular]); hint != "" {
		return hint
	}
	for _, m := range t.Durations {
		if hint := pick(m); hint != "" {
			return hint
		}
	}
	return ""
}

// Cache keeps one registry per tenant with a TTL. It is the only
// process-wide mutable state in the core; Invalidate is the explicit
// lifecycle hook the settings CRUD calls after a write.
type Cache struct {
	ttl time.Duration
	log zerolog.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	registry *Registry
	loaded   time.Time
}

// NewCache creates a registry cache. A non-positive TTL disables caching and
// re-reads settings on every request.
func NewCache(ttl time.Duration, log zerolog.Logger) *Cache {
	return &Cache{ttl: ttl, log: log, entries: map[string]cacheEntry{}}
}

// Get returns the registry for the store's tenant, loading it if the cached
// snapshot is missing or stale.
func (c *Cache) Get(ctx context.Context, store storage.Store) *Registry {
	if c.ttl <= 0 {
		return Load(ctx, store, c.log)
	}
	name := store.ServerName()

	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if ok && time.Since(e.loaded) < c.ttl {
		return e.registry
	}

	r := Load(ctx, store, c.log)
	c.mu.Lock()
	c.entries[name] = cacheEntry{registry: r, loaded: time.Now()}
	c.mu.Unlock()
	return r
}

// Invalidate drops the cached registry for a tenant.
func (c *Cache) Invalidate(serverName string) {
	c.mu.Lock()
	delete(c.entries, serverName)
	c.mu.Unlock()
}
