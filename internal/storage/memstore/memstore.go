// Package memstore is an in-memory implementation of storage.Store used by
// the test suite and by dev mode. Documents round-trip through JSON on every
// read and write, so the canonicalisation rules of the models package are
// exercised exactly as they are against the real database.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

// Store is a single-tenant in-memory document store.
type Store struct {
	serverName string

	mu       sync.Mutex
	players  map[string][]byte // uuid -> player doc
	order    []string          // insertion order of players
	tickets  map[string][]byte
	staff    []*models.Staff
	settings *models.Settings
	lastSync time.Time
	audit    []models.AuditEntry
}

// New creates an empty store for the given tenant.
func New(serverName string) *Store {
	return &Store{
		serverName: serverName,
		players:    map[string][]byte{},
		tickets:    map[string][]byte{},
		settings:   &models.Settings{StatusThresholds: models.DefaultStatusThresholds()},
	}
}

// SetSettings replaces the tenant settings document.
func (s *Store) SetSettings(settings *models.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// AddStaff registers a staff record.
func (s *Store) AddStaff(st *models.Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff = append(s.staff, st)
}

// LastSync returns the last recorded sync timestamp.
func (s *Store) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

func (s *Store) ServerName() string { return s.serverName }

func decodePlayer(raw []byte) (*models.Player, error) {
	var p models.Player
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode player: %w", err)
	}
	return &p, nil
}

func (s *Store) GetPlayer(ctx context.Context, uuid string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.players[uuid]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", uuid, storage.ErrNotFound)
	}
	return decodePlayer(raw)
}

func (s *Store) FindPlayerByUsername(ctx context.Context, name string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Player
	for _, uuid := range s.order {
		p, err := decodePlayer(s.players[uuid])
		if err != nil {
			continue
		}
		if !p.HasUsername(name) {
			continue
		}
		if best == nil || lastConnectAfter(p, best) {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("username %s: %w", name, storage.ErrNotFound)
	}
	return best, nil
}

// lastConnectAfter reports whether a's lastConnect is later than b's.
func lastConnectAfter(a, b *models.Player) bool {
	if a.Data.LastConnect == nil {
		return false
	}
	if b.Data.LastConnect == nil {
		return true
	}
	return a.Data.LastConnect.After(*b.Data.LastConnect)
}

func (s *Store) FindPlayersByIP(ctx context.Context, ip string) ([]*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Player
	for _, uuid := range s.order {
		p, err := decodePlayer(s.players[uuid])
		if err != nil {
			continue
		}
		if p.FindIP(ip) != nil {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) FindPlayerWithPunishment(ctx context.Context, punishmentID string) (*models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, uuid := range s.order {
		p, err := decodePlayer(s.players[uuid])
		if err != nil {
			continue
		}
		if p.FindPunishment(punishmentID) != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("punishment %s: %w", punishmentID, storage.ErrNotFound)
}

func (s *Store) CreatePlayer(ctx context.Context, p *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[p.MinecraftUUID]; ok {
		return fmt.Errorf("player %s: %w", p.MinecraftUUID, storage.ErrConflict)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode player: %w", err)
	}
	s.players[p.MinecraftUUID] = raw
	s.order = append(s.order, p.MinecraftUUID)
	return nil
}

func (s *Store) UpdatePlayer(ctx context.Context, uuid string, mutate func(*models.Player) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.players[uuid]
	if !ok {
		return fmt.Errorf("player %s: %w", uuid, storage.ErrNotFound)
	}
	p, err := decodePlayer(raw)
	if err != nil {
		return err
	}
	if err := mutate(p); err != nil {
		return err
	}
	updated, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode player: %w", err)
	}
	s.players[uuid] = updated
	return nil
}

func (s *Store) ForEachPlayer(ctx context.Context, fn func(*models.Player) error) error {
	s.mu.Lock()
	uuids := append([]string(nil), s.order...)
	s.mu.Unlock()
	for _, uuid := range uuids {
		s.mu.Lock()
		raw, ok := s.players[uuid]
		s.mu.Unlock()
		if !ok {
			continue
		}
		p, err := decodePlayer(raw)
		if err != nil {
			continue
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CountPlayers(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.players), nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, storage.ErrNotFound)
	}
	var t models.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}

func (s *Store) FindTicketByPunishment(ctx context.Context, punishmentID string) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.tickets))
	for id := range s.tickets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		var t models.Ticket
		if err := json.Unmarshal(s.tickets[id], &t); err != nil {
			continue
		}
		if t.Type == models.TicketTypeAppeal && t.DataValue(models.TicketDataPunishmentID) == punishmentID {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("appeal for %s: %w", punishmentID, storage.ErrNotFound)
}

func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return fmt.Errorf("ticket %s: %w", t.ID, storage.ErrConflict)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	s.tickets[t.ID] = raw
	return nil
}

func (s *Store) UpdateTicket(ctx context.Context, id string, mutate func(*models.Ticket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.tickets[id]
	if !ok {
		return fmt.Errorf("ticket %s: %w", id, storage.ErrNotFound)
	}
	var t models.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return fmt.Errorf("decode ticket: %w", err)
	}
	if err := mutate(&t); err != nil {
		return err
	}
	updated, err := json.Marshal(&t)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	s.tickets[id] = updated
	return nil
}

func (s *Store) ListStaff(ctx context.Context) ([]*models.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Staff(nil), s.staff...), nil
}

func (s *Store) FindStaffByMinecraftUsername(ctx context.Context, name string) (*models.Staff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.staff {
		if strings.EqualFold(st.AssignedMinecraftUsername, name) {
			return st, nil
		}
	}
	return nil, fmt.Errorf("staff for %s: %w", name, storage.ErrNotFound)
}

func (s *Store) GetSettings(ctx context.Context) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return nil, storage.ErrNotFound
	}
	copied := *s.settings
	return &copied, nil
}

func (s *Store) SetLastSync(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = at
	return nil
}

func (s *Store) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *e)
	return nil
}

func (s *Store) QueryAuditEntries(ctx context.Context, f storage.AuditFilter) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if f.Source != "" && e.Source != f.Source {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.StaffUsername != "" && !strings.EqualFold(e.StaffUsername, f.StaffUsername) {
			continue
		}
		if f.TargetUUID != "" && e.TargetUUID != f.TargetUUID {
			continue
		}
		if f.PunishmentID != "" && e.PunishmentID != f.PunishmentID {
			continue
		}
		if !f.Since.IsZero() && e.Created.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && e.Created.After(f.Until) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Provider resolves tenants out of a fixed in-memory set. Dev mode seeds one
// tenant; tests seed as many as they need.
type Provider struct {
	mu     sync.Mutex
	byKey  map[string]*Store
	byHost map[string]*Store
}

// NewProvider creates an empty provider.
func NewProvider() *Provider {
	return &Provider{byKey: map[string]*Store{}, byHost: map[string]*Store{}}
}

// Register adds a tenant reachable via the given API key and host.
func (p *Provider) Register(apiKey, host string, store *Store) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if apiKey != "" {
		p.byKey[apiKey] = store
	}
	if host != "" {
		p.byHost[strings.ToLower(host)] = store
	}
}

func (p *Provider) ResolveAPIKey(ctx context.Context, apiKey string) (storage.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.byKey[apiKey]
	if !ok {
		return nil, storage.ErrUnauthorized
	}
	return st, nil
}

func (p *Provider) ResolveHost(ctx context.Context, host string) (storage.Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.byHost[strings.ToLower(host)]
	if !ok {
		return nil, storage.ErrUnauthorized
	}
	return st, nil
}
