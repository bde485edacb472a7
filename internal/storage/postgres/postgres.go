// Package postgres implements the tenant-scoped document store on
// PostgreSQL. Aggregates are stored as JSONB documents with a server_name
// discriminator column; aggregate-level serialisation uses row locks
// (SELECT ... FOR UPDATE) around every read-modify-write.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/storage"
)

// DB wraps the shared connection pool. Individual tenant stores are cheap
// views over it.
type DB struct {
	db *sql.DB
}

// Open connects to the database and ensures the schema exists.
func Open(connString string) (*DB, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	d := &DB{db: db}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

func (d *DB) initSchema() error {
	_, err := d.db.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	server_name TEXT PRIMARY KEY,
	api_key     TEXT UNIQUE NOT NULL,
	host        TEXT UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS players (
	server_name    TEXT NOT NULL,
	minecraft_uuid TEXT NOT NULL,
	doc            JSONB NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (server_name, minecraft_uuid)
);
CREATE INDEX IF NOT EXISTS players_punishments_idx
	ON players USING GIN ((doc->'punishments') jsonb_path_ops);

CREATE TABLE IF NOT EXISTS tickets (
	server_name TEXT NOT NULL,
	id          TEXT NOT NULL,
	doc         JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (server_name, id)
);

CREATE TABLE IF NOT EXISTS staff (
	server_name TEXT NOT NULL,
	username    TEXT NOT NULL,
	doc         JSONB NOT NULL,
	PRIMARY KEY (server_name, username)
);

CREATE TABLE IF NOT EXISTS settings (
	server_name TEXT PRIMARY KEY,
	doc         JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS server_status (
	server_name TEXT PRIMARY KEY,
	last_sync   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS audit_log (
	id             UUID PRIMARY KEY,
	server_name    TEXT NOT NULL,
	source         TEXT NOT NULL,
	actor          TEXT NOT NULL,
	staff_username TEXT,
	action         TEXT NOT NULL,
	target_uuid    TEXT,
	punishment_id  TEXT,
	details        JSONB,
	created        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_server_created_idx
	ON audit_log (server_name, created DESC);
`

// Close closes the shared pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// CreateTenant registers a tenant. Used by provisioning and dev tooling.
func (d *DB) CreateTenant(ctx context.Context, serverName, apiKey, host string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO tenants (server_name, api_key, host) VALUES ($1, $2, NULLIF($3, ''))
		 ON CONFLICT (server_name) DO UPDATE SET api_key = EXCLUDED.api_key, host = EXCLUDED.host`,
		serverName, apiKey, host)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// ResolveAPIKey implements storage.Provider.
func (d *DB) ResolveAPIKey(ctx context.Context, apiKey string) (storage.Store, error) {
	var serverName string
	err := d.db.QueryRowContext(ctx,
		`SELECT server_name FROM tenants WHERE api_key = $1`, apiKey).Scan(&serverName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &Store{db: d.db, serverName: serverName}, nil
}

// ResolveHost implements storage.Provider.
func (d *DB) ResolveHost(ctx context.Context, host string) (storage.Store, error) {
	var serverName string
	err := d.db.QueryRowContext(ctx,
		`SELECT server_name FROM tenants WHERE host = $1`, strings.ToLower(host)).Scan(&serverName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &Store{db: d.db, serverName: serverName}, nil
}

// Store is the tenant-scoped view over the shared pool.
type Store struct {
	db         *sql.DB
	serverName string
}

func (s *Store) ServerName() string { return s.serverName }

func wrapDBErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, storage.ErrUnavailable, err)
}

func (s *Store) GetPlayer(ctx context.Context, uuidStr string) (*models.Player, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM players WHERE server_name = $1 AND minecraft_uuid = $2`,
		s.serverName, uuidStr).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("player %s: %w", uuidStr, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("get player", err)
	}
	return decodePlayer(raw)
}

func decodePlayer(raw []byte) (*models.Player, error) {
	var p models.Player
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode player: %w", err)
	}
	return &p, nil
}

func (s *Store) FindPlayerByUsername(ctx context.Context, name string) (*models.Player, error) {
	// Most recent record wins: among players that ever used the name, pick
	// the one with the latest lastConnect.
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM players
		WHERE server_name = $1
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(doc->'usernames') u
			WHERE lower(u->>'username') = lower($2)
		  )
		ORDER BY doc->'data'->>'lastConnect' DESC NULLS LAST
		LIMIT 1`,
		s.serverName, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("username %s: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("find player by username", err)
	}
	return decodePlayer(raw)
}

func (s *Store) FindPlayersByIP(ctx context.Context, ip string) ([]*models.Player, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM players
		WHERE server_name = $1
		  AND EXISTS (
			SELECT 1 FROM jsonb_array_elements(coalesce(doc->'ipAddresses', doc->'ipList')) a
			WHERE a->>'ipAddress' = $2
		  )`,
		s.serverName, ip)
	if err != nil {
		return nil, wrapDBErr("find players by ip", err)
	}
	defer rows.Close()

	var out []*models.Player
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapDBErr("scan player", err)
		}
		p, err := decodePlayer(raw)
		if err != nil {
			// Legacy data may be malformed; skip rather than fail the scan.
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) FindPlayerWithPunishment(ctx context.Context, punishmentID string) (*models.Player, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM players
		WHERE server_name = $1
		  AND doc->'punishments' @> jsonb_build_array(jsonb_build_object('id', $2::text))
		LIMIT 1`,
		s.serverName, punishmentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("punishment %s: %w", punishmentID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("find punishment", err)
	}
	return decodePlayer(raw)
}

func (s *Store) CreatePlayer(ctx context.Context, p *models.Player) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode player: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO players (server_name, minecraft_uuid, doc) VALUES ($1, $2, $3)`,
		s.serverName, p.MinecraftUUID, raw)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("player %s: %w", p.MinecraftUUID, storage.ErrConflict)
		}
		return wrapDBErr("create player", err)
	}
	return nil
}

func (s *Store) UpdatePlayer(ctx context.Context, uuidStr string, mutate func(*models.Player) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBErr("begin", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM players WHERE server_name = $1 AND minecraft_uuid = $2 FOR UPDATE`,
		s.serverName, uuidStr).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("player %s: %w", uuidStr, storage.ErrNotFound)
	}
	if err != nil {
		return wrapDBErr("lock player", err)
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
	if _, err := tx.ExecContext(ctx,
		`UPDATE players SET doc = $3, updated_at = now()
		 WHERE server_name = $1 AND minecraft_uuid = $2`,
		s.serverName, uuidStr, updated); err != nil {
		return wrapDBErr("update player", err)
	}
	return tx.Commit()
}

func (s *Store) ForEachPlayer(ctx context.Context, fn func(*models.Player) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM players WHERE server_name = $1 ORDER BY minecraft_uuid`, s.serverName)
	if err != nil {
		return wrapDBErr("list players", err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return wrapDBErr("scan player", err)
		}
		p, err := decodePlayer(raw)
		if err != nil {
			continue
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) CountPlayers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE server_name = $1`, s.serverName).Scan(&n)
	if err != nil {
		return 0, wrapDBErr("count players", err)
	}
	return n, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM tickets WHERE server_name = $1 AND id = $2`,
		s.serverName, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("get ticket", err)
	}
	var t models.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}

func (s *Store) FindTicketByPunishment(ctx context.Context, punishmentID string) (*models.Ticket, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM tickets
		WHERE server_name = $1
		  AND doc->>'type' = 'appeal'
		  AND doc->'data'->>'punishmentId' = $2
		LIMIT 1`,
		s.serverName, punishmentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appeal for %s: %w", punishmentID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("find ticket by punishment", err)
	}
	var t models.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}

func (s *Store) CreateTicket(ctx context.Context, t *models.Ticket) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tickets (server_name, id, doc) VALUES ($1, $2, $3)`,
		s.serverName, t.ID, raw)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return fmt.Errorf("ticket %s: %w", t.ID, storage.ErrConflict)
		}
		return wrapDBErr("create ticket", err)
	}
	return nil
}

func (s *Store) UpdateTicket(ctx context.Context, id string, mutate func(*models.Ticket) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBErr("begin", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM tickets WHERE server_name = $1 AND id = $2 FOR UPDATE`,
		s.serverName, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("ticket %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return wrapDBErr("lock ticket", err)
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
	if _, err := tx.ExecContext(ctx,
		`UPDATE tickets SET doc = $3, updated_at = now() WHERE server_name = $1 AND id = $2`,
		s.serverName, id, updated); err != nil {
		return wrapDBErr("update ticket", err)
	}
	return tx.Commit()
}

func (s *Store) ListStaff(ctx context.Context) ([]*models.Staff, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM staff WHERE server_name = $1 ORDER BY username`, s.serverName)
	if err != nil {
		return nil, wrapDBErr("list staff", err)
	}
	defer rows.Close()

	var out []*models.Staff
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapDBErr("scan staff", err)
		}
		var st models.Staff
		if err := json.Unmarshal(raw, &st); err != nil {
			continue
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *Store) FindStaffByMinecraftUsername(ctx context.Context, name string) (*models.Staff, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM staff
		WHERE server_name = $1 AND lower(doc->>'assignedMinecraftUsername') = lower($2)
		LIMIT 1`,
		s.serverName, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("staff for %s: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("find staff", err)
	}
	var st models.Staff
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode staff: %w", err)
	}
	return &st, nil
}

func (s *Store) GetSettings(ctx context.Context) (*models.Settings, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM settings WHERE server_name = $1`, s.serverName).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settings: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, wrapDBErr("get settings", err)
	}
	var settings models.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return &settings, nil
}

func (s *Store) SetLastSync(ctx context.Context, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO server_status (server_name, last_sync) VALUES ($1, $2)
		ON CONFLICT (server_name) DO UPDATE SET last_sync = EXCLUDED.last_sync`,
		s.serverName, at)
	if err != nil {
		return wrapDBErr("set last sync", err)
	}
	return nil
}

func (s *Store) InsertAuditEntry(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, server_name, source, actor, staff_username, action,
			target_uuid, punishment_id, details, created
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, s.serverName, e.Source, e.Actor, nullString(e.StaffUsername),
		e.Action, nullString(e.TargetUUID), nullString(e.PunishmentID),
		details, e.Created)
	if err != nil {
		return wrapDBErr("insert audit entry", err)
	}
	return nil
}

func (s *Store) QueryAuditEntries(ctx context.Context, f storage.AuditFilter) ([]models.AuditEntry, error) {
	q := sq.Select("id", "source", "actor", "staff_username", "action",
		"target_uuid", "punishment_id", "details", "created").
		From("audit_log").
		Where(sq.Eq{"server_name": s.serverName}).
		OrderBy("created DESC").
		PlaceholderFormat(sq.Dollar)

	if f.Source != "" {
		q = q.Where(sq.Eq{"source": f.Source})
	}
	if f.Action != "" {
		q = q.Where(sq.Eq{"action": f.Action})
	}
	if f.StaffUsername != "" {
		q = q.Where(sq.Expr("lower(staff_username) = lower(?)", f.StaffUsername))
	}
	if f.TargetUUID != "" {
		q = q.Where(sq.Eq{"target_uuid": f.TargetUUID})
	}
	if f.PunishmentID != "" {
		q = q.Where(sq.Eq{"punishment_id": f.PunishmentID})
	}
	if !f.Since.IsZero() {
		q = q.Where(sq.GtOrEq{"created": f.Since})
	}
	if !f.Until.IsZero() {
		q = q.Where(sq.LtOrEq{"created": f.Until})
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q = q.Limit(uint64(limit))

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audit query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErr("query audit entries", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var staffUsername, targetUUID, punishmentID sql.NullString
		var details []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.Actor, &staffUsername,
			&e.Action, &targetUUID, &punishmentID, &details, &e.Created); err != nil {
			return nil, wrapDBErr("scan audit entry", err)
		}
		e.StaffUsername = staffUsername.String
		e.TargetUUID = targetUUID.String
		e.PunishmentID = punishmentID.String
		if len(details) > 0 && string(details) != "null" {
			json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
