package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// UsernameEntry records a name the player connected with.
type UsernameEntry struct {
	Username string    `json:"username"`
	Date     time.Time `json:"date"`
}

// IPEntry is one address in a player's IP history together with the
// enrichment from the IP-info lookup and every login seen on it.
type IPEntry struct {
	IPAddress  string      `json:"ipAddress"`
	Country    string      `json:"country,omitempty"`
	Region     string      `json:"region,omitempty"`
	ASN        string      `json:"asn,omitempty"`
	Proxy      bool        `json:"proxy,omitempty"`
	Hosting    bool        `json:"hosting,omitempty"`
	FirstLogin time.Time   `json:"firstLogin"`
	Logins     []time.Time `json:"logins"`
}

// LastLogin returns the most recent login recorded on this address.
func (e *IPEntry) LastLogin() time.Time {
	if len(e.Logins) == 0 {
		return e.FirstLogin
	}
	last := e.Logins[0]
	for _, t := range e.Logins[1:] {
		if t.After(last) {
			last = t
		}
	}
	return last
}

// Notification is one entry of a player's pending-notification buffer.
// Legacy documents stored bare strings; those unmarshal with Legacy set and
// are dropped wholesale on the first drain.
type Notification struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Legacy bool `json:"-"`
}

// UnmarshalJSON accepts the object shape and the legacy bare-string shape.
func (n *Notification) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*n = Notification{Message: s, Legacy: true}
		return nil
	}
	type plain Notification
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("notification: %w", err)
	}
	*n = Notification(p)
	return nil
}

// PlayerData carries the per-player key/value map with typed accessors for
// the keys the core interprets. Unknown keys survive round trips in Extra.
type PlayerData struct {
	FirstJoin               *time.Time
	LastConnect             *time.Time
	LastDisconnect          *time.Time
	LastSeen                *time.Time
	LastServer              string
	IsOnline                bool
	CurrentSessionStart     *time.Time
	TotalPlaytime           int64 // ms
	LastSkinHash            string
	LinkedAccounts          []string
	LastLinkedAccountUpdate *time.Time

	Extra map[string]any
}

const (
	playerKeyFirstJoin               = "firstJoin"
	playerKeyLastConnect             = "lastConnect"
	playerKeyLastDisconnect          = "lastDisconnect"
	playerKeyLastSeen                = "lastSeen"
	playerKeyLastServer              = "lastServer"
	playerKeyIsOnline                = "isOnline"
	playerKeyCurrentSessionStart     = "currentSessionStart"
	playerKeyTotalPlaytime           = "totalPlaytime"
	playerKeyLastSkinHash            = "lastSkinHash"
	playerKeyLinkedAccounts          = "linkedAccounts"
	playerKeyLastLinkedAccountUpdate = "lastLinkedAccountUpdate"
)

// MarshalJSON writes the canonical object shape.
func (d PlayerData) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Extra)+11)
	for k, v := range d.Extra {
		m[k] = v
	}
	putTime := func(key string, t *time.Time) {
		if t != nil {
			m[key] = t.UTC().Format(time.RFC3339Nano)
		}
	}
	putTime(playerKeyFirstJoin, d.FirstJoin)
	putTime(playerKeyLastConnect, d.LastConnect)
	putTime(playerKeyLastDisconnect, d.LastDisconnect)
	putTime(playerKeyLastSeen, d.LastSeen)
	putTime(playerKeyCurrentSessionStart, d.CurrentSessionStart)
	putTime(playerKeyLastLinkedAccountUpdate, d.LastLinkedAccountUpdate)
	if d.LastServer != "" {
		m[playerKeyLastServer] = d.LastServer
	}
	m[playerKeyIsOnline] = d.IsOnline
	m[playerKeyTotalPlaytime] = d.TotalPlaytime
	if d.LastSkinHash != "" {
		m[playerKeyLastSkinHash] = d.LastSkinHash
	}
	if len(d.LinkedAccounts) > 0 {
		m[playerKeyLinkedAccounts] = d.LinkedAccounts
	}
	return json.Marshal(m)
}

// UnmarshalJSON accepts the object shape and the legacy pair-array shape.
func (d *PlayerData) UnmarshalJSON(b []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(b, &raw); err != nil {
		var pairs [][2]json.RawMessage
		if err2 := json.Unmarshal(b, &pairs); err2 != nil {
			return fmt.Errorf("player data: %w", err)
		}
		for _, pair := range pairs {
			var key string
			if err2 := json.Unmarshal(pair[0], &key); err2 != nil {
				continue
			}
			var val any
			if err2 := json.Unmarshal(pair[1], &val); err2 != nil {
				continue
			}
			raw[key] = val
		}
	}
	*d = PlayerData{}
	for k, v := range raw {
		switch k {
		case playerKeyFirstJoin:
			d.FirstJoin = parseTimeValue(v)
		case playerKeyLastConnect:
			d.LastConnect = parseTimeValue(v)
		case playerKeyLastDisconnect:
			d.LastDisconnect = parseTimeValue(v)
		case playerKeyLastSeen:
			d.LastSeen = parseTimeValue(v)
		case playerKeyLastServer:
			d.LastServer = cast.ToString(v)
		case playerKeyIsOnline:
			d.IsOnline = cast.ToBool(v)
		case playerKeyCurrentSessionStart:
			d.CurrentSessionStart = parseTimeValue(v)
		case playerKeyTotalPlaytime:
			d.TotalPlaytime = cast.ToInt64(v)
		case playerKeyLastSkinHash:
			d.LastSkinHash = cast.ToString(v)
		case playerKeyLinkedAccounts:
			d.LinkedAccounts = cast.ToStringSlice(v)
		case playerKeyLastLinkedAccountUpdate:
			d.LastLinkedAccountUpdate = parseTimeValue(v)
		default:
			if d.Extra == nil {
				d.Extra = map[string]any{}
			}
			d.Extra[k] = v
		}
	}
	return nil
}

// HasLinkedAccount reports whether uuid is already linked.
func (d *PlayerData) HasLinkedAccount(uuid string) bool {
	for _, a := range d.LinkedAccounts {
		if a == uuid {
			return true
		}
	}
	return false
}

// AddLinkedAccount inserts uuid if absent and reports whether it was added.
func (d *PlayerData) AddLinkedAccount(uuid string) bool {
	if d.HasLinkedAccount(uuid) {
		return false
	}
	d.LinkedAccounts = append(d.LinkedAccounts, uuid)
	return true
}

// Player is the aggregate root keyed by Minecraft UUID. It exclusively owns
// its punishments, notes and pending notifications; linked accounts are a
// symmetric relation resolved by lookup, never ownership.
type Player struct {
	MinecraftUUID        string          `json:"minecraftUuid"`
	Usernames            []UsernameEntry `json:"usernames"`
	IPAddresses          []IPEntry       `json:"ipAddresses"`
	Notes                []Note          `json:"notes,omitempty"`
	Punishments          []*Punishment   `json:"punishments"`
	PendingNotifications []Notification  `json:"pendingNotifications,omitempty"`
	Data                 PlayerData      `json:"data"`
}

// playerAlias exists so UnmarshalJSON can use the default decoding while
// still honouring the legacy "ipList" field name.
type playerAlias Player

type playerWire struct {
	playerAlias
	LegacyIPList []IPEntry `json:"ipList,omitempty"`
}

// UnmarshalJSON reads a player document, accepting the legacy "ipList" key
// when "ipAddresses" is absent. Writes always use "ipAddresses".
func (p *Player) UnmarshalJSON(b []byte) error {
	var w playerWire
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("player: %w", err)
	}
	*p = Player(w.playerAlias)
	if len(p.IPAddresses) == 0 && len(w.LegacyIPList) > 0 {
		p.IPAddresses = w.LegacyIPList
	}
	return nil
}

// CurrentUsername returns the most recently recorded username.
func (p *Player) CurrentUsername() string {
	if len(p.Usernames) == 0 {
		return ""
	}
	return p.Usernames[len(p.Usernames)-1].Username
}

// HasUsername reports whether the player ever used the name (case-insensitive).
func (p *Player) HasUsername(name string) bool {
	for _, u := range p.Usernames {
		if strings.EqualFold(u.Username, name) {
			return true
		}
	}
	return false
}

// FindIP returns the IP history entry for addr, or nil.
func (p *Player) FindIP(addr string) *IPEntry {
	for i := range p.IPAddresses {
		if p.IPAddresses[i].IPAddress == addr {
			return &p.IPAddresses[i]
		}
	}
	return nil
}

// FindPunishment returns the punishment with the given id, or nil.
func (p *Player) FindPunishment(id string) *Punishment {
	for _, pun := range p.Punishments {
		if pun.ID == id {
			return pun
		}
	}
	return nil
}
