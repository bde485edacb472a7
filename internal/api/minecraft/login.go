package minecraft

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/modl-gg/panel-core/internal/ipinfo"
	"github.com/modl-gg/panel-core/internal/jobs"
	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/notify"
	"github.com/modl-gg/panel-core/internal/storage"
)

type loginRequest struct {
	MinecraftUUID string       `json:"minecraftUuid"`
	Username      string       `json:"username"`
	IPAddress     string       `json:"ipAddress"`
	SkinHash      string       `json:"skinHash"`
	IPInfo        *ipinfo.Info `json:"ipInfo"`
	ServerName    string       `json:"serverName"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MinecraftUUID, validation.Required),
		validation.Field(&r.Username, validation.Required),
	)
}

// loginOutcome is what the upsert learned about this login.
type loginOutcome struct {
	player          *models.Player
	ipWasNew        bool
	usernameChanged bool
	skinChanged     bool
	voided          []string
	notifications   []models.Notification
}

func (h *Handlers) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	store := h.store(c)
	ctx := c.Request.Context()
	now := h.now()

	info := ipinfo.Info{}
	if req.IPInfo != nil {
		info = *req.IPInfo
	} else if req.IPAddress != "" {
		info = h.ips.Lookup(req.IPAddress)
	}

	outcome, err := h.upsertLogin(ctx, store, req, info, now)
	if err != nil {
		h.fail(c, err)
		return
	}

	if len(outcome.voided) > 0 {
		trigger := "username_change"
		if !outcome.usernameChanged {
			trigger = "skin_change"
		}
		h.engine.AuditAutoUnban(ctx, store, req.MinecraftUUID, outcome.voided, trigger)
	}
	if outcome.ipWasNew {
		h.scheduleLinking(store, req.MinecraftUUID)
	}
	h.metrics.Logins.WithLabelValues(store.ServerName()).Inc()

	reg := h.registries.Get(ctx, store)
	active := h.selectEnforceable(reg, outcome.player, now, now.Add(-recentKickWindow))
	if active == nil {
		active = []wirePunishment{}
	}
	notifications := outcome.notifications
	if notifications == nil {
		notifications = []models.Notification{}
	}
	ok(c, gin.H{
		"activePunishments":    active,
		"pendingNotifications": notifications,
	})
}

// upsertLogin creates or updates the player document for a login and applies
// the login-time side effects (username/IP history, session state, auto
// unbans, notification drain) in one aggregate write.
func (h *Handlers) upsertLogin(ctx context.Context, store storage.Store, req loginRequest, info ipinfo.Info, now time.Time) (*loginOutcome, error) {
	_, err := store.GetPlayer(ctx, req.MinecraftUUID)
	if errors.Is(err, storage.ErrNotFound) {
		fresh := newPlayer(req, info, now)
		if err := store.CreatePlayer(ctx, fresh); err != nil {
			if !errors.Is(err, storage.ErrConflict) {
				return nil, err
			}
			// Lost the create race; fall through to the update path.
		} else {
			return &loginOutcome{player: fresh, ipWasNew: req.IPAddress != ""}, nil
		}
	} else if err != nil {
		return nil, err
	}

	out := &loginOutcome{}
	reg := h.registries.Get(ctx, store)
	err = store.UpdatePlayer(ctx, req.MinecraftUUID, func(p *models.Player) error {
		if !strings.EqualFold(p.CurrentUsername(), req.Username) {
			out.usernameChanged = p.CurrentUsername() != ""
			p.Usernames = append(p.Usernames, models.UsernameEntry{Username: req.Username, Date: now})
		}
		if req.SkinHash != "" && p.Data.LastSkinHash != "" && p.Data.LastSkinHash != req.SkinHash {
			out.skinChanged = true
		}
		if req.SkinHash != "" {
			p.Data.LastSkinHash = req.SkinHash
		}

		if req.IPAddress != "" {
			if entry := p.FindIP(req.IPAddress); entry != nil {
				entry.Logins = append(entry.Logins, now)
				applyIPInfo(entry, info)
			} else {
				out.ipWasNew = true
				fresh := models.IPEntry{
					IPAddress:  req.IPAddress,
					FirstLogin: now,
					Logins:     []time.Time{now},
				}
				applyIPInfo(&fresh, info)
				p.IPAddresses = append(p.IPAddresses, fresh)
			}
		}

		// A relogin with no recorded disconnect means the previous session
		// never closed; fold it into playtime before starting the new one.
		if p.Data.IsOnline && p.Data.CurrentSessionStart != nil {
			p.Data.TotalPlaytime += now.Sub(*p.Data.CurrentSessionStart).Milliseconds()
		}

		t := now
		if p.Data.FirstJoin == nil {
			p.Data.FirstJoin = &t
		}
		p.Data.LastConnect = &t
		p.Data.IsOnline = true
		p.Data.CurrentSessionStart = &t
		if req.ServerName != "" {
			p.Data.LastServer = req.ServerName
		}

		out.voided = h.engine.AutoUnban(reg, p, out.usernameChanged, out.skinChanged)
		out.notifications = notify.DrainInPlace(p)
		out.player = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newPlayer(req loginRequest, info ipinfo.Info, now time.Time) *models.Player {
	t := now
	p := &models.Player{
		MinecraftUUID: req.MinecraftUUID,
		Usernames:     []models.UsernameEntry{{Username: req.Username, Date: now}},
		Data: models.PlayerData{
			FirstJoin:           &t,
			LastConnect:         &t,
			IsOnline:            true,
			CurrentSessionStart: &t,
			LastServer:          req.ServerName,
			LastSkinHash:        req.SkinHash,
		},
	}
	if req.IPAddress != "" {
		entry := models.IPEntry{
			IPAddress:  req.IPAddress,
			FirstLogin: now,
			Logins:     []time.Time{now},
		}
		applyIPInfo(&entry, info)
		p.IPAddresses = append(p.IPAddresses, entry)
	}
	return p
}

func applyIPInfo(entry *models.IPEntry, info ipinfo.Info) {
	if info.CountryCode != "" {
		entry.Country = info.CountryCode
	}
	if info.Region != "" {
		entry.Region = info.Region
	}
	if info.Org != "" {
		entry.ASN = info.Org
	}
	entry.Proxy = entry.Proxy || info.Proxy
	entry.Hosting = entry.Hosting || info.Hosting
}

// scheduleLinking queues the account-link scan and, on new links, linked-ban
// propagation. Failures stay in the background.
func (h *Handlers) scheduleLinking(store storage.Store, playerUUID string) {
	h.runner.Submit(jobs.Job{
		Name:  "account-linking",
		Store: store,
		Run: func(ctx context.Context, s storage.Store) {
			linked, err := h.linker.LinkOnLogin(ctx, s, playerUUID)
			if err != nil {
				h.log.Error().Err(err).
					Str("server", s.ServerName()).
					Str("player", playerUUID).
					Msg("account linking failed")
				return
			}
			if len(linked) == 0 {
				return
			}
			h.metrics.AccountsLinked.WithLabelValues(s.ServerName()).Add(float64(len(linked)))
			if issued := h.propagator.PropagateAll(ctx, s, playerUUID, linked); issued > 0 {
				h.metrics.LinkedBansPropagated.WithLabelValues(s.ServerName()).Add(float64(issued))
			}
		},
	})
}
