package minecraft

import (
	"strings"
	"time"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
)

// recentKickWindow bounds how old an unstarted kick may be and still be sent
// on login.
const recentKickWindow = 5 * time.Minute

// wirePunishment is the shape game servers receive for enforceable
// punishments.
type wirePunishment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Ordinal     int    `json:"ordinal"`
	Started     bool   `json:"started"`
	Expiration  *int64 `json:"expiration"` // epoch ms, null = permanent
	Description string `json:"description"`
}

// selectEnforceable computes the punishments a game server must enforce for
// one player: every started-active punishment, plus (per kind, when no
// started-active one exists) the earliest valid unstarted ban and mute, plus
// unstarted kicks issued after kicksSince. At most one ban and one mute are
// ever sent.
func (h *Handlers) selectEnforceable(reg *registry.Registry, player *models.Player, now, kicksSince time.Time) []wirePunishment {
	var out []wirePunishment
	banSent, muteSent := false, false

	for _, pun := range player.Punishments {
		if !punishment.IsActive(pun, now) {
			continue
		}
		kind := reg.TypeKind(pun.TypeOrdinal)
		switch kind {
		case registry.KindBan:
			if banSent {
				continue
			}
			banSent = true
		case registry.KindMute:
			if muteSent {
				continue
			}
			muteSent = true
		}
		out = append(out, h.toWire(reg, pun, now))
	}

	var earliestBan, earliestMute *models.Punishment
	for _, pun := range player.Punishments {
		if pun.Started != nil || !punishment.ValidForExecution(pun, now) {
			continue
		}
		switch reg.TypeKind(pun.TypeOrdinal) {
		case registry.KindBan:
			if !banSent && (earliestBan == nil || pun.Issued.Before(earliestBan.Issued)) {
				earliestBan = pun
			}
		case registry.KindMute:
			if !muteSent && (earliestMute == nil || pun.Issued.Before(earliestMute.Issued)) {
				earliestMute = pun
			}
		case registry.KindKick:
			if !pun.Data.Completed && pun.Issued.After(kicksSince) {
				out = append(out, h.toWire(reg, pun, now))
			}
		}
	}
	if earliestBan != nil {
		out = append(out, h.toWire(reg, earliestBan, now))
	}
	if earliestMute != nil {
		out = append(out, h.toWire(reg, earliestMute, now))
	}
	return out
}

// toWire renders one punishment for the game server. The expiration of an
// unstarted punishment is projected as if it started now; the description is
// the configured player-facing template for dynamic types and the first note
// for manual ones.
func (h *Handlers) toWire(reg *registry.Registry, pun *models.Punishment, now time.Time) wirePunishment {
	w := wirePunishment{
		ID:      pun.ID,
		Ordinal: pun.TypeOrdinal,
		Type:    reg.TypeKind(pun.TypeOrdinal).String(),
		Started: pun.Started != nil,
	}
	if exp := punishment.DisplayExpiry(pun, now); exp != nil {
		ms := exp.UnixMilli()
		w.Expiration = &ms
	}
	w.Description = h.describe(reg, pun)
	return w
}

func (h *Handlers) describe(reg *registry.Registry, pun *models.Punishment) string {
	if pun.TypeOrdinal >= models.OrdinalFirstDynamic {
		if t, ok := reg.ByOrdinal(pun.TypeOrdinal); ok && t.PlayerDescription != "" {
			return strings.ReplaceAll(t.PlayerDescription, "{linked-id}", pun.Data.LinkedBanID)
		}
	}
	if reason := pun.Reason(); reason != "" {
		return reason
	}
	if t, ok := reg.ByOrdinal(pun.TypeOrdinal); ok {
		return t.Name
	}
	return "Punishment"
}
