package punishment

import (
	"sort"
	"time"

	"github.com/modl-gg/panel-core/internal/models"
)

// Effective is the computed state of a punishment after folding its
// modifications in issued order over the initial (active, expires) pair.
type Effective struct {
	Active      bool
	Expiry      *time.Time // nil = permanent / not yet started
	Pardoned    bool
	AltBlocking bool
	Wiping      bool
}

// EffectiveState folds the punishment's modifications in issued order.
// Pardons are irrevocable: a later duration change can re-open an expired
// punishment but never a pardoned one.
func EffectiveState(p *models.Punishment, now time.Time) Effective {
	eff := Effective{
		Active:      p.Data.Active == nil || *p.Data.Active,
		AltBlocking: p.Data.AltBlocking,
		Wiping:      p.Data.Wiping,
	}
	if p.Data.Expires != nil {
		t := *p.Data.Expires
		eff.Expiry = &t
	}

	mods := make([]models.Modification, len(p.Modifications))
	copy(mods, p.Modifications)
	sort.SliceStable(mods, func(i, j int) bool {
		return mods[i].Issued.Before(mods[j].Issued)
	})

	for _, m := range mods {
		switch {
		case m.Type.Pardoning():
			eff.Active = false
			eff.Pardoned = true
		case m.Type.DurationChange() && m.EffectiveDuration != nil:
			d := *m.EffectiveDuration
			if d <= 0 {
				eff.Expiry = nil
				eff.Active = true
			} else {
				expiry := m.Issued.Add(time.Duration(d) * time.Millisecond)
				eff.Expiry = &expiry
				eff.Active = expiry.After(now)
			}
		case m.Type == models.ModSetAltBlockingTrue:
			eff.AltBlocking = true
		case m.Type == models.ModSetAltBlockingFalse:
			eff.AltBlocking = false
		case m.Type == models.ModSetWipingTrue:
			eff.Wiping = true
		case m.Type == models.ModSetWipingFalse:
			eff.Wiping = false
		}
	}

	if eff.Pardoned {
		eff.Active = false
	}
	if eff.Expiry != nil && !eff.Expiry.After(now) {
		eff.Active = false
	}
	return eff
}

// IsActive reports whether the punishment is in force right now: it has
// started, its effective state is active, and it has not expired.
func IsActive(p *models.Punishment, now time.Time) bool {
	if p.Started == nil {
		return false
	}
	eff := EffectiveState(p, now)
	if !eff.Active {
		return false
	}
	return eff.Expiry == nil || eff.Expiry.After(now)
}

// ValidForExecution reports whether the punishment should still be carried
// out by the game server: not explicitly inactive, not pardoned and not
// expired, even if not yet started.
func ValidForExecution(p *models.Punishment, now time.Time) bool {
	eff := EffectiveState(p, now)
	if eff.Pardoned || !eff.Active {
		return false
	}
	return eff.Expiry == nil || eff.Expiry.After(now)
}

// DisplayExpiry computes the expiry a client should display. Started
// punishments use the effective expiry; unstarted ones are projected as if
// they started now.
func DisplayExpiry(p *models.Punishment, now time.Time) *time.Time {
	if p.Started != nil {
		eff := EffectiveState(p, now)
		return eff.Expiry
	}
	if p.Data.Duration == nil || *p.Data.Duration < 0 {
		return nil
	}
	t := now.Add(time.Duration(*p.Data.Duration) * time.Millisecond)
	return &t
}
