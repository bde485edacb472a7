package models

import "strings"

// Punishment type categories.
const (
	CategorySocial         = "Social"
	CategoryGameplay       = "Gameplay"
	CategoryAdministrative = "Administrative"
)

// Severity names. Callers may send the aliases on the right; lookups
// normalise through NormalizeSeverity.
const (
	SeverityLow     = "low"     // aliases: lenient
	SeverityRegular = "regular" // aliases: medium
	SeveritySevere  = "severe"  // aliases: aggravated, high
)

// Offence-level (status) names, derived from accumulated points.
const (
	StatusLow      = "low"
	StatusMedium   = "medium"
	StatusHabitual = "habitual"
)

// NormalizeSeverity maps severity aliases onto the canonical three names.
// Unknown values fall back to regular.
func NormalizeSeverity(s string) string {
	switch strings.ToLower(s) {
	case "low", "lenient":
		return SeverityLow
	case "severe", "aggravated", "high":
		return SeveritySevere
	default:
		return SeverityRegular
	}
}

// DurationEntry is one cell of a duration matrix. Unit is one of seconds,
// minutes, hours, days, weeks, months (30 days). Type, when present on
// dynamic types, hints at the enforcement kind ("ban", "kick", …).
type DurationEntry struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Type  string  `json:"type,omitempty"`
}

// Milliseconds converts the entry to a duration in milliseconds.
func (d DurationEntry) Milliseconds() int64 {
	var unitMs int64
	switch strings.ToLower(d.Unit) {
	case "second", "seconds":
		unitMs = 1000
	case "minute", "minutes":
		unitMs = 60 * 1000
	case "hour", "hours":
		unitMs = 60 * 60 * 1000
	case "day", "days":
		unitMs = 24 * 60 * 60 * 1000
	case "week", "weeks":
		unitMs = 7 * 24 * 60 * 60 * 1000
	case "month", "months":
		unitMs = 30 * 24 * 60 * 60 * 1000
	default:
		unitMs = 1000
	}
	return int64(d.Value * float64(unitMs))
}

// PunishmentTypeConfig is the per-tenant definition of one punishment type.
// Ordinals 0-5 are the hardcoded administrative kinds; >= 6 are tenant-defined.
type PunishmentTypeConfig struct {
	Ordinal        int    `json:"ordinal"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	IsAppealable   bool   `json:"isAppealable,omitempty"`
	IsCustomizable bool   `json:"isCustomizable,omitempty"`
	AppealForm     any    `json:"appealForm,omitempty"`

	// Durations[severity][status]; single-severity types use
	// SingleSeverityDurations[status] instead.
	Durations               map[string]map[string]DurationEntry `json:"durations,omitempty"`
	SingleSeverityDurations map[string]DurationEntry            `json:"singleSeverityDurations,omitempty"`

	Points               map[string]float64 `json:"points,omitempty"` // by severity
	CustomPoints         *float64           `json:"customPoints,omitempty"`
	SingleSeverityPoints *float64           `json:"singleSeverityPoints,omitempty"`

	CanBeAltBlocking             bool `json:"canBeAltBlocking,omitempty"`
	CanBeStatWiping              bool `json:"canBeStatWiping,omitempty"`
	SingleSeverityPunishment     bool `json:"singleSeverityPunishment,omitempty"`
	PermanentUntilUsernameChange bool `json:"permanentUntilUsernameChange,omitempty"`
	PermanentUntilSkinChange     bool `json:"permanentUntilSkinChange,omitempty"`

	StaffDescription  string `json:"staffDescription,omitempty"`
	PlayerDescription string `json:"playerDescription,omitempty"`
}

// DurationFor resolves the duration entry for a (severity, status) pair,
// honouring the single-severity matrix and the legacy "first" offence-level
// key that older settings documents used for the low tier.
func (t *PunishmentTypeConfig) DurationFor(severity, status string) (DurationEntry, bool) {
	lookup := func(m map[string]DurationEntry) (DurationEntry, bool) {
		if m == nil {
			return DurationEntry{}, false
		}
		if e, ok := m[status]; ok {
			return e, true
		}
		if status == StatusLow {
			if e, ok := m["first"]; ok {
				return e, true
			}
		}
		return DurationEntry{}, false
	}
	if t.SingleSeverityDurations != nil {
		return lookup(t.SingleSeverityDurations)
	}
	if t.Durations == nil {
		return DurationEntry{}, false
	}
	return lookup(t.Durations[severity])
}

// Thresholds holds the point boundaries for one category.
type Thresholds struct {
	Medium   float64 `json:"medium"`
	Habitual float64 `json:"habitual"`
}

// StatusThresholds is the per-tenant tier configuration.
type StatusThresholds struct {
	Gameplay Thresholds `json:"gameplay"`
	Social   Thresholds `json:"social"`
}

// Settings is the per-tenant singleton the core consumes. The panel owns the
// rest of the settings document; unknown keys pass through Extra untouched.
type Settings struct {
	PunishmentTypes  []PunishmentTypeConfig `json:"punishmentTypes"`
	StatusThresholds StatusThresholds       `json:"statusThresholds"`
	Extra            map[string]any         `json:"-"`
}

// DefaultStatusThresholds mirrors the panel's seeded defaults.
func DefaultStatusThresholds() StatusThresholds {
	return StatusThresholds{
		Gameplay: Thresholds{Medium: 5, Habitual: 10},
		Social:   Thresholds{Medium: 4, Habitual: 8},
	}
}

// CorePunishmentTypes returns the five hardcoded administrative kinds plus
// kick. These exist even when the settings fetch fails, so the system stays
// usable with degraded configuration.
func CorePunishmentTypes() []PunishmentTypeConfig {
	return []PunishmentTypeConfig{
		{Ordinal: OrdinalKick, Name: "Kick", Category: CategoryAdministrative},
		{Ordinal: OrdinalManualMute, Name: "Manual Mute", Category: CategoryAdministrative, IsAppealable: true},
		{Ordinal: OrdinalManualBan, Name: "Manual Ban", Category: CategoryAdministrative, IsAppealable: true},
		{Ordinal: OrdinalSecurityBan, Name: "Security Ban", Category: CategoryAdministrative, IsAppealable: true},
		{Ordinal: OrdinalLinkedBan, Name: "Linked Ban", Category: CategoryAdministrative, IsAppealable: true},
		{Ordinal: OrdinalBlacklist, Name: "Blacklist", Category: CategoryAdministrative},
	}
}
