// Package status derives a player's social and gameplay point totals and
// offence tiers from their active punishments. The output feeds duration
// selection for new dynamic punishments and the profile view.
package status

import (
	"time"

	"github.com/modl-gg/panel-core/internal/models"
	"github.com/modl-gg/panel-core/internal/punishment"
	"github.com/modl-gg/panel-core/internal/registry"
)

// PlayerStatus is the derived per-category standing.
type PlayerStatus struct {
	SocialPoints   float64 `json:"socialPoints"`
	GameplayPoints float64 `json:"gameplayPoints"`
	SocialTier     string  `json:"social"`
	GameplayTier   string  `json:"gameplay"`
}

// Calculate folds the player's punishments into point totals and tiers.
// Inactive punishments contribute zero.
func Calculate(p *models.Player, reg *registry.Registry, now time.Time) PlayerStatus {
	var social, gameplay float64
	for _, pun := range p.Punishments {
		if !punishment.IsActive(pun, now) {
			continue
		}
		t, ok := reg.ByOrdinal(pun.TypeOrdinal)
		if !ok {
			continue
		}
		pts := pointsFor(&t, pun)
		switch t.Category {
		case models.CategorySocial:
			social += pts
		case models.CategoryGameplay:
			gameplay += pts
		}
	}

	thresholds := reg.Thresholds()
	return PlayerStatus{
		SocialPoints:   social,
		GameplayPoints: gameplay,
		SocialTier:     tierFor(social, thresholds.Social),
		GameplayTier:   tierFor(gameplay, thresholds.Gameplay),
	}
}

// RelevantTier picks the tier the duration lookup uses for a punishment
// type: Social types use the social tier, Gameplay the gameplay tier, and
// Administrative the worse of the two.
func RelevantTier(s PlayerStatus, category string) string {
	switch category {
	case models.CategorySocial:
		return s.SocialTier
	case models.CategoryGameplay:
		return s.GameplayTier
	default:
		return maxTier(s.SocialTier, s.GameplayTier)
	}
}

// pointsFor resolves the point value of one punishment:
// customPoints ?? singleSeverityPoints ?? points[severity].
func pointsFor(t *models.PunishmentTypeConfig, pun *models.Punishment) float64 {
	if t.CustomPoints != nil {
		return *t.CustomPoints
	}
	if t.SingleSeverityPoints != nil {
		return *t.SingleSeverityPoints
	}
	if t.Points == nil {
		return 0
	}
	severity := models.NormalizeSeverity(pun.Data.Severity)
	if v, ok := t.Points[severity]; ok {
		return v
	}
	// Settings written by older panels key points by the alias spellings.
	for alias, canonical := range map[string]string{
		"lenient": models.SeverityLow, "medium": models.SeverityRegular,
		"aggravated": models.SeveritySevere, "high": models.SeveritySevere,
	} {
		if canonical == severity {
			if v, ok := t.Points[alias]; ok {
				return v
			}
		}
	}
	return 0
}

func tierFor(points float64, t models.Thresholds) string {
	switch {
	case t.Habitual > 0 && points >= t.Habitual:
		return models.StatusHabitual
	case t.Medium > 0 && points >= t.Medium:
		return models.StatusMedium
	default:
		return models.StatusLow
	}
}

var tierRank = map[string]int{
	models.StatusLow:      0,
	models.StatusMedium:   1,
	models.StatusHabitual: 2,
}

func maxTier(a, b string) string {
	if tierRank[a] >= tierRank[b] {
		return a
	}
	return b
}
