// internal/matcher/matcher.go
package matcher

import (
	"sort"
	"strings"
	"time"

	"corretor-hub/internal/models"
)

// Engine scores leads against inventory. It is stateless and pure: the
// same lead, candidates and config always produce the same ordering. It
// never mutates Lead or Property records.
type Engine struct{}

func New() *Engine {
	return &Engine{}
}

// Scored pairs a property with its computed score.
type Scored struct {
	Property *models.Property
	Score    float64
}

// Match scores the candidates against the lead and returns those at or
// above the tenant threshold, best first. Ties break on the freshest
// scraped-at timestamp.
//
// Criteria the lead never stated are excluded and the remaining weights
// renormalized; criteria the lead stated but the property lacks data for
// contribute 0. A lead with no stated preferences matches nothing.
func (e *Engine) Match(lead *models.Lead, candidates []*models.Property, cfg models.TenantConfig) []Scored {
	var out []Scored
	for _, p := range candidates {
		if p.TenantID != lead.TenantID {
			continue
		}
		score, ok := e.score(lead.Preferences, p, cfg)
		if !ok || score < cfg.MatchThreshold {
			continue
		}
		out = append(out, Scored{Property: p, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Property.ScrapedAt.After(out[j].Property.ScrapedAt)
	})
	return out
}

// ToMatches converts scored results into persistable Match rows.
func ToMatches(lead *models.Lead, scored []Scored, now time.Time) []*models.Match {
	out := make([]*models.Match, len(scored))
	for i, s := range scored {
		out[i] = &models.Match{
			TenantID:   lead.TenantID,
			LeadID:     lead.ID,
			PropertyID: s.Property.ID,
			Score:      s.Score,
			ComputedAt: now,
		}
	}
	return out
}

// score returns the weighted criteria sum, or ok=false when the lead
// stated no scorable preference at all.
func (e *Engine) score(prefs models.Preferences, p *models.Property, cfg models.TenantConfig) (float64, bool) {
	w := cfg.MatchWeights

	type criterion struct {
		weight float64
		value  float64
	}
	var active []criterion

	if len(prefs.Locations) > 0 {
		active = append(active, criterion{w.Location, locationScore(prefs.Locations, p, cfg.FuzzyLocation)})
	}
	if prefs.HasBudget() {
		active = append(active, criterion{w.Price, priceScore(prefs, p.Price, cfg.PriceTolerance)})
	}
	if prefs.Bedrooms > 0 {
		active = append(active, criterion{w.Rooms, roomScore(prefs.Bedrooms, p.Bedrooms)})
	}
	if prefs.AreaM2 > 0 {
		active = append(active, criterion{w.Area, areaScore(prefs.AreaM2, p.AreaM2, cfg.AreaTolerance)})
	}
	if len(prefs.Amenities) > 0 {
		active = append(active, criterion{w.Amenities, jaccard(prefs.Amenities, p.Amenities)})
	}

	if len(active) == 0 {
		return 0, false
	}

	var sum, totalWeight float64
	for _, c := range active {
		sum += c.weight * c.value
		totalWeight += c.weight
	}
	if totalWeight == 0 {
		return 0, false
	}
	return sum / totalWeight, true
}

// locationScore is exact neighborhood/city matching, or substring
// matching when fuzzy matching is enabled.
func locationScore(wanted []string, p *models.Property, fuzzy bool) float64 {
	for _, loc := range wanted {
		l := strings.ToLower(strings.TrimSpace(loc))
		if l == "" {
			continue
		}
		neighborhood := strings.ToLower(p.Neighborhood)
		city := strings.ToLower(p.City)
		if l == neighborhood || l == city {
			return 1
		}
		if fuzzy && (strings.Contains(neighborhood, l) || strings.Contains(city, l) ||
			strings.Contains(strings.ToLower(p.Address), l)) {
			return 1
		}
	}
	return 0
}

// priceScore is 1 inside the budget and decays linearly to 0 at
// tolerance beyond the violated bound.
func priceScore(prefs models.Preferences, price, tolerance float64) float64 {
	if price <= 0 {
		return 0
	}
	min, max := prefs.BudgetMin, prefs.BudgetMax
	if max > 0 && price > max {
		return decay((price - max) / max, tolerance)
	}
	if min > 0 && price < min {
		return decay((min - price) / min, tolerance)
	}
	return 1
}

// areaScore works like priceScore around the single requested area.
func areaScore(wanted, actual, tolerance float64) float64 {
	if actual <= 0 {
		return 0
	}
	diff := actual - wanted
	if diff < 0 {
		diff = -diff
	}
	return decay(diff/wanted, tolerance)
}

// decay maps a relative overshoot to [0,1]: 0 overshoot scores 1,
// tolerance or more scores 0.
func decay(overshoot, tolerance float64) float64 {
	if overshoot <= 0 {
		return 1
	}
	if tolerance <= 0 || overshoot >= tolerance {
		return 0
	}
	return 1 - overshoot/tolerance
}

// roomScore is 1 at or above the requested count and degrades by how
// many rooms are missing.
func roomScore(wanted, actual int) float64 {
	if actual <= 0 {
		return 0
	}
	if actual >= wanted {
		return 1
	}
	return float64(actual) / float64(wanted)
}

// jaccard is set intersection over union, case-insensitive.
func jaccard(wanted, available []string) float64 {
	if len(available) == 0 {
		return 0
	}
	wantSet := make(map[string]bool, len(wanted))
	for _, a := range wanted {
		wantSet[strings.ToLower(strings.TrimSpace(a))] = true
	}
	haveSet := make(map[string]bool, len(available))
	for _, a := range available {
		haveSet[strings.ToLower(strings.TrimSpace(a))] = true
	}

	intersection := 0
	for a := range wantSet {
		if haveSet[a] {
			intersection++
		}
	}
	union := len(wantSet) + len(haveSet) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
