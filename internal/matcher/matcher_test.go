// internal/matcher/matcher_test.go
package matcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corretor-hub/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func testConfig() models.TenantConfig {
	cfg := models.DefaultTenantConfig()
	cfg.FuzzyLocation = true
	return cfg
}

func testLead(prefs models.Preferences) *models.Lead {
	return &models.Lead{
		ID:          "lead-1",
		TenantID:    "tenant-a",
		Phone:       "+5511999990000",
		Preferences: prefs,
	}
}

func testProperty(id string, mutate func(*models.Property)) *models.Property {
	p := &models.Property{
		ID:           id,
		TenantID:     "tenant-a",
		Title:        "Apartamento 2 dorm Palermo",
		Neighborhood: "Palermo",
		City:         "Buenos Aires",
		Bedrooms:     2,
		AreaM2:       70,
		Price:        200000,
		Amenities:    []string{"pool", "gym"},
		Status:       models.PropertyAvailable,
		ScrapedAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(p)
	}
	return p
}

// ==========================
// Core Matching Tests
// ==========================

func TestMatch_FullMatchScoresOne(t *testing.T) {
	eng := New()
	lead := testLead(models.Preferences{
		Locations: []string{"Palermo"},
		BudgetMax: 250000,
		Bedrooms:  2,
		AreaM2:    70,
		Amenities: []string{"pool", "gym"},
	})

	out := eng.Match(lead, []*models.Property{testProperty("p1", nil)}, testConfig())

	require.Len(t, out, 1)
	assert.InDelta(t, 1.0, out[0].Score, 0.001)
}

func TestMatch_NoStatedPreferencesMatchesNothing(t *testing.T) {
	eng := New()
	lead := testLead(models.Preferences{})

	out := eng.Match(lead, []*models.Property{testProperty("p1", nil)}, testConfig())

	assert.Empty(t, out)
}

func TestMatch_CrossTenantCandidatesSkipped(t *testing.T) {
	eng := New()
	lead := testLead(models.Preferences{Locations: []string{"Palermo"}})
	foreign := testProperty("p1", func(p *models.Property) { p.TenantID = "tenant-b" })

	out := eng.Match(lead, []*models.Property{foreign}, testConfig())

	assert.Empty(t, out)
}

func TestMatch_BelowThresholdExcluded(t *testing.T) {
	eng := New()
	// Only location stated; a non-matching neighborhood scores 0.
	lead := testLead(models.Preferences{Locations: []string{"Recoleta"}})
	p := testProperty("p1", func(p *models.Property) {
		p.Neighborhood = "Caballito"
		p.City = "Buenos Aires"
		p.Address = "Av. Rivadavia 5000"
	})

	out := eng.Match(lead, []*models.Property{p}, testConfig())

	assert.Empty(t, out)
}

func TestMatch_OrderingAndTieBreak(t *testing.T) {
	eng := New()
	lead := testLead(models.Preferences{
		Locations: []string{"Palermo"},
		BudgetMax: 250000,
	})

	best := testProperty("best", nil)
	// Over budget, lower score.
	pricier := testProperty("pricier", func(p *models.Property) { p.Price = 270000 })
	// Same score as best but scraped later, should rank first.
	fresher := testProperty("fresher", func(p *models.Property) {
		p.ScrapedAt = best.ScrapedAt.Add(48 * time.Hour)
	})

	out := eng.Match(lead, []*models.Property{pricier, best, fresher}, testConfig())

	require.Len(t, out, 3)
	assert.Equal(t, "fresher", out[0].Property.ID)
	assert.Equal(t, "best", out[1].Property.ID)
	assert.Equal(t, "pricier", out[2].Property.ID)
}

func TestMatch_WeightRenormalization(t *testing.T) {
	eng := New()
	cfg := testConfig()
	cfg.MatchWeights = models.MatchWeights{Location: 3, Price: 1, Rooms: 1, Area: 1, Amenities: 1}

	// Only location and price stated: active weights 3 and 1.
	lead := testLead(models.Preferences{
		Locations: []string{"Palermo"},
		BudgetMax: 100000, // property at 200000 is far over tolerance, price scores 0
	})

	out := eng.Match(lead, []*models.Property{testProperty("p1", nil)}, cfg)

	require.Len(t, out, 1)
	// (3*1 + 1*0) / 4 = 0.75
	assert.InDelta(t, 0.75, out[0].Score, 0.001)
}

// ==========================
// Criterion Scoring Tests
// ==========================

func TestPriceScore(t *testing.T) {
	tests := []struct {
		name      string
		prefs     models.Preferences
		price     float64
		tolerance float64
		expected  float64
	}{
		{"inside budget", models.Preferences{BudgetMin: 100000, BudgetMax: 250000}, 200000, 0.2, 1},
		{"at max budget", models.Preferences{BudgetMax: 200000}, 200000, 0.2, 1},
		{"10% over with 20% tolerance", models.Preferences{BudgetMax: 200000}, 220000, 0.2, 0.5},
		{"at tolerance boundary", models.Preferences{BudgetMax: 200000}, 240000, 0.2, 0},
		{"far over budget", models.Preferences{BudgetMax: 200000}, 400000, 0.2, 0},
		{"under min budget decays too", models.Preferences{BudgetMin: 200000}, 180000, 0.2, 0.5},
		{"missing price data", models.Preferences{BudgetMax: 200000}, 0, 0.2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, priceScore(tt.prefs, tt.price, tt.tolerance), 0.001)
		})
	}
}

func TestPriceScore_DecayIsMonotonic(t *testing.T) {
	prefs := models.Preferences{BudgetMax: 200000}
	prev := 1.0
	for price := 200000.0; price <= 250000; price += 5000 {
		s := priceScore(prefs, price, 0.2)
		assert.LessOrEqual(t, s, prev, "score must not increase as price grows (price=%v)", price)
		prev = s
	}
}

func TestAreaScore(t *testing.T) {
	assert.InDelta(t, 1.0, areaScore(70, 70, 0.15), 0.001)
	assert.InDelta(t, 0.0, areaScore(70, 0, 0.15), 0.001, "missing area data scores zero")
	// 10.5 m2 off of 70 is exactly the 15% tolerance.
	assert.InDelta(t, 0.0, areaScore(70, 80.5, 0.15), 0.001)
	// Half the tolerance away scores 0.5.
	assert.InDelta(t, 0.5, areaScore(70, 75.25, 0.15), 0.001)
}

func TestRoomScore(t *testing.T) {
	assert.Equal(t, 1.0, roomScore(2, 2))
	assert.Equal(t, 1.0, roomScore(2, 3), "more rooms than asked is fine")
	assert.InDelta(t, 0.5, roomScore(4, 2), 0.001)
	assert.Equal(t, 0.0, roomScore(2, 0), "missing room data scores zero")
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, jaccard([]string{"Pool", "gym"}, []string{"pool", "GYM"}), 0.001)
	assert.InDelta(t, 1.0/3.0, jaccard([]string{"pool", "gym"}, []string{"pool", "garage"}), 0.001)
	assert.Equal(t, 0.0, jaccard([]string{"pool"}, nil), "no amenity data scores zero")
}

func TestLocationScore_FuzzyToggle(t *testing.T) {
	p := testProperty("p1", func(p *models.Property) {
		p.Neighborhood = "Palermo Soho"
		p.City = "Buenos Aires"
	})

	assert.Equal(t, 0.0, locationScore([]string{"palermo"}, p, false))
	assert.Equal(t, 1.0, locationScore([]string{"palermo"}, p, true))
	assert.Equal(t, 1.0, locationScore([]string{"Buenos Aires"}, p, false), "exact city match")
}

func TestToMatches(t *testing.T) {
	lead := testLead(models.Preferences{Locations: []string{"Palermo"}})
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	scored := []Scored{{Property: testProperty("p1", nil), Score: 0.8}}

	out := ToMatches(lead, scored, now)

	require.Len(t, out, 1)
	assert.Equal(t, "tenant-a", out[0].TenantID)
	assert.Equal(t, "lead-1", out[0].LeadID)
	assert.Equal(t, "p1", out[0].PropertyID)
	assert.Equal(t, 0.8, out[0].Score)
	assert.Equal(t, now, out[0].ComputedAt)
}
