// internal/orchestrator/activation_test.go
package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corretor-hub/internal/models"
)

// ==========================
// Portal Link Extraction
// ==========================

func TestExtractPortalLinks(t *testing.T) {
	tests := []struct {
		name    string
		message string
		portal  string
	}{
		{"zonaprop", "hola vi esto https://www.zonaprop.com.ar/propiedades/depto-palermo-51234567-depa.html", "zonaprop"},
		{"argenprop", "me interesa https://argenprop.com/departamento-en-venta-9876543", "argenprop"},
		{"mercadolibre inmuebles", "mira inmuebles.mercadolibre.com.ar/MLA-112233445-casa", "mercadolibre"},
		{"properati", "https://properati.com.ar/detalle/445566", "properati"},
		{"remax", "www.remax.com.ar/listing/778899", "remax"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := ExtractPortalLinks(tt.message)
			require.Len(t, links, 1)
			assert.Equal(t, tt.portal, links[0].Portal)
			assert.True(t, len(links[0].URL) > 0)
		})
	}
}

func TestExtractPortalLinks_NoLink(t *testing.T) {
	assert.Empty(t, ExtractPortalLinks("hola, busco depto en palermo"))
	assert.Empty(t, ExtractPortalLinks("mira https://example.com/listing/123"))
}

func TestExtractPortalLinks_SchemelessURLGetsScheme(t *testing.T) {
	links := ExtractPortalLinks("zonaprop.com.ar/propiedades/depto-1234567-x.html")
	require.Len(t, links, 1)
	assert.Contains(t, links[0].URL, "https://")
}

func TestExtractListingRef(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://www.zonaprop.com.ar/propiedades/depto-palermo-51234567-depa.html", "zonaprop_51234567"},
		{"https://www.zonaprop.com.ar/propiedades/depto-palermo-51234567.html", "zonaprop_51234567"},
		{"https://argenprop.com/departamento-en-venta/9876543", "argenprop_9876543"},
		{"https://inmuebles.mercadolibre.com.ar/MLA-112233445-casa", "mercadolibre_112233445"},
		{"https://www.remax.com.ar/listing/778899", "remax_778899"},
		{"https://example.com/nothing", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ExtractListingRef(tt.url), tt.url)
	}
}

// ==========================
// Activation Predicate
// ==========================

func TestDecideActivation(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	portalMsg := "hola https://www.zonaprop.com.ar/propiedades/depto-1234567-x.html"
	plainMsg := "hola, busco depto"

	base := models.DefaultTenantConfig()

	tests := []struct {
		name         string
		mutate       func(*models.TenantConfig)
		message      string
		lastActivity time.Time
		activate     bool
		reason       string
	}{
		{
			name:     "default requires new contact, never seen",
			message:  plainMsg,
			activate: true,
			reason:   "criteria_met",
		},
		{
			name:         "default requires new contact, seen recently",
			message:      plainMsg,
			lastActivity: now.Add(-2 * time.Hour),
			activate:     false,
			reason:       "not_new_contact",
		},
		{
			name:         "contact reactivates after the window",
			message:      plainMsg,
			lastActivity: now.Add(-48 * time.Hour),
			activate:     true,
			reason:       "criteria_met",
		},
		{
			name: "portal link required and present",
			mutate: func(c *models.TenantConfig) {
				c.RequireNewContact = false
				c.RequirePortalLink = true
			},
			message:  portalMsg,
			activate: true,
			reason:   "criteria_met",
		},
		{
			name: "portal link required and missing",
			mutate: func(c *models.TenantConfig) {
				c.RequireNewContact = false
				c.RequirePortalLink = true
			},
			message:  plainMsg,
			activate: false,
			reason:   "no_portal_link",
		},
		{
			name: "both required, link present but contact known",
			mutate: func(c *models.TenantConfig) {
				c.RequirePortalLink = true
			},
			message:      portalMsg,
			lastActivity: now.Add(-time.Hour),
			activate:     false,
			reason:       "not_new_contact",
		},
		{
			name: "both required and satisfied",
			mutate: func(c *models.TenantConfig) {
				c.RequirePortalLink = true
			},
			message:  portalMsg,
			activate: true,
			reason:   "criteria_met",
		},
		{
			name: "no restrictions always activates",
			mutate: func(c *models.TenantConfig) {
				c.RequireNewContact = false
			},
			message:      plainMsg,
			lastActivity: now.Add(-time.Minute),
			activate:     true,
			reason:       "no_restrictions",
		},
		{
			name: "disallowed portal does not count as link",
			mutate: func(c *models.TenantConfig) {
				c.RequireNewContact = false
				c.RequirePortalLink = true
				c.AllowedPortals = []string{"argenprop"}
			},
			message:  portalMsg,
			activate: false,
			reason:   "no_portal_link",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			d := decideActivation(cfg, tt.message, tt.lastActivity, now)
			assert.Equal(t, tt.activate, d.Activate)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecideActivation_KeepsLinksForAudit(t *testing.T) {
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	cfg := models.DefaultTenantConfig()

	d := decideActivation(cfg, "https://www.zonaprop.com.ar/propiedades/depto-7654321-x.html", time.Time{}, now)

	assert.True(t, d.HasPortalLink)
	require.Len(t, d.PortalLinks, 1)
	assert.Equal(t, "zonaprop", d.PortalLinks[0].Portal)
}
