// internal/models/tenant.go
package models

import "time"

// TenantStatus represents the lifecycle state of a tenant account.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantInactive  TenantStatus = "inactive"
	TenantSuspended TenantStatus = "suspended"
	TenantTrial     TenantStatus = "trial"
)

// Tenant is an isolated real-estate agent account. Every other entity
// carries the tenant ID; no query crosses tenants.
type Tenant struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Email       string       `json:"email"`
	Phone       string       `json:"phone"`
	CompanyName string       `json:"companyName,omitempty"`
	// ChannelAddress is the dedicated inbound messaging line for this tenant.
	ChannelAddress string       `json:"channelAddress"`
	CalendarID     string       `json:"calendarId,omitempty"`
	Status         TenantStatus `json:"status"`
	Config         TenantConfig `json:"config"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// BusinessHours bounds the slots the scheduler may offer, in the tenant's
// local hours (24h clock, EndHour exclusive).
type BusinessHours struct {
	StartHour int `json:"startHour" mapstructure:"start_hour"`
	EndHour   int `json:"endHour" mapstructure:"end_hour"`
}

// Contains reports whether t falls inside business hours.
func (b BusinessHours) Contains(t time.Time) bool {
	h := t.Hour()
	return h >= b.StartHour && h < b.EndHour
}

// MatchWeights are the per-criterion weights of the matching engine.
// They need not sum to 1; the engine normalizes.
type MatchWeights struct {
	Location  float64 `json:"location" mapstructure:"location"`
	Price     float64 `json:"price" mapstructure:"price"`
	Rooms     float64 `json:"rooms" mapstructure:"rooms"`
	Area      float64 `json:"area" mapstructure:"area"`
	Amenities float64 `json:"amenities" mapstructure:"amenities"`
}

// TenantConfig is the per-tenant runtime configuration. It is loaded once
// per inbound event and passed into component calls, never read as global
// state, so the matcher and scheduler stay pure and testable.
type TenantConfig struct {
	BusinessHours  BusinessHours `json:"businessHours" mapstructure:"business_hours"`
	MatchWeights   MatchWeights  `json:"matchWeights" mapstructure:"match_weights"`
	MatchThreshold float64       `json:"matchThreshold" mapstructure:"match_threshold"`
	// PriceTolerance is the fraction outside the lead's budget over which the
	// price score decays linearly to zero (0.2 = ±20%).
	PriceTolerance float64 `json:"priceTolerance" mapstructure:"price_tolerance"`
	AreaTolerance  float64 `json:"areaTolerance" mapstructure:"area_tolerance"`
	FuzzyLocation  bool    `json:"fuzzyLocation" mapstructure:"fuzzy_location"`

	// Activation predicate for automated conversations.
	RequireNewContact bool     `json:"requireNewContact" mapstructure:"require_new_contact"`
	RequirePortalLink bool     `json:"requirePortalLink" mapstructure:"require_portal_link"`
	NewContactHours   int      `json:"newContactHours" mapstructure:"new_contact_hours"`
	AllowedPortals    []string `json:"allowedPortals" mapstructure:"allowed_portals"`

	// HandoffPhrases trigger the one-way gate to a human operator.
	HandoffPhrases []string `json:"handoffPhrases" mapstructure:"handoff_phrases"`

	// InactivityTimeout moves a Waiting conversation to Inactive.
	InactivityTimeout time.Duration `json:"inactivityTimeout" mapstructure:"inactivity_timeout"`
	// MinSlotLeadTime is how far in the future an offered slot must start.
	MinSlotLeadTime time.Duration `json:"minSlotLeadTime" mapstructure:"min_slot_lead_time"`
}

// DefaultTenantConfig returns the configuration applied at tenant onboarding
// until the agent customizes it.
func DefaultTenantConfig() TenantConfig {
	return TenantConfig{
		BusinessHours:  BusinessHours{StartHour: 9, EndHour: 18},
		MatchWeights:   MatchWeights{Location: 1, Price: 1, Rooms: 1, Area: 1, Amenities: 1},
		MatchThreshold: 0.5,
		PriceTolerance: 0.20,
		AreaTolerance:  0.15,

		RequireNewContact: true,
		RequirePortalLink: false,
		NewContactHours:   24,
		AllowedPortals:    []string{"zonaprop", "argenprop", "mercadolibre", "properati", "remax"},

		HandoffPhrases: []string{
			"hablar con un humano",
			"falar com um humano",
			"hablar con una persona",
			"falar com atendente",
			"human agent",
		},

		InactivityTimeout: 24 * time.Hour,
		MinSlotLeadTime:   2 * time.Hour,
	}
}
