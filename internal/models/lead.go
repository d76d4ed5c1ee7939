// internal/models/lead.go
package models

import "time"

// LeadStatus follows the qualification funnel.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadConverted LeadStatus = "converted"
	LeadArchived  LeadStatus = "archived"
)

// Preferences are the structured search criteria extracted from the
// conversation. Zero values mean "not stated".
type Preferences struct {
	BudgetMin    float64  `json:"budgetMin,omitempty"`
	BudgetMax    float64  `json:"budgetMax,omitempty"`
	Locations    []string `json:"locations,omitempty"`
	Bedrooms     int      `json:"bedrooms,omitempty"`
	AreaM2       float64  `json:"areaM2,omitempty"`
	PropertyType string   `json:"propertyType,omitempty"`
	Amenities    []string `json:"amenities,omitempty"`
}

// HasBudget reports whether the lead stated any budget bound.
func (p Preferences) HasBudget() bool {
	return p.BudgetMin > 0 || p.BudgetMax > 0
}

// Merge overlays non-zero fields of other onto p and returns the result.
func (p Preferences) Merge(other Preferences) Preferences {
	out := p
	if other.BudgetMin > 0 {
		out.BudgetMin = other.BudgetMin
	}
	if other.BudgetMax > 0 {
		out.BudgetMax = other.BudgetMax
	}
	if len(other.Locations) > 0 {
		out.Locations = other.Locations
	}
	if other.Bedrooms > 0 {
		out.Bedrooms = other.Bedrooms
	}
	if other.AreaM2 > 0 {
		out.AreaM2 = other.AreaM2
	}
	if other.PropertyType != "" {
		out.PropertyType = other.PropertyType
	}
	if len(other.Amenities) > 0 {
		out.Amenities = other.Amenities
	}
	return out
}

// Lead is a prospective client engaging over messaging. Leads are never
// deleted, only archived.
type Lead struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Name  string `json:"name,omitempty"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`

	Preferences Preferences `json:"preferences"`

	// Score is the 0-100 qualification score.
	Score        int            `json:"score"`
	ScoreFactors map[string]int `json:"scoreFactors,omitempty"`

	Status LeadStatus `json:"status"`
	Source string     `json:"source,omitempty"`
	// SourceListingRef is an external portal listing reference extracted from
	// the first message, used to bias the initial property search.
	SourceListingRef string `json:"sourceListingRef,omitempty"`

	NeedsFollowup bool `json:"needsFollowup"`

	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastContactAt time.Time `json:"lastContactAt"`
}
