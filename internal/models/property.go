// internal/models/property.go
package models

import "time"

// PropertyStatus tracks listing availability.
type PropertyStatus string

const (
	PropertyAvailable PropertyStatus = "available"
	PropertyReserved  PropertyStatus = "reserved"
	PropertySold      PropertyStatus = "sold"
	PropertyRented    PropertyStatus = "rented"
	PropertyInactive  PropertyStatus = "inactive"
)

// Property is a tenant-scoped listing, upserted by the external scraper.
type Property struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	Title        string `json:"title"`
	PropertyType string `json:"propertyType,omitempty"`

	Address      string `json:"address,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city"`

	Bedrooms int     `json:"bedrooms,omitempty"`
	AreaM2   float64 `json:"areaM2,omitempty"`
	Price    float64 `json:"price"`

	Amenities []string `json:"amenities,omitempty"`

	SourceURL string `json:"sourceUrl,omitempty"`
	// SourceID is the portal listing reference; (tenantId, sourceId) is unique
	// so scraper re-runs upsert instead of duplicating.
	SourceID string `json:"sourceId,omitempty"`
	// ScrapedAt is the source freshness marker; match ties break on it.
	ScrapedAt time.Time `json:"scrapedAt"`

	Status    PropertyStatus `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Match is the derived, recomputable lead/property score. It is not
// authoritative: either side changing invalidates it.
type Match struct {
	TenantID   string    `json:"tenantId"`
	LeadID     string    `json:"leadId"`
	PropertyID string    `json:"propertyId"`
	Score      float64   `json:"score"`
	ComputedAt time.Time `json:"computedAt"`
}
