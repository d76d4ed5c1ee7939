// internal/ingest/schema.go
package ingest

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	commonerrors "corretor-hub/internal/common/errors"
)

// listingSchema validates scraper payloads before anything touches the
// inventory.
const listingSchema = `{
	"type": "object",
	"required": ["tenant_id", "source_id", "title", "city", "price"],
	"properties": {
		"tenant_id":     {"type": "string", "minLength": 1},
		"source_id":     {"type": "string", "minLength": 1},
		"title":         {"type": "string", "minLength": 1},
		"property_type": {"type": "string"},
		"address":       {"type": "string"},
		"neighborhood":  {"type": "string"},
		"city":          {"type": "string", "minLength": 1},
		"bedrooms":      {"type": "integer", "minimum": 0},
		"area_m2":       {"type": "number", "minimum": 0},
		"price":         {"type": "number", "minimum": 0},
		"amenities":     {"type": "array", "items": {"type": "string"}},
		"source_url":    {"type": "string"},
		"scraped_at":    {"type": "string"},
		"status":        {"type": "string", "enum": ["available", "reserved", "sold", "rented", "inactive"]}
	}
}`

var listingSchemaLoader = gojsonschema.NewStringLoader(listingSchema)

// ListingPayload is the validated scraper upsert.
type ListingPayload struct {
	TenantID     string   `json:"tenant_id"`
	SourceID     string   `json:"source_id"`
	Title        string   `json:"title"`
	PropertyType string   `json:"property_type"`
	Address      string   `json:"address"`
	Neighborhood string   `json:"neighborhood"`
	City         string   `json:"city"`
	Bedrooms     int      `json:"bedrooms"`
	AreaM2       float64  `json:"area_m2"`
	Price        float64  `json:"price"`
	Amenities    []string `json:"amenities"`
	SourceURL    string   `json:"source_url"`
	ScrapedAt    string   `json:"scraped_at"`
	Status       string   `json:"status"`
}

// ParseListing validates raw payload bytes against the listing schema
// and decodes them.
func ParseListing(raw []byte) (*ListingPayload, error) {
	result, err := gojsonschema.Validate(listingSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, commonerrors.NewValidationError("listing payload unreadable: " + err.Error())
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, commonerrors.NewValidationError("listing payload invalid: " + strings.Join(problems, "; "))
	}

	var payload ListingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, commonerrors.NewValidationError("listing payload decode: " + err.Error())
	}
	return &payload, nil
}
