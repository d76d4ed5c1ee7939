// internal/ingest/ingest.go
package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/models"
	"corretor-hub/internal/store"
)

// Service applies scraper listing payloads to the tenant inventory. The
// core never scrapes; this is the receiving side of the ingestion
// contract.
type Service struct {
	stores *store.Stores
	index  *PropertyIndex
	logger logger.Logger
}

// NewService creates the ingestion service. index may be nil when the
// search index is disabled.
func NewService(stores *store.Stores, index *PropertyIndex, log logger.Logger) *Service {
	return &Service{
		stores: stores,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "ingest"}),
	}
}

// HandleListing validates and upserts one scraped listing. Unknown
// tenants are rejected fail-closed. A changed listing invalidates the
// derived matches that reference it.
func (s *Service) HandleListing(ctx context.Context, raw []byte) error {
	payload, err := ParseListing(raw)
	if err != nil {
		return err
	}

	tenant, err := s.stores.Tenants.GetTenant(ctx, payload.TenantID)
	if err != nil {
		if commonerrors.IsNotFound(err) {
			s.logger.Warn("dropping listing for unknown tenant", map[string]interface{}{
				"tenantId": payload.TenantID,
				"sourceId": payload.SourceID,
			})
			return nil
		}
		return err
	}

	prop := payloadToProperty(payload)
	if prop.ID == "" {
		prop.ID = uuid.New().String()
	}

	updated, err := s.stores.Inventory.UpsertProperty(ctx, prop)
	if err != nil {
		return err
	}

	// Matches against the previous version of the listing are stale.
	if updated {
		if err := s.stores.Matches.InvalidateMatchesForProperty(ctx, tenant.ID, prop.ID); err != nil {
			s.logger.Error("match invalidation failed", map[string]interface{}{
				"tenantId":   tenant.ID,
				"propertyId": prop.ID,
				"error":      err,
			})
		}
	}

	if s.index != nil {
		if prop.Status == models.PropertyAvailable {
			if err := s.index.Index(ctx, prop); err != nil {
				s.logger.Warn("search index write failed", map[string]interface{}{
					"propertyId": prop.ID,
					"error":      err,
				})
			}
		} else {
			if err := s.index.Remove(ctx, tenant.ID, prop.ID); err != nil {
				s.logger.Warn("search index removal failed", map[string]interface{}{
					"propertyId": prop.ID,
					"error":      err,
				})
			}
		}
	}

	s.logger.Info("listing ingested", map[string]interface{}{
		"tenantId":   tenant.ID,
		"propertyId": prop.ID,
		"sourceId":   prop.SourceID,
		"updated":    updated,
	})
	return nil
}

func payloadToProperty(p *ListingPayload) *models.Property {
	status := models.PropertyStatus(p.Status)
	if status == "" {
		status = models.PropertyAvailable
	}

	scrapedAt := time.Now().UTC()
	if p.ScrapedAt != "" {
		if t, err := time.Parse(time.RFC3339, p.ScrapedAt); err == nil {
			scrapedAt = t
		}
	}

	return &models.Property{
		TenantID:     p.TenantID,
		Title:        p.Title,
		PropertyType: p.PropertyType,
		Address:      p.Address,
		Neighborhood: p.Neighborhood,
		City:         p.City,
		Bedrooms:     p.Bedrooms,
		AreaM2:       p.AreaM2,
		Price:        p.Price,
		Amenities:    p.Amenities,
		SourceURL:    p.SourceURL,
		SourceID:     p.SourceID,
		ScrapedAt:    scrapedAt,
		Status:       status,
	}
}
