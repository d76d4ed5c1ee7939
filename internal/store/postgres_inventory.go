// internal/store/postgres_inventory.go
package store

import (
	"context"
	"database/sql"
	"time"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/models"
)

const propertyColumns = `id, tenant_id, title, property_type, address, neighborhood, city, bedrooms, area_m2, price, amenities, source_url, source_id, scraped_at, status, created_at, updated_at`

func (s *PostgresStore) GetProperty(ctx context.Context, tenantID, propertyID string) (*models.Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE tenant_id = $1 AND id = $2`,
		tenantID, propertyID)
	return scanProperty(row, propertyID)
}

func (s *PostgresStore) GetPropertyBySourceID(ctx context.Context, tenantID, sourceID string) (*models.Property, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+propertyColumns+` FROM properties WHERE tenant_id = $1 AND source_id = $2`,
		tenantID, sourceID)
	return scanProperty(row, sourceID)
}

func (s *PostgresStore) UpsertProperty(ctx context.Context, prop *models.Property) (bool, error) {
	amenities, err := marshalJSON(prop.Amenities)
	if err != nil {
		return false, commonerrors.NewValidationError("encode amenities: " + err.Error())
	}
	now := time.Now().UTC()
	if prop.CreatedAt.IsZero() {
		prop.CreatedAt = now
	}
	prop.UpdatedAt = now

	var inserted bool
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO properties (id, tenant_id, title, property_type, address, neighborhood, city, bedrooms, area_m2, price, amenities, source_url, source_id, scraped_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (tenant_id, source_id) DO UPDATE SET
			title = EXCLUDED.title,
			property_type = EXCLUDED.property_type,
			address = EXCLUDED.address,
			neighborhood = EXCLUDED.neighborhood,
			city = EXCLUDED.city,
			bedrooms = EXCLUDED.bedrooms,
			area_m2 = EXCLUDED.area_m2,
			price = EXCLUDED.price,
			amenities = EXCLUDED.amenities,
			source_url = EXCLUDED.source_url,
			scraped_at = EXCLUDED.scraped_at,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0)`,
		prop.ID, prop.TenantID, prop.Title, prop.PropertyType, prop.Address,
		prop.Neighborhood, prop.City, prop.Bedrooms, prop.AreaM2, prop.Price,
		amenities, prop.SourceURL, prop.SourceID, prop.ScrapedAt,
		string(prop.Status), prop.CreatedAt, prop.UpdatedAt)
	if err := row.Scan(&prop.ID, &inserted); err != nil {
		return false, commonerrors.NewDatabaseError("upsert property", err)
	}
	return !inserted, nil
}

func (s *PostgresStore) ListActiveProperties(ctx context.Context, tenantID string) ([]*models.Property, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+propertyColumns+` FROM properties
		 WHERE tenant_id = $1 AND status = $2
		 ORDER BY scraped_at DESC`,
		tenantID, string(models.PropertyAvailable))
	if err != nil {
		return nil, commonerrors.NewDatabaseError("list properties", err)
	}
	defer rows.Close()

	var out []*models.Property
	for rows.Next() {
		p, err := scanProperty(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ReplaceMatches(ctx context.Context, tenantID, leadID string, matches []*models.Match) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM matches WHERE tenant_id = $1 AND lead_id = $2`,
			tenantID, leadID); err != nil {
			return commonerrors.NewDatabaseError("clear matches", err)
		}
		for _, m := range matches {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO matches (tenant_id, lead_id, property_id, score, computed_at)
				VALUES ($1, $2, $3, $4, $5)`,
				tenantID, leadID, m.PropertyID, m.Score, m.ComputedAt); err != nil {
				return commonerrors.NewDatabaseError("insert match", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListMatches(ctx context.Context, tenantID, leadID string) ([]*models.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, lead_id, property_id, score, computed_at
		FROM matches WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY score DESC`,
		tenantID, leadID)
	if err != nil {
		return nil, commonerrors.NewDatabaseError("list matches", err)
	}
	defer rows.Close()

	var out []*models.Match
	for rows.Next() {
		var m models.Match
		if err := rows.Scan(&m.TenantID, &m.LeadID, &m.PropertyID, &m.Score, &m.ComputedAt); err != nil {
			return nil, commonerrors.NewDatabaseError("scan match", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InvalidateMatchesForProperty(ctx context.Context, tenantID, propertyID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM matches WHERE tenant_id = $1 AND property_id = $2`,
		tenantID, propertyID)
	if err != nil {
		return commonerrors.NewDatabaseError("invalidate matches", err)
	}
	return nil
}

func scanProperty(row rowScanner, id string) (*models.Property, error) {
	var p models.Property
	var status string
	var amenities []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.Title, &p.PropertyType, &p.Address,
		&p.Neighborhood, &p.City, &p.Bedrooms, &p.AreaM2, &p.Price, &amenities,
		&p.SourceURL, &p.SourceID, &p.ScrapedAt, &status, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, commonerrors.NewNotFoundError("property", id)
	}
	if err != nil {
		return nil, commonerrors.NewDatabaseError("scan property", err)
	}
	p.Status = models.PropertyStatus(status)
	if err := unmarshalJSON(amenities, &p.Amenities); err != nil {
		return nil, commonerrors.NewDatabaseError("decode amenities", err)
	}
	return &p, nil
}
