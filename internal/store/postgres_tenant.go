// internal/store/postgres_tenant.go
package store

import (
	"context"
	"database/sql"
	"time"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/models"
)

const tenantColumns = `id, name, email, phone, company_name, channel_address, calendar_id, status, config, created_at, updated_at`

func (s *PostgresStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, tenantID)
	return scanTenant(row)
}

func (s *PostgresStore) GetTenantByChannelAddress(ctx context.Context, address string) (*models.Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE channel_address = $1`, address)
	return scanTenant(row)
}

func (s *PostgresStore) ListActiveTenants(ctx context.Context) ([]*models.Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE status = $1 ORDER BY id`,
		string(models.TenantActive))
	if err != nil {
		return nil, commonerrors.NewDatabaseError("list tenants", err)
	}
	defer rows.Close()

	var out []*models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertTenant(ctx context.Context, tenant *models.Tenant) error {
	cfg, err := marshalJSON(tenant.Config)
	if err != nil {
		return commonerrors.NewValidationError("encode tenant config: " + err.Error())
	}
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	tenant.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, email, phone, company_name, channel_address, calendar_id, status, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			company_name = EXCLUDED.company_name,
			channel_address = EXCLUDED.channel_address,
			calendar_id = EXCLUDED.calendar_id,
			status = EXCLUDED.status,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at`,
		tenant.ID, tenant.Name, tenant.Email, tenant.Phone, tenant.CompanyName,
		tenant.ChannelAddress, tenant.CalendarID, string(tenant.Status), cfg,
		tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return commonerrors.NewDatabaseError("upsert tenant", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*models.Tenant, error) {
	var t models.Tenant
	var status string
	var cfg []byte
	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Phone, &t.CompanyName,
		&t.ChannelAddress, &t.CalendarID, &status, &cfg, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, commonerrors.NewNotFoundError("tenant", "")
	}
	if err != nil {
		return nil, commonerrors.NewDatabaseError("scan tenant", err)
	}
	t.Status = models.TenantStatus(status)
	if err := unmarshalJSON(cfg, &t.Config); err != nil {
		return nil, commonerrors.NewDatabaseError("decode tenant config", err)
	}
	return &t, nil
}
