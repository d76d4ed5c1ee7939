// internal/store/postgres_lead.go
package store

import (
	"context"
	"database/sql"
	"time"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/models"
)

const leadColumns = `id, tenant_id, name, phone, email, preferences, score, score_factors, status, source, source_listing_ref, needs_followup, created_at, updated_at, last_contact_at`

func (s *PostgresStore) GetLead(ctx context.Context, tenantID, leadID string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE tenant_id = $1 AND id = $2`,
		tenantID, leadID)
	return scanLead(row, leadID)
}

func (s *PostgresStore) GetLeadByContact(ctx context.Context, tenantID, contact string) (*models.Lead, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE tenant_id = $1 AND phone = $2`,
		tenantID, contact)
	return scanLead(row, contact)
}

func (s *PostgresStore) CreateLead(ctx context.Context, lead *models.Lead) error {
	prefs, err := marshalJSON(lead.Preferences)
	if err != nil {
		return commonerrors.NewValidationError("encode preferences: " + err.Error())
	}
	factors, err := marshalJSON(lead.ScoreFactors)
	if err != nil {
		return commonerrors.NewValidationError("encode score factors: " + err.Error())
	}
	now := time.Now().UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = now
	}
	lead.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO leads (id, tenant_id, name, phone, email, preferences, score, score_factors, status, source, source_listing_ref, needs_followup, created_at, updated_at, last_contact_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		lead.ID, lead.TenantID, lead.Name, lead.Phone, lead.Email, prefs,
		lead.Score, factors, string(lead.Status), lead.Source, lead.SourceListingRef,
		lead.NeedsFollowup, lead.CreatedAt, lead.UpdatedAt, lead.LastContactAt)
	if err != nil {
		return commonerrors.NewDatabaseError("create lead", err)
	}
	return nil
}

func (s *PostgresStore) UpdateLead(ctx context.Context, lead *models.Lead) error {
	prefs, err := marshalJSON(lead.Preferences)
	if err != nil {
		return commonerrors.NewValidationError("encode preferences: " + err.Error())
	}
	factors, err := marshalJSON(lead.ScoreFactors)
	if err != nil {
		return commonerrors.NewValidationError("encode score factors: " + err.Error())
	}
	lead.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET name = $3, phone = $4, email = $5, preferences = $6,
			score = $7, score_factors = $8, status = $9, source = $10,
			source_listing_ref = $11, needs_followup = $12, updated_at = $13,
			last_contact_at = $14
		WHERE tenant_id = $1 AND id = $2`,
		lead.TenantID, lead.ID, lead.Name, lead.Phone, lead.Email, prefs,
		lead.Score, factors, string(lead.Status), lead.Source,
		lead.SourceListingRef, lead.NeedsFollowup, lead.UpdatedAt, lead.LastContactAt)
	if err != nil {
		return commonerrors.NewDatabaseError("update lead", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewNotFoundError("lead", lead.ID)
	}
	return nil
}

func scanLead(row rowScanner, id string) (*models.Lead, error) {
	var l models.Lead
	var status string
	var prefs, factors []byte
	err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.Phone, &l.Email, &prefs,
		&l.Score, &factors, &status, &l.Source, &l.SourceListingRef,
		&l.NeedsFollowup, &l.CreatedAt, &l.UpdatedAt, &l.LastContactAt)
	if err == sql.ErrNoRows {
		return nil, commonerrors.NewNotFoundError("lead", id)
	}
	if err != nil {
		return nil, commonerrors.NewDatabaseError("scan lead", err)
	}
	l.Status = models.LeadStatus(status)
	if err := unmarshalJSON(prefs, &l.Preferences); err != nil {
		return nil, commonerrors.NewDatabaseError("decode preferences", err)
	}
	if err := unmarshalJSON(factors, &l.ScoreFactors); err != nil {
		return nil, commonerrors.NewDatabaseError("decode score factors", err)
	}
	return &l, nil
}
