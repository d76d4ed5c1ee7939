// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"corretor-hub/internal/common/logger"
)

// PostgresStore implements every store interface on a single connection
// pool. All queries are tenant-keyed; no statement reads rows across
// tenants except the reminder due-scan and the inactivity sweep, which
// return tenant-tagged rows for downstream scoping.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// NewPostgresStores wires one PostgresStore behind the Stores bundle.
func NewPostgresStores(db *sql.DB, log logger.Logger) *Stores {
	s := NewPostgresStore(db, log)
	return &Stores{
		Tenants:       s,
		Leads:         s,
		Conversations: s,
		Inventory:     s,
		Matches:       s,
		Appointments:  s,
		Reminders:     s,
	}
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Error("rollback failed", map[string]interface{}{"error": rbErr})
		}
		return err
	}
	return tx.Commit()
}

func marshalJSON(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
