// internal/store/postgres_conversation.go
package store

import (
	"context"
	"database/sql"
	"time"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/models"
)

const conversationColumns = `id, tenant_id, lead_id, state, handoff_reason, ignored_reason, needs_followup, started_at, last_activity_at, ended_at`

var terminalStates = []string{
	string(models.ConvInactive),
	string(models.ConvResolved),
	string(models.ConvIgnored),
	string(models.ConvFollowupDone),
}

func (s *PostgresStore) GetConversation(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND id = $2`,
		tenantID, conversationID)
	return scanConversation(row, conversationID)
}

func (s *PostgresStore) GetActiveConversation(ctx context.Context, tenantID, leadID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE tenant_id = $1 AND lead_id = $2 AND state NOT IN ($3, $4, $5, $6)
		 ORDER BY started_at DESC LIMIT 1`,
		tenantID, leadID,
		terminalStates[0], terminalStates[1], terminalStates[2], terminalStates[3])
	return scanConversation(row, leadID)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now().UTC()
	if conv.StartedAt.IsZero() {
		conv.StartedAt = now
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, tenant_id, lead_id, state, handoff_reason, ignored_reason, needs_followup, started_at, last_activity_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		conv.ID, conv.TenantID, conv.LeadID, string(conv.State),
		conv.HandoffReason, conv.IgnoredReason, conv.NeedsFollowup,
		conv.StartedAt, conv.LastActivityAt, nullTime(conv.EndedAt))
	if err != nil {
		return commonerrors.NewDatabaseError("create conversation", err)
	}
	return nil
}

func (s *PostgresStore) UpdateConversation(ctx context.Context, conv *models.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET state = $3, handoff_reason = $4, ignored_reason = $5,
			needs_followup = $6, last_activity_at = $7, ended_at = $8
		WHERE tenant_id = $1 AND id = $2`,
		conv.TenantID, conv.ID, string(conv.State), conv.HandoffReason,
		conv.IgnoredReason, conv.NeedsFollowup, conv.LastActivityAt,
		nullTime(conv.EndedAt))
	if err != nil {
		return commonerrors.NewDatabaseError("update conversation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return commonerrors.NewNotFoundError("conversation", conv.ID)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender, text, media_url, intent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, string(msg.Sender), msg.Text, msg.MediaURL,
		string(msg.Intent), msg.CreatedAt)
	if err != nil {
		return commonerrors.NewDatabaseError("append message", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.sender, m.text, m.media_url, m.intent, m.created_at
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.tenant_id = $1 AND m.conversation_id = $2
		ORDER BY m.created_at DESC LIMIT $3`,
		tenantID, conversationID, limit)
	if err != nil {
		return nil, commonerrors.NewDatabaseError("list messages", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var m models.Message
		var sender, intent string
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &m.Text,
			&m.MediaURL, &intent, &m.CreatedAt); err != nil {
			return nil, commonerrors.NewDatabaseError("scan message", err)
		}
		m.Sender = models.SenderType(sender)
		m.Intent = models.Intent(intent)
		out = append(out, &m)
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListIdleActiveConversations(ctx context.Context, cutoff time.Time) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE state NOT IN ($1, $2, $3, $4) AND last_activity_at < $5`,
		terminalStates[0], terminalStates[1], terminalStates[2], terminalStates[3],
		cutoff)
	if err != nil {
		return nil, commonerrors.NewDatabaseError("list idle conversations", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		c, err := scanConversation(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConversation(row rowScanner, id string) (*models.Conversation, error) {
	var c models.Conversation
	var state string
	var ended sql.NullTime
	err := row.Scan(&c.ID, &c.TenantID, &c.LeadID, &state, &c.HandoffReason,
		&c.IgnoredReason, &c.NeedsFollowup, &c.StartedAt, &c.LastActivityAt, &ended)
	if err == sql.ErrNoRows {
		return nil, commonerrors.NewNotFoundError("conversation", id)
	}
	if err != nil {
		return nil, commonerrors.NewDatabaseError("scan conversation", err)
	}
	c.State = models.ConversationState(state)
	if ended.Valid {
		c.EndedAt = ended.Time
	}
	return &c, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
