package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soochol/deskflow/internal/deskflow"
)

const conversationColumns = `tenant_id, id, status, assigned_to, tags, metadata, version, enqueued_at,
	last_human_touch_at, last_message_at, last_message_text, last_message_sentiment, last_score,
	message_count, created_at, updated_at`

func scanConversation(row rowScanner) (*deskflow.Conversation, error) {
	c := &deskflow.Conversation{}
	var status string
	var tagsJSON, metaJSON []byte
	if err := row.Scan(&c.TenantID, &c.ID, &status, &c.AssignedTo, &tagsJSON, &metaJSON, &c.Version, &c.EnqueuedAt,
		&c.LastHumanTouchAt, &c.LastMessageAt, &c.LastMessageText, &c.LastMessageSentiment, &c.LastScore,
		&c.MessageCount, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.Status = deskflow.ConversationStatus(status)
	if err := unmarshalJSON(tagsJSON, &c.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := unmarshalJSON(metaJSON, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return c, nil
}

// GetConversation retrieves a conversation.
func (d *DB) GetConversation(ctx context.Context, tenantID, id string) (c *deskflow.Conversation, err error) {
	ctx, span := startSpan(ctx, "GetConversation", "SELECT")
	defer func() { endSpan(span, err) }()

	c, err = scanConversation(d.Pool.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND id = $2`, tenantID, id,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %q: %w", id, deskflow.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// CreateConversation inserts a conversation at version 1.
func (d *DB) CreateConversation(ctx context.Context, c *deskflow.Conversation) (err error) {
	ctx, span := startSpan(ctx, "CreateConversation", "INSERT")
	defer func() { endSpan(span, err) }()

	tagsJSON, err := jsonParam(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metaJSON, err := jsonParam(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if c.Version == 0 {
		c.Version = 1
	}

	res, err := d.Pool.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (tenant_id, id) DO NOTHING`,
		c.TenantID, c.ID, string(c.Status), c.AssignedTo, tagsJSON, metaJSON, c.Version, c.EnqueuedAt,
		c.LastHumanTouchAt, c.LastMessageAt, c.LastMessageText, c.LastMessageSentiment, c.LastScore,
		c.MessageCount, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %q: %w", c.ID, deskflow.ErrDuplicate)
	}
	return nil
}

// CompareAndSwapConversation writes the mutable handling fields of c when
// the stored version equals expected, setting c.Version to expected+1.
func (d *DB) CompareAndSwapConversation(ctx context.Context, c *deskflow.Conversation, expected int64) (err error) {
	ctx, span := startSpan(ctx, "CompareAndSwapConversation", "UPDATE")
	defer func() { endSpan(span, err) }()

	tagsJSON, err := jsonParam(c.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	metaJSON, err := jsonParam(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := d.Pool.ExecContext(ctx,
		`UPDATE conversations SET status = $1, assigned_to = $2, tags = $3, metadata = $4, enqueued_at = $5,
		     updated_at = $6, version = $7 + 1
		 WHERE tenant_id = $8 AND id = $9 AND version = $7`,
		string(c.Status), c.AssignedTo, tagsJSON, metaJSON, c.EnqueuedAt, c.UpdatedAt, expected, c.TenantID, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := d.GetConversation(ctx, c.TenantID, c.ID); err != nil {
			return err
		}
		return fmt.Errorf("conversation %q at version %d: %w", c.ID, expected, deskflow.ErrConcurrencyConflict)
	}
	c.Version = expected + 1
	return nil
}

// AppendMessage inserts m and refreshes the conversation's last-message
// fields in one transaction.
func (d *DB) AppendMessage(ctx context.Context, m *deskflow.Message) (err error) {
	ctx, span := startSpan(ctx, "AppendMessage", "INSERT")
	defer func() { endSpan(span, err) }()

	metaJSON, err := jsonParam(m.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (tenant_id, conversation_id, id, role, content, sentiment, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, conversation_id, id) DO NOTHING`,
		m.TenantID, m.ConversationID, m.ID, string(m.Role), m.Content, m.Sentiment, metaJSON, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %q: %w", m.ID, deskflow.ErrDuplicate)
	}

	// Agent replies reset the wait clock; customer messages feed scoring.
	var update string
	var args []any
	switch m.Role {
	case deskflow.RoleAgent:
		update = `UPDATE conversations SET message_count = message_count + 1, last_message_at = $1,
		     last_human_touch_at = $1, updated_at = NOW()
		 WHERE tenant_id = $2 AND id = $3`
		args = []any{m.CreatedAt, m.TenantID, m.ConversationID}
	case deskflow.RoleBot:
		update = `UPDATE conversations SET message_count = message_count + 1, last_message_at = $1, updated_at = NOW()
		 WHERE tenant_id = $2 AND id = $3`
		args = []any{m.CreatedAt, m.TenantID, m.ConversationID}
	default:
		update = `UPDATE conversations SET message_count = message_count + 1, last_message_at = $1,
		     last_message_text = $2, last_message_sentiment = $3, updated_at = NOW()
		 WHERE tenant_id = $4 AND id = $5`
		args = []any{m.CreatedAt, m.Content, m.Sentiment, m.TenantID, m.ConversationID}
	}
	res, err = tx.ExecContext(ctx, update, args...)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %q: %w", m.ConversationID, deskflow.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit most recent messages, oldest first.
func (d *DB) RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) (out []*deskflow.Message, err error) {
	ctx, span := startSpan(ctx, "RecentMessages", "SELECT")
	defer func() { endSpan(span, err) }()

	if limit <= 0 {
		limit = 1000
	}
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT tenant_id, conversation_id, id, role, content, sentiment, metadata, created_at FROM (
		     SELECT * FROM messages WHERE tenant_id = $1 AND conversation_id = $2 ORDER BY seq DESC LIMIT $3
		 ) recent ORDER BY seq`,
		tenantID, conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m := &deskflow.Message{}
		var role string
		var metaJSON []byte
		if err := rows.Scan(&m.TenantID, &m.ConversationID, &m.ID, &role, &m.Content, &m.Sentiment, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = deskflow.MessageRole(role)
		if err := unmarshalJSON(metaJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListConversationsByStatus returns a tenant's conversations in status.
func (d *DB) ListConversationsByStatus(ctx context.Context, tenantID string, status deskflow.ConversationStatus) (out []*deskflow.Conversation, err error) {
	ctx, span := startSpan(ctx, "ListConversationsByStatus", "SELECT")
	defer func() { endSpan(span, err) }()

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE tenant_id = $1 AND status = $2 ORDER BY id`,
		tenantID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetConversationScore caches the last computed priority score.
func (d *DB) SetConversationScore(ctx context.Context, tenantID, id string, score float64) (err error) {
	ctx, span := startSpan(ctx, "SetConversationScore", "UPDATE")
	defer func() { endSpan(span, err) }()

	res, err := d.Pool.ExecContext(ctx,
		`UPDATE conversations SET last_score = $1 WHERE tenant_id = $2 AND id = $3`, score, tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("set score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("conversation %q: %w", id, deskflow.ErrNotFound)
	}
	return nil
}
