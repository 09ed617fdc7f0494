package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xhad/concierge/internal/models"
)

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type statsDelta struct {
	conversations, messages, fallbacks, escalations int
}

func bumpStats(ctx context.Context, db execer, tenantID uuid.UUID, d statsDelta) error {
	_, err := db.Exec(ctx, `
		INSERT INTO daily_stats (tenant_id, date, total_conversations, total_messages, fallback_count, escalations)
		VALUES ($1, CURRENT_DATE, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, date) DO UPDATE SET
			total_conversations = daily_stats.total_conversations + EXCLUDED.total_conversations,
			total_messages = daily_stats.total_messages + EXCLUDED.total_messages,
			fallback_count = daily_stats.fallback_count + EXCLUDED.fallback_count,
			escalations = daily_stats.escalations + EXCLUDED.escalations`,
		tenantID, d.conversations, d.messages, d.fallbacks, d.escalations)
	if err != nil {
		return fmt.Errorf("failed to update daily stats: %w", err)
	}
	return nil
}

func (vs *VectorStore) CreateConversation(ctx context.Context, tenantID uuid.UUID, channel models.Channel) (models.Conversation, error) {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	c := models.Conversation{ID: uuid.New(), TenantID: tenantID, Channel: channel, Status: models.ConversationActive}
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id, tenant_id, channel, status) VALUES ($1, $2, $3, $4)
		RETURNING started_at`,
		c.ID, c.TenantID, c.Channel, c.Status,
	).Scan(&c.StartedAt)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to insert conversation: %w", err)
	}

	if err := bumpStats(ctx, tx, tenantID, statsDelta{conversations: 1}); err != nil {
		return models.Conversation{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return c, nil
}

// GetConversation fetches a conversation only if it belongs to tenantID.
func (vs *VectorStore) GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (models.Conversation, error) {
	var c models.Conversation
	err := vs.pool.QueryRow(ctx, `
		SELECT id, tenant_id, channel, status, started_at, ended_at
		FROM conversations WHERE id = $1 AND tenant_id = $2`,
		conversationID, tenantID,
	).Scan(&c.ID, &c.TenantID, &c.Channel, &c.Status, &c.StartedAt, &c.EndedAt)
	if err != nil {
		return models.Conversation{}, notFound(err, "conversation")
	}
	return c, nil
}

// ListConversations returns up to limit conversations of the tenant, newest
// first, optionally bounded by start time.
func (vs *VectorStore) ListConversations(ctx context.Context, tenantID uuid.UUID, from, to *time.Time, limit int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := vs.pool.Query(ctx, `
		SELECT id, tenant_id, channel, status, started_at, ended_at
		FROM conversations
		WHERE tenant_id = $1
			AND ($2::timestamptz IS NULL OR started_at >= $2)
			AND ($3::timestamptz IS NULL OR started_at <= $3)
		ORDER BY started_at DESC
		LIMIT $4`,
		tenantID, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Channel, &c.Status, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// AddMessage appends a message to a conversation of the same tenant.
func (vs *VectorStore) AddMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	msg, err = insertMessage(ctx, tx, msg)
	if err != nil {
		return models.Message{}, err
	}
	if err := bumpStats(ctx, tx, msg.TenantID, statsDelta{messages: 1}); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Message{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return msg, nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, msg models.Message) (models.Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.Content != nil {
		clean := sanitizeUTF8(*msg.Content)
		msg.Content = &clean
	}

	// The tenant check in the SELECT keeps a message from landing in another
	// tenant's conversation.
	err := tx.QueryRow(ctx, `
		INSERT INTO messages (id, tenant_id, conversation_id, role, content, redacted_content, token_count)
		SELECT $1, $2, c.id, $4, $5, $6, $7
		FROM conversations c WHERE c.id = $3 AND c.tenant_id = $2
		RETURNING created_at`,
		msg.ID, msg.TenantID, msg.ConversationID, msg.Role, msg.Content, msg.RedactedContent, msg.TokenCount,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return models.Message{}, notFound(err, "conversation")
	}
	return msg, nil
}

// TurnRecord is everything needed to close one exchange.
type TurnRecord struct {
	TenantID       uuid.UUID
	ConversationID uuid.UUID
	UserMessageID  uuid.UUID
	AssistantText  *string
	TokenCount     *int
	Outcome        models.Outcome
	Confidence     float64
	ChunkIDs       []string
}

// RecordTurn stores the assistant message, the turn linking it to the user
// message and the day's counters in one transaction.
func (vs *VectorStore) RecordTurn(ctx context.Context, rec TurnRecord) (models.Turn, error) {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return models.Turn{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	assistant, err := insertMessage(ctx, tx, models.Message{
		TenantID:       rec.TenantID,
		ConversationID: rec.ConversationID,
		Role:           models.RoleAssistant,
		Content:        rec.AssistantText,
		TokenCount:     rec.TokenCount,
	})
	if err != nil {
		return models.Turn{}, err
	}

	chunkIDs := rec.ChunkIDs
	if chunkIDs == nil {
		chunkIDs = []string{}
	}

	turn := models.Turn{
		ID:                 uuid.New(),
		TenantID:           rec.TenantID,
		ConversationID:     rec.ConversationID,
		UserMessageID:      rec.UserMessageID,
		AssistantMessageID: assistant.ID,
		Outcome:            rec.Outcome,
		Confidence:         rec.Confidence,
		RetrievedChunkIDs:  chunkIDs,
	}

	// Both messages must sit in the turn's conversation.
	err = tx.QueryRow(ctx, `
		INSERT INTO turns (id, tenant_id, conversation_id, user_message_id, assistant_message_id, outcome, confidence, retrieved_chunk_ids)
		SELECT $1, $2, $3, m.id, $5, $6, $7, $8
		FROM messages m
		WHERE m.id = $4 AND m.conversation_id = $3 AND m.tenant_id = $2 AND m.role = 'user'
		RETURNING created_at`,
		turn.ID, turn.TenantID, turn.ConversationID, turn.UserMessageID, turn.AssistantMessageID,
		turn.Outcome, turn.Confidence, turn.RetrievedChunkIDs,
	).Scan(&turn.CreatedAt)
	if err != nil {
		return models.Turn{}, notFound(err, "user message")
	}

	delta := statsDelta{messages: 1}
	switch rec.Outcome {
	case models.OutcomeFallback:
		delta.fallbacks = 1
	case models.OutcomeEscalate:
		delta.escalations = 1
	}
	if err := bumpStats(ctx, tx, rec.TenantID, delta); err != nil {
		return models.Turn{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Turn{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return turn, nil
}

func (vs *VectorStore) GetConversationDetail(ctx context.Context, tenantID, conversationID uuid.UUID) (models.ConversationDetail, error) {
	conv, err := vs.GetConversation(ctx, tenantID, conversationID)
	if err != nil {
		return models.ConversationDetail{}, err
	}
	detail := models.ConversationDetail{Conversation: conv, Messages: []models.Message{}, Turns: []models.Turn{}}

	msgRows, err := vs.pool.Query(ctx, `
		SELECT id, tenant_id, conversation_id, role, content, redacted_content, token_count, created_at
		FROM messages WHERE conversation_id = $1 AND tenant_id = $2
		ORDER BY created_at, id`, conversationID, tenantID)
	if err != nil {
		return models.ConversationDetail{}, fmt.Errorf("failed to query messages: %w", err)
	}
	for msgRows.Next() {
		var m models.Message
		if err := msgRows.Scan(&m.ID, &m.TenantID, &m.ConversationID, &m.Role, &m.Content, &m.RedactedContent, &m.TokenCount, &m.CreatedAt); err != nil {
			msgRows.Close()
			return models.ConversationDetail{}, fmt.Errorf("failed to scan message: %w", err)
		}
		detail.Messages = append(detail.Messages, m)
	}
	msgRows.Close()
	if err := msgRows.Err(); err != nil {
		return models.ConversationDetail{}, err
	}

	turnRows, err := vs.pool.Query(ctx, `
		SELECT id, tenant_id, conversation_id, user_message_id, assistant_message_id, outcome,
			COALESCE(confidence, 0), retrieved_chunk_ids, created_at
		FROM turns WHERE conversation_id = $1 AND tenant_id = $2
		ORDER BY created_at, id`, conversationID, tenantID)
	if err != nil {
		return models.ConversationDetail{}, fmt.Errorf("failed to query turns: %w", err)
	}
	defer turnRows.Close()
	for turnRows.Next() {
		var t models.Turn
		if err := turnRows.Scan(&t.ID, &t.TenantID, &t.ConversationID, &t.UserMessageID, &t.AssistantMessageID,
			&t.Outcome, &t.Confidence, &t.RetrievedChunkIDs, &t.CreatedAt); err != nil {
			return models.ConversationDetail{}, fmt.Errorf("failed to scan turn: %w", err)
		}
		detail.Turns = append(detail.Turns, t)
	}
	return detail, turnRows.Err()
}

// StatsOverview sums the daily counters between from and to inclusive.
func (vs *VectorStore) StatsOverview(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (models.StatsOverview, error) {
	var s models.StatsOverview
	err := vs.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_conversations), 0), COALESCE(SUM(total_messages), 0),
			COALESCE(SUM(fallback_count), 0), COALESCE(SUM(escalations), 0)
		FROM daily_stats
		WHERE tenant_id = $1 AND date >= $2::date AND date <= $3::date`,
		tenantID, from, to,
	).Scan(&s.TotalConversations, &s.TotalMessages, &s.FallbackCount, &s.Escalations)
	if err != nil {
		return models.StatsOverview{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return s, nil
}

// UnansweredTurns lists the most recent fallback and escalate turns with the
// question that caused them.
func (vs *VectorStore) UnansweredTurns(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.UnansweredTurn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := vs.pool.Query(ctx, `
		SELECT t.id, t.conversation_id, m.content, t.confidence, t.created_at
		FROM turns t
		JOIN messages m ON m.id = t.user_message_id
		WHERE t.tenant_id = $1 AND t.outcome IN ('fallback', 'escalate')
		ORDER BY t.created_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unanswered turns: %w", err)
	}
	defer rows.Close()

	out := []models.UnansweredTurn{}
	for rows.Next() {
		var u models.UnansweredTurn
		if err := rows.Scan(&u.TurnID, &u.ConversationID, &u.UserMessage, &u.Confidence, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
