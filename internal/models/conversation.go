package models

import (
	"time"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelWebWidget Channel = "web_widget"
	ChannelWebURL    Channel = "web_url"
	ChannelWhatsApp  Channel = "whatsapp"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWebWidget, ChannelWebURL, ChannelWhatsApp:
		return true
	}
	return false
}

type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationClosed    ConversationStatus = "closed"
	ConversationEscalated ConversationStatus = "escalated"
)

type Conversation struct {
	ID        uuid.UUID          `json:"id"`
	TenantID  uuid.UUID          `json:"tenant_id"`
	Channel   Channel            `json:"channel"`
	Status    ConversationStatus `json:"status"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is append-only within its conversation.
type Message struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	ConversationID  uuid.UUID `json:"conversation_id"`
	Role            Role      `json:"role"`
	Content         *string   `json:"content"`
	RedactedContent *string   `json:"redacted_content,omitempty"`
	TokenCount      *int      `json:"token_count,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeFallback Outcome = "fallback"
	OutcomeEscalate Outcome = "escalate"
)

// Turn pairs the user and assistant message of one exchange.
type Turn struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	ConversationID     uuid.UUID `json:"conversation_id"`
	UserMessageID      uuid.UUID `json:"user_message_id"`
	AssistantMessageID uuid.UUID `json:"assistant_message_id"`
	Outcome            Outcome   `json:"outcome"`
	Confidence         float64   `json:"confidence"`
	RetrievedChunkIDs  []string  `json:"retrieved_chunk_ids"`
	CreatedAt          time.Time `json:"created_at"`
}

type Citation struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	ChunkID    string `json:"chunk_id"`
}

type Escalation struct {
	Phone   *string `json:"phone"`
	Email   *string `json:"email"`
	Message string  `json:"message"`
}

// Answer is the result of one pass through the RAG pipeline. Confidence is
// the best retrieval similarity, not a model score.
type Answer struct {
	Outcome    Outcome     `json:"outcome"`
	AnswerText *string     `json:"answer_text"`
	Citations  []Citation  `json:"citations"`
	Confidence float64     `json:"confidence"`
	Escalation *Escalation `json:"escalation"`
}

type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
	Turns    []Turn    `json:"turns"`
}

type UnansweredTurn struct {
	TurnID         uuid.UUID `json:"turn_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	UserMessage    *string   `json:"user_message"`
	Confidence     *float64  `json:"confidence"`
	CreatedAt      time.Time `json:"created_at"`
}

type StatsOverview struct {
	TotalConversations int64 `json:"total_conversations"`
	TotalMessages      int64 `json:"total_messages"`
	FallbackCount      int64 `json:"fallback_count"`
	Escalations        int64 `json:"escalations"`
}
