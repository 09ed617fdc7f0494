package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/guardrails"
	"github.com/xhad/concierge/pkg/rag"
	"github.com/xhad/concierge/pkg/ratelimit"
	"github.com/xhad/concierge/pkg/store"
)

type conversationStartRequest struct {
	WidgetKey string         `json:"widget_key"`
	Channel   models.Channel `json:"channel"`
	Locale    *string        `json:"locale"`
	PageURL   *string        `json:"page_url"`
}

type ChatRequest struct {
	WidgetKey      string  `json:"widget_key"`
	ConversationID string  `json:"conversation_id"`
	Message        string  `json:"message"`
	Locale         *string `json:"locale"`
}

// guest is the request context the public endpoints share.
type guest struct {
	origin   string
	clientIP string
}

func guestFrom(r *http.Request) guest {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	return guest{origin: origin, clientIP: clientIP(r)}
}

// resolveTenant maps a widget key to its tenant and settings and enforces
// the tenant's allowed domains.
func (s *Server) resolveTenant(ctx context.Context, widgetKey string, g guest) (models.Tenant, models.TenantSettings, error) {
	if widgetKey == "" {
		return models.Tenant{}, models.TenantSettings{}, invalid("widget_key is required")
	}
	tenant, err := s.store.ResolveWidgetKey(ctx, widgetKey)
	if err != nil {
		return models.Tenant{}, models.TenantSettings{}, err
	}
	settings, err := s.store.GetSettings(ctx, tenant.ID)
	if err != nil {
		return models.Tenant{}, models.TenantSettings{}, err
	}
	if !domainAllowed(settings.AllowedDomains, g.origin) {
		return models.Tenant{}, models.TenantSettings{}, &types.AccessDeniedError{Reason: "domain not allowed"}
	}
	return tenant, settings, nil
}

// domainAllowed passes requests without an origin, and any origin when no
// domains are configured.
func domainAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, d := range allowed {
		if d != "" && strings.Contains(origin, d) {
			return true
		}
	}
	return false
}

func (s *Server) handleWidgetConfig(w http.ResponseWriter, r *http.Request) {
	tenant, settings, err := s.resolveTenant(r.Context(), r.URL.Query().Get("widget_key"), guestFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"greeting_message":    settings.GreetingMessage,
		"escalation_phone":    settings.EscalationPhone,
		"escalation_email":    settings.EscalationEmail,
		"supported_languages": []string{tenant.DefaultLanguage},
	})
}

func (s *Server) handleConversationStart(w http.ResponseWriter, r *http.Request) {
	var req conversationStartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Channel == "" {
		req.Channel = models.ChannelWebWidget
	}
	if !req.Channel.Valid() {
		s.writeError(w, r, invalid("channel must be one of web_widget, web_url, whatsapp"))
		return
	}

	tenant, _, err := s.resolveTenant(r.Context(), req.WidgetKey, guestFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conv, err := s.store.CreateConversation(r.Context(), tenant.ID, req.Channel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.log.Info("conversation.start", "tenant_id", tenant.ID, "conversation_id", conv.ID, "channel", conv.Channel)
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": conv.ID.String()})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	answer, err := s.chat(r.Context(), req, guestFrom(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// chat runs one guest turn. The user message is stored before the pipeline
// runs; the assistant message and turn only if it succeeds.
func (s *Server) chat(ctx context.Context, req ChatRequest, g guest) (models.Answer, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return models.Answer{}, invalid("message is required")
	}
	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		return models.Answer{}, invalid("invalid conversation_id")
	}

	tenant, settings, err := s.resolveTenant(ctx, req.WidgetKey, g)
	if err != nil {
		return models.Answer{}, err
	}

	if s.limiter != nil {
		key := ratelimit.Key(s.config.RateLimitKey, tenant.ID.String(), g.clientIP)
		if !s.limiter.Allow(key) {
			s.log.Warn("chat.rate_limited", "tenant_id", tenant.ID, "key", key)
			return models.Answer{}, errRateLimited
		}
	}

	if _, err := s.store.GetConversation(ctx, tenant.ID, conversationID); err != nil {
		return models.Answer{}, err
	}

	userMsg := models.Message{
		TenantID:       tenant.ID,
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        &req.Message,
		TokenCount:     s.count(req.Message),
	}
	if redacted, changed := guardrails.Redact(req.Message); changed {
		userMsg.RedactedContent = &redacted
	}
	userMsg, err = s.store.AddMessage(ctx, userMsg)
	if err != nil {
		return models.Answer{}, err
	}

	answer, err := s.answer.Answer(ctx, rag.AnswerRequest{
		TenantID:        tenant.ID,
		Message:         message,
		EscalationPhone: settings.EscalationPhone,
		EscalationEmail: settings.EscalationEmail,
		GreetingMessage: settings.GreetingMessage,
	})
	if err != nil {
		s.log.Error("chat.pipeline_failed", "tenant_id", tenant.ID, "conversation_id", conversationID, "error", err)
		return models.Answer{}, asUpstream(err)
	}

	var tokens *int
	if answer.AnswerText != nil {
		tokens = s.count(*answer.AnswerText)
	}
	_, err = s.store.RecordTurn(ctx, store.TurnRecord{
		TenantID:       tenant.ID,
		ConversationID: conversationID,
		UserMessageID:  userMsg.ID,
		AssistantText:  answer.AnswerText,
		TokenCount:     tokens,
		Outcome:        answer.Outcome,
		Confidence:     answer.Confidence,
		ChunkIDs:       rag.ChunkIDs(answer),
	})
	if err != nil {
		return models.Answer{}, err
	}

	s.log.Info("chat.turn",
		"tenant_id", tenant.ID,
		"conversation_id", conversationID,
		"outcome", answer.Outcome,
		"confidence", answer.Confidence)
	return answer, nil
}

// asUpstream reports every pipeline failure as a bad gateway.
func asUpstream(err error) error {
	return &pipelineError{err: err}
}

func (s *Server) count(text string) *int {
	if s.tokens == nil {
		return nil
	}
	n, ok := s.tokens.Count(text)
	if !ok {
		return nil
	}
	return &n
}
