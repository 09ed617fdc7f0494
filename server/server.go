// Package server exposes the public guest chat API, its websocket variant
// and the admin API over HTTP.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/auth"
	"github.com/xhad/concierge/pkg/rag"
	"github.com/xhad/concierge/pkg/ratelimit"
	"github.com/xhad/concierge/pkg/store"
)

// PublicStore is what the guest-facing endpoints read and write.
type PublicStore interface {
	ResolveWidgetKey(ctx context.Context, key string) (models.Tenant, error)
	GetSettings(ctx context.Context, tenantID uuid.UUID) (models.TenantSettings, error)
	CreateConversation(ctx context.Context, tenantID uuid.UUID, channel models.Channel) (models.Conversation, error)
	GetConversation(ctx context.Context, tenantID, conversationID uuid.UUID) (models.Conversation, error)
	AddMessage(ctx context.Context, msg models.Message) (models.Message, error)
	RecordTurn(ctx context.Context, rec store.TurnRecord) (models.Turn, error)
}

// AdminStore is what the admin endpoints need on top of PublicStore.
type AdminStore interface {
	PublicStore

	ListMemberships(ctx context.Context, userID uuid.UUID) ([]models.Membership, error)
	UpdateSettings(ctx context.Context, tenantID uuid.UUID, update models.TenantSettingsUpdate) (models.TenantSettings, error)

	CreateWidgetKey(ctx context.Context, tenantID uuid.UUID) (models.WidgetKey, error)
	ListWidgetKeys(ctx context.Context, tenantID uuid.UUID) ([]models.WidgetKey, error)
	GetWidgetKey(ctx context.Context, keyID uuid.UUID) (models.WidgetKey, error)
	DisableWidgetKey(ctx context.Context, keyID uuid.UUID) error

	CreateDocument(ctx context.Context, doc models.Document) (models.Document, error)
	GetDocument(ctx context.Context, tenantID, documentID uuid.UUID) (models.Document, error)
	ListDocuments(ctx context.Context, tenantID uuid.UUID) ([]models.Document, error)
	ResetForReindex(ctx context.Context, tenantID uuid.UUID, documentID *uuid.UUID) ([]models.Document, error)
	ChunkHashes(ctx context.Context, tenantID, documentID uuid.UUID) ([]string, error)

	ListConversations(ctx context.Context, tenantID uuid.UUID, from, to *time.Time, limit int) ([]models.Conversation, error)
	GetConversationDetail(ctx context.Context, tenantID, conversationID uuid.UUID) (models.ConversationDetail, error)
	StatsOverview(ctx context.Context, tenantID uuid.UUID, from, to time.Time) (models.StatsOverview, error)
	UnansweredTurns(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.UnansweredTurn, error)
}

type Answerer interface {
	Answer(ctx context.Context, req rag.AnswerRequest) (models.Answer, error)
}

type TokenCounter interface {
	Count(text string) (int, bool)
}

type Config struct {
	Addr         string
	CORSOrigins  []string
	RateLimitKey string
	// MaxUploadBytes bounds knowledge base uploads.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Deps struct {
	Store    AdminStore
	Auth     *auth.Service
	Answerer Answerer
	Queue    types.JobQueue
	Blobs    types.BlobStore
	Limiter  ratelimit.Limiter
	Tokens   TokenCounter
}

type Server struct {
	config  Config
	store   AdminStore
	auth    *auth.Service
	answer  Answerer
	queue   types.JobQueue
	blobs   types.BlobStore
	limiter ratelimit.Limiter
	tokens  TokenCounter
	log     *slog.Logger
	mux     *http.ServeMux
}

func New(deps Deps, config Config) (*Server, error) {
	if deps.Store == nil || deps.Answerer == nil || deps.Auth == nil {
		return nil, &types.ConfigurationError{Field: "server", Message: "store, auth and answerer are required"}
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 20 << 20
	}
	if config.RateLimitKey == "" {
		config.RateLimitKey = ratelimit.KeyIP
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		config:  config,
		store:   deps.Store,
		auth:    deps.Auth,
		answer:  deps.Answerer,
		queue:   deps.Queue,
		blobs:   deps.Blobs,
		limiter: deps.Limiter,
		tokens:  deps.Tokens,
		log:     log,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.HandleFunc("GET /public/widget-config", s.handleWidgetConfig)
	s.mux.HandleFunc("POST /public/conversation/start", s.handleConversationStart)
	s.mux.HandleFunc("POST /public/chat", s.handleChat)
	s.mux.HandleFunc("GET /public/ws", s.handleWebSocket)

	s.mux.HandleFunc("POST /admin/login", s.handleLogin)

	protected := s.auth.Middleware(func(w http.ResponseWriter, err error) {
		status, detail := statusFor(err)
		writeJSON(w, status, errorBody{Detail: detail})
	})
	admin := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, protected(h))
	}

	admin("POST /admin/logout", s.handleLogout)
	admin("GET /admin/me", s.handleMe)
	admin("GET /admin/tenant/{tenant_id}/settings", s.handleGetSettings)
	admin("POST /admin/tenant/{tenant_id}/settings", s.handleUpdateSettings)
	admin("GET /admin/tenant/{tenant_id}/widget-keys", s.handleListWidgetKeys)
	admin("POST /admin/tenant/{tenant_id}/widget-keys", s.handleCreateWidgetKey)
	admin("POST /admin/widget-keys/{id}/disable", s.handleDisableWidgetKey)

	admin("POST /admin/tenant/{tenant_id}/kb/upload", s.handleKBUpload)
	admin("POST /admin/tenant/{tenant_id}/kb/text", s.handleKBText)
	admin("POST /admin/tenant/{tenant_id}/kb/url", s.handleKBURL)
	admin("GET /admin/tenant/{tenant_id}/kb/documents", s.handleKBList)
	admin("GET /admin/tenant/{tenant_id}/kb/documents/{doc_id}", s.handleKBDetail)
	admin("POST /admin/tenant/{tenant_id}/kb/reindex", s.handleKBReindex)

	admin("GET /admin/tenant/{tenant_id}/conversations", s.handleListConversations)
	admin("GET /admin/tenant/{tenant_id}/conversations/{conversation_id}", s.handleConversationDetail)
	admin("GET /admin/tenant/{tenant_id}/stats/overview", s.handleStatsOverview)
	admin("GET /admin/tenant/{tenant_id}/stats/unanswered", s.handleStatsUnanswered)
}

// Handler returns the router wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.cors(s.mux))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server.start", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.log.Info("server.shutdown")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (slices.Contains(s.config.CORSOrigins, "*") || slices.Contains(s.config.CORSOrigins, origin)) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, invalid(fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}
