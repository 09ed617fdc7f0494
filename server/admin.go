package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/auth"
)

const dateLayout = "2006-01-02"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	session, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Logout(r.Context(), auth.ExtractToken(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFrom(r.Context())

	memberships, err := s.store.ListMemberships(r.Context(), p.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      p.UserID,
		"email":   p.Email,
		"tenants": memberships,
	})
}

// authorize checks the caller's role on the {tenant_id} of the route.
func (s *Server) authorize(r *http.Request, minRole models.TenantRole) (uuid.UUID, error) {
	tenantID, err := pathUUID(r, "tenant_id")
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.authorizeTenant(r.Context(), tenantID, minRole); err != nil {
		return uuid.Nil, err
	}
	return tenantID, nil
}

func (s *Server) authorizeTenant(ctx context.Context, tenantID uuid.UUID, minRole models.TenantRole) error {
	p, _ := auth.PrincipalFrom(ctx)
	_, err := s.auth.Authorize(ctx, p, tenantID, minRole)
	return err
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	settings, err := s.store.GetSettings(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleEditor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var update models.TenantSettingsUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	if update.RetentionDays != nil && *update.RetentionDays < 1 {
		s.writeError(w, r, invalid("retention_days must be at least 1"))
		return
	}

	settings, err := s.store.UpdateSettings(r.Context(), tenantID, update)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleListWidgetKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	keys, err := s.store.ListWidgetKeys(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (s *Server) handleCreateWidgetKey(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleEditor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key, err := s.store.CreateWidgetKey(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("widget_key.created", "tenant_id", tenantID, "widget_key_id", key.ID)
	writeJSON(w, http.StatusOK, key)
}

func (s *Server) handleDisableWidgetKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	key, err := s.store.GetWidgetKey(r.Context(), keyID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Keys of tenants the caller cannot see look the same as unknown ones.
	if err := s.authorizeTenant(r.Context(), key.TenantID, models.RoleViewer); err != nil {
		if types.IsAccessDenied(err) {
			err = &types.NotFoundError{Resource: "widget key"}
		}
		s.writeError(w, r, err)
		return
	}
	if err := s.authorizeTenant(r.Context(), key.TenantID, models.RoleEditor); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.DisableWidgetKey(r.Context(), keyID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("widget_key.disabled", "tenant_id", key.TenantID, "widget_key_id", keyID)
	writeJSON(w, http.StatusOK, map[string]string{"status": models.KeyDisabled})
}

// createDocument records a document and queues its ingestion.
func (s *Server) createDocument(ctx context.Context, doc models.Document) (models.Document, error) {
	created, err := s.store.CreateDocument(ctx, doc)
	if err != nil {
		return models.Document{}, err
	}
	s.enqueue(created)
	s.log.Info("kb.document_created",
		"tenant_id", created.TenantID,
		"document_id", created.ID,
		"source_type", created.SourceType)
	return created, nil
}

// enqueue schedules ingestion of a document already stored as processing.
// When the queue is full or shutting down the document is left for the
// recovery sweep instead of failing the request.
func (s *Server) enqueue(doc models.Document) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(doc.ID, doc.TenantID); err != nil {
		s.log.Warn("kb.enqueue_deferred", "tenant_id", doc.TenantID, "document_id", doc.ID, "error", err)
	}
}

func documentAccepted(doc models.Document) map[string]string {
	return map[string]string{"document_id": doc.ID.String(), "status": string(doc.Status)}
}

func (s *Server) handleKBUpload(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleEditor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.blobs == nil {
		s.writeError(w, r, fmt.Errorf("no blob store configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, invalid("multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, r, invalid("upload too large or unreadable"))
		return
	}

	filename := filepath.Base(header.Filename)
	source := sourceTypeFor(filename)
	key := fmt.Sprintf("%s/%s/%s", tenantID, uuid.New(), filename)

	storageURL, err := s.blobs.Put(r.Context(), key, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	title := filename
	if title == "" || title == "." {
		title = "Uploaded file"
	}
	doc, err := s.createDocument(r.Context(), models.Document{
		TenantID:   tenantID,
		Title:      title,
		SourceType: source,
		StorageURL: storageURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentAccepted(doc))
}

func sourceTypeFor(filename string) models.SourceType {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return models.SourcePDF
	}
	return models.SourceText
}

type kbTextRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (s *Server) handleKBText(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleEditor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.blobs == nil {
		s.writeError(w, r, fmt.Errorf("no blob store configured"))
		return
	}

	var req kbTextRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		s.writeError(w, r, invalid("title and content are required"))
		return
	}

	key := fmt.Sprintf("%s/%s/text.txt", tenantID, uuid.New())
	storageURL, err := s.blobs.Put(r.Context(), key, []byte(req.Content))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	doc, err := s.createDocument(r.Context(), models.Document{
		TenantID:   tenantID,
		Title:      req.Title,
		SourceType: models.SourceText,
		StorageURL: storageURL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentAccepted(doc))
}

type kbURLRequest struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (s *Server) handleKBURL(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleEditor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req kbURLRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		s.writeError(w, r, invalid("url must be an http or https address"))
		return
	}
	title := req.Title
	if title == "" {
		title = req.URL
	}

	doc, err := s.createDocument(r.Context(), models.Document{
		TenantID:   tenantID,
		Title:      title,
		SourceType: models.SourceURL,
		StorageURL: req.URL,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentAccepted(doc))
}

func (s *Server) handleKBList(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	docs, err := s.store.ListDocuments(r.Context(), tenantID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleKBDetail(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	docID, err := pathUUID(r, "doc_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	doc, err := s.store.GetDocument(r.Context(), tenantID, docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	hashes, err := s.store.ChunkHashes(r.Context(), tenantID, docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentDetail{Document: doc, ChunkCount: len(hashes)})
}

type documentDetail struct {
	models.Document
	ChunkCount int `json:"chunk_count"`
}

func (s *Server) handleKBReindex(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleEditor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var docID *uuid.UUID
	if raw := r.URL.Query().Get("doc_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, invalid("invalid doc_id"))
			return
		}
		docID = &id
	}

	docs, err := s.store.ResetForReindex(r.Context(), tenantID, docID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, d := range docs {
		s.enqueue(d)
	}

	s.log.Info("kb.reindex", "tenant_id", tenantID, "documents", len(docs))
	if docID != nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "reindexing", "document_id": docID.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reindexing", "document_count": len(docs)})
}

func parseDate(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, invalid(fmt.Sprintf("%s must be a YYYY-MM-DD date", name))
	}
	return &t, nil
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	from, err := parseDate(r, "from_date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseDate(r, "to_date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if to != nil {
		// Include the whole end day.
		end := to.Add(24*time.Hour - time.Nanosecond)
		to = &end
	}

	convs, err := s.store.ListConversations(r.Context(), tenantID, from, to, 100)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleConversationDetail(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	convID, err := pathUUID(r, "conversation_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	detail, err := s.store.GetConversationDetail(r.Context(), tenantID, convID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleStatsOverview(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	from, to := today, today
	if d, err := parseDate(r, "from_date"); err != nil {
		s.writeError(w, r, err)
		return
	} else if d != nil {
		from = *d
	}
	if d, err := parseDate(r, "to_date"); err != nil {
		s.writeError(w, r, err)
		return
	} else if d != nil {
		to = *d
	}

	stats, err := s.store.StatsOverview(r.Context(), tenantID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleStatsUnanswered(w http.ResponseWriter, r *http.Request) {
	tenantID, err := s.authorize(r, models.RoleViewer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	turns, err := s.store.UnansweredTurns(r.Context(), tenantID, 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turns)
}
