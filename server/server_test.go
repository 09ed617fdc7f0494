package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/concierge/internal/models"
	"github.com/xhad/concierge/internal/types"
	"github.com/xhad/concierge/pkg/auth"
	"github.com/xhad/concierge/pkg/ingest"
	"github.com/xhad/concierge/pkg/rag"
	"github.com/xhad/concierge/pkg/store"
)

const testWidgetKey = "wk_test"

// fakeStore implements the methods the tests reach; anything else panics on
// the nil embedded interface.
type fakeStore struct {
	AdminStore

	mu       sync.Mutex
	tenant   models.Tenant
	settings models.TenantSettings
	convs    map[uuid.UUID]models.Conversation
	messages []models.Message
	turns    []store.TurnRecord
	docs     map[uuid.UUID]models.Document
	chunks   map[uuid.UUID][]string
	keys     map[uuid.UUID]models.WidgetKey

	users    map[string]models.User
	sessions map[string]uuid.UUID
	roles    map[uuid.UUID]models.TenantRole
}

func newFakeStore(t *testing.T) *fakeStore {
	t.Helper()
	tenant := models.Tenant{ID: uuid.New(), Name: "Hotel Aurora", Slug: "aurora", Status: "active", DefaultLanguage: "en"}
	greeting := "Welcome to Aurora!"
	return &fakeStore{
		tenant:   tenant,
		settings: models.TenantSettings{TenantID: tenant.ID, GreetingMessage: &greeting, RetentionDays: 90},
		convs:    map[uuid.UUID]models.Conversation{},
		docs:     map[uuid.UUID]models.Document{},
		chunks:   map[uuid.UUID][]string{},
		keys:     map[uuid.UUID]models.WidgetKey{},
		users:    map[string]models.User{},
		sessions: map[string]uuid.UUID{},
		roles:    map[uuid.UUID]models.TenantRole{},
	}
}

func (f *fakeStore) addUser(t *testing.T, email, password string, role models.TenantRole) {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	f.users[email] = models.User{ID: uuid.New(), Email: email, PasswordHash: hash}
	if role != "" {
		f.roles[f.tenant.ID] = role
	}
}

func (f *fakeStore) ResolveWidgetKey(_ context.Context, key string) (models.Tenant, error) {
	if key != testWidgetKey {
		return models.Tenant{}, &types.NotFoundError{Resource: "widget key"}
	}
	return f.tenant, nil
}

func (f *fakeStore) GetSettings(_ context.Context, tenantID uuid.UUID) (models.TenantSettings, error) {
	return f.settings, nil
}

func (f *fakeStore) CreateConversation(_ context.Context, tenantID uuid.UUID, channel models.Channel) (models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := models.Conversation{ID: uuid.New(), TenantID: tenantID, Channel: channel, Status: models.ConversationActive, StartedAt: time.Now()}
	f.convs[c.ID] = c
	return c, nil
}

func (f *fakeStore) GetConversation(_ context.Context, tenantID, conversationID uuid.UUID) (models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.convs[conversationID]
	if !ok || c.TenantID != tenantID {
		return models.Conversation{}, &types.NotFoundError{Resource: "conversation"}
	}
	return c, nil
}

func (f *fakeStore) AddMessage(_ context.Context, msg models.Message) (models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg.ID = uuid.New()
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) RecordTurn(_ context.Context, rec store.TurnRecord) (models.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, rec)
	return models.Turn{ID: uuid.New(), Outcome: rec.Outcome}, nil
}

func (f *fakeStore) ListMemberships(_ context.Context, userID uuid.UUID) ([]models.Membership, error) {
	role, ok := f.roles[f.tenant.ID]
	if !ok {
		return []models.Membership{}, nil
	}
	return []models.Membership{{TenantID: f.tenant.ID, TenantName: f.tenant.Name, Role: role}}, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, doc models.Document) (models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc.ID = uuid.New()
	doc.Status = models.StatusProcessing
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeStore) GetDocument(_ context.Context, tenantID, documentID uuid.UUID) (models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[documentID]
	if !ok || d.TenantID != tenantID {
		return models.Document{}, &types.NotFoundError{Resource: "document"}
	}
	return d, nil
}

func (f *fakeStore) ChunkHashes(_ context.Context, _, documentID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chunks[documentID], nil
}

func (f *fakeStore) addWidgetKey(tenantID uuid.UUID) models.WidgetKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := models.WidgetKey{ID: uuid.New(), TenantID: tenantID, Key: "wk_" + uuid.NewString(), Status: models.KeyActive}
	f.keys[k.ID] = k
	return k
}

func (f *fakeStore) GetWidgetKey(_ context.Context, keyID uuid.UUID) (models.WidgetKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[keyID]
	if !ok {
		return models.WidgetKey{}, &types.NotFoundError{Resource: "widget key"}
	}
	return k, nil
}

func (f *fakeStore) DisableWidgetKey(_ context.Context, keyID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := f.keys[keyID]
	k.Status = models.KeyDisabled
	f.keys[keyID] = k
	return nil
}

func (f *fakeStore) ResetForReindex(_ context.Context, tenantID uuid.UUID, documentID *uuid.UUID) ([]models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Document
	for id, d := range f.docs {
		if d.TenantID != tenantID || (documentID != nil && id != *documentID) {
			continue
		}
		d.Status = models.StatusProcessing
		f.docs[id] = d
		out = append(out, d)
	}
	if documentID != nil && len(out) == 0 {
		return nil, &types.NotFoundError{Resource: "document"}
	}
	return out, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	u, ok := f.users[email]
	if !ok {
		return models.User{}, &types.NotFoundError{Resource: "user"}
	}
	return u, nil
}

func (f *fakeStore) CreateSession(_ context.Context, tokenHash string, userID uuid.UUID, _ time.Time) error {
	f.sessions[tokenHash] = userID
	return nil
}

func (f *fakeStore) SessionUser(_ context.Context, tokenHash string, _ time.Time) (models.User, error) {
	id, ok := f.sessions[tokenHash]
	if ok {
		for _, u := range f.users {
			if u.ID == id {
				return u, nil
			}
		}
	}
	return models.User{}, &types.NotFoundError{Resource: "session"}
}

func (f *fakeStore) DeleteSession(_ context.Context, tokenHash string) error {
	delete(f.sessions, tokenHash)
	return nil
}

func (f *fakeStore) GetRole(_ context.Context, tenantID, _ uuid.UUID) (models.TenantRole, error) {
	r, ok := f.roles[tenantID]
	if !ok {
		return "", &types.NotFoundError{Resource: "role"}
	}
	return r, nil
}

type fakeAnswerer struct {
	mu       sync.Mutex
	answer   models.Answer
	err      error
	requests []rag.AnswerRequest
}

func (a *fakeAnswerer) Answer(_ context.Context, req rag.AnswerRequest) (models.Answer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return a.answer, a.err
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *fakeQueue) Enqueue(documentID, _ uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, documentID)
	return nil
}

type fakeBlobs struct {
	data map[string][]byte
}

func (b *fakeBlobs) Put(_ context.Context, key string, data []byte) (string, error) {
	b.data[key] = data
	return "bolt://test/" + key, nil
}

func (b *fakeBlobs) Get(_ context.Context, url string) ([]byte, error) {
	return b.data[strings.TrimPrefix(url, "bolt://test/")], nil
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

type fixture struct {
	store    *fakeStore
	answerer *fakeAnswerer
	queue    *fakeQueue
	blobs    *fakeBlobs
	server   *Server
	http     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	text := "Breakfast is served from 7 to 10."
	f := &fixture{
		store: newFakeStore(t),
		answerer: &fakeAnswerer{answer: models.Answer{
			Outcome:    models.OutcomeAnswered,
			AnswerText: &text,
			Confidence: 0.82,
			Citations:  []models.Citation{{DocumentID: uuid.NewString(), Title: "Dining", ChunkID: uuid.NewString()}},
		}},
		queue: &fakeQueue{},
		blobs: &fakeBlobs{data: map[string][]byte{}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := New(Deps{
		Store:    f.store,
		Auth:     auth.NewService(f.store, auth.ServiceConfig{Logger: logger}),
		Answerer: f.answerer,
		Queue:    f.queue,
		Blobs:    f.blobs,
	}, Config{Logger: logger})
	require.NoError(t, err)
	f.server = srv
	f.http = httptest.NewServer(srv.Handler())
	t.Cleanup(f.http.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.http.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return f.send(t, req)
}

func (f *fixture) send(t *testing.T, req *http.Request) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func (f *fixture) startConversation(t *testing.T) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/public/conversation/start", "", map[string]string{"widget_key": testWidgetKey})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["conversation_id"].(string)
}

func (f *fixture) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/admin/login", "", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bearer", body["token_type"])
	return body["access_token"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, body := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestWidgetConfig(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/public/widget-config?widget_key="+testWidgetKey, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Welcome to Aurora!", body["greeting_message"])
	assert.Equal(t, []any{"en"}, body["supported_languages"])

	resp, body = f.do(t, http.MethodGet, "/public/widget-config?widget_key=wk_unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, body["detail"])
}

func TestConversationStart(t *testing.T) {
	f := newFixture(t)

	id := f.startConversation(t)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)

	resp, _ := f.do(t, http.MethodPost, "/public/conversation/start", "", map[string]string{
		"widget_key": testWidgetKey,
		"channel":    "carrier_pigeon",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChat(t *testing.T) {
	f := newFixture(t)
	convID := f.startConversation(t)

	resp, body := f.do(t, http.MethodPost, "/public/chat", "", ChatRequest{
		WidgetKey:      testWidgetKey,
		ConversationID: convID,
		Message:        "When is breakfast? mail me at guest@example.com",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "answered", body["outcome"])
	assert.Equal(t, "Breakfast is served from 7 to 10.", body["answer_text"])

	require.Len(t, f.store.messages, 1)
	msg := f.store.messages[0]
	assert.Equal(t, models.RoleUser, msg.Role)
	require.NotNil(t, msg.RedactedContent)
	assert.NotContains(t, *msg.RedactedContent, "guest@example.com")

	require.Len(t, f.store.turns, 1)
	turn := f.store.turns[0]
	assert.Equal(t, msg.ID, turn.UserMessageID)
	assert.Equal(t, models.OutcomeAnswered, turn.Outcome)
	assert.Len(t, turn.ChunkIDs, 1)

	require.Len(t, f.answerer.requests, 1)
	assert.Equal(t, f.store.tenant.ID, f.answerer.requests[0].TenantID)
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *fixture)
		origin     string
		message    string
		conv       func(f *fixture, valid string) string
		wantStatus int
		wantStored int
		wantTurns  int
	}{
		{
			name:       "empty message",
			message:    "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown conversation",
			message:    "hello there",
			conv:       func(*fixture, string) string { return uuid.NewString() },
			wantStatus: http.StatusNotFound,
		},
		{
			name: "domain not allowed",
			setup: func(f *fixture) {
				f.store.settings.AllowedDomains = []string{"aurora-hotel.example"}
			},
			origin:     "https://elsewhere.example",
			message:    "is there parking?",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "rate limited",
			setup:      func(f *fixture) { f.server.limiter = denyAll{} },
			message:    "is there parking?",
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "pipeline failure",
			setup:      func(f *fixture) { f.answerer.err = &types.GenerationServiceError{Err: errors.New("upstream down")} },
			message:    "is there parking?",
			wantStatus: http.StatusBadGateway,
			wantStored: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			convID := f.startConversation(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			if tt.conv != nil {
				convID = tt.conv(f, convID)
			}

			raw, err := json.Marshal(ChatRequest{WidgetKey: testWidgetKey, ConversationID: convID, Message: tt.message})
			require.NoError(t, err)
			req, err := http.NewRequest(http.MethodPost, f.http.URL+"/public/chat", bytes.NewReader(raw))
			require.NoError(t, err)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			resp, body := f.send(t, req)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, body["detail"])
			assert.Len(t, f.store.messages, tt.wantStored)
			assert.Len(t, f.store.turns, tt.wantTurns)
		})
	}
}

func TestWebSocketChat(t *testing.T) {
	f := newFixture(t)
	convID := f.startConversation(t)

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/public/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Message{
		Type:           "chat",
		WidgetKey:      testWidgetKey,
		ConversationID: convID,
		Content:        "When is breakfast?",
	}))

	var reply Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "response", reply.Type)
	data, ok := reply.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "answered", data["outcome"])

	require.NoError(t, conn.WriteJSON(Message{Type: "ping"}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, http.StatusBadRequest, reply.Status)
}

func TestAdminAuth(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "owner@aurora.example", "s3cret-pass", models.RoleOwner)

	resp, _ := f.do(t, http.MethodGet, "/admin/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/admin/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/admin/login", "", map[string]string{"email": "owner@aurora.example", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := f.login(t, "owner@aurora.example", "s3cret-pass")
	resp, body := f.do(t, http.MethodGet, "/admin/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "owner@aurora.example", body["email"])
	tenants, ok := body["tenants"].([]any)
	require.True(t, ok)
	assert.Len(t, tenants, 1)

	other := uuid.NewString()
	resp, _ = f.do(t, http.MethodGet, "/admin/tenant/"+other+"/kb/documents", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/admin/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = f.do(t, http.MethodGet, "/admin/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminViewerCannotWrite(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "viewer@aurora.example", "viewer-pass", models.RoleViewer)
	token := f.login(t, "viewer@aurora.example", "viewer-pass")

	path := "/admin/tenant/" + f.store.tenant.ID.String() + "/kb/text"
	resp, _ := f.do(t, http.MethodPost, path, token, map[string]string{"title": "FAQ", "content": "Checkout is at 11."})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, f.store.docs)
	assert.Empty(t, f.queue.ids)
}

func TestAdminKBUpload(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "editor@aurora.example", "editor-pass", models.RoleEditor)
	token := f.login(t, "editor@aurora.example", "editor-pass")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "house-rules.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost,
		f.http.URL+"/admin/tenant/"+f.store.tenant.ID.String()+"/kb/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, body := f.send(t, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "processing", body["status"])

	docID, err := uuid.Parse(body["document_id"].(string))
	require.NoError(t, err)
	doc := f.store.docs[docID]
	assert.Equal(t, models.SourcePDF, doc.SourceType)
	assert.Equal(t, "house-rules.pdf", doc.Title)
	assert.True(t, strings.HasPrefix(doc.StorageURL, "bolt://test/"+f.store.tenant.ID.String()+"/"))
	assert.Equal(t, []uuid.UUID{docID}, f.queue.ids)
}

func TestAdminKBTextAndReindex(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "editor@aurora.example", "editor-pass", models.RoleEditor)
	token := f.login(t, "editor@aurora.example", "editor-pass")
	base := "/admin/tenant/" + f.store.tenant.ID.String() + "/kb"

	resp, _ := f.do(t, http.MethodPost, base+"/text", token, map[string]string{"title": "FAQ"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, base+"/text", token, map[string]string{"title": "FAQ", "content": "Checkout is at 11."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	docID := body["document_id"].(string)

	resp, body = f.do(t, http.MethodPost, base+"/reindex?doc_id="+docID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reindexing", body["status"])
	assert.Equal(t, docID, body["document_id"])

	resp, body = f.do(t, http.MethodPost, base+"/reindex", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["document_count"])
	assert.Len(t, f.queue.ids, 3)

	resp, _ = f.do(t, http.MethodPost, base+"/reindex?doc_id="+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminKBFullQueueDefersIngestion(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "editor@aurora.example", "editor-pass", models.RoleEditor)
	token := f.login(t, "editor@aurora.example", "editor-pass")
	base := "/admin/tenant/" + f.store.tenant.ID.String() + "/kb"
	f.queue.err = ingest.ErrQueueFull

	resp, body := f.do(t, http.MethodPost, base+"/text", token, map[string]string{"title": "FAQ", "content": "Checkout is at 11."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(models.StatusProcessing), body["status"])

	// The row stays in processing for the recovery sweep.
	docID := uuid.MustParse(body["document_id"].(string))
	assert.Equal(t, models.StatusProcessing, f.store.docs[docID].Status)

	resp, body = f.do(t, http.MethodPost, base+"/reindex", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["document_count"])
	assert.Empty(t, f.queue.ids)
}

func TestAdminKBDetailChunkCount(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "viewer@aurora.example", "viewer-pass", models.RoleViewer)
	token := f.login(t, "viewer@aurora.example", "viewer-pass")

	doc, err := f.store.CreateDocument(context.Background(), models.Document{TenantID: f.store.tenant.ID, Title: "FAQ", SourceType: models.SourceText})
	require.NoError(t, err)
	f.store.chunks[doc.ID] = []string{"a1", "b2", "c3"}

	resp, body := f.do(t, http.MethodGet, "/admin/tenant/"+f.store.tenant.ID.String()+"/kb/documents/"+doc.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, doc.ID.String(), body["id"])
	assert.Equal(t, "FAQ", body["title"])
	assert.EqualValues(t, 3, body["chunk_count"])
}

func TestAdminDisableWidgetKey(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "editor@aurora.example", "editor-pass", models.RoleEditor)
	token := f.login(t, "editor@aurora.example", "editor-pass")

	own := f.store.addWidgetKey(f.store.tenant.ID)
	foreign := f.store.addWidgetKey(uuid.New())

	unknownResp, unknownBody := f.do(t, http.MethodPost, "/admin/widget-keys/"+uuid.NewString()+"/disable", token, nil)
	foreignResp, foreignBody := f.do(t, http.MethodPost, "/admin/widget-keys/"+foreign.ID.String()+"/disable", token, nil)

	// Another tenant's key is indistinguishable from one that does not exist.
	assert.Equal(t, http.StatusNotFound, unknownResp.StatusCode)
	assert.Equal(t, unknownResp.StatusCode, foreignResp.StatusCode)
	assert.Equal(t, unknownBody, foreignBody)
	assert.Equal(t, models.KeyActive, f.store.keys[foreign.ID].Status)

	resp, body := f.do(t, http.MethodPost, "/admin/widget-keys/"+own.ID.String()+"/disable", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.KeyDisabled, body["status"])
	assert.Equal(t, models.KeyDisabled, f.store.keys[own.ID].Status)
}

func TestAdminViewerCannotDisableWidgetKey(t *testing.T) {
	f := newFixture(t)
	f.store.addUser(t, "viewer@aurora.example", "viewer-pass", models.RoleViewer)
	token := f.login(t, "viewer@aurora.example", "viewer-pass")
	own := f.store.addWidgetKey(f.store.tenant.ID)

	resp, _ := f.do(t, http.MethodPost, "/admin/widget-keys/"+own.ID.String()+"/disable", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, models.KeyActive, f.store.keys[own.ID].Status)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{invalid("bad"), http.StatusBadRequest},
		{types.ErrUnauthenticated, http.StatusUnauthorized},
		{&types.AccessDeniedError{}, http.StatusForbidden},
		{&types.NotFoundError{Resource: "document"}, http.StatusNotFound},
		{errRateLimited, http.StatusTooManyRequests},
		{&types.EmbeddingServiceError{Err: errors.New("x")}, http.StatusBadGateway},
		{asUpstream(errors.New("search failed")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, detail := statusFor(tt.err)
		assert.Equal(t, tt.want, got, tt.err.Error())
		assert.NotEmpty(t, detail)
	}
}

func TestDomainAllowed(t *testing.T) {
	assert.True(t, domainAllowed(nil, "https://any.example"))
	assert.True(t, domainAllowed([]string{"aurora.example"}, ""))
	assert.True(t, domainAllowed([]string{"aurora.example"}, "https://www.aurora.example"))
	assert.False(t, domainAllowed([]string{"aurora.example"}, "https://other.example"))
}
