package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/authz"
	"github.com/parleyhq/parley/internal/cache"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/internal/tools"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func testHandler(t *testing.T) (http.Handler, store.SessionStore) {
	t.Helper()

	client := &llm.MockClient{
		StreamFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamEvent, error) {
			ch := make(chan llm.StreamEvent, 2)
			ch <- llm.StreamEvent{Type: llm.EventDelta, Content: "generated answer"}
			ch <- llm.StreamEvent{
				Type:     llm.EventDone,
				Response: &llm.CompletionResponse{Content: "generated answer"},
			}
			close(ch)
			return ch, nil
		},
	}

	ss := store.NewMemorySessionStore()
	resolver := orchestrator.NewResolver(ss, silentLog())
	c := cache.NewMemory(time.Minute)
	runner := orchestrator.NewRunner(client, resolver, c, tools.NewRegistry(), orchestrator.RunnerConfig{}, silentLog())
	svc := orchestrator.NewService(ss, resolver, authz.NewGuard(silentLog()), c, runner, silentLog())

	srv := New(config.ServerConfig{Port: 0, Bind: "loopback"}, svc, silentLog())
	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	return mux, ss
}

func chatBody(sessionID, msgID, text string) string {
	return `{"id":"` + sessionID + `","trigger":"submit-message","messages":[{"id":"` + msgID + `","role":"user","parts":[{"type":"text","text":"` + text + `"}]}]}`
}

func errorKind(t *testing.T, body string) domain.Kind {
	t.Helper()
	var env struct {
		Error ErrorShape `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &env))
	return env.Error.Kind
}

func TestHandleChat_Streams(t *testing.T) {
	h, ss := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chatBody("sess-1", "m1", "hello")))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var sawDelta, sawDone bool
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev orchestrator.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		switch ev.Type {
		case orchestrator.EventDelta:
			sawDelta = true
			assert.Equal(t, "generated answer", ev.Delta)
		case orchestrator.EventDone:
			sawDone = true
			require.NotNil(t, ev.Message)
			assert.Equal(t, "generated answer", ev.Message.Text())
		}
	}
	assert.True(t, sawDelta)
	assert.True(t, sawDone)

	sess, err := ss.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 2)
}

func TestHandleChat_CacheHitReturnsJSON(t *testing.T) {
	h, _ := testHandler(t)

	first := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chatBody("sess-1", "m1", "hello")))
	first.Header.Set("X-User-ID", "alice")
	h.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chatBody("sess-1", "m2", "hello")))
	second.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, second)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, "generated answer", resp.Text)
	require.NotNil(t, resp.Message)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
}

func TestHandleChat_InvalidBody(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.KindValidation, errorKind(t, rec.Body.String()))
}

func TestHandleChat_ValidationError(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"id":"","trigger":"","messages":[]}`))
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat_AnonymousNewSession(t *testing.T) {
	h, _ := testHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(chatBody("sess-1", "m1", "hello")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, domain.KindUnauthenticated, errorKind(t, rec.Body.String()))
}

func TestHandleListSessions(t *testing.T) {
	h, ss := testHandler(t)
	_, err := ss.Create(context.Background(), "sess-1", "alice", []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Parts: []domain.Part{domain.TextPart("hi")}, CreatedAt: time.Now()},
	})
	require.NoError(t, err)

	// Owner sees their sessions.
	req := httptest.NewRequest(http.MethodGet, "/api/users/alice/sessions", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		UserID   string   `json:"userId"`
		Sessions []string `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"sess-1"}, resp.Sessions)

	// Another user is forbidden.
	req = httptest.NewRequest(http.MethodGet, "/api/users/alice/sessions", nil)
	req.Header.Set("X-User-ID", "bob")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Unless they hold an elevated role.
	req = httptest.NewRequest(http.MethodGet, "/api/users/alice/sessions", nil)
	req.Header.Set("X-User-ID", "bob")
	req.Header.Set("X-User-Roles", "moderator, support")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Anonymous is unauthenticated.
	req = httptest.NewRequest(http.MethodGet, "/api/users/alice/sessions", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGetSession(t *testing.T) {
	h, ss := testHandler(t)
	_, err := ss.Create(context.Background(), "sess-1", "alice", []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Parts: []domain.Part{domain.TextPart("hi")}, CreatedAt: time.Now()},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1", nil)
	req.Header.Set("X-User-ID", "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var sess domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "sess-1", sess.ID)
	assert.Len(t, sess.Messages, 1)

	// Missing session.
	req = httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil)
	req.Header.Set("X-User-ID", "alice")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.KindNotFound, errorKind(t, rec.Body.String()))
}

func TestHandleHealth(t *testing.T) {
	h, _ := testHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestStatusForKind(t *testing.T) {
	tests := map[domain.Kind]int{
		domain.KindValidation:      http.StatusBadRequest,
		domain.KindUnauthenticated: http.StatusUnauthorized,
		domain.KindForbidden:       http.StatusForbidden,
		domain.KindNotFound:        http.StatusNotFound,
		domain.KindVersionConflict: http.StatusConflict,
		domain.KindUpstream:        http.StatusBadGateway,
		domain.KindInternal:        http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, statusForKind(kind), string(kind))
	}
}

func TestIdentityFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, identityFromRequest(req).Present())

	req.Header.Set("X-User-ID", " alice ")
	req.Header.Set("X-User-Roles", "admin, ,moderator")
	id := identityFromRequest(req)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, []string{"admin", "moderator"}, id.Roles)
}
