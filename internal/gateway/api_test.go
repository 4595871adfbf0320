// ABOUTME: Tests for the session and turn HTTP API
// ABOUTME: Verifies turn outcomes, error mapping, per-user scoping, JWT auth and the SSE record stream

package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/auth"
	"github.com/2389/coven-concierge/internal/config"
	"github.com/2389/coven-concierge/internal/conversation"
	"github.com/2389/coven-concierge/internal/history"
	"github.com/2389/coven-concierge/internal/store"
)

// do sends a request through the gateway's full handler stack as userID
// (empty means the configured default user).
func do(t *testing.T, gw *Gateway, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func createSession(t *testing.T, gw *Gateway, userID string) SessionResponse {
	t.Helper()
	rec := do(t, gw, http.MethodPost, "/api/sessions", userID, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SessionResponse](t, rec)
}

func turn(t *testing.T, gw *Gateway, sessionID, text string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, gw, http.MethodPost, "/api/sessions/"+sessionID+"/turns", "", TurnRequest{Text: text})
}

func historyOf(t *testing.T, gw *Gateway, sessionID string) []history.Record {
	t.Helper()
	rec := do(t, gw, http.MethodGet, "/api/sessions/"+sessionID+"/history", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[HistoryResponse](t, rec).Records
}

func TestHandleCreateSession(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())

	sess := createSession(t, gw, "")

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, config.DefaultAppName, sess.AppName)
	assert.Equal(t, config.DefaultUserID, sess.UserID)
	assert.Equal(t, conversation.DefaultUserName, sess.State["user_name"])
	assert.Equal(t, []any{}, sess.State["purchased_courses"])
	assert.Equal(t, []any{}, sess.State[store.HistoryKey])
}

func TestHandleCreateSession_ConfiguredInitialState(t *testing.T) {
	gw := newTestGateway(t, greeterEngine(), func(c *config.Config) {
		c.App.InitialState = map[string]any{"user_name": "Brandon Hancock"}
	})

	sess := createSession(t, gw, "")

	assert.Equal(t, "Brandon Hancock", sess.State["user_name"])
	assert.Equal(t, []any{}, sess.State[store.HistoryKey])
}

func TestHandleTurn_GreeterAnswers(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())
	sess := createSession(t, gw, "")

	rec := turn(t, gw, sess.ID, "Hi")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[TurnResponse](t, rec)
	assert.True(t, resp.Responded)
	assert.Equal(t, "greeter", resp.AgentName)
	assert.Equal(t, "Hello!", resp.Text)
	assert.Equal(t, "<p>Hello!</p>\n", resp.HTML)
	assert.Empty(t, resp.Message)

	records := historyOf(t, gw, sess.ID)
	require.Len(t, records, 2)
	assert.Equal(t, history.RoleUser, records[0].Role)
	assert.Equal(t, "Hi", records[0].Text)
	assert.Equal(t, history.RoleAgent, records[1].Role)
	assert.Equal(t, "greeter", records[1].AgentName)
	assert.Equal(t, "Hello!", records[1].Text)
}

func TestHandleTurn_EmptyStream(t *testing.T) {
	gw := newTestGateway(t, &scriptedEngine{})
	sess := createSession(t, gw, "")

	rec := turn(t, gw, sess.ID, "Hi")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[TurnResponse](t, rec)
	assert.False(t, resp.Responded)
	assert.Empty(t, resp.AgentName)
	assert.Empty(t, resp.Text)
	assert.Equal(t, conversation.NoResponseMessage, resp.Message)

	records := historyOf(t, gw, sess.ID)
	require.Len(t, records, 1)
	assert.Equal(t, history.RoleUser, records[0].Role)
}

func TestHandleTurn_RendersMarkdown(t *testing.T) {
	gw := newTestGateway(t, agent.NewEchoEngine(agent.DefaultRootAgent, testLogger()))
	sess := createSession(t, gw, "")

	rec := turn(t, gw, sess.ID, "show me a bullet list")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[TurnResponse](t, rec)
	assert.True(t, resp.Responded)
	assert.Contains(t, resp.HTML, "<strong>markdown</strong>")
	assert.Contains(t, resp.HTML, "<li>First item</li>")
	assert.Contains(t, resp.HTML, "<blockquote>")
}

func TestHandleTurn_BadRequests(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())
	sess := createSession(t, gw, "")
	path := "/api/sessions/" + sess.ID + "/turns"

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"invalid json", "{not json", "invalid JSON"},
		{"missing text", `{}`, "text is required"},
		{"blank text", `{"text":"   "}`, "text is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			gw.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantMsg, decode[map[string]string](t, rec)["error"])
		})
	}

	// Nothing was recorded
	assert.Empty(t, historyOf(t, gw, sess.ID))
}

func TestHandleTurn_SessionNotFound(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())

	rec := turn(t, gw, "no-such-session", "Hi")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session not found", decode[map[string]string](t, rec)["error"])
}

func TestHandleTurn_EngineFailureKeepsQuery(t *testing.T) {
	engine := &scriptedEngine{err: &agent.StreamError{Engine: "remote engine", Message: "runtime overloaded"}}
	gw := newTestGateway(t, engine)
	sess := createSession(t, gw, "")

	rec := turn(t, gw, sess.ID, "Where is my order?")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "runtime overloaded")

	records := historyOf(t, gw, sess.ID)
	require.Len(t, records, 1)
	assert.Equal(t, "Where is my order?", records[0].Text)
}

func TestHandleTurn_Timeout(t *testing.T) {
	gw := newTestGateway(t, stallingEngine{}, func(c *config.Config) {
		c.Server.TurnTimeout = 50 * time.Millisecond
	})
	sess := createSession(t, gw, "")

	rec := turn(t, gw, sess.ID, "Hi")

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Len(t, historyOf(t, gw, sess.ID), 1)
}

func turnWithKey(t *testing.T, gw *Gateway, sessionID, text, key string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(TurnRequest{Text: text})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+sessionID+"/turns", bytes.NewReader(body))
	req.Header.Set(IdempotencyKeyHeader, key)
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHandleTurn_IdempotencyKey(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())
	sess := createSession(t, gw, "")
	other := createSession(t, gw, "")

	rec := turnWithKey(t, gw, sess.ID, "Hi", "retry-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = turnWithKey(t, gw, sess.ID, "Hi", "retry-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate turn", decode[map[string]string](t, rec)["error"])
	assert.Len(t, historyOf(t, gw, sess.ID), 2, "duplicate must not run the turn again")

	// Same key on another session is a different turn
	rec = turnWithKey(t, gw, other.ID, "Hi", "retry-1")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without a key every submission runs
	assert.Equal(t, http.StatusOK, turn(t, gw, sess.ID, "Hi").Code)
	assert.Equal(t, http.StatusOK, turn(t, gw, sess.ID, "Hi").Code)
	assert.Len(t, historyOf(t, gw, sess.ID), 6)
}

func TestHandleTurn_IdempotencyKeyTooLong(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())
	sess := createSession(t, gw, "")

	rec := turnWithKey(t, gw, sess.ID, "Hi", strings.Repeat("k", 101))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, historyOf(t, gw, sess.ID))
}

func TestHandleTurn_FailedTurnReleasesKey(t *testing.T) {
	engine := greeterEngine()
	engine.err = &agent.StreamError{Engine: "remote engine", Message: "runtime overloaded"}
	gw := newTestGateway(t, engine)
	sess := createSession(t, gw, "")

	rec := turnWithKey(t, gw, sess.ID, "Hi", "retry-2")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	engine.err = nil
	rec = turnWithKey(t, gw, sess.ID, "Hi", "retry-2")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestSessions_ScopedToCaller(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())

	alice := createSession(t, gw, "alice")
	time.Sleep(5 * time.Millisecond)
	alice2 := createSession(t, gw, "alice")
	assert.Equal(t, "alice", alice.UserID)

	// Bob cannot see Alice's session
	rec := do(t, gw, http.MethodGet, "/api/sessions/"+alice.ID, "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, gw, http.MethodGet, "/api/sessions", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListSessionsResponse](t, rec).Sessions)

	// Alice sees both, newest first, without state
	rec = do(t, gw, http.MethodGet, "/api/sessions", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode[ListSessionsResponse](t, rec).Sessions
	require.Len(t, sessions, 2)
	assert.Equal(t, alice2.ID, sessions[0].ID)
	assert.Equal(t, alice.ID, sessions[1].ID)
	assert.Nil(t, sessions[0].State)

	rec = do(t, gw, http.MethodGet, "/api/sessions/"+alice.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[SessionResponse](t, rec).State, store.HistoryKey)
}

func TestHandleHistory_NotFound(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())

	rec := do(t, gw, http.MethodGet, "/api/sessions/missing/history", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RequiresIdentity(t *testing.T) {
	gw := newTestGateway(t, greeterEngine(), func(c *config.Config) { c.App.DefaultUserID = "" })

	rec := do(t, gw, http.MethodGet, "/api/sessions", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_JWTAuth(t *testing.T) {
	secret := "gateway-api-test-secret-32bytes!"
	gw := newTestGateway(t, greeterEngine(), func(c *config.Config) {
		c.Auth.JWTSecret = secret
		c.App.DefaultUserID = ""
	})

	verifier, err := auth.NewJWTVerifier([]byte(secret))
	require.NoError(t, err)
	token, err := verifier.Generate("carol", time.Hour)
	require.NoError(t, err)

	// X-User-ID is not enough once JWT auth is on
	rec := do(t, gw, http.MethodPost, "/api/sessions", "carol", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "carol", decode[SessionResponse](t, rec).UserID)
}

func TestAPI_TurnsAreCounted(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())
	sess := createSession(t, gw, "")
	require.Equal(t, http.StatusOK, turn(t, gw, sess.ID, "Hi").Code)

	rec := do(t, gw, http.MethodGet, "/metrics", "", nil)
	body := rec.Body.String()

	assert.Contains(t, body, `concierge_turns_total{result="responded"} 1`)
	assert.Contains(t, body, `concierge_history_records_total{role="agent"} 1`)
}

// sseFrame is one parsed "event:/data:" frame.
type sseFrame struct {
	event string
	data  string
}

// readFrames parses SSE frames off r onto the returned channel.
func readFrames(r *bufio.Reader) <-chan sseFrame {
	ch := make(chan sseFrame)
	go func() {
		defer close(ch)
		var f sseFrame
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
			case line == "" && f.event != "":
				ch <- f
				f = sseFrame{}
			}
		}
	}()
	return ch
}

func nextFrame(t *testing.T, frames <-chan sseFrame) sseFrame {
	t.Helper()
	select {
	case f, ok := <-frames:
		require.True(t, ok, "stream closed")
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for SSE frame")
		return sseFrame{}
	}
}

func TestHandleEvents_StreamsNewRecords(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	sess := createSession(t, gw, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/sessions/"+sess.ID+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := readFrames(bufio.NewReader(resp.Body))
	assert.Equal(t, "subscribed", nextFrame(t, frames).event)

	require.Equal(t, http.StatusOK, turn(t, gw, sess.ID, "Hi").Code)

	var got []history.Record
	for range 2 {
		f := nextFrame(t, frames)
		require.Equal(t, "record", f.event)
		var rec history.Record
		require.NoError(t, json.Unmarshal([]byte(f.data), &rec))
		got = append(got, rec)
	}

	assert.Equal(t, history.RoleUser, got[0].Role)
	assert.Equal(t, "Hi", got[0].Text)
	assert.Equal(t, history.RoleAgent, got[1].Role)
	assert.Equal(t, "greeter", got[1].AgentName)
}

func TestHandleEvents_SessionNotFound(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())

	rec := do(t, gw, http.MethodGet, "/api/sessions/missing/events", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleEvents_EndsOnShutdown(t *testing.T) {
	gw := newTestGateway(t, greeterEngine())
	srv := httptest.NewServer(gw.Handler())
	defer srv.Close()

	sess := createSession(t, gw, "")

	resp, err := http.Get(srv.URL + "/api/sessions/" + sess.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readFrames(bufio.NewReader(resp.Body))
	assert.Equal(t, "subscribed", nextFrame(t, frames).event)

	gw.broadcaster.Close()

	select {
	case _, ok := <-frames:
		assert.False(t, ok, "expected stream to end")
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end after broadcaster closed")
	}
}
