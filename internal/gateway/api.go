// ABOUTME: HTTP API handlers for sessions, turns and live history updates
// ABOUTME: Turns answer with JSON (plus rendered HTML); /events streams new records via SSE

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/coven-concierge/internal/agent"
	"github.com/2389/coven-concierge/internal/auth"
	"github.com/2389/coven-concierge/internal/conversation"
	"github.com/2389/coven-concierge/internal/history"
	"github.com/2389/coven-concierge/internal/store"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

// IdempotencyKeyHeader marks a turn submission so client retries run it once.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 100

// sseKeepalive is how often an idle /events stream writes a comment line.
var sseKeepalive = 15 * time.Second

// SessionResponse is the JSON response for a session.
type SessionResponse struct {
	ID        string         `json:"id"`
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	State     map[string]any `json:"state,omitempty"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// ListSessionsResponse is the JSON response for GET /api/sessions.
type ListSessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// HistoryResponse is the JSON response for GET /api/sessions/{id}/history.
type HistoryResponse struct {
	SessionID string           `json:"session_id"`
	Records   []history.Record `json:"records"`
}

// TurnRequest is the JSON request body for POST /api/sessions/{id}/turns.
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnResponse is the JSON response for POST /api/sessions/{id}/turns.
// Responded is false when the engine produced no final text; Message then
// carries the text to show instead.
type TurnResponse struct {
	SessionID string `json:"session_id"`
	AgentName string `json:"agent_name,omitempty"`
	Text      string `json:"text,omitempty"`
	HTML      string `json:"html,omitempty"`
	Responded bool   `json:"responded"`
	Message   string `json:"message,omitempty"`
}

func toSessionResponse(s *store.Session, withState bool) SessionResponse {
	resp := SessionResponse{
		ID:        s.ID,
		AppName:   s.AppName,
		UserID:    s.UserID,
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if withState {
		resp.State = s.State
	}
	return resp
}

// sessionRef addresses the {id} session of the authenticated caller.
func (g *Gateway) sessionRef(r *http.Request) store.SessionRef {
	return g.conversation.Ref(auth.UserID(r.Context()), r.PathValue("id"))
}

// handleCreateSession handles POST /api/sessions.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.conversation.StartSession(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.logger.Error("failed to create session", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess, true))
}

// handleListSessions handles GET /api/sessions, newest first.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := g.conversation.ListSessions(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListSessionsResponse{Sessions: make([]SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		resp.Sessions = append(resp.Sessions, toSessionResponse(s, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetSession handles GET /api/sessions/{id}, returning the full state.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := g.conversation.Session(r.Context(), g.sessionRef(r))
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess, true))
}

// handleHistory handles GET /api/sessions/{id}/history.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	ref := g.sessionRef(r)
	records, err := g.conversation.History(r.Context(), ref)
	if err != nil {
		g.sendStoreError(w, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SessionID: ref.SessionID, Records: records})
}

// handleTurn handles POST /api/sessions/{id}/turns.
// The turn runs under server.turn_timeout when one is configured.
func (g *Gateway) handleTurn(w http.ResponseWriter, r *http.Request) {
	req, err := parseTurnRequest(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if timeout := g.config.Server.TurnTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ref := g.sessionRef(r)

	turnKey := ""
	if key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)); key != "" {
		if len(key) > maxIdempotencyKeyLen {
			g.sendJSONError(w, http.StatusBadRequest, "idempotency key too long")
			return
		}
		turnKey = ref.UserID + "/" + ref.SessionID + "/" + key
		if !g.turnKeys.Claim(turnKey) {
			g.sendJSONError(w, http.StatusConflict, "duplicate turn")
			return
		}
	}

	outcome, err := g.conversation.HandleTurn(ctx, ref, req.Text)
	if err != nil {
		// A failed turn may be retried with the same key.
		if turnKey != "" {
			g.turnKeys.Release(turnKey)
		}
		g.sendTurnError(w, r, err)
		return
	}

	resp := TurnResponse{
		SessionID: ref.SessionID,
		AgentName: outcome.AgentName,
		Text:      outcome.Text,
		Responded: !outcome.Empty(),
	}
	if outcome.Empty() {
		resp.Message = conversation.NoResponseMessage
	} else {
		resp.HTML = g.renderMarkdown(outcome.Text)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTurnRequest decodes a TurnRequest and rejects blank text.
func parseTurnRequest(r io.Reader) (*TurnRequest, error) {
	var req TurnRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("text is required")
	}
	return &req, nil
}

// handleEvents handles GET /api/sessions/{id}/events.
// Each record written to the session after the stream opens is sent as a
// "record" event until the client disconnects or the gateway shuts down.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ref := g.sessionRef(r)
	if _, err := g.conversation.Session(r.Context(), ref); err != nil {
		g.sendStoreError(w, err)
		return
	}

	updates, _ := g.conversation.Subscribe(r.Context(), ref)
	if updates == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "live updates unavailable")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "subscribed", map[string]string{"session_id": ref.SessionID})
	flusher.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case update, ok := <-updates:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "record", update.Record)
			flusher.Flush()
		}
	}
}

// renderMarkdown converts an answer to HTML. On failure the text is returned
// escaped inside a paragraph.
func (g *Gateway) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := g.markdown.Convert([]byte(text), &buf); err != nil {
		g.logger.Error("failed to convert markdown", "error", err)
		return "<p>" + html.EscapeString(text) + "</p>"
	}
	return buf.String()
}

// sendStoreError maps session lookup failures to HTTP responses.
func (g *Gateway) sendStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrSessionNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	g.logger.Error("session lookup failed", "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
}

// sendTurnError maps a failed turn to an HTTP response.
func (g *Gateway) sendTurnError(w http.ResponseWriter, r *http.Request, err error) {
	var streamErr *agent.StreamError
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		g.sendJSONError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, context.DeadlineExceeded):
		g.sendJSONError(w, http.StatusGatewayTimeout, "turn timed out")
	case r.Context().Err() != nil:
		// Client went away; nobody is left to answer
	case errors.As(err, &streamErr):
		g.sendJSONError(w, http.StatusBadGateway, fmt.Sprintf("agent engine failed: %s", streamErr.Message))
	default:
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	if err := agent.WriteSSE(w, event, data); err != nil {
		g.logger.Error("failed to write SSE event", "event", event, "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
