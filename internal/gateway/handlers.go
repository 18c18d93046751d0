package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/turn"
	"github.com/parleyhq/parley/internal/version"
)

const maxTurnBody = 1 << 20 // 1MB

// ChatResponse is the non-streamed reply for cache-served turns.
type ChatResponse struct {
	SessionID string          `json:"sessionId"`
	Cached    bool            `json:"cached"`
	Text      string          `json:"text"`
	Message   *domain.Message `json:"message"`
}

// handleChat accepts a turn and streams the generated answer as
// server-sent events. Cache-served turns return a plain JSON body instead
// of a stream.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var raw turn.RawTurn
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBody)).Decode(&raw); err != nil {
		writeError(w, domain.Wrap(domain.KindValidation, "invalid request body", err))
		return
	}

	result, err := s.svc.SubmitTurn(r.Context(), raw, identityFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}

	if result.Cached {
		writeJSON(w, http.StatusOK, ChatResponse{
			SessionID: result.SessionID,
			Cached:    true,
			Text:      result.Text,
			Message:   result.Message,
		})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, domain.E(domain.KindInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range result.Events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.log.Error().Err(err).Msg("encoding stream event")
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

// handleListSessions returns the session IDs owned by a user.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	ids, err := s.svc.ListSessionsForUser(r.Context(), userID, identityFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"userId":   userID,
		"sessions": ids,
	})
}

// handleGetSession returns a session with its full message history.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSessionContent(r.Context(), r.PathValue("id"), identityFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

// eventsForCached synthesizes the stream frames for a cache-served turn so
// streaming transports deliver the same shape either way.
func eventsForCached(result *orchestrator.TurnResult) []orchestrator.Event {
	return []orchestrator.Event{
		{Type: orchestrator.EventDelta, Delta: result.Text},
		{Type: orchestrator.EventDone, Message: result.Message},
	}
}
