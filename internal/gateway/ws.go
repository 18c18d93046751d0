package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/parleyhq/parley/internal/domain"
	"github.com/parleyhq/parley/internal/orchestrator"
	"github.com/parleyhq/parley/internal/turn"
)

const wsMaxMessageSize = 1 << 20 // 1MB

// handleWebSocket upgrades to a WebSocket and serves turns over it. Each
// client frame is one turn; the reply is the same event sequence as the SSE
// transport, one JSON frame per event. The connection stays open for
// further turns.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageSize)

	caller := identityFromRequest(r)
	s.log.Debug().Str("remote", r.RemoteAddr).Msg("websocket connection opened")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var raw turn.RawTurn
		if err := json.Unmarshal(msg, &raw); err != nil {
			s.writeWSError(conn, domain.Wrap(domain.KindValidation, "invalid turn payload", err))
			continue
		}

		result, err := s.svc.SubmitTurn(r.Context(), raw, caller)
		if err != nil {
			s.writeWSError(conn, err)
			continue
		}

		if result.Cached {
			for _, ev := range eventsForCached(result) {
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			}
			continue
		}

		for ev := range result.Events {
			if err := conn.WriteJSON(ev); err != nil {
				// Writer is gone; drain so the runner can finish its
				// best-effort persist.
				for range result.Events {
				}
				return
			}
		}
	}
}

func (s *Server) writeWSError(conn *websocket.Conn, err error) {
	ev := orchestrator.Event{
		Type:      orchestrator.EventError,
		ErrorKind: domain.KindOf(err),
		Error:     domain.MessageOf(err),
	}
	if werr := conn.WriteJSON(ev); werr != nil {
		s.log.Debug().Err(werr).Msg("websocket write error")
	}
}
