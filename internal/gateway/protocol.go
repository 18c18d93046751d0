package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/parleyhq/parley/internal/domain"
)

// ErrorShape is the error payload sent to clients.
type ErrorShape struct {
	Kind    domain.Kind `json:"kind"`
	Message string      `json:"message"`
}

type errorEnvelope struct {
	Error ErrorShape `json:"error"`
}

// statusForKind maps error kinds to HTTP status codes.
func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindVersionConflict:
		return http.StatusConflict
	case domain.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError renders an error with its kind-mapped status. Only the
// caller-safe message is exposed.
func writeError(w http.ResponseWriter, err error) {
	kind := domain.KindOf(err)
	writeJSON(w, statusForKind(kind), errorEnvelope{
		Error: ErrorShape{Kind: kind, Message: domain.MessageOf(err)},
	})
}
