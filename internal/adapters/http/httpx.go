package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ecocert/internal/domain"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

// requestID is the id the RequestID middleware put in the context, so the
// error body matches the X-Request-Id header and the access log.
func requestID(r *http.Request) string {
	if r != nil {
		if id := middleware.GetReqID(r.Context()); id != "" {
			return id
		}
	}
	return NewRequestID()
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": requestID(r),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrUnknownRequest, http.StatusNotFound, "unknown_request"},
	{domain.ErrNotAuthorized, http.StatusForbidden, "not_authorized"},
	{domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{domain.ErrRequestExpired, http.StatusGone, "request_expired"},
	{domain.ErrInvalidSignatures, http.StatusUnprocessableEntity, "invalid_signatures"},
}

func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			WriteError(w, r, e.status, e.code, err.Error(), nil)
			return
		}
	}
	s.log.Error("request failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
	WriteError(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
}
