package httpadapter

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	"ecocert/internal/domain"
)

type ciphertextRequest struct {
	Ciphertext *string `json:"ciphertext,omitempty"` // base64
	Plaintext  *uint64 `json:"plaintext,omitempty"`
}

type handleResponse struct {
	Handle domain.Handle `json:"handle"`
}

type recordRequest struct {
	Energy     domain.Handle `json:"energy"`
	Efficiency domain.Handle `json:"efficiency"`
}

type recordResponse struct {
	ID            domain.RecordID  `json:"id"`
	Owner         domain.Principal `json:"owner"`
	Verified      bool             `json:"verified"`
	Scored        bool             `json:"scored"`
	RevealedScore uint64           `json:"revealed_score"`
	CreatedAt     time.Time        `json:"created_at"`
}

type disclosureResponse struct {
	RequestID  domain.RequestID        `json:"request_id"`
	RecordID   domain.RecordID         `json:"record_id"`
	Status     domain.DisclosureStatus `json:"status"`
	Value      *uint64                 `json:"value,omitempty"`
	Reason     string                  `json:"reason,omitempty"`
	IssuedAt   time.Time               `json:"issued_at"`
	Deadline   *time.Time              `json:"deadline,omitempty"`
	ResolvedAt *time.Time              `json:"resolved_at,omitempty"`
}

type callbackRequest struct {
	Plaintext  uint64   `json:"plaintext"`
	Signatures []string `json:"signatures"` // 0x-prefixed hex
}

type authorityRequest struct {
	Authority domain.Principal `json:"authority"`
}

func (s *Server) getPublicKey(w http.ResponseWriter, r *http.Request) {
	pk, err := s.keys.PublicKey()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"scheme":            "bgv",
		"public_key":        base64.StdEncoding.EncodeToString(pk),
		"plaintext_modulus": s.keys.PlaintextModulus(),
	})
}

func (s *Server) postCiphertext(w http.ResponseWriter, r *http.Request) {
	var req ciphertextRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	var (
		h   domain.Handle
		err error
	)
	switch {
	case req.Ciphertext != nil && req.Plaintext == nil:
		raw, decErr := base64.StdEncoding.DecodeString(*req.Ciphertext)
		if decErr != nil {
			WriteError(w, r, http.StatusBadRequest, "bad_request", "ciphertext must be base64", nil)
			return
		}
		h, err = s.handles.Import(r.Context(), principal(r), raw)
	case req.Plaintext != nil && req.Ciphertext == nil:
		if !s.opts.AllowPlaintext {
			WriteError(w, r, http.StatusBadRequest, "bad_request", "plaintext submission is disabled", nil)
			return
		}
		h, err = s.handles.Encrypt(r.Context(), principal(r), *req.Plaintext)
	default:
		WriteError(w, r, http.StatusBadRequest, "bad_request", "exactly one of ciphertext or plaintext is required", nil)
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotAuthorized) {
			s.writeDomainError(w, r, err)
			return
		}
		WriteError(w, r, http.StatusBadRequest, "invalid_ciphertext", err.Error(), nil)
		return
	}
	WriteJSON(w, http.StatusCreated, handleResponse{Handle: h})
}

func (s *Server) postRecord(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := ReadJSON(r, &req); err != nil || req.Energy == "" || req.Efficiency == "" {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "energy and efficiency handles are required", nil)
		return
	}
	id, err := s.records.Submit(r.Context(), principal(r), req.Energy, req.Efficiency)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]domain.RecordID{"id": id})
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	rec, err := s.records.GetRecord(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, recordResponse{
		ID:            rec.ID,
		Owner:         rec.Owner,
		Verified:      rec.Verified,
		Scored:        rec.Scored,
		RevealedScore: rec.RevealedScore,
		CreatedAt:     rec.CreatedAt,
	})
}

func (s *Server) postVerify(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	if err := s.records.AttestVerified(r.Context(), id, principal(r)); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postDisclosure(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	req, err := s.disclosures.RequestDisclosure(r.Context(), id, principal(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, toDisclosureResponse(req))
}

func (s *Server) getScore(w http.ResponseWriter, r *http.Request) {
	id, ok := recordIDParam(w, r)
	if !ok {
		return
	}
	score, err := s.records.GetRevealedScore(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]uint64{"score": score})
}

func (s *Server) getDisclosure(w http.ResponseWriter, r *http.Request) {
	req, err := s.disclosures.Status(r.Context(), domain.RequestID(chi.URLParam(r, "requestId")))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, toDisclosureResponse(req))
}

func (s *Server) postCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	sigs := make([][]byte, 0, len(req.Signatures))
	for _, sig := range req.Signatures {
		b, err := hexutil.Decode(sig)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, "bad_request", "signatures must be 0x-prefixed hex", nil)
			return
		}
		sigs = append(sigs, b)
	}
	id := domain.RequestID(chi.URLParam(r, "requestId"))
	if err := s.disclosures.OnDisclosureResolved(r.Context(), id, req.Plaintext, sigs); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) putAuthority(w http.ResponseWriter, r *http.Request) {
	var req authorityRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	if err := s.records.RotateAuthority(r.Context(), principal(r), req.Authority); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func recordIDParam(w http.ResponseWriter, r *http.Request) (domain.RecordID, bool) {
	var id uint64
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid record id", nil)
		return 0, false
	}
	return domain.RecordID(id), true
}

func toDisclosureResponse(req domain.DisclosureRequest) disclosureResponse {
	out := disclosureResponse{
		RequestID: req.ID,
		RecordID:  req.RecordID,
		Status:    req.Status,
		Reason:    req.Reason,
		IssuedAt:  req.IssuedAt,
	}
	if req.Status == domain.StatusResolved {
		v := req.Value
		out.Value = &v
	}
	if !req.Deadline.IsZero() {
		d := req.Deadline
		out.Deadline = &d
	}
	if !req.ResolvedAt.IsZero() {
		t := req.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
