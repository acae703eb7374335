package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/logger"
)

// claimRequest mirrors the OpenAPI schema for POST /claims.
type claimRequest struct {
	EventID          string `json:"event_id"`
	ClaimCode        string `json:"claim_code"`
	RecipientAddress string `json:"recipient_address"`
}

func (c claimRequest) validate() error {
	const op = "api.claim"
	switch {
	case strings.TrimSpace(c.EventID) == "":
		return model.NewKindMsg(op, model.ErrInvalidInput, "missing event_id")
	case strings.TrimSpace(c.ClaimCode) == "":
		return model.NewKindMsg(op, model.ErrInvalidInput, "missing claim_code")
	case strings.TrimSpace(c.RecipientAddress) == "":
		return model.NewKindMsg(op, model.ErrMalformedAddress, "missing recipient_address")
	}
	return nil
}

type claimResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`
	Code      string `json:"code,omitempty"`
	MintedAt  string `json:"minted_at,omitempty"`
}

// handleClaim handles POST /claims. Every outcome, including failures, is
// written as a claimResponse so callers can switch on code.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	const op = "api.claim"
	var req claimRequest
	if err := decode(w, r, op, &req); err != nil {
		s.writeClaim(w, r, model.MintRecord{}, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeClaim(w, r, model.MintRecord{}, err)
		return
	}
	rec, err := s.deps.Claim(r.Context(), strings.TrimSpace(req.EventID), strings.TrimSpace(req.ClaimCode), req.RecipientAddress)
	s.writeClaim(w, r, rec, err)
}

func (s *Server) writeClaim(w http.ResponseWriter, r *http.Request, rec model.MintRecord, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, claimResponse{
			Success:   true,
			Signature: rec.Signature,
			MintedAt:  rec.MintedAt.UTC().Format(time.RFC3339),
		})
		return
	}
	status, code := statusFor(err)
	if status >= statusInternalError {
		s.logger.Error(r.Context(), "claim failed", logger.Error(err))
	}
	resp := claimResponse{Success: false, Message: err.Error(), Code: code}
	if errors.Is(err, model.ErrAlreadyConsumed) {
		resp.Signature = rec.Signature
	}
	writeJSON(w, status, resp)
}
