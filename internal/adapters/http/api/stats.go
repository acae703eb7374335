package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/okian/popclaim/internal/domain/model"
)

// handleStats handles GET /stats requests.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Stats(r.Context())
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleEstimate handles GET /estimate?tokens=N[&regular=x&compressed=y].
// Unit costs are given together or not at all.
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	const op = "api.estimate"
	q := r.URL.Query()
	tokens, err := queryInt(r, op, "tokens", 0)
	if err != nil {
		writeError(w, err)
		return
	}

	regular, compressed := q.Get("regular"), q.Get("compressed")
	if regular == "" && compressed == "" {
		est, err := s.deps.EstimateDefault(tokens)
		if err != nil {
			s.failure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, est)
		return
	}
	if regular == "" || compressed == "" {
		writeError(w, model.NewKindMsg(op, model.ErrInvalidInput, "regular and compressed must be given together"))
		return
	}
	reg, err := decimal.NewFromString(regular)
	if err != nil {
		writeError(w, model.WrapKind(op, model.ErrInvalidInput, err))
		return
	}
	comp, err := decimal.NewFromString(compressed)
	if err != nil {
		writeError(w, model.WrapKind(op, model.ErrInvalidInput, err))
		return
	}
	est, err := s.deps.Estimate(tokens, reg, comp)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}
