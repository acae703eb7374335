// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	service "github.com/okian/popclaim/internal/app"
	"github.com/okian/popclaim/internal/domain/cost"
	"github.com/okian/popclaim/internal/domain/model"
	"github.com/okian/popclaim/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateEvent(ctx context.Context, meta model.EventMetadata, maxSupply int) (service.Created, error)
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	ListEvents(ctx context.Context, limit int) ([]model.Event, error)

	IssueClaims(ctx context.Context, eventID string, count int) ([]service.IssuedClaim, error)
	LookupClaim(ctx context.Context, eventID, code string) (model.Claim, error)
	ListClaims(ctx context.Context, eventID string, limit int) ([]model.Claim, error)
	ListMints(ctx context.Context, eventID string, limit int) ([]model.MintRecord, error)

	// Claim redeems a code. It returns the mint record with
	// model.ErrAlreadyConsumed for codes that were already redeemed.
	Claim(ctx context.Context, eventID, code, recipient string) (model.MintRecord, error)

	Estimate(tokenCount int, regular, compressed decimal.Decimal) (cost.Estimate, error)
	EstimateDefault(tokenCount int) (cost.Estimate, error)

	Stats(ctx context.Context) (service.Stats, error)
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithOrganizerTokenHashes sets the bcrypt hashes of organizer tokens.
func WithOrganizerTokenHashes(hashes []string) Option {
	return func(s *Server) { s.auth = NewOrganizerAuth(hashes) }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps          Dependencies
	auth          *OrganizerAuth
	logger        logger.Logger
	healthHandler *HealthHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		auth:          NewOrganizerAuth(nil),
		logger:        logger.Nop(),
		healthHandler: NewHealthHandler(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	if !s.auth.Enabled() {
		s.logger.Warn(ctx, "no organizer tokens configured; organizer endpoints are open")
	}
	org := s.auth.Require

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.handleStats, "stats"))
	mux.HandleFunc("GET /estimate", MetricsMiddleware(s.handleEstimate, "estimate"))

	mux.HandleFunc("POST /events", MetricsMiddleware(org(s.handleCreateEvent), "events"))
	mux.HandleFunc("GET /events", MetricsMiddleware(s.handleListEvents, "events"))
	mux.HandleFunc("GET /events/{id}", MetricsMiddleware(s.handleGetEvent, "event"))
	mux.HandleFunc("POST /events/{id}/claims", MetricsMiddleware(org(s.handleIssueClaims), "event_claims"))
	mux.HandleFunc("GET /events/{id}/claims", MetricsMiddleware(org(s.handleListClaims), "event_claims"))
	mux.HandleFunc("GET /events/{id}/claims/{code}", MetricsMiddleware(s.handleLookupClaim, "event_claim"))
	mux.HandleFunc("GET /events/{id}/mints", MetricsMiddleware(s.handleListMints, "event_mints"))

	mux.HandleFunc("POST /claims", MetricsMiddleware(s.handleClaim, "claims"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, op string, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.WrapKind(op, ErrBadRequest, err)
	}
	return nil
}

// queryInt parses an optional positive integer parameter. Missing values
// return def.
func queryInt(r *http.Request, op, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, model.NewKindMsg(op, model.ErrInvalidInput, fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}

// failure logs unexpected errors before they are written.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := statusFor(err); status >= statusInternalError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("method", r.Method),
			logger.Error(err))
	}
	writeError(w, err)
}
