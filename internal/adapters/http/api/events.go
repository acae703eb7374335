package api

import (
	"errors"
	"net/http"
	"strings"

	service "github.com/okian/popclaim/internal/app"
	"github.com/okian/popclaim/internal/domain/cost"
	"github.com/okian/popclaim/internal/domain/model"
)

// createEventRequest mirrors the OpenAPI schema for POST /events.
type createEventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
	Organizer   string `json:"organizer"`
	Date        string `json:"date"`
	MaxSupply   int    `json:"max_supply"`
}

func (r createEventRequest) metadata() model.EventMetadata {
	return model.EventMetadata{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		Image:       strings.TrimSpace(r.Image),
		Organizer:   strings.TrimSpace(r.Organizer),
		Date:        r.Date,
	}
}

type createEventResponse struct {
	EventID          string        `json:"event_id"`
	Tree             model.TreeRef `json:"tree"`
	EstimatedSavings cost.Estimate `json:"estimated_savings"`
	Event            model.Event   `json:"event"`
	Code             string        `json:"code,omitempty"`
	Message          string        `json:"message,omitempty"`
}

// handleCreateEvent handles POST /events.
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_event"
	var req createEventRequest
	if err := decode(w, r, op, &req); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.deps.CreateEvent(r.Context(), req.metadata(), req.MaxSupply)
	if err != nil && created.Event.ID == "" {
		s.failure(w, r, err)
		return
	}
	resp := createEventResponse{
		EventID:          created.Event.ID,
		Tree:             created.Event.Tree,
		EstimatedSavings: created.Estimate,
		Event:            created.Event,
	}
	status := http.StatusCreated
	if err != nil {
		// The event exists; report the tree outcome with the failure.
		status, resp.Code = statusFor(err)
		resp.Message = err.Error()
	}
	writeJSON(w, status, resp)
}

type listEventsResponse struct {
	Events []model.Event `json:"events"`
}

// handleListEvents handles GET /events.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_events"
	limit, err := queryInt(r, op, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	evs, err := s.deps.ListEvents(r.Context(), limit)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if evs == nil {
		evs = []model.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: evs})
}

type eventResponse struct {
	model.Event
	Remaining int `json:"remaining"`
}

// handleGetEvent handles GET /events/{id}.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.deps.GetEvent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eventResponse{Event: ev, Remaining: ev.Remaining()})
}

type issueClaimsRequest struct {
	Count int `json:"count"`
}

type issueClaimsResponse struct {
	EventID string                `json:"event_id"`
	Claims  []service.IssuedClaim `json:"claims"`
	Code    string                `json:"code,omitempty"`
	Message string                `json:"message,omitempty"`
}

// handleIssueClaims handles POST /events/{id}/claims. An empty body issues
// one code.
func (s *Server) handleIssueClaims(w http.ResponseWriter, r *http.Request) {
	const op = "api.issue_claims"
	eventID := r.PathValue("id")
	req := issueClaimsRequest{Count: 1}
	if r.ContentLength != 0 {
		if err := decode(w, r, op, &req); err != nil {
			writeError(w, err)
			return
		}
	}

	issued, err := s.deps.IssueClaims(r.Context(), eventID, req.Count)
	if err != nil && len(issued) == 0 {
		s.failure(w, r, err)
		return
	}
	resp := issueClaimsResponse{EventID: eventID, Claims: issued}
	if err != nil {
		// Partial batch: report why it stopped.
		_, resp.Code = statusFor(err)
		resp.Message = err.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

type listClaimsResponse struct {
	EventID string        `json:"event_id"`
	Claims  []model.Claim `json:"claims"`
}

// handleListClaims handles GET /events/{id}/claims.
func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_claims"
	limit, err := queryInt(r, op, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID := r.PathValue("id")
	cls, err := s.deps.ListClaims(r.Context(), eventID, limit)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if cls == nil {
		cls = []model.Claim{}
	}
	writeJSON(w, http.StatusOK, listClaimsResponse{EventID: eventID, Claims: cls})
}

// handleLookupClaim handles GET /events/{id}/claims/{code}.
func (s *Server) handleLookupClaim(w http.ResponseWriter, r *http.Request) {
	cl, err := s.deps.LookupClaim(r.Context(), r.PathValue("id"), r.PathValue("code"))
	if err != nil {
		s.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

type listMintsResponse struct {
	EventID string             `json:"event_id"`
	Mints   []model.MintRecord `json:"mints"`
}

// handleListMints handles GET /events/{id}/mints.
func (s *Server) handleListMints(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_mints"
	limit, err := queryInt(r, op, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	eventID := r.PathValue("id")
	if _, err := s.deps.GetEvent(r.Context(), eventID); err != nil {
		s.failure(w, r, err)
		return
	}
	recs, err := s.deps.ListMints(r.Context(), eventID, limit)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		s.failure(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.MintRecord{}
	}
	writeJSON(w, http.StatusOK, listMintsResponse{EventID: eventID, Mints: recs})
}
