package api

import (
	"errors"
	"net/http"

	"github.com/okian/popclaim/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
)

// statusEntry maps an error kind to its HTTP status and response code.
type statusEntry struct {
	kind   error
	status int
	code   string
}

// statusTable is checked in order; the first matching kind wins.
var statusTable = []statusEntry{
	{model.ErrIntegrity, http.StatusInternalServerError, "integrity_violation"},
	{model.ErrConfirmationUnknown, http.StatusAccepted, "confirmation_unknown"},
	{model.ErrMintSubmissionFailed, http.StatusBadGateway, "mint_submission_failed"},
	{model.ErrProvisioningFailed, http.StatusBadGateway, "provisioning_failed"},
	{model.ErrAlreadyConsumed, http.StatusConflict, "already_consumed"},
	{model.ErrClaimPending, http.StatusConflict, "claim_pending"},
	{model.ErrSupplyExhausted, http.StatusConflict, "supply_exhausted"},
	{model.ErrCapacityExceeded, http.StatusBadRequest, "capacity_exceeded"},
	{model.ErrMalformedAddress, http.StatusBadRequest, "malformed_address"},
	{model.ErrInvalidClaim, http.StatusNotFound, "invalid_claim"},
	{model.ErrNotFound, http.StatusNotFound, "not_found"},
	{model.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
}

// statusFor returns the HTTP status and response code of err.
func statusFor(err error) (int, string) {
	for _, e := range statusTable {
		if errors.Is(err, e.kind) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
