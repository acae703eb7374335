package claimdrill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPClient wraps http.Client with a timeout and the organizer token.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	token   string
}

// newHTTPClient creates a new HTTP client with timeout.
func newHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		token:   token,
	}
}

// do sends a request and decodes a JSON response into out when it is not nil.
// The status code is returned even when decoding fails.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *HTTPClient) health(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	// Any 200 is healthy; the body is the Prometheus exposition.
	if status != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", status)
	}
	return nil
}

func (c *HTTPClient) createEvent(ctx context.Context, supply int) (Event, error) {
	var resp createEventResponse
	status, err := c.do(ctx, http.MethodPost, "/events", createEventRequest{
		Name:      "Claim drill",
		Organizer: "claim-drill",
		Date:      time.Now().UTC().Format(time.DateOnly),
		MaxSupply: supply,
	}, &resp)
	if err != nil {
		return Event{}, err
	}
	if status != http.StatusCreated {
		return Event{}, fmt.Errorf("create event: status %d: %s: %s", status, resp.Code, resp.Message)
	}
	return resp.Event, nil
}

func (c *HTTPClient) issue(ctx context.Context, eventID string, count int) ([]IssuedClaim, error) {
	var resp issueResponse
	status, err := c.do(ctx, http.MethodPost, "/events/"+url.PathEscape(eventID)+"/claims",
		map[string]int{"count": count}, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("issue claims: status %d: %s: %s", status, resp.Code, resp.Message)
	}
	if resp.Code != "" {
		return resp.Claims, fmt.Errorf("issue claims: partial batch of %d: %s", len(resp.Claims), resp.Message)
	}
	return resp.Claims, nil
}

func (c *HTTPClient) claim(ctx context.Context, eventID, code, recipient string) Attempt {
	var resp claimResponse
	status, err := c.do(ctx, http.MethodPost, "/claims", claimRequest{
		EventID:          eventID,
		ClaimCode:        code,
		RecipientAddress: recipient,
	}, &resp)

	a := Attempt{Code: code, Recipient: recipient, Status: status, Signature: resp.Signature}
	switch {
	case err != nil:
		a.Outcome, a.Error = OutcomeFailed, err.Error()
	case status == http.StatusOK && resp.Success:
		a.Outcome = OutcomeMinted
	case resp.Code == "already_consumed":
		a.Outcome = OutcomeDuplicate
	case resp.Code == "claim_pending":
		a.Outcome = OutcomePending
	case resp.Code == "confirmation_unknown":
		a.Outcome = OutcomeUnknown
	default:
		a.Outcome, a.Error = OutcomeFailed, resp.Code+": "+resp.Message
	}
	return a
}

func (c *HTTPClient) event(ctx context.Context, eventID string) (Event, error) {
	var ev Event
	status, err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(eventID), nil, &ev)
	if err != nil {
		return Event{}, err
	}
	if status != http.StatusOK {
		return Event{}, fmt.Errorf("get event: status %d", status)
	}
	return ev, nil
}

func (c *HTTPClient) mints(ctx context.Context, eventID string, limit int) ([]Mint, error) {
	var resp mintsResponse
	path := "/events/" + url.PathEscape(eventID) + "/mints?limit=" + strconv.Itoa(limit)
	status, err := c.do(ctx, http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("list mints: status %d", status)
	}
	return resp.Mints, nil
}
