package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultRPCTimeout = 12 * time.Second

// RPCError is an error object returned by the JSON-RPC endpoint.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("solana rpc: error code=%d message=%s", e.Code, e.Message)
}

// jsonRPC is a minimal JSON-RPC client for the calls whose error shape
// matters to the caller.
type jsonRPC struct {
	endpoint string
	http     *http.Client
}

func newJSONRPC(endpoint string, hc *http.Client) *jsonRPC {
	if hc == nil {
		hc = &http.Client{Timeout: defaultRPCTimeout}
	}
	return &jsonRPC{endpoint: endpoint, http: hc}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

func (c *jsonRPC) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("solana rpc: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("solana rpc: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("solana rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("solana rpc: %s: http status=%d", method, resp.StatusCode)
	}
	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("solana rpc: %s: decode response: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("solana rpc: %s: unmarshal result: %w", method, err)
		}
	}
	return nil
}

// sendRaw submits a signed, serialised transaction with preflight checks.
func (c *jsonRPC) sendRaw(ctx context.Context, raw []byte, commitment string) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(raw),
		map[string]any{
			"encoding":            "base64",
			"preflightCommitment": commitment,
		},
	}
	var sig string
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return "", err
	}
	return sig, nil
}

type signatureStatus struct {
	Slot               uint64          `json:"slot"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

type signatureStatuses struct {
	Value []*signatureStatus `json:"value"`
}

// status returns the status of one signature, or nil when the node has no
// record of it.
func (c *jsonRPC) status(ctx context.Context, sig string) (*signatureStatus, error) {
	params := []any{
		[]string{sig},
		map[string]any{"searchTransactionHistory": true},
	}
	var out signatureStatuses
	if err := c.call(ctx, "getSignatureStatuses", params, &out); err != nil {
		return nil, err
	}
	if len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}

// JSON-RPC error codes that prove a transaction was refused before it could
// reach a leader. Preflight failures include an unknown blockhash.
const (
	codePreflightFailure      = -32002
	codeSignatureVerification = -32003
	codeSignatureLenMismatch  = -32013
	codeUnsupportedVersion    = -32015
	codeInvalidParams         = -32602
)

// isRejection reports whether err means the transaction will never land.
// Other RPC errors, such as an unhealthy node or an internal error, leave
// the outcome open.
func isRejection(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case codePreflightFailure, codeSignatureVerification, codeSignatureLenMismatch,
		codeUnsupportedVersion, codeInvalidParams:
		return true
	}
	return false
}
