package assetmover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout = 30 * time.Second
)

// HTTPMover implements Mover against a JSON settlement service.
// It performs exactly one attempt per call; retry policy belongs to the
// caller (the distribution processor).
type HTTPMover struct {
	endpoint string
	client   *http.Client
}

// MoverOption configures HTTPMover.
type MoverOption func(*HTTPMover)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) MoverOption {
	return func(m *HTTPMover) {
		m.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) MoverOption {
	return func(m *HTTPMover) {
		m.client = client
	}
}

// NewHTTPMover creates a mover that POSTs transfer requests to endpoint.
func NewHTTPMover(endpoint string, opts ...MoverOption) *HTTPMover {
	m := &HTTPMover{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// transferRequest is the wire shape of a transfer call.
type transferRequest struct {
	Source         string `json:"source"`
	ToAddress      string `json:"to_address"`
	Amount         string `json:"amount"`
	AssetKind      string `json:"asset_kind"`
	IdempotencyKey string `json:"idempotency_key"`
}

// transferResponse is the wire shape of the settlement service reply.
type transferResponse struct {
	Success        bool   `json:"success"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	ErrorReason    string `json:"error_reason,omitempty"`
}

// Transfer executes one transfer attempt. Timeouts, transport errors, and
// explicit non-success responses are all returned as errors so the caller
// treats them uniformly as failed attempts.
func (m *HTTPMover) Transfer(ctx context.Context, req *TransferRequest) (*Receipt, error) {
	body, err := json.Marshal(transferRequest{
		Source:         req.Source,
		ToAddress:      req.ToAddress,
		Amount:         req.Amount.String(),
		AssetKind:      req.AssetKind,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal transfer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var tr transferResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if !tr.Success {
		reason := tr.ErrorReason
		if reason == "" {
			reason = "settlement service rejected transfer"
		}
		return nil, fmt.Errorf("transfer rejected: %s", reason)
	}

	return &Receipt{
		TransactionRef: tr.TransactionRef,
		Timestamp:      time.Now().UnixMilli(),
	}, nil
}

var _ Mover = (*HTTPMover)(nil)
