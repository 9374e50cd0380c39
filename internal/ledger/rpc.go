package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RPCClient talks to the ledger node over its JSON HTTP API.
type RPCClient struct {
	BaseURL        string
	HTTPClient     *http.Client
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// NewRPCClient creates a client with sane defaults.
func NewRPCClient(baseURL string) *RPCClient {
	return &RPCClient{
		BaseURL:        baseURL,
		HTTPClient:     &http.Client{Timeout: 15 * time.Second},
		ConfirmTimeout: 30 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

type rpcRequest struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

func (c *RPCClient) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(rpcRequest{Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("ledger rpc %s: %w", method, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger rpc %s: status=%d body=%s", method, resp.StatusCode, string(data))
	}
	var envelope rpcResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("ledger rpc %s: invalid response: %w", method, err)
	}
	if envelope.Error != "" {
		return fmt.Errorf("ledger rpc %s: %s", method, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("ledger rpc %s: decode result: %w", method, err)
		}
	}
	return nil
}

func (c *RPCClient) SendTransaction(ctx context.Context, signed []byte) (string, error) {
	var result struct {
		Signature string `json:"signature"`
	}
	params := map[string]string{"transaction": string(signed)}
	if err := c.call(ctx, "sendTransaction", params, &result); err != nil {
		return "", err
	}
	if result.Signature == "" {
		return "", fmt.Errorf("ledger returned empty signature")
	}
	return result.Signature, nil
}

// ConfirmTransaction polls status until finalized, failed, or timed out.
func (c *RPCClient) ConfirmTransaction(ctx context.Context, sig string) error {
	timeout := c.ConfirmTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := c.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.GetTransactionStatus(ctx, sig)
		if err == nil && status.Confirmed {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) GetTransactionStatus(ctx context.Context, sig string) (TxStatus, error) {
	var result TxStatus
	params := map[string]string{"signature": sig}
	if err := c.call(ctx, "getTransactionStatus", params, &result); err != nil {
		return TxStatus{}, err
	}
	return result, nil
}

func (c *RPCClient) GetAssetsByOwner(ctx context.Context, addr string) ([]Asset, error) {
	var result struct {
		Assets []Asset `json:"assets"`
	}
	params := map[string]string{"owner": addr}
	if err := c.call(ctx, "getAssetsByOwner", params, &result); err != nil {
		return nil, err
	}
	return result.Assets, nil
}
