package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPBeacon talks to a beacon provider over its JSON HTTP API.
type HTTPBeacon struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPBeacon creates a provider client with sane defaults.
func NewHTTPBeacon(baseURL string) *HTTPBeacon {
	return &HTTPBeacon{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type beaconResponse struct {
	TxRef    string `json:"tx_ref"`
	ValueHex string `json:"value_hex,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (b *HTTPBeacon) post(ctx context.Context, path string) (beaconResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.BaseURL+path, bytes.NewReader([]byte("{}")))
	if err != nil {
		return beaconResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return beaconResponse{}, fmt.Errorf("beacon %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return beaconResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return beaconResponse{}, fmt.Errorf("beacon %s: status=%d body=%s", path, resp.StatusCode, string(data))
	}
	var out beaconResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return beaconResponse{}, fmt.Errorf("beacon %s: invalid response: %w", path, err)
	}
	if out.Error != "" {
		return beaconResponse{}, fmt.Errorf("beacon %s: %s", path, out.Error)
	}
	return out, nil
}

func (b *HTTPBeacon) Commit(ctx context.Context) (string, error) {
	out, err := b.post(ctx, "/commit")
	if err != nil {
		return "", err
	}
	return out.TxRef, nil
}

func (b *HTTPBeacon) Reveal(ctx context.Context) ([]byte, string, error) {
	out, err := b.post(ctx, "/reveal")
	if err != nil {
		return nil, "", err
	}
	value, err := hex.DecodeString(out.ValueHex)
	if err != nil {
		return nil, "", fmt.Errorf("beacon reveal: invalid value hex: %w", err)
	}
	return value, out.TxRef, nil
}

func (b *HTTPBeacon) Close(ctx context.Context) (string, error) {
	out, err := b.post(ctx, "/close")
	if err != nil {
		return "", err
	}
	return out.TxRef, nil
}
