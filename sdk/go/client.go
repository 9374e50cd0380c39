package mintlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Mintline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Ticket represents the API ticket model.
type Ticket struct {
	ID     string `json:"id"`
	Owner  string `json:"owner"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// MintIntent represents a mint intent, including its draw provenance and the
// unsigned transaction to sign.
type MintIntent struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	Wallet         string `json:"wallet"`
	TicketID       string `json:"ticket_id"`
	Identity       string `json:"identity"`
	RandomHex      string `json:"random_hex"`
	SelectionIndex int    `json:"selection_index"`
	PreparedTx     string `json:"prepared_tx"`
	MintTxRef      string `json:"mint_tx_ref,omitempty"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
}

// TradeOffer represents a trade offer (partial).
type TradeOffer struct {
	ID              string   `json:"id"`
	Maker           string   `json:"maker"`
	MakerAsset      string   `json:"maker_asset"`
	Wanted          []string `json:"wanted"`
	MakerPreparedTx string   `json:"maker_prepared_tx,omitempty"`
	TakerPreparedTx string   `json:"taker_prepared_tx,omitempty"`
	SettleTxRef     string   `json:"settle_tx_ref,omitempty"`
	Status          string   `json:"status"`
	ExpiresAt       string   `json:"expires_at"`
}

// SaleListing represents a sale listing (partial).
type SaleListing struct {
	ID               string `json:"id"`
	Seller           string `json:"seller"`
	Asset            string `json:"asset"`
	Price            int64  `json:"price"`
	SellerPreparedTx string `json:"seller_prepared_tx,omitempty"`
	BuyerPreparedTx  string `json:"buyer_prepared_tx,omitempty"`
	SettleTxRef      string `json:"settle_tx_ref,omitempty"`
	Status           string `json:"status"`
	ExpiresAt        string `json:"expires_at"`
}

// Finding is a fairness verdict for a mint.
type Finding struct {
	IntentID          string `json:"intent_id"`
	Identity          string `json:"identity"`
	RandomnessPresent bool   `json:"randomness_present"`
	DrawReproduced    bool   `json:"draw_reproduced"`
	TxsConfirmed      bool   `json:"txs_confirmed"`
	Fair              bool   `json:"fair"`
	Detail            string `json:"detail,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PrepareMint leases a ticket and draws an identity.
func (c *Client) PrepareMint(ctx context.Context, wallet, intentID string) (MintIntent, error) {
	body := map[string]any{"wallet": wallet}
	if intentID != "" {
		body["intent_id"] = intentID
	}
	var resp MintIntent
	err := c.do(ctx, http.MethodPost, "v0/mints", body, &resp)
	return resp, err
}

// SubmitMint forwards the signed mint transaction.
func (c *Client) SubmitMint(ctx context.Context, intentID, signedTx string) (MintIntent, error) {
	body := map[string]any{"signed_tx": signedTx}
	var resp MintIntent
	endpoint := fmt.Sprintf("v0/mints/%s/submit", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CancelMint abandons a prepared mint.
func (c *Client) CancelMint(ctx context.Context, intentID string) (MintIntent, error) {
	var resp MintIntent
	endpoint := fmt.Sprintf("v0/mints/%s/cancel", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// VerifyMint replays a draw from its stored provenance.
func (c *Client) VerifyMint(ctx context.Context, intentID string) (Finding, error) {
	var resp Finding
	endpoint := fmt.Sprintf("v0/mints/%s/verify", url.PathEscape(intentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Tickets lists the caller's tickets.
func (c *Client) Tickets(ctx context.Context, status string) ([]Ticket, error) {
	endpoint := "v0/tickets"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Ticket
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateOffer drafts a trade offer.
func (c *Client) CreateOffer(ctx context.Context, wallet, asset string, wanted []string, expiresAt string) (TradeOffer, error) {
	body := map[string]any{
		"wallet":     wallet,
		"asset":      asset,
		"wanted":     wanted,
		"expires_at": expiresAt,
	}
	var resp TradeOffer
	err := c.do(ctx, http.MethodPost, "v0/offers", body, &resp)
	return resp, err
}

// OpenOffer submits the maker delegation.
func (c *Client) OpenOffer(ctx context.Context, offerID, signedTx string) (TradeOffer, error) {
	body := map[string]any{"signed_tx": signedTx}
	var resp TradeOffer
	endpoint := fmt.Sprintf("v0/offers/%s/open", url.PathEscape(offerID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// LockOffer claims an open offer as taker.
func (c *Client) LockOffer(ctx context.Context, offerID, wallet, asset string) (TradeOffer, error) {
	body := map[string]any{"wallet": wallet, "asset": asset}
	var resp TradeOffer
	endpoint := fmt.Sprintf("v0/offers/%s/lock", url.PathEscape(offerID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AcceptOffer submits the taker delegation and settles the swap.
func (c *Client) AcceptOffer(ctx context.Context, offerID, signedTx string) (TradeOffer, error) {
	body := map[string]any{"signed_tx": signedTx}
	var resp TradeOffer
	endpoint := fmt.Sprintf("v0/offers/%s/accept", url.PathEscape(offerID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateListing drafts a sale listing.
func (c *Client) CreateListing(ctx context.Context, wallet, asset string, price int64, expiresAt string) (SaleListing, error) {
	body := map[string]any{
		"wallet":     wallet,
		"asset":      asset,
		"price":      price,
		"expires_at": expiresAt,
	}
	var resp SaleListing
	err := c.do(ctx, http.MethodPost, "v0/listings", body, &resp)
	return resp, err
}

// LockListing claims an open listing as buyer.
func (c *Client) LockListing(ctx context.Context, listingID, wallet string) (SaleListing, error) {
	body := map[string]any{"wallet": wallet}
	var resp SaleListing
	endpoint := fmt.Sprintf("v0/listings/%s/lock", url.PathEscape(listingID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// BuyListing submits the buyer payment and settles the sale.
func (c *Client) BuyListing(ctx context.Context, listingID, signedTx string) (SaleListing, error) {
	body := map[string]any{"signed_tx": signedTx}
	var resp SaleListing
	endpoint := fmt.Sprintf("v0/listings/%s/buy", url.PathEscape(listingID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
