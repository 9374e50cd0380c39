package server

// Request bodies. Responses reuse the domain types directly; their json tags
// are the wire format.

type IngestTicketRequest struct {
	ID     string `json:"id,omitempty" doc:"Idempotency id assigned by the feed"`
	Owner  string `json:"owner" doc:"User the ticket belongs to"`
	Source string `json:"source,omitempty" doc:"Upstream feed reference"`
}

type PrepareMintRequest struct {
	IntentID string `json:"intent_id,omitempty" doc:"Idempotency id for the intent"`
	Wallet   string `json:"wallet" doc:"Wallet address that will receive the collectible"`
}

type SubmitRequest struct {
	SignedTx string `json:"signed_tx" doc:"Signed transaction payload, base64 or hex as prepared"`
}

type CreateOfferRequest struct {
	ID        string   `json:"id,omitempty"`
	Wallet    string   `json:"wallet"`
	Asset     string   `json:"asset"`
	Wanted    []string `json:"wanted"`
	ExpiresAt string   `json:"expires_at" format:"date-time"`
}

type LockOfferRequest struct {
	Wallet string `json:"wallet"`
	Asset  string `json:"asset"`
}

type CreateListingRequest struct {
	ID        string `json:"id,omitempty"`
	Wallet    string `json:"wallet"`
	Asset     string `json:"asset"`
	Price     int64  `json:"price"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type LockListingRequest struct {
	Wallet string `json:"wallet"`
}

type PrepareTransferRequest struct {
	ID        string `json:"id,omitempty"`
	Wallet    string `json:"wallet"`
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
}

type LinkWalletRequest struct {
	Address string `json:"address"`
}
