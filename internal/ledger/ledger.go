// Package ledger abstracts the external append-only ledger: transaction
// submission, finality checks, and asset queries.
package ledger

import "context"

// Asset is one on-ledger collectible as reported by the asset query API.
type Asset struct {
	ID         string            `json:"id"`
	Owner      string            `json:"owner"`
	Delegate   string            `json:"delegate"`
	Attributes map[string]string `json:"attributes"`
}

// identityTrait is the attribute naming the collectible identity.
const identityTrait = "identity"

// Identity returns the collectible identity trait. It fails closed: a missing
// or blank trait reports no identity rather than a guess.
func (a Asset) Identity() (string, bool) {
	v, ok := a.Attributes[identityTrait]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// TxStatus reports whether a transaction is known and finalized.
type TxStatus struct {
	Found     bool  `json:"found"`
	Confirmed bool  `json:"confirmed"`
	Slot      int64 `json:"slot"`
}

// Client is the external ledger collaborator.
type Client interface {
	// SendTransaction submits signed transaction bytes and returns the
	// ledger signature reference.
	SendTransaction(ctx context.Context, signed []byte) (string, error)
	// ConfirmTransaction blocks until the transaction is finalized or the
	// ledger reports a failure.
	ConfirmTransaction(ctx context.Context, sig string) error
	// GetTransactionStatus reports finality without blocking.
	GetTransactionStatus(ctx context.Context, sig string) (TxStatus, error)
	// GetAssetsByOwner lists the assets currently held by a wallet address.
	GetAssetsByOwner(ctx context.Context, addr string) ([]Asset, error)
}
