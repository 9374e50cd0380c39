// Package settle holds the delegation key and composes multi-leg settlement
// transactions once every leg has confirmed its delegation.
package settle

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mintline/internal/ledger"
)

var (
	// ErrAssetMoved means the recorded holder no longer holds the asset.
	ErrAssetMoved = errors.New("asset holder changed since lock")
	// ErrNotDelegated means the asset's delegate is not the authority key.
	ErrNotDelegated = errors.New("asset not delegated to settlement authority")
)

// Authority signs settlement transactions with its own key after re-verifying
// every leg on the external ledger.
type Authority struct {
	Ledger ledger.Client

	priv ed25519.PrivateKey
	addr string
}

// New derives the authority from a 32-byte ed25519 seed in hex.
func New(seedHex string, lc ledger.Client) (*Authority, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("authority seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("authority seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Authority{
		Ledger: lc,
		priv:   priv,
		addr:   hex.EncodeToString(pub),
	}, nil
}

// Address is the authority's public delegation address.
func (a *Authority) Address() string {
	return a.addr
}

// PrepareDelegation composes the unsigned transaction delegating an asset to
// the authority. The asset owner signs it externally.
func (a *Authority) PrepareDelegation(asset, ownerWallet string) ledger.Transaction {
	return ledger.Transaction{
		Kind:     "delegate",
		Nonce:    uuid.NewString(),
		Delegate: a.addr,
		Legs:     []ledger.Leg{{Asset: asset, From: ownerWallet, To: ownerWallet}},
	}
}

// PrepareMint composes the unsigned mint transaction for a drawn identity.
func (a *Authority) PrepareMint(identity, wallet string) ledger.Transaction {
	return ledger.Transaction{
		Kind:     "mint",
		Nonce:    uuid.NewString(),
		Identity: identity,
		Legs:     []ledger.Leg{{Asset: "", From: "", To: wallet}},
	}
}

// PrepareTransfer composes the unsigned direct transfer transaction.
func (a *Authority) PrepareTransfer(asset, fromWallet, toWallet string) ledger.Transaction {
	return ledger.Transaction{
		Kind:  "transfer",
		Nonce: uuid.NewString(),
		Legs:  []ledger.Leg{{Asset: asset, From: fromWallet, To: toWallet}},
	}
}

// PreparePayment composes the unsigned buyer payment for a sale listing.
func (a *Authority) PreparePayment(amount int64, buyerWallet, sellerWallet string) ledger.Transaction {
	return ledger.Transaction{
		Kind:    "sale",
		Nonce:   uuid.NewString(),
		Payment: &ledger.Payment{Amount: amount, From: buyerWallet, To: sellerWallet},
	}
}

// VerifyCustody checks on the ledger that the wallet still holds the asset
// and that the asset's delegate is the authority key.
func (a *Authority) VerifyCustody(ctx context.Context, asset, wallet string) error {
	assets, err := a.Ledger.GetAssetsByOwner(ctx, wallet)
	if err != nil {
		return fmt.Errorf("query assets of %s: %w", wallet, err)
	}
	for _, candidate := range assets {
		if candidate.ID != asset {
			continue
		}
		if candidate.Delegate != a.addr {
			return ErrNotDelegated
		}
		return nil
	}
	return ErrAssetMoved
}

// SettleSwap re-verifies both legs, composes the two-way swap, signs it with
// the authority key, submits it, and waits for finality. Nothing moves unless
// the composed transaction is fully valid at submission time.
func (a *Authority) SettleSwap(ctx context.Context, makerAsset, makerWallet, takerAsset, takerWallet string) (string, error) {
	if err := a.VerifyCustody(ctx, makerAsset, makerWallet); err != nil {
		return "", fmt.Errorf("maker leg: %w", err)
	}
	if err := a.VerifyCustody(ctx, takerAsset, takerWallet); err != nil {
		return "", fmt.Errorf("taker leg: %w", err)
	}
	tx := ledger.Transaction{
		Kind:  "swap",
		Nonce: uuid.NewString(),
		Legs: []ledger.Leg{
			{Asset: makerAsset, From: makerWallet, To: takerWallet},
			{Asset: takerAsset, From: takerWallet, To: makerWallet},
		},
	}
	return a.submit(ctx, tx)
}

// SettleSale re-verifies the seller leg, composes the asset transfer plus
// payment, signs, submits, and waits for finality.
func (a *Authority) SettleSale(ctx context.Context, asset, sellerWallet, buyerWallet string, price int64) (string, error) {
	if err := a.VerifyCustody(ctx, asset, sellerWallet); err != nil {
		return "", fmt.Errorf("seller leg: %w", err)
	}
	tx := ledger.Transaction{
		Kind:    "sale",
		Nonce:   uuid.NewString(),
		Legs:    []ledger.Leg{{Asset: asset, From: sellerWallet, To: buyerWallet}},
		Payment: &ledger.Payment{Amount: price, From: buyerWallet, To: sellerWallet},
	}
	return a.submit(ctx, tx)
}

func (a *Authority) submit(ctx context.Context, tx ledger.Transaction) (string, error) {
	if err := tx.Sign(a.priv); err != nil {
		return "", err
	}
	payload, err := tx.Encode()
	if err != nil {
		return "", err
	}
	sig, err := a.Ledger.SendTransaction(ctx, []byte(payload))
	if err != nil {
		return "", err
	}
	if err := a.Ledger.ConfirmTransaction(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}

// Forward submits an externally signed payload and waits for confirmation.
// Used by the prepare/sign/submit paths where the client holds the keys.
func (a *Authority) Forward(ctx context.Context, signedPayload string) (string, error) {
	sig, err := a.Ledger.SendTransaction(ctx, []byte(signedPayload))
	if err != nil {
		return "", err
	}
	if err := a.Ledger.ConfirmTransaction(ctx, sig); err != nil {
		return "", err
	}
	return sig, nil
}
