package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"mintline/internal/domain"
	"mintline/internal/events"
)

type TransferPrepareOptions struct {
	ID        string
	Owner     string
	Wallet    string
	Asset     string
	Recipient string
}

// PrepareTransfer composes an unsigned direct transfer of an owned
// collectible to a recipient wallet. No lease is taken; the ledger's own
// ownership check at submit time is the gate.
func (e Engine) PrepareTransfer(ctx context.Context, opts TransferPrepareOptions) (domain.TransferIntent, error) {
	if opts.Owner == "" || opts.Wallet == "" || opts.Asset == "" || opts.Recipient == "" {
		return domain.TransferIntent{}, validationf("owner, wallet, asset and recipient are required")
	}
	if opts.Recipient == opts.Wallet {
		return domain.TransferIntent{}, validationf("recipient wallet equals source wallet")
	}
	if opts.ID != "" {
		if existing, err := e.Repo.GetTransferIntent(ctx, opts.ID); err == nil {
			return existing, nil
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := e.Repo.LinkWallet(ctx, opts.Wallet, opts.Owner, e.nowStr()); err != nil {
		return domain.TransferIntent{}, validationf("%v", err)
	}
	if _, err := e.heldAsset(ctx, opts.Wallet, opts.Asset); err != nil {
		return domain.TransferIntent{}, err
	}
	busy, err := e.Repo.AssetHasActiveEscrow(ctx, opts.Asset)
	if err != nil {
		return domain.TransferIntent{}, err
	}
	if busy {
		return domain.TransferIntent{}, validationf("asset %s is in an active offer or listing", opts.Asset)
	}

	prepared := e.Authority.PrepareTransfer(opts.Asset, opts.Wallet, opts.Recipient)
	preparedPayload, err := prepared.Encode()
	if err != nil {
		return domain.TransferIntent{}, err
	}

	now := e.nowStr()
	t := domain.TransferIntent{
		ID:         id,
		Owner:      opts.Owner,
		Wallet:     opts.Wallet,
		Asset:      opts.Asset,
		Recipient:  opts.Recipient,
		PreparedTx: preparedPayload,
		Status:     domain.IntentPrepared,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertTransferIntent(ctx, t); err != nil {
		return domain.TransferIntent{}, err
	}
	if err := e.appendEvent(ctx, "transfer.prepared", "transfer", t.ID, opts.Owner, events.EventPayload{
		"asset":     opts.Asset,
		"recipient": opts.Recipient,
	}); err != nil {
		return domain.TransferIntent{}, err
	}
	return t, nil
}

// SubmitTransfer forwards the signed transfer and completes the intent once
// the ledger confirms finality.
func (e Engine) SubmitTransfer(ctx context.Context, intentID, owner, signedPayload string) (domain.TransferIntent, error) {
	t, err := e.Repo.GetTransferIntent(ctx, intentID)
	if err != nil {
		return domain.TransferIntent{}, err
	}
	if t.Owner != owner {
		return domain.TransferIntent{}, validationf("transfer %s does not belong to %s", intentID, owner)
	}
	switch t.Status {
	case domain.IntentDone:
		return t, nil
	case domain.IntentFailed:
		return domain.TransferIntent{}, validationf("transfer %s already failed: %s", intentID, t.Reason)
	}
	if signedPayload == "" {
		return domain.TransferIntent{}, validationf("signed payload is required")
	}

	e.checkSignable(ctx, t.PreparedTx, signedPayload, "transfer", t.ID, owner)

	txRef, err := e.Authority.Forward(ctx, signedPayload)
	if err != nil {
		now := e.nowStr()
		reason := fmt.Sprintf("ledger submit failed: %v", err)
		_ = e.Repo.MarkTransferIntentFailed(ctx, t.ID, reason, now)
		_ = e.appendEvent(ctx, "transfer.failed", "transfer", t.ID, owner, events.EventPayload{"reason": reason})
		return domain.TransferIntent{}, fmt.Errorf("submit transfer: %w", err)
	}

	now := e.nowStr()
	if err := e.Repo.MarkTransferIntentDone(ctx, t.ID, txRef, now); err != nil {
		return domain.TransferIntent{}, err
	}
	if err := e.appendEvent(ctx, "transfer.done", "transfer", t.ID, owner, events.EventPayload{"tx_ref": txRef}); err != nil {
		return domain.TransferIntent{}, err
	}
	t.Status = domain.IntentDone
	t.TxRef = &txRef
	t.UpdatedAt = now
	return t, nil
}

// LinkWallet binds a wallet address to an owner. First writer wins.
func (e Engine) LinkWallet(ctx context.Context, owner, address string) (domain.WalletLink, error) {
	link, err := e.Repo.LinkWallet(ctx, address, owner, e.nowStr())
	if err != nil {
		return domain.WalletLink{}, validationf("%v", err)
	}
	if err := e.appendEvent(ctx, "wallet.linked", "wallet", address, owner, nil); err != nil {
		return domain.WalletLink{}, err
	}
	return link, nil
}
