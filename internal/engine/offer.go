package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"mintline/internal/domain"
	"mintline/internal/events"
)

type OfferCreateOptions struct {
	ID          string
	Maker       string
	MakerWallet string
	MakerAsset  string
	Wanted      []string
	ExpiresAt   string
}

// CreateOffer drafts a trade offer: the maker stakes one owned collectible
// against a set of acceptable identities. The returned offer carries the
// unsigned delegation transaction the maker must sign to open it.
func (e Engine) CreateOffer(ctx context.Context, opts OfferCreateOptions) (domain.TradeOffer, error) {
	if opts.Maker == "" || opts.MakerWallet == "" || opts.MakerAsset == "" {
		return domain.TradeOffer{}, validationf("maker, wallet and asset are required")
	}
	if len(opts.Wanted) == 0 {
		return domain.TradeOffer{}, validationf("wanted identities must not be empty")
	}
	expiresAt, err := e.parseExpiry(opts.ExpiresAt)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if opts.ID != "" {
		if existing, err := e.Repo.GetOffer(ctx, opts.ID); err == nil {
			return existing, nil
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := e.Repo.LinkWallet(ctx, opts.MakerWallet, opts.Maker, e.nowStr()); err != nil {
		return domain.TradeOffer{}, validationf("%v", err)
	}
	asset, err := e.heldAsset(ctx, opts.MakerWallet, opts.MakerAsset)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if _, ok := asset.Identity(); !ok {
		return domain.TradeOffer{}, validationf("asset %s has no identity trait", opts.MakerAsset)
	}
	busy, err := e.Repo.AssetHasActiveEscrow(ctx, opts.MakerAsset)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if busy {
		return domain.TradeOffer{}, validationf("asset %s is already in an active offer or listing", opts.MakerAsset)
	}

	prepared := e.Authority.PrepareDelegation(opts.MakerAsset, opts.MakerWallet)
	preparedPayload, err := prepared.Encode()
	if err != nil {
		return domain.TradeOffer{}, err
	}

	now := e.nowStr()
	o := domain.TradeOffer{
		ID:              id,
		Maker:           opts.Maker,
		MakerWallet:     opts.MakerWallet,
		MakerAsset:      opts.MakerAsset,
		Wanted:          opts.Wanted,
		MakerPreparedTx: preparedPayload,
		Status:          domain.EscrowDraft,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Repo.InsertOffer(ctx, o); err != nil {
		return domain.TradeOffer{}, err
	}
	if err := e.appendEvent(ctx, "offer.created", "offer", o.ID, opts.Maker, events.EventPayload{
		"asset":  opts.MakerAsset,
		"wanted": opts.Wanted,
	}); err != nil {
		return domain.TradeOffer{}, err
	}
	return o, nil
}

// SubmitOfferDelegation forwards the maker's signed delegation and opens the
// offer once the ledger confirms it. The offer stays draft on failure so the
// maker can re-sign and retry.
func (e Engine) SubmitOfferDelegation(ctx context.Context, offerID, maker, signedPayload string) (domain.TradeOffer, error) {
	o, err := e.Repo.GetOffer(ctx, offerID)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if o.Maker != maker {
		return domain.TradeOffer{}, validationf("offer %s does not belong to %s", offerID, maker)
	}
	if o.Status == domain.EscrowOpen {
		return o, nil
	}
	if o.Status != domain.EscrowDraft {
		return domain.TradeOffer{}, validationf("offer %s is %s, expected draft", offerID, o.Status)
	}
	if signedPayload == "" {
		return domain.TradeOffer{}, validationf("signed payload is required")
	}

	e.checkSignable(ctx, o.MakerPreparedTx, signedPayload, "offer", o.ID, maker)

	delegRef, err := e.Authority.Forward(ctx, signedPayload)
	if err != nil {
		_ = e.appendEvent(ctx, "offer.delegation.failed", "offer", o.ID, maker, events.EventPayload{"error": err.Error()})
		return domain.TradeOffer{}, fmt.Errorf("submit delegation: %w", err)
	}

	now := e.nowStr()
	ok, err := e.Repo.OpenOffer(ctx, o.ID, delegRef, now)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if !ok {
		return domain.TradeOffer{}, fmt.Errorf("%w: offer %s left draft state", ErrUnavailable, o.ID)
	}
	if err := e.appendEvent(ctx, "offer.opened", "offer", o.ID, maker, events.EventPayload{"deleg_tx_ref": delegRef}); err != nil {
		return domain.TradeOffer{}, err
	}
	o.Status = domain.EscrowOpen
	o.MakerDelegTxRef = &delegRef
	o.UpdatedAt = now
	return o, nil
}

type OfferLockOptions struct {
	OfferID     string
	Taker       string
	TakerWallet string
	TakerAsset  string
}

// LockOffer claims an open offer for a taker. Validations run against the
// ledger before the conditional lock; exactly one of N concurrent takers
// wins. The returned offer carries the unsigned taker delegation.
func (e Engine) LockOffer(ctx context.Context, opts OfferLockOptions) (domain.TradeOffer, error) {
	o, err := e.Repo.GetOffer(ctx, opts.OfferID)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if opts.Taker == "" || opts.TakerWallet == "" || opts.TakerAsset == "" {
		return domain.TradeOffer{}, validationf("taker, wallet and asset are required")
	}
	if opts.Taker == o.Maker {
		return domain.TradeOffer{}, validationf("maker cannot take their own offer")
	}
	if opts.TakerAsset == o.MakerAsset {
		return domain.TradeOffer{}, validationf("offered and wanted asset are the same")
	}
	if o.Status != domain.EscrowOpen {
		return domain.TradeOffer{}, fmt.Errorf("%w: offer %s is %s", ErrUnavailable, o.ID, o.Status)
	}

	if _, err := e.Repo.LinkWallet(ctx, opts.TakerWallet, opts.Taker, e.nowStr()); err != nil {
		return domain.TradeOffer{}, validationf("%v", err)
	}
	asset, err := e.heldAsset(ctx, opts.TakerWallet, opts.TakerAsset)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	identity, ok := asset.Identity()
	if !ok {
		return domain.TradeOffer{}, validationf("asset %s has no identity trait", opts.TakerAsset)
	}
	if !slices.Contains(o.Wanted, identity) {
		return domain.TradeOffer{}, validationf("identity %s is not wanted by offer %s", identity, o.ID)
	}

	prepared := e.Authority.PrepareDelegation(opts.TakerAsset, opts.TakerWallet)
	preparedPayload, err := prepared.Encode()
	if err != nil {
		return domain.TradeOffer{}, err
	}

	now := e.nowStr()
	locked, err := e.Repo.LockOffer(ctx, o.ID, opts.Taker, opts.TakerWallet, opts.TakerAsset, preparedPayload, now)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if !locked {
		return domain.TradeOffer{}, fmt.Errorf("%w: offer %s already taken or expired", ErrUnavailable, o.ID)
	}
	if err := e.appendEvent(ctx, "offer.locked", "offer", o.ID, opts.Taker, events.EventPayload{
		"taker_asset": opts.TakerAsset,
		"identity":    identity,
	}); err != nil {
		return domain.TradeOffer{}, err
	}
	o.Status = domain.EscrowLocked
	o.Taker = &opts.Taker
	o.TakerWallet = &opts.TakerWallet
	o.TakerAsset = &opts.TakerAsset
	o.TakerPreparedTx = &preparedPayload
	o.UpdatedAt = now
	return o, nil
}

// SubmitOfferAcceptance forwards the taker's signed delegation and, once both
// sides are delegated, settles the swap with the authority key. A taker-side
// custody failure unlocks the offer back to open; a maker-side failure or an
// unrecoverable ledger error fails it.
func (e Engine) SubmitOfferAcceptance(ctx context.Context, offerID, taker, signedPayload string) (domain.TradeOffer, error) {
	o, err := e.Repo.GetOffer(ctx, offerID)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if o.Status == domain.EscrowDone {
		return o, nil
	}
	if o.Status != domain.EscrowLocked || o.Taker == nil || *o.Taker != taker {
		return domain.TradeOffer{}, validationf("offer %s is not locked by %s", offerID, taker)
	}
	if signedPayload == "" {
		return domain.TradeOffer{}, validationf("signed payload is required")
	}

	if o.TakerPreparedTx != nil {
		e.checkSignable(ctx, *o.TakerPreparedTx, signedPayload, "offer", o.ID, taker)
	}

	takerWallet := *o.TakerWallet
	takerAsset := *o.TakerAsset

	delegRef, err := e.Authority.Forward(ctx, signedPayload)
	if err != nil {
		e.unlockOffer(ctx, o.ID, taker, fmt.Sprintf("taker delegation failed: %v", err))
		return domain.TradeOffer{}, fmt.Errorf("submit taker delegation: %w", err)
	}
	if _, err := e.Repo.SetOfferTakerDelegRef(ctx, o.ID, taker, delegRef, e.nowStr()); err != nil {
		return domain.TradeOffer{}, err
	}

	// Maker custody checked first: a broken maker leg kills the offer, a
	// broken taker leg only releases the lock.
	if err := e.Authority.VerifyCustody(ctx, o.MakerAsset, o.MakerWallet); err != nil {
		now := e.nowStr()
		reason := fmt.Sprintf("maker leg: %v", err)
		if ferr := e.Repo.FailOffer(ctx, o.ID, reason, now); ferr != nil {
			return domain.TradeOffer{}, ferr
		}
		_ = e.appendEvent(ctx, "offer.failed", "offer", o.ID, taker, events.EventPayload{"reason": reason})
		return domain.TradeOffer{}, validationf("offer %s failed: %s", o.ID, reason)
	}
	if err := e.Authority.VerifyCustody(ctx, takerAsset, takerWallet); err != nil {
		e.unlockOffer(ctx, o.ID, taker, fmt.Sprintf("taker leg: %v", err))
		return domain.TradeOffer{}, validationf("taker leg: %v", err)
	}

	settleRef, err := e.Authority.SettleSwap(ctx, o.MakerAsset, o.MakerWallet, takerAsset, takerWallet)
	if err != nil {
		now := e.nowStr()
		reason := fmt.Sprintf("settlement failed: %v", err)
		if ferr := e.Repo.FailOffer(ctx, o.ID, reason, now); ferr != nil {
			return domain.TradeOffer{}, ferr
		}
		_ = e.appendEvent(ctx, "offer.failed", "offer", o.ID, taker, events.EventPayload{"reason": reason})
		return domain.TradeOffer{}, fmt.Errorf("settle swap: %w", err)
	}

	now := e.nowStr()
	done, err := e.Repo.CompleteOffer(ctx, o.ID, taker, settleRef, now)
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if !done {
		return domain.TradeOffer{}, fmt.Errorf("offer %s left locked state during settlement", o.ID)
	}
	if err := e.appendEvent(ctx, "offer.settled", "offer", o.ID, taker, events.EventPayload{"settle_tx_ref": settleRef}); err != nil {
		return domain.TradeOffer{}, err
	}
	o.Status = domain.EscrowDone
	o.TakerDelegTxRef = &delegRef
	o.SettleTxRef = &settleRef
	o.UpdatedAt = now
	return o, nil
}

func (e Engine) unlockOffer(ctx context.Context, offerID, taker, reason string) {
	if _, err := e.Repo.UnlockOffer(ctx, offerID, taker, reason, e.nowStr()); err != nil {
		e.logger().Error("unlock offer failed", "offer", offerID, "error", err.Error())
		return
	}
	_ = e.appendEvent(ctx, "offer.unlocked", "offer", offerID, taker, events.EventPayload{"reason": reason})
}

// AbortOfferLock releases a lock the taker no longer wants to complete.
func (e Engine) AbortOfferLock(ctx context.Context, offerID, taker string) (domain.TradeOffer, error) {
	ok, err := e.Repo.UnlockOffer(ctx, offerID, taker, "aborted by taker", e.nowStr())
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if !ok {
		return domain.TradeOffer{}, validationf("offer %s is not locked by %s", offerID, taker)
	}
	if err := e.appendEvent(ctx, "offer.unlocked", "offer", offerID, taker, events.EventPayload{"reason": "aborted by taker"}); err != nil {
		return domain.TradeOffer{}, err
	}
	return e.Repo.GetOffer(ctx, offerID)
}

// CancelOffer withdraws a draft or open offer. Locked offers cannot be
// cancelled; the lock must expire or be aborted first.
func (e Engine) CancelOffer(ctx context.Context, offerID, maker string) (domain.TradeOffer, error) {
	ok, err := e.Repo.CancelOffer(ctx, offerID, maker, e.nowStr())
	if err != nil {
		return domain.TradeOffer{}, err
	}
	if !ok {
		o, gerr := e.Repo.GetOffer(ctx, offerID)
		if gerr != nil {
			return domain.TradeOffer{}, gerr
		}
		return domain.TradeOffer{}, validationf("offer %s is %s and cannot be cancelled by %s", offerID, o.Status, maker)
	}
	if err := e.appendEvent(ctx, "offer.cancelled", "offer", offerID, maker, nil); err != nil {
		return domain.TradeOffer{}, err
	}
	return e.Repo.GetOffer(ctx, offerID)
}
