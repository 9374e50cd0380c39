package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"mintline/internal/domain"
	"mintline/internal/events"
)

type ListingCreateOptions struct {
	ID           string
	Seller       string
	SellerWallet string
	Asset        string
	Price        int64
	ExpiresAt    string
}

// CreateListing drafts a fixed-price sale. The returned listing carries the
// unsigned delegation transaction the seller must sign to open it.
func (e Engine) CreateListing(ctx context.Context, opts ListingCreateOptions) (domain.SaleListing, error) {
	if opts.Seller == "" || opts.SellerWallet == "" || opts.Asset == "" {
		return domain.SaleListing{}, validationf("seller, wallet and asset are required")
	}
	if opts.Price <= 0 {
		return domain.SaleListing{}, validationf("price must be positive")
	}
	expiresAt, err := e.parseExpiry(opts.ExpiresAt)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if opts.ID != "" {
		if existing, err := e.Repo.GetListing(ctx, opts.ID); err == nil {
			return existing, nil
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	if _, err := e.Repo.LinkWallet(ctx, opts.SellerWallet, opts.Seller, e.nowStr()); err != nil {
		return domain.SaleListing{}, validationf("%v", err)
	}
	asset, err := e.heldAsset(ctx, opts.SellerWallet, opts.Asset)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if _, ok := asset.Identity(); !ok {
		return domain.SaleListing{}, validationf("asset %s has no identity trait", opts.Asset)
	}
	busy, err := e.Repo.AssetHasActiveEscrow(ctx, opts.Asset)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if busy {
		return domain.SaleListing{}, validationf("asset %s is already in an active offer or listing", opts.Asset)
	}

	prepared := e.Authority.PrepareDelegation(opts.Asset, opts.SellerWallet)
	preparedPayload, err := prepared.Encode()
	if err != nil {
		return domain.SaleListing{}, err
	}

	now := e.nowStr()
	l := domain.SaleListing{
		ID:               id,
		Seller:           opts.Seller,
		SellerWallet:     opts.SellerWallet,
		Asset:            opts.Asset,
		Price:            opts.Price,
		SellerPreparedTx: preparedPayload,
		Status:           domain.EscrowDraft,
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertListing(ctx, l); err != nil {
		return domain.SaleListing{}, err
	}
	if err := e.appendEvent(ctx, "listing.created", "listing", l.ID, opts.Seller, events.EventPayload{
		"asset": opts.Asset,
		"price": opts.Price,
	}); err != nil {
		return domain.SaleListing{}, err
	}
	return l, nil
}

// SubmitListingDelegation forwards the seller's signed delegation and opens
// the listing once the ledger confirms it.
func (e Engine) SubmitListingDelegation(ctx context.Context, listingID, seller, signedPayload string) (domain.SaleListing, error) {
	l, err := e.Repo.GetListing(ctx, listingID)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if l.Seller != seller {
		return domain.SaleListing{}, validationf("listing %s does not belong to %s", listingID, seller)
	}
	if l.Status == domain.EscrowOpen {
		return l, nil
	}
	if l.Status != domain.EscrowDraft {
		return domain.SaleListing{}, validationf("listing %s is %s, expected draft", listingID, l.Status)
	}
	if signedPayload == "" {
		return domain.SaleListing{}, validationf("signed payload is required")
	}

	e.checkSignable(ctx, l.SellerPreparedTx, signedPayload, "listing", l.ID, seller)

	delegRef, err := e.Authority.Forward(ctx, signedPayload)
	if err != nil {
		_ = e.appendEvent(ctx, "listing.delegation.failed", "listing", l.ID, seller, events.EventPayload{"error": err.Error()})
		return domain.SaleListing{}, fmt.Errorf("submit delegation: %w", err)
	}

	now := e.nowStr()
	ok, err := e.Repo.OpenListing(ctx, l.ID, delegRef, now)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if !ok {
		return domain.SaleListing{}, fmt.Errorf("%w: listing %s left draft state", ErrUnavailable, l.ID)
	}
	if err := e.appendEvent(ctx, "listing.opened", "listing", l.ID, seller, events.EventPayload{"deleg_tx_ref": delegRef}); err != nil {
		return domain.SaleListing{}, err
	}
	l.Status = domain.EscrowOpen
	l.SellerDelegTxRef = &delegRef
	l.UpdatedAt = now
	return l, nil
}

type ListingLockOptions struct {
	ListingID   string
	Buyer       string
	BuyerWallet string
}

// LockListing claims an open listing for a buyer. The returned listing
// carries the unsigned payment transaction for the listed price.
func (e Engine) LockListing(ctx context.Context, opts ListingLockOptions) (domain.SaleListing, error) {
	l, err := e.Repo.GetListing(ctx, opts.ListingID)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if opts.Buyer == "" || opts.BuyerWallet == "" {
		return domain.SaleListing{}, validationf("buyer and wallet are required")
	}
	if opts.Buyer == l.Seller {
		return domain.SaleListing{}, validationf("seller cannot buy their own listing")
	}
	if l.Status != domain.EscrowOpen {
		return domain.SaleListing{}, fmt.Errorf("%w: listing %s is %s", ErrUnavailable, l.ID, l.Status)
	}

	if _, err := e.Repo.LinkWallet(ctx, opts.BuyerWallet, opts.Buyer, e.nowStr()); err != nil {
		return domain.SaleListing{}, validationf("%v", err)
	}

	prepared := e.Authority.PreparePayment(l.Price, opts.BuyerWallet, l.SellerWallet)
	preparedPayload, err := prepared.Encode()
	if err != nil {
		return domain.SaleListing{}, err
	}

	now := e.nowStr()
	locked, err := e.Repo.LockListing(ctx, l.ID, opts.Buyer, opts.BuyerWallet, preparedPayload, now)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if !locked {
		return domain.SaleListing{}, fmt.Errorf("%w: listing %s already taken or expired", ErrUnavailable, l.ID)
	}
	if err := e.appendEvent(ctx, "listing.locked", "listing", l.ID, opts.Buyer, events.EventPayload{"price": l.Price}); err != nil {
		return domain.SaleListing{}, err
	}
	l.Status = domain.EscrowLocked
	l.Buyer = &opts.Buyer
	l.BuyerWallet = &opts.BuyerWallet
	l.BuyerPreparedTx = &preparedPayload
	l.UpdatedAt = now
	return l, nil
}

// SubmitListingPurchase forwards the buyer's signed payment and settles the
// sale with the authority key. A payment failure unlocks the listing back to
// open; a seller-side custody failure or an unrecoverable ledger error fails
// it.
func (e Engine) SubmitListingPurchase(ctx context.Context, listingID, buyer, signedPayload string) (domain.SaleListing, error) {
	l, err := e.Repo.GetListing(ctx, listingID)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if l.Status == domain.EscrowDone {
		return l, nil
	}
	if l.Status != domain.EscrowLocked || l.Buyer == nil || *l.Buyer != buyer {
		return domain.SaleListing{}, validationf("listing %s is not locked by %s", listingID, buyer)
	}
	if signedPayload == "" {
		return domain.SaleListing{}, validationf("signed payload is required")
	}

	if l.BuyerPreparedTx != nil {
		e.checkSignable(ctx, *l.BuyerPreparedTx, signedPayload, "listing", l.ID, buyer)
	}

	buyerWallet := *l.BuyerWallet

	payRef, err := e.Authority.Forward(ctx, signedPayload)
	if err != nil {
		e.unlockListing(ctx, l.ID, buyer, fmt.Sprintf("buyer payment failed: %v", err))
		return domain.SaleListing{}, fmt.Errorf("submit payment: %w", err)
	}
	if _, err := e.Repo.SetListingBuyerPayRef(ctx, l.ID, buyer, payRef, e.nowStr()); err != nil {
		return domain.SaleListing{}, err
	}

	if err := e.Authority.VerifyCustody(ctx, l.Asset, l.SellerWallet); err != nil {
		now := e.nowStr()
		reason := fmt.Sprintf("seller leg: %v", err)
		if ferr := e.Repo.FailListing(ctx, l.ID, reason, now); ferr != nil {
			return domain.SaleListing{}, ferr
		}
		_ = e.appendEvent(ctx, "listing.failed", "listing", l.ID, buyer, events.EventPayload{"reason": reason})
		return domain.SaleListing{}, validationf("listing %s failed: %s", l.ID, reason)
	}

	settleRef, err := e.Authority.SettleSale(ctx, l.Asset, l.SellerWallet, buyerWallet, l.Price)
	if err != nil {
		now := e.nowStr()
		reason := fmt.Sprintf("settlement failed: %v", err)
		if ferr := e.Repo.FailListing(ctx, l.ID, reason, now); ferr != nil {
			return domain.SaleListing{}, ferr
		}
		_ = e.appendEvent(ctx, "listing.failed", "listing", l.ID, buyer, events.EventPayload{"reason": reason})
		return domain.SaleListing{}, fmt.Errorf("settle sale: %w", err)
	}

	now := e.nowStr()
	done, err := e.Repo.CompleteListing(ctx, l.ID, buyer, settleRef, now)
	if err != nil {
		return domain.SaleListing{}, err
	}
	if !done {
		return domain.SaleListing{}, fmt.Errorf("listing %s left locked state during settlement", l.ID)
	}
	if err := e.appendEvent(ctx, "listing.settled", "listing", l.ID, buyer, events.EventPayload{"settle_tx_ref": settleRef}); err != nil {
		return domain.SaleListing{}, err
	}
	l.Status = domain.EscrowDone
	l.BuyerPayTxRef = &payRef
	l.SettleTxRef = &settleRef
	l.UpdatedAt = now
	return l, nil
}

func (e Engine) unlockListing(ctx context.Context, listingID, buyer, reason string) {
	if _, err := e.Repo.UnlockListing(ctx, listingID, buyer, reason, e.nowStr()); err != nil {
		e.logger().Error("unlock listing failed", "listing", listingID, "error", err.Error())
		return
	}
	_ = e.appendEvent(ctx, "listing.unlocked", "listing", listingID, buyer, events.EventPayload{"reason": reason})
}

// AbortListingLock releases a lock the buyer no longer wants to complete.
func (e Engine) AbortListingLock(ctx context.Context, listingID, buyer string) (domain.SaleListing, error) {
	ok, err := e.Repo.UnlockListing(ctx, listingID, buyer, "aborted by buyer", e.nowStr())
	if err != nil {
		return domain.SaleListing{}, err
	}
	if !ok {
		return domain.SaleListing{}, validationf("listing %s is not locked by %s", listingID, buyer)
	}
	if err := e.appendEvent(ctx, "listing.unlocked", "listing", listingID, buyer, events.EventPayload{"reason": "aborted by buyer"}); err != nil {
		return domain.SaleListing{}, err
	}
	return e.Repo.GetListing(ctx, listingID)
}

// CancelListing withdraws a draft or open listing.
func (e Engine) CancelListing(ctx context.Context, listingID, seller string) (domain.SaleListing, error) {
	ok, err := e.Repo.CancelListing(ctx, listingID, seller, e.nowStr())
	if err != nil {
		return domain.SaleListing{}, err
	}
	if !ok {
		l, gerr := e.Repo.GetListing(ctx, listingID)
		if gerr != nil {
			return domain.SaleListing{}, gerr
		}
		return domain.SaleListing{}, validationf("listing %s is %s and cannot be cancelled by %s", listingID, l.Status, seller)
	}
	if err := e.appendEvent(ctx, "listing.cancelled", "listing", listingID, seller, nil); err != nil {
		return domain.SaleListing{}, err
	}
	return e.Repo.GetListing(ctx, listingID)
}
