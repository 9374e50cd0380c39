package engine_test

import (
	"errors"
	"testing"
	"time"

	"mintline/internal/domain"
	"mintline/internal/engine"
)

// openedOffer drafts and opens an offer for alice's asset, wanting identity 7.
func openedOffer(t *testing.T, env *testEnv) domain.TradeOffer {
	t.Helper()
	env.addAsset("w-alice", "asset-a", "3")
	env.addAsset("w-bob", "asset-b", "7")
	o, err := env.Engine.CreateOffer(env.Ctx, engine.OfferCreateOptions{
		Maker:       "alice",
		MakerWallet: "w-alice",
		MakerAsset:  "asset-a",
		Wanted:      []string{"7"},
		ExpiresAt:   env.futureExpiry(),
	})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	o, err = env.Engine.SubmitOfferDelegation(env.Ctx, o.ID, "alice", o.MakerPreparedTx)
	if err != nil {
		t.Fatalf("open offer: %v", err)
	}
	return o
}

func lockedOffer(t *testing.T, env *testEnv) domain.TradeOffer {
	t.Helper()
	o := openedOffer(t, env)
	o, err := env.Engine.LockOffer(env.Ctx, engine.OfferLockOptions{
		OfferID:     o.ID,
		Taker:       "bob",
		TakerWallet: "w-bob",
		TakerAsset:  "asset-b",
	})
	if err != nil {
		t.Fatalf("lock offer: %v", err)
	}
	return o
}

func TestOfferLifecycle(t *testing.T) {
	env := newTestEnv(t)

	o := openedOffer(t, env)
	if o.Status != "open" || o.MakerDelegTxRef == nil {
		t.Fatalf("after open: %+v", o)
	}

	o, err := env.Engine.LockOffer(env.Ctx, engine.OfferLockOptions{
		OfferID:     o.ID,
		Taker:       "bob",
		TakerWallet: "w-bob",
		TakerAsset:  "asset-b",
	})
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if o.Status != "locked" || o.TakerPreparedTx == nil {
		t.Fatalf("after lock: %+v", o)
	}

	o, err = env.Engine.SubmitOfferAcceptance(env.Ctx, o.ID, "bob", *o.TakerPreparedTx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if o.Status != "done" || o.SettleTxRef == nil {
		t.Fatalf("after accept: %+v", o)
	}
	// maker delegation, taker delegation, and the settlement swap itself.
	if got := env.Ledger.sendCount(); got != 3 {
		t.Fatalf("ledger transactions = %d, want 3", got)
	}
}

func TestOfferCreateRejectsForeignAsset(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateOffer(env.Ctx, engine.OfferCreateOptions{
		Maker:       "alice",
		MakerWallet: "w-alice",
		MakerAsset:  "asset-missing",
		Wanted:      []string{"7"},
		ExpiresAt:   env.futureExpiry(),
	})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestOfferLockValidations(t *testing.T) {
	env := newTestEnv(t)
	o := openedOffer(t, env)
	env.addAsset("w-bob", "asset-c", "1")

	var ve engine.ValidationError

	_, err := env.Engine.LockOffer(env.Ctx, engine.OfferLockOptions{
		OfferID: o.ID, Taker: "alice", TakerWallet: "w-alice", TakerAsset: "asset-b",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("self-take: got %v", err)
	}

	_, err = env.Engine.LockOffer(env.Ctx, engine.OfferLockOptions{
		OfferID: o.ID, Taker: "bob", TakerWallet: "w-bob", TakerAsset: "asset-c",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("unwanted identity: got %v", err)
	}
}

func TestOfferLockSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	o := openedOffer(t, env)
	env.addAsset("w-carol", "asset-d", "7")

	if _, err := env.Engine.LockOffer(env.Ctx, engine.OfferLockOptions{
		OfferID: o.ID, Taker: "bob", TakerWallet: "w-bob", TakerAsset: "asset-b",
	}); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	_, err := env.Engine.LockOffer(env.Ctx, engine.OfferLockOptions{
		OfferID: o.ID, Taker: "carol", TakerWallet: "w-carol", TakerAsset: "asset-d",
	})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("second lock: got %v, want ErrUnavailable", err)
	}
}

func TestOfferExpiredCannotBeLocked(t *testing.T) {
	env := newTestEnv(t)
	o := openedOffer(t, env)
	env.advance(2 * time.Hour) // past the one hour expiry

	_, err := env.Engine.LockOffer(env.Ctx, engine.OfferLockOptions{
		OfferID: o.ID, Taker: "bob", TakerWallet: "w-bob", TakerAsset: "asset-b",
	})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable for expired offer", err)
	}
}

func TestOfferTakerCustodyFailureReopens(t *testing.T) {
	env := newTestEnv(t)
	o := lockedOffer(t, env)
	signed := *o.TakerPreparedTx
	env.removeAsset("w-bob", "asset-b")

	if _, err := env.Engine.SubmitOfferAcceptance(env.Ctx, o.ID, "bob", signed); err == nil {
		t.Fatal("expected accept to fail after taker asset moved")
	}
	got, err := env.Engine.Repo.GetOffer(env.Ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "open" {
		t.Fatalf("status = %s, want open after taker fault", got.Status)
	}
	if got.Taker != nil || got.TakerAsset != nil {
		t.Fatalf("taker fields not cleared: %+v", got)
	}
}

func TestOfferMakerCustodyFailureFails(t *testing.T) {
	env := newTestEnv(t)
	o := lockedOffer(t, env)
	signed := *o.TakerPreparedTx
	env.removeAsset("w-alice", "asset-a")

	if _, err := env.Engine.SubmitOfferAcceptance(env.Ctx, o.ID, "bob", signed); err == nil {
		t.Fatal("expected accept to fail after maker asset moved")
	}
	got, err := env.Engine.Repo.GetOffer(env.Ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" {
		t.Fatalf("status = %s, want failed after maker fault", got.Status)
	}
}

func TestOfferAbortLockReopens(t *testing.T) {
	env := newTestEnv(t)
	o := lockedOffer(t, env)

	got, err := env.Engine.AbortOfferLock(env.Ctx, o.ID, "bob")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if got.Status != "open" || got.Taker != nil {
		t.Fatalf("after abort: %+v", got)
	}
}

func TestOfferCancelRules(t *testing.T) {
	env := newTestEnv(t)
	o := lockedOffer(t, env)

	var ve engine.ValidationError
	if _, err := env.Engine.CancelOffer(env.Ctx, o.ID, "alice"); !errors.As(err, &ve) {
		t.Fatalf("cancel locked: got %v, want validation error", err)
	}

	if _, err := env.Engine.AbortOfferLock(env.Ctx, o.ID, "bob"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	cancelled, err := env.Engine.CancelOffer(env.Ctx, o.ID, "alice")
	if err != nil {
		t.Fatalf("cancel open: %v", err)
	}
	if cancelled.Status != "cancelled" {
		t.Fatalf("status = %s", cancelled.Status)
	}
}

func TestOneActiveEscrowPerAsset(t *testing.T) {
	env := newTestEnv(t)
	openedOffer(t, env)

	var ve engine.ValidationError
	_, err := env.Engine.CreateListing(env.Ctx, engine.ListingCreateOptions{
		Seller:       "alice",
		SellerWallet: "w-alice",
		Asset:        "asset-a",
		Price:        100,
		ExpiresAt:    env.futureExpiry(),
	})
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want validation error for double escrow", err)
	}
}
