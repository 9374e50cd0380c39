package engine_test

import (
	"testing"
	"time"

	"mintline/internal/engine"
)

func TestSweepExpiresOpenEscrows(t *testing.T) {
	env := newTestEnv(t)
	o := openedOffer(t, env)
	l := openedListing(t, env)

	env.advance(2 * time.Hour)
	res, err := env.Engine.Sweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.ExpiredOffers != 1 || res.ExpiredListings != 1 {
		t.Fatalf("sweep = %+v", res)
	}

	gotOffer, _ := env.Engine.Repo.GetOffer(env.Ctx, o.ID)
	if gotOffer.Status != "expired" {
		t.Fatalf("offer status = %s", gotOffer.Status)
	}
	gotListing, _ := env.Engine.Repo.GetListing(env.Ctx, l.ID)
	if gotListing.Status != "expired" {
		t.Fatalf("listing status = %s", gotListing.Status)
	}
}

func TestSweepReopensStaleLocks(t *testing.T) {
	env := newTestEnv(t)
	o := lockedOffer(t, env)

	// Past the lock TTL but before the offer expiry.
	env.advance(10 * time.Minute)
	res, err := env.Engine.Sweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.UnlockedOffers != 1 {
		t.Fatalf("sweep = %+v", res)
	}
	got, err := env.Engine.Repo.GetOffer(env.Ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "open" || got.Taker != nil || got.TakerPreparedTx != nil {
		t.Fatalf("after reap: %+v, want reopened offer with taker cleared", got)
	}
}

func TestSweepFailsStaleIntentsAndFreesTickets(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")
	m, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	env.advance(10 * time.Minute)
	res, err := env.Engine.Sweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.FailedIntents != 1 || res.FreedTickets != 1 {
		t.Fatalf("sweep = %+v", res)
	}

	got, err := env.Engine.Repo.GetMintIntent(env.Ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" || got.Reason != "lease expired" {
		t.Fatalf("intent = %+v", got)
	}
	ticket, _ := env.Engine.Repo.GetTicket(env.Ctx, "t-1")
	if ticket.Status != "pending" || ticket.LockedByIntentID != nil {
		t.Fatalf("ticket = %+v, want free pending", ticket)
	}

	// A freed ticket is immediately leasable again.
	if _, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"}); err != nil {
		t.Fatalf("prepare after sweep: %v", err)
	}
}

func TestSweepIsQuietWhenNothingStale(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.Sweep(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res != (engine.SweepResult{}) {
		t.Fatalf("sweep on empty state = %+v, want zero result", res)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "sweep.done", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatal("quiet sweep must not append an audit event")
	}
}
