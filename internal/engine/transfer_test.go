package engine_test

import (
	"errors"
	"testing"

	"mintline/internal/engine"
)

func TestTransferLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addAsset("w-alice", "asset-a", "3")

	tr, err := env.Engine.PrepareTransfer(env.Ctx, engine.TransferPrepareOptions{
		Owner:     "alice",
		Wallet:    "w-alice",
		Asset:     "asset-a",
		Recipient: "w-bob",
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if tr.Status != "prepared" || tr.PreparedTx == "" {
		t.Fatalf("intent = %+v", tr)
	}

	tr, err = env.Engine.SubmitTransfer(env.Ctx, tr.ID, "alice", tr.PreparedTx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tr.Status != "done" || tr.TxRef == nil {
		t.Fatalf("after submit: %+v", tr)
	}
}

func TestTransferRejectsSameWallet(t *testing.T) {
	env := newTestEnv(t)
	env.addAsset("w-alice", "asset-a", "3")

	var ve engine.ValidationError
	_, err := env.Engine.PrepareTransfer(env.Ctx, engine.TransferPrepareOptions{
		Owner:     "alice",
		Wallet:    "w-alice",
		Asset:     "asset-a",
		Recipient: "w-alice",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want validation error for self transfer", err)
	}
}

func TestTransferRejectsEscrowedAsset(t *testing.T) {
	env := newTestEnv(t)
	openedOffer(t, env)

	var ve engine.ValidationError
	_, err := env.Engine.PrepareTransfer(env.Ctx, engine.TransferPrepareOptions{
		Owner:     "alice",
		Wallet:    "w-alice",
		Asset:     "asset-a",
		Recipient: "w-bob",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want validation error for escrowed asset", err)
	}
}

func TestTransferLedgerFailure(t *testing.T) {
	env := newTestEnv(t)
	env.addAsset("w-alice", "asset-a", "3")

	tr, err := env.Engine.PrepareTransfer(env.Ctx, engine.TransferPrepareOptions{
		Owner:     "alice",
		Wallet:    "w-alice",
		Asset:     "asset-a",
		Recipient: "w-bob",
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	env.Ledger.failSend = errors.New("node unreachable")
	if _, err := env.Engine.SubmitTransfer(env.Ctx, tr.ID, "alice", tr.PreparedTx); err == nil {
		t.Fatal("expected submit error")
	}
	got, err := env.Engine.Repo.GetTransferIntent(env.Ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" {
		t.Fatalf("status = %s, want failed", got.Status)
	}
}
