package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mintline/internal/config"
	"mintline/internal/db"
	"mintline/internal/engine"
	"mintline/internal/ledger"
	"mintline/internal/migrate"
	"mintline/internal/oracle"
	"mintline/internal/settle"
)

const authoritySeed = "0101010101010101010101010101010101010101010101010101010101010101"

type fakeLedger struct {
	mu       sync.Mutex
	assets   map[string][]ledger.Asset
	txs      map[string]ledger.TxStatus
	sent     []string
	failSend error
	seq      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		assets: map[string][]ledger.Asset{},
		txs:    map[string]ledger.TxStatus{},
	}
}

func (f *fakeLedger) SendTransaction(ctx context.Context, signed []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		return "", f.failSend
	}
	f.seq++
	sig := fmt.Sprintf("sig-%d", f.seq)
	f.txs[sig] = ledger.TxStatus{Found: true, Confirmed: true, Slot: int64(f.seq)}
	f.sent = append(f.sent, string(signed))
	return sig, nil
}

func (f *fakeLedger) ConfirmTransaction(ctx context.Context, sig string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.txs[sig]; ok && s.Confirmed {
		return nil
	}
	return fmt.Errorf("tx %s not confirmed", sig)
}

func (f *fakeLedger) GetTransactionStatus(ctx context.Context, sig string) (ledger.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[sig], nil
}

func (f *fakeLedger) GetAssetsByOwner(ctx context.Context, addr string) ([]ledger.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Asset(nil), f.assets[addr]...), nil
}

func (f *fakeLedger) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type stubBeacon struct {
	value []byte
	fail  error
}

func (b *stubBeacon) Commit(ctx context.Context) (string, error) {
	if b.fail != nil {
		return "", b.fail
	}
	return "commit-1", nil
}

func (b *stubBeacon) Reveal(ctx context.Context) ([]byte, string, error) {
	return b.value, "reveal-1", nil
}

func (b *stubBeacon) Close(ctx context.Context) (string, error) {
	return "close-1", nil
}

type testEnv struct {
	Engine engine.Engine
	Ledger *fakeLedger
	Beacon *stubBeacon
	Ctx    context.Context

	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	lc := newFakeLedger()
	authority, err := settle.New(authoritySeed, lc)
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	beacon := &stubBeacon{value: []byte{0x02}}
	orc := &oracle.Adapter{Providers: []oracle.Beacon{beacon}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(conn, cfg, lc, authority, orc, logger)

	env := &testEnv{
		Ledger: lc,
		Beacon: beacon,
		Ctx:    context.Background(),
		now:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	eng.Now = func() time.Time { return env.now }
	env.Engine = eng
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) addAsset(wallet, id, identity string) {
	env.Ledger.mu.Lock()
	defer env.Ledger.mu.Unlock()
	env.Ledger.assets[wallet] = append(env.Ledger.assets[wallet], ledger.Asset{
		ID:         id,
		Owner:      wallet,
		Delegate:   env.Engine.Authority.Address(),
		Attributes: map[string]string{"identity": identity},
	})
}

func (env *testEnv) removeAsset(wallet, id string) {
	env.Ledger.mu.Lock()
	defer env.Ledger.mu.Unlock()
	var kept []ledger.Asset
	for _, a := range env.Ledger.assets[wallet] {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	env.Ledger.assets[wallet] = kept
}

func (env *testEnv) addTicket(t *testing.T, id, owner string) {
	t.Helper()
	if _, err := env.Engine.IngestTicket(env.Ctx, id, owner, "test-feed"); err != nil {
		t.Fatalf("ingest ticket %s: %v", id, err)
	}
}

func (env *testEnv) futureExpiry() string {
	return env.now.Add(time.Hour).UTC().Format(time.RFC3339)
}

// --- mint flow ---

func TestPrepareMintLeasesOldestTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-a", "alice")
	env.addTicket(t, "t-b", "alice")

	m, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if m.TicketID != "t-a" {
		t.Fatalf("ticket = %s, want t-a (oldest)", m.TicketID)
	}
	if m.Status != "prepared" {
		t.Fatalf("status = %s", m.Status)
	}
	// beacon value 0x02 over 5 available identities picks index 2.
	if m.SelectionIndex != 2 || m.Identity != "3" {
		t.Fatalf("draw = %d/%s, want 2/3", m.SelectionIndex, m.Identity)
	}
	if m.RandomHex != "02" || m.CommitTxRef != "commit-1" || m.RevealTxRef != "reveal-1" {
		t.Fatalf("provenance = %+v", m)
	}
	if m.PreparedTx == "" {
		t.Fatal("prepared tx missing")
	}
	if m.AvailableJSON != `["1","2","3","4","5"]` {
		t.Fatalf("available = %s", m.AvailableJSON)
	}

	ticket, err := env.Engine.Repo.GetTicket(env.Ctx, "t-a")
	if err != nil {
		t.Fatal(err)
	}
	if ticket.LockedByIntentID == nil || *ticket.LockedByIntentID != m.ID {
		t.Fatalf("ticket lock = %v, want %s", ticket.LockedByIntentID, m.ID)
	}
}

func TestPrepareMintNoFreeTicket(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestPrepareMintSingleWinnerPerTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")

	if _, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"}); err != nil {
		t.Fatalf("first prepare: %v", err)
	}
	_, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if !errors.Is(err, engine.ErrUnavailable) {
		t.Fatalf("second prepare: got %v, want ErrUnavailable", err)
	}
}

func TestPrepareMintIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")

	first, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{IntentID: "intent-1", Owner: "alice", Wallet: "w-alice"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	second, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{IntentID: "intent-1", Owner: "alice", Wallet: "w-alice"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if second.ID != first.ID || second.RandomHex != first.RandomHex || second.TicketID != first.TicketID {
		t.Fatalf("replay drew again: %+v vs %+v", second, first)
	}
}

func TestPrepareMintWeakRandomReleasesTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")
	env.Beacon.value = []byte{0x00, 0x00}

	_, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if !errors.Is(err, oracle.ErrWeakRandom) {
		t.Fatalf("got %v, want ErrWeakRandom", err)
	}
	ticket, err := env.Engine.Repo.GetTicket(env.Ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if ticket.LockedByIntentID != nil {
		t.Fatal("ticket should be released after a failed draw")
	}
	if ticket.Status != "pending" {
		t.Fatalf("ticket status = %s", ticket.Status)
	}
}

func TestSubmitMintConsumesTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")

	m, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	done, err := env.Engine.SubmitMint(env.Ctx, m.ID, "alice", m.PreparedTx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != "done" || done.MintTxRef == nil {
		t.Fatalf("submit result = %+v", done)
	}
	ticket, err := env.Engine.Repo.GetTicket(env.Ctx, "t-1")
	if err != nil {
		t.Fatal(err)
	}
	if ticket.Status != "consumed" {
		t.Fatalf("ticket status = %s, want consumed", ticket.Status)
	}
}

func TestSubmitMintIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")

	m, _ := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if _, err := env.Engine.SubmitMint(env.Ctx, m.ID, "alice", m.PreparedTx); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sent := env.Ledger.sendCount()
	again, err := env.Engine.SubmitMint(env.Ctx, m.ID, "alice", m.PreparedTx)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if again.Status != "done" {
		t.Fatalf("status = %s", again.Status)
	}
	if env.Ledger.sendCount() != sent {
		t.Fatal("resubmit must not forward a second transaction")
	}
}

func TestSubmitMintLedgerFailureFreesTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")

	m, _ := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	env.Ledger.failSend = errors.New("node unreachable")
	if _, err := env.Engine.SubmitMint(env.Ctx, m.ID, "alice", m.PreparedTx); err == nil {
		t.Fatal("expected submit error")
	}

	got, err := env.Engine.Repo.GetMintIntent(env.Ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "failed" {
		t.Fatalf("intent status = %s, want failed", got.Status)
	}
	ticket, _ := env.Engine.Repo.GetTicket(env.Ctx, "t-1")
	if ticket.Status != "pending" || ticket.LockedByIntentID != nil {
		t.Fatalf("ticket = %+v, want free pending", ticket)
	}
}

func TestSubmitMintTamperedPayloadStillForwards(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")

	m, _ := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	tampered := strings.Replace(m.PreparedTx, `"to":"w-alice"`, `"to":"w-mallory"`, 1)
	if tampered == m.PreparedTx {
		t.Fatal("test setup: payload not tampered")
	}
	done, err := env.Engine.SubmitMint(env.Ctx, m.ID, "alice", tampered)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if done.Status != "done" {
		t.Fatalf("status = %s", done.Status)
	}
	events, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "submit.payload.mismatch", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("mismatch events = %d, want 1", len(events))
	}
}

func TestCancelMintFreesTicket(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")

	m, _ := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	cancelled, err := env.Engine.CancelMint(env.Ctx, m.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != "failed" {
		t.Fatalf("status = %s", cancelled.Status)
	}
	ticket, _ := env.Engine.Repo.GetTicket(env.Ctx, "t-1")
	if ticket.Status != "pending" || ticket.LockedByIntentID != nil {
		t.Fatalf("ticket = %+v, want free pending", ticket)
	}
}

func TestSupplyCapExcludesExhaustedIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Catalog.Identities = map[string]config.IdentityEntry{
		"9": {MaxSupply: 1},
	}
	env.addTicket(t, "t-1", "alice")
	env.addTicket(t, "t-2", "alice")

	m, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if m.Identity != "9" {
		t.Fatalf("identity = %s", m.Identity)
	}
	// A prepared intent reserves the slot even before the mint lands.
	_, err = env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-alice"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want validation error for empty draw set", err)
	}
	ticket, _ := env.Engine.Repo.GetTicket(env.Ctx, "t-2")
	if ticket.LockedByIntentID != nil {
		t.Fatal("ticket must be released when the draw set is empty")
	}
}

func TestWalletLinkFirstWriterWins(t *testing.T) {
	env := newTestEnv(t)
	env.addTicket(t, "t-1", "alice")
	env.addTicket(t, "t-2", "bob")

	if _, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "alice", Wallet: "w-shared"}); err != nil {
		t.Fatalf("alice prepare: %v", err)
	}
	_, err := env.Engine.PrepareMint(env.Ctx, engine.MintPrepareOptions{Owner: "bob", Wallet: "w-shared"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want validation error for wallet conflict", err)
	}
}
