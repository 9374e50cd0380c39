package report_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"mintline/internal/config"
	"mintline/internal/db"
	"mintline/internal/domain"
	"mintline/internal/migrate"
	"mintline/internal/repo"
	"mintline/internal/report"
)

type reportEnv struct {
	Builder *report.Builder
	DB      *sql.DB
	Repo    repo.Repo
	Ctx     context.Context

	now time.Time
}

func newReportEnv(t *testing.T) *reportEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	env := &reportEnv{
		DB:   conn,
		Repo: repo.Repo{DB: conn},
		Ctx:  context.Background(),
		now:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	env.Builder = &report.Builder{
		Repo:   env.Repo,
		Config: config.Default(),
		Now:    func() time.Time { return env.now },
	}
	return env
}

func (env *reportEnv) insertDoneMint(t *testing.T, id, owner, identity string) {
	t.Helper()
	tx, err := env.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	now := env.now.UTC().Format(time.RFC3339)
	ref := "sig-" + id
	m := domain.MintIntent{
		ID:            id,
		Owner:         owner,
		Wallet:        "w-" + owner,
		TicketID:      "t-" + id,
		Identity:      identity,
		RandomHex:     "02",
		AvailableJSON: `["1","2","3","4","5"]`,
		CommitTxRef:   "commit-" + id,
		RevealTxRef:   "reveal-" + id,
		PreparedTx:    "{}",
		MintTxRef:     &ref,
		Status:        domain.IntentDone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := env.Repo.InsertMintIntentTx(env.Ctx, tx, m); err != nil {
		t.Fatalf("insert intent: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestReportAggregates(t *testing.T) {
	env := newReportEnv(t)
	env.insertDoneMint(t, "m1", "alice", "1")
	env.insertDoneMint(t, "m2", "alice", "2")
	env.insertDoneMint(t, "m3", "bob", "1")

	rep, err := env.Builder.Get(env.Ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// one supply row per catalog identity, ascending.
	if len(rep.Supplies) != 5 {
		t.Fatalf("supplies = %d rows", len(rep.Supplies))
	}
	if rep.Supplies[0].Identity != "1" || rep.Supplies[0].Minted != 2 || rep.Supplies[0].MaxSupply != 250 {
		t.Fatalf("supply row 0 = %+v", rep.Supplies[0])
	}
	if len(rep.Leaderboard) != 2 {
		t.Fatalf("leaderboard = %+v", rep.Leaderboard)
	}
	if rep.Leaderboard[0] != (report.Entry{Owner: "alice", Mints: 2}) {
		t.Fatalf("leaderboard head = %+v", rep.Leaderboard[0])
	}
}

func TestReportCacheWithinTTL(t *testing.T) {
	env := newReportEnv(t)
	first, err := env.Builder.Get(env.Ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	env.insertDoneMint(t, "m1", "alice", "1")
	env.now = env.now.Add(5 * time.Second)
	cached, err := env.Builder.Get(env.Ctx)
	if err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if cached.GeneratedAt != first.GeneratedAt || len(cached.Leaderboard) != 0 {
		t.Fatalf("report rebuilt inside TTL: %+v", cached)
	}

	env.now = env.now.Add(15 * time.Second)
	fresh, err := env.Builder.Get(env.Ctx)
	if err != nil {
		t.Fatalf("fresh get: %v", err)
	}
	if fresh.GeneratedAt == first.GeneratedAt {
		t.Fatal("report not rebuilt after TTL lapsed")
	}
	if len(fresh.Leaderboard) != 1 {
		t.Fatalf("fresh leaderboard = %+v", fresh.Leaderboard)
	}
}

func TestReportConcurrentGets(t *testing.T) {
	env := newReportEnv(t)
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := env.Builder.Get(env.Ctx)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent get: %v", err)
		}
	}
}

func TestReportEmptyState(t *testing.T) {
	env := newReportEnv(t)
	rep, err := env.Builder.Get(env.Ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, s := range rep.Supplies {
		if s.Minted != 0 || s.Reserved != 0 {
			t.Fatalf("supply %+v on empty state", s)
		}
	}
	if len(rep.Leaderboard) != 0 {
		t.Fatalf("leaderboard = %+v", rep.Leaderboard)
	}
	if rep.GeneratedAt == "" {
		t.Fatal("generated_at missing")
	}
}
