package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mintline/internal/config"
	"mintline/internal/db"
	"mintline/internal/domain"
	"mintline/internal/engine"
	"mintline/internal/ledger"
	"mintline/internal/migrate"
	"mintline/internal/oracle"
	"mintline/internal/report"
	"mintline/internal/server"
	"mintline/internal/settle"
	"mintline/internal/verify"
)

const (
	testSecret = "test-secret"
	testSeed   = "0101010101010101010101010101010101010101010101010101010101010101"
)

type memLedger struct {
	mu  sync.Mutex
	txs map[string]ledger.TxStatus
	seq int
}

func (f *memLedger) SendTransaction(ctx context.Context, signed []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	sig := fmt.Sprintf("sig-%d", f.seq)
	f.txs[sig] = ledger.TxStatus{Found: true, Confirmed: true}
	return sig, nil
}

func (f *memLedger) ConfirmTransaction(ctx context.Context, sig string) error { return nil }

func (f *memLedger) GetTransactionStatus(ctx context.Context, sig string) (ledger.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[sig], nil
}

func (f *memLedger) GetAssetsByOwner(ctx context.Context, addr string) ([]ledger.Asset, error) {
	return nil, nil
}

type fixedBeacon struct{}

func (fixedBeacon) Commit(ctx context.Context) (string, error) { return "commit-1", nil }
func (fixedBeacon) Reveal(ctx context.Context) ([]byte, string, error) {
	return []byte{0x02}, "reveal-1", nil
}
func (fixedBeacon) Close(ctx context.Context) (string, error) { return "close-1", nil }

func newTestServer(t *testing.T) *httptest.Server {
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
	lc := &memLedger{txs: map[string]ledger.TxStatus{
		"commit-1": {Found: true, Confirmed: true},
		"reveal-1": {Found: true, Confirmed: true},
		"close-1":  {Found: true, Confirmed: true},
	}}
	authority, err := settle.New(testSeed, lc)
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(conn, cfg, lc, authority, &oracle.Adapter{Providers: []oracle.Beacon{fixedBeacon{}}}, logger)

	handler, err := server.New(server.Config{
		Engine:   eng,
		Report:   &report.Builder{Repo: eng.Repo, Config: cfg},
		Verifier: verify.Verifier{Repo: eng.Repo, Ledger: lc},
		Auth: server.AuthConfig{
			JWTSecret:             testSecret,
			AllowLegacyUserHeader: true,
			Logger:                logger,
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func signToken(t *testing.T, subject string, roles ...string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode error envelope %s: %v", data, err)
	}
	return envelope.Error.Code
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v0/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d: %s", resp.StatusCode, data)
	}
}

func TestReportIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v0/report", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report = %d: %s", resp.StatusCode, data)
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(rep.Supplies) != 5 {
		t.Fatalf("supplies = %d rows", len(rep.Supplies))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v0/tickets", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("code = %s", code)
	}
}

func TestBadTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v0/tickets", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
}

func TestLegacyUserHeader(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v0/tickets", nil)
	req.Header.Set("X-User-Id", "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("legacy header status = %d", resp.StatusCode)
	}
}

func TestTicketIngestRequiresFeedRole(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{"owner": "alice", "source": "rewards"}

	resp, data := doJSON(t, http.MethodPost, ts.URL+"/v0/tickets", signToken(t, "svc"), body)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("without role = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v0/tickets", signToken(t, "svc", "feed"), body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("with role = %d: %s", resp.StatusCode, data)
	}
	var ticket domain.Ticket
	if err := json.Unmarshal(data, &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if ticket.Owner != "alice" || ticket.Status != "pending" {
		t.Fatalf("ticket = %+v", ticket)
	}
}

func TestMintFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	feed := signToken(t, "svc", "feed")
	alice := signToken(t, "alice")

	resp, data := doJSON(t, http.MethodPost, ts.URL+"/v0/tickets", feed,
		map[string]any{"owner": "alice", "source": "rewards"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("ingest = %d: %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v0/mints", alice,
		map[string]any{"wallet": "w-alice"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("prepare = %d: %s", resp.StatusCode, data)
	}
	var m domain.MintIntent
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	if m.Status != "prepared" || m.PreparedTx == "" {
		t.Fatalf("intent = %+v", m)
	}

	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v0/mints/"+m.ID+"/submit", alice,
		map[string]any{"signed_tx": m.PreparedTx})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit = %d: %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	if m.Status != "done" {
		t.Fatalf("after submit: %+v", m)
	}

	resp, data = doJSON(t, http.MethodGet, ts.URL+"/v0/mints/"+m.ID+"/verify", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify = %d: %s", resp.StatusCode, data)
	}
	var f verify.Finding
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode finding: %v", err)
	}
	if !f.Fair {
		t.Fatalf("finding = %+v", f)
	}
}

func TestPrepareWithoutTicketIsLeaseConflict(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, http.MethodPost, ts.URL+"/v0/mints", signToken(t, "alice"),
		map[string]any{"wallet": "w-alice"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
	if code := errorCode(t, data); code != "lease_conflict" {
		t.Fatalf("code = %s", code)
	}
}

func TestUnknownMintIs404(t *testing.T) {
	ts := newTestServer(t)
	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v0/mints/nope", signToken(t, "alice"), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d: %s", resp.StatusCode, data)
	}
}
