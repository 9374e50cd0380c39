// Package engine orchestrates the reservation-lease and delegated-settlement
// flows on top of the resource ledger. All cross-request coordination happens
// through the repo's conditional atomic updates; the engine itself holds no
// lease state in memory.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mintline/internal/config"
	"mintline/internal/draw"
	"mintline/internal/events"
	"mintline/internal/ledger"
	"mintline/internal/oracle"
	"mintline/internal/repo"
	"mintline/internal/settle"

	"mintline/internal/domain"
)

// ErrUnavailable marks contention: the resource is leased or already taken.
// Callers should retry; this is expected under load, not a fault.
var ErrUnavailable = errors.New("resource unavailable, retry")

// ValidationError rejects a request and reverts any partial lease state.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return ValidationError{Msg: fmt.Sprintf(format, args...)}
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Ledger    ledger.Client
	Authority *settle.Authority
	Oracle    *oracle.Adapter
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, lc ledger.Client, authority *settle.Authority, orc *oracle.Adapter, logger *slog.Logger) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Ledger:    lc,
		Authority: authority,
		Oracle:    orc,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// appendEvent writes a single audit event in its own transaction.
func (e Engine) appendEvent(ctx context.Context, evtType, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// heldAsset looks up an asset in a wallet on the external ledger. Fails
// closed when the wallet does not hold the asset.
func (e Engine) heldAsset(ctx context.Context, wallet, assetID string) (ledger.Asset, error) {
	assets, err := e.Ledger.GetAssetsByOwner(ctx, wallet)
	if err != nil {
		return ledger.Asset{}, fmt.Errorf("query wallet %s: %w", wallet, err)
	}
	for _, a := range assets {
		if a.ID == assetID {
			return a, nil
		}
	}
	return ledger.Asset{}, validationf("asset %s not held by wallet %s", assetID, wallet)
}

// checkSignable runs the round-trip tamper check. A mismatch is logged and
// recorded as an audit event but does not block forwarding; the external
// ledger's own signature verification is the hard gate.
func (e Engine) checkSignable(ctx context.Context, prepared, submitted, entityKind, entityID, actorID string) {
	match, err := ledger.SignableMatches(prepared, submitted)
	if err != nil {
		e.logger().Warn("submit payload unreadable", "entity", entityKind, "id", entityID, "error", err.Error())
		_ = e.appendEvent(ctx, "submit.payload.mismatch", entityKind, entityID, actorID, events.EventPayload{"error": err.Error()})
		return
	}
	if !match {
		e.logger().Warn("submit payload differs from prepared payload", "entity", entityKind, "id", entityID, "actor", actorID)
		_ = e.appendEvent(ctx, "submit.payload.mismatch", entityKind, entityID, actorID, events.EventPayload{"match": false})
	}
}

// supplySnapshot joins the configured catalog with minted/reserved counts.
// The catalog is the drawable universe; identities outside it never enter a
// draw.
func (e Engine) supplySnapshot(ctx context.Context) ([]domain.IdentitySupply, error) {
	counts, err := e.Repo.CountSupplyByIdentity(ctx)
	if err != nil {
		return nil, err
	}
	var supplies []domain.IdentitySupply
	for identity := range e.Config.Catalog.Identities {
		s := counts[identity]
		s.Identity = identity
		s.MaxSupply = e.Config.MaxSupply(identity)
		supplies = append(supplies, s)
	}
	return supplies, nil
}

// AvailableIdentities returns the current drawable set, ascending.
func (e Engine) AvailableIdentities(ctx context.Context) ([]string, error) {
	supplies, err := e.supplySnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return draw.Available(supplies), nil
}

// parseExpiry validates a client-supplied expiry timestamp.
func (e Engine) parseExpiry(expiresAt string) (string, error) {
	if expiresAt == "" {
		return "", validationf("expiry is required")
	}
	t, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil {
		return "", validationf("invalid expiry %q: must be RFC3339", expiresAt)
	}
	if !t.After(e.now()) {
		return "", validationf("expiry %s is not in the future", expiresAt)
	}
	return t.UTC().Format(time.RFC3339), nil
}
