// Package oracle obtains a verifiable random value from an external
// commit-reveal beacon, retrying across alternate providers. A weak or empty
// reveal is a hard failure; the adapter never substitutes its own randomness.
package oracle

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

var (
	// ErrWeakRandom means the beacon revealed an all-zero or empty value.
	ErrWeakRandom = errors.New("beacon revealed a weak random value")
	// ErrExhausted means every provider attempt failed.
	ErrExhausted = errors.New("all oracle providers exhausted")
)

// Result carries the random value plus the provenance needed to audit it.
type Result struct {
	RandomHex   string `json:"random_hex"`
	CommitTxRef string `json:"commit_tx_ref"`
	RevealTxRef string `json:"reveal_tx_ref"`
	CloseTxRef  string `json:"close_tx_ref"`
}

// Beacon is one commit-reveal randomness provider.
type Beacon interface {
	// Commit opens a randomness request and returns its on-ledger reference.
	Commit(ctx context.Context) (string, error)
	// Reveal returns the revealed value and its on-ledger reference.
	Reveal(ctx context.Context) ([]byte, string, error)
	// Close releases the beacon-side ephemeral account.
	Close(ctx context.Context) (string, error)
}

// Adapter rotates through providers with a bounded attempt budget.
type Adapter struct {
	Providers   []Beacon
	MaxAttempts int
	Logger      *slog.Logger
}

// Random runs one full commit-reveal-close exchange. Transient provider
// errors rotate to the next provider; a weak reveal fails immediately.
func (a *Adapter) Random(ctx context.Context) (Result, error) {
	if len(a.Providers) == 0 {
		return Result{}, errors.New("no oracle providers configured")
	}
	attempts := a.MaxAttempts
	if attempts <= 0 {
		attempts = len(a.Providers)
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		provider := a.Providers[i%len(a.Providers)]
		res, err := a.exchange(ctx, provider)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrWeakRandom) {
			return Result{}, err
		}
		lastErr = err
		if a.Logger != nil {
			a.Logger.Warn("oracle attempt failed", "attempt", i+1, "error", err.Error())
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}
	return Result{}, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

func (a *Adapter) exchange(ctx context.Context, b Beacon) (Result, error) {
	commitRef, err := b.Commit(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	value, revealRef, err := b.Reveal(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("reveal: %w", err)
	}
	if len(value) == 0 || allZero(value) {
		return Result{}, ErrWeakRandom
	}
	closeRef, err := b.Close(ctx)
	if err != nil {
		// The random value is already safe to use; the close failure only
		// leaks the ephemeral account.
		if a.Logger != nil {
			a.Logger.Warn("oracle close failed", "error", err.Error())
		}
		closeRef = ""
	}
	return Result{
		RandomHex:   hex.EncodeToString(value),
		CommitTxRef: commitRef,
		RevealTxRef: revealRef,
		CloseTxRef:  closeRef,
	}, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
