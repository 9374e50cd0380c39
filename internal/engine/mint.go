package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"mintline/internal/domain"
	"mintline/internal/draw"
	"mintline/internal/events"
)

// IngestTicket records a redeemable ticket delivered by the upstream reward
// feed. Re-delivery of a known id returns the stored ticket unchanged.
func (e Engine) IngestTicket(ctx context.Context, id, owner, source string) (domain.Ticket, error) {
	if owner == "" {
		return domain.Ticket{}, validationf("ticket owner is required")
	}
	if id == "" {
		id = uuid.NewString()
	} else if existing, err := e.Repo.GetTicket(ctx, id); err == nil {
		return existing, nil
	}
	now := e.nowStr()
	t := domain.Ticket{
		ID:        id,
		Owner:     owner,
		Source:    source,
		Status:    domain.TicketPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertTicket(ctx, t); err != nil {
		return domain.Ticket{}, err
	}
	if err := e.appendEvent(ctx, "ticket.created", "ticket", t.ID, owner, events.EventPayload{"source": source}); err != nil {
		return domain.Ticket{}, err
	}
	return t, nil
}

type MintPrepareOptions struct {
	IntentID string
	Owner    string
	Wallet   string
}

// PrepareMint leases the owner's oldest free ticket, draws an identity from
// the oracle's random value, and returns a prepared intent carrying the
// unsigned mint transaction plus the full draw provenance.
//
// Re-submitting a known intent id returns the stored intent without drawing
// again.
func (e Engine) PrepareMint(ctx context.Context, opts MintPrepareOptions) (domain.MintIntent, error) {
	if opts.Owner == "" {
		return domain.MintIntent{}, validationf("owner is required")
	}
	if opts.Wallet == "" {
		return domain.MintIntent{}, validationf("wallet is required")
	}
	if opts.IntentID != "" {
		if existing, err := e.Repo.GetMintIntent(ctx, opts.IntentID); err == nil {
			return existing, nil
		}
	}
	intentID := opts.IntentID
	if intentID == "" {
		intentID = uuid.NewString()
	}

	if _, err := e.Repo.LinkWallet(ctx, opts.Wallet, opts.Owner, e.nowStr()); err != nil {
		return domain.MintIntent{}, validationf("%v", err)
	}

	ticket, ok, err := e.Repo.AcquireOldestFreeTicket(ctx, opts.Owner, intentID, e.nowStr())
	if err != nil {
		return domain.MintIntent{}, err
	}
	if !ok {
		return domain.MintIntent{}, fmt.Errorf("%w: no redeemable ticket for %s", ErrUnavailable, opts.Owner)
	}
	release := func() {
		_ = e.Repo.ReleaseTicket(ctx, ticket.ID, intentID, e.nowStr())
	}

	res, err := e.Oracle.Random(ctx)
	if err != nil {
		release()
		return domain.MintIntent{}, fmt.Errorf("randomness: %w", err)
	}

	supplies, err := e.supplySnapshot(ctx)
	if err != nil {
		release()
		return domain.MintIntent{}, err
	}
	available := draw.Available(supplies)
	index, identity, err := draw.Select(available, res.RandomHex)
	if err != nil {
		release()
		if errors.Is(err, draw.ErrNoneAvailable) {
			return domain.MintIntent{}, validationf("no identities available to draw")
		}
		return domain.MintIntent{}, err
	}
	availableJSON, err := json.Marshal(available)
	if err != nil {
		release()
		return domain.MintIntent{}, err
	}

	prepared := e.Authority.PrepareMint(identity, opts.Wallet)
	preparedPayload, err := prepared.Encode()
	if err != nil {
		release()
		return domain.MintIntent{}, err
	}

	now := e.nowStr()
	m := domain.MintIntent{
		ID:             intentID,
		Owner:          opts.Owner,
		Wallet:         opts.Wallet,
		TicketID:       ticket.ID,
		Identity:       identity,
		RandomHex:      res.RandomHex,
		SelectionIndex: index,
		AvailableJSON:  string(availableJSON),
		CommitTxRef:    res.CommitTxRef,
		RevealTxRef:    res.RevealTxRef,
		CloseTxRef:     res.CloseTxRef,
		PreparedTx:     preparedPayload,
		Status:         domain.IntentPrepared,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		release()
		return domain.MintIntent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMintIntentTx(ctx, tx, m); err != nil {
		release()
		return domain.MintIntent{}, err
	}
	if err := e.Events.Append(ctx, tx, "mint.prepared", "mint", m.ID, opts.Owner, events.EventPayload{
		"ticket_id": ticket.ID,
		"identity":  identity,
		"index":     index,
	}); err != nil {
		release()
		return domain.MintIntent{}, err
	}
	if err := tx.Commit(); err != nil {
		release()
		return domain.MintIntent{}, err
	}
	return m, nil
}

// SubmitMint forwards the signed mint payload, waits for ledger finality, and
// then consumes the leased ticket and completes the intent in one local
// transaction. A ledger failure fails the intent and frees the ticket.
func (e Engine) SubmitMint(ctx context.Context, intentID, owner, signedPayload string) (domain.MintIntent, error) {
	m, err := e.Repo.GetMintIntent(ctx, intentID)
	if err != nil {
		return domain.MintIntent{}, err
	}
	if m.Owner != owner {
		return domain.MintIntent{}, validationf("intent %s does not belong to %s", intentID, owner)
	}
	switch m.Status {
	case domain.IntentDone:
		return m, nil
	case domain.IntentFailed:
		return domain.MintIntent{}, validationf("intent %s already failed: %s", intentID, m.Reason)
	}
	if signedPayload == "" {
		return domain.MintIntent{}, validationf("signed payload is required")
	}

	e.checkSignable(ctx, m.PreparedTx, signedPayload, "mint", m.ID, owner)

	mintTxRef, err := e.Authority.Forward(ctx, signedPayload)
	if err != nil {
		now := e.nowStr()
		reason := fmt.Sprintf("ledger submit failed: %v", err)
		_ = e.Repo.MarkMintIntentFailed(ctx, m.ID, reason, now)
		_ = e.Repo.ReleaseTicket(ctx, m.TicketID, m.ID, now)
		_ = e.appendEvent(ctx, "mint.failed", "mint", m.ID, owner, events.EventPayload{"reason": reason})
		return domain.MintIntent{}, fmt.Errorf("submit mint: %w", err)
	}

	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.MintIntent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkMintIntentDoneTx(ctx, tx, m.ID, mintTxRef, now); err != nil {
		return domain.MintIntent{}, err
	}
	if err := e.Repo.ConsumeTicketTx(ctx, tx, m.TicketID, m.ID, now); err != nil {
		return domain.MintIntent{}, err
	}
	if err := e.Events.Append(ctx, tx, "mint.done", "mint", m.ID, owner, events.EventPayload{
		"mint_tx_ref": mintTxRef,
		"identity":    m.Identity,
	}); err != nil {
		return domain.MintIntent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.MintIntent{}, err
	}

	m.Status = domain.IntentDone
	m.MintTxRef = &mintTxRef
	m.UpdatedAt = now
	return m, nil
}

// CancelMint abandons a prepared intent and frees its ticket lease. The drawn
// identity slot is released back to the supply pool.
func (e Engine) CancelMint(ctx context.Context, intentID, owner string) (domain.MintIntent, error) {
	m, err := e.Repo.GetMintIntent(ctx, intentID)
	if err != nil {
		return domain.MintIntent{}, err
	}
	if m.Owner != owner {
		return domain.MintIntent{}, validationf("intent %s does not belong to %s", intentID, owner)
	}
	if m.Status != domain.IntentPrepared {
		return domain.MintIntent{}, validationf("intent %s is %s, only prepared intents can be cancelled", intentID, m.Status)
	}
	now := e.nowStr()
	if err := e.Repo.MarkMintIntentFailed(ctx, m.ID, "cancelled by owner", now); err != nil {
		return domain.MintIntent{}, err
	}
	if err := e.Repo.ReleaseTicket(ctx, m.TicketID, m.ID, now); err != nil {
		return domain.MintIntent{}, err
	}
	if err := e.appendEvent(ctx, "mint.cancelled", "mint", m.ID, owner, nil); err != nil {
		return domain.MintIntent{}, err
	}
	m.Status = domain.IntentFailed
	m.Reason = "cancelled by owner"
	m.UpdatedAt = now
	return m, nil
}
