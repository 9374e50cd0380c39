package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"mintline/internal/domain"
)

// Conditional atomic updates over trade offers and sale listings. Every
// state transition is a single UPDATE whose WHERE clause encodes the legal
// prior state; RowsAffected decides the winner under contention.

const offerColumns = `id,maker,maker_wallet,maker_asset,wanted_json,taker,taker_wallet,taker_asset,maker_prepared_tx,taker_prepared_tx,maker_deleg_tx_ref,taker_deleg_tx_ref,settle_tx_ref,status,reason,expires_at,created_at,updated_at`

func (r Repo) InsertOffer(ctx context.Context, o domain.TradeOffer) error {
	wanted, err := json.Marshal(o.Wanted)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO trade_offers(`+offerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Maker, o.MakerWallet, o.MakerAsset, string(wanted),
		nullableStringPtr(o.Taker), nullableStringPtr(o.TakerWallet), nullableStringPtr(o.TakerAsset),
		o.MakerPreparedTx, nullableStringPtr(o.TakerPreparedTx),
		nullableStringPtr(o.MakerDelegTxRef), nullableStringPtr(o.TakerDelegTxRef), nullableStringPtr(o.SettleTxRef),
		o.Status, o.Reason, o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	return err
}

func scanOffer(scan func(dest ...any) error) (domain.TradeOffer, error) {
	var o domain.TradeOffer
	var wantedJSON string
	var taker, takerWallet, takerAsset, takerPrepared, makerDeleg, takerDeleg, settleRef sql.NullString
	err := scan(&o.ID, &o.Maker, &o.MakerWallet, &o.MakerAsset, &wantedJSON,
		&taker, &takerWallet, &takerAsset, &o.MakerPreparedTx, &takerPrepared,
		&makerDeleg, &takerDeleg, &settleRef, &o.Status, &o.Reason, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal([]byte(wantedJSON), &o.Wanted); err != nil {
		return o, err
	}
	if taker.Valid {
		o.Taker = &taker.String
	}
	if takerWallet.Valid {
		o.TakerWallet = &takerWallet.String
	}
	if takerAsset.Valid {
		o.TakerAsset = &takerAsset.String
	}
	if takerPrepared.Valid {
		o.TakerPreparedTx = &takerPrepared.String
	}
	if makerDeleg.Valid {
		o.MakerDelegTxRef = &makerDeleg.String
	}
	if takerDeleg.Valid {
		o.TakerDelegTxRef = &takerDeleg.String
	}
	if settleRef.Valid {
		o.SettleTxRef = &settleRef.String
	}
	return o, nil
}

func (r Repo) GetOffer(ctx context.Context, id string) (domain.TradeOffer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM trade_offers WHERE id=?`, id)
	return scanOffer(row.Scan)
}

type EscrowFilters struct {
	Party  string
	Status string
	Limit  int
}

func (r Repo) ListOffers(ctx context.Context, f EscrowFilters) ([]domain.TradeOffer, error) {
	var clauses []string
	var args []any
	if f.Party != "" {
		clauses = append(clauses, "(maker=? OR taker=?)")
		args = append(args, f.Party, f.Party)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + offerColumns + ` FROM trade_offers ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TradeOffer
	for rows.Next() {
		o, err := scanOffer(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// AssetHasActiveEscrow checks both collections for a draft/open/locked record
// already claiming the asset. Enforces the one-active-escrow-per-asset rule.
func (r Repo) AssetHasActiveEscrow(ctx context.Context, asset string) (bool, error) {
	var count int
	err := r.DB.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM trade_offers WHERE maker_asset=? AND status IN ('draft','open','locked')) +
		(SELECT COUNT(*) FROM sale_listings WHERE asset=? AND status IN ('draft','open','locked'))`,
		asset, asset).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r Repo) OpenOffer(ctx context.Context, id, delegTxRef, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='open', maker_deleg_tx_ref=?, updated_at=? WHERE id=? AND status='draft'`,
		delegTxRef, now, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// LockOffer claims an open, unexpired offer for a taker. Exactly one of N
// concurrent takers wins.
func (r Repo) LockOffer(ctx context.Context, id, taker, takerWallet, takerAsset, takerPreparedTx, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='locked', taker=?, taker_wallet=?, taker_asset=?, taker_prepared_tx=?, updated_at=? WHERE id=? AND status='open' AND expires_at > ?`,
		taker, takerWallet, takerAsset, takerPreparedTx, now, id, now)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// UnlockOffer reverts a locked offer to open and clears every taker-scoped
// field. Only the locking taker's token releases the lock.
func (r Repo) UnlockOffer(ctx context.Context, id, taker, reason, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='open', taker=NULL, taker_wallet=NULL, taker_asset=NULL, taker_prepared_tx=NULL, taker_deleg_tx_ref=NULL, reason=?, updated_at=? WHERE id=? AND status='locked' AND taker=?`,
		reason, now, id, taker)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) SetOfferTakerDelegRef(ctx context.Context, id, taker, delegTxRef, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET taker_deleg_tx_ref=?, updated_at=? WHERE id=? AND status='locked' AND taker=?`,
		delegTxRef, now, id, taker)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) CompleteOffer(ctx context.Context, id, taker, settleTxRef, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='done', settle_tx_ref=?, updated_at=? WHERE id=? AND status='locked' AND taker=?`,
		settleTxRef, now, id, taker)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) CancelOffer(ctx context.Context, id, maker, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='cancelled', updated_at=? WHERE id=? AND maker=? AND status IN ('draft','open')`,
		now, id, maker)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) FailOffer(ctx context.Context, id, reason, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='failed', reason=?, updated_at=? WHERE id=? AND status IN ('draft','open','locked')`,
		reason, now, id)
	return err
}

// ExpireOpenOffers sweeps open offers past their expiry.
func (r Repo) ExpireOpenOffers(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='expired', updated_at=? WHERE status='open' AND expires_at <= ?`, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReapStaleLockedOffers resets locks whose updated_at predates the cutoff,
// clearing taker fields so the offer becomes lockable again.
func (r Repo) ReapStaleLockedOffers(ctx context.Context, cutoff, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE trade_offers SET status='open', taker=NULL, taker_wallet=NULL, taker_asset=NULL, taker_prepared_tx=NULL, taker_deleg_tx_ref=NULL, reason='lock expired', updated_at=? WHERE status='locked' AND updated_at < ?`,
		now, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
