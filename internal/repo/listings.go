package repo

import (
	"context"
	"database/sql"
	"strings"

	"mintline/internal/domain"
)

const listingColumns = `id,seller,seller_wallet,asset,price,buyer,buyer_wallet,seller_prepared_tx,buyer_prepared_tx,seller_deleg_tx_ref,buyer_pay_tx_ref,settle_tx_ref,status,reason,expires_at,created_at,updated_at`

func (r Repo) InsertListing(ctx context.Context, l domain.SaleListing) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sale_listings(`+listingColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		l.ID, l.Seller, l.SellerWallet, l.Asset, l.Price,
		nullableStringPtr(l.Buyer), nullableStringPtr(l.BuyerWallet),
		l.SellerPreparedTx, nullableStringPtr(l.BuyerPreparedTx),
		nullableStringPtr(l.SellerDelegTxRef), nullableStringPtr(l.BuyerPayTxRef), nullableStringPtr(l.SettleTxRef),
		l.Status, l.Reason, l.ExpiresAt, l.CreatedAt, l.UpdatedAt)
	return err
}

func scanListing(scan func(dest ...any) error) (domain.SaleListing, error) {
	var l domain.SaleListing
	var buyer, buyerWallet, buyerPrepared, sellerDeleg, buyerPay, settleRef sql.NullString
	err := scan(&l.ID, &l.Seller, &l.SellerWallet, &l.Asset, &l.Price,
		&buyer, &buyerWallet, &l.SellerPreparedTx, &buyerPrepared,
		&sellerDeleg, &buyerPay, &settleRef, &l.Status, &l.Reason, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if buyer.Valid {
		l.Buyer = &buyer.String
	}
	if buyerWallet.Valid {
		l.BuyerWallet = &buyerWallet.String
	}
	if buyerPrepared.Valid {
		l.BuyerPreparedTx = &buyerPrepared.String
	}
	if sellerDeleg.Valid {
		l.SellerDelegTxRef = &sellerDeleg.String
	}
	if buyerPay.Valid {
		l.BuyerPayTxRef = &buyerPay.String
	}
	if settleRef.Valid {
		l.SettleTxRef = &settleRef.String
	}
	return l, nil
}

func (r Repo) GetListing(ctx context.Context, id string) (domain.SaleListing, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM sale_listings WHERE id=?`, id)
	return scanListing(row.Scan)
}

func (r Repo) ListListings(ctx context.Context, f EscrowFilters) ([]domain.SaleListing, error) {
	var clauses []string
	var args []any
	if f.Party != "" {
		clauses = append(clauses, "(seller=? OR buyer=?)")
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
	query := `SELECT ` + listingColumns + ` FROM sale_listings ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SaleListing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) OpenListing(ctx context.Context, id, delegTxRef, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='open', seller_deleg_tx_ref=?, updated_at=? WHERE id=? AND status='draft'`,
		delegTxRef, now, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) LockListing(ctx context.Context, id, buyer, buyerWallet, buyerPreparedTx, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='locked', buyer=?, buyer_wallet=?, buyer_prepared_tx=?, updated_at=? WHERE id=? AND status='open' AND expires_at > ?`,
		buyer, buyerWallet, buyerPreparedTx, now, id, now)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) UnlockListing(ctx context.Context, id, buyer, reason, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='open', buyer=NULL, buyer_wallet=NULL, buyer_prepared_tx=NULL, buyer_pay_tx_ref=NULL, reason=?, updated_at=? WHERE id=? AND status='locked' AND buyer=?`,
		reason, now, id, buyer)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) SetListingBuyerPayRef(ctx context.Context, id, buyer, payTxRef, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET buyer_pay_tx_ref=?, updated_at=? WHERE id=? AND status='locked' AND buyer=?`,
		payTxRef, now, id, buyer)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) CompleteListing(ctx context.Context, id, buyer, settleTxRef, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='done', settle_tx_ref=?, updated_at=? WHERE id=? AND status='locked' AND buyer=?`,
		settleTxRef, now, id, buyer)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) CancelListing(ctx context.Context, id, seller, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='cancelled', updated_at=? WHERE id=? AND seller=? AND status IN ('draft','open')`,
		now, id, seller)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

func (r Repo) FailListing(ctx context.Context, id, reason, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='failed', reason=?, updated_at=? WHERE id=? AND status IN ('draft','open','locked')`,
		reason, now, id)
	return err
}

func (r Repo) ExpireOpenListings(ctx context.Context, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='expired', updated_at=? WHERE status='open' AND expires_at <= ?`, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ReapStaleLockedListings(ctx context.Context, cutoff, now string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE sale_listings SET status='open', buyer=NULL, buyer_wallet=NULL, buyer_prepared_tx=NULL, buyer_pay_tx_ref=NULL, reason='lock expired', updated_at=? WHERE status='locked' AND updated_at < ?`,
		now, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
