package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"mintline/internal/domain"
)

const mintIntentColumns = `id,owner,wallet,ticket_id,identity,random_hex,selection_index,available_json,commit_tx_ref,reveal_tx_ref,close_tx_ref,prepared_tx,mint_tx_ref,status,reason,created_at,updated_at`

func (r Repo) InsertMintIntentTx(ctx context.Context, tx *sql.Tx, m domain.MintIntent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO mint_intents(`+mintIntentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.Owner, m.Wallet, m.TicketID, m.Identity, m.RandomHex, m.SelectionIndex, m.AvailableJSON,
		m.CommitTxRef, m.RevealTxRef, m.CloseTxRef, m.PreparedTx, nullableStringPtr(m.MintTxRef),
		m.Status, m.Reason, m.CreatedAt, m.UpdatedAt)
	return err
}

func scanMintIntent(scan func(dest ...any) error) (domain.MintIntent, error) {
	var m domain.MintIntent
	var mintTxRef sql.NullString
	err := scan(&m.ID, &m.Owner, &m.Wallet, &m.TicketID, &m.Identity, &m.RandomHex, &m.SelectionIndex,
		&m.AvailableJSON, &m.CommitTxRef, &m.RevealTxRef, &m.CloseTxRef, &m.PreparedTx, &mintTxRef,
		&m.Status, &m.Reason, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if mintTxRef.Valid {
		m.MintTxRef = &mintTxRef.String
	}
	return m, nil
}

func (r Repo) GetMintIntent(ctx context.Context, id string) (domain.MintIntent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+mintIntentColumns+` FROM mint_intents WHERE id=?`, id)
	return scanMintIntent(row.Scan)
}

type MintIntentFilters struct {
	Owner  string
	Status string
	Limit  int
}

func (r Repo) ListMintIntents(ctx context.Context, f MintIntentFilters) ([]domain.MintIntent, error) {
	var clauses []string
	var args []any
	if f.Owner != "" {
		clauses = append(clauses, "owner=?")
		args = append(args, f.Owner)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + mintIntentColumns + ` FROM mint_intents ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MintIntent
	for rows.Next() {
		m, err := scanMintIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// MarkMintIntentDoneTx advances a prepared intent to done. The predicate
// guards against double settlement of the same intent.
func (r Repo) MarkMintIntentDoneTx(ctx context.Context, tx *sql.Tx, id, mintTxRef, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE mint_intents SET status='done', mint_tx_ref=?, updated_at=? WHERE id=? AND status='prepared'`,
		mintTxRef, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("mint intent %s not in prepared state", id)
	}
	return nil
}

func (r Repo) MarkMintIntentFailed(ctx context.Context, id, reason, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE mint_intents SET status='failed', reason=?, updated_at=? WHERE id=? AND status='prepared'`,
		reason, now, id)
	return err
}

// ListStalePreparedIntents returns prepared intents untouched since the
// cutoff, for the reaper to fail and release.
func (r Repo) ListStalePreparedIntents(ctx context.Context, cutoff string) ([]domain.MintIntent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+mintIntentColumns+` FROM mint_intents WHERE status='prepared' AND updated_at < ?`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MintIntent
	for rows.Next() {
		m, err := scanMintIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- transfer intents ---

const transferColumns = `id,owner,wallet,asset,recipient,prepared_tx,tx_ref,status,reason,created_at,updated_at`

func (r Repo) InsertTransferIntent(ctx context.Context, t domain.TransferIntent) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO transfer_intents(`+transferColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Owner, t.Wallet, t.Asset, t.Recipient, t.PreparedTx, nullableStringPtr(t.TxRef),
		t.Status, t.Reason, t.CreatedAt, t.UpdatedAt)
	return err
}

func scanTransferIntent(scan func(dest ...any) error) (domain.TransferIntent, error) {
	var t domain.TransferIntent
	var txRef sql.NullString
	err := scan(&t.ID, &t.Owner, &t.Wallet, &t.Asset, &t.Recipient, &t.PreparedTx, &txRef,
		&t.Status, &t.Reason, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if txRef.Valid {
		t.TxRef = &txRef.String
	}
	return t, nil
}

func (r Repo) GetTransferIntent(ctx context.Context, id string) (domain.TransferIntent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfer_intents WHERE id=?`, id)
	return scanTransferIntent(row.Scan)
}

func (r Repo) MarkTransferIntentDone(ctx context.Context, id, txRef, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE transfer_intents SET status='done', tx_ref=?, updated_at=? WHERE id=? AND status='prepared'`,
		txRef, now, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("transfer intent %s not in prepared state", id)
	}
	return nil
}

func (r Repo) MarkTransferIntentFailed(ctx context.Context, id, reason, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE transfer_intents SET status='failed', reason=?, updated_at=? WHERE id=? AND status='prepared'`,
		reason, now, id)
	return err
}
