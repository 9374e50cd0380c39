package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mintline/internal/domain"
)

// Repo is the resource ledger: every lease-able record lives here and every
// cross-request coordination goes through a conditional atomic update.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

// --- tickets ---

func (r Repo) InsertTicket(ctx context.Context, t domain.Ticket) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tickets(id,owner,source,status,locked_by_intent_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		t.ID, t.Owner, t.Source, t.Status, nullableStringPtr(t.LockedByIntentID), t.CreatedAt, t.UpdatedAt)
	return err
}

func scanTicket(scan func(dest ...any) error) (domain.Ticket, error) {
	var t domain.Ticket
	var lockedBy sql.NullString
	err := scan(&t.ID, &t.Owner, &t.Source, &t.Status, &lockedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if lockedBy.Valid {
		t.LockedByIntentID = &lockedBy.String
	}
	return t, nil
}

const ticketColumns = `id,owner,source,status,locked_by_intent_id,created_at,updated_at`

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=?`, id)
	return scanTicket(row.Scan)
}

type TicketFilters struct {
	Owner  string
	Status string
	Limit  int
}

func (r Repo) ListTickets(ctx context.Context, f TicketFilters) ([]domain.Ticket, error) {
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
	query := `SELECT ` + ticketColumns + ` FROM tickets ` + where + ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AcquireOldestFreeTicket grants a lease on the owner's oldest pending,
// unlocked ticket by stamping the intent id. The UPDATE predicate is the only
// correctness boundary: among N concurrent callers racing for one ticket,
// exactly one sees RowsAffected==1.
func (r Repo) AcquireOldestFreeTicket(ctx context.Context, owner, intentID, now string) (domain.Ticket, bool, error) {
	// A loser may race onto a candidate another caller just took; walk a few
	// candidates before reporting the pool unavailable.
	for attempt := 0; attempt < 3; attempt++ {
		var id string
		err := r.DB.QueryRowContext(ctx, `SELECT id FROM tickets WHERE owner=? AND status='pending' AND locked_by_intent_id IS NULL ORDER BY created_at ASC, id ASC LIMIT 1`, owner).Scan(&id)
		if err == sql.ErrNoRows {
			return domain.Ticket{}, false, nil
		}
		if err != nil {
			return domain.Ticket{}, false, err
		}
		res, err := r.DB.ExecContext(ctx, `UPDATE tickets SET locked_by_intent_id=?, updated_at=? WHERE id=? AND status='pending' AND locked_by_intent_id IS NULL`,
			intentID, now, id)
		if err != nil {
			return domain.Ticket{}, false, err
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			t, err := r.GetTicket(ctx, id)
			if err != nil {
				return domain.Ticket{}, false, err
			}
			return t, true, nil
		}
	}
	return domain.Ticket{}, false, nil
}

// ReleaseTicket clears the lease only if the intent id still matches, so a
// lease reassigned after a reap is never released by its former holder.
func (r Repo) ReleaseTicket(ctx context.Context, ticketID, intentID, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE tickets SET locked_by_intent_id=NULL, updated_at=? WHERE id=? AND locked_by_intent_id=?`,
		now, ticketID, intentID)
	return err
}

// ConsumeTicketTx moves a ticket to its terminal consumed state. Only the
// locking intent may consume it.
func (r Repo) ConsumeTicketTx(ctx context.Context, tx *sql.Tx, ticketID, intentID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tickets SET status='consumed', locked_by_intent_id=NULL, updated_at=? WHERE id=? AND locked_by_intent_id=? AND status='pending'`,
		now, ticketID, intentID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("ticket %s not locked by intent %s", ticketID, intentID)
	}
	return nil
}

// ReleaseStaleTicketLocks frees tickets whose locking intent went stale. The
// reset is itself a conditional update, so no coordination is needed.
func (r Repo) ReleaseStaleTicketLocks(ctx context.Context, intentIDs []string, now string) (int64, error) {
	var total int64
	for _, id := range intentIDs {
		res, err := r.DB.ExecContext(ctx, `UPDATE tickets SET locked_by_intent_id=NULL, updated_at=? WHERE locked_by_intent_id=? AND status='pending'`, now, id)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// --- wallet links ---

// LinkWallet records the first identity to use an address. First writer
// wins: an address already linked to a different identity is rejected.
func (r Repo) LinkWallet(ctx context.Context, address, owner, now string) (domain.WalletLink, error) {
	if address == "" {
		return domain.WalletLink{}, errors.New("wallet address required")
	}
	if _, err := r.DB.ExecContext(ctx, `INSERT INTO wallet_links(address,owner,created_at) VALUES (?,?,?) ON CONFLICT(address) DO NOTHING`,
		address, owner, now); err != nil {
		return domain.WalletLink{}, err
	}
	var link domain.WalletLink
	err := r.DB.QueryRowContext(ctx, `SELECT address,owner,created_at FROM wallet_links WHERE address=?`, address).
		Scan(&link.Address, &link.Owner, &link.CreatedAt)
	if err != nil {
		return domain.WalletLink{}, err
	}
	if link.Owner != owner {
		return link, fmt.Errorf("wallet %s already linked to a different identity", address)
	}
	return link, nil
}

func (r Repo) ListWalletLinks(ctx context.Context, owner string) ([]domain.WalletLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT address,owner,created_at FROM wallet_links WHERE owner=? ORDER BY created_at ASC`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WalletLink
	for rows.Next() {
		var l domain.WalletLink
		if err := rows.Scan(&l.Address, &l.Owner, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

// --- supply aggregates ---

// CountSupplyByIdentity groups mint intents into minted (done) and reserved
// (prepared) counts per identity.
func (r Repo) CountSupplyByIdentity(ctx context.Context) (map[string]domain.IdentitySupply, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT identity, status, COUNT(*) FROM mint_intents WHERE identity != '' AND status IN ('prepared','done') GROUP BY identity, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.IdentitySupply{}
	for rows.Next() {
		var identity, status string
		var count int
		if err := rows.Scan(&identity, &status, &count); err != nil {
			return nil, err
		}
		s := res[identity]
		s.Identity = identity
		switch status {
		case "done":
			s.Minted = count
		case "prepared":
			s.Reserved = count
		}
		res[identity] = s
	}
	return res, rows.Err()
}

// CountMintsByOwner returns completed mints per owner, most first.
func (r Repo) CountMintsByOwner(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT owner, COUNT(*) FROM mint_intents WHERE status='done' GROUP BY owner`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var owner string
		var count int
		if err := rows.Scan(&owner, &count); err != nil {
			return nil, err
		}
		res[owner] = count
	}
	return res, rows.Err()
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entity.Valid {
			e.EntityID = entity.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
