// Package verify replays completed draws from stored provenance so anyone
// can audit that a mint was fair.
package verify

import (
	"context"
	"encoding/json"
	"fmt"

	"mintline/internal/draw"
	"mintline/internal/ledger"
	"mintline/internal/repo"
)

// Finding is the verdict on one mint intent. Fair is the conjunction of the
// three independent checks.
type Finding struct {
	IntentID          string `json:"intent_id"`
	Identity          string `json:"identity"`
	RandomnessPresent bool   `json:"randomness_present"`
	DrawReproduced    bool   `json:"draw_reproduced"`
	TxsConfirmed      bool   `json:"txs_confirmed"`
	Fair              bool   `json:"fair"`
	Detail            string `json:"detail,omitempty"`
}

type Verifier struct {
	Repo   repo.Repo
	Ledger ledger.Client
}

// Verify replays the draw for one intent against its immutable provenance.
func (v Verifier) Verify(ctx context.Context, intentID string) (Finding, error) {
	m, err := v.Repo.GetMintIntent(ctx, intentID)
	if err != nil {
		return Finding{}, err
	}
	f := Finding{IntentID: m.ID, Identity: m.Identity}

	f.RandomnessPresent = m.RandomHex != "" && m.CommitTxRef != "" && m.RevealTxRef != ""
	if !f.RandomnessPresent {
		f.Detail = "randomness provenance incomplete"
	}

	var available []string
	if err := json.Unmarshal([]byte(m.AvailableJSON), &available); err != nil {
		f.Detail = fmt.Sprintf("available set unreadable: %v", err)
	} else {
		index, identity, err := draw.Select(available, m.RandomHex)
		switch {
		case err != nil:
			f.Detail = fmt.Sprintf("draw replay: %v", err)
		case index != m.SelectionIndex || identity != m.Identity:
			f.Detail = fmt.Sprintf("draw replay picked %s at %d, stored %s at %d", identity, index, m.Identity, m.SelectionIndex)
		default:
			f.DrawReproduced = true
		}
	}

	f.TxsConfirmed = true
	refs := []string{m.CommitTxRef, m.RevealTxRef}
	if m.MintTxRef != nil {
		refs = append(refs, *m.MintTxRef)
	}
	for _, ref := range refs {
		if ref == "" {
			f.TxsConfirmed = false
			continue
		}
		status, err := v.Ledger.GetTransactionStatus(ctx, ref)
		if err != nil {
			return Finding{}, fmt.Errorf("tx status %s: %w", ref, err)
		}
		if !status.Found || !status.Confirmed {
			f.TxsConfirmed = false
			if f.Detail == "" {
				f.Detail = fmt.Sprintf("tx %s not finalized", ref)
			}
		}
	}

	f.Fair = f.RandomnessPresent && f.DrawReproduced && f.TxsConfirmed
	return f, nil
}
