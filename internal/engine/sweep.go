package engine

import (
	"context"
	"time"

	"mintline/internal/events"
)

// SweepResult counts what one reaper pass reclaimed.
type SweepResult struct {
	ExpiredOffers   int64 `json:"expired_offers"`
	ExpiredListings int64 `json:"expired_listings"`
	UnlockedOffers  int64 `json:"unlocked_offers"`
	UnlockedLists   int64 `json:"unlocked_listings"`
	FailedIntents   int64 `json:"failed_intents"`
	FreedTickets    int64 `json:"freed_tickets"`
}

// Sweep reclaims every stale lease in one pass: open escrows past expiry,
// locks idle past the lock TTL, and prepared mint intents idle past the
// ticket TTL. Each reset is a conditional update, so concurrent sweeps and
// live requests never double-free.
func (e Engine) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	lockCutoff := now.Add(-time.Duration(e.Config.LockTTLSeconds()) * time.Second).Format(time.RFC3339)
	ticketCutoff := now.Add(-time.Duration(e.Config.TicketTTLSeconds()) * time.Second).Format(time.RFC3339)

	n, err := e.Repo.ExpireOpenOffers(ctx, nowStr)
	if err != nil {
		return res, err
	}
	res.ExpiredOffers = n

	n, err = e.Repo.ExpireOpenListings(ctx, nowStr)
	if err != nil {
		return res, err
	}
	res.ExpiredListings = n

	n, err = e.Repo.ReapStaleLockedOffers(ctx, lockCutoff, nowStr)
	if err != nil {
		return res, err
	}
	res.UnlockedOffers = n

	n, err = e.Repo.ReapStaleLockedListings(ctx, lockCutoff, nowStr)
	if err != nil {
		return res, err
	}
	res.UnlockedLists = n

	stale, err := e.Repo.ListStalePreparedIntents(ctx, ticketCutoff)
	if err != nil {
		return res, err
	}
	var intentIDs []string
	for _, m := range stale {
		if err := e.Repo.MarkMintIntentFailed(ctx, m.ID, "lease expired", nowStr); err != nil {
			return res, err
		}
		intentIDs = append(intentIDs, m.ID)
		res.FailedIntents++
	}
	if len(intentIDs) > 0 {
		freed, err := e.Repo.ReleaseStaleTicketLocks(ctx, intentIDs, nowStr)
		if err != nil {
			return res, err
		}
		res.FreedTickets = freed
	}

	if res != (SweepResult{}) {
		e.logger().Info("sweep reclaimed stale leases",
			"expired_offers", res.ExpiredOffers,
			"expired_listings", res.ExpiredListings,
			"unlocked_offers", res.UnlockedOffers,
			"unlocked_listings", res.UnlockedLists,
			"failed_intents", res.FailedIntents,
			"freed_tickets", res.FreedTickets)
		_ = e.appendEvent(ctx, "sweep.done", "sweep", "", "reaper", events.EventPayload{
			"expired_offers":    res.ExpiredOffers,
			"expired_listings":  res.ExpiredListings,
			"unlocked_offers":   res.UnlockedOffers,
			"unlocked_listings": res.UnlockedLists,
			"failed_intents":    res.FailedIntents,
			"freed_tickets":     res.FreedTickets,
		})
	}
	return res, nil
}
