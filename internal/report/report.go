// Package report builds the public supply and leaderboard report. The report
// is served from a single-slot cache so aggregate scans run at most once per
// TTL regardless of request rate.
package report

import (
	"context"
	"sort"
	"sync"
	"time"

	"mintline/internal/config"
	"mintline/internal/domain"
	"mintline/internal/repo"
)

// Entry is one leaderboard row.
type Entry struct {
	Owner string `json:"owner"`
	Mints int    `json:"mints"`
}

// Report is the cached aggregate view.
type Report struct {
	GeneratedAt string                  `json:"generated_at"`
	Supplies    []domain.IdentitySupply `json:"supplies"`
	Leaderboard []Entry                 `json:"leaderboard"`
}

type Builder struct {
	Repo   repo.Repo
	Config *config.Config
	Now    func() time.Time

	mu        sync.Mutex
	cached    Report
	refreshed time.Time
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Get returns the cached report, rebuilding it when the TTL has lapsed.
// Concurrent callers during a rebuild serialize on the slot; only one of
// them pays for the scan.
func (b *Builder) Get(ctx context.Context) (Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ttl := time.Duration(b.Config.ReportCacheTTLSeconds()) * time.Second
	now := b.now()
	if !b.refreshed.IsZero() && now.Sub(b.refreshed) < ttl {
		return b.cached, nil
	}
	rep, err := b.build(ctx, now)
	if err != nil {
		return Report{}, err
	}
	b.cached = rep
	b.refreshed = now
	return rep, nil
}

func (b *Builder) build(ctx context.Context, now time.Time) (Report, error) {
	counts, err := b.Repo.CountSupplyByIdentity(ctx)
	if err != nil {
		return Report{}, err
	}
	var supplies []domain.IdentitySupply
	for identity := range b.Config.Catalog.Identities {
		s := counts[identity]
		s.Identity = identity
		s.MaxSupply = b.Config.MaxSupply(identity)
		supplies = append(supplies, s)
	}
	sort.Slice(supplies, func(i, j int) bool { return supplies[i].Identity < supplies[j].Identity })

	byOwner, err := b.Repo.CountMintsByOwner(ctx)
	if err != nil {
		return Report{}, err
	}
	leaderboard := make([]Entry, 0, len(byOwner))
	for owner, mints := range byOwner {
		leaderboard = append(leaderboard, Entry{Owner: owner, Mints: mints})
	}
	sort.Slice(leaderboard, func(i, j int) bool {
		if leaderboard[i].Mints != leaderboard[j].Mints {
			return leaderboard[i].Mints > leaderboard[j].Mints
		}
		return leaderboard[i].Owner < leaderboard[j].Owner
	})

	return Report{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Supplies:    supplies,
		Leaderboard: leaderboard,
	}, nil
}
