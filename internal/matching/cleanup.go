package matching

import (
	"context"
	"log"
	"time"

	"github.com/contactbump/exchange/internal/metrics"
)

// DefaultCleanupInterval is how often the pending index is swept.
const DefaultCleanupInterval = 5 * time.Second

// StartCleanup runs a background loop that removes index entries whose
// pending record has expired and keeps the pending gauge current. The
// matcher heals the index inline as well; this loop bounds its growth when
// no one is starting exchanges.
func StartCleanup(ctx context.Context, pending *PendingStore, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[cleanup] loop stopped")
			return
		case <-ticker.C:
			SweepIndex(ctx, pending)
		}
	}
}

// SweepIndex performs one cleanup pass and returns how many entries it removed.
func SweepIndex(ctx context.Context, pending *PendingStore) int {
	ids, err := pending.Members(ctx)
	if err != nil {
		log.Printf("[cleanup] failed to read pending index: %v", err)
		return 0
	}

	removed, err := pending.UnindexStale(ctx, ids...)
	if err != nil {
		log.Printf("[cleanup] failed to unindex stale entries: %v", err)
		return 0
	}
	if removed > 0 {
		metrics.StaleCandidatesTotal.Add(float64(removed))
		log.Printf("[cleanup] removed %d stale entries", removed)
	}

	if size, err := pending.Size(ctx); err == nil {
		metrics.PendingSessions.Set(float64(size))
	}
	return removed
}
