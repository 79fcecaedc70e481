package matching

import (
	"context"
	"log"
	"time"

	"github.com/contactbump/exchange/internal/metrics"
)

// DefaultPromotionDelay is how long a tentative pairing must age before it is
// promoted. It leaves room for a simultaneous bump match to win first and
// absorbs client poll jitter.
const DefaultPromotionDelay = 1500 * time.Millisecond

// Promoter turns reciprocal tentative pairings into confirmed matches.
type Promoter struct {
	pending *PendingStore
	delay   time.Duration
	now     func() time.Time
}

// NewPromoter creates a promoter with the given debounce delay.
func NewPromoter(pending *PendingStore, delay time.Duration, now func() time.Time) *Promoter {
	if delay <= 0 {
		delay = DefaultPromotionDelay
	}
	if now == nil {
		now = time.Now
	}
	return &Promoter{pending: pending, delay: delay, now: now}
}

// Ready reports whether self's tentative pairing has aged past the delay.
func (p *Promoter) Ready(self *PendingExchange) bool {
	if !self.Paired() {
		return false
	}
	age := time.Duration(p.now().UnixMilli()-self.PendingMatchCreatedAt) * time.Millisecond
	return age >= p.delay
}

// TryPromote attempts to promote self's tentative pairing. It returns the
// partner's record when this call won the promotion. A nil partner with a nil
// error means the pairing is not ready, not reciprocated, abandoned, or was
// promoted by the partner's own poll.
func (p *Promoter) TryPromote(ctx context.Context, self *PendingExchange) (*PendingExchange, error) {
	if !p.Ready(self) {
		return nil, nil
	}

	partner, err := p.pending.Get(ctx, self.PendingMatchWith)
	if err != nil {
		return nil, err
	}
	if partner == nil || partner.PendingMatchWith != self.SessionID {
		return nil, nil
	}

	result, err := p.pending.promotePair(ctx, self.SessionID, partner.SessionID)
	if err != nil {
		return nil, err
	}
	switch result {
	case claimOK:
		log.Printf("[promoter] promoted %s <-> %s", self.SessionID, partner.SessionID)
		return partner, nil
	case claimNoMutual, claimStale:
		return nil, nil
	default:
		metrics.LostRacesTotal.Inc()
		return nil, nil
	}
}
