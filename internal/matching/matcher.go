package matching

import (
	"context"
	"log"
	"sort"
	"time"

	"github.com/contactbump/exchange/internal/location"
	"github.com/contactbump/exchange/internal/metrics"
)

// Candidate is another pending session that passed the confidence and
// time-window filter for a given caller.
type Candidate struct {
	Pending    *PendingExchange
	Confidence location.Confidence
	Delta      time.Duration
}

// Evaluate compares the caller with one other pending record. It returns nil
// when the locations share nothing or the timestamps are too far apart.
func Evaluate(self, other *PendingExchange) *Candidate {
	conf, window := location.MatchConfidence(self.Location, other.Location)
	if conf == location.ConfidenceNoMatch {
		return nil
	}
	deltaMs := abs64(self.Timestamp - other.Timestamp)
	if deltaMs < 0 || deltaMs > window.Milliseconds() {
		return nil
	}
	return &Candidate{Pending: other, Confidence: conf, Delta: time.Duration(deltaMs) * time.Millisecond}
}

// RankCandidates orders candidates best first: higher confidence tier, then
// smaller timestamp gap, then lexicographically smaller session ID.
func RankCandidates(cands []*Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		ri, rj := cands[i].Confidence.Rank(), cands[j].Confidence.Rank()
		if ri != rj {
			return ri > rj
		}
		if cands[i].Delta != cands[j].Delta {
			return cands[i].Delta < cands[j].Delta
		}
		return cands[i].Pending.SessionID < cands[j].Pending.SessionID
	})
}

// Matcher scans the candidate store for a simultaneous partner.
type Matcher struct {
	pending *PendingStore
}

// NewMatcher creates a matcher over the given candidate store.
func NewMatcher(pending *PendingStore) *Matcher {
	return &Matcher{pending: pending}
}

// FindMatch looks for the best partner for self, whose record must already be
// saved in the store. On success both records have been claimed (deleted and
// unindexed) and the partner is returned. A nil candidate with a nil error
// means no partner is available yet, or a concurrent claimer already paired
// self; either way the caller keeps polling.
func (m *Matcher) FindMatch(ctx context.Context, self *PendingExchange) (*Candidate, error) {
	ids, err := m.pending.Members(ctx)
	if err != nil {
		return nil, err
	}

	var (
		cands []*Candidate
		stale []string
	)
	for _, id := range ids {
		if id == self.SessionID {
			continue
		}
		other, err := m.pending.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if other == nil {
			stale = append(stale, id)
			continue
		}
		if c := Evaluate(self, other); c != nil {
			cands = append(cands, c)
		}
	}

	if len(stale) > 0 {
		if n, err := m.pending.UnindexStale(ctx, stale...); err != nil {
			log.Printf("[matcher] unindex %d stale entries: %v", len(stale), err)
		} else {
			metrics.StaleCandidatesTotal.Add(float64(n))
		}
	}

	RankCandidates(cands)

	for _, c := range cands {
		result, err := m.pending.claimPair(ctx, self, c.Pending)
		if err != nil {
			return nil, err
		}
		switch result {
		case claimOK:
			log.Printf("[matcher] claimed %s for %s (confidence=%s delta=%s)",
				c.Pending.SessionID, self.SessionID, c.Confidence, c.Delta)
			return c, nil
		case claimStale:
			metrics.StaleCandidatesTotal.Inc()
			continue
		case claimCandidateChanged:
			// The candidate restarted after it was read; its new report is
			// evaluated by its own start.
			continue
		case claimSelfChanged:
			// A newer start of self is running its own scan.
			metrics.LostRacesTotal.Inc()
			return nil, nil
		default:
			metrics.LostRacesTotal.Inc()
			log.Printf("[matcher] %s already claimed by a concurrent match", self.SessionID)
			return nil, nil
		}
	}
	return nil, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
