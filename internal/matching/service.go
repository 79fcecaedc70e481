// Package matching decides, across stateless server instances that share
// only Redis, which two exchange attempts describe the same physical event,
// and records each such match exactly once.
package matching

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contactbump/exchange/internal/location"
	"github.com/contactbump/exchange/internal/metrics"
)

var (
	ErrNotPending       = errors.New("matching: session has no pending exchange")
	ErrSelfPair         = errors.New("matching: cannot pair a session with itself")
	ErrMatchNotFound    = errors.New("matching: match not found")
	ErrNotParticipant   = errors.New("matching: session is not a participant in this match")
	ErrInvalidTimestamp = errors.New("matching: timestamp outside accepted range")
	ErrMissingSession   = errors.New("matching: session id is required")
)

// Exchange states reported to a polling session.
const (
	StateMatched = "matched"
	StatePending = "pending"
	StatePairing = "pairing"
	StateIdle    = "idle"
)

// DefaultMaxClockSkew bounds how far a client timestamp may be from the
// server clock.
const DefaultMaxClockSkew = 5 * time.Minute

// Config holds the tunable constants of the exchange protocol.
type Config struct {
	PendingTTL     time.Duration
	MatchTTL       time.Duration
	PromotionDelay time.Duration
	MaxClockSkew   time.Duration
	Clock          func() time.Time // defaults to time.Now
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PendingTTL:     DefaultPendingTTL,
		MatchTTL:       DefaultMatchTTL,
		PromotionDelay: DefaultPromotionDelay,
		MaxClockSkew:   DefaultMaxClockSkew,
		Clock:          time.Now,
	}
}

// StartRequest is one session's report of an exchange event.
type StartRequest struct {
	SessionID       string
	UserID          string
	ProfileID       string // defaults to UserID
	Timestamp       int64  // client-observed event time, unix ms
	Location        location.ProcessedLocation
	SharingCategory string
}

// Result is what a session learns from a start or a status poll.
type Result struct {
	State  string
	Match  *ExchangeMatch
	YouAre Side
}

// HasMatch reports whether the session has a confirmed match.
func (r *Result) HasMatch() bool {
	return r.State == StateMatched && r.Match != nil
}

// Service wires the candidate store, matcher, promoter, and match record
// store together. It holds no per-session state of its own.
type Service struct {
	pending  *PendingStore
	records  *RecordStore
	matcher  *Matcher
	promoter *Promoter
	pub      Publisher
	cfg      Config
}

// NewService creates an exchange service. pub may be nil to disable match
// notifications.
func NewService(rdb *redis.Client, cfg Config, pub Publisher) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = DefaultMaxClockSkew
	}
	pending := NewPendingStore(rdb, cfg.PendingTTL)
	return &Service{
		pending:  pending,
		records:  NewRecordStore(rdb, cfg.MatchTTL),
		matcher:  NewMatcher(pending),
		promoter: NewPromoter(pending, cfg.PromotionDelay, cfg.Clock),
		pub:      pub,
		cfg:      cfg,
	}
}

// Pending exposes the candidate store, e.g. for the cleanup loop.
func (s *Service) Pending() *PendingStore { return s.pending }

// Records exposes the match record store.
func (s *Service) Records() *RecordStore { return s.records }

// Start records an exchange attempt and immediately tries to match it
// against every other pending attempt. The caller's record is written
// before the scan, so of two concurrent starts at least one sees the other.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Result, error) {
	if req.SessionID == "" {
		return nil, ErrMissingSession
	}
	// Compared in milliseconds: converting an arbitrary client value to a
	// Duration can overflow.
	skewMs := abs64(s.cfg.Clock().UnixMilli() - req.Timestamp)
	if req.Timestamp <= 0 || skewMs < 0 || skewMs > s.cfg.MaxClockSkew.Milliseconds() {
		return nil, ErrInvalidTimestamp
	}
	if req.ProfileID == "" {
		req.ProfileID = req.UserID
	}

	self := &PendingExchange{
		SessionID:       req.SessionID,
		UserID:          req.UserID,
		ProfileID:       req.ProfileID,
		Location:        req.Location,
		Timestamp:       req.Timestamp,
		SharingCategory: req.SharingCategory,
	}
	if err := s.pending.Save(ctx, self); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("save").Inc()
		return nil, err
	}
	metrics.StartsTotal.Inc()

	cand, err := s.matcher.FindMatch(ctx, self)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("find").Inc()
		return nil, err
	}
	if cand == nil {
		return &Result{State: StatePending}, nil
	}

	m, err := s.confirm(ctx, self, cand.Pending, KindBump, cand.Confidence)
	if err != nil {
		return nil, err
	}
	metrics.MatchDelta.Observe(float64(cand.Delta.Milliseconds()))

	side, _ := m.SideOf(self.SessionID)
	return &Result{State: StateMatched, Match: m, YouAre: side}, nil
}

// Status resolves a poll: a confirmed match if one exists, otherwise the
// session's pending state. Tentative pairings are promoted here once they
// have aged past the promotion delay.
func (s *Service) Status(ctx context.Context, sessionID string) (*Result, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	ptr, err := s.records.PointerFor(ctx, sessionID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("pointer").Inc()
		return nil, err
	}
	if ptr != nil {
		m, err := s.records.Get(ctx, ptr.Token)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("match").Inc()
			return nil, err
		}
		if m != nil {
			return &Result{State: StateMatched, Match: m, YouAre: ptr.YouAre}, nil
		}
	}

	self, err := s.pending.Get(ctx, sessionID)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("pending").Inc()
		return nil, err
	}
	if self == nil {
		return &Result{State: StateIdle}, nil
	}

	if self.Paired() {
		partner, err := s.promoter.TryPromote(ctx, self)
		if err != nil {
			metrics.StoreErrorsTotal.WithLabelValues("promote").Inc()
			return nil, err
		}
		if partner != nil {
			conf, _ := location.MatchConfidence(self.Location, partner.Location)
			m, err := s.confirm(ctx, self, partner, KindPair, conf)
			if err != nil {
				return nil, err
			}
			side, _ := m.SideOf(sessionID)
			return &Result{State: StateMatched, Match: m, YouAre: side}, nil
		}
	}

	if err := s.pending.Refresh(ctx, sessionID); err != nil {
		log.Printf("[exchange] refresh %s: %v", sessionID, err)
	}
	if self.Paired() {
		return &Result{State: StatePairing}, nil
	}
	return &Result{State: StatePending}, nil
}

// Pair records that sessionID intends to pair with partnerID (for example
// after scanning the partner's QR code). Only the session's own record is
// written; the match is confirmed once the partner reciprocates.
func (s *Service) Pair(ctx context.Context, sessionID, partnerID string) error {
	if sessionID == "" || partnerID == "" {
		return ErrMissingSession
	}
	if sessionID == partnerID {
		return ErrSelfPair
	}
	ok, err := s.pending.SetPairing(ctx, sessionID, partnerID, s.cfg.Clock())
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("pair").Inc()
		return err
	}
	if !ok {
		return ErrNotPending
	}
	log.Printf("[exchange] %s tentatively paired with %s", sessionID, partnerID)
	return nil
}

// Cancel withdraws a session's pending attempt. Cancelling a session that is
// not pending is a no-op.
func (s *Service) Cancel(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrMissingSession
	}
	if err := s.pending.Delete(ctx, sessionID); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("cancel").Inc()
		return err
	}
	return nil
}

// Match returns the match for token as seen by sessionID.
func (s *Service) Match(ctx context.Context, token, sessionID string) (*ExchangeMatch, Side, error) {
	m, err := s.records.Get(ctx, token)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("match").Inc()
		return nil, "", err
	}
	if m == nil {
		return nil, "", ErrMatchNotFound
	}
	side, ok := m.SideOf(sessionID)
	if !ok {
		return nil, "", ErrNotParticipant
	}
	return m, side, nil
}

// Respond records sessionID's accept or reject decision on a match.
func (s *Service) Respond(ctx context.Context, token, sessionID string, accept bool) (string, error) {
	status, err := s.records.Respond(ctx, token, sessionID, accept)
	if err != nil {
		if !errors.Is(err, ErrMatchNotFound) && !errors.Is(err, ErrNotParticipant) {
			metrics.StoreErrorsTotal.WithLabelValues("respond").Inc()
		}
		return "", err
	}
	decision := StatusRejected
	if accept {
		decision = StatusAccepted
	}
	metrics.ResponsesTotal.WithLabelValues(decision).Inc()
	return status, nil
}

// confirm writes the match for two already-claimed records. The earlier
// report is side A.
func (s *Service) confirm(ctx context.Context, x, y *PendingExchange, kind string, conf location.Confidence) (*ExchangeMatch, error) {
	a, b := orderSides(x, y)
	m := &ExchangeMatch{
		Token:            NewToken(),
		SessionA:         a.SessionID,
		SessionB:         b.SessionID,
		UserA:            a.UserID,
		UserB:            b.UserID,
		ProfileA:         a.ProfileID,
		ProfileB:         b.ProfileID,
		SharingCategoryA: a.SharingCategory,
		SharingCategoryB: b.SharingCategory,
		Kind:             kind,
		Confidence:       conf,
		Status:           StatusPending,
		Timestamp:        s.cfg.Clock().UnixMilli(),
	}
	if err := s.records.Write(ctx, m); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("write_match").Inc()
		log.Printf("[exchange] claimed %s/%s but failed to write match: %v", a.SessionID, b.SessionID, err)
		return nil, err
	}
	metrics.MatchesTotal.WithLabelValues(kind, string(conf)).Inc()

	if err := PublishMatched(s.pub, m); err != nil {
		log.Printf("[exchange] notify %s: %v", m.Token, err)
	}
	return m, nil
}

func orderSides(x, y *PendingExchange) (a, b *PendingExchange) {
	if x.Timestamp < y.Timestamp || (x.Timestamp == y.Timestamp && x.SessionID < y.SessionID) {
		return x, y
	}
	return y, x
}
