package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/contactbump/exchange/internal/location"
)

const (
	keyMatchPrefix   = "exchange:match:"   // + <token> -> Hash
	keyPointerPrefix = "exchange:pointer:" // + <session_id> -> Hash {token, you_are}

	// DefaultMatchTTL gives both participants time to poll and respond.
	DefaultMatchTTL = 10 * time.Minute

	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"

	KindBump = "bump"
	KindPair = "pair"
)

// Side identifies a participant within a match.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// ExchangeMatch is a confirmed pairing of two sessions. Only Status and the
// per-side decisions change after it is written.
type ExchangeMatch struct {
	Token            string
	SessionA         string
	SessionB         string
	UserA            string
	UserB            string
	ProfileA         string
	ProfileB         string
	SharingCategoryA string
	SharingCategoryB string
	Kind             string
	Confidence       location.Confidence
	Status           string
	Timestamp        int64 // server time, unix ms
	DecisionA        string
	DecisionB        string
}

// SideOf returns the side sessionID plays in the match.
func (m *ExchangeMatch) SideOf(sessionID string) (Side, bool) {
	switch sessionID {
	case m.SessionA:
		return SideA, true
	case m.SessionB:
		return SideB, true
	}
	return "", false
}

// Partner returns the user, profile, and sharing category of the side
// opposite to side.
func (m *ExchangeMatch) Partner(side Side) (userID, profileID, category string) {
	if side == SideA {
		return m.UserB, m.ProfileB, m.SharingCategoryB
	}
	return m.UserA, m.ProfileA, m.SharingCategoryA
}

// SessionPointer maps a session to the match it belongs to.
type SessionPointer struct {
	Token  string
	YouAre Side
}

// NewToken returns a fresh opaque match token.
func NewToken() string {
	return uuid.NewString()
}

// RecordStore keeps confirmed matches and the per-session pointers to them.
type RecordStore struct {
	rdb           *redis.Client
	ttl           time.Duration
	respondScript *redis.Script
}

// NewRecordStore creates a store whose records expire after ttl.
func NewRecordStore(rdb *redis.Client, ttl time.Duration) *RecordStore {
	if ttl <= 0 {
		ttl = DefaultMatchTTL
	}
	return &RecordStore{
		rdb:           rdb,
		ttl:           ttl,
		respondScript: redis.NewScript(respondLua),
	}
}

func matchKey(token string) string       { return keyMatchPrefix + token }
func pointerKey(sessionID string) string { return keyPointerPrefix + sessionID }

// Write stores the match and both session pointers in one MULTI/EXEC
// transaction. Inside the transaction the match record is queued first, so
// even without transactional execution a pointer never precedes its match.
func (s *RecordStore) Write(ctx context.Context, m *ExchangeMatch) error {
	if m.Status == "" {
		m.Status = StatusPending
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		mk := matchKey(m.Token)
		pipe.HSet(ctx, mk, map[string]interface{}{
			"token":              m.Token,
			"session_a":          m.SessionA,
			"session_b":          m.SessionB,
			"user_a":             m.UserA,
			"user_b":             m.UserB,
			"profile_a":          m.ProfileA,
			"profile_b":          m.ProfileB,
			"sharing_category_a": m.SharingCategoryA,
			"sharing_category_b": m.SharingCategoryB,
			"kind":               m.Kind,
			"confidence":         string(m.Confidence),
			"status":             m.Status,
			"timestamp":          strconv.FormatInt(m.Timestamp, 10),
		})
		pipe.PExpire(ctx, mk, s.ttl)

		for _, p := range []struct {
			session string
			side    Side
		}{{m.SessionA, SideA}, {m.SessionB, SideB}} {
			pk := pointerKey(p.session)
			pipe.HSet(ctx, pk, "token", m.Token, "you_are", string(p.side))
			pipe.PExpire(ctx, pk, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("matching: write match %s: %w", m.Token, err)
	}
	return nil
}

// Get returns the match for token, or nil if it does not exist.
func (s *RecordStore) Get(ctx context.Context, token string) (*ExchangeMatch, error) {
	h, err := s.rdb.HGetAll(ctx, matchKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: get match %s: %w", token, err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	ts, _ := strconv.ParseInt(h["timestamp"], 10, 64)
	return &ExchangeMatch{
		Token:            h["token"],
		SessionA:         h["session_a"],
		SessionB:         h["session_b"],
		UserA:            h["user_a"],
		UserB:            h["user_b"],
		ProfileA:         h["profile_a"],
		ProfileB:         h["profile_b"],
		SharingCategoryA: h["sharing_category_a"],
		SharingCategoryB: h["sharing_category_b"],
		Kind:             h["kind"],
		Confidence:       location.Confidence(h["confidence"]),
		Status:           h["status"],
		Timestamp:        ts,
		DecisionA:        h["decision_a"],
		DecisionB:        h["decision_b"],
	}, nil
}

// PointerFor returns the session's pointer, or nil if it has no match.
func (s *RecordStore) PointerFor(ctx context.Context, sessionID string) (*SessionPointer, error) {
	h, err := s.rdb.HGetAll(ctx, pointerKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: get pointer %s: %w", sessionID, err)
	}
	if h["token"] == "" {
		return nil, nil
	}
	return &SessionPointer{Token: h["token"], YouAre: Side(h["you_are"])}, nil
}

// Respond records one participant's decision and returns the resulting
// status. A rejection from either side is final; acceptance needs both.
// Decisions arriving after a final status leave it unchanged.
func (s *RecordStore) Respond(ctx context.Context, token, sessionID string, accept bool) (string, error) {
	decision := StatusRejected
	if accept {
		decision = StatusAccepted
	}
	code, err := s.respondScript.Run(ctx, s.rdb, []string{matchKey(token)}, sessionID, decision).Int()
	if err != nil {
		return "", fmt.Errorf("matching: respond %s: %w", token, err)
	}
	switch code {
	case 1:
		return StatusAccepted, nil
	case 2:
		return StatusRejected, nil
	case 0:
		return StatusPending, nil
	case -3:
		return "", ErrNotParticipant
	default:
		return "", ErrMatchNotFound
	}
}

// respondLua returns 1 = accepted, 2 = rejected, 0 = waiting for partner,
// -1 = match not found, -3 = session not a participant.
const respondLua = `
local key = KEYS[1]
local session_id = ARGV[1]
local decision = ARGV[2]

local status = redis.call('HGET', key, 'status')
if not status then return -1 end

local side
if session_id == redis.call('HGET', key, 'session_a') then
    side = 'a'
elseif session_id == redis.call('HGET', key, 'session_b') then
    side = 'b'
else
    return -3
end

if status == 'accepted' then return 1 end
if status == 'rejected' then return 2 end

redis.call('HSET', key, 'decision_' .. side, decision)

if decision == 'rejected' then
    redis.call('HSET', key, 'status', 'rejected')
    return 2
end

if redis.call('HGET', key, 'decision_a') == 'accepted' and redis.call('HGET', key, 'decision_b') == 'accepted' then
    redis.call('HSET', key, 'status', 'accepted')
    return 1
end

return 0
`
