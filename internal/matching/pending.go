package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contactbump/exchange/internal/location"
)

const (
	// Redis key patterns for the candidate store.
	keyPendingPrefix = "exchange:pending:" // + <session_id> -> Hash
	keyPendingIndex  = "exchange:pending-index"

	// DefaultPendingTTL bounds how long an unmatched exchange attempt lives.
	DefaultPendingTTL = 30 * time.Second
)

// Results of the claim and promote scripts.
const (
	claimOK               = 1
	claimStale            = -1 // candidate record expired
	claimLostRace         = -2 // caller record already claimed by someone else
	claimSelfChanged      = -3 // caller record replaced after it was read
	claimCandidateChanged = -4 // candidate record replaced after it was read
	claimNoMutual         = 0  // tentative pairing no longer reciprocated
)

// PendingExchange is one session's in-flight attempt to find a partner.
type PendingExchange struct {
	SessionID       string
	UserID          string
	ProfileID       string
	Location        location.ProcessedLocation
	Timestamp       int64 // client-observed event time, unix ms
	SharingCategory string

	// Set when the session has tentatively paired with a known partner.
	PendingMatchWith      string
	PendingMatchCreatedAt int64 // server time, unix ms
}

// Paired reports whether the record carries a tentative pairing.
func (p *PendingExchange) Paired() bool {
	return p.PendingMatchWith != ""
}

func (p *PendingExchange) hash() map[string]interface{} {
	h := map[string]interface{}{
		"session_id":       p.SessionID,
		"user_id":          p.UserID,
		"profile_id":       p.ProfileID,
		"ip":               p.Location.IP,
		"city":             p.Location.City,
		"state":            p.Location.State,
		"country":          p.Location.Country,
		"octet":            p.Location.Octet,
		"is_vpn":           strconv.FormatBool(p.Location.IsVPN),
		"confidence":       string(p.Location.Confidence),
		"timestamp":        strconv.FormatInt(p.Timestamp, 10),
		"sharing_category": p.SharingCategory,
	}
	// Pairing fields are only present when set; the promote script relies on
	// HGET returning nil for an unpaired record.
	if p.PendingMatchWith != "" {
		h["pending_match_with"] = p.PendingMatchWith
		h["pending_match_created_at"] = strconv.FormatInt(p.PendingMatchCreatedAt, 10)
	}
	return h
}

func pendingFromHash(h map[string]string) *PendingExchange {
	ts, _ := strconv.ParseInt(h["timestamp"], 10, 64)
	createdAt, _ := strconv.ParseInt(h["pending_match_created_at"], 10, 64)
	isVPN, _ := strconv.ParseBool(h["is_vpn"])
	return &PendingExchange{
		SessionID: h["session_id"],
		UserID:    h["user_id"],
		ProfileID: h["profile_id"],
		Location: location.ProcessedLocation{
			IP:         h["ip"],
			City:       h["city"],
			State:      h["state"],
			Country:    h["country"],
			Octet:      h["octet"],
			IsVPN:      isVPN,
			Confidence: location.Confidence(h["confidence"]),
		},
		Timestamp:             ts,
		SharingCategory:       h["sharing_category"],
		PendingMatchWith:      h["pending_match_with"],
		PendingMatchCreatedAt: createdAt,
	}
}

// PendingStore keeps pending exchanges in Redis: one hash per session plus a
// single index set of every pending session ID. All cross-instance races are
// settled by Lua scripts that claim keys atomically.
type PendingStore struct {
	rdb           *redis.Client
	ttl           time.Duration
	pairScript    *redis.Script
	claimScript   *redis.Script
	promoteScript *redis.Script
	unindexScript *redis.Script
}

// NewPendingStore creates a store whose records expire after ttl.
func NewPendingStore(rdb *redis.Client, ttl time.Duration) *PendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &PendingStore{
		rdb:           rdb,
		ttl:           ttl,
		pairScript:    redis.NewScript(setPairingLua),
		claimScript:   redis.NewScript(claimPairLua),
		promoteScript: redis.NewScript(promotePairLua),
		unindexScript: redis.NewScript(unindexStaleLua),
	}
}

func pendingKey(sessionID string) string {
	return keyPendingPrefix + sessionID
}

// Save writes p, replacing any earlier record for the same session, and adds
// it to the index. A new attempt detaches the session from any earlier
// match; the match record itself stays readable by token.
func (s *PendingStore) Save(ctx context.Context, p *PendingExchange) error {
	key := pendingKey(p.SessionID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key, pointerKey(p.SessionID))
		pipe.HSet(ctx, key, p.hash())
		pipe.PExpire(ctx, key, s.ttl)
		pipe.SAdd(ctx, keyPendingIndex, p.SessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("matching: save pending %s: %w", p.SessionID, err)
	}
	return nil
}

// Get returns the pending record for sessionID, or nil if there is none.
func (s *PendingStore) Get(ctx context.Context, sessionID string) (*PendingExchange, error) {
	result, err := s.rdb.HGetAll(ctx, pendingKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: get pending %s: %w", sessionID, err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return pendingFromHash(result), nil
}

// Members returns every session ID in the pending index. Some may refer to
// records that have already expired.
func (s *PendingStore) Members(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, keyPendingIndex).Result()
	if err != nil {
		return nil, fmt.Errorf("matching: pending index: %w", err)
	}
	return ids, nil
}

// Size returns the number of index members.
func (s *PendingStore) Size(ctx context.Context) (int64, error) {
	return s.rdb.SCard(ctx, keyPendingIndex).Result()
}

// Exists reports whether sessionID still has a live pending record.
func (s *PendingStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, pendingKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("matching: exists pending %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// UnindexStale removes from the index those of sessionIDs whose pending
// record no longer exists, and returns how many it removed. The existence
// check and the removal run in one script, so an entry re-added by a
// concurrent Save is never dropped.
func (s *PendingStore) UnindexStale(ctx context.Context, sessionIDs ...string) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(sessionIDs)+1)
	args := make([]interface{}, 0, len(sessionIDs))
	keys = append(keys, keyPendingIndex)
	for _, id := range sessionIDs {
		keys = append(keys, pendingKey(id))
		args = append(args, id)
	}
	n, err := s.unindexScript.Run(ctx, s.rdb, keys, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("matching: unindex stale: %w", err)
	}
	return n, nil
}

// Delete removes a session's pending record and index entry. Deleting a
// missing record is a no-op.
func (s *PendingStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, pendingKey(sessionID))
		pipe.SRem(ctx, keyPendingIndex, sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("matching: delete pending %s: %w", sessionID, err)
	}
	return nil
}

// Refresh extends the TTL of a live record. Missing records stay missing.
func (s *PendingStore) Refresh(ctx context.Context, sessionID string) error {
	return s.rdb.PExpire(ctx, pendingKey(sessionID), s.ttl).Err()
}

// SetPairing records a tentative pairing on the session's own record and
// refreshes its TTL. It returns false if the session has no pending record.
func (s *PendingStore) SetPairing(ctx context.Context, sessionID, partnerID string, at time.Time) (bool, error) {
	n, err := s.pairScript.Run(ctx, s.rdb,
		[]string{pendingKey(sessionID)},
		partnerID, at.UnixMilli(), s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("matching: set pairing %s: %w", sessionID, err)
	}
	return n == 1, nil
}

// claimPair atomically removes both the caller's and the candidate's records
// and index entries. It only succeeds when both records still exist and still
// carry the timestamps the caller evaluated.
func (s *PendingStore) claimPair(ctx context.Context, self, candidate *PendingExchange) (int, error) {
	n, err := s.claimScript.Run(ctx, s.rdb,
		[]string{pendingKey(self.SessionID), pendingKey(candidate.SessionID), keyPendingIndex},
		self.SessionID, candidate.SessionID,
		strconv.FormatInt(self.Timestamp, 10), strconv.FormatInt(candidate.Timestamp, 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("matching: claim %s/%s: %w", self.SessionID, candidate.SessionID, err)
	}
	return n, nil
}

// promotePair atomically removes two tentatively paired records, provided
// each still points at the other.
func (s *PendingStore) promotePair(ctx context.Context, sessionID, partnerID string) (int, error) {
	n, err := s.promoteScript.Run(ctx, s.rdb,
		[]string{pendingKey(sessionID), pendingKey(partnerID), keyPendingIndex},
		sessionID, partnerID,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("matching: promote %s/%s: %w", sessionID, partnerID, err)
	}
	return n, nil
}

// setPairingLua writes the pairing fields only onto an existing record, so a
// late call never recreates an expired hash without a TTL.
const setPairingLua = `
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then return 0 end
redis.call('HSET', key, 'pending_match_with', ARGV[1], 'pending_match_created_at', ARGV[2])
redis.call('PEXPIRE', key, ARGV[3])
return 1
`

// claimPairLua: KEYS = caller, candidate, index; ARGV = caller id,
// candidate id, caller timestamp, candidate timestamp.
const claimPairLua = `
local self_key = KEYS[1]
local cand_key = KEYS[2]
local index = KEYS[3]

local self_ts = redis.call('HGET', self_key, 'timestamp')
if not self_ts then return -2 end

local cand_ts = redis.call('HGET', cand_key, 'timestamp')
if not cand_ts then
    redis.call('SREM', index, ARGV[2])
    return -1
end

if self_ts ~= ARGV[3] then return -3 end
if cand_ts ~= ARGV[4] then return -4 end

redis.call('DEL', self_key, cand_key)
redis.call('SREM', index, ARGV[1], ARGV[2])
return 1
`

// promotePairLua: KEYS = caller, partner, index; ARGV = caller id, partner id.
const promotePairLua = `
local self_key = KEYS[1]
local partner_key = KEYS[2]
local index = KEYS[3]

if redis.call('EXISTS', self_key) == 0 then return -2 end
if redis.call('EXISTS', partner_key) == 0 then return -1 end

local mine = redis.call('HGET', self_key, 'pending_match_with')
local theirs = redis.call('HGET', partner_key, 'pending_match_with')
if mine ~= ARGV[2] or theirs ~= ARGV[1] then return 0 end

redis.call('DEL', self_key, partner_key)
redis.call('SREM', index, ARGV[1], ARGV[2])
return 1
`

// unindexStaleLua: KEYS = index, then one pending key per ARGV session id.
const unindexStaleLua = `
local removed = 0
for i, id in ipairs(ARGV) do
    if redis.call('EXISTS', KEYS[i + 1]) == 0 then
        removed = removed + redis.call('SREM', KEYS[1], id)
    end
end
return removed
`
