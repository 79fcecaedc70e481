package matching

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/contactbump/exchange/internal/location"
	"github.com/contactbump/exchange/internal/messaging"
)

// testClock is a manually advanced clock shared by the service under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingPublisher captures published notifications.
type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) PublishExchangeMatched(sessionID string, _ []byte) error {
	p.mu.Lock()
	p.subjects = append(p.subjects, messaging.ExchangeMatchedSubject(sessionID))
	p.mu.Unlock()
	return nil
}

type testEnv struct {
	svc   *Service
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *testClock
	pub   *recordingPublisher
	ctx   context.Context
	t0    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	clock := &testClock{now: time.UnixMilli(1_700_000_000_000)}
	pub := &recordingPublisher{}
	cfg := DefaultConfig()
	cfg.Clock = clock.Now

	return &testEnv{
		svc:   NewService(rdb, cfg, pub),
		mr:    mr,
		rdb:   rdb,
		clock: clock,
		pub:   pub,
		ctx:   context.Background(),
		t0:    clock.Now().UnixMilli(),
	}
}

func loc(ip, city, region, country string) location.ProcessedLocation {
	return location.Classify(location.Lookup{IP: ip, City: city, Region: region, Country: country})
}

func nycLoc(ip string) location.ProcessedLocation {
	return loc(ip, "NYC", "NY", "US")
}

func (e *testEnv) start(t *testing.T, sessionID string, offsetMs int64, l location.ProcessedLocation) *Result {
	t.Helper()
	res, err := e.svc.Start(e.ctx, StartRequest{
		SessionID:       sessionID,
		UserID:          "user-" + sessionID,
		Timestamp:       e.t0 + offsetMs,
		Location:        l,
		SharingCategory: "personal",
	})
	require.NoError(t, err)
	return res
}

func (e *testEnv) matchKeys() []string {
	var keys []string
	for _, k := range e.mr.Keys() {
		if len(k) > len(keyMatchPrefix) && k[:len(keyMatchPrefix)] == keyMatchPrefix {
			keys = append(keys, k)
		}
	}
	return keys
}
