package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactbump/exchange/internal/location"
	"github.com/contactbump/exchange/internal/matching"
	"github.com/contactbump/exchange/internal/session"
)

func runCLI(t *testing.T, rdb *redis.Client, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommandWith(&rootOptions{rdb: rdb})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestSessionCreate(t *testing.T) {
	_, rdb := newTestRedis(t)

	out, err := runCLI(t, rdb, "session", "create", "s1", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "session s1 -> u1")

	userID, err := session.NewStore(rdb).UserID(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	_, err = runCLI(t, rdb, "session", "delete", "s1")
	require.NoError(t, err)
	_, err = session.NewStore(rdb).UserID(context.Background(), "s1")
	assert.ErrorIs(t, err, session.ErrUnknownSession)
}

func TestPendingCancelAndSweep(t *testing.T) {
	mr, rdb := newTestRedis(t)
	ctx := context.Background()
	svc := matching.NewService(rdb, matching.DefaultConfig(), nil)

	res, err := svc.Start(ctx, matching.StartRequest{
		SessionID: "s1",
		UserID:    "u1",
		Timestamp: time.Now().UnixMilli(),
		Location:  location.Classify(location.Lookup{IP: "73.1.1.1", City: "Austin", Region: "TX", Country: "US"}),
	})
	require.NoError(t, err)
	require.Equal(t, matching.StatePending, res.State)

	out, err := runCLI(t, rdb, "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")
	assert.Contains(t, out, "Austin/TX/US")

	_, err = runCLI(t, rdb, "cancel", "s1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("exchange:pending:s1"))

	// An index entry without a record is swept.
	mr.SetAdd("exchange:pending-index", "ghost")
	out, err = runCLI(t, rdb, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 stale entries")
}

func TestMatchNotFound(t *testing.T) {
	_, rdb := newTestRedis(t)

	_, err := runCLI(t, rdb, "match", "missing-token")
	assert.ErrorIs(t, err, matching.ErrMatchNotFound)
}

func TestWatchRequiresNATS(t *testing.T) {
	_, rdb := newTestRedis(t)

	_, err := runCLI(t, rdb, "watch")
	assert.Error(t, err)
}

func TestProfilePutRequiresDatabase(t *testing.T) {
	_, rdb := newTestRedis(t)

	_, err := runCLI(t, rdb, "profile", "put", "p1", "u1", "--payload", `{"name":"Ada"}`)
	assert.Error(t, err)
}
