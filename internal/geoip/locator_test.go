package geoip

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactbump/exchange/internal/location"
)

func TestOpen_NoDatabases(t *testing.T) {
	l, err := Open(Config{})
	require.NoError(t, err)
	defer l.Close()

	got, err := l.Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, location.Lookup{IP: "8.8.8.8"}, got)
	assert.Equal(t, location.ConfidenceOctet, location.Classify(got).Confidence)
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(Config{CityPath: filepath.Join(t.TempDir(), "missing.mmdb")})
	assert.Error(t, err)
}

func TestLookup_ReservedIsBogon(t *testing.T) {
	l, err := Open(Config{})
	require.NoError(t, err)

	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "::1", "::ffff:192.168.0.4"} {
		got, err := l.Lookup(context.Background(), ip)
		require.NoError(t, err, ip)
		assert.True(t, got.Bogon, ip)
		assert.Equal(t, location.ConfidenceVPN, location.Classify(got).Confidence, ip)
	}
}

func TestLookup_BadAddress(t *testing.T) {
	l, err := Open(Config{})
	require.NoError(t, err)

	got, err := l.Lookup(context.Background(), "nope")
	assert.Error(t, err)
	assert.Equal(t, "nope", got.IP)
}
