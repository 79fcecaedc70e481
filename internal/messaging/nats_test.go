package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExchangeMatchedSubject(t *testing.T) {
	subject := ExchangeMatchedSubject("sess-1")
	assert.Equal(t, "exchange.matched.sess-1", subject)
	assert.Equal(t, "sess-1", SessionFromSubject(subject))
}

func TestDefaultNATSConfig(t *testing.T) {
	cfg := DefaultNATSConfig()
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, -1, cfg.MaxReconnects)
}
