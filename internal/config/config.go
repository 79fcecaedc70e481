// Package config loads exchange server settings from EXCHANGE_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config lists the tunable parameters for the exchange server.
type Config struct {
	ListenAddr string
	RedisAddr  string
	RedisDB    int

	// Optional backends; empty disables them.
	NATSURL     string
	DatabaseURL string

	GeoIPCityDB string
	GeoIPASNDB  string
	GeoIPAnonDB string

	PendingTTL      time.Duration
	MatchTTL        time.Duration
	PromotionDelay  time.Duration
	CleanupInterval time.Duration

	// TrustProxy honours X-Forwarded-For. Enable only behind a proxy that
	// overwrites the header, since the client IP selects the location tier.
	TrustProxy bool
}

const (
	defaultListenAddr      = ":8080"
	defaultRedisAddr       = "localhost:6379"
	defaultPendingTTL      = 30 * time.Second
	defaultMatchTTL        = 10 * time.Minute
	defaultPromotionDelay  = 1500 * time.Millisecond
	defaultCleanupInterval = 5 * time.Second
)

// Load derives configuration values from environment variables, falling back
// to defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		RedisAddr:       defaultRedisAddr,
		PendingTTL:      defaultPendingTTL,
		MatchTTL:        defaultMatchTTL,
		PromotionDelay:  defaultPromotionDelay,
		CleanupInterval: defaultCleanupInterval,
	}

	str := map[string]*string{
		"EXCHANGE_LISTEN_ADDR":   &cfg.ListenAddr,
		"EXCHANGE_REDIS_ADDR":    &cfg.RedisAddr,
		"EXCHANGE_NATS_URL":      &cfg.NATSURL,
		"EXCHANGE_DATABASE_URL":  &cfg.DatabaseURL,
		"EXCHANGE_GEOIP_CITY_DB": &cfg.GeoIPCityDB,
		"EXCHANGE_GEOIP_ASN_DB":  &cfg.GeoIPASNDB,
		"EXCHANGE_GEOIP_ANON_DB": &cfg.GeoIPAnonDB,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("EXCHANGE_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return Config{}, fmt.Errorf("invalid EXCHANGE_REDIS_DB %q", v)
		}
		cfg.RedisDB = db
	}

	durations := map[string]*time.Duration{
		"EXCHANGE_PENDING_TTL":      &cfg.PendingTTL,
		"EXCHANGE_MATCH_TTL":        &cfg.MatchTTL,
		"EXCHANGE_PROMOTION_DELAY":  &cfg.PromotionDelay,
		"EXCHANGE_CLEANUP_INTERVAL": &cfg.CleanupInterval,
	}
	for name, dst := range durations {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", name, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", name)
		}
		*dst = d
	}

	if v := os.Getenv("EXCHANGE_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid EXCHANGE_TRUST_PROXY: %w", err)
		}
		cfg.TrustProxy = b
	}

	return cfg, nil
}
