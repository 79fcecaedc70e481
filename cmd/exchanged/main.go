package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/contactbump/exchange/internal/api"
	"github.com/contactbump/exchange/internal/config"
	"github.com/contactbump/exchange/internal/geoip"
	"github.com/contactbump/exchange/internal/matching"
	"github.com/contactbump/exchange/internal/messaging"
	"github.com/contactbump/exchange/internal/profile"
	"github.com/contactbump/exchange/internal/ratelimit"
	"github.com/contactbump/exchange/internal/session"
)

func main() {
	log.Println("Starting exchange server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Redis setup.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	cancel()

	// NATS setup (optional). The publisher stays a nil interface when
	// disabled so the service skips notifications.
	var (
		pub        matching.Publisher
		natsClient *messaging.NATSClient
	)
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "exchanged"
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		pub = natsClient
	}

	// PostgreSQL setup (optional).
	var contacts api.Contacts
	var profiles *profile.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		profiles, err = profile.Open(ctx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to PostgreSQL: %v", err)
		}
		if err := profiles.Migrate(); err != nil {
			log.Fatalf("failed to migrate profile schema: %v", err)
		}
		contacts = profiles
	}

	locator, err := geoip.Open(geoip.Config{
		CityPath:        cfg.GeoIPCityDB,
		ASNPath:         cfg.GeoIPASNDB,
		AnonymousIPPath: cfg.GeoIPAnonDB,
	})
	if err != nil {
		log.Fatalf("failed to open GeoIP databases: %v", err)
	}

	svc := matching.NewService(rdb, matching.Config{
		PendingTTL:     cfg.PendingTTL,
		MatchTTL:       cfg.MatchTTL,
		PromotionDelay: cfg.PromotionDelay,
		MaxClockSkew:   matching.DefaultMaxClockSkew,
		Clock:          time.Now,
	}, pub)

	srv := api.NewServer(api.Options{
		Exchange:   svc,
		Redis:      rdb,
		Identity:   session.NewStore(rdb),
		Locator:    locator,
		Contacts:   contacts,
		Limiter:    ratelimit.NewLimiter(rdb),
		TrustProxy: cfg.TrustProxy,
	})

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go matching.StartCleanup(cleanupCtx, svc.Pending(), cfg.CleanupInterval)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("Exchange server running")
	log.Printf("  listen_addr:      %s", cfg.ListenAddr)
	log.Printf("  redis_addr:       %s (db %d)", cfg.RedisAddr, cfg.RedisDB)
	log.Printf("  nats:             %t", cfg.NATSURL != "")
	log.Printf("  contact_payloads: %t", cfg.DatabaseURL != "")
	log.Printf("  geoip_city:       %q", cfg.GeoIPCityDB)
	log.Printf("  pending_ttl:      %s", cfg.PendingTTL)
	log.Printf("  match_ttl:        %s", cfg.MatchTTL)
	log.Printf("  promotion_delay:  %s", cfg.PromotionDelay)
	log.Printf("  cleanup_interval: %s", cfg.CleanupInterval)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	stopCleanup()
	if natsClient != nil {
		natsClient.Close()
	}
	if profiles != nil {
		profiles.Close()
	}
	if err := locator.Close(); err != nil {
		log.Printf("geoip close: %v", err)
	}
	rdb.Close()
}
