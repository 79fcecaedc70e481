// Package api exposes the exchange engine over HTTP. Clients start an
// exchange, then poll its status until a match appears; every call is
// idempotent so any server instance can serve any poll.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/contactbump/exchange/internal/location"
	"github.com/contactbump/exchange/internal/matching"
	"github.com/contactbump/exchange/internal/metrics"
	"github.com/contactbump/exchange/internal/ratelimit"
)

// Locator resolves a client IP to raw geolocation fields.
type Locator interface {
	Lookup(ctx context.Context, ip string) (location.Lookup, error)
}

// Identity resolves an exchange session to its authenticated user.
type Identity interface {
	UserID(ctx context.Context, sessionID string) (string, error)
}

// Contacts materializes the payload a matched partner shares. Only profiles
// owned by userID may be returned.
type Contacts interface {
	Payload(ctx context.Context, userID, profileID, category string) (json.RawMessage, error)
}

// Limiter throttles calls per identifier.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Options configures a Server. Exchange, Redis, and Identity are required;
// the rest may be nil.
type Options struct {
	Exchange   *matching.Service
	Redis      *redis.Client
	Identity   Identity
	Locator    Locator
	Contacts   Contacts
	Limiter    Limiter
	TrustProxy bool
}

// Server holds the HTTP handlers of the exchange service.
type Server struct {
	svc        *matching.Service
	rdb        *redis.Client
	identity   Identity
	locator    Locator
	contacts   Contacts
	limiter    Limiter
	trustProxy bool
}

// NewServer creates a server from opts.
func NewServer(opts Options) *Server {
	return &Server{
		svc:        opts.Exchange,
		rdb:        opts.Redis,
		identity:   opts.Identity,
		locator:    opts.Locator,
		contacts:   opts.Contacts,
		limiter:    opts.Limiter,
		trustProxy: opts.TrustProxy,
	}
}

// Handler returns the routed, CORS-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	ex := r.PathPrefix("/exchange").Subrouter()
	ex.HandleFunc("/start", s.handleStart).Methods(http.MethodPost)
	ex.HandleFunc("/status/{sessionId}", s.handleStatus).Methods(http.MethodGet)
	ex.HandleFunc("/pair", s.handlePair).Methods(http.MethodPost)
	ex.HandleFunc("/match/{token}", s.handleMatch).Methods(http.MethodGet)
	ex.HandleFunc("/match/{token}/respond", s.handleRespond).Methods(http.MethodPost)
	ex.HandleFunc("/{sessionId}", s.handleCancel).Methods(http.MethodDelete)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rdb.Ping(r.Context()).Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "redis": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
