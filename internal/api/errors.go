package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/contactbump/exchange/internal/matching"
	"github.com/contactbump/exchange/internal/session"
)

var (
	errBadRequest  = errors.New("invalid request body")
	errRateLimited = errors.New("too many requests")
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}

// writeError maps domain errors to status codes. Anything unrecognized is a
// transient store failure and asks the client to retry.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusServiceUnavailable
	msg := "try again"

	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, matching.ErrMissingSession),
		errors.Is(err, matching.ErrInvalidTimestamp),
		errors.Is(err, matching.ErrSelfPair):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, session.ErrUnknownSession):
		status, msg = http.StatusUnauthorized, "unknown session"
	case errors.Is(err, matching.ErrNotParticipant):
		status, msg = http.StatusForbidden, "not a participant"
	case errors.Is(err, matching.ErrMatchNotFound):
		status, msg = http.StatusNotFound, "match not found"
	case errors.Is(err, matching.ErrNotPending):
		status, msg = http.StatusConflict, "no pending exchange"
	case errors.Is(err, errRateLimited):
		status, msg = http.StatusTooManyRequests, err.Error()
	default:
		log.Printf("[api] %s %s: %v", r.Method, r.URL.Path, err)
		w.Header().Set("Retry-After", "1")
	}

	writeJSON(w, status, map[string]string{"error": msg})
}
