package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/contactbump/exchange/internal/location"
	"github.com/contactbump/exchange/internal/matching"
	"github.com/contactbump/exchange/internal/ratelimit"
)

// locationHint is the coarse location a client may report about itself. It
// is only consulted when the server-side lookup knows neither city nor
// region.
type locationHint struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

type startRequest struct {
	SessionID       string        `json:"sessionId"`
	Timestamp       int64         `json:"timestamp"`
	ProfileID       string        `json:"profileId,omitempty"`
	SharingCategory string        `json:"sharingCategory,omitempty"`
	LocationHint    *locationHint `json:"locationHint,omitempty"`
}

type pairRequest struct {
	SessionID        string `json:"sessionId"`
	PartnerSessionID string `json:"partnerSessionId"`
}

type respondRequest struct {
	SessionID string `json:"sessionId"`
	Accept    *bool  `json:"accept"`
}

// matchData describes the partner as seen from one side of a match.
type matchData struct {
	UserID          string              `json:"userId"`
	SharingCategory string              `json:"sharingCategory,omitempty"`
	Confidence      location.Confidence `json:"confidence"`
	Kind            string              `json:"kind"`
	Contact         json.RawMessage     `json:"contact,omitempty"`
}

type matchView struct {
	Token     string        `json:"token"`
	YouAre    matching.Side `json:"youAre"`
	MatchData matchData     `json:"matchData"`
}

type statusResponse struct {
	HasMatch bool       `json:"hasMatch"`
	Status   string     `json:"status"`
	Match    *matchView `json:"match,omitempty"`
}

type startResponse struct {
	Accepted bool `json:"accepted"`
	statusResponse
}

type matchResponse struct {
	Token     string        `json:"token"`
	YouAre    matching.Side `json:"youAre"`
	Status    string        `json:"status"`
	CreatedAt int64         `json:"createdAt"`
	MatchData matchData     `json:"matchData"`
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, r, matching.ErrMissingSession)
		return
	}

	ip := clientIP(r, s.trustProxy)
	if !s.allow(r.Context(), ip, ratelimit.RuleStart) {
		writeError(w, r, errRateLimited)
		return
	}

	userID, err := s.identity.UserID(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.Start(r.Context(), matching.StartRequest{
		SessionID:       req.SessionID,
		UserID:          userID,
		ProfileID:       req.ProfileID,
		Timestamp:       req.Timestamp,
		Location:        s.locate(r.Context(), ip, req.LocationHint),
		SharingCategory: req.SharingCategory,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		Accepted:       true,
		statusResponse: s.statusView(r.Context(), res),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if _, err := s.identity.UserID(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.svc.Status(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusView(r.Context(), res))
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.SessionID == "" || req.PartnerSessionID == "" {
		writeError(w, r, matching.ErrMissingSession)
		return
	}
	if _, err := s.identity.UserID(r.Context(), req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	if !s.allow(r.Context(), req.SessionID, ratelimit.RulePair) {
		writeError(w, r, errRateLimited)
		return
	}

	if err := s.svc.Pair(r.Context(), req.SessionID, req.PartnerSessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: matching.StatePairing})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if _, err := s.identity.UserID(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.svc.Cancel(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, r, matching.ErrMissingSession)
		return
	}
	if _, err := s.identity.UserID(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	m, side, err := s.svc.Match(r.Context(), token, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matchResponse{
		Token:     m.Token,
		YouAre:    side,
		Status:    m.Status,
		CreatedAt: m.Timestamp,
		MatchData: s.partnerData(r.Context(), m, side),
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	var req respondRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Accept == nil {
		writeError(w, r, fmt.Errorf("%w: accept is required", errBadRequest))
		return
	}
	if req.SessionID == "" {
		writeError(w, r, matching.ErrMissingSession)
		return
	}
	if _, err := s.identity.UserID(r.Context(), req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}

	status, err := s.svc.Respond(r.Context(), token, req.SessionID, *req.Accept)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "status": status})
}

// allow applies a rate limit rule. Limiter errors fail open.
func (s *Server) allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, _ := s.limiter.Allow(ctx, identifier, rule)
	return ok
}

// locate classifies the caller's address. Lookup failures degrade to the
// bare IP, which still yields an octet-level location.
func (s *Server) locate(ctx context.Context, ip string, hint *locationHint) location.ProcessedLocation {
	raw := location.Lookup{IP: ip}
	if s.locator != nil {
		l, err := s.locator.Lookup(ctx, ip)
		if err != nil {
			log.Printf("[api] geoip lookup %s: %v", ip, err)
		} else {
			raw = l
		}
	}
	if hint != nil && raw.City == "" && raw.Region == "" {
		raw.City = hint.City
		raw.Region = hint.Region
		if raw.Country == "" {
			raw.Country = hint.Country
		}
	}
	return location.Classify(raw)
}

func (s *Server) statusView(ctx context.Context, res *matching.Result) statusResponse {
	if !res.HasMatch() {
		return statusResponse{Status: res.State}
	}
	return statusResponse{
		HasMatch: true,
		Status:   res.State,
		Match: &matchView{
			Token:     res.Match.Token,
			YouAre:    res.YouAre,
			MatchData: s.partnerData(ctx, res.Match, res.YouAre),
		},
	}
}

// partnerData describes the side opposite to side. The contact payload is
// best effort: a provider failure leaves it out rather than hiding the match.
func (s *Server) partnerData(ctx context.Context, m *matching.ExchangeMatch, side matching.Side) matchData {
	userID, profileID, category := m.Partner(side)
	data := matchData{
		UserID:          userID,
		SharingCategory: category,
		Confidence:      m.Confidence,
		Kind:            m.Kind,
	}
	if s.contacts != nil {
		payload, err := s.contacts.Payload(ctx, userID, profileID, category)
		if err != nil {
			log.Printf("[api] contact payload for %s: %v", profileID, err)
		} else {
			data.Contact = payload
		}
	}
	return data
}
