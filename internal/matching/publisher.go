package matching

import (
	"encoding/json"
	"fmt"
	"log"
)

// Publisher is the subset of the NATS client used to announce matches.
type Publisher interface {
	PublishExchangeMatched(sessionID string, data []byte) error
}

// MatchNotification is published on exchange.matched.<session_id> for each
// participant of a confirmed match.
type MatchNotification struct {
	Token  string `json:"token"`
	YouAre Side   `json:"you_are"`
	Kind   string `json:"kind"`
}

// PublishMatched notifies both participants of m. A nil publisher is a no-op.
func PublishMatched(pub Publisher, m *ExchangeMatch) error {
	if pub == nil {
		return nil
	}
	for _, p := range []struct {
		session string
		side    Side
	}{{m.SessionA, SideA}, {m.SessionB, SideB}} {
		data, err := json.Marshal(MatchNotification{Token: m.Token, YouAre: p.side, Kind: m.Kind})
		if err != nil {
			return fmt.Errorf("matching: marshal notification for %s: %w", p.side, err)
		}
		if err := pub.PublishExchangeMatched(p.session, data); err != nil {
			return fmt.Errorf("matching: publish exchange.matched for %s: %w", p.session, err)
		}
	}

	log.Printf("[matcher] match published: token=%s a=%s b=%s kind=%s",
		m.Token, m.SessionA, m.SessionB, m.Kind)
	return nil
}
