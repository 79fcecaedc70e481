// Package location turns IP-geolocation lookups into coarse locations and
// decides how far two such locations can be trusted to describe the same
// physical place.
package location

import (
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// Confidence is the tier assigned to a location or to a pair of locations.
type Confidence string

const (
	ConfidenceCity    Confidence = "city"
	ConfidenceState   Confidence = "state"
	ConfidenceOctet   Confidence = "octet"
	ConfidenceVPN     Confidence = "vpn"
	ConfidenceNoMatch Confidence = "no_match"
)

// Time windows per pair confidence. A city match is the strongest signal and
// tolerates the widest gap; VPN locations only count when the reports are
// nearly simultaneous.
const (
	WindowCity  = 500 * time.Millisecond
	WindowState = 400 * time.Millisecond
	WindowOctet = 300 * time.Millisecond
	WindowVPN   = 200 * time.Millisecond
)

// Rank orders tiers for candidate selection: city > state > octet > vpn.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceCity:
		return 4
	case ConfidenceState:
		return 3
	case ConfidenceOctet:
		return 2
	case ConfidenceVPN:
		return 1
	default:
		return 0
	}
}

// Valid reports whether c is one of the known tiers.
func (c Confidence) Valid() bool {
	return c.Rank() > 0 || c == ConfidenceNoMatch
}

// Lookup is the raw result of an IP-geolocation query.
type Lookup struct {
	IP      string `json:"ip"`
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
	Org     string `json:"org,omitempty"`
	VPN     bool   `json:"vpn,omitempty"`
	Hosting bool   `json:"hosting,omitempty"`
	Tor     bool   `json:"tor,omitempty"`
	Bogon   bool   `json:"bogon,omitempty"`
}

// ProcessedLocation is the classified form of a Lookup. Confidence is always
// derived by Classify.
type ProcessedLocation struct {
	IP         string     `json:"ip"`
	City       string     `json:"city,omitempty"`
	State      string     `json:"state,omitempty"`
	Country    string     `json:"country,omitempty"`
	Octet      string     `json:"octet"`
	IsVPN      bool       `json:"isVPN"`
	Confidence Confidence `json:"confidence"`
}

// Classify converts a raw lookup into a ProcessedLocation.
func Classify(l Lookup) ProcessedLocation {
	loc := ProcessedLocation{
		IP:      l.IP,
		City:    strings.TrimSpace(l.City),
		State:   strings.TrimSpace(l.Region),
		Country: strings.TrimSpace(l.Country),
		Octet:   FirstOctet(l.IP),
		IsVPN:   IsAnonymized(l),
	}

	switch {
	case loc.IsVPN:
		loc.Confidence = ConfidenceVPN
	case loc.City != "" && loc.State != "":
		loc.Confidence = ConfidenceCity
	case loc.State != "" || loc.Country != "":
		loc.Confidence = ConfidenceState
	default:
		loc.Confidence = ConfidenceOctet
	}
	return loc
}

// MatchConfidence compares two locations and returns the pair tier together
// with the maximum accepted timestamp gap. Rules are evaluated in priority
// order and the first one that applies wins. The result is symmetric in a
// and b.
func MatchConfidence(a, b ProcessedLocation) (Confidence, time.Duration) {
	switch {
	case a.IsVPN || b.IsVPN:
		return ConfidenceVPN, WindowVPN
	case a.City != "" && a.State != "" && a.Country != "" &&
		a.City == b.City && a.State == b.State && a.Country == b.Country:
		return ConfidenceCity, WindowCity
	case a.State != "" && a.Country != "" &&
		a.State == b.State && a.Country == b.Country:
		return ConfidenceState, WindowState
	case a.Octet != "" && a.Octet == b.Octet:
		return ConfidenceOctet, WindowOctet
	default:
		return ConfidenceNoMatch, 0
	}
}

// FirstOctet returns the first dotted segment of an IPv4 address. IPv6
// addresses bucket on their first 16-bit group, prefixed so they never
// collide with an IPv4 octet. Unparsable input yields "".
func FirstOctet(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr.Is4() {
		return strconv.Itoa(int(addr.As4()[0]))
	}
	b := addr.As16()
	return "v6:" + strconv.FormatUint(uint64(b[0])<<8|uint64(b[1]), 16)
}
