package location

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func nyc(ip string) ProcessedLocation {
	return Classify(Lookup{IP: ip, City: "NYC", Region: "NY", Country: "US"})
}

func TestClassify_Tiers(t *testing.T) {
	cases := []struct {
		name   string
		lookup Lookup
		want   Confidence
	}{
		{"city and region", Lookup{IP: "8.8.4.4", City: "Portland", Region: "OR", Country: "US"}, ConfidenceCity},
		{"region only", Lookup{IP: "8.8.4.4", Region: "OR", Country: "US"}, ConfidenceState},
		{"country only", Lookup{IP: "8.8.4.4", Country: "US"}, ConfidenceState},
		{"city without region", Lookup{IP: "8.8.4.4", City: "Portland"}, ConfidenceOctet},
		{"nothing", Lookup{IP: "8.8.4.4"}, ConfidenceOctet},
		{"vpn flag wins", Lookup{IP: "8.8.4.4", City: "Portland", Region: "OR", Country: "US", VPN: true}, ConfidenceVPN},
		{"hosting org", Lookup{IP: "8.8.4.4", City: "Portland", Region: "OR", Country: "US", Org: "DigitalOcean, LLC"}, ConfidenceVPN},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.lookup).Confidence)
		})
	}
}

func TestClassify_OctetAlwaysComputed(t *testing.T) {
	loc := Classify(Lookup{IP: "73.12.4.9", City: "NYC", Region: "NY", Country: "US", Tor: true})
	assert.Equal(t, "73", loc.Octet)
	assert.True(t, loc.IsVPN)

	assert.Equal(t, "", Classify(Lookup{IP: "not-an-ip"}).Octet)
	assert.Equal(t, ConfidenceOctet, Classify(Lookup{IP: "not-an-ip"}).Confidence)
}

func TestFirstOctet(t *testing.T) {
	assert.Equal(t, "192", FirstOctet("192.168.0.1"))
	assert.Equal(t, "10", FirstOctet("::ffff:10.0.0.1"))
	assert.Equal(t, "v6:2001", FirstOctet("2001:db8::1"))
	assert.Equal(t, "", FirstOctet(""))
}

func TestMatchConfidence_Priority(t *testing.T) {
	portlandUS := Classify(Lookup{IP: "50.1.1.1", City: "Portland", Region: "OR", Country: "US"})
	portlandCA := Classify(Lookup{IP: "50.2.2.2", City: "Portland", Region: "OR", Country: "CA"})
	salemUS := Classify(Lookup{IP: "60.1.1.1", City: "Salem", Region: "OR", Country: "US"})
	octetOnly := Classify(Lookup{IP: "50.9.9.9"})
	elsewhere := Classify(Lookup{IP: "99.9.9.9", City: "Austin", Region: "TX", Country: "US"})
	vpn := Classify(Lookup{IP: "50.1.1.2", City: "Portland", Region: "OR", Country: "US", VPN: true})

	cases := []struct {
		name   string
		a, b   ProcessedLocation
		want   Confidence
		window time.Duration
	}{
		{"same city", portlandUS, portlandUS, ConfidenceCity, WindowCity},
		{"country gates city", portlandUS, portlandCA, ConfidenceOctet, WindowOctet},
		{"same state", portlandUS, salemUS, ConfidenceState, WindowState},
		{"same octet", portlandUS, octetOnly, ConfidenceOctet, WindowOctet},
		{"vpn wins over city", vpn, portlandUS, ConfidenceVPN, WindowVPN},
		{"nothing shared", salemUS, elsewhere, ConfidenceNoMatch, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, window := MatchConfidence(tc.a, tc.b)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.window, window)

			// Symmetric.
			gotBA, windowBA := MatchConfidence(tc.b, tc.a)
			assert.Equal(t, got, gotBA)
			assert.Equal(t, window, windowBA)
		})
	}
}

func TestMatchConfidence_CountryGatesState(t *testing.T) {
	a := Classify(Lookup{IP: "1.1.1.1", Region: "Georgia", Country: "US"})
	b := Classify(Lookup{IP: "2.2.2.2", Region: "Georgia", Country: "GE"})
	got, window := MatchConfidence(a, b)
	assert.Equal(t, ConfidenceNoMatch, got)
	assert.Zero(t, window)
}

func TestMatchConfidence_EmptyFieldsNeverMatch(t *testing.T) {
	a := Classify(Lookup{IP: "garbage"})
	b := Classify(Lookup{IP: "also garbage"})
	got, window := MatchConfidence(a, b)
	assert.Equal(t, ConfidenceNoMatch, got)
	assert.Zero(t, window)
}

func TestMatchConfidence_CaseSensitive(t *testing.T) {
	a := nyc("20.0.0.1")
	b := Classify(Lookup{IP: "30.0.0.1", City: "nyc", Region: "NY", Country: "US"})
	got, _ := MatchConfidence(a, b)
	assert.Equal(t, ConfidenceState, got)
}

func TestMatchConfidence_NoMatchHasZeroWindow(t *testing.T) {
	locs := []ProcessedLocation{
		nyc("20.0.0.1"),
		Classify(Lookup{IP: "21.0.0.1", Region: "CA", Country: "US"}),
		Classify(Lookup{IP: "22.0.0.1"}),
		Classify(Lookup{IP: "23.0.0.1", Country: "DE"}),
	}
	for _, a := range locs {
		for _, b := range locs {
			c, w := MatchConfidence(a, b)
			if c == ConfidenceNoMatch {
				assert.Zero(t, w)
			} else {
				assert.Positive(t, w)
			}
		}
	}
}

func TestRank(t *testing.T) {
	assert.Greater(t, ConfidenceCity.Rank(), ConfidenceState.Rank())
	assert.Greater(t, ConfidenceState.Rank(), ConfidenceOctet.Rank())
	assert.Greater(t, ConfidenceOctet.Rank(), ConfidenceVPN.Rank())
	assert.Greater(t, ConfidenceVPN.Rank(), ConfidenceNoMatch.Rank())
	assert.True(t, ConfidenceNoMatch.Valid())
	assert.False(t, Confidence("gps").Valid())
}

func TestIsAnonymized(t *testing.T) {
	cases := []struct {
		name   string
		lookup Lookup
		want   bool
	}{
		{"plain residential", Lookup{IP: "73.1.2.3", Org: "Comcast Cable"}, false},
		{"vpn flag", Lookup{IP: "73.1.2.3", VPN: true}, true},
		{"hosting flag", Lookup{IP: "73.1.2.3", Hosting: true}, true},
		{"tor flag", Lookup{IP: "73.1.2.3", Tor: true}, true},
		{"bogon flag", Lookup{IP: "73.1.2.3", Bogon: true}, true},
		{"cgnat low edge", Lookup{IP: "100.64.0.0"}, true},
		{"cgnat high edge", Lookup{IP: "100.127.255.255"}, true},
		{"just above cgnat", Lookup{IP: "100.128.0.0"}, false},
		{"just below cgnat", Lookup{IP: "100.63.255.255"}, false},
		{"cloudflare org", Lookup{IP: "104.16.0.1", Org: "AS13335 CLOUDFLARENET Cloudflare, Inc."}, true},
		{"vpn in org name", Lookup{IP: "5.5.5.5", Org: "Some VPN Provider"}, true},
		{"digital ocean with space", Lookup{IP: "5.5.5.5", Org: "Digital Ocean"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAnonymized(tc.lookup))
		})
	}
}

func TestIsReserved(t *testing.T) {
	for _, s := range []string{"10.0.0.1", "192.168.1.1", "127.0.0.1", "169.254.1.1", "::1", "fe80::1", "0.0.0.0"} {
		assert.True(t, IsReserved(netip.MustParseAddr(s)), s)
	}
	for _, s := range []string{"8.8.8.8", "2606:4700::1111"} {
		assert.False(t, IsReserved(netip.MustParseAddr(s)), s)
	}
}
