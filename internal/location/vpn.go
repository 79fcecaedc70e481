package location

import (
	"net/netip"
	"strings"
)

// carrierGradeNAT is 100.64.0.0/10. Many users share one public address
// there, so its geolocation says nothing about any single device.
var carrierGradeNAT = netip.MustParsePrefix("100.64.0.0/10")

// anonymizerOrgFragments are matched case-insensitively against the network
// owner reported by the lookup.
var anonymizerOrgFragments = []string{
	"cloudflare",
	"vpn",
	"digital ocean",
	"digitalocean",
	"amazon",
	"aws",
	"google cloud",
	"microsoft azure",
	"linode",
	"akamai",
	"vultr",
	"ovh",
	"hetzner",
	"m247",
	"datacamp",
	"choopa",
	"leaseweb",
	"proxy",
	"tor exit",
	"mullvad",
	"private internet access",
}

// IsAnonymized reports whether the lookup's geolocation must not be trusted.
func IsAnonymized(l Lookup) bool {
	if l.VPN || l.Hosting || l.Tor || l.Bogon {
		return true
	}
	if addr, err := netip.ParseAddr(strings.TrimSpace(l.IP)); err == nil {
		if carrierGradeNAT.Contains(addr.Unmap()) {
			return true
		}
	}
	if l.Org == "" {
		return false
	}
	org := strings.ToLower(l.Org)
	for _, frag := range anonymizerOrgFragments {
		if strings.Contains(org, frag) {
			return true
		}
	}
	return false
}

// IsReserved reports whether addr is not publicly routable and therefore has
// no meaningful geolocation.
func IsReserved(addr netip.Addr) bool {
	addr = addr.Unmap()
	return !addr.IsValid() ||
		addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified()
}
