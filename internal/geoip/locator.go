// Package geoip resolves client IP addresses to coarse locations using
// MaxMind GeoIP2/GeoLite2 databases. Each database is optional; a missing
// database just leaves the corresponding fields of the lookup empty.
package geoip

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/netip"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/contactbump/exchange/internal/location"
)

// Config lists the database files to open. Empty paths are skipped.
type Config struct {
	CityPath        string // GeoLite2-City.mmdb
	ASNPath         string // GeoLite2-ASN.mmdb
	AnonymousIPPath string // GeoIP2-Anonymous-IP.mmdb
}

// Locator performs IP lookups against the configured databases. It is safe
// for concurrent use.
type Locator struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
	anon *geoip2.Reader
}

// Open opens every configured database. A Locator with no databases is valid
// and only reports reserved-range membership.
func Open(cfg Config) (*Locator, error) {
	l := &Locator{}
	var err error
	if l.city, err = openReader(cfg.CityPath); err != nil {
		return nil, err
	}
	if l.asn, err = openReader(cfg.ASNPath); err != nil {
		l.Close()
		return nil, err
	}
	if l.anon, err = openReader(cfg.AnonymousIPPath); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func openReader(path string) (*geoip2.Reader, error) {
	if path == "" {
		return nil, nil
	}
	r, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open %s: %w", path, err)
	}
	return r, nil
}

// Lookup resolves ip. Unparsable addresses return an error; database misses
// do not.
func (l *Locator) Lookup(_ context.Context, ip string) (location.Lookup, error) {
	result := location.Lookup{IP: ip}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return result, fmt.Errorf("geoip: parse %q: %w", ip, err)
	}
	addr = addr.Unmap()
	if location.IsReserved(addr) {
		result.Bogon = true
		return result, nil
	}
	netIP := net.IP(addr.AsSlice())

	if l.city != nil {
		rec, err := l.city.City(netIP)
		if err != nil {
			log.Printf("[geoip] city lookup %s: %v", ip, err)
		} else {
			result.City = rec.City.Names["en"]
			if len(rec.Subdivisions) > 0 {
				result.Region = rec.Subdivisions[0].IsoCode
				if result.Region == "" {
					result.Region = rec.Subdivisions[0].Names["en"]
				}
			}
			result.Country = rec.Country.IsoCode
			if rec.Traits.IsAnonymousProxy {
				result.VPN = true
			}
		}
	}

	if l.asn != nil {
		rec, err := l.asn.ASN(netIP)
		if err != nil {
			log.Printf("[geoip] asn lookup %s: %v", ip, err)
		} else {
			result.Org = rec.AutonomousSystemOrganization
		}
	}

	if l.anon != nil {
		rec, err := l.anon.AnonymousIP(netIP)
		if err != nil {
			log.Printf("[geoip] anonymous-ip lookup %s: %v", ip, err)
		} else {
			result.VPN = result.VPN || rec.IsAnonymousVPN || rec.IsPublicProxy || rec.IsResidentialProxy
			result.Hosting = rec.IsHostingProvider
			result.Tor = rec.IsTorExitNode
		}
	}

	return result, nil
}

// Close releases all open databases.
func (l *Locator) Close() error {
	var errs []error
	for _, r := range []*geoip2.Reader{l.city, l.asn, l.anon} {
		if r != nil {
			errs = append(errs, r.Close())
		}
	}
	return errors.Join(errs...)
}
