// Package ipinfo enriches login IPs with country, region, ASN and
// proxy/hosting flags from local MaxMind databases. Lookups degrade
// gracefully: a missing database or a failed read yields an empty Info, never
// an error the login path has to handle.
package ipinfo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog"
)

// Info is the enrichment recorded on a player's IP entry.
type Info struct {
	CountryCode string `json:"countryCode,omitempty"`
	Region      string `json:"region,omitempty"`
	City        string `json:"city,omitempty"`
	ASN         uint   `json:"asn,omitempty"`
	Org         string `json:"org,omitempty"`
	Proxy       bool   `json:"proxy"`
	Hosting     bool   `json:"hosting"`
}

// Resolver looks up IP enrichment.
type Resolver interface {
	Lookup(ip string) Info
	Close() error
}

// Paths names the optional MaxMind database files.
type Paths struct {
	City      string
	ASN       string
	Anonymous string
}

// maxmind resolves against local GeoIP2 databases. Any subset of the three
// databases may be absent.
type maxmind struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
	anon *geoip2.Reader
	log  zerolog.Logger
}

// Open loads whichever databases exist at the given paths. An empty path
// skips that database; a load failure fails Open.
func Open(p Paths, log zerolog.Logger) (Resolver, error) {
	m := &maxmind{log: log}
	var err error
	if p.City != "" {
		if m.city, err = geoip2.Open(p.City); err != nil {
			return nil, fmt.Errorf("geoip city db: %w", err)
		}
	}
	if p.ASN != "" {
		if m.asn, err = geoip2.Open(p.ASN); err != nil {
			m.Close()
			return nil, fmt.Errorf("geoip asn db: %w", err)
		}
	}
	if p.Anonymous != "" {
		if m.anon, err = geoip2.Open(p.Anonymous); err != nil {
			m.Close()
			return nil, fmt.Errorf("geoip anonymous-ip db: %w", err)
		}
	}
	return m, nil
}

func (m *maxmind) Lookup(ip string) Info {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Info{}
	}
	var info Info
	if m.city != nil {
		if rec, err := m.city.City(parsed); err == nil {
			info.CountryCode = rec.Country.IsoCode
			if len(rec.Subdivisions) > 0 {
				info.Region = rec.Subdivisions[0].Names["en"]
			}
			info.City = rec.City.Names["en"]
		} else {
			m.log.Debug().Err(err).Str("ip", ip).Msg("geoip city lookup failed")
		}
	}
	if m.asn != nil {
		if rec, err := m.asn.ASN(parsed); err == nil {
			info.ASN = rec.AutonomousSystemNumber
			info.Org = rec.AutonomousSystemOrganization
		}
	}
	if m.anon != nil {
		if rec, err := m.anon.AnonymousIP(parsed); err == nil {
			info.Proxy = rec.IsAnonymousVPN || rec.IsPublicProxy || rec.IsTorExitNode
			info.Hosting = rec.IsHostingProvider
		}
	}
	return info
}

func (m *maxmind) Close() error {
	for _, r := range []*geoip2.Reader{m.city, m.asn, m.anon} {
		if r != nil {
			r.Close()
		}
	}
	return nil
}

// Static always answers from a fixed table. Dev mode and tests.
type Static map[string]Info

func (s Static) Lookup(ip string) Info { return s[ip] }
func (s Static) Close() error          { return nil }
