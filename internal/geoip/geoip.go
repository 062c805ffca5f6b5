// Package geoip resolves client IPs to ISO country codes for country
// targeting of ad slots.
package geoip

import (
	"net"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/oschwald/geoip2-golang"
)

// GeoIP looks countries up in a MaxMind database, or in a JSON list of CIDR
// ranges when the file is not a MaxMind database. The JSON form is used for
// local development and tests.
type GeoIP struct {
	db       *geoip2.Reader
	fallback []cidrCountry
}

type cidrCountry struct {
	net     *net.IPNet
	country string
}

// Init opens the database located at path.
func Init(path string) (*GeoIP, error) {
	db, err := geoip2.Open(path)
	if err == nil {
		return &GeoIP{db: db}, nil
	}

	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return nil, err
	}
	var entries []struct {
		Net     string `json:"net"`
		Country string `json:"country"`
	}
	if jerr := json.Unmarshal(data, &entries); jerr != nil {
		return nil, err
	}
	g := &GeoIP{}
	for _, e := range entries {
		if _, n, perr := net.ParseCIDR(e.Net); perr == nil {
			g.fallback = append(g.fallback, cidrCountry{net: n, country: strings.ToUpper(e.Country)})
		}
	}
	return g, nil
}

// Country returns the ISO country code for ip, or "" when unknown. A nil
// GeoIP resolves nothing.
func (g *GeoIP) Country(ip net.IP) string {
	if g == nil || ip == nil {
		return ""
	}
	if g.db != nil {
		if rec, err := g.db.Country(ip); err == nil {
			return rec.Country.IsoCode
		}
	}
	for _, r := range g.fallback {
		if r.net.Contains(ip) {
			return r.country
		}
	}
	return ""
}

// CountryOf parses addr, with or without a port, and looks it up.
func (g *GeoIP) CountryOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return g.Country(net.ParseIP(strings.TrimSpace(addr)))
}

// Close releases resources associated with the database.
func (g *GeoIP) Close() error {
	if g != nil && g.db != nil {
		return g.db.Close()
	}
	return nil
}
