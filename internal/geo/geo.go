// Package geo resolves IP addresses to countries using an IP2Location BIN database.
package geo

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/ip2location/ip2location-go/v9"

	"github.com/JakeFAU/countly-etl/internal/model"
)

// ErrInvalidIP is returned for strings that are not IPv4 or IPv6 addresses.
var ErrInvalidIP = errors.New("invalid ip address")

// ErrNotFound is returned when the database holds no country for the address.
var ErrNotFound = errors.New("ip not found in database")

// reader is the subset of *ip2location.DB the Locator needs.
type reader interface {
	Get_all(ip string) (ip2location.IP2Locationrecord, error) //nolint:revive,stylecheck // upstream name
	Close()
}

// Locator looks up country information for IP addresses.
type Locator struct {
	db reader
}

// Open loads the BIN database at path.
func Open(path string) (*Locator, error) {
	db, err := ip2location.OpenDB(path)
	if err != nil {
		return nil, fmt.Errorf("open ip2location db %s: %w", path, err)
	}
	return &Locator{db: db}, nil
}

// Lookup returns the country for ip. Addresses the database knows but cannot
// place come back as "-", the database's own unknown marker.
func (l *Locator) Lookup(ip string) (model.Location, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return model.Location{}, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	rec, err := l.db.Get_all(addr.Unmap().String())
	if err != nil {
		return model.Location{}, fmt.Errorf("lookup %s: %w", ip, err)
	}
	code := strings.TrimSpace(rec.Country_short)
	if code == "" {
		return model.Location{}, fmt.Errorf("lookup %s: %w", ip, ErrNotFound)
	}
	return model.Location{CountryCode: code, CountryName: rec.Country_long}, nil
}

// Close releases the database file.
func (l *Locator) Close() {
	if l == nil || l.db == nil {
		return
	}
	l.db.Close()
}
