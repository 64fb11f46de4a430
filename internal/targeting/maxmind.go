package targeting

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// countryRecord is the subset of a GeoLite2/GeoIP2 Country record we read.
type countryRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

// MaxMindGeoProvider implements GeoProvider using a MaxMind database.
type MaxMindGeoProvider struct {
	reader *maxminddb.Reader
}

// NewMaxMindGeoProvider creates a new MaxMind geo provider.
func NewMaxMindGeoProvider(dbPath string) (*MaxMindGeoProvider, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}

	return &MaxMindGeoProvider{reader: reader}, nil
}

// Lookup returns geo information for an IP address.
func (m *MaxMindGeoProvider) Lookup(ip string) (*GeoInfo, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ip)
	}

	var record countryRecord
	if err := m.reader.Lookup(parsedIP, &record); err != nil {
		return nil, err
	}

	code := record.Country.ISOCode
	if code == "" {
		code = record.RegisteredCountry.ISOCode
	}
	if code == "" {
		return nil, nil
	}

	return &GeoInfo{
		Country:     record.Country.Names["en"],
		CountryCode: code,
	}, nil
}

// Close closes the GeoIP database.
func (m *MaxMindGeoProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
