package targeting

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/radiusdt/affiliate-ledger/internal/metrics"
)

// GeoInfo holds geographic information for an IP.
type GeoInfo struct {
	Country     string
	CountryCode string
}

// GeoProvider interface for IP geolocation.
type GeoProvider interface {
	Lookup(ip string) (*GeoInfo, error)
	Close() error
}

// Locator resolves click IPs to ISO country codes with a bounded TTL cache.
// A nil Locator or a Locator without provider resolves nothing.
type Locator struct {
	provider GeoProvider
	cache    *geoCache
	metrics  *metrics.Metrics
}

// geoCache caches geo lookups.
type geoCache struct {
	mu      sync.RWMutex
	data    map[string]*geoCacheEntry
	maxSize int
	ttl     time.Duration
}

type geoCacheEntry struct {
	info      *GeoInfo
	expiresAt time.Time
}

// NewLocator creates a locator around provider.
func NewLocator(provider GeoProvider, cacheSize int, cacheTTL time.Duration, m *metrics.Metrics) *Locator {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	return &Locator{
		provider: provider,
		cache: &geoCache{
			data:    make(map[string]*geoCacheEntry),
			maxSize: cacheSize,
			ttl:     cacheTTL,
		},
		metrics: m,
	}
}

// CountryCode returns the upper-case ISO code for ip, or "" when unknown.
func (l *Locator) CountryCode(ip string) string {
	if info := l.lookup(ip); info != nil {
		return strings.ToUpper(info.CountryCode)
	}
	return ""
}

// Close releases the provider.
func (l *Locator) Close() error {
	if l == nil || l.provider == nil {
		return nil
	}
	return l.provider.Close()
}

// lookup performs a cached geo lookup. Failed lookups are cached as misses.
func (l *Locator) lookup(ip string) *GeoInfo {
	if l == nil || ip == "" || l.provider == nil {
		return nil
	}

	start := time.Now()
	if info, ok := l.cache.get(ip); ok {
		if l.metrics != nil {
			l.metrics.RecordGeoLookup(true, time.Since(start))
		}
		return info
	}

	info, err := l.provider.Lookup(ip)
	if err != nil {
		info = nil
	}

	l.cache.set(ip, info)
	if l.metrics != nil {
		l.metrics.RecordGeoLookup(false, time.Since(start))
	}

	return info
}

func (c *geoCache) get(ip string) (*GeoInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[ip]
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		return nil, false
	}

	return entry.info, true
}

func (c *geoCache) set(ip string, info *GeoInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict if at capacity (simple FIFO)
	if _, exists := c.data[ip]; !exists && len(c.data) >= c.maxSize {
		for k := range c.data {
			delete(c.data, k)
			break
		}
	}

	c.data[ip] = &geoCacheEntry{
		info:      info,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// StaticGeoProvider serves fixed entries. Used in tests and local runs.
type StaticGeoProvider struct {
	mu   sync.RWMutex
	data map[string]*GeoInfo
}

func NewStaticGeoProvider() *StaticGeoProvider {
	return &StaticGeoProvider{
		data: make(map[string]*GeoInfo),
	}
}

func (p *StaticGeoProvider) AddEntry(ip string, info *GeoInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[ip] = info
}

func (p *StaticGeoProvider) Lookup(ip string) (*GeoInfo, error) {
	if net.ParseIP(ip) == nil {
		return nil, nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.data[ip], nil
}

func (p *StaticGeoProvider) Close() error {
	return nil
}
