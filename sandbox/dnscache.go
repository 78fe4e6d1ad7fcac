package sandbox

import (
	"net"
	"sync"
	"time"
)

// dnsCacheEntry mirrors the original source's DnsCacheEntry: resolved
// addresses plus the insertion time used for TTL expiry.
type dnsCacheEntry struct {
	ips       []net.IP
	insertedAt time.Time
}

// dnsCache is a TTL-bounded cache of hostname resolutions, keyed by
// hostname (the original source additionally keys on record type; this
// sandbox only resolves A/AAAA via net.LookupIP, so hostname alone is a
// sufficient key).
type dnsCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]dnsCacheEntry
	now     func() time.Time
}

func newDNSCache(ttlSeconds int64) *dnsCache {
	return &dnsCache{
		ttl:     time.Duration(ttlSeconds) * time.Second,
		entries: make(map[string]dnsCacheEntry),
		now:     time.Now,
	}
}

func (c *dnsCache) get(host string) ([]net.IP, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[host]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) > c.ttl {
		delete(c.entries, host)
		return nil, false
	}
	return entry.ips, true
}

func (c *dnsCache) put(host string, ips []net.IP) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[host] = dnsCacheEntry{ips: ips, insertedAt: c.now()}
}

// clear drops all cached entries, mirroring the original source's
// dns_cache.clear() called on instance teardown.
func (c *dnsCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]dnsCacheEntry)
}
