// Package cache implements the resolver's multi-level cache: positive record
// answers, negative answers and delegation sets, all keyed by canonical
// names and expired by TTL-derived deadlines.
package cache

import (
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	cmap "github.com/orcaman/concurrent-map/v2"
)

const DefaultTTLCap = 5 * time.Minute          // positive, negative and delegation TTLs are clamped to this
const DefaultReclaimInterval = 5 * time.Minute // how often the background sweep runs

type recordEntry struct {
	answers  []string
	deadline time.Time
}

type delegationEntry struct {
	servers  []netip.Addr
	deadline time.Time
}

type negativeEntry struct {
	deadline time.Time
}

type Cache struct {
	TTLCap      time.Duration // never honor a TTL longer than this
	count       atomic.Uint64
	hits        atomic.Uint64
	records     cmap.ConcurrentMap[string, recordEntry]
	delegations cmap.ConcurrentMap[string, delegationEntry]
	negatives   cmap.ConcurrentMap[string, negativeEntry]
	stop        chan struct{}
	closeOnce   sync.Once
}

// New returns a cache with the default TTL cap and starts its reclaim task.
func New() (c *Cache) {
	c = &Cache{
		TTLCap:      DefaultTTLCap,
		records:     cmap.New[recordEntry](),
		delegations: cmap.New[delegationEntry](),
		negatives:   cmap.New[negativeEntry](),
		stop:        make(chan struct{}),
	}
	go c.reclaim(DefaultReclaimInterval)
	return
}

// Close stops the reclaim task. The cache remains usable.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

func Key(qname string, qtype uint16) string {
	return strings.ToLower(qname) + ":" + dns.Type(qtype).String()
}

// Get returns the cached answer for qname/qtype if a non-expired positive
// entry exists.
func (c *Cache) Get(qname string, qtype uint16) (answers []string, ok bool) {
	c.count.Add(1)
	key := Key(qname, qtype)
	if entry, found := c.records.Get(key); found {
		if time.Now().Before(entry.deadline) {
			c.hits.Add(1)
			return entry.answers, true
		}
		c.records.RemoveCb(key, func(_ string, entry recordEntry, exists bool) bool {
			return exists && !time.Now().Before(entry.deadline)
		})
	}
	return nil, false
}

// Put stores a positive answer. The TTL is clamped to [0, TTLCap]; a zero
// TTL stores an entry that is already expired on the next read. A positive
// entry supersedes any negative entry for the same key.
func (c *Cache) Put(qname string, qtype uint16, answers []string, ttl uint32) {
	key := Key(qname, qtype)
	c.records.Set(key, recordEntry{
		answers:  append([]string(nil), answers...),
		deadline: time.Now().Add(c.clamp(ttl)),
	})
	c.negatives.Remove(key)
}

// IsNegative reports whether a non-expired negative entry exists for
// qname/qtype.
func (c *Cache) IsNegative(qname string, qtype uint16) (yes bool) {
	key := Key(qname, qtype)
	if entry, found := c.negatives.Get(key); found {
		if time.Now().Before(entry.deadline) {
			return true
		}
		c.negatives.RemoveCb(key, func(_ string, entry negativeEntry, exists bool) bool {
			return exists && !time.Now().Before(entry.deadline)
		})
	}
	return
}

// PutNegative records that qname/qtype does not exist for ttl seconds.
// A negative entry supersedes any positive entry for the same key.
func (c *Cache) PutNegative(qname string, qtype uint16, ttl uint32) {
	key := Key(qname, qtype)
	c.negatives.Set(key, negativeEntry{deadline: time.Now().Add(c.clamp(ttl))})
	c.records.Remove(key)
}

// GetDelegation returns the cached nameserver set for zone if a non-expired
// delegation entry exists.
func (c *Cache) GetDelegation(zone string) (servers []netip.Addr, ok bool) {
	key := strings.ToLower(zone)
	if entry, found := c.delegations.Get(key); found {
		if time.Now().Before(entry.deadline) {
			return entry.servers, true
		}
		c.delegations.RemoveCb(key, func(_ string, entry delegationEntry, exists bool) bool {
			return exists && !time.Now().Before(entry.deadline)
		})
	}
	return nil, false
}

// PutDelegation stores the nameserver set for zone.
func (c *Cache) PutDelegation(zone string, servers []netip.Addr, ttl uint32) {
	c.delegations.Set(strings.ToLower(zone), delegationEntry{
		servers:  append([]netip.Addr(nil), servers...),
		deadline: time.Now().Add(c.clamp(ttl)),
	})
}

// Entries returns the number of entries across all three tables.
func (c *Cache) Entries() (n int) {
	if c != nil {
		n = c.records.Count() + c.delegations.Count() + c.negatives.Count()
	}
	return
}

// HitRatio returns the positive lookup hit ratio as a percentage.
func (c *Cache) HitRatio() (n float64) {
	if c != nil {
		if count := c.count.Load(); count > 0 {
			n = float64(c.hits.Load()*100) / float64(count)
		}
	}
	return
}

// Clean removes all expired entries. The expiry re-check runs under the
// per-entry shard lock so a concurrent fresh re-insert is never removed.
func (c *Cache) Clean(now time.Time) {
	for item := range c.records.IterBuffered() {
		c.records.RemoveCb(item.Key, func(_ string, entry recordEntry, exists bool) bool {
			return exists && !now.Before(entry.deadline)
		})
	}
	for item := range c.delegations.IterBuffered() {
		c.delegations.RemoveCb(item.Key, func(_ string, entry delegationEntry, exists bool) bool {
			return exists && !now.Before(entry.deadline)
		})
	}
	for item := range c.negatives.IterBuffered() {
		c.negatives.RemoveCb(item.Key, func(_ string, entry negativeEntry, exists bool) bool {
			return exists && !now.Before(entry.deadline)
		})
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.records.Clear()
	c.delegations.Clear()
	c.negatives.Clear()
}

func (c *Cache) clamp(ttl uint32) time.Duration {
	return min(time.Duration(ttl)*time.Second, c.TTLCap)
}

func (c *Cache) reclaim(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.Clean(now)
		}
	}
}
