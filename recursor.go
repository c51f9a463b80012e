// Package recursor implements an iterative DNS resolver that descends the
// delegation hierarchy from the root zone, using github.com/miekg/dns for
// wire format and transport. Nameserver choice is driven by smoothed RTT
// statistics and answers are cached with TTL-driven expiry.
package recursor

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/linkdata/recursor/cache"
	"github.com/linkdata/recursor/tracker"
	"github.com/miekg/dns"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/singleflight"
)

//go:generate go run ./cmd/genhints roothints.gen.go

const MaxDepth = 16                    // delegation and chase depth bound per resolve
const MaxRetries = 2                   // extra rounds per delegation level
const DefaultTimeout = 3 * time.Second // per-exchange budget
const DefaultBudget = 10 * time.Second // per-resolve wall clock budget
const negativeTTL = 60                 // seconds; fixed, not derived from SOA

type Resolver struct {
	proxy.ContextDialer
	Timeout     time.Duration // per-exchange timeout
	Budget      time.Duration // wall clock bound for one Resolve call
	DNSPort     uint16
	Logger      *slog.Logger // nil disables logging
	cache       *cache.Cache
	tracker     *tracker.Tracker
	group       singleflight.Group
	mu          sync.RWMutex // protects following
	rootServers []netip.Addr
}

// New returns a resolver seeded with the IANA IPv4 root servers.
func New() *Resolver {
	return &Resolver{
		ContextDialer: &net.Dialer{},
		Timeout:       DefaultTimeout,
		Budget:        DefaultBudget,
		DNSPort:       53,
		cache:         cache.New(),
		tracker:       tracker.New(),
		rootServers:   append([]netip.Addr(nil), Roots4...),
	}
}

// Cache returns the resolver's shared cache.
func (r *Resolver) Cache() *cache.Cache { return r.cache }

// Tracker returns the resolver's shared nameserver tracker.
func (r *Resolver) Tracker() *tracker.Tracker { return r.tracker }

// Close stops the cache reclaim task.
func (r *Resolver) Close() { r.cache.Close() }

// Resolve looks up the given record type for domain and returns the rdata
// of the answer records as text, in answer order. An empty list means
// NXDOMAIN, all servers failed, or an unsupported record type; errors never
// propagate past this boundary.
func (r *Resolver) Resolve(domain, rtype string) (answers []string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.budget())
	defer cancel()
	var err error
	if answers, err = r.ResolveContext(ctx, domain, rtype); err != nil {
		r.logger().Warn("resolve failed", "domain", domain, "rtype", rtype, "err", err)
	}
	return
}

// ResolveContext is Resolve with caller-controlled cancellation and the
// underlying cause on failure. Identical concurrent lookups are collapsed
// into one iteration.
func (r *Resolver) ResolveContext(ctx context.Context, domain, rtype string) (answers []string, err error) {
	metricResolves.Inc()
	var qtype uint16
	if qtype, err = RecordType(rtype); err != nil {
		return nil, err
	}
	qname := canonicalName(domain)
	start := time.Now()
	var v any
	v, err, _ = r.group.Do(cache.Key(qname, qtype), func() (any, error) {
		q := &query{
			Resolver: r,
			ctx:      ctx,
			seen:     make(map[string]struct{}),
		}
		return q.resolve(qname, qtype)
	})
	metricResolveDuration.UpdateDuration(start)
	if v != nil {
		answers = v.([]string)
	}
	return
}

func (r *Resolver) budget() time.Duration {
	if r.Budget > 0 {
		return r.Budget
	}
	return DefaultBudget
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.New(discardHandler{})
}

func (r *Resolver) port() uint16 {
	if r.DNSPort != 0 {
		return r.DNSPort
	}
	return 53
}

func (r *Resolver) addrPort(addr netip.Addr) netip.AddrPort {
	return netip.AddrPortFrom(addr, r.port())
}

func (r *Resolver) roots() []netip.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]netip.Addr(nil), r.rootServers...)
}

// SetRoots replaces the bootstrap nameserver set; intended for tests.
func (r *Resolver) SetRoots(roots []netip.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rootServers = append([]netip.Addr(nil), roots...)
}

func (r *Resolver) deadline(ctx context.Context) time.Time {
	var deadline time.Time
	if ctx != nil {
		if d, ok := ctx.Deadline(); ok {
			deadline = d
		}
	}
	if r.Timeout > 0 {
		limit := time.Now().Add(r.Timeout)
		if deadline.IsZero() || limit.Before(deadline) {
			deadline = limit
		}
	}
	return deadline
}

// bootstrap returns the working nameserver set for qname: the deepest
// cached enclosing delegation if one is still live, else the root hints.
func (r *Resolver) bootstrap(qname string) []netip.Addr {
	labels := dns.SplitDomainName(qname)
	for i := 0; i < len(labels); i++ {
		zone := dns.Fqdn(strings.Join(labels[i:], "."))
		if servers, ok := r.cache.GetDelegation(zone); ok && len(servers) > 0 {
			return append([]netip.Addr(nil), servers...)
		}
	}
	return r.roots()
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
