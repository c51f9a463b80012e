package recursor

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/miekg/dns"
)

const maxQueries = 256                      // total exchanges for a single resolve
const retryBackoff = 100 * time.Millisecond // multiplied by the round index

// query carries the transient state of one resolve call: the depth counter,
// the exchange budget and the CNAME targets already entered. It is
// discarded when the call returns.
type query struct {
	*Resolver
	ctx     context.Context
	depth   int
	queries int
	seen    map[string]struct{} // cname targets entered during this resolve
}

func (q *query) dive() (err error) {
	q.depth++
	if q.depth > MaxDepth {
		err = ErrDepthExceeded
	}
	return
}

func (q *query) surface() {
	q.depth--
}

// resolve drives one name/type lookup: cache first, then the iterative
// descent from the closest known delegation point.
func (q *query) resolve(qname string, qtype uint16) (answers []string, err error) {
	if err = q.dive(); err != nil {
		return nil, err
	}
	defer q.surface()
	q.logf("resolve %s %q", dns.Type(qtype), qname)

	if answers, ok := q.cache.Get(qname, qtype); ok {
		metricCacheHits.Inc()
		q.logf("cache hit %s %q", dns.Type(qtype), qname)
		return answers, nil
	}
	if q.cache.IsNegative(qname, qtype) {
		q.logf("negative cache hit %s %q", dns.Type(qtype), qname)
		return nil, nil
	}

	servers := q.bootstrap(qname)
	var lastErr error
	for level := 0; len(servers) > 0 && level < MaxDepth; level++ {
		var resp *dns.Msg
		if resp, lastErr = q.queryServers(servers, qname, qtype); resp == nil {
			break
		}

		switch resp.Rcode {
		case dns.RcodeNameError:
			metricNXDomain.Inc()
			q.cache.PutNegative(qname, qtype, negativeTTL)
			q.logf("NXDOMAIN %q", qname)
			return nil, nil

		case dns.RcodeSuccess:
			if answers, ttl, ok := q.extractAnswers(resp, qname, qtype); ok {
				q.cache.Put(qname, qtype, answers, ttl)
				q.logf("answer %q records=%d", qname, len(answers))
				return answers, nil
			}
			next := q.mineDelegation(resp)
			if len(next) == 0 {
				q.logf("dead end %q", qname)
				return nil, nil
			}
			servers = next

		default:
			// Retained SERVFAIL or similar from the retry rounds; nothing
			// better is coming from this delegation chain.
			q.logf("server error %q rcode=%s", qname, dns.RcodeToString[resp.Rcode])
			return nil, nil
		}
	}
	return nil, lastErr
}

// queryServers runs the per-level retry policy: up to MaxRetries extra
// rounds, re-selecting from the same candidate set each round and backing
// off between rounds. The first parseable NOERROR or NXDOMAIN wins; other
// rcodes are retained as the fallback response.
func (q *query) queryServers(candidates []netip.Addr, qname string, qtype uint16) (resp *dns.Msg, err error) {
	var last *dns.Msg
	var errs error
	for round := 0; round <= MaxRetries; round++ {
		if round > 0 {
			select {
			case <-q.ctx.Done():
				return last, q.ctx.Err()
			case <-time.After(retryBackoff * time.Duration(round)):
			}
		}
		selected := q.tracker.Select(candidates)
		if len(selected) == 0 {
			break
		}
		for _, server := range selected {
			if q.queries++; q.queries > maxQueries {
				return last, ErrTooManyQueries
			}
			q.tracker.StartQuery(server)
			resp, rtt, err := q.exchange(server, qname, qtype)
			q.tracker.EndQuery(server)
			if err != nil {
				q.tracker.RecordFailure(server)
				metricExchangeFailures.Inc()
				q.logf("exchange failed server=%s err=%v", server, err)
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", server, err))
				continue
			}
			// The server answered, so it counts as reachable even when the
			// rcode reports a failure.
			q.tracker.RecordSuccess(server, rtt)
			switch resp.Rcode {
			case dns.RcodeSuccess, dns.RcodeNameError:
				return resp, nil
			default:
				q.logf("rcode %s from %s for %q", dns.RcodeToString[resp.Rcode], server, qname)
				last = resp
			}
		}
	}
	if last != nil {
		return last, nil
	}
	if errs == nil {
		errs = ErrNoResponse
	}
	return nil, errs
}

// extractAnswers walks the answer section in wire order collecting rdata of
// the queried type, chasing CNAMEs for A queries. Chased addresses are
// appended after directly matching records. The returned TTL is the
// smallest among the records used.
func (q *query) extractAnswers(resp *dns.Msg, qname string, qtype uint16) (answers []string, ttl uint32, ok bool) {
	ttl = negativeTTL
	haveTTL := false
	note := func(rr dns.RR) {
		if t := rr.Header().Ttl; !haveTTL || t < ttl {
			ttl = t
			haveTTL = true
		}
	}
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype == qtype {
			if text, valid := rdataText(rr); valid {
				answers = append(answers, text)
				note(rr)
			}
			continue
		}
		if cname, isCNAME := rr.(*dns.CNAME); isCNAME && qtype != dns.TypeCNAME {
			target := canonicalName(cname.Target)
			note(rr)
			if qtype != dns.TypeA {
				answers = append(answers, target)
				continue
			}
			if _, entered := q.seen[target]; entered {
				answers = append(answers, target)
				continue
			}
			q.seen[target] = struct{}{}
			q.logf("cname %q -> %q", qname, target)
			chased, err := q.resolve(target, dns.TypeA)
			if err != nil || len(chased) == 0 {
				answers = append(answers, target)
				continue
			}
			answers = append(answers, chased...)
		}
	}
	return answers, ttl, len(answers) > 0
}

// mineDelegation extracts the next-level nameserver set from a referral:
// NS owners from the authority section, their addresses from glue in the
// additional section, and a nested resolve for glue-less targets. The
// resulting set is cached against the delegated zone.
func (q *query) mineDelegation(resp *dns.Msg) (servers []netip.Addr) {
	var zone string
	var owners []string
	ttl := uint32(0)
	for _, rr := range resp.Ns {
		if ns, isNS := rr.(*dns.NS); isNS {
			if zone == "" {
				zone = canonicalName(ns.Hdr.Name)
				ttl = ns.Hdr.Ttl
			}
			owners = append(owners, canonicalName(ns.Ns))
			if t := ns.Hdr.Ttl; t < ttl {
				ttl = t
			}
		}
	}
	if len(owners) == 0 {
		return nil
	}

	glue := make(map[string][]netip.Addr)
	for _, rr := range resp.Extra {
		if a, isA := rr.(*dns.A); isA {
			owner := canonicalName(a.Hdr.Name)
			if addr, valid := netip.AddrFromSlice(a.A.To4()); valid {
				glue[owner] = append(glue[owner], addr)
			}
		}
	}

	for _, owner := range owners {
		if addrs, haveGlue := glue[owner]; haveGlue {
			servers = append(servers, addrs...)
			continue
		}
		// Glue-less delegation: resolve the NS target ourselves, dropping
		// it on failure.
		texts, err := q.resolve(owner, dns.TypeA)
		if err != nil {
			q.logf("ns target %q unresolvable err=%v", owner, err)
			continue
		}
		for _, text := range texts {
			if addr, parseErr := netip.ParseAddr(text); parseErr == nil && addr.Is4() {
				servers = append(servers, addr)
			}
		}
	}
	servers = dedupAddrs(servers)
	if len(servers) > 0 && zone != "" {
		q.cache.PutDelegation(zone, servers, ttl)
		q.logf("delegation %q servers=%d", zone, len(servers))
	}
	return servers
}

func (q *query) logf(format string, args ...any) {
	q.logger().Debug(fmt.Sprintf("%*s%s", q.depth*2, "", fmt.Sprintf(format, args...)))
}
