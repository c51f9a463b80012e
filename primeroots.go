package recursor

import (
	"context"
	"sync"

	"github.com/miekg/dns"
)

// PrimeRoots probes every root server once with a root NS query and feeds
// the measured RTTs into the tracker, so the first real resolution starts
// from informed buckets instead of all-untested ones.
func (r *Resolver) PrimeRoots(ctx context.Context) {
	var wg sync.WaitGroup
	for _, server := range r.roots() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := &query{Resolver: r, ctx: ctx, seen: make(map[string]struct{})}
			r.tracker.StartQuery(server)
			defer r.tracker.EndQuery(server)
			if _, rtt, err := q.exchange(server, ".", dns.TypeNS); err != nil {
				r.tracker.RecordFailure(server)
			} else {
				r.tracker.RecordSuccess(server, rtt)
			}
		}()
	}
	wg.Wait()
}
