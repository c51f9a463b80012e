// Package tracker keeps BIND-style smoothed RTT statistics per nameserver
// and selects query candidates by walking RTT buckets from fastest to
// slowest.
package tracker

import (
	"math/rand/v2"
	"net/netip"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	RTTInitial     = 2000.0 // ms assumed before the first measurement
	RTTMax         = 4000.0 // ms ceiling for bucket placement
	RTTAlpha       = 0.875  // weight of the new sample in srtt
	RTTBeta        = 0.25   // weight of the new deviation in rttvar
	FailurePenalty = 2.0    // srtt multiplier per failure
	MaxFailures    = 3      // strikes before a server is benched
	BucketCount    = 64     // selection buckets spanning [0, RTTMax)
	UntestedChance = 10     // percent chance to probe an untested server
	ActiveLoad     = 0.1    // effective RTT increase per outstanding query
	IdleLoad       = 0.1    // effective RTT increase per idle threshold past it
)

const DefaultRetryInterval = 30 * time.Second
const IdleThreshold = time.Minute
const selectCount = 2

// Tracker is safe for concurrent use; stats entries are created lazily on
// first observation.
type Tracker struct {
	RetryInterval time.Duration // how long a benched server sits out
	stats         cmap.ConcurrentMap[string, *ServerStats]
	clock         func() time.Time
}

func New() *Tracker {
	return &Tracker{
		RetryInterval: DefaultRetryInterval,
		stats:         cmap.New[*ServerStats](),
		clock:         time.Now,
	}
}

func (t *Tracker) get(server netip.Addr) (stats *ServerStats) {
	key := server.String()
	var found bool
	if stats, found = t.stats.Get(key); !found {
		t.stats.SetIfAbsent(key, newServerStats())
		stats, _ = t.stats.Get(key)
	}
	return
}

// RecordSuccess feeds one RTT measurement into the server's estimators and
// clears its failure count.
func (t *Tracker) RecordSuccess(server netip.Addr, rtt time.Duration) {
	t.get(server).recordSuccess(float64(rtt)/float64(time.Millisecond), t.clock())
}

// RecordFailure penalizes the server; three consecutive failures bench it
// for RetryInterval.
func (t *Tracker) RecordFailure(server netip.Addr) {
	t.get(server).recordFailure(t.clock(), t.RetryInterval)
}

// StartQuery marks one outstanding query against server. Every StartQuery
// must be balanced by EndQuery on all exit paths.
func (t *Tracker) StartQuery(server netip.Addr) {
	t.get(server).startQuery()
}

func (t *Tracker) EndQuery(server netip.Addr) {
	t.get(server).endQuery()
}

// Select returns at most two candidates to query, preferring tested servers
// from the lowest effective-RTT buckets, occasionally probing an untested
// one, and falling back to a uniformly random candidate.
func (t *Tracker) Select(candidates []netip.Addr) (selected []netip.Addr) {
	if len(candidates) == 0 {
		return
	}
	now := t.clock()

	var untested, tested []netip.Addr
	for _, server := range candidates {
		stats, found := t.stats.Get(server.String())
		if !found || stats.untested() {
			untested = append(untested, server)
		} else if stats.available(now) {
			tested = append(tested, server)
		}
	}

	if len(tested) > 0 {
		var buckets [BucketCount][]netip.Addr
		for _, server := range tested {
			stats, _ := t.stats.Get(server.String())
			index := min(int(stats.effectiveRTT(now)*BucketCount/RTTMax), BucketCount-1)
			buckets[index] = append(buckets[index], server)
		}
		for i := 0; i < BucketCount && len(selected) < selectCount; i++ {
			bucket := buckets[i]
			for len(bucket) > 0 && len(selected) < selectCount {
				index := rand.IntN(len(bucket))
				selected = append(selected, bucket[index])
				bucket = append(bucket[:index], bucket[index+1:]...)
			}
		}
	}

	if len(selected) < selectCount && len(untested) > 0 {
		if len(selected) == 0 || rand.IntN(100) < UntestedChance {
			selected = append(selected, untested[rand.IntN(len(untested))])
		}
	}

	if len(selected) == 0 {
		selected = append(selected, candidates[rand.IntN(len(candidates))])
	}
	return
}
