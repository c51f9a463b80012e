package tracker

import (
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	server1 = netip.MustParseAddr("8.8.8.8")
	server2 = netip.MustParseAddr("8.8.4.4")
	server3 = netip.MustParseAddr("1.1.1.1")
	server4 = netip.MustParseAddr("1.0.0.1")
)

func allServers() []netip.Addr {
	return []netip.Addr{server1, server2, server3, server4}
}

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	t := New()
	t.clock = func() time.Time { return clock.now }
	return t, clock
}

func TestSelectEmptyCandidates(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	require.Empty(t, tr.Select(nil))
}

func TestSelectInitialUntested(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	selected := tr.Select(allServers())
	require.NotEmpty(t, selected)
	require.LessOrEqual(t, len(selected), 2)
	for _, server := range selected {
		require.Contains(t, allServers(), server)
	}
}

func TestSelectPrefersFastServers(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	tr.RecordSuccess(server1, 100*time.Millisecond)
	tr.RecordSuccess(server2, 200*time.Millisecond)
	tr.RecordSuccess(server3, 300*time.Millisecond)
	tr.RecordSuccess(server4, 400*time.Millisecond)

	var fast, slow int
	for range 100 {
		selected := tr.Select(allServers())
		require.LessOrEqual(t, len(selected), 2)
		for _, server := range selected {
			if server == server1 {
				fast++
			}
			if server == server4 {
				slow++
			}
		}
	}
	require.Greater(t, fast, slow)
}

func TestFailureIsolationAndRecovery(t *testing.T) {
	t.Parallel()
	tr, clock := newTestTracker()
	tr.RecordSuccess(server1, 100*time.Millisecond)
	tr.RecordSuccess(server2, 100*time.Millisecond)
	for range MaxFailures {
		tr.RecordFailure(server1)
	}

	candidates := []netip.Addr{server1, server2}
	for range 50 {
		require.NotContains(t, tr.Select(candidates), server1)
	}

	clock.advance(31 * time.Second)
	recovered := false
	for range 50 {
		for _, server := range tr.Select(candidates) {
			recovered = recovered || server == server1
		}
	}
	require.True(t, recovered)
}

func TestFailuresResetOnSuccess(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	tr.RecordSuccess(server1, 100*time.Millisecond)
	tr.RecordFailure(server1)
	tr.RecordFailure(server1)
	require.EqualValues(t, 2, tr.get(server1).failures.Load())
	tr.RecordSuccess(server1, 100*time.Millisecond)
	require.EqualValues(t, 0, tr.get(server1).failures.Load())
}

func TestLoadAwareSelection(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	tr.RecordSuccess(server1, 100*time.Millisecond)
	tr.RecordSuccess(server2, 100*time.Millisecond)
	for range 5 {
		tr.StartQuery(server1)
	}

	var busy, free int
	for range 100 {
		selected := tr.Select([]netip.Addr{server1, server2})
		require.NotEmpty(t, selected)
		if selected[0] == server1 {
			busy++
		}
		if selected[0] == server2 {
			free++
		}
	}
	require.Greater(t, free, busy)

	for range 5 {
		tr.EndQuery(server1)
	}
	require.EqualValues(t, 0, tr.get(server1).active.Load())
}

func TestIdleServersRankBehindRecent(t *testing.T) {
	t.Parallel()
	tr, clock := newTestTracker()
	tr.RecordSuccess(server1, 100*time.Millisecond)
	tr.RecordSuccess(server2, 100*time.Millisecond)
	clock.advance(10 * time.Minute)
	tr.RecordSuccess(server2, 100*time.Millisecond)

	var idle, recent int
	for range 100 {
		selected := tr.Select([]netip.Addr{server1, server2})
		require.NotEmpty(t, selected)
		if selected[0] == server1 {
			idle++
		}
		if selected[0] == server2 {
			recent++
		}
	}
	require.Greater(t, recent, idle)
}

func TestBucketIndexSaturates(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	tr.RecordSuccess(server1, 10*time.Second) // way past RTTMax
	stats := tr.get(server1)
	eff := stats.effectiveRTT(tr.clock())
	index := min(int(eff*BucketCount/RTTMax), BucketCount-1)
	require.Equal(t, BucketCount-1, index)
	require.Contains(t, tr.Select([]netip.Addr{server1}), server1)
}

func TestZeroRTTSampleStaysFinite(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	tr.RecordSuccess(server1, 0)
	tr.RecordSuccess(server1, 0)
	stats := tr.get(server1)
	stats.mu.Lock()
	srtt, rttvar := stats.srtt, stats.rttvar
	stats.mu.Unlock()
	require.GreaterOrEqual(t, srtt, 0.0)
	require.GreaterOrEqual(t, rttvar, 0.0)
	require.False(t, math.IsNaN(srtt) || math.IsInf(srtt, 0) || math.IsNaN(rttvar) || math.IsInf(rttvar, 0), "estimators must stay finite")
}

func TestStartEndQueryBalance(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	for range 10 {
		tr.StartQuery(server1)
		tr.EndQuery(server1)
	}
	require.EqualValues(t, 0, tr.get(server1).active.Load())
}

func TestSelectOutputBounds(t *testing.T) {
	t.Parallel()
	tr, _ := newTestTracker()
	for _, server := range allServers() {
		tr.RecordSuccess(server, 50*time.Millisecond)
	}
	for range 20 {
		selected := tr.Select(allServers())
		require.LessOrEqual(t, len(selected), 2)
		for _, server := range selected {
			require.Contains(t, allServers(), server)
		}
	}
}
