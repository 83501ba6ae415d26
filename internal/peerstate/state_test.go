// Copyright 2026 R5 Labs
// This file is part of the r5peer library.
//
// This software is provided "as is", without warranty of any kind,
// express or implied, including but not limited to the warranties
// of merchantability, fitness for a particular purpose and
// noninfringement. In no event shall the authors or copyright
// holders be liable for any claim, damages, or other liability,
// whether in an action of contract, tort or otherwise, arising
// from, out of or in connection with the software or the use or
// other dealings in the software.

package peerstate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r5labs/r5peer/internal/indexer"
)

func newTestState(t *testing.T) (*State, *fakeClock) {
	t.Helper()
	fc := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := New("http://self:8000", t.TempDir())
	s.now = fc.now
	return s, fc
}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

// Invariant 1: every PeerURL is in exactly one of {healthy, failed,
// absent}; self is never absent or failed.
func TestInvariantHealthPartition(t *testing.T) {
	s, clock := newTestState(t)
	rng := rand.New(rand.NewSource(1))
	urls := []string{"http://a:1", "http://b:1", "http://c:1"}

	for i := 0; i < 500; i++ {
		url := urls[rng.Intn(len(urls))]
		switch rng.Intn(4) {
		case 0:
			s.RegisterPeer(url)
		case 1:
			s.MarkHealthy(url)
		case 2:
			s.MarkFailed(url)
		case 3:
			s.Prune(time.Duration(rng.Intn(400)) * time.Second)
		}
		clock.advance(time.Second)

		s.mu.Lock()
		for _, u := range urls {
			if n, ok := s.neighbours[u]; ok {
				assert.Contains(t, []Health{Healthy, Failed}, n.health)
			}
		}
		s.mu.Unlock()
	}

	assert.Contains(t, s.ListHealthyPeers(), s.selfURL)
}

// Invariant 2: check_rate_limit admits at most `limit` times in any
// 60s window.
func TestInvariantRateLimitWindow(t *testing.T) {
	s, clock := newTestState(t)
	const limit = 5
	allowed := 0
	for i := 0; i < limit; i++ {
		if s.CheckRateLimit("client-a", Requests, limit) {
			allowed++
		}
	}
	assert.Equal(t, limit, allowed)
	assert.False(t, s.CheckRateLimit("client-a", Requests, limit), "limit+1th call within window must deny")

	clock.advance(61 * time.Second)
	assert.True(t, s.CheckRateLimit("client-a", Requests, limit), "call after window rolls over must allow")
}

// Invariant 3: get_cached_files returns absent whenever the cache is
// older than max_age.
func TestInvariantCacheFreshness(t *testing.T) {
	s, clock := newTestState(t)
	files := []indexer.FileMeta{{Name: "a.txt"}}
	s.CacheFiles("http://peer:1", files)

	got, ok := s.GetCachedFiles("http://peer:1", 10)
	require.True(t, ok)
	assert.Equal(t, files, got)

	clock.advance(11 * time.Second)
	_, ok = s.GetCachedFiles("http://peer:1", 10)
	assert.False(t, ok)
}

// Invariant 4: should_search_again returns true at most once per
// interval-second window per query hash.
func TestInvariantSearchDedup(t *testing.T) {
	s, clock := newTestState(t)
	assert.True(t, s.ShouldSearchAgain("q1", 10))
	assert.False(t, s.ShouldSearchAgain("q1", 10))

	clock.advance(9 * time.Second)
	assert.False(t, s.ShouldSearchAgain("q1", 10))

	clock.advance(2 * time.Second)
	assert.True(t, s.ShouldSearchAgain("q1", 10))
}

func TestShouldSearchAgainDoesNotPoisonLedgerOnShortCircuit(t *testing.T) {
	s, _ := newTestState(t)
	assert.True(t, s.ShouldSearchAgain("q1", 10))

	// A caller that takes the cached branch must not call
	// ShouldSearchAgain at all; simulate a caller that checks but
	// discards the false result without touching the ledger again.
	assert.False(t, s.ShouldSearchAgain("q1", 10))
	assert.Equal(t, int64(1_700_000_000), s.queryLedger["q1"])
}

func TestPrunRemovesStaleNeighboursCacheAndBuckets(t *testing.T) {
	s, clock := newTestState(t)
	s.RegisterPeer("http://stale:1")
	s.CacheFiles("http://stale:1", []indexer.FileMeta{{Name: "x"}})
	s.CheckRateLimit("http://stale:1", Requests, 10)

	clock.advance(400 * time.Second)
	s.Prune(300 * time.Second)

	assert.NotContains(t, s.ListPeers(), "http://stale:1")
	_, ok := s.GetCachedFiles("http://stale:1", 10_000)
	assert.False(t, ok)
	s.mu.Lock()
	_, hasBucket := s.requestBuckets["http://stale:1"]
	s.mu.Unlock()
	assert.False(t, hasBucket)
}

func TestListHealthyPeersAlwaysIncludesSelf(t *testing.T) {
	s, _ := newTestState(t)
	s.RegisterPeer("http://other:1")
	s.MarkFailed("http://other:1")

	healthy := s.ListHealthyPeers()
	assert.Contains(t, healthy, s.selfURL)
	assert.NotContains(t, healthy, "http://other:1")
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s1 := New("http://self:8000", dir)
	s1.RegisterPeer("http://a:1")
	s1.CacheFiles("http://a:1", []indexer.FileMeta{{Name: "x.txt", Size: 3}})

	s2 := New("http://self:8000", dir)
	assert.Contains(t, s2.ListPeers(), "http://a:1")
	files, ok := s2.GetCachedFiles("http://a:1", 10_000)
	require.True(t, ok)
	require.Len(t, files, 1)
	assert.Equal(t, "x.txt", files[0].Name)
}
