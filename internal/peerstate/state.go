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

// Package peerstate is the single mutable shared resource of a peer
// runtime: the neighbour table, per-client rate buckets, per-peer
// file cache, and the recent-query ledger. Every admission-style
// method is atomic with respect to concurrent callers; no outbound
// I/O ever happens while the lock is held.
package peerstate

import (
	"sync"
	"time"

	"github.com/r5labs/r5peer/internal/indexer"
	"github.com/r5labs/r5peer/log"
)

// Health is the liveness flag of a NeighbourEntry.
type Health int

const (
	Failed Health = iota
	Healthy
)

func (h Health) String() string {
	if h == Healthy {
		return "healthy"
	}
	return "failed"
}

const (
	rateWindow       = 60 * time.Second
	queryLedgerTTL   = 3600 * time.Second
	defaultPruneTTL  = 300 * time.Second
)

type neighbour struct {
	lastSeen int64
	health   Health
}

type cacheEntry struct {
	files     []indexer.FileMeta
	cacheTime int64
}

// State holds every mutable entity owned by one peer process.
type State struct {
	mu      sync.Mutex
	selfURL string
	now     func() time.Time
	log     *log.Logger

	order      []string
	neighbours map[string]*neighbour

	requestBuckets  map[string][]int64
	downloadBuckets map[string][]int64

	fileCache map[string]cacheEntry

	queryLedger map[string]int64

	store *snapshotStore
}

// New constructs a State for the given self-URL, restoring whatever
// persistent snapshot is found at storageDir (a missing or corrupt
// snapshot is equivalent to a fresh, empty state).
func New(selfURL, storageDir string) *State {
	s := &State{
		selfURL:         selfURL,
		now:             time.Now,
		log:             log.NewContext("component", "peerstate"),
		neighbours:      make(map[string]*neighbour),
		requestBuckets:  make(map[string][]int64),
		downloadBuckets: make(map[string][]int64),
		fileCache:       make(map[string]cacheEntry),
		queryLedger:     make(map[string]int64),
		store:           newSnapshotStore(storageDir),
	}
	snap, err := s.store.load()
	if err != nil {
		s.log.Warn("discarding unreadable snapshot, starting fresh", "err", err)
	} else if snap != nil {
		for url, lastSeen := range snap.KnownPeers {
			s.order = append(s.order, url)
			s.neighbours[url] = &neighbour{lastSeen: lastSeen, health: Failed}
		}
		for url, files := range snap.FileCache {
			s.fileCache[url] = cacheEntry{files: files, cacheTime: snap.CacheTimestamps[url]}
		}
	}
	return s
}

func (s *State) nowUnix() int64 { return s.now().Unix() }

func (s *State) insertOrder(url string) {
	if _, ok := s.neighbours[url]; !ok {
		s.order = append(s.order, url)
	}
}

// RegisterPeer records url as seen now, creating a Failed entry the
// first time it is seen, then persists the snapshot.
func (s *State) RegisterPeer(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.neighbours[url]
	if !ok {
		n = &neighbour{health: Failed}
		s.insertOrder(url)
		s.neighbours[url] = n
	}
	n.lastSeen = s.nowUnix()
	s.persistLocked()
}

// MarkHealthy flips url's health flag to Healthy and refreshes
// last_seen. Unknown URLs are created as a side effect, matching the
// invariant that every PeerURL is in exactly one of {healthy,failed}
// once observed.
func (s *State) MarkHealthy(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.neighbours[url]
	if !ok {
		n = &neighbour{}
		s.insertOrder(url)
		s.neighbours[url] = n
	}
	n.health = Healthy
	n.lastSeen = s.nowUnix()
}

// MarkFailed flips url's health flag to Failed.
func (s *State) MarkFailed(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.neighbours[url]
	if !ok {
		n = &neighbour{lastSeen: s.nowUnix()}
		s.insertOrder(url)
		s.neighbours[url] = n
	}
	n.health = Failed
}

// ListPeers returns every known PeerURL plus self, self first unless
// already present.
func (s *State) ListPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPeersLocked()
}

func (s *State) listPeersLocked() []string {
	out := make([]string, 0, len(s.order)+1)
	haveSelf := false
	for _, url := range s.order {
		if url == s.selfURL {
			haveSelf = true
		}
		out = append(out, url)
	}
	if !haveSelf {
		out = append([]string{s.selfURL}, out...)
	}
	return out
}

// ListHealthyPeers returns the subset of ListPeers whose health is
// Healthy; self is always included regardless of its own entry.
func (s *State) ListHealthyPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.listPeersLocked()
	out := make([]string, 0, len(all))
	for _, url := range all {
		if url == s.selfURL {
			out = append(out, url)
			continue
		}
		if n := s.neighbours[url]; n != nil && n.health == Healthy {
			out = append(out, url)
		}
	}
	return out
}

// Kind enumerates the two rate-bucket families sharing the same
// sliding-window admission algorithm.
type Kind int

const (
	Requests Kind = iota
	Downloads
)

func (s *State) bucketMap(kind Kind) map[string][]int64 {
	if kind == Requests {
		return s.requestBuckets
	}
	return s.downloadBuckets
}

// CheckRateLimit drops timestamps older than the 60s window, and
// either denies (count already >= limit) or admits (appends now and
// allows).
func (s *State) CheckRateLimit(client string, kind Kind, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	buckets := s.bucketMap(kind)
	now := s.nowUnix()
	cutoff := now - int64(rateWindow/time.Second)
	kept := buckets[client][:0]
	for _, t := range buckets[client] {
		if t > cutoff {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		buckets[client] = kept
		return false
	}
	buckets[client] = append(kept, now)
	return true
}

// CacheFiles replaces the cached file list for peer wholesale.
func (s *State) CacheFiles(peer string, files []indexer.FileMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileCache[peer] = cacheEntry{files: files, cacheTime: s.nowUnix()}
	s.persistLocked()
}

// GetCachedFiles returns the cached list for peer and true iff it
// exists and is no older than maxAge seconds.
func (s *State) GetCachedFiles(peer string, maxAge int64) ([]indexer.FileMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.fileCache[peer]
	if !ok {
		return nil, false
	}
	if s.nowUnix()-entry.cacheTime > maxAge {
		return nil, false
	}
	return entry.files, true
}

// ShouldSearchAgain reports whether min_interval seconds have passed
// since query_hash was last seen; it updates the ledger only when it
// returns true, so short-circuited (cached) callers never poison it.
func (s *State) ShouldSearchAgain(queryHash string, minInterval int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.queryLedger[queryHash]
	now := s.nowUnix()
	if now-last < minInterval {
		return false
	}
	s.queryLedger[queryHash] = now
	return true
}

// Prune drops neighbours unseen for more than ttl seconds, along with
// their cached files and rate buckets, drops query-ledger entries
// older than one hour, and persists the result.
func (s *State) Prune(ttl time.Duration) {
	if ttl <= 0 {
		ttl = defaultPruneTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowUnix()
	ttlSec := int64(ttl / time.Second)

	var kept []string
	for _, url := range s.order {
		n := s.neighbours[url]
		if n != nil && now-n.lastSeen > ttlSec {
			delete(s.neighbours, url)
			delete(s.fileCache, url)
			delete(s.requestBuckets, url)
			delete(s.downloadBuckets, url)
			continue
		}
		kept = append(kept, url)
	}
	s.order = kept

	for client, ts := range s.requestBuckets {
		s.requestBuckets[client] = pruneOld(ts, now)
		if len(s.requestBuckets[client]) == 0 {
			delete(s.requestBuckets, client)
		}
	}
	for client, ts := range s.downloadBuckets {
		s.downloadBuckets[client] = pruneOld(ts, now)
		if len(s.downloadBuckets[client]) == 0 {
			delete(s.downloadBuckets, client)
		}
	}
	for hash, ts := range s.queryLedger {
		if now-ts >= int64(queryLedgerTTL/time.Second) {
			delete(s.queryLedger, hash)
		}
	}
	s.persistLocked()
}

func pruneOld(ts []int64, now int64) []int64 {
	cutoff := now - int64(rateWindow/time.Second)
	out := ts[:0]
	for _, t := range ts {
		if t > cutoff {
			out = append(out, t)
		}
	}
	return out
}

// Stats is the point-in-time snapshot returned by Stats().
type Stats struct {
	TotalPeers             int `json:"total_peers"`
	HealthyPeers           int `json:"healthy_peers"`
	FailedPeers            int `json:"failed_peers"`
	CachedFileLists        int `json:"cached_file_lists"`
	ActiveRateLimitedPeers int `json:"active_rate_limited_peers"`
}

// Stats reports point-in-time counts of neighbours, healthy/failed
// sets, cached peer-lists and rate-limited clients.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var healthy, failed int
	for _, n := range s.neighbours {
		if n.health == Healthy {
			healthy++
		} else {
			failed++
		}
	}
	return Stats{
		TotalPeers:             len(s.neighbours),
		HealthyPeers:           healthy,
		FailedPeers:            failed,
		CachedFileLists:        len(s.fileCache),
		ActiveRateLimitedPeers: len(s.requestBuckets) + len(s.downloadBuckets),
	}
}

// SelfURL returns the configured self identity.
func (s *State) SelfURL() string { return s.selfURL }

// NonSelfNeighbours returns a stable-ordered snapshot of every known
// neighbour other than self, for the health reconciler's tick.
func (s *State) NonSelfNeighbours() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, url := range s.order {
		if url != s.selfURL {
			out = append(out, url)
		}
	}
	return out
}
