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

// Package metrics is the process-wide counters/gauges/histograms
// sink, exported in Prometheus text format. The nine series names and
// label sets are a stable external contract (see spec §6) and must
// not change.
package metrics

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// Sink is created once per peer process with the peer's name baked
// into every series' "peer" label.
type Sink struct {
	peer string

	mu                sync.Mutex
	requestsTotal     map[[2]string]uint64 // {method,endpoint} -> count
	requestDurations  map[[2]string]*histogram
	searchesTotal     uint64
	searchResults     *histogram
	transfersTotal    map[string]uint64 // operation -> count
	transferBytes     map[string]uint64 // operation -> bytes
	knownPeersGauge   float64
	healthyPeersGauge float64
	rateLimitHits     map[string]uint64 // type -> count
}

// New constructs a Sink labelled with the given peer name.
func New(peer string) *Sink {
	return &Sink{
		peer:             peer,
		requestsTotal:    make(map[[2]string]uint64),
		requestDurations: make(map[[2]string]*histogram),
		searchResults:    newHistogram(),
		transfersTotal:   make(map[string]uint64),
		transferBytes:    make(map[string]uint64),
		rateLimitHits:    make(map[string]uint64),
	}
}

// RecordRequest records one completed control-surface request.
func (s *Sink) RecordRequest(method, endpoint string, durationSeconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{method, endpoint}
	s.requestsTotal[key]++
	h, ok := s.requestDurations[key]
	if !ok {
		h = newHistogram()
		s.requestDurations[key] = h
	}
	h.observe(durationSeconds)
}

// RecordSearch records one federated search event and the number of
// aggregate results it produced.
func (s *Sink) RecordSearch(resultCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchesTotal++
	s.searchResults.observe(float64(resultCount))
}

// RecordTransfer records one completed transfer (download or upload)
// of the given byte count.
func (s *Sink) RecordTransfer(operation string, bytesCount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfersTotal[operation]++
	s.transferBytes[operation] += uint64(bytesCount)
}

// UpdatePeerCounts sets the two peer-count gauges.
func (s *Sink) UpdatePeerCounts(total, healthy int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knownPeersGauge = float64(total)
	s.healthyPeersGauge = float64(healthy)
}

// RecordRateLimitHit records one rate-limit denial of the given kind
// ("requests" or "downloads").
func (s *Sink) RecordRateLimitHit(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitHits[kind]++
}

// Export renders the full snapshot in Prometheus text exposition
// format, content-type "text/plain; version=0.0.4".
func (s *Sink) Export() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer

	writeCounter(&buf, "p2p_requests_total", "Total P2P requests", s.requestsTotalLines())
	writeHistogramFamily(&buf, "p2p_request_duration_seconds", "Request duration", s.requestDurationLines())
	writeCounter(&buf, "p2p_searches_total", "Total search requests", []metricLine{{labels: map[string]string{"peer": s.peer}, value: float64(s.searchesTotal)}})
	writeHistogramFamily(&buf, "p2p_search_results_count", "Number of results per search", map[string]*histogram{fmt.Sprintf("peer=%q", s.peer): s.searchResults})
	writeCounter(&buf, "p2p_file_transfers_total", "File transfer operations", s.transfersTotalLines())
	writeCounter(&buf, "p2p_transfer_bytes_total", "Bytes transferred", s.transferBytesLines())
	writeGauge(&buf, "p2p_known_peers_count", "Number of known peers", []metricLine{{labels: map[string]string{"peer": s.peer}, value: s.knownPeersGauge}})
	writeGauge(&buf, "p2p_healthy_peers_count", "Number of healthy peers", []metricLine{{labels: map[string]string{"peer": s.peer}, value: s.healthyPeersGauge}})
	writeCounter(&buf, "p2p_rate_limit_hits_total", "Rate limit violations", s.rateLimitHitLines())

	return buf.Bytes()
}

type metricLine struct {
	labels map[string]string
	value  float64
}

func (s *Sink) requestsTotalLines() []metricLine {
	keys := make([][2]string, 0, len(s.requestsTotal))
	for k := range s.requestsTotal {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i][0]+keys[i][1] < keys[j][0]+keys[j][1] })
	lines := make([]metricLine, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, metricLine{
			labels: map[string]string{"method": k[0], "endpoint": k[1], "peer": s.peer},
			value:  float64(s.requestsTotal[k]),
		})
	}
	return lines
}

func (s *Sink) requestDurationLines() map[string]*histogram {
	out := make(map[string]*histogram, len(s.requestDurations))
	for k, h := range s.requestDurations {
		out[fmt.Sprintf("method=%q,endpoint=%q", k[0], k[1])] = h
	}
	return out
}

func (s *Sink) transfersTotalLines() []metricLine {
	ops := sortedKeys(s.transfersTotal)
	lines := make([]metricLine, 0, len(ops))
	for _, op := range ops {
		lines = append(lines, metricLine{labels: map[string]string{"operation": op, "peer": s.peer}, value: float64(s.transfersTotal[op])})
	}
	return lines
}

func (s *Sink) transferBytesLines() []metricLine {
	ops := sortedKeys(s.transferBytes)
	lines := make([]metricLine, 0, len(ops))
	for _, op := range ops {
		lines = append(lines, metricLine{labels: map[string]string{"operation": op, "peer": s.peer}, value: float64(s.transferBytes[op])})
	}
	return lines
}

func (s *Sink) rateLimitHitLines() []metricLine {
	kinds := sortedKeys(s.rateLimitHits)
	lines := make([]metricLine, 0, len(kinds))
	for _, kind := range kinds {
		lines = append(lines, metricLine{labels: map[string]string{"peer": s.peer, "type": kind}, value: float64(s.rateLimitHits[kind])})
	}
	return lines
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
