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

package controlapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/sync/errgroup"

	"github.com/r5labs/r5peer/internal/indexer"
)

// SearchResult is one peer's contribution to a federated search
// response.
type SearchResult struct {
	Peer   string              `json:"peer"`
	Files  []indexer.FileMeta  `json:"files"`
	Cached bool                `json:"cached,omitempty"`
}

// SearchResponse is the full shape returned by GET /search.
type SearchResponse struct {
	Query      string         `json:"query"`
	TTL        int            `json:"ttl"`
	FanoutUsed int            `json:"fanout_used"`
	Results    []SearchResult `json:"results"`
	Cached     bool           `json:"cached,omitempty"`
}

func queryHash(query string, fanout int) string {
	h := sha256.Sum256([]byte(query + ":" + strconv.Itoa(fanout)))
	return hex.EncodeToString(h[:])
}

func matches(files []indexer.FileMeta, query string) []indexer.FileMeta {
	if query == "" {
		return files
	}
	needle := strings.ToLower(query)
	out := make([]indexer.FileMeta, 0, len(files))
	for _, f := range files {
		if strings.Contains(strings.ToLower(f.Name), needle) {
			out = append(out, f)
		}
	}
	return out
}

const (
	selfCacheMaxAge      = 60
	neighbourCacheMaxAge = 300
	searchDedupInterval  = 10
)

// handleSearch implements the federated substring search described
// in spec §4.4: local match, short-circuit on recent identical
// queries via a self-file cache, then a bounded, cached, parallel
// fan-out to healthy neighbours.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	q := r.URL.Query()
	query := q.Get("query")
	fanoutReq, _ := strconv.Atoi(q.Get("fanout"))
	ttl, _ := strconv.Atoi(q.Get("ttl"))

	hash := queryHash(query, fanoutReq)

	if !s.state.ShouldSearchAgain(hash, searchDedupInterval) {
		if cached, ok := s.state.GetCachedFiles(s.cfg.SelfURL, selfCacheMaxAge); ok {
			resp := SearchResponse{
				Query:      query,
				TTL:        ttl,
				FanoutUsed: 0,
				Cached:     true,
				Results: []SearchResult{{
					Peer:   s.cfg.SelfURL,
					Files:  matches(cached, query),
					Cached: true,
				}},
			}
			s.sink.RecordSearch(len(resp.Results[0].Files))
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	localFiles := indexer.List(s.cfg.SharedDir)
	s.state.CacheFiles(s.cfg.SelfURL, localFiles)

	results := []SearchResult{{Peer: s.cfg.SelfURL, Files: matches(localFiles, query)}}
	seen := mapset.NewSet[string](s.cfg.SelfURL)

	// fanoutUsed is the two-term min(fanout_req, max_fanout) reported
	// back to the caller (spec Invariant 6); it is independent of how
	// many healthy neighbours actually exist to contact.
	fanoutUsed := fanoutReq
	if s.cfg.MaxFanout < fanoutUsed {
		fanoutUsed = s.cfg.MaxFanout
	}
	if fanoutUsed < 0 {
		fanoutUsed = 0
	}

	if ttl > 0 {
		healthy := s.state.ListHealthyPeers()
		var candidates []string
		for _, p := range healthy {
			if p != s.cfg.SelfURL {
				candidates = append(candidates, p)
			}
		}
		contactCount := fanoutUsed
		if len(candidates) < contactCount {
			contactCount = len(candidates)
		}
		chosen := candidates[:contactCount]

		resultsByPeer := make([]*SearchResult, len(chosen))
		g, gctx := errgroup.WithContext(r.Context())
		for i, peer := range chosen {
			i, peer := i, peer
			g.Go(func() error {
				res, ok := s.searchNeighbour(gctx, peer, query, ttl)
				if ok {
					resultsByPeer[i] = res
				}
				return nil
			})
		}
		g.Wait()

		for _, res := range resultsByPeer {
			if res != nil && !seen.Contains(res.Peer) {
				seen.Add(res.Peer)
				results = append(results, *res)
			}
		}
	}

	total := 0
	for _, res := range results {
		total += len(res.Files)
	}
	s.sink.RecordSearch(total)

	writeJSON(w, http.StatusOK, SearchResponse{
		Query:      query,
		TTL:        ttl,
		FanoutUsed: fanoutUsed,
		Results:    results,
	})
}

// searchNeighbour consults the per-peer file cache (max_age 300s)
// before issuing a /files RPC with a 10s timeout. RPC failure or a
// non-200 response marks the neighbour failed and yields no result.
func (s *Server) searchNeighbour(ctx context.Context, peer, query string, ttl int) (*SearchResult, bool) {
	if cached, ok := s.state.GetCachedFiles(peer, neighbourCacheMaxAge); ok {
		return &SearchResult{Peer: peer, Files: matches(cached, query), Cached: true}, true
	}

	reqCtx, cancel := context.WithTimeout(ctx, searchRPCTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/files?ttl=%d", peer, ttl-1)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		s.state.MarkFailed(peer)
		return nil, false
	}
	resp, err := s.outbound.Do(req)
	if err != nil {
		s.state.MarkFailed(peer)
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.state.MarkFailed(peer)
		return nil, false
	}

	var body struct {
		Files []indexer.FileMeta `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.state.MarkFailed(peer)
		return nil, false
	}

	s.state.CacheFiles(peer, body.Files)
	return &SearchResult{Peer: peer, Files: matches(body.Files, query)}, true
}
