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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"github.com/r5labs/r5peer/internal/indexer"
	"github.com/r5labs/r5peer/internal/metrics"
	"github.com/r5labs/r5peer/log"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response body", "err", err)
	}
}

func writeBadRequest(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"detail": detail})
}

// handleHealth always returns 200 if the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"peer":   s.cfg.Name,
		"url":    s.cfg.SelfURL,
		"stats":  s.state.Stats(),
	})
}

// handleMetrics exports the metrics sink's pull-style snapshot.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.sink == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", metrics.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(s.sink.Export())
}

type registerPayload struct {
	URL string `json:"url"`
}

// handleRegister registers the caller, probes it synchronously, and
// returns the healthy-peer list. A probe failure sets the entry to
// failed but the call still returns 200.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var payload registerPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.URL == "" {
		writeBadRequest(w, "missing required field \"url\"")
		return
	}

	s.state.RegisterPeer(payload.URL)
	if s.reconciler.ProbeNow(r.Context(), payload.URL) {
		s.state.MarkHealthy(payload.URL)
	} else {
		s.state.MarkFailed(payload.URL)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":    true,
		"peers": s.state.ListHealthyPeers(),
	})
}

// handlePeers returns both the healthy and full peer sets.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"peers":     s.state.ListHealthyPeers(),
		"all_peers": s.state.ListPeers(),
		"stats":     s.state.Stats(),
	})
}

// fileView is a FileMeta enriched with the canonical control-URL and
// the peer's stream-URL.
type fileView struct {
	indexer.FileMeta
	ControlURL string `json:"control_url"`
	StreamURL  string `json:"stream_url"`
}

func (s *Server) localFileViews() []fileView {
	files := indexer.List(s.cfg.SharedDir)
	views := make([]fileView, 0, len(files))
	for _, f := range files {
		views = append(views, fileView{
			FileMeta:   f,
			ControlURL: fmt.Sprintf("%s/files/%s", s.cfg.SelfURL, f.Name),
			StreamURL:  fmt.Sprintf("%s://%s:%d", s.cfg.StreamScheme, s.cfg.IP, s.cfg.GRPCPort),
		})
	}
	return views
}

// handleFiles returns the local file index enriched with control and
// stream URLs.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	_ = r.URL.Query().Get("ttl") // forwarded by callers per spec §9's TTL open question; intentionally unused here
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"peer":  s.cfg.Name,
		"base":  s.cfg.SelfURL,
		"files": s.localFileViews(),
	})
}

// handleStatus is the verbose operator view: config echo, stats, and
// both peer lists, enriched with host-level gauges.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body := map[string]interface{}{
		"peer": map[string]interface{}{
			"name":           s.cfg.Name,
			"self_url":       s.cfg.SelfURL,
			"rest_port":      s.cfg.RestPort,
			"grpc_port":      s.cfg.GRPCPort,
			"shared_dir":     s.cfg.SharedDir,
			"friend_primary": s.cfg.FriendPrimary,
			"friend_second":  s.cfg.FriendSecond,
			"search_ttl":     s.cfg.SearchTTL,
			"max_fanout":     s.cfg.MaxFanout,
		},
		"stats":     s.state.Stats(),
		"peers":     s.state.ListHealthyPeers(),
		"all_peers": s.state.ListPeers(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["host_memory_used_percent"] = vm.UsedPercent
	}
	if info, err := host.Info(); err == nil {
		body["host_uptime_seconds"] = info.Uptime
	}
	writeJSON(w, http.StatusOK, body)
}
