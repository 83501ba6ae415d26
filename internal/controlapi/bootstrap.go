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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"
)

type bootstrapResponse struct {
	OK         bool     `json:"ok"`
	Peer       string   `json:"peer"`
	Registered []string `json:"registered"`
	Failed     []string `json:"failed"`
	KnownPeers []string `json:"known_peers"`
}

// handleBootstrap registers with each configured friend, classifying
// each as registered or failed based on a synchronous probe; self is
// always registered and marked healthy. Never fails fatally.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp := s.Bootstrap(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

// Bootstrap runs the friend-registration sequence described in spec
// §4.4; it is exported so internal/peernode can invoke it directly at
// process startup without a loopback HTTP round-trip.
func (s *Server) Bootstrap(ctx context.Context) bootstrapResponse {
	resp := bootstrapResponse{OK: true, Peer: s.cfg.Name}

	for _, friend := range []string{s.cfg.FriendPrimary, s.cfg.FriendSecond} {
		if friend == "" {
			continue
		}
		s.registerWithFriend(ctx, friend)
		s.state.RegisterPeer(friend)
		if s.reconciler.ProbeNow(ctx, friend) {
			s.state.MarkHealthy(friend)
			resp.Registered = append(resp.Registered, friend)
		} else {
			s.state.MarkFailed(friend)
			resp.Failed = append(resp.Failed, friend)
		}
	}

	s.state.RegisterPeer(s.cfg.SelfURL)
	s.state.MarkHealthy(s.cfg.SelfURL)

	resp.KnownPeers = s.state.ListPeers()
	return resp
}

func (s *Server) registerWithFriend(ctx context.Context, friend string) {
	body, err := json.Marshal(registerPayload{URL: s.cfg.SelfURL})
	if err != nil {
		s.log.Warn("failed to marshal bootstrap payload", "friend", friend, "err", err)
		return
	}
	reqCtx, cancel := context.WithTimeout(ctx, bootstrapRPCTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, fmt.Sprintf("%s/register", friend), bytes.NewReader(body))
	if err != nil {
		s.log.Warn("failed to build bootstrap request", "friend", friend, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.outbound.Do(req)
	if err != nil {
		s.log.Warn("bootstrap register failed", "friend", friend, "err", err)
		return
	}
	defer resp.Body.Close()
}
