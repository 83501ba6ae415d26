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

// Package controlapi is the stateless request/response control
// surface (C5): register, list peers, list files, federated search,
// bootstrap, status, health, metrics.
package controlapi

import (
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/r5labs/r5peer/internal/health"
	"github.com/r5labs/r5peer/internal/metrics"
	"github.com/r5labs/r5peer/internal/peerconfig"
	"github.com/r5labs/r5peer/internal/peerstate"
	"github.com/r5labs/r5peer/internal/rpcmid"
	"github.com/r5labs/r5peer/log"
)

const (
	searchRPCTimeout   = 10 * time.Second
	bootstrapRPCTimeout = 5 * time.Second
)

// Server is the HTTP control surface. It shares peerstate.State and
// metrics.Sink with the transfer surface and the health reconciler.
type Server struct {
	cfg         *peerconfig.Config
	state       *peerstate.State
	sink        *metrics.Sink
	reconciler  *health.Reconciler
	mid         *rpcmid.Chain
	outbound    *http.Client
	log         *log.Logger
	startedAt   time.Time
}

// New constructs a control-surface Server.
func New(cfg *peerconfig.Config, state *peerstate.State, sink *metrics.Sink, reconciler *health.Reconciler) *Server {
	return &Server{
		cfg:        cfg,
		state:      state,
		sink:       sink,
		reconciler: reconciler,
		mid:        rpcmid.New(state, sink, cfg.RateLimit.RequestsPerMinute),
		outbound:   &http.Client{},
		log:        log.NewContext("component", "controlapi"),
		startedAt:  time.Now(),
	}
}

// Handler builds the full routed, CORS-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	r := httprouter.New()

	r.GET("/health", s.mid.Unlimited("/health", s.handleHealth))
	r.GET("/metrics", s.mid.Unlimited("/metrics", s.handleMetrics))
	r.POST("/register", s.mid.RateLimited("/register", s.handleRegister))
	r.GET("/peers", s.mid.RateLimited("/peers", s.handlePeers))
	r.GET("/files", s.mid.RateLimited("/files", s.handleFiles))
	r.GET("/search", s.mid.RateLimited("/search", s.handleSearch))
	r.POST("/bootstrap", s.mid.RateLimited("/bootstrap", s.handleBootstrap))
	r.GET("/status", s.mid.RateLimited("/status", s.handleStatus))

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
