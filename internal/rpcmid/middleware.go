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

// Package rpcmid holds the HTTP middleware shared by every control
// endpoint: request-id stamping, access logging, metrics recording,
// and the two-tier rate limiter (a global golang.org/x/time/rate
// ceiling in front of peerstate's per-client sliding window).
package rpcmid

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/time/rate"

	"github.com/r5labs/r5peer/internal/metrics"
	"github.com/r5labs/r5peer/internal/peerstate"
	"github.com/r5labs/r5peer/log"
)

// globalCeilingRPS bounds total inbound request throughput regardless
// of per-client accounting, as a defense-in-depth measure layered in
// front of (never a replacement for) the spec's per-client buckets.
const globalCeilingRPS = 1000

// Chain builds rate-limited, metrics-recorded, request-id-stamped
// httprouter handlers.
type Chain struct {
	state   *peerstate.State
	sink    *metrics.Sink
	limit   int
	global  *rate.Limiter
	log     *log.Logger
}

// New constructs a Chain; requestsPerMinute is the per-client ceiling
// applied to every endpoint wrapped with RateLimited.
func New(state *peerstate.State, sink *metrics.Sink, requestsPerMinute int) *Chain {
	return &Chain{
		state:  state,
		sink:   sink,
		limit:  requestsPerMinute,
		global: rate.NewLimiter(rate.Limit(globalCeilingRPS), globalCeilingRPS),
		log:    log.NewContext("component", "controlapi"),
	}
}

func clientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// RateLimited wraps h with request-id/logging/metrics plus the full
// two-tier rate limiter; denial yields HTTP 429.
func (c *Chain) RateLimited(endpoint string, h httprouter.Handle) httprouter.Handle {
	return c.wrap(endpoint, true, h)
}

// Unlimited wraps h with request-id/logging/metrics but skips rate
// limiting entirely — used for /health and /metrics per spec §4.4.
func (c *Chain) Unlimited(endpoint string, h httprouter.Handle) httprouter.Handle {
	return c.wrap(endpoint, false, h)
}

func (c *Chain) wrap(endpoint string, rateLimited bool, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		reqID := uuid.New().String()
		start := time.Now()
		client := clientIdentity(r)

		if rateLimited {
			if !c.global.Allow() {
				c.sink.RecordRateLimitHit("requests")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Rate limit exceeded"})
				return
			}
			if !c.state.CheckRateLimit(client, peerstate.Requests, c.limit) {
				c.sink.RecordRateLimitHit("requests")
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Rate limit exceeded"})
				return
			}
		}

		h(w, r, ps)

		duration := time.Since(start).Seconds()
		c.sink.RecordRequest(r.Method, endpoint, duration)
		c.log.Debug("handled request", "req_id", reqID, "method", r.Method, "endpoint", endpoint, "client", client, "duration", duration)
	}
}
