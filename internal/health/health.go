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

// Package health runs the periodic liveness-probing background
// activity that flips health flags in peerstate.State.
package health

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/r5labs/r5peer/internal/peerstate"
	"github.com/r5labs/r5peer/log"
)

const (
	tickProbeTimeout    = 10 * time.Second
	immediateProbeTimeout = 5 * time.Second
)

// Reconciler owns the single periodic health-probing activity.
type Reconciler struct {
	state    *peerstate.State
	interval time.Duration
	client   *http.Client
	log      *log.Logger
}

// New constructs a Reconciler that probes neighbours known to state
// every interval.
func New(state *peerstate.State, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		state:    state,
		interval: interval,
		client:   &http.Client{},
		log:      log.NewContext("component", "health"),
	}
}

// Run blocks, ticking every interval until ctx is cancelled. A tick
// whose work exceeds the interval does not stack — the next tick
// starts only after the previous one finishes, plus the interval.
func (r *Reconciler) Run(ctx context.Context) {
	t := time.NewTimer(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.tick(ctx)
			t.Reset(r.interval)
		}
	}
}

// tick snapshots the non-self neighbour list under the state lock,
// releases it, probes every neighbour in parallel, then reacquires
// the lock (via MarkHealthy/MarkFailed/Prune) to apply results.
func (r *Reconciler) tick(ctx context.Context) {
	neighbours := r.state.NonSelfNeighbours()
	if len(neighbours) == 0 {
		r.state.Prune(0)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, url := range neighbours {
		url := url
		g.Go(func() error {
			if r.probe(gctx, url, tickProbeTimeout) {
				r.state.MarkHealthy(url)
			} else {
				r.state.MarkFailed(url)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Warn("health tick encountered an error", "err", err)
	}
	r.state.Prune(0)
}

// ProbeNow synchronously probes url with a 5s timeout, used by
// registration paths to decide the initial health flag.
func (r *Reconciler) ProbeNow(ctx context.Context, url string) bool {
	return r.probe(ctx, url, immediateProbeTimeout)
}

func (r *Reconciler) probe(ctx context.Context, url string, timeout time.Duration) bool {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url+"/health", nil)
	if err != nil {
		r.log.Warn("failed to build probe request", "url", url, "err", err)
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
