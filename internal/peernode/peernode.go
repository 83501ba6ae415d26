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

// Package peernode is the process supervisor (C7): it constructs
// every component, starts the control and transfer surfaces and the
// health reconciler together, runs the startup bootstrap sequence,
// and coordinates graceful shutdown.
package peernode

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/r5labs/r5peer/internal/controlapi"
	"github.com/r5labs/r5peer/internal/health"
	"github.com/r5labs/r5peer/internal/metrics"
	"github.com/r5labs/r5peer/internal/peerconfig"
	"github.com/r5labs/r5peer/internal/peerstate"
	"github.com/r5labs/r5peer/internal/transfer"
	"github.com/r5labs/r5peer/log"
)

const shutdownGrace = 5 * time.Second

// Peer owns every component of one running peer process.
type Peer struct {
	cfg        *peerconfig.Config
	state      *peerstate.State
	sink       *metrics.Sink
	reconciler *health.Reconciler
	control    *controlapi.Server
	xfer       *transfer.Server

	controlHTTP *http.Server
	transferHTTP *http.Server

	log *log.Logger
}

// New wires every component from a loaded configuration.
func New(cfg *peerconfig.Config) *Peer {
	state := peerstate.New(cfg.SelfURL, cfg.StorageDir)
	sink := metrics.New(cfg.Name)
	reconciler := health.New(state, time.Duration(cfg.HealthCheck)*time.Second)
	control := controlapi.New(cfg, state, sink, reconciler)
	xfer := transfer.New(cfg, state, sink)

	return &Peer{
		cfg:        cfg,
		state:      state,
		sink:       sink,
		reconciler: reconciler,
		control:    control,
		xfer:       xfer,
		log:        log.NewContext("component", "peernode"),
	}
}

// Run starts every component, executes the bootstrap sequence, and
// blocks until ctx is cancelled, at which point it shuts both
// surfaces down with a 5s grace period.
func (p *Peer) Run(ctx context.Context) error {
	reconcilerCtx, cancelReconciler := context.WithCancel(ctx)
	defer cancelReconciler()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reconciler.Run(reconcilerCtx)
	}()

	p.controlHTTP = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.cfg.RestPort),
		Handler: p.control.Handler(),
	}
	transferMux := http.NewServeMux()
	transferMux.Handle("/transfer", p.xfer.Handler())
	p.transferHTTP = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.cfg.GRPCPort),
		Handler: transferMux,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- serveOrNil(p.controlHTTP) }()
	go func() { errCh <- serveOrNil(p.transferHTTP) }()

	p.log.Info("bootstrapping against friend peers", "primary", p.cfg.FriendPrimary, "secondary", p.cfg.FriendSecond)
	bootstrapCtx, cancelBootstrap := context.WithTimeout(ctx, 10*time.Second)
	resp := p.control.Bootstrap(bootstrapCtx)
	cancelBootstrap()
	p.log.Info("bootstrap complete", "registered", resp.Registered, "failed", resp.Failed)

	p.log.Info("peer started", "name", p.cfg.Name, "rest_port", p.cfg.RestPort, "grpc_port", p.cfg.GRPCPort)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			p.log.Error("a network surface exited unexpectedly", "err", err)
		}
	}

	return p.shutdown()
}

func serveOrNil(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// shutdown stops accepting new requests on both surfaces and allows
// 5s grace for in-flight streams before returning.
func (p *Peer) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); p.controlHTTP.Shutdown(ctx) }()
	go func() { defer wg.Done(); p.transferHTTP.Shutdown(ctx) }()
	wg.Wait()

	p.log.Info("peer shut down", "name", p.cfg.Name)
	return nil
}

// State exposes the peer's shared state, for tests and operator
// tooling embedding a Peer in-process.
func (p *Peer) State() *peerstate.State { return p.state }

// Sink exposes the peer's metrics sink.
func (p *Peer) Sink() *metrics.Sink { return p.sink }
