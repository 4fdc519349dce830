// Copyright Istio Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent wires the proxy's components together: the state store,
// certificate cache, connection manager, socket factory and the Inbound
// and Outbound listeners, and supervises them as a single unit. This
// mirrors pkg/istio-agent's Agent, which performs the same role for
// Envoy and its control-plane clients.
package agent

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"istio.io/pkg/log"

	"istio.io/ztunnel/pkg/config"
	"istio.io/ztunnel/pkg/connection"
	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/metrics"
	"istio.io/ztunnel/pkg/proxy/inbound"
	"istio.io/ztunnel/pkg/proxy/outbound"
	"istio.io/ztunnel/pkg/socket"
	"istio.io/ztunnel/pkg/state"
)

var scope = log.RegisterScope("agent", "top-level proxy wiring and lifecycle", 0)

// Options carries the external collaborators spec.md §1 keeps out of the
// core proxy: a StateStore implementation (fed by whatever xDS or file
// source the deployment uses) and a CertManager implementation (the
// actual CA client). Both are narrow interfaces; pkg/agent only
// constructs the proxy machinery around them.
type Options struct {
	Config  config.Config
	Store   state.Store
	Certs   identity.Manager
	Metrics prometheus.Registerer
}

// Agent owns one Inbound and one Outbound listener plus the shared
// connection manager and certificate cache backing both, and supervises
// them with an errgroup the way envoy.Agent supervises the Envoy child
// process.
type Agent struct {
	cfg config.Config

	store state.Store
	certs *identity.CertCache
	sink  *metrics.Sink
	sf    *socket.Factory
	conns *connection.Manager

	inbound  *inbound.Inbound
	outbound *outbound.Outbound
}

// New constructs the proxy machinery but does not yet bind listeners or
// start any goroutine; call Run to do that.
func New(opts Options) (*Agent, error) {
	cfg := opts.Config
	if opts.Store == nil {
		return nil, fmt.Errorf("agent: Options.Store is required")
	}
	if opts.Certs == nil {
		return nil, fmt.Errorf("agent: Options.Certs is required")
	}
	reg := opts.Metrics
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	certs, err := identity.NewCertCache(opts.Certs, cfg.CertCacheSize, cfg.CertCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("agent: building certificate cache: %w", err)
	}

	return &Agent{
		cfg:   cfg,
		store: opts.Store,
		certs: certs,
		sink:  metrics.NewSink(reg),
		sf:    socket.New(),
		conns: connection.New(),
	}, nil
}

// Run binds the inbound and outbound listeners and starts them, together
// with the connection manager's policy watcher, in background goroutines
// that run until ctx is canceled or one of them exits with an error. Run
// itself returns once they are started, with a function that blocks until
// all of them have stopped, matching pkg/istio-agent's Agent.Run(ctx)
// (func(), error) shape.
func (a *Agent) Run(ctx context.Context) (func(), error) {
	in, err := inbound.New(ctx, a.cfg, a.certs, a.store, a.sf, a.conns, a.sink)
	if err != nil {
		return nil, fmt.Errorf("agent: starting inbound listener: %w", err)
	}
	a.inbound = in

	out, err := outbound.New(ctx, a.cfg, a.store, a.sf, a.certs, a.sink)
	if err != nil {
		return nil, fmt.Errorf("agent: starting outbound listener: %w", err)
	}
	a.outbound = out

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.inbound.Run(gctx)
	})
	g.Go(func() error {
		return a.outbound.Run(gctx)
	})
	connection.RunPolicyWatcher(g, gctx, a.conns, a.store.SubscribeUpdates(), func(c connection.Connection) bool {
		return inbound.CheckAdmission(a.store, c)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Wait(); err != nil {
			scope.Errorf("component exited: %v", err)
		}
	}()

	return func() { <-done }, nil
}

// Check reports whether the agent's components are ready to serve
// traffic, matching pkg/istio-agent's Agent.Check used by the readiness
// probe.
func (a *Agent) Check() error {
	if a.inbound == nil || a.outbound == nil {
		return fmt.Errorf("agent: not yet started")
	}
	return nil
}

// Close logs the agent's shutdown and releases nothing itself; pooled
// outbound connections are closed by the pool when Run's ctx is canceled.
func (a *Agent) Close() {
	scope.Info("agent shutting down")
}
