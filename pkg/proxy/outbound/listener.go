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

package outbound

import (
	"context"
	"net"
	"sync"

	"istio.io/pkg/log"

	"istio.io/ztunnel/pkg/config"
	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/metrics"
	"istio.io/ztunnel/pkg/socket"
	"istio.io/ztunnel/pkg/state"
)

var scope = log.RegisterScope("outbound", "outbound interception and overlay origination", 0)

// Outbound intercepts traffic from local workloads and dispatches it per
// the routing Plan computed for each accepted flow (spec.md §4.4).
type Outbound struct {
	cfg     config.Config
	ln      net.Listener
	state   state.Store
	socket  *socket.Factory
	certs   *identity.CertCache
	sink    *metrics.Sink
	network state.NetworkID
	pool    *Pool

	wg sync.WaitGroup
}

// New binds the outbound interception listener.
func New(ctx context.Context, cfg config.Config, store state.Store, sf *socket.Factory, certs *identity.CertCache, sink *metrics.Sink) (*Outbound, error) {
	ln, err := sf.Bind(ctx, cfg.OutboundAddr, true)
	if err != nil {
		return nil, err
	}
	o := &Outbound{
		cfg:     cfg,
		ln:      ln,
		state:   store,
		socket:  sf,
		certs:   certs,
		sink:    sink,
		network: state.NetworkID(cfg.Network),
	}
	if !cfg.DisablePooling {
		o.pool = NewPool(cfg.PoolIdleTimeout, o.dialTransport)
		go o.pool.Run(ctx)
	}
	return o, nil
}

// Run accepts intercepted connections until ctx is canceled.
func (o *Outbound) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		scope.Info("draining outbound connections")
		_ = o.ln.Close()
	}()

	for {
		raw, err := o.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				o.wg.Wait()
				scope.Info("all outbound connections drained")
				return nil
			default:
				scope.Errorf("accept: %v", err)
				continue
			}
		}
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.serve(ctx, raw)
		}()
	}
}

func (o *Outbound) serve(ctx context.Context, raw net.Conn) {
	defer raw.Close()

	downstream, ok := raw.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return
	}
	// The transparent listener reports the original, pre-redirect
	// destination as its own local address (spec.md §4.1).
	original, ok := raw.LocalAddr().(*net.TCPAddr)
	if !ok {
		return
	}

	plan, err := BuildRequest(o.state, o.cfg, o.network, addrPortFromTCP(downstream), addrPortFromTCP(original))
	if err != nil {
		scope.Warnf("build request %s->%s: %v", downstream, original, err)
		return
	}
	scope.Debugf("proxying %s->%s as %s via %s", downstream, original, plan.RequestType, plan.Gateway)

	switch plan.Protocol {
	case ProtocolOverlay:
		err = o.dispatchOverlay(ctx, raw, plan)
	case ProtocolTCP:
		err = o.dispatchTCP(ctx, raw, plan)
	}
	if err != nil {
		scope.Warnf("outbound proxy %s failed: %v", plan.RequestType, err)
	}
}
