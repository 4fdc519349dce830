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

// Package inbound is the Inbound component of spec.md §4.3: it
// terminates overlay tunnels from peer proxies and forwards decrypted
// bytes to the local workload.
package inbound

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"golang.org/x/net/http2"

	"istio.io/pkg/log"

	"istio.io/ztunnel/pkg/config"
	"istio.io/ztunnel/pkg/connection"
	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/metrics"
	"istio.io/ztunnel/pkg/socket"
	"istio.io/ztunnel/pkg/state"
)

var scope = log.RegisterScope("inbound", "inbound overlay tunnel termination", 0)

// Inbound serves mTLS+HTTP/2 CONNECT tunnels on the inbound overlay port
// and splices admitted streams to the local workload (spec.md §4.3).
type Inbound struct {
	cfg    config.Config
	ln     net.Listener
	certs  *identity.CertCache
	state  state.Store
	socket *socket.Factory
	conns  *connection.Manager
	sink   *metrics.Sink

	wg sync.WaitGroup
}

// New binds the inbound overlay listener and returns an Inbound ready to
// Run.
func New(ctx context.Context, cfg config.Config, certs *identity.CertCache, store state.Store, sf *socket.Factory, conns *connection.Manager, sink *metrics.Sink) (*Inbound, error) {
	ln, err := sf.Bind(ctx, cfg.InboundAddr, true)
	if err != nil {
		return nil, err
	}
	return &Inbound{
		cfg:    cfg,
		ln:     ln,
		certs:  certs,
		state:  store,
		socket: sf,
		conns:  conns,
		sink:   sink,
	}, nil
}

// Run accepts connections until ctx is canceled, then drains: refuses
// new accepts and waits for in-flight per-connection tasks to finish
// (spec.md §4.3 Drain).
func (in *Inbound) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		scope.Info("draining inbound connections")
		_ = in.ln.Close()
	}()

	for {
		raw, err := in.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				in.wg.Wait()
				scope.Info("all inbound connections drained")
				return nil
			default:
				scope.Errorf("accept: %v", err)
				continue
			}
		}
		in.wg.Add(1)
		go func() {
			defer in.wg.Done()
			in.serveTCP(ctx, raw)
		}()
	}
}

// serveTCP performs the per-connection mTLS handshake and then serves
// HTTP/2 CONNECT streams over it until the peer or the drain closes it.
func (in *Inbound) serveTCP(ctx context.Context, raw net.Conn) {
	provider := &certProvider{certs: in.certs, state: in.state, network: state.NetworkID(in.cfg.Network)}
	tlsConn := tls.Server(raw, &tls.Config{
		GetConfigForClient: provider.getConfigForClient(raw),
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{"h2"},
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		scope.Warnf("tls handshake from %s: %v", raw.RemoteAddr(), err)
		_ = raw.Close()
		return
	}

	h := &handler{in: in, raw: raw, tlsConn: tlsConn}
	srv := &http2.Server{
		MaxReadFrameSize:             in.cfg.FrameSize,
		MaxUploadBufferPerStream:     int32(in.cfg.WindowSize),
		MaxUploadBufferPerConnection: int32(in.cfg.ConnectionWindowSize),
	}
	srv.ServeConn(tlsConn, &http2.ServeConnOpts{
		Handler: h,
	})
}
