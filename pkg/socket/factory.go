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

// Package socket is the SocketFactory collaborator of spec.md §6:
// binding listeners and dialing upstreams with the original-source-IP
// behavior a transparent proxy needs. The iptables-managed redirect
// rules that route traffic here live in tools/ztunnel-redirect, adapted
// from tools/istio-iptables/pkg/dependencies/implementation.go; this
// package is the socket-option counterpart of that tool, reached with
// net.ListenConfig.Control instead of shelling out.
package socket

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"go.uber.org/atomic"

	"istio.io/pkg/log"
)

var scope = log.RegisterScope("socket", "listener and dial socket option handling", 0)

// Factory is the SocketFactory collaborator (spec.md §6): Bind for
// inbound/outbound listeners, Dial for outbound dispatch that must
// appear to originate from the original client address.
type Factory struct {
	// enableOriginalSource records whether IP_TRANSPARENT was granted at
	// bind time; Dial consults it to decide whether binding to the
	// original source address is possible (spec.md §9).
	enableOriginalSource atomic.Bool
}

// New returns a Factory with original-source dialing disabled until a
// Bind call proves the kernel grants transparent mode.
func New() *Factory {
	return &Factory{}
}

// EnableOriginalSource reports whether Dial can freebind to an
// arbitrary source address, set the first time Bind succeeds in
// transparent mode.
func (f *Factory) EnableOriginalSource() bool {
	return f.enableOriginalSource.Load()
}

// Bind opens a TCP listener at addr. When transparent is true it asks
// the kernel for IP_TRANSPARENT (Linux) so the listener can accept
// connections addressed to IPs it doesn't itself own, the property
// iptables TPROXY redirection depends on.
func (f *Factory) Bind(ctx context.Context, addr string, transparent bool) (net.Listener, error) {
	lc := net.ListenConfig{}
	if transparent {
		lc.Control = controlTransparent
	}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	if transparent {
		if err := probeTransparent(ln); err != nil {
			scope.Warnf("transparent bind requested for %s but IP_TRANSPARENT unavailable: %v", addr, err)
		} else {
			f.enableOriginalSource.Store(true)
		}
	}
	return ln, nil
}

// Dial connects to addr. When source is a valid address and the
// factory has transparent mode available, the connection is bound
// (freebound) to source before connecting, so the upstream sees the
// original client's address instead of this proxy's (spec.md §4.4
// DirectLocal / Direct routing, original_source/src/proxy/outbound.rs
// connect()).
func (f *Factory) Dial(ctx context.Context, network, addr string, source net.IP) (net.Conn, error) {
	d := net.Dialer{}
	if source != nil && f.enableOriginalSource.Load() {
		d.Control = controlFreebind
		d.LocalAddr = &net.TCPAddr{IP: source}
	}
	d.Control = chainControl(d.Control, controlNoDelay)
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, addr, err)
	}
	return conn, nil
}

func chainControl(existing func(string, string, syscall.RawConn) error, add func(string, string, syscall.RawConn) error) func(string, string, syscall.RawConn) error {
	if existing == nil {
		return add
	}
	return func(network, address string, c syscall.RawConn) error {
		if err := existing(network, address, c); err != nil {
			return err
		}
		return add(network, address, c)
	}
}
