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

package inbound

import (
	"crypto/tls"
	"net"

	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/proxy"
	"istio.io/ztunnel/pkg/state"
)

// certProvider implements spec.md §4.3's InboundCertProvider: before the
// TLS handshake, recover the original destination IP (the TPROXY-bound
// listener's accepted connections report it as their own local address),
// look up the owning workload, and ask the cert manager for a
// certificate matching that workload's identity.
type certProvider struct {
	certs   *identity.CertCache
	state   state.Store
	network state.NetworkID
}

// getConfigForClient returns a tls.Config.GetConfigForClient callback
// bound to raw, the accepted TCP connection, so the handshake can be
// aborted with CertificateLookup before any bytes are sent to the peer.
// It returns both the destination workload's certificate and its trust
// roots, since the peer may present a certificate from any trust domain
// this workload accepts.
func (p *certProvider) getConfigForClient(raw net.Conn) func(*tls.ClientHelloInfo) (*tls.Config, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
		local, ok := raw.LocalAddr().(*net.TCPAddr)
		if !ok {
			return nil, proxy.CertificateLookupError(raw.LocalAddr().String())
		}
		addr, ok := netipAddrFromIP(local.IP)
		if !ok {
			return nil, proxy.CertificateLookupError(local.String())
		}
		w, ok := p.state.FetchWorkload(state.NetworkAddress{Network: p.network, Address: addr})
		if !ok {
			return nil, proxy.CertificateLookupError(local.String())
		}
		cert, err := p.certs.FetchCertificate(w.Identity())
		if err != nil {
			return nil, proxy.CertificateLookupError(local.String())
		}
		return cert.MTLSAcceptorConfig()
	}
}
