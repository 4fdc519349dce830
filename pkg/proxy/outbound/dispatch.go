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
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"

	"golang.org/x/net/http2"

	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/metrics"
	"istio.io/ztunnel/pkg/proxy"
)

// dialTransport builds a fresh *http2.Transport to gateway, optionally
// over mTLS presenting id's certificate, matching the overlay handshake
// parameters from config (spec.md §4.4 "Open a TCP socket to gateway,
// optionally wrap it in the overlay's mTLS").
func (o *Outbound) dialTransport(ctx context.Context, gateway netip.AddrPort, id identity.Identity) (*http2.Transport, error) {
	t := &http2.Transport{
		MaxReadFrameSize: o.cfg.FrameSize,
	}
	if o.cfg.TLS {
		cert, err := o.certs.FetchCertificate(id)
		if err != nil {
			return nil, proxy.CertificateLookupError(gateway.String())
		}
		tlsCfg, err := cert.MTLSConnectorConfig()
		if err != nil {
			return nil, proxy.TLSError(err)
		}
		t.DialTLSContext = func(dialCtx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			raw, err := o.socket.Dial(dialCtx, "tcp", gateway.String(), nil)
			if err != nil {
				return nil, err
			}
			tlsConn := tls.Client(raw, tlsCfg)
			if err := tlsConn.HandshakeContext(dialCtx); err != nil {
				_ = raw.Close()
				return nil, err
			}
			return tlsConn, nil
		}
	} else {
		t.AllowHTTP = true
		t.DialTLSContext = func(dialCtx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return o.socket.Dial(dialCtx, "tcp", gateway.String(), nil)
		}
	}
	return t, nil
}

// dispatchOverlay originates an overlay CONNECT to plan.Gateway with
// authority plan.Destination, and on a 2xx response bidirectionally
// copies between the intercepted client stream and the tunnel body
// (spec.md §4.4 "Overlay").
func (o *Outbound) dispatchOverlay(ctx context.Context, client net.Conn, plan Plan) error {
	var transport *http2.Transport
	var err error
	if o.cfg.DisablePooling {
		transport, err = o.dialTransport(ctx, plan.Gateway, plan.SourceIdentity)
	} else {
		transport, err = o.pool.Get(ctx, plan.Gateway, plan.SourceIdentity)
	}
	if err != nil {
		return err
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Scheme: "https", Host: plan.Destination.String()},
		Host:   plan.Destination.String(),
		Header: make(http.Header),
		Proto:  "HTTP/2.0",
	}
	resp, err := transport.RoundTrip(req)
	if err != nil {
		if o.cfg.DisablePooling {
			transport.CloseIdleConnections()
		} else {
			o.pool.Evict(plan.Gateway, plan.SourceIdentity)
		}
		return proxy.HTTPHandshakeError(err)
	}
	if resp.StatusCode/100 != 2 {
		_ = resp.Body.Close()
		return proxy.UpgradeFailedError(nil)
	}
	defer resp.Body.Close()

	tunnel, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		return proxy.UpgradeFailedError(nil)
	}

	var sent, received int64
	err = proxy.Relay(ctx, client, tunnel, func(s, r int64) { sent, received = s, r })
	o.sink.RecordBytes(o.labels(plan), sent, received)
	if o.cfg.DisablePooling {
		transport.CloseIdleConnections()
	}
	return err
}

// dispatchTCP opens a plain TCP socket to plan.Gateway and bidirectionally
// copies to client, propagating half-close in each direction (spec.md
// §4.4 "TCP passthrough").
func (o *Outbound) dispatchTCP(ctx context.Context, client net.Conn, plan Plan) error {
	upstream, err := o.socket.Dial(ctx, "tcp", plan.Gateway.String(), nil)
	if err != nil {
		return err
	}
	defer upstream.Close()

	var sent, received int64
	err = proxy.Relay(ctx, client, upstream, func(s, r int64) { sent, received = s, r })
	o.sink.RecordBytes(o.labels(plan), sent, received)
	return err
}

func (o *Outbound) labels(plan Plan) metrics.Labels {
	return metrics.Labels{
		Reporter:       metrics.ReporterSource,
		SecurityPolicy: securityPolicy(plan),
	}
}

func securityPolicy(plan Plan) metrics.SecurityPolicy {
	if plan.Protocol == ProtocolOverlay {
		return metrics.SecurityMutualTLS
	}
	return metrics.SecurityNone
}
