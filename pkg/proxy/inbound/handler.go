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
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"istio.io/ztunnel/pkg/connection"
	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/metrics"
	"istio.io/ztunnel/pkg/proxy"
	"istio.io/ztunnel/pkg/state"
)

// handler serves every HTTP/2 CONNECT stream multiplexed over one
// mTLS-terminated TCP connection (spec.md §4.3 "CONNECT handling").
type handler struct {
	in      *Inbound
	raw     net.Conn
	tlsConn *tls.Conn
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tp := proxy.ExtractTraceParent(r.Header.Get(proxy.TraceparentHeader))

	if r.Method != http.MethodConnect {
		scope.Infof("%s: got %s, want CONNECT", tp, r.Method)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	localTCP, ok := h.raw.LocalAddr().(*net.TCPAddr)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	remoteTCP, ok := h.raw.RemoteAddr().(*net.TCPAddr)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	network := state.NetworkID(h.in.cfg.Network)
	conn := connection.Connection{
		Src:        addrPortFromTCP(remoteTCP),
		DstNetwork: string(network),
		Dst:        addrPortFromTCP(localTCP),
	}
	if cs := h.tlsConn.ConnectionState(); len(cs.PeerCertificates) > 0 {
		if id, err := identity.FromCertificate(cs.PeerCertificates[0]); err == nil {
			conn.SrcIdentity = &id
		}
	}

	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		scope.Infof("%s: sending 400, malformed authority %q", tp, r.Host)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	hbIP, err := netip.ParseAddr(host)
	if err != nil {
		scope.Infof("%s: sending 400, malformed authority host %q", tp, host)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	hbPort, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		scope.Infof("%s: sending 400, malformed authority port %q", tp, portStr)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sandwich := checkSandwich(h.in.state, network, conn.Dst.Addr(), hbIP)
	if !sandwich && hbIP != conn.Dst.Addr() {
		scope.Infof("%s: sending 400, ip mismatch %s != %s", tp, hbIP, conn.Dst.Addr())
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	conn.Dst = netip.AddrPortFrom(conn.Dst.Addr(), uint16(hbPort))
	conn.Authority = netip.AddrPortFrom(hbIP, uint16(hbPort))

	upstream, services, ok := h.in.state.FetchWorkloadServices(state.NetworkAddress{Network: network, Address: conn.Dst.Addr()})
	if !ok {
		scope.Infof("%s %s: sending 404, unknown destination", tp, conn)
		w.WriteHeader(http.StatusNotFound)
		return
	}

	fromWaypoint := checkGatewayAddress(h.in.state, conn, upstream.Waypoint)
	fromGateway := checkGatewayAddress(h.in.state, conn, upstream.NetworkGateway)
	d := decision{upstream: upstream, services: services, fromWaypoint: fromWaypoint, fromGateway: fromGateway, sandwich: sandwich, found: true}

	// Register before RBAC so the policy watcher cannot miss this
	// connection (spec.md §4.3 step 4).
	h.in.conns.Register(conn)

	switch {
	case fromWaypoint:
		scope.Debugf("%s %s: request from waypoint, skipping policy", tp, conn)
	case sandwich:
		scope.Debugf("%s %s: request to sandwiched waypoint, skipping policy", tp, conn)
	}

	if !d.admitted(h.in.state, conn) {
		reason := "RBAC rejected"
		if upstream.Waypoint != nil && !fromWaypoint {
			reason = "bypassed waypoint"
		}
		scope.Infof("%s %s: sending 401, %s", tp, conn, reason)
		h.in.conns.Release(conn)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	sourceIP := conn.Src.Addr()
	if fromWaypoint {
		if fwd, ok := proxy.ForwardedFor(r.Header.Get(proxy.ForwardedHeader)); ok {
			if a, err := netip.ParseAddr(fwd); err == nil {
				sourceIP = a
			}
		}
	}

	dstSvc := proxy.GuessInboundService(conn, services, upstream)
	labels := metrics.Labels{
		Reporter:             metrics.ReporterDestination,
		SecurityPolicy:       metrics.SecurityMutualTLS,
		DestinationCanonical: upstream.CanonicalName,
		DestinationService:   dstSvc,
	}
	if fromGateway {
		scope.Debugf("%s %s: request from gateway", tp, conn)
	} else if src, ok := h.in.state.FetchWorkload(state.NetworkAddress{Network: network, Address: sourceIP}); ok {
		labels.SourceCanonical = src.CanonicalName
	}

	dialAddr := conn.Dst
	var proxyProtocolAddresses *proxyProtocolAddrs
	if upstream.NativeTunnel != nil && upstream.NativeTunnel.Protocol == state.GatewayProtocolPROXY {
		dialAddr = netip.AddrPortFrom(conn.Dst.Addr(), uint16(upstream.NativeTunnel.Port))
		proxyProtocolAddresses = &proxyProtocolAddrs{client: conn.Src, authority: netip.AddrPortFrom(hbIP, uint16(hbPort))}
	}

	var origSrc net.IP
	if h.in.socket.EnableOriginalSource() {
		origSrc = net.IP(sourceIP.AsSlice())
	}

	start := time.Now()
	upstreamConn, err := h.in.socket.Dial(r.Context(), "tcp", dialAddr.String(), origSrc)
	if err != nil {
		scope.Warnf("%s %s: connection to %s failed after %s: %v", tp, conn, dialAddr, time.Since(start), err)
		h.in.conns.Release(conn)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	sig := h.in.conns.Track(conn)
	if sig == nil {
		scope.Errorf("%s %s: policy revoked between register and track", tp, conn)
		_ = upstreamConn.Close()
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	if proxyProtocolAddresses != nil {
		srcIdentity := identity.Identity{}
		if conn.SrcIdentity != nil {
			srcIdentity = *conn.SrcIdentity
		}
		if err := proxy.WriteProxyProtocolV2(upstreamConn, proxyProtocolAddresses.client, proxyProtocolAddresses.authority, srcIdentity); err != nil {
			scope.Warnf("%s %s: write proxy protocol: %v", tp, conn, err)
			_ = upstreamConn.Close()
			h.in.conns.Release(conn)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}

	// All admission steps have run; the 200 is sent exactly when the
	// upstream TCP is established (spec.md §4.3).
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	guard := h.in.sink.IncrementDefer(labels)
	defer guard.Close()
	defer h.in.conns.Release(conn)
	defer upstreamConn.Close()

	client := &duplexStream{r: r.Body, w: &flushWriter{w: w, rc: rc}}
	done := make(chan struct{})
	var relayErr error
	go func() {
		relayErr = proxy.Relay(r.Context(), client, upstreamConn, func(sent, received int64) {
			h.in.sink.RecordBytes(labels, sent, received)
		})
		close(done)
	}()
	select {
	case <-done:
		if relayErr != nil {
			scope.Warnf("%s %s: splice: %v", tp, conn, relayErr)
		}
	case <-sig.Signaled():
		scope.Errorf("%s %s: policy revoked, closing connection", tp, conn)
	}
}

type proxyProtocolAddrs struct {
	client    netip.AddrPort
	authority netip.AddrPort
}

// duplexStream turns an HTTP/2 CONNECT's request body and response
// writer into a single io.ReadWriter for proxy.Relay.
type duplexStream struct {
	r io.Reader
	w io.Writer
}

func (d *duplexStream) Read(p []byte) (int, error)  { return d.r.Read(p) }
func (d *duplexStream) Write(p []byte) (int, error) { return d.w.Write(p) }

// flushWriter flushes after every write, the pattern full-duplex HTTP/2
// CONNECT handling over net/http needs so bytes reach the peer as soon
// as they're produced instead of waiting for a response body to close.
type flushWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (f *flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	if flushErr := f.rc.Flush(); flushErr != nil {
		return n, flushErr
	}
	return n, nil
}
