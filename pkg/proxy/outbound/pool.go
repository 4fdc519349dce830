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
	"net/netip"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"istio.io/ztunnel/pkg/identity"
)

// poolKey identifies one pooled overlay connection: the gateway it
// reaches and the identity it was established as (spec.md §4.4
// "Connection reuse").
type poolKey struct {
	gateway  netip.AddrPort
	identity identity.Identity
}

type poolEntry struct {
	transport *http2.Transport
	lastUsed  time.Time
}

// Pool amortizes the overlay handshake across flows sharing a gateway
// and source identity, resolving spec.md §9's "connection pooling for
// outbound overlay" open question in favor of implementing it: each
// entry is one long-lived *http2.Transport, which multiplexes every
// CONNECT as a new stream on its single underlying connection and
// reconnects lazily on next use if the peer drops it.
type Pool struct {
	mu          sync.Mutex
	entries     map[poolKey]*poolEntry
	idleTimeout time.Duration
	dial        func(ctx context.Context, gateway netip.AddrPort, id identity.Identity) (*http2.Transport, error)
}

// NewPool constructs a Pool whose entries are created lazily with dial
// and evicted after idleTimeout of disuse.
func NewPool(idleTimeout time.Duration, dial func(ctx context.Context, gateway netip.AddrPort, id identity.Identity) (*http2.Transport, error)) *Pool {
	return &Pool{
		entries:     make(map[poolKey]*poolEntry),
		idleTimeout: idleTimeout,
		dial:        dial,
	}
}

// Get returns the pooled transport for (gateway, id), dialing one if
// none exists yet.
func (p *Pool) Get(ctx context.Context, gateway netip.AddrPort, id identity.Identity) (*http2.Transport, error) {
	key := poolKey{gateway: gateway, identity: id}

	p.mu.Lock()
	if e, ok := p.entries[key]; ok {
		e.lastUsed = time.Now()
		t := e.transport
		p.mu.Unlock()
		return t, nil
	}
	p.mu.Unlock()

	t, err := p.dial(ctx, gateway, id)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[key]; ok {
		// lost the race with a concurrent dial; keep the existing entry
		// and close the one we just made.
		t.CloseIdleConnections()
		e.lastUsed = time.Now()
		return e.transport, nil
	}
	p.entries[key] = &poolEntry{transport: t, lastUsed: time.Now()}
	return t, nil
}

// Evict drops the pooled entry for (gateway, id), if any, and closes its
// transport. Callers use this when a RoundTrip on the entry fails: an
// HTTP/2 transport that has seen a GOAWAY or a dead connection will keep
// failing every subsequent stream, so it must be removed immediately
// rather than left for the next idle sweep (spec.md §4.4 "Connection
// reuse").
func (p *Pool) Evict(gateway netip.AddrPort, id identity.Identity) {
	key := poolKey{gateway: gateway, identity: id}
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()
	if ok {
		e.transport.CloseIdleConnections()
	}
}

// Run evicts idle entries until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			for k, e := range p.entries {
				e.transport.CloseIdleConnections()
				delete(p.entries, k)
			}
			p.mu.Unlock()
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for k, e := range p.entries {
		if now.Sub(e.lastUsed) > p.idleTimeout {
			e.transport.CloseIdleConnections()
			delete(p.entries, k)
		}
	}
}
