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

package connection

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"istio.io/pkg/log"
)

var scope = log.RegisterScope("connection", "connection admission tracking and policy revocation", 0)

// Signal is a single-shot close notification. Raising it unblocks any
// goroutine waiting in Signaled.
type Signal struct {
	ch chan struct{}
}

func newSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Signaled returns a channel that closes when the signal fires.
func (s *Signal) Signaled() <-chan struct{} {
	return s.ch
}

func (s *Signal) raise() {
	select {
	case <-s.ch:
		// already raised
	default:
		close(s.ch)
	}
}

// Recheck re-evaluates admission policy for conn, returning true if the
// connection is still admitted. The caller (typically Inbound) supplies
// this as a narrow capability rather than the Manager depending directly
// on the state store, per spec.md §9's "runtime polymorphism" note.
type Recheck func(conn Connection) bool

// Manager is the authoritative set of currently-admitted connections
// (spec.md §4.2). The zero value is not usable; construct with New.
type Manager struct {
	mu    sync.Mutex
	conns map[Connection]*Signal
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{conns: make(map[Connection]*Signal)}
}

// Register idempotently adds conn to the tracked set. Must be called
// before admission is asserted so a concurrent PolicyWatcher pass cannot
// miss the connection (spec.md §4.3 step 4).
func (m *Manager) Register(conn Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[conn]; !ok {
		m.conns[conn] = newSignal()
	}
}

// Track returns a handle to wait on after admission succeeds. A nil
// return means the entry was removed between Register and Track (policy
// revoked admission in the interim); callers MUST treat nil as a denial.
func (m *Manager) Track(conn Connection) *Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[conn]
}

// Release removes conn from the tracked set and raises its close signal,
// waking any goroutine blocked in Track(conn).Signaled(). A second
// Release for the same connection is a no-op.
func (m *Manager) Release(conn Connection) {
	m.mu.Lock()
	sig, ok := m.conns[conn]
	if ok {
		delete(m.conns, conn)
	}
	m.mu.Unlock()
	if ok {
		sig.raise()
	}
}

// Len reports the number of currently-tracked connections, for tests and
// drain bookkeeping.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// snapshot returns the currently tracked connections, guarded only for
// the duration of the copy (spec.md §4.2: "the map is guarded by an
// internal lock held only for the iteration snapshot").
func (m *Manager) snapshot() []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Connection, 0, len(m.conns))
	for c := range m.conns {
		out = append(out, c)
	}
	return out
}

// revoke removes conn and raises its signal iff it is still tracked,
// used by PolicyWatcher once recheck denies a connection.
func (m *Manager) revoke(conn Connection) {
	m.Release(conn)
}

// PolicyWatcher runs until updates is closed or ctx is done. On every
// value received from updates (a state-store change notification), it
// snapshots the tracked connections and re-runs recheck on each; any
// connection that no longer passes has its close signal raised and is
// removed. Per spec.md §4.2's ordering guarantee, every connection
// denied by version V is signalled, synchronously, before this function
// goes on to read version V+1 from updates.
func (m *Manager) PolicyWatcher(ctx context.Context, updates <-chan struct{}, recheck Recheck) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-updates:
			if !ok {
				return nil
			}
			m.reevaluate(recheck)
		}
	}
}

func (m *Manager) reevaluate(recheck Recheck) {
	conns := m.snapshot()
	for _, c := range conns {
		if !recheck(c) {
			scope.Debugf("policy revoked, closing %s", c)
			m.revoke(c)
		}
	}
}

// RunPolicyWatcher is a convenience wrapper that runs PolicyWatcher as one
// of g's goroutines, so g.Wait also waits for it to stop, mirroring the
// teacher's Agent.Run supervision convention. PolicyWatcher itself always
// returns nil, and a panic in recheck is not recovered.
func RunPolicyWatcher(g *errgroup.Group, ctx context.Context, m *Manager, updates <-chan struct{}, recheck Recheck) {
	g.Go(func() error {
		return m.PolicyWatcher(ctx, updates, recheck)
	})
}
