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

package state

import (
	"net"
	"sync"

	"github.com/yl2chen/cidranger"

	"istio.io/ztunnel/pkg/connection"
)

// MemoryStore is an in-memory Store, used by tests and as the reference
// wiring for local development. Production deployments inject a client
// of the real discovery service instead (spec.md §1).
type MemoryStore struct {
	mu sync.RWMutex

	byIP  map[NetworkAddress]*Workload
	byUID map[string]*Workload

	services map[string]*Service // keyed by namespace/hostname

	// ranger indexes each network's workload IPs as /32 (or /128) entries
	// so "is addr known on network" membership checks (spec.md §3
	// invariant 2) reuse a real CIDR-matching structure instead of a
	// bespoke linear scan, matching the teacher's use of cidranger for
	// network-membership style lookups.
	ranger map[NetworkID]cidranger.Ranger

	rbac func(connection.Connection) bool

	subsMu sync.Mutex
	subs   []chan struct{}
}

// NewMemoryStore returns an empty store that allows every RBAC check by
// default; call SetRBAC to install a policy function.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byIP:     make(map[NetworkAddress]*Workload),
		byUID:    make(map[string]*Workload),
		services: make(map[string]*Service),
		ranger:   make(map[NetworkID]cidranger.Ranger),
		rbac:     func(connection.Connection) bool { return true },
	}
}

type rangerEntry struct {
	ipNet net.IPNet
}

func (r rangerEntry) Network() net.IPNet { return r.ipNet }

// InsertWorkload adds or replaces w, indexed by each of its WorkloadIPs
// and by UID.
func (s *MemoryStore) InsertWorkload(w *Workload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ip := range w.WorkloadIPs {
		na := NetworkAddress{Network: w.Network, Address: ip}
		s.byIP[na] = w
		s.indexNetworkLocked(w.Network, ip.AsSlice())
	}
	s.byUID[w.UID] = w
}

func (s *MemoryStore) indexNetworkLocked(network NetworkID, ip net.IP) {
	r, ok := s.ranger[network]
	if !ok {
		r = cidranger.NewPCTrieRanger()
		s.ranger[network] = r
	}
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	_ = r.Insert(rangerEntry{ipNet: net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}})
}

// InsertService adds or replaces a Service, keyed by namespace/hostname.
func (s *MemoryStore) InsertService(svc *Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.Namespace+"/"+svc.Hostname] = svc
}

// SetRBAC installs the RBAC decision function used by AssertRBAC.
func (s *MemoryStore) SetRBAC(f func(connection.Connection) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rbac = f
}

// IsOnNetwork reports whether addr is within any workload IP registered
// for network, used to check spec.md §3 invariant 2 ("the dst IP of an
// inbound Connection lies on the proxy's own network").
func (s *MemoryStore) IsOnNetwork(network NetworkID, ip net.IP) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ranger[network]
	if !ok {
		return false
	}
	ok2, _ := r.Contains(ip)
	return ok2
}

func (s *MemoryStore) FetchWorkload(addr NetworkAddress) (*Workload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byIP[addr]
	return w, ok
}

func (s *MemoryStore) FetchWorkloadByUID(uid string) (*Workload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byUID[uid]
	return w, ok
}

func (s *MemoryStore) FetchWorkloadServices(addr NetworkAddress) (*Workload, []Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byIP[addr]
	if !ok {
		return nil, nil, false
	}
	var svcs []Service
	for _, svc := range s.services {
		for _, ep := range svc.Endpoints {
			if ep.WorkloadUID == w.UID {
				svcs = append(svcs, *svc)
				break
			}
		}
	}
	return w, svcs, true
}

func (s *MemoryStore) FetchDestination(dest Destination) (*Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if dest.Address != nil {
		if w, ok := s.byIP[*dest.Address]; ok {
			return &Address{Kind: AddressKindWorkload, Workload: w}, true
		}
		return nil, false
	}
	if dest.Hostname != nil {
		if svc, ok := s.services[dest.Hostname.Namespace+"/"+dest.Hostname.Hostname]; ok {
			return &Address{Kind: AddressKindService, Service: svc}, true
		}
	}
	return nil, false
}

// FindWaypointForAddress reports whether waypoint is the registered
// waypoint for the workload living at target. Only workloads are looked
// up; a service VIP at target never matches.
func (s *MemoryStore) FindWaypointForAddress(target, waypoint NetworkAddress) (*GatewayAddress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.byIP[target]
	if !ok {
		return nil, false
	}
	gw := w.Waypoint
	if gw == nil || gw.Address == nil {
		return nil, false
	}
	if *gw.Address == waypoint {
		return gw, true
	}
	return nil, false
}

func (s *MemoryStore) AssertRBAC(conn connection.Connection) bool {
	s.mu.RLock()
	f := s.rbac
	s.mu.RUnlock()
	return f(conn)
}

// SubscribeUpdates returns a fresh channel that receives a value after a
// call to Notify; calls made while a value is still pending coalesce into
// that one value.
func (s *MemoryStore) SubscribeUpdates() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

// Notify signals every subscriber that the store changed, non-blocking:
// a subscriber that hasn't drained its previous notification simply
// coalesces into one pending wakeup.
func (s *MemoryStore) Notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

var _ Store = (*MemoryStore)(nil)
