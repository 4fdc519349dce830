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
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"istio.io/ztunnel/pkg/connection"
)

// newWorkloadUID mints a fresh fixture UID per test case, the way the
// real discovery cache keys workloads by pod UID rather than by name.
func newWorkloadUID() string {
	return uuid.NewString()
}

func TestInsertAndFetchWorkloadByIPAndUID(t *testing.T) {
	s := NewMemoryStore()
	uid := newWorkloadUID()
	ip := netip.MustParseAddr("10.0.0.1")
	w := &Workload{UID: uid, Network: "default", WorkloadIPs: []netip.Addr{ip}}
	s.InsertWorkload(w)

	got, ok := s.FetchWorkload(NetworkAddress{Network: "default", Address: ip})
	require.True(t, ok)
	assert.Equal(t, uid, got.UID)

	byUID, ok := s.FetchWorkloadByUID(uid)
	require.True(t, ok)
	assert.Same(t, w, byUID)
}

func TestIsOnNetworkRespectsNetworkIsolation(t *testing.T) {
	s := NewMemoryStore()
	ip := netip.MustParseAddr("10.0.0.5")
	s.InsertWorkload(&Workload{UID: newWorkloadUID(), Network: "net-a", WorkloadIPs: []netip.Addr{ip}})

	assert.True(t, s.IsOnNetwork("net-a", ip.AsSlice()))
	assert.False(t, s.IsOnNetwork("net-b", ip.AsSlice()))
}

func TestFetchWorkloadServicesJoinsEndpoints(t *testing.T) {
	s := NewMemoryStore()
	uid := newWorkloadUID()
	ip := netip.MustParseAddr("10.0.0.2")
	s.InsertWorkload(&Workload{UID: uid, Network: "default", WorkloadIPs: []netip.Addr{ip}})
	s.InsertService(&Service{
		Namespace: "ns1", Hostname: "svc1",
		Endpoints: map[string]Endpoint{uid: {WorkloadUID: uid}},
	})

	w, svcs, ok := s.FetchWorkloadServices(NetworkAddress{Network: "default", Address: ip})
	require.True(t, ok)
	assert.Equal(t, uid, w.UID)
	require.Len(t, svcs, 1)
	assert.Equal(t, "svc1", svcs[0].Hostname)
}

func TestFetchDestinationByHostname(t *testing.T) {
	s := NewMemoryStore()
	s.InsertService(&Service{Namespace: "ns1", Hostname: "svc1"})

	addr, ok := s.FetchDestination(Destination{Hostname: &NamespacedHostname{Namespace: "ns1", Hostname: "svc1"}})
	require.True(t, ok)
	assert.Equal(t, AddressKindService, addr.Kind)
	assert.Equal(t, "svc1", addr.Service.Hostname)

	_, ok = s.FetchDestination(Destination{Hostname: &NamespacedHostname{Namespace: "ns1", Hostname: "missing"}})
	assert.False(t, ok)
}

func TestFindWaypointForAddressMatchesRegisteredWaypoint(t *testing.T) {
	s := NewMemoryStore()
	target := netip.MustParseAddr("10.0.0.2")
	waypoint := NetworkAddress{Network: "default", Address: netip.MustParseAddr("10.0.0.9")}
	s.InsertWorkload(&Workload{
		UID: newWorkloadUID(), Network: "default", WorkloadIPs: []netip.Addr{target},
		Waypoint: &GatewayAddress{Destination: Destination{Address: &waypoint}},
	})

	gw, ok := s.FindWaypointForAddress(NetworkAddress{Network: "default", Address: target}, waypoint)
	require.True(t, ok)
	assert.Equal(t, waypoint, *gw.Address)

	other := NetworkAddress{Network: "default", Address: netip.MustParseAddr("10.0.0.10")}
	_, ok = s.FindWaypointForAddress(NetworkAddress{Network: "default", Address: target}, other)
	assert.False(t, ok)
}

func TestAssertRBACUsesInstalledPolicy(t *testing.T) {
	s := NewMemoryStore()
	assert.True(t, s.AssertRBAC(connection.Connection{}))

	s.SetRBAC(func(connection.Connection) bool { return false })
	assert.False(t, s.AssertRBAC(connection.Connection{}))
}

func TestNotifyWakesAllSubscribersWithoutBlocking(t *testing.T) {
	s := NewMemoryStore()
	sub1 := s.SubscribeUpdates()
	sub2 := s.SubscribeUpdates()

	s.Notify()
	s.Notify() // coalesces; must not block even though neither sub drained yet

	select {
	case <-sub1:
	default:
		t.Fatal("sub1 never received a notification")
	}
	select {
	case <-sub2:
	default:
		t.Fatal("sub2 never received a notification")
	}
}
