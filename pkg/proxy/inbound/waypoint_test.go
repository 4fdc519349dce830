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
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"istio.io/ztunnel/pkg/connection"
	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/state"
)

const testNetwork = state.NetworkID("default")

func TestCheckSandwichSameAddressIsNeverASandwich(t *testing.T) {
	s := state.NewMemoryStore()
	addr := netip.MustParseAddr("10.0.0.1")
	assert.False(t, checkSandwich(s, testNetwork, addr, addr))
}

func TestCheckSandwichDetectsRegisteredWaypoint(t *testing.T) {
	s := state.NewMemoryStore()
	waypoint := netip.MustParseAddr("10.0.0.9")
	sandwiched := netip.MustParseAddr("10.0.0.2")
	waypointAddr := state.NetworkAddress{Network: testNetwork, Address: waypoint}

	s.InsertWorkload(&state.Workload{
		UID: "sandwiched", Network: testNetwork, WorkloadIPs: []netip.Addr{sandwiched},
		Waypoint: &state.GatewayAddress{Destination: state.Destination{Address: &waypointAddr}},
	})

	assert.True(t, checkSandwich(s, testNetwork, waypoint, sandwiched))
}

func TestCheckSandwichFalseWhenNoWaypointRegistered(t *testing.T) {
	s := state.NewMemoryStore()
	s.InsertWorkload(&state.Workload{
		UID: "plain", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.2")},
	})
	assert.False(t, checkSandwich(s, testNetwork, netip.MustParseAddr("10.0.0.9"), netip.MustParseAddr("10.0.0.2")))
}

func TestCheckGatewayAddressNilInputs(t *testing.T) {
	s := state.NewMemoryStore()
	assert.False(t, checkGatewayAddress(s, connection.Connection{}, nil))
	assert.False(t, checkGatewayAddress(s, connection.Connection{}, &state.GatewayAddress{}), "nil SrcIdentity must never match")
}

func TestCheckGatewayAddressMatchesWorkloadIdentity(t *testing.T) {
	s := state.NewMemoryStore()
	gwAddr := state.NetworkAddress{Network: testNetwork, Address: netip.MustParseAddr("10.0.0.9")}
	id := identity.Identity{TrustDomain: "cluster.local", Namespace: "ns", ServiceAccount: "waypoint-sa"}
	s.InsertWorkload(&state.Workload{
		UID: "waypoint", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.9")},
		TrustDomain: id.TrustDomain, Namespace: id.Namespace, ServiceAccount: id.ServiceAccount,
	})

	gw := &state.GatewayAddress{Destination: state.Destination{Address: &gwAddr}}
	conn := connection.Connection{SrcIdentity: &id}
	assert.True(t, checkGatewayAddress(s, conn, gw))

	other := identity.Identity{TrustDomain: "cluster.local", Namespace: "ns", ServiceAccount: "someone-else"}
	conn.SrcIdentity = &other
	assert.False(t, checkGatewayAddress(s, conn, gw))
}

func TestCheckAdmissionSkipsRBACForWaypointConnection(t *testing.T) {
	s := state.NewMemoryStore()
	dst := netip.MustParseAddr("10.0.0.2")
	gwAddr := state.NetworkAddress{Network: testNetwork, Address: netip.MustParseAddr("10.0.0.9")}
	id := identity.Identity{TrustDomain: "cluster.local", Namespace: "ns", ServiceAccount: "waypoint-sa"}
	s.InsertWorkload(&state.Workload{
		UID: "waypoint", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.9")},
		TrustDomain: id.TrustDomain, Namespace: id.Namespace, ServiceAccount: id.ServiceAccount,
	})
	s.InsertWorkload(&state.Workload{
		UID: "dst", Network: testNetwork, WorkloadIPs: []netip.Addr{dst},
		Waypoint: &state.GatewayAddress{Destination: state.Destination{Address: &gwAddr}},
	})
	s.SetRBAC(func(connection.Connection) bool {
		t.Fatal("AssertRBAC must not be called for a from-waypoint connection")
		return false
	})

	conn := connection.Connection{
		SrcIdentity: &id,
		DstNetwork:  string(testNetwork),
		Dst:         netip.AddrPortFrom(dst, 80),
		Authority:   netip.AddrPortFrom(dst, 80),
	}
	assert.True(t, CheckAdmission(s, conn))
}

func TestCheckAdmissionRejectsConnectionThatLostWaypointBypass(t *testing.T) {
	s := state.NewMemoryStore()
	dst := netip.MustParseAddr("10.0.0.2")
	srcID := identity.Identity{TrustDomain: "cluster.local", Namespace: "ns", ServiceAccount: "client"}
	s.InsertWorkload(&state.Workload{
		UID: "dst", Network: testNetwork, WorkloadIPs: []netip.Addr{dst},
	})

	conn := connection.Connection{
		SrcIdentity: &srcID,
		DstNetwork:  string(testNetwork),
		Dst:         netip.AddrPortFrom(dst, 80),
		Authority:   netip.AddrPortFrom(dst, 80),
	}
	// admitted with no waypoint assigned, RBAC permissive by default.
	assert.True(t, CheckAdmission(s, conn))

	// the workload is reassigned a waypoint after admission; a connection
	// that did not arrive through it must now be revoked even though it
	// still passes RBAC.
	gwAddr := state.NetworkAddress{Network: testNetwork, Address: netip.MustParseAddr("10.0.0.9")}
	s.InsertWorkload(&state.Workload{
		UID: "dst", Network: testNetwork, WorkloadIPs: []netip.Addr{dst},
		Waypoint: &state.GatewayAddress{Destination: state.Destination{Address: &gwAddr}},
	})
	assert.False(t, CheckAdmission(s, conn))
}

func TestCheckAdmissionFallsBackToRBACForOrdinaryConnection(t *testing.T) {
	s := state.NewMemoryStore()
	dst := netip.MustParseAddr("10.0.0.2")
	srcID := identity.Identity{TrustDomain: "cluster.local", Namespace: "ns", ServiceAccount: "client"}
	s.InsertWorkload(&state.Workload{
		UID: "dst", Network: testNetwork, WorkloadIPs: []netip.Addr{dst},
	})

	conn := connection.Connection{
		SrcIdentity: &srcID,
		DstNetwork:  string(testNetwork),
		Dst:         netip.AddrPortFrom(dst, 80),
		Authority:   netip.AddrPortFrom(dst, 80),
	}
	assert.True(t, CheckAdmission(s, conn))

	s.SetRBAC(func(connection.Connection) bool { return false })
	assert.False(t, CheckAdmission(s, conn))
}

func TestCheckAdmissionUnknownDestinationIsDenied(t *testing.T) {
	s := state.NewMemoryStore()
	conn := connection.Connection{
		DstNetwork: string(testNetwork),
		Dst:        netip.MustParseAddrPort("10.0.0.2:80"),
		Authority:  netip.MustParseAddrPort("10.0.0.2:80"),
	}
	assert.False(t, CheckAdmission(s, conn))
}
