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
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"istio.io/ztunnel/pkg/config"
	"istio.io/ztunnel/pkg/state"
)

const testNetwork = state.NetworkID("default")

func mustWorkload(s *state.MemoryStore, w *state.Workload) *state.Workload {
	s.InsertWorkload(w)
	return w
}

func TestBuildRequestUnknownSourceErrors(t *testing.T) {
	s := state.NewMemoryStore()
	_, err := BuildRequest(s, config.Default(), testNetwork,
		netip.MustParseAddrPort("10.0.0.9:40000"), netip.MustParseAddrPort("10.0.0.2:80"))
	assert.Error(t, err)
}

func TestBuildRequestPassthroughForUnknownUpstream(t *testing.T) {
	s := state.NewMemoryStore()
	mustWorkload(s, &state.Workload{UID: "src", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.1")}})

	plan, err := BuildRequest(s, config.Default(), testNetwork,
		netip.MustParseAddrPort("10.0.0.1:40000"), netip.MustParseAddrPort("203.0.113.5:443"))
	require.NoError(t, err)
	assert.Equal(t, Passthrough, plan.RequestType)
	assert.Equal(t, ProtocolTCP, plan.Protocol)
	assert.Equal(t, netip.MustParseAddrPort("203.0.113.5:443"), plan.Gateway)
}

func TestBuildRequestDirectOverlay(t *testing.T) {
	s := state.NewMemoryStore()
	mustWorkload(s, &state.Workload{UID: "src", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.1")}})
	mustWorkload(s, &state.Workload{
		UID: "dst", Network: testNetwork, Node: "other-node", Protocol: state.ProtocolHBONE,
		WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.2")},
	})

	plan, err := BuildRequest(s, config.Default(), testNetwork,
		netip.MustParseAddrPort("10.0.0.1:40000"), netip.MustParseAddrPort("10.0.0.2:80"))
	require.NoError(t, err)
	assert.Equal(t, Direct, plan.RequestType)
	assert.Equal(t, ProtocolOverlay, plan.Protocol)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.2:15008"), plan.Gateway)
}

func TestBuildRequestDirectLocalUsesLoopback(t *testing.T) {
	s := state.NewMemoryStore()
	mustWorkload(s, &state.Workload{UID: "src", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.1")}})
	mustWorkload(s, &state.Workload{
		UID: "dst", Network: testNetwork, Node: "local-node", Protocol: state.ProtocolHBONE,
		WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.2")},
	})

	cfg := config.Default()
	cfg.LocalNode = "local-node"
	plan, err := BuildRequest(s, cfg, testNetwork,
		netip.MustParseAddrPort("10.0.0.1:40000"), netip.MustParseAddrPort("10.0.0.2:80"))
	require.NoError(t, err)
	assert.Equal(t, DirectLocal, plan.RequestType)
	assert.Equal(t, loopbackOverlay, plan.Gateway)
}

func TestBuildRequestClientWaypointTakesPrecedence(t *testing.T) {
	s := state.NewMemoryStore()
	waypointAddr := state.NetworkAddress{Network: testNetwork, Address: netip.MustParseAddr("10.0.0.9")}
	mustWorkload(s, &state.Workload{
		UID: "src", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.1")},
		Waypoint: &state.GatewayAddress{Destination: state.Destination{Address: &waypointAddr}},
	})
	mustWorkload(s, &state.Workload{
		UID: "dst", Network: testNetwork, Protocol: state.ProtocolHBONE,
		WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.2")},
		Waypoint:    &state.GatewayAddress{Destination: state.Destination{Address: &waypointAddr}},
	})

	plan, err := BuildRequest(s, config.Default(), testNetwork,
		netip.MustParseAddrPort("10.0.0.1:40000"), netip.MustParseAddrPort("10.0.0.2:80"))
	require.NoError(t, err)
	assert.Equal(t, ToClientWaypoint, plan.RequestType)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.9:15008"), plan.Gateway)
}

func TestBuildRequestServerWaypointWhenNoClientWaypoint(t *testing.T) {
	s := state.NewMemoryStore()
	waypointAddr := state.NetworkAddress{Network: testNetwork, Address: netip.MustParseAddr("10.0.0.9")}
	mustWorkload(s, &state.Workload{UID: "src", Network: testNetwork, WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.1")}})
	mustWorkload(s, &state.Workload{
		UID: "dst", Network: testNetwork, Protocol: state.ProtocolHBONE,
		WorkloadIPs: []netip.Addr{netip.MustParseAddr("10.0.0.2")},
		Waypoint:    &state.GatewayAddress{Destination: state.Destination{Address: &waypointAddr}},
	})

	plan, err := BuildRequest(s, config.Default(), testNetwork,
		netip.MustParseAddrPort("10.0.0.1:40000"), netip.MustParseAddrPort("10.0.0.2:80"))
	require.NoError(t, err)
	assert.Equal(t, ToServerWaypoint, plan.RequestType)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.9:15008"), plan.Gateway)
}
