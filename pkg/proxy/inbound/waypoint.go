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

	"istio.io/ztunnel/pkg/connection"
	"istio.io/ztunnel/pkg/state"
)

// checkSandwich reports whether hbAddr names a workload for which the
// TCP destination conn.Dst is a registered waypoint, i.e. this flow is
// addressed to the waypoint itself but destined onward to a sandwiched
// workload (spec.md §4.3 step 1, GLOSSARY "Sandwich").
func checkSandwich(store state.Store, network state.NetworkID, connDst, hbAddr netip.Addr) bool {
	if connDst == hbAddr {
		return false
	}
	target := state.NetworkAddress{Network: network, Address: hbAddr}
	waypoint := state.NetworkAddress{Network: network, Address: connDst}
	_, ok := store.FindWaypointForAddress(target, waypoint)
	return ok
}

// checkGatewayAddress reports whether conn's source identity matches the
// identity of the workload (or, for a hostname gateway, any endpoint of
// the service) that gw names (spec.md §4.3 step 3).
func checkGatewayAddress(store state.Store, conn connection.Connection, gw *state.GatewayAddress) bool {
	if gw == nil || conn.SrcIdentity == nil {
		return false
	}
	addr, ok := store.FetchDestination(gw.Destination)
	if !ok {
		return false
	}
	switch addr.Kind {
	case state.AddressKindWorkload:
		return addr.Workload != nil && addr.Workload.Identity() == *conn.SrcIdentity
	case state.AddressKindService:
		if addr.Service == nil {
			return false
		}
		for _, ep := range addr.Service.Endpoints {
			w, ok := store.FetchWorkloadByUID(ep.WorkloadUID)
			if ok && w.Identity() == *conn.SrcIdentity {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// decision is the set of facts spec.md §4.3's admission rule needs,
// evaluated against the state store as of one point in time. handler.go
// and PolicyWatcher's recheck each compute a decision for the same
// Connection at different times and feed it through the same admitted
// method, so the two can never diverge on what the rule actually is.
type decision struct {
	upstream     *state.Workload
	services     []state.Service
	fromWaypoint bool
	fromGateway  bool
	sandwich     bool
	found        bool
}

// classify resolves conn's destination workload and evaluates the
// waypoint/gateway/sandwich facts the admission rule needs.
func classify(store state.Store, conn connection.Connection) decision {
	network := state.NetworkID(conn.DstNetwork)
	upstream, services, ok := store.FetchWorkloadServices(state.NetworkAddress{Network: network, Address: conn.Dst.Addr()})
	if !ok {
		return decision{}
	}
	return decision{
		upstream:     upstream,
		services:     services,
		fromWaypoint: checkGatewayAddress(store, conn, upstream.Waypoint),
		fromGateway:  checkGatewayAddress(store, conn, upstream.NetworkGateway),
		sandwich:     checkSandwich(store, network, conn.Dst.Addr(), conn.Authority.Addr()),
		found:        true,
	}
}

// admitted applies spec.md §4.3's waypoint-bypass and RBAC-skip rules on
// top of d: a connection whose destination declares a waypoint that the
// connection did not arrive from is rejected outright; otherwise RBAC is
// skipped exactly when the request came from that waypoint or is itself
// a sandwiched waypoint hop, and asserted against store in every other
// case.
func (d decision) admitted(store state.Store, conn connection.Connection) bool {
	if !d.found {
		return false
	}
	if d.upstream.Waypoint != nil && !d.fromWaypoint {
		return false
	}
	if d.fromWaypoint || d.sandwich {
		return true
	}
	return store.AssertRBAC(conn)
}

// CheckAdmission re-evaluates the full inbound CONNECT admission decision
// for an already-tracked connection. It is ConnectionManager's policy
// recheck (spec.md §4.2): a bare AssertRBAC call has no notion of the
// waypoint/sandwich RBAC exemption or the waypoint-bypass check, so using
// it alone would spuriously revoke legitimately-exempt connections and
// never catch one that lost waypoint-bypass eligibility.
func CheckAdmission(store state.Store, conn connection.Connection) bool {
	return classify(store, conn).admitted(store, conn)
}
