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

import "istio.io/ztunnel/pkg/connection"

// Store is the narrow lookup surface the core proxy needs from workload
// discovery (spec.md §6, named DemandProxyState in the original ztunnel).
// Production wiring injects a client of the real discovery service; it is
// an external collaborator (spec.md §1). The method names below are kept
// close to the original Rust trait so behavior is easy to cross-check
// against original_source/src/proxy/inbound.rs.
type Store interface {
	// FetchWorkload finds the workload with addr among its WorkloadIPs.
	FetchWorkload(addr NetworkAddress) (*Workload, bool)
	// FetchWorkloadByUID finds a workload by its discovery UID, used when
	// an endpoint has no usable IP (e.g. a hostname-only endpoint).
	FetchWorkloadByUID(uid string) (*Workload, bool)
	// FetchWorkloadServices returns the workload at addr together with
	// every Service that has it as an endpoint.
	FetchWorkloadServices(addr NetworkAddress) (*Workload, []Service, bool)
	// FetchDestination resolves a GatewayAddress's Destination to either
	// a Workload or a Service.
	FetchDestination(dest Destination) (*Address, bool)
	// FindWaypointForAddress reports whether waypoint is the registered
	// waypoint for the workload/service at target (spec.md §4.3 sandwich
	// detection).
	FindWaypointForAddress(target, waypoint NetworkAddress) (*GatewayAddress, bool)
	// AssertRBAC evaluates (src identity, dst workload, dst port) policy
	// and reports whether the connection is allowed. The decision can
	// change over time; ConnectionManager.PolicyWatcher re-evaluates it.
	AssertRBAC(conn connection.Connection) bool
	// SubscribeUpdates returns a channel that receives a value on every
	// state-store version change, for ConnectionManager.PolicyWatcher.
	SubscribeUpdates() <-chan struct{}
}
