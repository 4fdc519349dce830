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

// Package outbound is the Outbound component of spec.md §4.4: it
// intercepts traffic from local workloads and either originates an
// overlay tunnel to the correct peer or passes it through as plain TCP.
package outbound

import (
	"net/netip"

	"istio.io/ztunnel/pkg/config"
	"istio.io/ztunnel/pkg/identity"
	"istio.io/ztunnel/pkg/state"
)

// RequestType names which of the five routing outcomes spec.md §4.4's
// table produced, exactly one of which is ever set for a Plan.
type RequestType int

const (
	ToClientWaypoint RequestType = iota
	ToServerWaypoint
	DirectLocal
	Direct
	Passthrough
)

func (t RequestType) String() string {
	switch t {
	case ToClientWaypoint:
		return "ToClientWaypoint"
	case ToServerWaypoint:
		return "ToServerWaypoint"
	case DirectLocal:
		return "DirectLocal"
	case Direct:
		return "Direct"
	case Passthrough:
		return "Passthrough"
	default:
		return "Unknown"
	}
}

// Protocol is the wire protocol a Plan dispatches with.
type Protocol int

const (
	ProtocolOverlay Protocol = iota
	ProtocolTCP
)

// loopbackOverlay is the gateway Plan.DirectLocal dials: this node's own
// inbound overlay port, reached over loopback instead of a real network
// traversal (spec.md §4.4).
var loopbackOverlay = netip.MustParseAddrPort("127.0.0.1:15008")

// Plan is the immutable routing decision computed once per outbound
// accept (spec.md §3 "Request (outbound)").
type Plan struct {
	RequestType RequestType
	Protocol    Protocol
	Gateway     netip.AddrPort
	Destination netip.AddrPort
	// SourceIdentity is the local workload's own identity, used for the
	// overlay mTLS client certificate and connection pool key.
	SourceIdentity identity.Identity
}

// BuildRequest computes the outbound routing Plan for a flow from
// downstream (the local workload's own IP) to originalDst (the
// intercepted TCP destination, which may be a service VIP), per the
// decision table in spec.md §4.4.
func BuildRequest(store state.Store, cfg config.Config, network state.NetworkID, downstream, originalDst netip.AddrPort) (Plan, error) {
	source, ok := store.FetchWorkload(state.NetworkAddress{Network: network, Address: downstream.Addr()})
	if !ok {
		return Plan{}, errSourceUnknown
	}

	dest, isVIP, upstream := resolveUpstream(store, network, originalDst)

	overlayPort := uint16(15008)

	if source.Waypoint != nil {
		// Source has a client-side waypoint: defer all routing to it,
		// taking precedence over any destination-side waypoint (spec.md
		// §4.4 "client-side rule takes precedence", §9 "dual waypoint
		// classification").
		return Plan{
			RequestType:    ToClientWaypoint,
			Protocol:       ProtocolOverlay,
			Gateway:        netip.AddrPortFrom(source.Waypoint.Address.Address, overlayPort),
			Destination:    originalDst,
			SourceIdentity: source.Identity(),
		}, nil
	}

	if upstream != nil && upstream.Waypoint != nil {
		destination := dest
		if isVIP {
			destination = originalDst
		}
		return Plan{
			RequestType:    ToServerWaypoint,
			Protocol:       ProtocolOverlay,
			Gateway:        netip.AddrPortFrom(upstream.Waypoint.Address.Address, overlayPort),
			Destination:    destination,
			SourceIdentity: source.Identity(),
		}, nil
	}

	if upstream == nil {
		return Plan{
			RequestType:    Passthrough,
			Protocol:       ProtocolTCP,
			Gateway:        originalDst,
			Destination:    originalDst,
			SourceIdentity: source.Identity(),
		}, nil
	}

	protocol := ProtocolTCP
	if upstream.Protocol == state.ProtocolHBONE {
		protocol = ProtocolOverlay
	}

	if cfg.LocalNode != "" && upstream.Node == cfg.LocalNode && protocol == ProtocolOverlay {
		return Plan{
			RequestType:    DirectLocal,
			Protocol:       ProtocolOverlay,
			Gateway:        loopbackOverlay,
			Destination:    dest,
			SourceIdentity: source.Identity(),
		}, nil
	}

	gateway := dest
	if protocol == ProtocolOverlay {
		gateway = netip.AddrPortFrom(dest.Addr(), overlayPort)
	}
	return Plan{
		RequestType:    Direct,
		Protocol:       protocol,
		Gateway:        gateway,
		Destination:    dest,
		SourceIdentity: source.Identity(),
	}, nil
}

// resolveUpstream finds the upstream workload for target, returning
// whether target was itself a service VIP rather than a pod IP, the
// effective pod-level destination address, and the upstream Workload (nil
// when discovery has no record, i.e. Passthrough applies).
func resolveUpstream(store state.Store, network state.NetworkID, target netip.AddrPort) (dest netip.AddrPort, isVIP bool, upstream *state.Workload) {
	addr := state.NetworkAddress{Network: network, Address: target.Addr()}
	if w, ok := store.FetchWorkload(addr); ok {
		return target, false, w
	}
	if a, ok := store.FetchDestination(state.Destination{Address: &addr}); ok && a.Kind == state.AddressKindService && a.Service != nil {
		for _, ep := range a.Service.Endpoints {
			if ep.Address == nil {
				continue
			}
			if w, ok := store.FetchWorkload(*ep.Address); ok {
				port := target.Port()
				if p, ok := a.Service.Port[target.Port()]; ok {
					port = p
				}
				return netip.AddrPortFrom(ep.Address.Address, port), true, w
			}
		}
	}
	return target, false, nil
}
