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

// Package state defines the data model and narrow lookup interface the
// core proxy needs from workload/service discovery (spec.md §3, §6). The
// actual discovery cache ("state store") is an external collaborator;
// this package only defines the contract plus an in-memory reference
// implementation used by tests.
package state

import (
	"net/netip"

	"istio.io/ztunnel/pkg/identity"
)

// NetworkID names one of possibly several disjoint L3 networks a
// workload can live on, mirroring pilot/pkg/model/network.go's
// network.ID named string type.
type NetworkID string

// NetworkAddress qualifies an IP with the network it belongs to, since
// the same IP can be reused across disjoint networks (spec.md §3).
type NetworkAddress struct {
	Network NetworkID
	Address netip.Addr
}

func (n NetworkAddress) String() string {
	return string(n.Network) + "/" + n.Address.String()
}

// NamespacedHostname names a Service by namespace + DNS hostname, used
// when a GatewayAddress or Endpoint can't be expressed as a bare IP.
type NamespacedHostname struct {
	Namespace string
	Hostname  string
}

// GatewayProtocol is the tunneling protocol a NativeTunnel requires.
type GatewayProtocol string

const (
	// GatewayProtocolPROXY indicates the destination wants a
	// proxy-protocol v2 header prepended ahead of plaintext bytes
	// instead of a full overlay (HBONE) tunnel.
	GatewayProtocolPROXY GatewayProtocol = "PROXY"
)

// NativeTunnel is a workload's declared requirement for inbound framing
// other than plain overlay bytes.
type NativeTunnel struct {
	Protocol GatewayProtocol
	Port     uint32
}

// Destination names the target of a GatewayAddress lookup: either a bare
// network address, or a namespaced hostname resolved through Service.
// Exactly one field is set.
type Destination struct {
	Address  *NetworkAddress
	Hostname *NamespacedHostname
}

// GatewayAddress is an immutable snapshot of where to reach a waypoint
// or cross-network gateway (spec.md §3).
type GatewayAddress struct {
	Destination

	HBONEMTLSPort      uint32
	HBONESingleTLSPort *uint32
}

// WorkloadProtocol is the protocol a workload advertises for inbound
// traffic: tunnel over the overlay, or plain TCP.
type WorkloadProtocol string

const (
	ProtocolHBONE WorkloadProtocol = "HBONE"
	ProtocolTCP   WorkloadProtocol = "TCP"
)

// Workload is a discovery record for one pod/VM (spec.md §3).
type Workload struct {
	UID       string
	Name      string
	Namespace string
	Network   NetworkID
	ClusterID string
	Node      string

	TrustDomain    string
	ServiceAccount string

	WorkloadIPs []netip.Addr

	Waypoint       *GatewayAddress
	NetworkGateway *GatewayAddress
	NativeTunnel   *NativeTunnel

	Protocol WorkloadProtocol

	CanonicalName     string
	CanonicalRevision string
}

// Identity returns the workload's SPIFFE identity.
func (w *Workload) Identity() identity.Identity {
	return identity.Identity{
		TrustDomain:    w.TrustDomain,
		Namespace:      w.Namespace,
		ServiceAccount: w.ServiceAccount,
	}
}

// Endpoint is one member of a Service.
type Endpoint struct {
	WorkloadUID string
	Service     NamespacedHostname
	Address     *NetworkAddress
	// Port maps service port -> target port.
	Port map[uint16]uint16
}

// Service is a discovery record for a virtual IP / hostname fronting a
// set of workload endpoints. Endpoint selection among these is delegated
// entirely to the state store (spec.md §1 Non-goals); the core proxy
// never picks among them itself except when resolving a gateway declared
// by hostname (spec.md §4.3 step 3).
type Service struct {
	Name      string
	Namespace string
	Hostname  string
	VIPs      []NetworkAddress
	// Port maps service port -> target port.
	Port      map[uint16]uint16
	Endpoints map[string]Endpoint
}

// AddressKind discriminates the Address union.
type AddressKind int

const (
	AddressKindWorkload AddressKind = iota
	AddressKindService
)

// Address is the union of the two things a Destination can resolve to.
type Address struct {
	Kind     AddressKind
	Workload *Workload
	Service  *Service
}
