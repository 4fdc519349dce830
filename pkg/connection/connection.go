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

// Package connection tracks admitted flows (spec.md §4.2) and the
// Connection data model (spec.md §3), independent of whether the flow
// originated inbound or outbound.
package connection

import (
	"fmt"
	"net/netip"

	"istio.io/ztunnel/pkg/identity"
)

// Connection is a single admitted flow: a source address with optional
// peer identity, and a destination on a named network.
type Connection struct {
	Src         netip.AddrPort
	SrcIdentity *identity.Identity
	DstNetwork  string
	Dst         netip.AddrPort
	// Authority is the real HBONE target address carried on the original
	// CONNECT request's :authority. It equals Dst except when the request
	// was sandwiched (GLOSSARY "Sandwich"), in which case Dst is the
	// waypoint's own address and Authority is the workload behind it.
	// Policy recheck needs this to replay the original sandwich
	// classification; it isn't recoverable from Dst alone once the
	// connection is tracked.
	Authority netip.AddrPort
}

// Key returns the comparable identity used as the ConnectionManager map
// key. Connection is already comparable (fixed-size fields plus a
// pointer), so Key just returns the value itself; the named method
// documents intent at call sites.
func (c Connection) Key() Connection { return c }

func (c Connection) String() string {
	id := "none"
	if c.SrcIdentity != nil {
		id = c.SrcIdentity.String()
	}
	return fmt.Sprintf("%s(%s)->%s/%s", c.Src, id, c.DstNetwork, c.Dst)
}
