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
	"net"
	"net/netip"
)

// netipAddrFromIP converts a net.IP to a netip.Addr, preferring the
// 4-byte form for IPv4-mapped addresses so NetworkAddress keys compare
// equal regardless of which representation a caller produced them with.
func netipAddrFromIP(ip net.IP) (netip.Addr, bool) {
	if ip4 := ip.To4(); ip4 != nil {
		a, ok := netip.AddrFromSlice(ip4)
		return a, ok
	}
	a, ok := netip.AddrFromSlice(ip)
	return a, ok
}

// addrPortFromTCP converts a *net.TCPAddr to netip.AddrPort.
func addrPortFromTCP(a *net.TCPAddr) netip.AddrPort {
	addr, _ := netipAddrFromIP(a.IP)
	return netip.AddrPortFrom(addr, uint16(a.Port))
}
