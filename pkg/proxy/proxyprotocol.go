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

package proxy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"

	"istio.io/ztunnel/pkg/identity"
)

// proxyProtocolV2Sig is the fixed 12-byte PROXY protocol v2 signature.
var proxyProtocolV2Sig = [12]byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}

const (
	pp2VersionCommand = 0x21 // version 2, PROXY command
	pp2FamilyInet4    = 0x11
	pp2FamilyInet6    = 0x21
	// pp2TypeIdentity is a type in the 0xE0-0xEF experimental/application
	// range, carrying the source SPIFFE identity as a UTF-8 TLV value.
	pp2TypeIdentity = 0xE4
)

// WriteProxyProtocolV2 prepends a proxy-protocol v2 header to w, carrying
// the original client/destination address pair and the source identity
// as a custom TLV extension (spec.md §6 "Proxy-protocol variant").
func WriteProxyProtocolV2(w io.Writer, src, dst netip.AddrPort, srcIdentity identity.Identity) error {
	var tlv []byte
	if !srcIdentity.Empty() {
		idBytes := []byte(srcIdentity.String())
		tlv = append(tlv, pp2TypeIdentity, byte(len(idBytes)>>8), byte(len(idBytes)))
		tlv = append(tlv, idBytes...)
	}

	var addrBuf bytes.Buffer
	family := pp2FamilyInet4
	if src.Addr().Is6() && !src.Addr().Is4In6() {
		family = pp2FamilyInet6
	}
	if family == pp2FamilyInet4 {
		s4 := src.Addr().As4()
		d4 := dst.Addr().As4()
		addrBuf.Write(s4[:])
		addrBuf.Write(d4[:])
	} else {
		s16 := src.Addr().As16()
		d16 := dst.Addr().As16()
		addrBuf.Write(s16[:])
		addrBuf.Write(d16[:])
	}
	_ = binary.Write(&addrBuf, binary.BigEndian, src.Port())
	_ = binary.Write(&addrBuf, binary.BigEndian, dst.Port())

	length := addrBuf.Len() + len(tlv)
	var hdr bytes.Buffer
	hdr.Write(proxyProtocolV2Sig[:])
	hdr.WriteByte(pp2VersionCommand)
	if family == pp2FamilyInet4 {
		hdr.WriteByte(pp2FamilyInet4 | 0x01) // TCP over IPv4
	} else {
		hdr.WriteByte(pp2FamilyInet6 | 0x01) // TCP over IPv6
	}
	if err := binary.Write(&hdr, binary.BigEndian, uint16(length)); err != nil {
		return fmt.Errorf("proxy: proxy-protocol header: %w", err)
	}
	hdr.Write(addrBuf.Bytes())
	hdr.Write(tlv)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return fmt.Errorf("proxy: write proxy-protocol header: %w", err)
	}
	return nil
}
