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
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"istio.io/ztunnel/pkg/identity"
)

func TestWriteProxyProtocolV2HeaderShape(t *testing.T) {
	var buf bytes.Buffer
	src := netip.MustParseAddrPort("10.0.0.1:40000")
	dst := netip.MustParseAddrPort("10.0.0.2:8080")
	id := identity.Identity{TrustDomain: "cluster.local", Namespace: "ns", ServiceAccount: "sa"}

	err := WriteProxyProtocolV2(&buf, src, dst, id)
	require.NoError(t, err)

	got := buf.Bytes()
	require.True(t, len(got) > len(proxyProtocolV2Sig))
	assert.Equal(t, proxyProtocolV2Sig[:], got[:12])
	assert.Equal(t, byte(pp2VersionCommand), got[12])
	assert.Equal(t, byte(pp2FamilyInet4|0x01), got[13])

	idBytes := []byte(id.String())
	assert.Contains(t, got, idBytes)
}

func TestWriteProxyProtocolV2OmitsTLVWhenIdentityEmpty(t *testing.T) {
	var buf bytes.Buffer
	src := netip.MustParseAddrPort("10.0.0.1:40000")
	dst := netip.MustParseAddrPort("10.0.0.2:8080")

	require.NoError(t, WriteProxyProtocolV2(&buf, src, dst, identity.Identity{}))

	// signature(12) + ver/cmd(1) + fam/proto(1) + len(2) + 4+4+2+2 addr block, no TLV.
	assert.Equal(t, 12+1+1+2+12, buf.Len())
}

func TestWriteProxyProtocolV2HandlesIPv6(t *testing.T) {
	var buf bytes.Buffer
	src := netip.MustParseAddrPort("[2001:db8::1]:40000")
	dst := netip.MustParseAddrPort("[2001:db8::2]:8080")

	require.NoError(t, WriteProxyProtocolV2(&buf, src, dst, identity.Identity{}))
	got := buf.Bytes()
	assert.Equal(t, byte(pp2FamilyInet6|0x01), got[13])
}
