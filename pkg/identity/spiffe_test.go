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

package identity

import (
	"crypto/x509"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func certWithURIs(uris ...string) *x509.Certificate {
	cert := &x509.Certificate{}
	for _, raw := range uris {
		u, err := url.Parse(raw)
		if err != nil {
			panic(err)
		}
		cert.URIs = append(cert.URIs, u)
	}
	return cert
}

func TestFromCertificateExtractsSpiffeIdentity(t *testing.T) {
	cert := certWithURIs("spiffe://cluster.local/ns/default/sa/ztunnel")
	id, err := FromCertificate(cert)
	require.NoError(t, err)
	assert.Equal(t, Identity{TrustDomain: "cluster.local", Namespace: "default", ServiceAccount: "ztunnel"}, id)
}

func TestFromCertificateSkipsNonSpiffeURIs(t *testing.T) {
	cert := certWithURIs("https://example.com/not-spiffe", "spiffe://cluster.local/ns/ns1/sa/sa1")
	id, err := FromCertificate(cert)
	require.NoError(t, err)
	assert.Equal(t, "sa1", id.ServiceAccount)
}

func TestFromCertificateRejectsMalformedSpiffePath(t *testing.T) {
	cert := certWithURIs("spiffe://cluster.local/ns/default")
	_, err := FromCertificate(cert)
	assert.Error(t, err)
}

func TestFromCertificateRequiresURISAN(t *testing.T) {
	_, err := FromCertificate(&x509.Certificate{})
	assert.Error(t, err)
}

func TestIdentityStringAndEmpty(t *testing.T) {
	var zero Identity
	assert.True(t, zero.Empty())

	id := Identity{TrustDomain: "cluster.local", Namespace: "ns", ServiceAccount: "sa"}
	assert.False(t, id.Empty())
	assert.Equal(t, "spiffe://cluster.local/ns/ns/sa/sa", id.String())
}
