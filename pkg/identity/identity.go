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

// Package identity models workload cryptographic identity and the
// narrow CertManager capability the core proxy depends on. The actual
// certificate authority is an external collaborator (spec.md §1); this
// package defines the interface, a caching client of it (CertCache), and
// a file-backed implementation for standalone use (FileManager).
package identity

import (
	"crypto/tls"
	"fmt"
)

// Identity is a workload's SPIFFE-style identity: trust domain,
// namespace, and service account.
type Identity struct {
	TrustDomain    string
	Namespace      string
	ServiceAccount string
}

// String renders the identity as a spiffe:// URI, matching the original
// ztunnel's Identity::Spiffe Display implementation.
func (i Identity) String() string {
	return fmt.Sprintf("spiffe://%s/ns/%s/sa/%s", i.TrustDomain, i.Namespace, i.ServiceAccount)
}

// Empty reports whether the identity is the zero value.
func (i Identity) Empty() bool {
	return i == Identity{}
}

// Cert is an issued certificate bundle for one identity.
type Cert struct {
	Identity    Identity
	Certificate tls.Certificate
	RootCAs     []byte
}

// MTLSAcceptorConfig returns a server-side tls.Config presenting this
// cert and requiring (and verifying) a peer SPIFFE client certificate.
func (c *Cert) MTLSAcceptorConfig() (*tls.Config, error) {
	pool, err := rootPool(c.RootCAs)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{c.Certificate},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h2"},
	}, nil
}

// MTLSConnectorConfig returns a client-side tls.Config presenting this
// cert and verifying the peer's SPIFFE server certificate.
func (c *Cert) MTLSConnectorConfig() (*tls.Config, error) {
	pool, err := rootPool(c.RootCAs)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{c.Certificate},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
		NextProtos:   []string{"h2"},
	}, nil
}

// Manager issues and caches certificates for workload identities. The
// production implementation talks to a certificate authority; it is an
// external collaborator per spec.md §1.
type Manager interface {
	// FetchCertificate returns a (possibly cached) certificate for id,
	// issuing a new one if none is cached or the cached one has expired.
	FetchCertificate(id Identity) (*Cert, error)
}
