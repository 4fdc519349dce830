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
	"fmt"
	"strings"
)

// FromCertificate extracts the SPIFFE identity carried in cert's URI SAN
// (spiffe://trust-domain/ns/namespace/sa/service-account), the mTLS
// identity encoding the overlay tunnel uses throughout.
func FromCertificate(cert *x509.Certificate) (Identity, error) {
	for _, uri := range cert.URIs {
		if uri.Scheme != "spiffe" {
			continue
		}
		parts := strings.Split(strings.Trim(uri.Path, "/"), "/")
		if len(parts) != 4 || parts[0] != "ns" || parts[2] != "sa" {
			continue
		}
		return Identity{
			TrustDomain:    uri.Host,
			Namespace:      parts[1],
			ServiceAccount: parts[3],
		}, nil
	}
	return Identity{}, fmt.Errorf("identity: no spiffe URI SAN on certificate")
}
