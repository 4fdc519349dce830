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

// Package proxy holds the pieces Inbound and Outbound share: the error
// kinds from spec.md §7, trace/baggage header parsing, the byte-counted
// relay loop, the proxy-protocol v2 writer, and inbound service
// attribution.
package proxy

import "fmt"

// Kind enumerates the error kinds of spec.md §7.
type Kind int

const (
	KindBind Kind = iota
	KindIo
	KindTls
	KindCertificateLookup
	KindHTTPHandshake
	KindUpgradeFailed
	KindAdmissionDenied
	KindDestinationUnknown
	KindMalformedAuthority
	KindPolicyRevoked
)

func (k Kind) String() string {
	switch k {
	case KindBind:
		return "bind"
	case KindIo:
		return "io"
	case KindTls:
		return "tls"
	case KindCertificateLookup:
		return "certificate_lookup"
	case KindHTTPHandshake:
		return "http_handshake"
	case KindUpgradeFailed:
		return "upgrade_failed"
	case KindAdmissionDenied:
		return "admission_denied"
	case KindDestinationUnknown:
		return "destination_unknown"
	case KindMalformedAuthority:
		return "malformed_authority"
	case KindPolicyRevoked:
		return "policy_revoked"
	default:
		return "unknown"
	}
}

// Error is the core's uniform error type, carrying enough structure for
// callers to map it to a CONNECT response (spec.md §6) without parsing
// strings.
type Error struct {
	Kind   Kind
	Addr   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Addr != "":
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Addr, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func BindError(addr string, err error) error {
	return &Error{Kind: KindBind, Addr: addr, Err: err}
}

func IOError(err error) error {
	return &Error{Kind: KindIo, Err: err}
}

func TLSError(err error) error {
	return &Error{Kind: KindTls, Err: err}
}

func CertificateLookupError(addr string) error {
	return &Error{Kind: KindCertificateLookup, Addr: addr}
}

func HTTPHandshakeError(err error) error {
	return &Error{Kind: KindHTTPHandshake, Err: err}
}

func UpgradeFailedError(err error) error {
	return &Error{Kind: KindUpgradeFailed, Err: err}
}

func AdmissionDeniedError(reason string) error {
	return &Error{Kind: KindAdmissionDenied, Reason: reason}
}

// ErrDestinationUnknown is returned when a CONNECT targets an address the
// state store has no record of.
var ErrDestinationUnknown = &Error{Kind: KindDestinationUnknown}

// ErrMalformedAuthority is returned when a CONNECT authority fails to
// parse as host:port.
var ErrMalformedAuthority = &Error{Kind: KindMalformedAuthority}

// ErrPolicyRevoked marks normal termination via a ConnectionManager
// close-signal; logged at error level for auditability but never counted
// as a proxy failure (spec.md §7).
var ErrPolicyRevoked = &Error{Kind: KindPolicyRevoked}
