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
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// TraceparentHeader and BaggageHeader are the headers consumed on the
// overlay CONNECT (spec.md §6).
const (
	TraceparentHeader = "traceparent"
	BaggageHeader     = "baggage"
	ForwardedHeader   = "Forwarded"
)

// TraceParent is a parsed W3C traceparent header:
// version-traceid-parentid-flags.
type TraceParent struct {
	Version  byte
	TraceID  [16]byte
	ParentID [8]byte
	Flags    byte
}

// NewTraceParent mints a fresh root TraceParent, used when a request
// arrives with no (or an unparseable) traceparent header.
func NewTraceParent() TraceParent {
	var t TraceParent
	_, _ = rand.Read(t.TraceID[:])
	_, _ = rand.Read(t.ParentID[:])
	t.Flags = 1
	return t
}

// ParseTraceParent parses a W3C traceparent header value.
func ParseTraceParent(s string) (TraceParent, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 {
		return TraceParent{}, fmt.Errorf("proxy: malformed traceparent %q", s)
	}
	var t TraceParent
	ver, err := hex.DecodeString(parts[0])
	if err != nil || len(ver) != 1 {
		return TraceParent{}, fmt.Errorf("proxy: malformed traceparent version %q", parts[0])
	}
	t.Version = ver[0]
	tid, err := hex.DecodeString(parts[1])
	if err != nil || len(tid) != 16 {
		return TraceParent{}, fmt.Errorf("proxy: malformed traceparent trace-id %q", parts[1])
	}
	copy(t.TraceID[:], tid)
	pid, err := hex.DecodeString(parts[2])
	if err != nil || len(pid) != 8 {
		return TraceParent{}, fmt.Errorf("proxy: malformed traceparent parent-id %q", parts[2])
	}
	copy(t.ParentID[:], pid)
	flags, err := hex.DecodeString(parts[3])
	if err != nil || len(flags) != 1 {
		return TraceParent{}, fmt.Errorf("proxy: malformed traceparent flags %q", parts[3])
	}
	t.Flags = flags[0]
	return t, nil
}

// ExtractTraceParent reads the traceparent header, falling back to a
// fresh root span when absent or unparseable.
func ExtractTraceParent(header string) TraceParent {
	if header == "" {
		return NewTraceParent()
	}
	t, err := ParseTraceParent(header)
	if err != nil {
		return NewTraceParent()
	}
	return t
}

func (t TraceParent) String() string {
	return fmt.Sprintf("%02x-%s-%s-%02x", t.Version, hex.EncodeToString(t.TraceID[:]), hex.EncodeToString(t.ParentID[:]), t.Flags)
}

// Baggage carries the W3C baggage keys the overlay propagates (spec.md
// §6): cluster_id, namespace, workload_name, revision.
type Baggage struct {
	ClusterID    string
	Namespace    string
	WorkloadName string
	Revision     string
}

// ParseBaggage parses one or more baggage header values (a request can
// repeat the header) into a Baggage, ignoring keys it doesn't recognize
// and any per-member properties.
func ParseBaggage(values []string) Baggage {
	var b Baggage
	for _, v := range values {
		for _, member := range strings.Split(v, ",") {
			member = strings.TrimSpace(member)
			if member == "" {
				continue
			}
			// drop any ;property=value suffix on this member
			if i := strings.Index(member, ";"); i >= 0 {
				member = member[:i]
			}
			kv := strings.SplitN(member, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			val := strings.TrimSpace(kv[1])
			switch key {
			case "cluster_id":
				b.ClusterID = val
			case "namespace":
				b.Namespace = val
			case "workload_name":
				b.WorkloadName = val
			case "revision":
				b.Revision = val
			}
		}
	}
	return b
}

// ForwardedFor extracts the for= parameter from a Forwarded header
// value, trusted only when the peer is a waypoint (spec.md §4.3 step 7).
func ForwardedFor(header string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "for=") {
			continue
		}
		val := strings.TrimPrefix(part, part[:4])
		val = strings.Trim(val, `"`)
		val = strings.TrimPrefix(val, "[")
		val = strings.TrimSuffix(val, "]")
		if val != "" {
			return val, true
		}
	}
	return "", false
}
