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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTraceParentRoundTrips(t *testing.T) {
	const header = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
	tp, err := ParseTraceParent(header)
	require.NoError(t, err)
	assert.Equal(t, header, tp.String())
}

func TestParseTraceParentRejectsMalformedInput(t *testing.T) {
	for _, bad := range []string{
		"",
		"00-deadbeef-00f067aa0ba902b7-01",
		"zz-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	} {
		_, err := ParseTraceParent(bad)
		assert.Error(t, err, bad)
	}
}

func TestExtractTraceParentFallsBackToFreshRoot(t *testing.T) {
	tp := ExtractTraceParent("")
	assert.NotZero(t, tp.TraceID)

	tp2 := ExtractTraceParent("garbage")
	assert.NotZero(t, tp2.TraceID)
	assert.NotEqual(t, tp.TraceID, tp2.TraceID)
}

func TestParseBaggage(t *testing.T) {
	b := ParseBaggage([]string{"cluster_id=Kubernetes,namespace=ns1;prop=x,workload_name=wl", "revision=v2"})
	assert.Equal(t, Baggage{
		ClusterID:    "Kubernetes",
		Namespace:    "ns1",
		WorkloadName: "wl",
		Revision:     "v2",
	}, b)
}

func TestForwardedFor(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{`for=192.0.2.1`, "192.0.2.1", true},
		{`for="[2001:db8::1]"`, "2001:db8::1", true},
		{`proto=https;for=192.0.2.60`, "192.0.2.60", true},
		{`proto=https`, "", false},
	}
	for _, c := range cases {
		got, ok := ForwardedFor(c.header)
		assert.Equal(t, c.ok, ok, c.header)
		assert.Equal(t, c.want, got, c.header)
	}
}
