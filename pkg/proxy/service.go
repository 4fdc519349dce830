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
	"istio.io/ztunnel/pkg/connection"
	"istio.io/ztunnel/pkg/state"
)

// GuessInboundService picks the metrics "destination service" label for
// an inbound flow: the service among upstreamServices whose port map
// targets conn.Dst's port. When no service claims that port it returns
// the first of upstreamServices, and when there are no services at all,
// the workload's namespace/name.
func GuessInboundService(conn connection.Connection, upstreamServices []state.Service, upstream *state.Workload) string {
	dstPort := conn.Dst.Port()
	for _, svc := range upstreamServices {
		for _, target := range svc.Port {
			if target == dstPort {
				return svc.Namespace + "/" + svc.Hostname
			}
		}
	}
	if len(upstreamServices) > 0 {
		svc := upstreamServices[0]
		return svc.Namespace + "/" + svc.Hostname
	}
	if upstream != nil {
		return upstream.Namespace + "/" + upstream.Name
	}
	return ""
}
