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

package outbound

import "errors"

// errSourceUnknown is returned by BuildRequest when the intercepted
// flow's own source IP has no workload record; this should not happen
// for traffic genuinely redirected from a local workload, so callers
// treat it as a bug or a stale discovery cache rather than a routing
// outcome.
var errSourceUnknown = errors.New("outbound: source workload not found for downstream address")
