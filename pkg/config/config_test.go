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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	d := Default()
	assert.True(t, d.TLS)
	assert.Equal(t, "[::]:15008", d.InboundAddr)
	assert.Equal(t, "[::]:15006", d.InboundPlaintextAddr)
	assert.Equal(t, "[::]:15001", d.OutboundAddr)
	assert.Equal(t, "default", d.Network)
	assert.False(t, d.DisablePooling)
}

func TestFromEnvMatchesDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, Default(), FromEnv())
}
